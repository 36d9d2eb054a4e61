package pass

import (
	"errors"

	"github.com/pz26/confpass/internal/identity"
	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/registrations"
)

// State is the visible pass state.
type State int

const (
	// StateEmpty means not registered, or nothing known yet.
	StateEmpty State = iota
	// StatePending shows a cached pass that the store has not confirmed.
	StatePending
	// StateConfirmed shows a pass the store vouched for.
	StateConfirmed
	// StateRevoked means the cached pass no longer exists remotely.
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StatePending:
		return "pending"
	case StateConfirmed:
		return "confirmed"
	case StateRevoked:
		return "revoked"
	}
	return "unknown"
}

// View is what observers render. Pass is set only in Pending and Confirmed.
type View struct {
	State State
	Pass  *models.Registration
	// Notice is a user-facing message attached to the transition.
	Notice string
	// Registering is true while a registration attempt runs; the register
	// control should be disabled meanwhile.
	Registering bool
	// Participants is the last known participant count, -1 when unknown.
	Participants int
}

func (v View) clone() View {
	if v.Pass != nil {
		p := *v.Pass
		v.Pass = &p
	}
	return v
}

// User-facing notices.
const (
	NoticeRevoked        = "Your registration was withdrawn by the organizers. You can register again."
	NoticeUnavailable    = "The registration service is unreachable right now. Try again in a moment."
	NoticeNotOpen        = "Registration is not open yet. Please contact the organizers."
	NoticeRetryLater     = "We could not issue your pass right now. Please try again in a moment."
	NoticeSignInNeeded   = "Sign-in was cancelled. Sign in to register."
	NoticeSessionExpired = "Your session has expired. Sign in again to continue."
	NoticeInFlight       = "A registration is already in progress."
	NoticeSignOut        = "You are signed out on this device, but the identity provider could not be reached."
	NoticeGeneric        = "Something went wrong. Please try again."
)

// Notice converts an operation error into the message shown to the user.
func Notice(err error) string {
	var ve *registrations.ValidationError
	var soe *identity.SignOutError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return "Please check the form: " + ve.Error() + "."
	case errors.Is(err, ErrRegistrationInFlight):
		return NoticeInFlight
	case errors.Is(err, identity.ErrAuthCancelled):
		return NoticeSignInNeeded
	case errors.Is(err, identity.ErrSessionExpired):
		return NoticeSessionExpired
	case errors.As(err, &soe):
		return NoticeSignOut
	case errors.Is(err, registrations.ErrCounterMissing):
		return NoticeNotOpen
	case errors.Is(err, registrations.ErrSerialCollision), errors.Is(err, registrations.ErrAllocationConflict):
		return NoticeRetryLater
	case errors.Is(err, registrations.ErrStoreUnavailable):
		return NoticeUnavailable
	}
	return NoticeGeneric
}
