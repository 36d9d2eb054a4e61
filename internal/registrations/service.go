package registrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/passid"
)

// Fields are the user-editable parts of a registration. The email is never
// one of them: it always comes from the verified identity.
type Fields struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	College  string `json:"college"`
}

// Service runs the idempotent register-or-return flow on top of a Store.
type Service struct {
	store        Store
	authProvider string
	logger       *zap.Logger
}

// NewService creates a registration service. authProvider is stamped on every
// new registration as its provenance tag.
func NewService(store Store, authProvider string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, authProvider: authProvider, logger: logger}
}

// Validate trims and checks the submitted fields and returns them normalized.
func (s *Service) Validate(f Fields) (Fields, error) {
	out := Fields{
		FullName: strings.TrimSpace(f.FullName),
		Phone:    strings.TrimSpace(f.Phone),
		College:  strings.TrimSpace(f.College),
	}
	if out.FullName == "" {
		return out, &ValidationError{Field: "full_name", Reason: "is required"}
	}
	if out.Phone == "" {
		return out, &ValidationError{Field: "phone", Reason: "is required"}
	}
	if out.College == "" {
		return out, &ValidationError{Field: "college", Reason: "is required"}
	}
	phone, ok := passid.NormalizePhone(out.Phone)
	if !ok {
		return out, &ValidationError{Field: "phone", Reason: "must contain only digits and an optional leading +"}
	}
	out.Phone = phone
	return out, nil
}

// Lookup returns the registration for email, if any.
func (s *Service) Lookup(ctx context.Context, email string) (*models.Registration, bool, error) {
	email = passid.NormalizeEmail(email)
	if email == "" {
		return nil, false, nil
	}
	return s.store.FindByEmail(ctx, email)
}

// Register returns the registration for the identity, creating it through the
// allocator when none exists. created reports whether a new record was
// written. Repeated calls for the same email return the same record.
func (s *Service) Register(ctx context.Context, f Fields, uid, email string) (reg *models.Registration, created bool, err error) {
	f, err = s.Validate(f)
	if err != nil {
		return nil, false, err
	}
	email = passid.NormalizeEmail(email)
	if email == "" {
		return nil, false, &ValidationError{Field: "email", Reason: "is missing from the signed-in identity"}
	}
	if strings.TrimSpace(uid) == "" {
		return nil, false, &ValidationError{Field: "uid", Reason: "is missing from the signed-in identity"}
	}

	existing, found, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, false, fmt.Errorf("lookup registration: %w", err)
	}
	if found {
		registrationsReused.Inc()
		return existing, false, nil
	}

	draft := models.Registration{
		Email:        email,
		FullName:     f.FullName,
		Phone:        f.Phone,
		College:      f.College,
		UID:          uid,
		AuthProvider: s.authProvider,
	}
	start := time.Now()
	reg, err = s.store.Allocate(ctx, draft)
	allocationDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, ErrDuplicateEmail) {
		// A concurrent submission for the same identity committed first.
		existing, found, lerr := s.store.FindByEmail(ctx, email)
		if lerr != nil {
			return nil, false, fmt.Errorf("lookup registration after duplicate: %w", lerr)
		}
		if found {
			registrationsReused.Inc()
			return existing, false, nil
		}
		// Committed then revoked between the two reads.
		return nil, false, fmt.Errorf("%w: %w", ErrAllocationConflict, err)
	}
	if err != nil {
		allocationFailures.WithLabelValues(failureLabel(err)).Inc()
		s.logger.Error("allocate registration failed", zap.Error(err), zap.String("uid", uid))
		return nil, false, fmt.Errorf("allocate registration: %w", err)
	}

	registrationsCreated.Inc()
	s.logger.Info("registration created",
		zap.String("reg_id", reg.RegID),
		zap.Int("serial", reg.Serial),
		zap.String("uid", uid),
	)
	return reg, true, nil
}

func failureLabel(err error) string {
	if code := ErrorCode(err); code != "" {
		return code
	}
	return "unknown"
}
