// Package identity holds the client side of authentication: a Gate that
// keeps the current session and tells listeners when it changes.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrAuthCancelled reports that the user aborted sign-in or the provider
// refused it.
var ErrAuthCancelled = errors.New("sign-in cancelled")

// ErrSessionExpired reports that a server rejected the session's token.
// The session has to be dropped with Invalidate and signed in again.
var ErrSessionExpired = errors.New("session expired, sign in again")

// Identity is a verified (uid, email) pair plus the bearer token proving it.
type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
	Token string `json:"token"`
}

// SignOutError is returned when the provider call failed. The local session
// has been cleared regardless.
type SignOutError struct {
	Err error
}

func (e *SignOutError) Error() string { return "sign out: " + e.Err.Error() }

func (e *SignOutError) Unwrap() error { return e.Err }

// Provider is the external identity provider.
type Provider interface {
	SignIn(ctx context.Context) (Identity, error)
	SignOut(ctx context.Context, id Identity) error
}

// Listener is told about every identity change. signedIn is false after a
// sign-out, in which case id is the identity that just left.
type Listener func(ctx context.Context, id Identity, signedIn bool)

// Gate retains only the current session.
type Gate struct {
	provider    Provider
	sessionPath string
	logger      *zap.Logger

	signIn sync.Mutex // one interactive sign-in at a time

	mu        sync.Mutex
	current   *Identity
	listeners map[int]Listener
	nextID    int
}

// NewGate creates a gate and restores the session saved at sessionPath, if
// any. An empty sessionPath keeps the session in memory only.
func NewGate(provider Provider, sessionPath string, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{
		provider:    provider,
		sessionPath: sessionPath,
		logger:      logger,
		listeners:   make(map[int]Listener),
	}
	if sessionPath != "" {
		id, err := loadSession(sessionPath)
		switch {
		case err == nil:
			g.current = id
		case !errors.Is(err, errNoSession):
			logger.Warn("ignoring saved session", zap.String("path", sessionPath), zap.Error(err))
		}
	}
	return g
}

// Current returns the signed-in identity.
func (g *Gate) Current() (Identity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current == nil {
		return Identity{}, false
	}
	return *g.current, true
}

// Token returns the bearer token of the current session.
func (g *Gate) Token() (string, bool) {
	id, ok := g.Current()
	if !ok || id.Token == "" {
		return "", false
	}
	return id.Token, true
}

// EnsureSignedIn returns the current identity, running the provider's
// interactive sign-in when there is none. A failed or cancelled sign-in
// leaves the gate unchanged.
func (g *Gate) EnsureSignedIn(ctx context.Context) (Identity, error) {
	if id, ok := g.Current(); ok {
		return id, nil
	}

	g.signIn.Lock()
	defer g.signIn.Unlock()
	if id, ok := g.Current(); ok {
		return id, nil
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthCancelled, err)
	}

	id, err := g.provider.SignIn(ctx)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrAuthCancelled) {
			return Identity{}, fmt.Errorf("%w: %v", ErrAuthCancelled, err)
		}
		return Identity{}, err
	}
	if id.UID == "" || id.Email == "" {
		return Identity{}, fmt.Errorf("%w: provider returned an incomplete identity", ErrAuthCancelled)
	}

	if g.sessionPath != "" {
		if err := saveSession(g.sessionPath, id); err != nil {
			g.logger.Warn("session not persisted", zap.String("path", g.sessionPath), zap.Error(err))
		}
	}
	g.mu.Lock()
	g.current = &id
	g.mu.Unlock()

	g.logger.Info("signed in", zap.String("uid", id.UID))
	g.notify(ctx, id, true)
	return id, nil
}

// SignOut ends the session. Local state is cleared and listeners are told
// even when the provider call fails; that failure is returned as a
// *SignOutError. Signing out without a session is a no-op.
func (g *Gate) SignOut(ctx context.Context) error {
	g.mu.Lock()
	prev := g.current
	g.current = nil
	g.mu.Unlock()
	if prev == nil {
		return nil
	}

	providerErr := g.provider.SignOut(ctx, *prev)
	if g.sessionPath != "" {
		if err := removeSession(g.sessionPath); err != nil {
			g.logger.Warn("session file not removed", zap.String("path", g.sessionPath), zap.Error(err))
		}
	}
	g.logger.Info("signed out", zap.String("uid", prev.UID))
	g.notify(ctx, *prev, false)

	if providerErr != nil {
		return &SignOutError{Err: providerErr}
	}
	return nil
}

// Invalidate drops a session whose token a server rejected, so the next
// EnsureSignedIn prompts again. Unlike SignOut it does not call the provider
// and listeners are not told; the identity only changes on the next sign-in.
// A session whose token differs from token is left alone, since it was
// obtained after the rejected request.
func (g *Gate) Invalidate(token string) bool {
	g.mu.Lock()
	if g.current == nil || g.current.Token != token {
		g.mu.Unlock()
		return false
	}
	prev := *g.current
	g.current = nil
	g.mu.Unlock()

	if g.sessionPath != "" {
		if err := removeSession(g.sessionPath); err != nil {
			g.logger.Warn("session file not removed", zap.String("path", g.sessionPath), zap.Error(err))
		}
	}
	g.logger.Info("session expired", zap.String("uid", prev.UID))
	return true
}

// Subscribe registers fn for identity changes and returns a function that
// removes it.
func (g *Gate) Subscribe(fn Listener) (cancel func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.listeners, id)
	}
}

func (g *Gate) notify(ctx context.Context, id Identity, signedIn bool) {
	g.mu.Lock()
	fns := make([]Listener, 0, len(g.listeners))
	for _, fn := range g.listeners {
		fns = append(fns, fn)
	}
	g.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, id, signedIn)
	}
}
