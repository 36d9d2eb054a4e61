package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/passid"
)

// EnsureAdmin creates the organizer account if it does not exist yet. An
// existing account is left as it is.
func EnsureAdmin(ctx context.Context, users UserStore, email, password string) (created bool, err error) {
	email = passid.NormalizeEmail(email)
	if email == "" || password == "" {
		return false, errors.New("admin email and password are required")
	}
	if _, err := users.GetByEmail(ctx, email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return false, fmt.Errorf("load admin: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}
	if _, err := users.Create(ctx, email, hash, "Organizer", models.RoleAdmin); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return false, nil
		}
		return false, fmt.Errorf("create admin: %w", err)
	}
	return true, nil
}
