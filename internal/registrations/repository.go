package registrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/passid"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	emailConstraint = "registrations_email_key"
)

const registrationColumns = `reg_id, email, full_name, phone, college, qr_text, uid, auth_provider, serial, created_at`

// Repository is the PostgreSQL-backed Store. Allocation runs in a
// SERIALIZABLE transaction that locks the counter row.
type Repository struct {
	pool   *pgxpool.Pool
	policy RetryPolicy
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool, policy RetryPolicy) *Repository {
	return &Repository{pool: pool, policy: policy}
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var reg models.Registration
	err := row.Scan(&reg.RegID, &reg.Email, &reg.FullName, &reg.Phone, &reg.College,
		&reg.QRText, &reg.UID, &reg.AuthProvider, &reg.Serial, &reg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// FindByEmail returns the registration for a normalized email. If the
// uniqueness constraint were ever violated the lowest serial wins.
func (r *Repository) FindByEmail(ctx context.Context, email string) (*models.Registration, bool, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE email = $1 ORDER BY serial LIMIT 1`
	reg, err := scanRegistration(r.pool.QueryRow(ctx, q, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	return reg, true, nil
}

// GetByRegID returns a registration by its regId.
func (r *Repository) GetByRegID(ctx context.Context, regID string) (*models.Registration, bool, error) {
	const q = `SELECT ` + registrationColumns + ` FROM registrations WHERE reg_id = $1`
	reg, err := scanRegistration(r.pool.QueryRow(ctx, q, regID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	return reg, true, nil
}

// Exists reports whether regID is stored.
func (r *Repository) Exists(ctx context.Context, regID string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM registrations WHERE reg_id = $1)`, regID).Scan(&ok)
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

// Count returns the total number of registrations.
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM registrations`).Scan(&n); err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Delete removes a registration. The counter is not rewound, so the regId is
// never issued again.
func (r *Repository) Delete(ctx context.Context, regID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM registrations WHERE reg_id = $1`, regID)
	if err != nil {
		return false, unavailable(err)
	}
	return tag.RowsAffected() > 0, nil
}

// BootstrapCounter creates the allocator counter if it does not exist yet.
func (r *Repository) BootstrapCounter(ctx context.Context, prefix string, nextSerial int) error {
	if nextSerial < 1 {
		return fmt.Errorf("bootstrap counter: next serial must be >= 1, got %d", nextSerial)
	}
	const q = `INSERT INTO counters (id, prefix, next_serial) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, CounterID, prefix, nextSerial); err != nil {
		return unavailable(err)
	}
	return nil
}

// GetCounter returns the allocator counter.
func (r *Repository) GetCounter(ctx context.Context) (*models.Counter, bool, error) {
	var c models.Counter
	err := r.pool.QueryRow(ctx, `SELECT id, prefix, next_serial, updated_at FROM counters WHERE id = $1`, CounterID).
		Scan(&c.ID, &c.Prefix, &c.NextSerial, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable(err)
	}
	return &c, true, nil
}

// Allocate issues the next regId and inserts draft under it. Serialization
// failures are retried under the repository's RetryPolicy.
func (r *Repository) Allocate(ctx context.Context, draft models.Registration) (*models.Registration, error) {
	var out *models.Registration
	err := retryAllocation(ctx, r.policy, func() error {
		reg, err := r.allocateOnce(ctx, draft)
		if err != nil {
			return err
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) allocateOnce(ctx context.Context, draft models.Registration) (*models.Registration, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, backoff.Permanent(unavailable(fmt.Errorf("begin tx: %w", err)))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prefix string
	var next int
	err = tx.QueryRow(ctx, `SELECT prefix, next_serial FROM counters WHERE id = $1 FOR UPDATE`, CounterID).Scan(&prefix, &next)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, backoff.Permanent(ErrCounterMissing)
	}
	if err != nil {
		return nil, classify("read counter", err)
	}

	reg := draft
	reg.Serial = next
	reg.RegID = passid.FormatRegID(prefix, next)
	reg.QRText = passid.DeriveQRText(reg.RegID, reg.Email)

	var taken bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM registrations WHERE reg_id = $1)`, reg.RegID).Scan(&taken); err != nil {
		return nil, classify("check reg_id", err)
	}
	if taken {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s already issued", ErrSerialCollision, reg.RegID))
	}

	const insert = `INSERT INTO registrations (reg_id, email, full_name, phone, college, qr_text, uid, auth_provider, serial)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	err = tx.QueryRow(ctx, insert, reg.RegID, reg.Email, reg.FullName, reg.Phone, reg.College,
		reg.QRText, reg.UID, reg.AuthProvider, reg.Serial).Scan(&reg.CreatedAt)
	if err != nil {
		return nil, classify("insert registration", err)
	}

	tag, err := tx.Exec(ctx, `UPDATE counters SET next_serial = next_serial + 1, updated_at = NOW() WHERE id = $1`, CounterID)
	if err != nil {
		return nil, classify("advance counter", err)
	}
	if tag.RowsAffected() != 1 {
		return nil, backoff.Permanent(ErrCounterMissing)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classify("commit", err)
	}
	return &reg, nil
}

// classify sorts a transaction error into retryable (lost race) or permanent.
func classify(step string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%w: %s: %w", ErrAllocationConflict, step, err)
		case pgUniqueViolation:
			if pgErr.ConstraintName == emailConstraint {
				return backoff.Permanent(ErrDuplicateEmail)
			}
			return backoff.Permanent(fmt.Errorf("%w: %s: %w", ErrSerialCollision, step, err))
		}
	}
	return backoff.Permanent(unavailable(fmt.Errorf("%s: %w", step, err)))
}
