package registrations

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pz26/confpass/internal/models"
)

// CounterID is the key of the singleton allocator counter.
const CounterID = "registrations"

// Store is the contract the registration flow needs from the backing
// document store. Absence is reported through the bool result; errors are
// always failures of the store itself.
type Store interface {
	// FindByEmail looks up the registration for a normalized email.
	FindByEmail(ctx context.Context, email string) (*models.Registration, bool, error)
	// GetByRegID returns the registration stored under regID.
	GetByRegID(ctx context.Context, regID string) (*models.Registration, bool, error)
	// Exists reports whether a registration is stored under regID.
	Exists(ctx context.Context, regID string) (bool, error)
	// Allocate reads the counter, issues the next regId and writes draft
	// under it while advancing the counter, all as one isolated unit.
	Allocate(ctx context.Context, draft models.Registration) (*models.Registration, error)
	// Count returns the number of registrations.
	Count(ctx context.Context) (int, error)
}

// AdminStore adds the out-of-band operations used by organizers.
type AdminStore interface {
	Store
	Delete(ctx context.Context, regID string) (bool, error)
	BootstrapCounter(ctx context.Context, prefix string, nextSerial int) error
}

// RetryPolicy bounds the exponential backoff used when an allocation loses a
// race against a concurrent allocator.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries five times starting at 25ms, doubling up to 400ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 25 * time.Millisecond,
		MaxInterval:     400 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	def := DefaultRetryPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxRetries)), ctx)
}

// retryAllocation runs op under the policy. op signals a lost race by
// returning an error wrapping ErrAllocationConflict; anything else should be
// wrapped in backoff.Permanent. A context that ends while waiting between
// attempts is reported as ErrStoreUnavailable.
func retryAllocation(ctx context.Context, p RetryPolicy, op func() error) error {
	err := backoff.RetryNotify(op, p.backOff(ctx), func(err error, wait time.Duration) {
		allocationRetries.Inc()
	})
	if err != nil && !errors.Is(err, ErrStoreUnavailable) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return unavailable(err)
	}
	return err
}
