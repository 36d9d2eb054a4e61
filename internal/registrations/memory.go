package registrations

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/passid"
)

// Memory is an in-process Store without transactions. Allocation uses a
// versioned compare-and-swap on the counter and retries lost races under its
// RetryPolicy.
type Memory struct {
	mu      sync.Mutex
	regs    map[string]models.Registration
	byEmail map[string]string
	counter *models.Counter
	version uint64
	policy  RetryPolicy
	now     func() time.Time

	// beforeCommit, when set, runs between reading the counter and the
	// compare-and-swap. Tests use it to interleave allocators.
	beforeCommit func()
}

// NewMemory creates an empty in-memory store with no counter.
func NewMemory(policy RetryPolicy) *Memory {
	return &Memory{
		regs:    make(map[string]models.Registration),
		byEmail: make(map[string]string),
		policy:  policy,
		now:     time.Now,
	}
}

// BootstrapCounter creates the counter if it does not exist yet.
func (m *Memory) BootstrapCounter(_ context.Context, prefix string, nextSerial int) error {
	if nextSerial < 1 {
		return fmt.Errorf("bootstrap counter: next serial must be >= 1, got %d", nextSerial)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counter == nil {
		m.counter = &models.Counter{ID: CounterID, Prefix: prefix, NextSerial: nextSerial, UpdatedAt: m.now()}
		m.version++
	}
	return nil
}

// Counter returns a copy of the counter.
func (m *Memory) Counter() (models.Counter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counter == nil {
		return models.Counter{}, false
	}
	return *m.counter, true
}

// Put stores a registration as-is, bypassing the allocator. It exists for
// seeding and for reproducing a desynchronized counter.
func (m *Memory) Put(reg models.Registration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.regs[reg.RegID] = reg
	m.byEmail[reg.Email] = reg.RegID
}

// All returns every registration ordered by serial.
func (m *Memory) All() []models.Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Registration, 0, len(m.regs))
	for _, r := range m.regs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

func (m *Memory) FindByEmail(ctx context.Context, email string) (*models.Registration, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, false, nil
	}
	reg := m.regs[id]
	return &reg, true, nil
}

func (m *Memory) GetByRegID(ctx context.Context, regID string) (*models.Registration, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[regID]
	if !ok {
		return nil, false, nil
	}
	return &reg, true, nil
}

func (m *Memory) Exists(ctx context.Context, regID string) (bool, error) {
	_, ok, err := m.GetByRegID(ctx, regID)
	return ok, err
}

func (m *Memory) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs), nil
}

func (m *Memory) Delete(ctx context.Context, regID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, unavailable(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	reg, ok := m.regs[regID]
	if !ok {
		return false, nil
	}
	delete(m.regs, regID)
	if m.byEmail[reg.Email] == regID {
		delete(m.byEmail, reg.Email)
	}
	return true, nil
}

func (m *Memory) Allocate(ctx context.Context, draft models.Registration) (*models.Registration, error) {
	var out *models.Registration
	err := retryAllocation(ctx, m.policy, func() error {
		reg, err := m.allocateOnce(ctx, draft)
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

func (m *Memory) allocateOnce(ctx context.Context, draft models.Registration) (*models.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, backoff.Permanent(unavailable(err))
	}

	m.mu.Lock()
	if m.counter == nil {
		m.mu.Unlock()
		return nil, backoff.Permanent(ErrCounterMissing)
	}
	snapshot := *m.counter
	version := m.version
	m.mu.Unlock()

	reg := draft
	reg.Serial = snapshot.NextSerial
	reg.RegID = passid.FormatRegID(snapshot.Prefix, snapshot.NextSerial)
	reg.QRText = passid.DeriveQRText(reg.RegID, reg.Email)

	if m.beforeCommit != nil {
		m.beforeCommit()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != version {
		return nil, fmt.Errorf("%w: counter moved from version %d to %d", ErrAllocationConflict, version, m.version)
	}
	if _, taken := m.regs[reg.RegID]; taken {
		return nil, backoff.Permanent(fmt.Errorf("%w: %s already issued", ErrSerialCollision, reg.RegID))
	}
	if _, dup := m.byEmail[reg.Email]; dup {
		return nil, backoff.Permanent(ErrDuplicateEmail)
	}
	reg.CreatedAt = m.now()
	m.regs[reg.RegID] = reg
	m.byEmail[reg.Email] = reg.RegID
	m.counter.NextSerial++
	m.counter.UpdatedAt = reg.CreatedAt
	m.version++
	return &reg, nil
}
