// Package pass assembles the visible pass from the local cache, the signed-in
// identity and the authoritative registration store.
package pass

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pz26/confpass/internal/identity"
	"github.com/pz26/confpass/internal/models"
	"github.com/pz26/confpass/internal/passid"
	"github.com/pz26/confpass/internal/registrations"
)

// ErrRegistrationInFlight is returned by Register while another attempt on
// the same controller is still running.
var ErrRegistrationInFlight = errors.New("registration already in progress")

// countTimeout bounds the background participant count refresh.
const countTimeout = 5 * time.Second

// Cache is the local single-slot pass cache.
type Cache interface {
	Load() (*models.LocalPassRecord, bool)
	Save(reg models.Registration) error
	Clear() error
}

// Gate is the identity gate.
type Gate interface {
	EnsureSignedIn(ctx context.Context) (identity.Identity, error)
	Current() (identity.Identity, bool)
	Subscribe(fn identity.Listener) (cancel func())
	Invalidate(token string) bool
}

// Controller owns the current pass. Observers are called synchronously for
// every transition, in order, and must not call back into state-changing
// methods.
type Controller struct {
	svc    *registrations.Service
	store  registrations.Store
	cache  Cache
	gate   Gate
	logger *zap.Logger

	notifyMu sync.Mutex // serializes transitions with their notification

	mu        sync.Mutex
	view      View
	epoch     int // bumped on identity change; stale async results are dropped
	inFlight  bool
	observers map[int]func(View)
	nextObs   int

	unsubscribe func()
	background  sync.WaitGroup
	closeOnce   sync.Once
	done        chan struct{}
}

// NewController creates a controller and starts listening to identity
// changes on gate. Call Start to reconcile the cached pass.
func NewController(svc *registrations.Service, store registrations.Store, cache Cache, gate Gate, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		svc:       svc,
		store:     store,
		cache:     cache,
		gate:      gate,
		logger:    logger,
		view:      View{State: StateEmpty, Participants: -1},
		observers: make(map[int]func(View)),
		done:      make(chan struct{}),
	}
	c.unsubscribe = gate.Subscribe(c.handleIdentityChange)
	return c
}

// Close stops listening to the gate and waits for background work.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		close(c.done)
	})
	c.background.Wait()
}

// Wait blocks until background work started so far has finished.
func (c *Controller) Wait() { c.background.Wait() }

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view.clone()
}

// Subscribe registers fn for view transitions and returns a function that
// removes it.
func (c *Controller) Subscribe(fn func(View)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.observers, id)
	}
}

// Start reconciles the cached pass with the store. A cached pass is shown as
// Pending first, then confirmed or revoked. When the store is unavailable the
// Pending view stays as it is and Start returns nil.
func (c *Controller) Start(ctx context.Context) error {
	epoch := c.currentEpoch()
	id, signedIn := c.gate.Current()

	rec, cached := c.cache.Load()
	if cached && signedIn && !sameEmail(rec.Registration.Email, id.Email) {
		c.logger.Info("dropping cached pass of another identity", zap.String("reg_id", rec.Registration.RegID))
		c.clearCache()
		cached = false
	}

	if !cached {
		if signedIn {
			c.lookup(ctx, epoch, id)
		}
		c.refreshCount()
		return nil
	}

	cachedReg := rec.Registration
	c.transition(epoch, func(v *View) {
		v.State = StatePending
		v.Pass = &cachedReg
		v.Notice = ""
	})

	reg, found, err := c.store.GetByRegID(ctx, cachedReg.RegID)
	switch {
	case err != nil:
		c.logger.Warn("could not verify cached pass, keeping it", zap.String("reg_id", cachedReg.RegID), zap.Error(err))
		if signedIn && c.sessionExpired(err, id) {
			c.transition(epoch, func(v *View) { v.Notice = NoticeSessionExpired })
		}
	case !found || !sameEmail(reg.Email, cachedReg.Email):
		c.revoke(epoch, cachedReg.RegID)
	default:
		c.confirm(epoch, reg)
	}
	c.refreshCount()
	return nil
}

// Register validates fields, makes sure someone is signed in and runs the
// allocation for that identity. Only one attempt runs at a time.
func (c *Controller) Register(ctx context.Context, fields registrations.Fields) (*models.Registration, error) {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrRegistrationInFlight
	}
	c.inFlight = true
	c.mu.Unlock()
	c.transition(-1, func(v *View) { v.Registering = true })
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.transition(-1, func(v *View) { v.Registering = false })
	}()

	f, err := c.svc.Validate(fields)
	if err != nil {
		return nil, err
	}
	id, err := c.gate.EnsureSignedIn(ctx)
	if err != nil {
		return nil, err
	}

	epoch := c.currentEpoch()
	reg, created, err := c.svc.Register(ctx, f, id.UID, id.Email)
	if errors.Is(err, identity.ErrSessionExpired) {
		// One fresh sign-in, then a single retry. A second rejection is
		// returned as is.
		c.gate.Invalidate(id.Token)
		if id, err = c.gate.EnsureSignedIn(ctx); err != nil {
			return nil, err
		}
		epoch = c.currentEpoch()
		reg, created, err = c.svc.Register(ctx, f, id.UID, id.Email)
		if errors.Is(err, identity.ErrSessionExpired) {
			c.gate.Invalidate(id.Token)
		}
	}
	if err != nil {
		c.logger.Warn("registration failed", zap.Error(err), zap.String("uid", id.UID))
		return nil, err
	}
	if !c.confirm(epoch, reg) {
		// Identity changed while the allocation ran; the record stays valid
		// for the identity it was issued to.
		c.logger.Info("identity changed during registration", zap.String("reg_id", reg.RegID))
	}
	if created {
		c.refreshCount()
	}
	return reg, nil
}

// DismissNotice acknowledges a revocation notice: Revoked becomes Empty.
// Notices on other states are cleared as well.
func (c *Controller) DismissNotice() {
	c.transition(-1, func(v *View) {
		if v.State == StateRevoked {
			v.State = StateEmpty
			v.Pass = nil
		}
		v.Notice = ""
	})
}

func (c *Controller) handleIdentityChange(ctx context.Context, id identity.Identity, signedIn bool) {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()

	if !signedIn {
		c.clearCache()
		c.transition(epoch, func(v *View) {
			v.State = StateEmpty
			v.Pass = nil
			v.Notice = ""
		})
		return
	}
	c.lookup(ctx, epoch, id)
}

// lookup derives the registration status of id from the store.
func (c *Controller) lookup(ctx context.Context, epoch int, id identity.Identity) {
	rec, cached := c.cache.Load()
	ownCache := cached && sameEmail(rec.Registration.Email, id.Email)
	if cached && !ownCache {
		c.clearCache()
	}

	reg, found, err := c.svc.Lookup(ctx, id.Email)
	switch {
	case err != nil:
		c.logger.Warn("registration lookup failed", zap.String("uid", id.UID), zap.Error(err))
		notice := NoticeUnavailable
		if c.sessionExpired(err, id) {
			notice = NoticeSessionExpired
		}
		c.transition(epoch, func(v *View) {
			if ownCache {
				cachedReg := rec.Registration
				v.State = StatePending
				v.Pass = &cachedReg
			} else if v.Pass == nil || !sameEmail(v.Pass.Email, id.Email) {
				v.State = StateEmpty
				v.Pass = nil
			}
			v.Notice = notice
		})
	case found:
		c.confirm(epoch, reg)
	case ownCache:
		c.revoke(epoch, rec.Registration.RegID)
	default:
		c.transition(epoch, func(v *View) {
			v.State = StateEmpty
			v.Pass = nil
			v.Notice = ""
		})
	}
}

// sessionExpired drops id's session when err says the server rejected it.
// The cached pass stays; only the next store call needs a new sign-in.
func (c *Controller) sessionExpired(err error, id identity.Identity) bool {
	if !errors.Is(err, identity.ErrSessionExpired) {
		return false
	}
	c.gate.Invalidate(id.Token)
	return true
}

func (c *Controller) confirm(epoch int, reg *models.Registration) bool {
	confirmed := *reg
	applied := c.transition(epoch, func(v *View) {
		v.State = StateConfirmed
		v.Pass = &confirmed
		v.Notice = ""
	})
	if applied {
		if err := c.cache.Save(confirmed); err != nil {
			c.logger.Warn("pass cache write failed", zap.Error(err), zap.String("reg_id", confirmed.RegID))
		}
	}
	return applied
}

func (c *Controller) revoke(epoch int, regID string) {
	applied := c.transition(epoch, func(v *View) {
		v.State = StateRevoked
		v.Pass = nil
		v.Notice = NoticeRevoked
	})
	if applied {
		c.logger.Info("cached pass revoked", zap.String("reg_id", regID))
		c.clearCache()
	}
}

func (c *Controller) clearCache() {
	if err := c.cache.Clear(); err != nil {
		c.logger.Warn("pass cache clear failed", zap.Error(err))
	}
}

// refreshCount updates the participant count in the background. Failures
// leave the last known count in place.
func (c *Controller) refreshCount() {
	select {
	case <-c.done:
		return
	default:
	}
	c.background.Add(1)
	go func() {
		defer c.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), countTimeout)
		defer cancel()
		n, err := c.store.Count(ctx)
		if err != nil {
			c.logger.Debug("participant count refresh failed", zap.Error(err))
			return
		}
		c.transition(-1, func(v *View) { v.Participants = n })
	}()
}

func (c *Controller) currentEpoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// transition applies fn to the view and notifies observers. epoch -1 applies
// unconditionally; otherwise fn only runs if no identity change happened
// since epoch was read.
func (c *Controller) transition(epoch int, fn func(v *View)) bool {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if epoch >= 0 && epoch != c.epoch {
		c.mu.Unlock()
		return false
	}
	before := c.view.clone()
	fn(&c.view)
	after := c.view.clone()
	observers := make([]func(View), 0, len(c.observers))
	for _, o := range c.observers {
		observers = append(observers, o)
	}
	c.mu.Unlock()

	if viewsEqual(before, after) {
		return true
	}
	for _, o := range observers {
		o(after.clone())
	}
	return true
}

func viewsEqual(a, b View) bool {
	if a.State != b.State || a.Notice != b.Notice || a.Registering != b.Registering || a.Participants != b.Participants {
		return false
	}
	if (a.Pass == nil) != (b.Pass == nil) {
		return false
	}
	return a.Pass == nil || *a.Pass == *b.Pass
}

func sameEmail(a, b string) bool {
	return passid.NormalizeEmail(a) == passid.NormalizeEmail(b)
}
