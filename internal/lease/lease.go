// Package lease implements timed leases over rows that several workers
// compete for. A lease is either Free or Leased(holder, expiry); every
// transition is a conditional write in the Store, so leases survive process
// restarts and a worker that lost its lease cannot overwrite the new owner.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	apperrors "boxoffice/internal/errors"
	"boxoffice/internal/logger"
	"boxoffice/internal/metrics"
)

type State int

const (
	Free State = iota
	Leased
)

func (s State) String() string {
	switch s {
	case Free:
		return "free"
	case Leased:
		return "leased"
	}
	return "unknown"
}

// Lease is the stored value. The zero Lease is Free.
type Lease struct {
	Holder string
	Expiry time.Time
}

func (l Lease) StateAt(now time.Time) State {
	if l.Holder != "" && now.Before(l.Expiry) {
		return Leased
	}
	return Free
}

func (l Lease) Equal(o Lease) bool {
	return l.Holder == o.Holder && l.Expiry.Equal(o.Expiry)
}

// Store persists leases. Both methods report false, with a nil error, when
// the guard does not match.
type Store interface {
	// AcquireLease writes next iff the stored expiry is at or before now.
	AcquireLease(ctx context.Context, id uuid.UUID, next Lease, now time.Time) (bool, error)
	// SwapLease writes next iff the stored lease equals observed.
	SwapLease(ctx context.Context, id uuid.UUID, observed, next Lease) (bool, error)
}

type Manager struct {
	store  Store
	clock  clockwork.Clock
	holder string
}

// NewManager builds a manager acting as holder. An empty holder gets a random id.
func NewManager(store Store, clock clockwork.Clock, holder string) *Manager {
	if holder == "" {
		holder = uuid.NewString()
	}
	return &Manager{store: store, clock: clock, holder: holder}
}

func (m *Manager) Holder() string { return m.holder }

// Acquire claims the lease on id for ttl if nobody holds it.
func (m *Manager) Acquire(ctx context.Context, id uuid.UUID, ttl time.Duration) (Lease, error) {
	now := m.clock.Now()
	next := Lease{Holder: m.holder, Expiry: truncate(now.Add(ttl))}

	ok, err := m.store.AcquireLease(ctx, id, next, now)
	if err != nil {
		return Lease{}, fmt.Errorf("acquire lease %s: %w", id, err)
	}
	metrics.ObserveLease("acquire", ok)
	if !ok {
		return Lease{}, fmt.Errorf("lease %s is held: %w", id, apperrors.ErrConcurrency)
	}
	return next, nil
}

// Renew extends a lease the caller observed holding.
func (m *Manager) Renew(ctx context.Context, id uuid.UUID, observed Lease, ttl time.Duration) (Lease, error) {
	if observed.Holder != m.holder {
		metrics.ObserveLease("renew", false)
		return Lease{}, fmt.Errorf("lease %s not held by %s: %w", id, m.holder, apperrors.ErrConcurrency)
	}
	next := Lease{Holder: m.holder, Expiry: truncate(m.clock.Now().Add(ttl))}

	ok, err := m.store.SwapLease(ctx, id, observed, next)
	if err != nil {
		return Lease{}, fmt.Errorf("renew lease %s: %w", id, err)
	}
	metrics.ObserveLease("renew", ok)
	if !ok {
		return Lease{}, fmt.Errorf("lease %s was taken over: %w", id, apperrors.ErrConcurrency)
	}
	return next, nil
}

// Release frees a lease the caller observed holding.
func (m *Manager) Release(ctx context.Context, id uuid.UUID, observed Lease) error {
	ok, err := m.store.SwapLease(ctx, id, observed, Lease{})
	if err != nil {
		return fmt.Errorf("release lease %s: %w", id, err)
	}
	metrics.ObserveLease("release", ok)
	if !ok {
		return fmt.Errorf("lease %s was taken over: %w", id, apperrors.ErrConcurrency)
	}
	return nil
}

// Handle is a held lease passed to Run callbacks.
type Handle struct {
	m       *Manager
	id      uuid.UUID
	ttl     time.Duration
	current Lease
}

func (h *Handle) Lease() Lease { return h.current }

// Renew extends the held lease; after an error the lease must be considered lost.
func (h *Handle) Renew(ctx context.Context) error {
	next, err := h.m.Renew(ctx, h.id, h.current, h.ttl)
	if err != nil {
		return err
	}
	h.current = next
	return nil
}

// Run acquires the lease on id, calls fn and releases the lease. The
// acquire error is returned unchanged so callers can test for ErrConcurrency.
func (m *Manager) Run(ctx context.Context, id uuid.UUID, ttl time.Duration, fn func(ctx context.Context, h *Handle) error) error {
	l, err := m.Acquire(ctx, id, ttl)
	if err != nil {
		return err
	}

	h := &Handle{m: m, id: id, ttl: ttl, current: l}
	runErr := fn(ctx, h)

	if err := m.Release(ctx, id, h.current); err != nil {
		logger.WithContext(ctx).Warn("Failed to release lease", "lease_id", id, "holder", m.holder, "error", err)
	}
	return runErr
}

// PostgreSQL keeps microseconds; truncating keeps the equality guard exact.
func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
