// Package ratelimit tracks per-tenant outbound capacity over a fixed
// 60 second window, with reservation and rollback so a failed send
// does not permanently consume capacity.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patchwell/courier/internal/clock"
	"github.com/patchwell/courier/internal/metrics"
)

// Window is the fixed throttle window length.
const Window = time.Minute

// Status describes a tenant's current throttle window for external
// inspection.
type Status struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	ResetTime time.Time `json:"reset_time"`
	CanSend   bool      `json:"can_send"`
}

// Config holds limiter settings.
type Config struct {
	// DefaultLimitPerMinute applies to tenants without an override.
	DefaultLimitPerMinute int

	// PollInterval is the backoff between capacity polls in
	// WaitForCapacity (default: 1 second).
	PollInterval time.Duration

	// Clock supplies the current instant (default: system clock).
	Clock clock.Clock

	// Overrides supplies per-tenant limits (optional).
	Overrides *Overrides
}

// Limiter is a per-tenant fixed-window capacity tracker. The
// check-and-increment in TryAcquire runs under a single mutex hold
// with no I/O, so two concurrent callers for the same tenant can
// never both observe the last free slot.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window

	defaultLimit int
	poll         time.Duration
	clock        clock.Clock
	overrides    *Overrides

	cleanup *time.Ticker
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type window struct {
	mu    sync.Mutex
	start time.Time
	count int
}

// New creates a limiter with the given configuration.
func New(cfg Config) *Limiter {
	if cfg.DefaultLimitPerMinute < 1 {
		cfg.DefaultLimitPerMinute = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	l := &Limiter{
		windows:      make(map[string]*window),
		defaultLimit: cfg.DefaultLimitPerMinute,
		poll:         cfg.PollInterval,
		clock:        cfg.Clock,
		overrides:    cfg.Overrides,
		cleanup:      time.NewTicker(Window * 2),
		stopCh:       make(chan struct{}),
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.cleanupLoop()
	}()

	return l
}

// LimitFor returns the effective per-minute limit for a tenant.
func (l *Limiter) LimitFor(tenantID string) int {
	if l.overrides != nil {
		if limit, ok := l.overrides.Limit(tenantID); ok {
			return limit
		}
	}
	return l.defaultLimit
}

// TryAcquire reserves one unit of capacity for the tenant. It returns
// false when the current window is full.
func (l *Limiter) TryAcquire(tenantID string) bool {
	return l.TryAcquireWithLimit(tenantID, l.LimitFor(tenantID))
}

// TryAcquireWithLimit reserves capacity against the tenant's shared
// window counter, but judged against an explicit limit. Bulk campaign
// runs use this to apply their effective rate (which may exceed the
// tenant's ad-hoc limit) while still sharing the same counters.
func (l *Limiter) TryAcquireWithLimit(tenantID string, limit int) bool {
	w := l.window(tenantID)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clock.Now()
	if !now.Before(w.start.Add(Window)) {
		w.start = now
		w.count = 0
	}

	if w.count < limit {
		w.count++
		return true
	}

	metrics.RateLimitDenied(tenantID)
	return false
}

// Release rolls back a reservation after a failed send. The count
// never goes below zero.
func (l *Limiter) Release(tenantID string) {
	w := l.window(tenantID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count > 0 {
		w.count--
	}
}

// WaitForCapacity blocks until a reservation succeeds, polling at the
// configured interval. It returns ctx.Err() when the context is
// cancelled during the wait, without holding a reservation.
func (l *Limiter) WaitForCapacity(ctx context.Context, tenantID string) error {
	return l.WaitForCapacityWithLimit(ctx, tenantID, l.LimitFor(tenantID))
}

// WaitForCapacityWithLimit is WaitForCapacity judged against an
// explicit limit.
func (l *Limiter) WaitForCapacityWithLimit(ctx context.Context, tenantID string, limit int) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.TryAcquireWithLimit(tenantID, limit) {
			return nil
		}

		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Status reports the tenant's current window for administrative
// visibility.
func (l *Limiter) Status(tenantID string) Status {
	w := l.window(tenantID)
	limit := l.LimitFor(tenantID)

	w.mu.Lock()
	defer w.mu.Unlock()

	now := l.clock.Now()
	used := w.count
	reset := w.start.Add(Window)
	if !now.Before(reset) {
		used = 0
		reset = now
	}

	return Status{
		Used:      used,
		Limit:     limit,
		ResetTime: reset,
		CanSend:   used < limit,
	}
}

// window returns the tenant's window, creating it on first use.
func (l *Limiter) window(tenantID string) *window {
	l.mu.RLock()
	w, exists := l.windows[tenantID]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		// Double-check after acquiring write lock
		w, exists = l.windows[tenantID]
		if !exists {
			w = &window{start: l.clock.Now().Add(-Window)}
			l.windows[tenantID] = w
		}
		l.mu.Unlock()
	}

	return w
}

func (l *Limiter) cleanupLoop() {
	for {
		select {
		case <-l.cleanup.C:
			l.mu.Lock()
			now := l.clock.Now()
			for tenantID, w := range l.windows {
				w.mu.Lock()
				if now.Sub(w.start) > Window*2 {
					delete(l.windows, tenantID)
				}
				w.mu.Unlock()
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *Limiter) Stop() {
	close(l.stopCh)
	l.cleanup.Stop()
	l.wg.Wait()
}
