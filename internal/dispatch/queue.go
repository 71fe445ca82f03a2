package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/clock"
	"github.com/patchwell/courier/internal/metrics"
	"github.com/patchwell/courier/internal/ratelimit"
)

// QueueConfig holds settings for the ad-hoc dispatch queue.
type QueueConfig struct {
	// Tick is how often deferred messages are re-attempted
	// (default: 10 seconds).
	Tick time.Duration

	// MaxAge is how long a deferred message may wait before it is
	// dropped without notification (default: 1 hour).
	MaxAge time.Duration

	// FromIdentity is the sender identity for messages that carry
	// none.
	FromIdentity string

	// Clock supplies the current instant (default: system clock).
	Clock clock.Clock
}

// Queue is the ad-hoc send path: messages either go out immediately
// under the tenant's rate limit or wait in an in-memory FIFO for the
// next tick. The queue is memory-resident only; a process restart
// drops it, and entries past MaxAge expire silently. Both are
// deliberate: this path is for low-volume traffic where a stale
// message is worse than a lost one.
type Queue struct {
	limiter  *ratelimit.Limiter
	provider Provider
	tracker  Tracker
	cfg      QueueConfig
	clock    clock.Clock

	mu      sync.Mutex
	entries []queueEntry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type queueEntry struct {
	msg        Message
	enqueuedAt time.Time
}

// NewQueue creates a new dispatch queue.
func NewQueue(limiter *ratelimit.Limiter, provider Provider, tracker Tracker, cfg QueueConfig) *Queue {
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Second
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = time.Hour
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		limiter:  limiter,
		provider: provider,
		tracker:  tracker,
		cfg:      cfg,
		clock:    clk,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins background processing of deferred messages.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.tickLoop(q.ctx)

	log.Info().
		Dur("tick", q.cfg.Tick).
		Dur("max_age", q.cfg.MaxAge).
		Msg("Dispatch queue started")
}

// Stop shuts down the background tick. Deferred messages are lost;
// that is this path's documented restart behavior.
func (q *Queue) Stop() {
	q.cancel()
	q.wg.Wait()
	log.Info().Int("dropped", q.Depth()).Msg("Dispatch queue stopped")
}

// Depth returns the number of currently deferred messages.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Send attempts an immediate delivery. When the tenant's window is
// full the message is deferred and queued=true is returned; the
// caller gets no further signal about its fate. A provider failure on
// the immediate path is surfaced synchronously and is not retried.
func (q *Queue) Send(ctx context.Context, msg Message) (queued bool, err error) {
	if msg.From == "" {
		msg.From = q.cfg.FromIdentity
	}

	if !q.limiter.TryAcquire(msg.TenantID) {
		q.enqueue(msg)
		return true, nil
	}

	if err := q.deliver(ctx, msg); err != nil {
		return false, err
	}
	return false, nil
}

// enqueue appends the message to the FIFO and records the queued
// attempt.
func (q *Queue) enqueue(msg Message) {
	q.mu.Lock()
	q.entries = append(q.entries, queueEntry{msg: msg, enqueuedAt: q.clock.Now()})
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.QueueDepth(depth)
	metrics.SendRecorded(msg.TenantID, "adhoc", string(AttemptQueued))

	q.record(&Attempt{
		TenantID:  msg.TenantID,
		Recipient: msg.To,
		Status:    AttemptQueued,
		Timestamp: q.clock.Now(),
	})

	log.Debug().
		Str("tenant_id", msg.TenantID).
		Str("to", msg.To).
		Int("depth", depth).
		Msg("Message deferred, tenant window full")
}

// deliver performs the provider call for a message whose capacity is
// already reserved, rolling the reservation back on failure.
func (q *Queue) deliver(ctx context.Context, msg Message) error {
	result, err := q.provider.Send(ctx, msg.To, msg.Body, msg.From)
	if err != nil {
		q.limiter.Release(msg.TenantID)
		metrics.SendRecorded(msg.TenantID, "adhoc", string(AttemptFailed))
		q.record(&Attempt{
			TenantID:  msg.TenantID,
			Recipient: msg.To,
			Status:    AttemptFailed,
			Error:     err.Error(),
			Timestamp: q.clock.Now(),
		})
		return err
	}

	metrics.SendRecorded(msg.TenantID, "adhoc", string(AttemptSent))
	q.record(&Attempt{
		TenantID:          msg.TenantID,
		Recipient:         msg.To,
		Status:            AttemptSent,
		ProviderMessageID: result.ProviderMessageID,
		Timestamp:         q.clock.Now(),
	})
	return nil
}

func (q *Queue) tickLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Drain(ctx)
		}
	}
}

// Drain scans the FIFO in arrival order, dropping expired entries and
// re-attempting those whose tenant currently has capacity. Fairness
// is only as strong as one tick's scanning order; there is no
// cross-tick prioritization.
func (q *Queue) Drain(ctx context.Context) {
	now := q.clock.Now()

	q.mu.Lock()
	var kept []queueEntry
	var due []queueEntry
	expired := 0

	for _, entry := range q.entries {
		if now.Sub(entry.enqueuedAt) > q.cfg.MaxAge {
			expired++
			continue
		}
		// Reserve while still under the queue lock so two entries
		// cannot claim the same slot.
		if q.limiter.TryAcquire(entry.msg.TenantID) {
			due = append(due, entry)
			continue
		}
		kept = append(kept, entry)
	}
	q.entries = kept
	depth := len(kept)
	q.mu.Unlock()

	if expired > 0 {
		metrics.QueueDropped(expired)
		log.Warn().Int("count", expired).Msg("Dropped expired messages from dispatch queue")
	}
	metrics.QueueDepth(depth)

	for _, entry := range due {
		if err := q.deliver(ctx, entry.msg); err != nil {
			// Deferred sends have no caller left to report to; the
			// failure is recorded and the message is not retried.
			log.Error().
				Err(err).
				Str("tenant_id", entry.msg.TenantID).
				Str("to", entry.msg.To).
				Msg("Deferred send failed")
		}
	}
}

func (q *Queue) record(attempt *Attempt) {
	if q.tracker == nil {
		return
	}
	if err := q.tracker.Record(context.Background(), attempt); err != nil {
		log.Error().Err(err).Str("recipient", attempt.Recipient).Msg("Failed to record send attempt")
	}
}
