package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/clock"
	"github.com/patchwell/courier/internal/metrics"
	"github.com/patchwell/courier/internal/recurrence"
)

// FireFunc handles a due automation, typically by handing its messages
// to the dispatch queue.
type FireFunc func(ctx context.Context, a *Automation) error

// Config holds configuration for the Scheduler.
type Config struct {
	// PollInterval is how often to poll for due automations
	// (default: 1 second).
	PollInterval time.Duration

	// BatchSize is the maximum automations fetched per poll
	// (default: 100).
	BatchSize int

	// Clock supplies the current instant (default: system clock).
	Clock clock.Clock
}

// Scheduler polls for due automations and fires them. Firing and
// advancing next_execution are decoupled: a firing failure is logged
// but the schedule still advances, so a broken automation fires once
// per occurrence instead of once per poll.
type Scheduler struct {
	store  *Store
	fire   FireFunc
	clock  clock.Clock
	poll   time.Duration
	batch  int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new automation scheduler.
func NewScheduler(store *Store, fire FireFunc, cfg Config) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:  store,
		fire:   fire,
		clock:  cfg.Clock,
		poll:   cfg.PollInterval,
		batch:  cfg.BatchSize,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins background polling.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.pollLoop(s.ctx)

	log.Info().
		Dur("poll_interval", s.poll).
		Int("batch_size", s.batch).
		Msg("Automation scheduler started")
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Info().Msg("Automation scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessDue(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to process due automations")
			}
		}
	}
}

// ProcessDue fires automations that are due and advances their
// next_execution. An automation whose recurrence yields no further
// occurrence is disabled.
func (s *Scheduler) ProcessDue(ctx context.Context) error {
	now := s.clock.Now()

	due, err := s.store.GetDue(ctx, now, s.batch)
	if err != nil {
		return fmt.Errorf("getting due automations: %w", err)
	}

	for _, a := range due {
		if err := s.processAutomation(ctx, a, now); err != nil {
			log.Error().
				Err(err).
				Str("automation_id", a.ID).
				Str("automation_name", a.Name).
				Msg("Failed to process automation")
		}
	}

	return nil
}

func (s *Scheduler) processAutomation(ctx context.Context, a *Automation, now time.Time) error {
	if s.fire != nil {
		if err := s.fire(ctx, a); err != nil {
			log.Error().
				Err(err).
				Str("automation_id", a.ID).
				Str("automation_name", a.Name).
				Msg("Automation firing failed")
		}
	}

	metrics.AutomationFired()

	next := recurrence.NextExecution(a.Recurrence, now)
	// A recurrence that cannot produce a future occurrence is
	// exhausted; without this a one-shot would re-fire every poll.
	if next != nil && !next.After(now) {
		next = nil
	}
	if next == nil {
		log.Debug().
			Str("automation_id", a.ID).
			Str("automation_name", a.Name).
			Msg("Recurrence exhausted, disabling automation")
	} else {
		log.Debug().
			Str("automation_id", a.ID).
			Str("automation_name", a.Name).
			Time("next_execution", *next).
			Msg("Automation fired")
	}

	if err := s.store.UpdateNextExecution(ctx, a.ID, next, now); err != nil {
		return fmt.Errorf("updating next_execution: %w", err)
	}

	return nil
}
