package automation

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/recurrence"
)

// Recover recomputes stale execution state after a restart. Occurrences
// missed during downtime are not replayed; each automation's
// next_execution simply moves to its next occurrence from now, and
// automations with nothing left are disabled.
func (s *Scheduler) Recover(ctx context.Context) error {
	automations, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading automations: %w", err)
	}

	now := s.clock.Now()
	recovered := 0

	for _, a := range automations {
		if !a.Enabled {
			continue
		}
		if a.NextExecution != nil && !a.NextExecution.Before(now) {
			continue
		}

		next := recurrence.NextExecution(a.Recurrence, now)
		// Occurrences at or before now were missed during downtime and
		// are not replayed.
		if next != nil && !next.After(now) {
			next = nil
		}

		if err := s.store.Reschedule(ctx, a.ID, next); err != nil {
			log.Error().
				Err(err).
				Str("automation_id", a.ID).
				Str("automation_name", a.Name).
				Msg("Failed to recover automation")
			continue
		}

		recovered++
		if next == nil {
			log.Info().
				Str("automation_id", a.ID).
				Str("automation_name", a.Name).
				Msg("Automation exhausted during downtime, disabled")
		} else {
			log.Info().
				Str("automation_id", a.ID).
				Str("automation_name", a.Name).
				Time("next_execution", *next).
				Msg("Automation rescheduled after downtime")
		}
	}

	log.Info().
		Int("total", len(automations)).
		Int("recovered", recovered).
		Msg("Automation recovery complete")

	return nil
}
