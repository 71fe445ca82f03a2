package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/patchwell/courier/internal/clock"
	"github.com/patchwell/courier/internal/metrics"
	"github.com/patchwell/courier/internal/ratelimit"
)

// Checkpointer persists bulk-run progress. RunStore is the production
// implementation.
type Checkpointer interface {
	Checkpoint(ctx context.Context, runID string, lastSentIndex, totalSent, totalFailed int) error
	SetStatus(ctx context.Context, runID string, status RunStatus) error
}

// RunnerConfig holds settings for the bulk campaign runner.
type RunnerConfig struct {
	// CampaignFloorPerMinute is the minimum effective rate for bulk
	// runs, so a low ad-hoc tenant limit does not cripple large sends
	// (default: 60).
	CampaignFloorPerMinute int

	// CheckpointInterval and CheckpointEvery control checkpoint
	// cadence: whichever fires first, plus always on the final
	// recipient (defaults: 5 seconds, every 10th).
	CheckpointInterval time.Duration
	CheckpointEvery    int

	// SendTimeout bounds a single provider call once it has started;
	// cancellation never interrupts an in-flight send (default: 30
	// seconds).
	SendTimeout time.Duration

	// FromIdentity is the sender identity for the campaign's messages.
	FromIdentity string

	// Clock supplies the current instant (default: system clock).
	Clock clock.Clock
}

// Runner drives bulk campaign sends: one recipient at a time, paced to
// the effective rate, sharing the tenant's rate-limit window with the
// ad-hoc path, and checkpointing progress so an interrupted run can
// resume from where it stopped.
type Runner struct {
	limiter  *ratelimit.Limiter
	provider Provider
	tracker  Tracker
	runs     Checkpointer
	cfg      RunnerConfig
	clock    clock.Clock
}

// NewRunner creates a bulk campaign runner.
func NewRunner(limiter *ratelimit.Limiter, provider Provider, tracker Tracker, runs Checkpointer, cfg RunnerConfig) *Runner {
	if cfg.CampaignFloorPerMinute < 1 {
		cfg.CampaignFloorPerMinute = 60
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Second
	}
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = 10
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.System{}
	}

	return &Runner{
		limiter:  limiter,
		provider: provider,
		tracker:  tracker,
		runs:     runs,
		cfg:      cfg,
		clock:    clk,
	}
}

// EffectiveLimit is the per-minute rate a bulk run sends at: the
// tenant's limit raised to the campaign floor.
func (r *Runner) EffectiveLimit(tenantID string) int {
	limit := r.limiter.LimitFor(tenantID)
	if limit < r.cfg.CampaignFloorPerMinute {
		return r.cfg.CampaignFloorPerMinute
	}
	return limit
}

// Run sends the campaign's recipients starting at run.LastSentIndex.
// Recipients below that index are assumed already sent and are not
// re-verified. Consecutive sends are spaced a fixed Window/effective
// apart, even when the window has spare capacity, so a fresh window
// never absorbs a burst. Cancellation via ctx is observed before each
// send, during the pacing delay, and while waiting for capacity; the
// recipient whose send already started is always carried to
// completion. A cancelled run checkpoints its position, is marked
// cancelled, and can be resumed by calling Run again with a fresh
// context.
func (r *Runner) Run(ctx context.Context, run *CampaignRun, recipients []Recipient) (Summary, error) {
	effective := r.EffectiveLimit(run.TenantID)
	pace := ratelimit.Window / time.Duration(effective)

	totalSent := run.TotalSent
	totalFailed := run.TotalFailed
	start := run.LastSentIndex
	lastCheckpoint := r.clock.Now()

	log.Info().
		Str("run_id", run.ID).
		Str("campaign_id", run.CampaignID).
		Str("tenant_id", run.TenantID).
		Int("recipients", len(recipients)).
		Int("start_index", start).
		Int("effective_limit", effective).
		Msg("Bulk campaign run started")

	for i := start; i < len(recipients); i++ {
		// Cancellation point: the inter-message delay before every send
		// after the first.
		if i > start {
			if err := r.clock.Sleep(ctx, pace); err != nil {
				return r.cancelled(run, i, totalSent, totalFailed)
			}
		}

		// Cancellation point: before the send for recipient i begins.
		if ctx.Err() != nil {
			return r.cancelled(run, i, totalSent, totalFailed)
		}

		// Cancellation point: while suspended on tenant capacity. A
		// successful return holds a reservation for this send.
		if err := r.limiter.WaitForCapacityWithLimit(ctx, run.TenantID, effective); err != nil {
			return r.cancelled(run, i, totalSent, totalFailed)
		}

		recipient := recipients[i]
		from := r.cfg.FromIdentity

		// The send itself is detached from run cancellation; only its
		// own timeout can stop it.
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.SendTimeout)
		result, err := r.provider.Send(sendCtx, recipient.To, recipient.Message, from)
		cancel()

		if err != nil {
			r.limiter.Release(run.TenantID)
			totalFailed++
			metrics.SendRecorded(run.TenantID, "bulk", string(AttemptFailed))
			r.record(&Attempt{
				TenantID:   run.TenantID,
				CampaignID: run.CampaignID,
				Recipient:  recipient.To,
				Status:     AttemptFailed,
				Error:      err.Error(),
				Timestamp:  r.clock.Now(),
			})
			log.Error().
				Err(err).
				Str("run_id", run.ID).
				Str("to", recipient.To).
				Int("index", i).
				Msg("Bulk send failed")
		} else {
			totalSent++
			metrics.SendRecorded(run.TenantID, "bulk", string(AttemptSent))
			r.record(&Attempt{
				TenantID:          run.TenantID,
				CampaignID:        run.CampaignID,
				Recipient:         recipient.To,
				Status:            AttemptSent,
				ProviderMessageID: result.ProviderMessageID,
				Timestamp:         r.clock.Now(),
			})
		}

		processed := i - start + 1
		final := i == len(recipients)-1
		now := r.clock.Now()

		if final || processed%r.cfg.CheckpointEvery == 0 || now.Sub(lastCheckpoint) >= r.cfg.CheckpointInterval {
			r.checkpoint(run, i+1, totalSent, totalFailed)
			lastCheckpoint = now
		}
	}

	if err := r.runs.SetStatus(context.Background(), run.ID, RunStatusCompleted); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to mark campaign run completed")
	}

	summary := Summary{
		TotalSent:     totalSent,
		TotalFailed:   totalFailed,
		LastSentIndex: len(recipients),
	}

	log.Info().
		Str("run_id", run.ID).
		Int("total_sent", summary.TotalSent).
		Int("total_errors", summary.TotalFailed).
		Msg("Bulk campaign run completed")

	return summary, nil
}

// cancelled records the stopping point and marks the run cancelled.
// index is the first recipient that was NOT sent.
func (r *Runner) cancelled(run *CampaignRun, index, totalSent, totalFailed int) (Summary, error) {
	r.checkpoint(run, index, totalSent, totalFailed)

	if err := r.runs.SetStatus(context.Background(), run.ID, RunStatusCancelled); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to mark campaign run cancelled")
	}

	log.Info().
		Str("run_id", run.ID).
		Int("last_sent_index", index).
		Int("total_sent", totalSent).
		Msg("Bulk campaign run cancelled")

	return Summary{
		TotalSent:     totalSent,
		TotalFailed:   totalFailed,
		WasCancelled:  true,
		LastSentIndex: index,
	}, nil
}

// checkpoint persists progress. A failed write is logged and the run
// continues; the worst case on crash is a replay from the previous
// checkpoint.
func (r *Runner) checkpoint(run *CampaignRun, lastSentIndex, totalSent, totalFailed int) {
	if err := r.runs.Checkpoint(context.Background(), run.ID, lastSentIndex, totalSent, totalFailed); err != nil {
		log.Error().
			Err(err).
			Str("run_id", run.ID).
			Int("last_sent_index", lastSentIndex).
			Msg("Failed to checkpoint campaign run")
		return
	}

	run.LastSentIndex = lastSentIndex
	run.TotalSent = totalSent
	run.TotalFailed = totalFailed
	metrics.CheckpointWritten()
}

func (r *Runner) record(attempt *Attempt) {
	if r.tracker == nil {
		return
	}
	if err := r.tracker.Record(context.Background(), attempt); err != nil {
		log.Error().Err(err).Str("recipient", attempt.Recipient).Msg("Failed to record send attempt")
	}
}
