package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchwell/courier/internal/database"
)

// ErrRunNotFound is returned when a campaign run does not exist.
var ErrRunNotFound = errors.New("campaign run not found")

// RunStore handles database operations for campaign runs.
type RunStore struct {
	db *database.DB
}

// NewRunStore creates a new campaign run store.
func NewRunStore(db *database.DB) *RunStore {
	return &RunStore{db: db}
}

// Create inserts a new campaign run.
func (s *RunStore) Create(ctx context.Context, run *CampaignRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.UpdatedAt = run.CreatedAt

	query := `
		INSERT INTO campaign_runs (id, campaign_id, tenant_id, template_ref, status, last_sent_index, total_sent, total_failed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.CampaignID,
		run.TenantID,
		run.TemplateRef,
		string(run.Status),
		run.LastSentIndex,
		run.TotalSent,
		run.TotalFailed,
		run.CreatedAt.UTC().Format(time.RFC3339),
		run.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting campaign run: %w", err)
	}

	return nil
}

// Get retrieves a campaign run by ID.
func (s *RunStore) Get(ctx context.Context, runID string) (*CampaignRun, error) {
	query := `
		SELECT id, campaign_id, tenant_id, template_ref, status, last_sent_index, total_sent, total_failed, created_at, updated_at
		FROM campaign_runs
		WHERE id = ?
	`

	run, err := s.scanRun(s.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("getting campaign run: %w", err)
	}

	return run, nil
}

// GetByCampaign retrieves the most recent run for a campaign.
func (s *RunStore) GetByCampaign(ctx context.Context, campaignID string) (*CampaignRun, error) {
	query := `
		SELECT id, campaign_id, tenant_id, template_ref, status, last_sent_index, total_sent, total_failed, created_at, updated_at
		FROM campaign_runs
		WHERE campaign_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	run, err := s.scanRun(s.db.QueryRowContext(ctx, query, campaignID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("getting campaign run: %w", err)
	}

	return run, nil
}

// Checkpoint persists bulk-run progress. Progress only ever moves
// forward; a stale write is rejected by the WHERE clause.
func (s *RunStore) Checkpoint(ctx context.Context, runID string, lastSentIndex, totalSent, totalFailed int) error {
	query := `
		UPDATE campaign_runs
		SET last_sent_index = ?, total_sent = ?, total_failed = ?, updated_at = ?
		WHERE id = ? AND last_sent_index <= ?
	`

	_, err := s.db.ExecContext(ctx, query,
		lastSentIndex,
		totalSent,
		totalFailed,
		time.Now().UTC().Format(time.RFC3339),
		runID,
		lastSentIndex,
	)
	if err != nil {
		return fmt.Errorf("checkpointing campaign run: %w", err)
	}

	return nil
}

// SetStatus updates the run's lifecycle state.
func (s *RunStore) SetStatus(ctx context.Context, runID string, status RunStatus) error {
	query := `
		UPDATE campaign_runs
		SET status = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		string(status),
		time.Now().UTC().Format(time.RFC3339),
		runID,
	)
	if err != nil {
		return fmt.Errorf("updating campaign run status: %w", err)
	}

	return nil
}

func (s *RunStore) scanRun(row *sql.Row) (*CampaignRun, error) {
	var run CampaignRun
	var status string
	var createdAt, updatedAt string

	err := row.Scan(
		&run.ID,
		&run.CampaignID,
		&run.TenantID,
		&run.TemplateRef,
		&status,
		&run.LastSentIndex,
		&run.TotalSent,
		&run.TotalFailed,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)

	createdAtTime, parseErr := time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	run.CreatedAt = createdAtTime

	updatedAtTime, parseErr := time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	run.UpdatedAt = updatedAtTime

	return &run, nil
}
