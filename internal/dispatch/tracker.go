package dispatch

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchwell/courier/internal/database"
)

// Tracker records delivery outcomes. Records are immutable once
// written.
type Tracker interface {
	Record(ctx context.Context, attempt *Attempt) error
}

// AttemptStore is the SQLite-backed Tracker.
type AttemptStore struct {
	db *database.DB
}

// NewAttemptStore creates a new attempt store.
func NewAttemptStore(db *database.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// Record appends one attempt.
func (s *AttemptStore) Record(ctx context.Context, attempt *Attempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.New().String()
	}
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO send_attempts (id, tenant_id, campaign_id, recipient, status, provider_message_id, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var campaignID, providerMessageID, attemptErr sql.NullString
	if attempt.CampaignID != "" {
		campaignID = sql.NullString{String: attempt.CampaignID, Valid: true}
	}
	if attempt.ProviderMessageID != "" {
		providerMessageID = sql.NullString{String: attempt.ProviderMessageID, Valid: true}
	}
	if attempt.Error != "" {
		attemptErr = sql.NullString{String: attempt.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		attempt.ID,
		attempt.TenantID,
		campaignID,
		attempt.Recipient,
		string(attempt.Status),
		providerMessageID,
		attemptErr,
		attempt.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting send attempt: %w", err)
	}

	return nil
}

// ListByCampaign retrieves all attempts for a campaign, oldest first.
func (s *AttemptStore) ListByCampaign(ctx context.Context, campaignID string) ([]*Attempt, error) {
	query := `
		SELECT id, tenant_id, campaign_id, recipient, status, provider_message_id, error, timestamp
		FROM send_attempts
		WHERE campaign_id = ?
		ORDER BY timestamp ASC, id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("querying attempts by campaign: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// ListByTenant retrieves a tenant's most recent attempts.
func (s *AttemptStore) ListByTenant(ctx context.Context, tenantID string, limit int) ([]*Attempt, error) {
	query := `
		SELECT id, tenant_id, campaign_id, recipient, status, provider_message_id, error, timestamp
		FROM send_attempts
		WHERE tenant_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts by tenant: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]*Attempt, error) {
	var attempts []*Attempt

	for rows.Next() {
		var attempt Attempt
		var campaignID, providerMessageID, attemptErr sql.NullString
		var timestamp string

		err := rows.Scan(
			&attempt.ID,
			&attempt.TenantID,
			&campaignID,
			&attempt.Recipient,
			(*string)(&attempt.Status),
			&providerMessageID,
			&attemptErr,
			&timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning attempt row: %w", err)
		}

		attempt.CampaignID = campaignID.String
		attempt.ProviderMessageID = providerMessageID.String
		attempt.Error = attemptErr.String

		t, parseErr := time.Parse(time.RFC3339, timestamp)
		if parseErr != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", parseErr)
		}
		attempt.Timestamp = t

		attempts = append(attempts, &attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}

	return attempts, nil
}
