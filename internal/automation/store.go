package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/patchwell/courier/internal/database"
	"github.com/patchwell/courier/internal/recurrence"
)

// ErrNotFound is returned when an automation does not exist.
var ErrNotFound = errors.New("automation not found")

// Store handles database operations for automations.
type Store struct {
	db *database.DB
}

// NewStore creates a new automation store.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new automation. When NextExecution is unset it is
// derived from the recurrence; a recurrence with nothing to do leaves
// the automation disabled.
func (s *Store) Create(ctx context.Context, a *Automation) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = now
	}

	if a.NextExecution == nil {
		a.NextExecution = recurrence.NextExecution(a.Recurrence, now)
		if a.NextExecution == nil {
			a.Enabled = false
		}
	}

	descriptor, err := recurrence.EncodeDescriptor(a.Recurrence)
	if err != nil {
		return fmt.Errorf("encoding recurrence: %w", err)
	}
	recipients, err := json.Marshal(a.Recipients)
	if err != nil {
		return fmt.Errorf("encoding recipients: %w", err)
	}

	query := `
		INSERT INTO automations (id, tenant_id, name, recurrence, message, recipients, next_execution, last_execution, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		a.ID,
		a.TenantID,
		a.Name,
		string(descriptor),
		a.Message,
		string(recipients),
		nullTime(a.NextExecution),
		nullTime(a.LastExecution),
		a.Enabled,
		a.CreatedAt.UTC().Format(time.RFC3339),
		a.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting automation: %w", err)
	}

	return nil
}

// Update rewrites an existing automation.
func (s *Store) Update(ctx context.Context, a *Automation) error {
	a.UpdatedAt = time.Now().UTC()

	descriptor, err := recurrence.EncodeDescriptor(a.Recurrence)
	if err != nil {
		return fmt.Errorf("encoding recurrence: %w", err)
	}
	recipients, err := json.Marshal(a.Recipients)
	if err != nil {
		return fmt.Errorf("encoding recipients: %w", err)
	}

	query := `
		UPDATE automations
		SET tenant_id = ?, name = ?, recurrence = ?, message = ?, recipients = ?, next_execution = ?, last_execution = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	_, err = s.db.ExecContext(ctx, query,
		a.TenantID,
		a.Name,
		string(descriptor),
		a.Message,
		string(recipients),
		nullTime(a.NextExecution),
		nullTime(a.LastExecution),
		a.Enabled,
		a.UpdatedAt.UTC().Format(time.RFC3339),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating automation: %w", err)
	}

	return nil
}

// UpdateNextExecution records a firing: last_execution moves to
// lastRun and next_execution to next. A nil next disables the
// automation; its recurrence is exhausted.
func (s *Store) UpdateNextExecution(ctx context.Context, id string, next *time.Time, lastRun time.Time) error {
	enabled := next != nil

	query := `
		UPDATE automations
		SET next_execution = ?, last_execution = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		nullTime(next),
		lastRun.UTC().Format(time.RFC3339),
		enabled,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("updating next_execution: %w", err)
	}

	return nil
}

// Reschedule moves next_execution without touching last_execution;
// recovery uses it so a never-fired automation does not gain a
// fictitious last run. A nil next disables the automation.
func (s *Store) Reschedule(ctx context.Context, id string, next *time.Time) error {
	enabled := next != nil

	query := `
		UPDATE automations
		SET next_execution = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`

	_, err := s.db.ExecContext(ctx, query,
		nullTime(next),
		enabled,
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return fmt.Errorf("rescheduling automation: %w", err)
	}

	return nil
}

// Delete removes an automation.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting automation: %w", err)
	}
	return nil
}

// Get retrieves an automation by ID.
func (s *Store) Get(ctx context.Context, id string) (*Automation, error) {
	query := selectColumns + ` WHERE id = ?`

	a, err := scanAutomation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting automation: %w", err)
	}

	return a, nil
}

// List retrieves all automations, oldest first.
func (s *Store) List(ctx context.Context) ([]*Automation, error) {
	query := selectColumns + ` ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying automations: %w", err)
	}
	defer rows.Close()

	return scanAutomations(rows)
}

// ListByTenant retrieves a tenant's automations, oldest first.
func (s *Store) ListByTenant(ctx context.Context, tenantID string) ([]*Automation, error) {
	query := selectColumns + ` WHERE tenant_id = ? ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("querying automations by tenant: %w", err)
	}
	defer rows.Close()

	return scanAutomations(rows)
}

// GetDue retrieves enabled automations whose next_execution is at or
// before now, soonest first.
func (s *Store) GetDue(ctx context.Context, now time.Time, limit int) ([]*Automation, error) {
	query := selectColumns + `
		WHERE enabled = 1
		  AND next_execution IS NOT NULL
		  AND next_execution <= ?
		ORDER BY next_execution ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, now.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("querying due automations: %w", err)
	}
	defer rows.Close()

	return scanAutomations(rows)
}

const selectColumns = `
	SELECT id, tenant_id, name, recurrence, message, recipients, next_execution, last_execution, enabled, created_at, updated_at
	FROM automations`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAutomation(row rowScanner) (*Automation, error) {
	var a Automation
	var descriptor, recipients string
	var nextExecution, lastExecution sql.NullString
	var enabled int
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.Name,
		&descriptor,
		&a.Message,
		&recipients,
		&nextExecution,
		&lastExecution,
		&enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Recurrence = recurrence.ParseDescriptor([]byte(descriptor))
	a.Enabled = enabled == 1

	if err := json.Unmarshal([]byte(recipients), &a.Recipients); err != nil {
		return nil, fmt.Errorf("unmarshaling recipients: %w", err)
	}

	if a.NextExecution, err = parseNullTime(nextExecution, "next_execution"); err != nil {
		return nil, err
	}
	if a.LastExecution, err = parseNullTime(lastExecution, "last_execution"); err != nil {
		return nil, err
	}

	createdAtTime, parseErr := time.Parse(time.RFC3339, createdAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing created_at: %w", parseErr)
	}
	a.CreatedAt = createdAtTime

	updatedAtTime, parseErr := time.Parse(time.RFC3339, updatedAt)
	if parseErr != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", parseErr)
	}
	a.UpdatedAt = updatedAtTime

	return &a, nil
}

func scanAutomations(rows *sql.Rows) ([]*Automation, error) {
	var automations []*Automation

	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning automation row: %w", err)
		}
		automations = append(automations, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating automation rows: %w", err)
	}

	return automations, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullTime(s sql.NullString, field string) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", field, err)
	}
	return &t, nil
}
