// Package automation manages recurring outreach definitions and the
// poll loop that fires them when due.
package automation

import (
	"time"

	"github.com/patchwell/courier/internal/recurrence"
)

// Automation is a stored recurring communication. NextExecution is
// derived state, recomputed from the recurrence after every firing; a
// nil NextExecution means the recurrence has nothing left to do and
// the automation is disabled.
type Automation struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenant_id"`
	Name          string          `json:"name"`
	Recurrence    recurrence.Spec `json:"recurrence"`
	Message       string          `json:"message"`
	Recipients    []string        `json:"recipients"`
	NextExecution *time.Time      `json:"next_execution,omitempty"`
	LastExecution *time.Time      `json:"last_execution,omitempty"`
	Enabled       bool            `json:"enabled"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
