// Package dispatch delivers outbound messages under per-tenant rate
// limits: an ad-hoc queue for low-volume sends and a checkpointed
// runner for bulk campaigns.
package dispatch

import "time"

// Message is a single ad-hoc outbound message.
type Message struct {
	TenantID   string `json:"tenant_id"`
	To         string `json:"to"`
	Body       string `json:"message"`
	From       string `json:"from,omitempty"`
	ConsumerID string `json:"consumer_id,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
}

// Recipient is one entry of a bulk campaign's recipient list. The
// message body is pre-rendered per recipient by the caller.
type Recipient struct {
	To         string `json:"to"`
	Message    string `json:"message"`
	ConsumerID string `json:"consumer_id,omitempty"`
	AccountID  string `json:"account_id,omitempty"`
}

// RunStatus is the lifecycle state of a campaign run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusCompleted RunStatus = "completed"
)

// CampaignRun tracks a bulk send's progress. LastSentIndex is
// monotonic non-decreasing; recipients below it are assumed already
// sent and are never re-verified on resume. Its checkpoint fields are
// only ever written by the single runner currently driving the run.
type CampaignRun struct {
	ID            string
	CampaignID    string
	TenantID      string
	TemplateRef   string
	Status        RunStatus
	LastSentIndex int
	TotalSent     int
	TotalFailed   int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Summary is the outcome of one Run invocation. TotalSent and
// TotalFailed include counts carried over from a resumed run.
type Summary struct {
	TotalSent     int  `json:"total_sent"`
	TotalFailed   int  `json:"total_errors"`
	WasCancelled  bool `json:"was_cancelled"`
	LastSentIndex int  `json:"last_sent_index"`
}

// AttemptStatus classifies a send attempt.
type AttemptStatus string

const (
	AttemptSent   AttemptStatus = "sent"
	AttemptQueued AttemptStatus = "queued"
	AttemptFailed AttemptStatus = "failed"
)

// Attempt is one append-only delivery record. Downstream billing and
// metrics depend on this exact field set.
type Attempt struct {
	ID                string
	TenantID          string
	CampaignID        string
	Recipient         string
	Status            AttemptStatus
	ProviderMessageID string
	Error             string
	Timestamp         time.Time
}
