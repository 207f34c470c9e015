package domain

import (
	"context"
	"time"
)

// SubmissionStatus is the submission lifecycle state.
type SubmissionStatus string

const (
	SubmissionStatusInProgress SubmissionStatus = "in_progress"
	SubmissionStatusEnrolled   SubmissionStatus = "enrolled"
	SubmissionStatusCompleted  SubmissionStatus = "completed"
	SubmissionStatusFailed     SubmissionStatus = "failed"
)

// Terminal reports whether the status ends the session. Failed submissions
// re-enter processing through the retry queue, not through the form.
func (s SubmissionStatus) Terminal() bool {
	return s == SubmissionStatusCompleted || s == SubmissionStatusFailed
}

// FormData is the accumulated field map collected across steps. It is stored
// encrypted; repositories encrypt and decrypt at the boundary.
type FormData map[string]any

// Merge overlays incoming fields onto the existing map. Existing keys survive
// unless explicitly overwritten; the result is never truncated.
func (d FormData) Merge(incoming FormData) FormData {
	if d == nil {
		d = FormData{}
	}
	for k, v := range incoming {
		d[k] = v
	}
	return d
}

// String returns the string value for a key, or empty when absent or non-string.
func (d FormData) String(key string) string {
	if v, ok := d[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool returns a boolean field, accepting bool and common string encodings.
func (d FormData) Bool(key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		return v == "1" || v == "true" || v == "yes"
	case float64:
		return v != 0
	}
	return false
}

// Int returns an integer field, accepting JSON numbers and numeric strings.
func (d FormData) Int(key string) int {
	switch v := d[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		n := 0
		for _, r := range v {
			if r < '0' || r > '9' {
				return 0
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	return 0
}

// Submission is one customer's enrollment or scheduling session.
type Submission struct {
	ID         uint   `json:"id"`
	InstanceID uint   `json:"instance_id"`
	// SessionID is the opaque per-browser-session token. It is only unique in
	// combination with InstanceID.
	SessionID          string           `json:"session_id"`
	AccountNumber      string           `json:"account_number"`
	CustomerName       string           `json:"customer_name"`
	DeviceType         string           `json:"device_type"`
	FormData           FormData         `json:"form_data"`
	Status             SubmissionStatus `json:"status"`
	Step               int              `json:"step"`
	ConfirmationNumber string           `json:"confirmation_number"`
	IPAddress          string           `json:"ip_address"`
	UserAgent          string           `json:"user_agent"`
	IsTest             bool             `json:"is_test"`
	CreatedAt          time.Time        `json:"created_at"`
	CompletedAt        *time.Time       `json:"completed_at,omitempty"`
}

// SubmissionUpdate is a partial update applied with merge semantics.
type SubmissionUpdate struct {
	AccountNumber      *string
	CustomerName       *string
	DeviceType         *string
	FormData           FormData
	Status             *SubmissionStatus
	Step               *int
	ConfirmationNumber *string
	CompletedAt        *time.Time
}

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	InstanceID uint
	Status     SubmissionStatus
	DateFrom   *time.Time
	DateTo     *time.Time
	// Search matches against customer name, email and account number.
	Search       string
	IncludeTests bool
}

// ResumeToken is a one-time credential for continuing a saved submission.
type ResumeToken struct {
	ID         uint      `json:"id"`
	SessionID  string    `json:"session_id"`
	InstanceID uint      `json:"instance_id"`
	Token      string    `json:"token"`
	Email      string    `json:"email"`
	ExpiresAt  time.Time `json:"expires_at"`
	Used       bool      `json:"used"`
	CreatedAt  time.Time `json:"created_at"`
}

// ResumeTokenTTL is how long an emailed resume link stays valid.
const ResumeTokenTTL = 7 * 24 * time.Hour

// RetryQueueEntry records a final-submission failure for out-of-band retry.
type RetryQueueEntry struct {
	ID           uint      `json:"id"`
	SubmissionID uint      `json:"submission_id"`
	InstanceID   uint      `json:"instance_id"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Retry queue entry statuses for the out-of-band worker.
const (
	RetryStatusPending   = "pending"
	RetryStatusExhausted = "exhausted"
	RetryStatusResolved  = "resolved"
)

// LogLevel for the persisted audit trail.
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// LogEntry is an append-only audit record.
type LogEntry struct {
	ID           uint           `json:"id"`
	Level        LogLevel       `json:"level"`
	Message      string         `json:"message"`
	Context      map[string]any `json:"context,omitempty"`
	InstanceID   uint           `json:"instance_id,omitempty"`
	SubmissionID uint           `json:"submission_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// StepEventType classifies analytics step events.
type StepEventType string

const (
	StepEventEnter    StepEventType = "enter"
	StepEventExit     StepEventType = "exit"
	StepEventComplete StepEventType = "complete"
	StepEventAbandon  StepEventType = "abandon"
)

// StepEvent is an analytics-only record; it never drives the state machine.
type StepEvent struct {
	ID         uint          `json:"id"`
	InstanceID uint          `json:"instance_id"`
	SessionID  string        `json:"session_id"`
	Step       int           `json:"step"`
	Event      StepEventType `json:"event"`
	IsTest     bool          `json:"is_test"`
	CreatedAt  time.Time     `json:"created_at"`
}

// SubmissionStore is the durable store for submissions, resume tokens, the
// retry queue, step analytics and the structured audit log.
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *Submission) (uint, error)
	GetSubmission(ctx context.Context, id uint) (*Submission, error)
	// GetSubmissionBySession is the orchestrator's primary lookup; it must be
	// scoped by instance since session ids are not globally unique.
	GetSubmissionBySession(ctx context.Context, sessionID string, instanceID uint) (*Submission, error)
	UpdateSubmission(ctx context.Context, id uint, upd SubmissionUpdate) error
	// ListSubmissions returns a page plus the total match count.
	ListSubmissions(ctx context.Context, filter SubmissionFilter, limit, offset int) ([]*Submission, int64, error)
	MarkSessionAsTest(ctx context.Context, sessionID string, instanceID uint) error

	SaveResumeToken(ctx context.Context, token *ResumeToken) error
	// GetResumeToken rejects wrong-instance, expired and already-used tokens
	// with the same ErrInvalidToken, leaking nothing about which applied.
	GetResumeToken(ctx context.Context, token string, instanceID uint) (*ResumeToken, error)
	MarkResumeTokenUsed(ctx context.Context, token string) error

	// AddToRetryQueue is append-only; repeat failures queue repeat entries.
	AddToRetryQueue(ctx context.Context, submissionID, instanceID uint, errorMessage string) error
	PendingRetries(ctx context.Context, limit int) ([]*RetryQueueEntry, error)
	UpdateRetryEntry(ctx context.Context, id uint, status string, attempts int) error

	RecordStepEvent(ctx context.Context, ev *StepEvent) error

	// Log appends an audit entry. It is fire-and-forget: failures are
	// swallowed and must never fail the calling operation.
	Log(ctx context.Context, level LogLevel, message string, logCtx map[string]any, instanceID, submissionID uint)
}
