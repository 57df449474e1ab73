package types //nolint:revive // package name is intentional

import "time"

// JobStatus is the lifecycle state of a unit of dispatched work.
type JobStatus string

const (
	StatusCreated            JobStatus = "created"
	StatusProcessing         JobStatus = "processing"
	StatusCompleted          JobStatus = "completed"
	StatusFailed             JobStatus = "failed"
	StatusPartiallyCompleted JobStatus = "partially_completed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusCreated, StatusProcessing, StatusCompleted, StatusFailed, StatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// Job records one unit of work for cost and audit purposes.
type Job struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	UserID       string    `json:"user_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	Status       JobStatus `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	DurationMs   *int64    `json:"duration,omitempty"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	ClientIP     string    `json:"client_ip,omitempty"`
}
