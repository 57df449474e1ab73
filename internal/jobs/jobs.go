// Package jobs tracks every unit of dispatched work through a small,
// monotonic lifecycle for cost and audit purposes.
//
//	created -> processing -> completed | failed | partially_completed
//
// A job may also fail straight from created when dispatch never started.
package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/blueberrycongee/agentgate/pkg/types"
)

var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a status change would move a
	// job backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store persists job records.
type Store interface {
	CreateJob(ctx context.Context, job *types.Job) error
	GetJob(ctx context.Context, id string) (*types.Job, error)
	UpdateJobStatus(ctx context.Context, id string, status types.JobStatus) error
	UpdateJobDuration(ctx context.Context, id string, durationMs int64) error
	UpdateJobTokens(ctx context.Context, id string, input, output int) error
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to types.JobStatus) bool {
	switch from {
	case types.StatusCreated:
		return to == types.StatusProcessing
	case types.StatusProcessing:
		return to.Terminal()
	default:
		return false
	}
}

// checkTransition wraps ErrInvalidTransition with the offending states.
func checkTransition(from, to types.JobStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
