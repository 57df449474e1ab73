package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/agentgate/internal/metrics"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// Spec describes a job to create.
type Spec struct {
	Name     string
	UserID   string
	Provider string
	Model    string
	ClientIP string
}

// Usage is the token accounting recorded when a job finishes.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Tracker creates jobs and drives them through their lifecycle.
type Tracker struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker creates a tracker on top of store.
func NewTracker(store Store, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Get returns the persisted job.
func (t *Tracker) Get(ctx context.Context, id string) (*types.Job, error) {
	return t.store.GetJob(ctx, id)
}

// Create persists a new job in the created state. An empty name defaults
// to "job-" plus the first eight characters of the id.
func (t *Tracker) Create(ctx context.Context, spec Spec) (*Run, error) {
	id := t.newID()
	name := spec.Name
	if name == "" {
		name = "job-" + id[:8]
	}
	job := &types.Job{
		ID:        id,
		Name:      name,
		UserID:    spec.UserID,
		Provider:  spec.Provider,
		Model:     spec.Model,
		Status:    types.StatusCreated,
		CreatedAt: t.now().UTC(),
		ClientIP:  spec.ClientIP,
	}
	if err := t.store.CreateJob(ctx, job); err != nil {
		metrics.JobStoreErrors.WithLabelValues("create").Inc()
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.JobsTotal.WithLabelValues(string(types.StatusCreated)).Inc()
	t.logger.Debug("job created", "job_id", id, "name", name, "provider", spec.Provider, "model", spec.Model)
	return &Run{tracker: t, job: *job, started: job.CreatedAt}, nil
}

// Run is a live handle on one job. It is safe for concurrent use.
type Run struct {
	tracker *Tracker

	mu      sync.Mutex
	job     types.Job
	started time.Time
}

// ID returns the job id.
func (r *Run) ID() string {
	return r.job.ID
}

// Job returns a snapshot of the job as last written.
func (r *Run) Job() types.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

// Status returns the current status.
func (r *Run) Status() types.JobStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job.Status
}

// Processing moves the job to processing and starts the duration clock.
func (r *Run) Processing(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := checkTransition(r.job.Status, types.StatusProcessing); err != nil {
		return err
	}
	// The job has started even if the write fails, so a later Fail still
	// goes processing -> failed.
	r.job.Status = types.StatusProcessing
	r.started = r.tracker.now()
	if err := r.tracker.store.UpdateJobStatus(ctx, r.job.ID, types.StatusProcessing); err != nil {
		metrics.JobStoreErrors.WithLabelValues("status").Inc()
		return fmt.Errorf("mark job processing: %w", err)
	}
	return nil
}

// Finish moves the job to a terminal status and records its duration and
// token counts. Every write is attempted even when an earlier one fails;
// the first error is returned.
func (r *Run) Finish(ctx context.Context, status types.JobStatus, usage Usage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	if err := checkTransition(r.job.Status, status); err != nil {
		return err
	}

	elapsed := r.tracker.now().Sub(r.started)
	durationMs := elapsed.Milliseconds()
	store := r.tracker.store
	var firstErr error
	record := func(op string, err error) {
		if err == nil {
			return
		}
		metrics.JobStoreErrors.WithLabelValues(op).Inc()
		r.tracker.logger.Error("job update failed", "job_id", r.job.ID, "operation", op, "error", err)
		if firstErr == nil {
			firstErr = fmt.Errorf("update job %s: %w", op, err)
		}
	}

	record("status", store.UpdateJobStatus(ctx, r.job.ID, status))
	record("duration", store.UpdateJobDuration(ctx, r.job.ID, durationMs))
	record("tokens", store.UpdateJobTokens(ctx, r.job.ID, usage.InputTokens, usage.OutputTokens))

	r.job.Status = status
	r.job.DurationMs = &durationMs
	r.job.InputTokens = usage.InputTokens
	r.job.OutputTokens = usage.OutputTokens

	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.JobDuration.Observe(elapsed.Seconds())
	r.tracker.logger.Info("job finished",
		"job_id", r.job.ID, "status", status, "duration_ms", durationMs,
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens)
	return firstErr
}

// Fail finishes the job as failed after an unexpected error. It is a no-op
// on jobs that already reached a terminal state.
func (r *Run) Fail(ctx context.Context, cause error) error {
	if r.Status().Terminal() {
		return nil
	}
	r.tracker.logger.Warn("job failed", "job_id", r.job.ID, "error", cause)
	if r.Status() == types.StatusCreated {
		// Finish reports any store failure again.
		_ = r.Processing(ctx)
	}
	return r.Finish(ctx, types.StatusFailed, Usage{})
}
