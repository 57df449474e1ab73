package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/blueberrycongee/agentgate/internal/agent"
	"github.com/blueberrycongee/agentgate/internal/cache"
	"github.com/blueberrycongee/agentgate/internal/jobs"
	"github.com/blueberrycongee/agentgate/internal/metrics"
	"github.com/blueberrycongee/agentgate/internal/observability"
	"github.com/blueberrycongee/agentgate/internal/provider"
	"github.com/blueberrycongee/agentgate/internal/ratelimit"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// documentParam is mixed into the fingerprint parameters of chunked
// executions so they never collide with single-dispatch results.
const documentParam = "__document_chunk_size"

// sourceParam keys uploads by file so the chunk prompts, which quote the
// file name, are not shared between files with the same text.
const sourceParam = "__document_source"

// fallbackError is reported when a failed dispatch carries no message.
const fallbackError = "AI processing failed"

// Execute runs an agent against req.Message. Messages longer than the
// configured chunk size are processed in chunks like a document.
func (e *Engine) Execute(ctx context.Context, req *types.ExecutionRequest) (*types.ExecutionResult, error) {
	return e.execute(ctx, req, false)
}

// ExecuteDocument processes req.Message as a document: it is always split
// with req.ChunkSize (or the configured default) and every chunk runs as
// its own job.
func (e *Engine) ExecuteDocument(ctx context.Context, req *types.ExecutionRequest) (*types.ExecutionResult, error) {
	return e.execute(ctx, req, true)
}

func validate(req *types.ExecutionRequest) error {
	switch {
	case req == nil:
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	case req.AgentName == "":
		return fmt.Errorf("%w: agent_name is required", ErrInvalidRequest)
	case req.Provider == "":
		return fmt.Errorf("%w: provider is required", ErrInvalidRequest)
	case req.Model == "":
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	case strings.TrimSpace(req.Message) == "":
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	case req.RateLimitKey() == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case req.ChunkSize < 0:
		return fmt.Errorf("%w: chunk_size must not be negative", ErrInvalidRequest)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, req *types.ExecutionRequest, document bool) (*types.ExecutionResult, error) {
	start := e.now()
	if err := validate(req); err != nil {
		return nil, err
	}

	ag, err := e.agents.Get(req.AgentName)
	if err != nil {
		if errors.Is(err, agent.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load agent %s: %w", req.AgentName, err)
	}
	if err := ag.CheckRequest(req.Provider, req.Model); err != nil {
		return nil, err
	}

	ctx, span := observability.StartExecutionSpan(ctx, e.tracer, observability.ExecutionAttributes{
		Agent:    req.AgentName,
		Provider: req.Provider,
		Model:    req.Model,
		ClientID: req.RateLimitKey(),
		Document: document,
	})
	defer span.End()
	logger := observability.WithRequestID(ctx, e.logger).With("agent", req.AgentName, "provider", req.Provider)

	chunkSize := e.config.ChunkSize
	if document && req.ChunkSize > 0 {
		chunkSize = req.ChunkSize
	}
	chunked := document || utf8.RuneCountInString(req.Message) > chunkSize

	key := e.fingerprint(req, chunked, chunkSize, logger)
	if key != "" && !req.ForceRefresh {
		if hit := e.lookup(ctx, key, req, start); hit != nil {
			span.SetAttributes(attribute.Bool(observability.AttrFromCache, true))
			return hit, nil
		}
	}

	if key != "" && e.config.LockEnabled {
		if e.locker.Acquire(ctx, key, e.config.LockTTL) {
			defer e.locker.Release(context.WithoutCancel(ctx), key)
		} else {
			logger.Debug("identical execution in flight, waiting", "key", key)
			if !e.locker.WaitForRelease(ctx, key, e.config.LockWait, e.config.LockPoll) {
				logger.Info("lock wait gave up, executing anyway", "key", key)
			}
			if !req.ForceRefresh {
				if hit := e.lookup(ctx, key, req, start); hit != nil {
					span.SetAttributes(attribute.Bool(observability.AttrFromCache, true))
					return hit, nil
				}
			}
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Allow(ctx, req.RateLimitKey(), 0); err != nil {
			observability.RecordError(span, err)
			metrics.ExecutionsTotal.WithLabelValues(req.AgentName, req.Provider, "rate_limited").Inc()
			return nil, err
		}
	}

	var result *types.ExecutionResult
	if chunked {
		result, err = e.runChunks(ctx, ag, req, chunkSize, logger)
	} else {
		result, err = e.runSingle(ctx, ag, req, logger)
	}
	if err != nil {
		observability.RecordError(span, err)
		metrics.ExecutionsTotal.WithLabelValues(req.AgentName, req.Provider, "error").Inc()
		return nil, err
	}

	if key != "" {
		e.cache.Set(ctx, key, cache.Entry{
			Result: result.Result,
			Status: result.Status,
			JobID:  result.JobID,
			Metadata: cache.Metadata{
				AgentName: req.AgentName,
				Provider:  canonicalProvider(req.Provider),
				Model:     req.Model,
			},
		}, req.CacheTTLOverride())
	}

	span.SetAttributes(
		attribute.String(observability.AttrStatus, string(result.Status)),
		attribute.String(observability.AttrJobID, result.JobID),
	)
	if result.Status == types.StatusFailed {
		observability.RecordFailure(span, result.Result)
	}
	metrics.ExecutionsTotal.WithLabelValues(req.AgentName, req.Provider, string(result.Status)).Inc()
	metrics.ExecutionLatency.WithLabelValues(req.AgentName, req.Provider, "false").Observe(e.now().Sub(start).Seconds())
	return result, nil
}

// fingerprint returns the cache key for req, or "" when caching is off for
// this request or the key cannot be computed.
func (e *Engine) fingerprint(req *types.ExecutionRequest, chunked bool, chunkSize int, logger *slog.Logger) string {
	if !e.cache.Enabled() || !req.CacheEnabled() {
		return ""
	}
	params := req.Parameters
	if chunked {
		params = make(map[string]any, len(req.Parameters)+1)
		for k, v := range req.Parameters {
			params[k] = v
		}
		params[documentParam] = chunkSize
		if req.Source != nil {
			params[sourceParam] = req.Source.Format + ":" + req.Source.Name
		}
	}
	key, err := e.cache.Key(cache.FingerprintInput{
		AgentName:  req.AgentName,
		Provider:   canonicalProvider(req.Provider),
		Model:      req.Model,
		UserID:     req.RateLimitKey(),
		Message:    req.Message,
		Parameters: params,
	})
	if err != nil {
		logger.Warn("cannot fingerprint request, bypassing cache", "error", err)
		return ""
	}
	return key
}

func (e *Engine) lookup(ctx context.Context, key string, req *types.ExecutionRequest, start time.Time) *types.ExecutionResult {
	entry, ok := e.cache.Get(ctx, key)
	if !ok {
		return nil
	}

	cachedAt := entry.Metadata.CachedAt
	result := &types.ExecutionResult{
		JobID:     entry.JobID,
		Agent:     req.AgentName,
		Provider:  req.Provider,
		Model:     req.Model,
		Status:    entry.Status,
		Result:    entry.Result,
		FromCache: true,
		CachedAt:  &cachedAt,
	}
	if entry.TTL > 0 {
		ttl := int(entry.TTL.Seconds())
		result.CacheTTL = &ttl
	}

	metrics.ExecutionsTotal.WithLabelValues(req.AgentName, req.Provider, string(entry.Status)).Inc()
	metrics.ExecutionLatency.WithLabelValues(req.AgentName, req.Provider, "true").Observe(e.now().Sub(start).Seconds())
	return result
}

func canonicalProvider(raw string) string {
	t, normalized, ok := provider.Normalize(raw)
	if ok {
		return string(t)
	}
	return normalized
}

func (e *Engine) runSingle(ctx context.Context, ag *agent.Agent, req *types.ExecutionRequest, logger *slog.Logger) (_ *types.ExecutionResult, err error) {
	run, err := e.tracker.Create(ctx, jobs.Spec{
		Name:     req.AgentName + "-job",
		UserID:   req.UserID,
		Provider: req.Provider,
		Model:    req.Model,
		ClientIP: req.ClientIP,
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	defer recoverRun(ctx, run, &err, logger)

	if err := run.Processing(ctx); err != nil {
		_ = run.Fail(ctx, err)
		return nil, fmt.Errorf("start job %s: %w", run.ID(), err)
	}

	message := ag.ComposeMessage(req.Message, req.Parameters)
	dr := e.dispatch(ctx, req.Provider, req.Model, req.UserID, run.ID(), message)
	usage := e.account(ctx, req.RateLimitKey(), message, dr)
	status, text := outcome(dr)

	if err := run.Finish(ctx, status, usage); err != nil {
		logger.Warn("job bookkeeping incomplete", "job_id", run.ID(), "error", err)
	}

	return &types.ExecutionResult{
		JobID:        run.ID(),
		Agent:        req.AgentName,
		Provider:     req.Provider,
		Model:        req.Model,
		Status:       status,
		Result:       text,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
	}, nil
}

// recoverRun turns a panic during a tracked run into a failed job and an
// error for the caller.
func recoverRun(ctx context.Context, run *jobs.Run, errp *error, logger *slog.Logger) {
	rec := recover()
	if rec == nil {
		return
	}
	cause := fmt.Errorf("execution panicked: %v", rec)
	logger.Error("execution panicked", "job_id", run.ID(), "panic", rec)
	if err := run.Fail(ctx, cause); err != nil {
		logger.Warn("job bookkeeping incomplete", "job_id", run.ID(), "error", err)
	}
	*errp = cause
}

func (e *Engine) dispatch(ctx context.Context, providerName, model, userID, jobID, message string) *types.DispatchResult {
	ctx, span := observability.StartDispatchSpan(ctx, e.tracer, providerName, model, jobID)
	defer span.End()

	dr := e.router.Dispatch(ctx, providerName, &types.DispatchRequest{
		JobID:   jobID,
		UserID:  userID,
		Model:   model,
		Message: message,
	})
	if dr == nil {
		dr = &types.DispatchResult{JobID: jobID, UserID: userID, ErrorMessage: "provider returned no result"}
	}
	if dr.Success {
		observability.RecordUsage(span, dr.Input(), dr.Output())
	} else {
		observability.RecordFailure(span, dr.ErrorMessage)
	}
	return dr
}

// account charges the provider-reported usage to the client's window and
// returns the token counts to record on the job. The prompt side is
// estimated when a successful dispatch did not report it.
func (e *Engine) account(ctx context.Context, clientKey, prompt string, dr *types.DispatchResult) jobs.Usage {
	usage := jobs.Usage{InputTokens: dr.Input(), OutputTokens: dr.Output()}
	if dr.Success && dr.InputTokens == nil {
		usage.InputTokens = ratelimit.EstimateTokens(prompt)
	}
	if e.limiter != nil {
		// Already logged by the limiter; usage recording never fails a request.
		_ = e.limiter.RecordTokens(ctx, clientKey, dr.TokensUsed)
	}
	return usage
}

func outcome(dr *types.DispatchResult) (types.JobStatus, string) {
	if dr.Success {
		return types.StatusCompleted, dr.Content
	}
	if dr.ErrorMessage == "" {
		return types.StatusFailed, fallbackError
	}
	return types.StatusFailed, dr.ErrorMessage
}

// DispatchDirect sends req straight to a provider adapter with no agent,
// cache or job involved. The call is admitted by the rate limiter and its
// token usage recorded against clientID.
func (e *Engine) DispatchDirect(ctx context.Context, providerName, clientID string, req *types.DispatchRequest) (*types.DispatchResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if clientID == "" {
		clientID = req.UserID
	}
	if e.limiter != nil {
		if err := e.limiter.Allow(ctx, clientID, 0); err != nil {
			return nil, err
		}
	}

	dr := e.dispatch(ctx, providerName, req.Model, req.UserID, req.JobID, req.Message)
	if e.limiter != nil {
		_ = e.limiter.RecordTokens(ctx, clientID, dr.TokensUsed)
	}
	return dr, nil
}

func chunkJobName(req *types.ExecutionRequest, index int) string {
	kind := "doc"
	if req.Source != nil && req.Source.Format != "" {
		kind = strings.ToLower(req.Source.Format)
	}
	return req.AgentName + "-" + kind + "-chunk-" + strconv.Itoa(index+1)
}
