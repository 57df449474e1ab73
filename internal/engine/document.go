package engine

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/blueberrycongee/agentgate/internal/agent"
	"github.com/blueberrycongee/agentgate/internal/chunker"
	"github.com/blueberrycongee/agentgate/internal/jobs"
	"github.com/blueberrycongee/agentgate/internal/metrics"
	"github.com/blueberrycongee/agentgate/internal/observability"
	"github.com/blueberrycongee/agentgate/pkg/types"
)

// runChunks splits the message, dispatches every chunk as its own job and
// merges the outputs. Results stay in chunk order whatever the parallelism.
// The first chunk's job id identifies the execution.
func (e *Engine) runChunks(ctx context.Context, ag *agent.Agent, req *types.ExecutionRequest, chunkSize int, logger *slog.Logger) (*types.ExecutionResult, error) {
	pieces := chunker.Split(req.Message, chunkSize, e.config.ChunkOverlap)
	results := make([]types.ChunkResult, len(pieces))
	logger.Info("processing document", "chunks", len(pieces), "chunk_size", chunkSize)

	var g errgroup.Group
	g.SetLimit(e.config.MaxParallel)
	for i, piece := range pieces {
		g.Go(func() error {
			results[i] = e.runChunk(ctx, ag, req, i, len(pieces), piece, logger)
			return nil
		})
	}
	_ = g.Wait()

	merged := e.merger.Merge(ctx, results, chunker.MergeContext{
		AgentName: ag.Name,
		AgentTask: ag.Task,
		Provider:  req.Provider,
		Model:     req.Model,
		UserID:    req.UserID,
	})
	mergeTokens := merged.InputTokens + merged.OutputTokens
	if e.limiter != nil && mergeTokens > 0 {
		_ = e.limiter.RecordTokens(ctx, req.RateLimitKey(), mergeTokens)
	}

	out := &types.ExecutionResult{
		JobID:           "no-job",
		Agent:           req.AgentName,
		Provider:        req.Provider,
		Model:           req.Model,
		Status:          merged.Status,
		Result:          merged.Text,
		ChunksProcessed: len(pieces),
		InputTokens:     merged.InputTokens,
		OutputTokens:    merged.OutputTokens,
	}
	if len(results) > 0 && results[0].JobID != "" {
		out.JobID = results[0].JobID
	}
	for _, r := range results {
		out.InputTokens += r.InputTokens
		out.OutputTokens += r.OutputTokens
	}
	return out, nil
}

// runChunk processes one chunk. It never fails the execution: every
// problem, including a panic, becomes a failed ChunkResult.
func (e *Engine) runChunk(ctx context.Context, ag *agent.Agent, req *types.ExecutionRequest, index, total int, piece string, logger *slog.Logger) (res types.ChunkResult) {
	ctx, span := observability.StartChunkSpan(ctx, e.tracer, index+1, total)
	defer span.End()

	res = types.ChunkResult{Index: index}
	fail := func(msg string) types.ChunkResult {
		metrics.ChunksProcessed.WithLabelValues(req.Provider, "failure").Inc()
		observability.RecordFailure(span, msg)
		res.Success = false
		res.Content = ""
		res.Error = chunker.ChunkError(index, msg)
		return res
	}

	run, err := e.tracker.Create(ctx, jobs.Spec{
		Name:     chunkJobName(req, index),
		UserID:   req.UserID,
		Provider: req.Provider,
		Model:    req.Model,
		ClientIP: req.ClientIP,
	})
	if err != nil {
		logger.Error("chunk job not created", "chunk", index+1, "error", err)
		return fail(err.Error())
	}
	res.JobID = run.ID()

	defer func() {
		if rec := recover(); rec != nil {
			cause := fmt.Errorf("chunk panicked: %v", rec)
			logger.Error("chunk panicked", "chunk", index+1, "job_id", run.ID(), "panic", rec)
			_ = run.Fail(ctx, cause)
			res = fail(cause.Error())
		}
	}()

	if err := run.Processing(ctx); err != nil {
		_ = run.Fail(ctx, err)
		return fail(err.Error())
	}

	var format, name string
	if req.Source != nil {
		format, name = req.Source.Format, req.Source.Name
	}
	message := ag.ComposeChunkMessage(chunker.ChunkContext(index, total, format, name), piece, req.Parameters)
	dr := e.dispatch(ctx, req.Provider, req.Model, req.UserID, run.ID(), message)
	usage := e.account(ctx, req.RateLimitKey(), message, dr)
	status, text := outcome(dr)

	if err := run.Finish(ctx, status, usage); err != nil {
		logger.Warn("job bookkeeping incomplete", "job_id", run.ID(), "error", err)
	}

	res.InputTokens = usage.InputTokens
	res.OutputTokens = usage.OutputTokens
	if status != types.StatusCompleted {
		return fail(text)
	}
	metrics.ChunksProcessed.WithLabelValues(req.Provider, "success").Inc()
	res.Success = true
	res.Content = text
	return res
}
