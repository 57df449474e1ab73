package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/blueberrycongee/agentgate/pkg/types"
)

// Dispatcher sends one request to a named provider. provider.Router
// satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, provider string, req *types.DispatchRequest) *types.DispatchResult
}

// MergeContext describes the execution whose chunks are being merged.
type MergeContext struct {
	AgentName string
	AgentTask string
	Provider  string
	Model     string
	UserID    string
}

// Merger recombines per-chunk results.
type Merger struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewMerger creates a merger. A nil dispatcher always uses FallbackMerge.
func NewMerger(d Dispatcher, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{dispatcher: d, logger: logger, now: time.Now}
}

// Merge combines results ordered by chunk index. A single chunk is returned
// as is with no dispatch. Several chunks are synthesized by one merge
// dispatch; if that dispatch fails for any reason the deterministic
// FallbackMerge is used.
func (m *Merger) Merge(ctx context.Context, results []types.ChunkResult, mc MergeContext) types.MergedResult {
	status := OverallStatus(results)
	switch len(results) {
	case 0:
		return types.MergedResult{Text: "No results generated", Status: status}
	case 1:
		return types.MergedResult{Text: results[0].Text(), Status: status}
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text()
	}

	if m.dispatcher != nil {
		req := &types.DispatchRequest{
			JobID:   fmt.Sprintf("merge-%d", m.now().Unix()),
			UserID:  mc.UserID,
			Model:   mc.Model,
			Message: BuildMergePrompt(texts, mc.AgentName, mc.AgentTask),
		}
		res := m.dispatch(ctx, mc.Provider, req)
		if res != nil && res.Success {
			return types.MergedResult{
				Text:         res.Content,
				Status:       status,
				Synthesized:  true,
				InputTokens:  res.Input(),
				OutputTokens: res.Output(),
			}
		}
		if res != nil {
			m.logger.Warn("merge dispatch failed, using fallback",
				"agent", mc.AgentName, "chunks", len(results), "error", res.ErrorMessage)
		}
	}

	return types.MergedResult{Text: FallbackMerge(texts, mc.AgentName), Status: status}
}

func (m *Merger) dispatch(ctx context.Context, provider string, req *types.DispatchRequest) (res *types.DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("merge dispatch panicked", "panic", r)
			res = nil
		}
	}()
	return m.dispatcher.Dispatch(ctx, provider, req)
}

// BuildMergePrompt asks the backend to synthesize one report from the
// numbered section outputs.
func BuildMergePrompt(texts []string, agentName, agentTask string) string {
	var b strings.Builder
	b.WriteString("You are an expert at synthesizing and merging analysis results. \n\n")
	b.WriteString("Your task is to combine the following analysis results from different sections of a document into a coherent, comprehensive final report.\n\n")
	fmt.Fprintf(&b, "The original analysis was performed by: %s\n", agentName)
	fmt.Fprintf(&b, "Agent task was: %s\n\n", agentTask)
	b.WriteString("Please merge these section results into a unified, well-structured final analysis:\n\n")
	for i, text := range texts {
		fmt.Fprintf(&b, "\n--- Section %d Analysis ---\n%s\n", i+1, text)
	}
	b.WriteString(`

Please provide a comprehensive merged analysis that:
1. Synthesizes key findings across all sections
2. Identifies common themes and patterns
3. Resolves any contradictions between sections
4. Provides a coherent final conclusion

Format your response as a well-structured report.`)
	return b.String()
}

// FallbackMerge concatenates section outputs under numbered headers. More
// than two sections also get a closing summary.
func FallbackMerge(texts []string, agentName string) string {
	switch len(texts) {
	case 0:
		return "No results to merge."
	case 1:
		return texts[0]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Analysis Results\n\n", agentName)
	fmt.Fprintf(&b, "This document was processed in %d parts. Below are the consolidated results:\n\n", len(texts))
	for i, text := range texts {
		fmt.Fprintf(&b, "## Section %d Results\n\n%s\n\n", i+1, text)
	}
	if len(texts) > 2 {
		b.WriteString("## Overall Summary\n\n")
		b.WriteString("The document has been analyzed in multiple sections. ")
		b.WriteString("Please review each section above for detailed findings. ")
		fmt.Fprintf(&b, "Total sections processed: %d\n", len(texts))
	}
	return b.String()
}

// OverallStatus derives the document status from its chunks.
func OverallStatus(results []types.ChunkResult) types.JobStatus {
	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	switch {
	case len(results) == 0 || ok == 0:
		return types.StatusFailed
	case ok == len(results):
		return types.StatusCompleted
	default:
		return types.StatusPartiallyCompleted
	}
}

// ChunkContext is prepended to each chunk so the backend knows it sees a part.
// format and name identify an uploaded file and may be empty.
func ChunkContext(index, total int, format, name string) string {
	source := "a document"
	if format != "" {
		source = fmt.Sprintf("a %s document '%s'", format, name)
	}
	ctx := fmt.Sprintf("This is part %d of %d from %s.", index+1, total, source)
	if total > 1 {
		ctx += "\n\nPlease analyze this section and provide insights that can be combined with other sections:"
	}
	return ctx
}

// ChunkError is the text recorded for a chunk whose dispatch failed.
func ChunkError(index int, msg string) string {
	if msg == "" {
		msg = "AI processing failed"
	}
	return fmt.Sprintf("Error processing chunk %d: %s", index+1, msg)
}
