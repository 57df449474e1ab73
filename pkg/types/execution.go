// Package types defines the core data structures exchanged between the
// execution engine, the provider adapters and the HTTP boundary.
package types //nolint:revive // package name is intentional

import "time"

// ExecutionRequest asks the engine to run an agent against a message.
type ExecutionRequest struct {
	AgentName  string         `json:"agent_name"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	UserID     string         `json:"user_id"`
	Message    string         `json:"message"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// UseCache defaults to true when omitted.
	UseCache     *bool `json:"use_cache,omitempty"`
	ForceRefresh bool  `json:"force_refresh,omitempty"`
	// CacheTTL overrides the status-dependent TTL, in seconds.
	CacheTTL *int `json:"cache_ttl,omitempty"`

	// ChunkSize is only honored by document execution.
	ChunkSize int `json:"chunk_size,omitempty"`

	ClientID string `json:"-"`
	ClientIP string `json:"-"`

	// Source is set when Message was extracted from an uploaded file.
	Source *DocumentSource `json:"-"`
}

// DocumentSource names the uploaded file behind a document execution.
type DocumentSource struct {
	Format string // "PDF" or "DOCX"
	Name   string // sanitized file name
}

// CacheEnabled reports whether the cache may be consulted and populated.
func (r *ExecutionRequest) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

// CacheTTLOverride returns the caller supplied TTL, if any.
func (r *ExecutionRequest) CacheTTLOverride() *time.Duration {
	if r.CacheTTL == nil || *r.CacheTTL <= 0 {
		return nil
	}
	ttl := time.Duration(*r.CacheTTL) * time.Second
	return &ttl
}

// RateLimitKey returns the identity the rate limiter accounts against.
func (r *ExecutionRequest) RateLimitKey() string {
	if r.ClientID != "" {
		return r.ClientID
	}
	return r.UserID
}

// ExecutionResult is the structured outcome of every execution path.
type ExecutionResult struct {
	JobID    string    `json:"job_id"`
	Agent    string    `json:"agent"`
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Status   JobStatus `json:"status"`
	Result   string    `json:"result"`

	FromCache bool       `json:"from_cache"`
	CachedAt  *time.Time `json:"cached_at,omitempty"`
	// CacheTTL is the remaining lifetime of the cached entry, in seconds.
	CacheTTL *int `json:"cache_ttl,omitempty"`

	ChunksProcessed int `json:"chunks_processed,omitempty"`
	InputTokens     int `json:"input_tokens,omitempty"`
	OutputTokens    int `json:"output_tokens,omitempty"`
}

// ChunkResult is the outcome of dispatching one chunk of a document.
type ChunkResult struct {
	Index   int    `json:"index"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	JobID   string `json:"job_id"`
	Success bool   `json:"success"`

	InputTokens  int `json:"-"`
	OutputTokens int `json:"-"`
}

// Text returns the content for successful chunks and the error note otherwise.
func (c ChunkResult) Text() string {
	if c.Success {
		return c.Content
	}
	return c.Error
}

// MergedResult is the combined answer for a chunked document.
type MergedResult struct {
	Text   string    `json:"text"`
	Status JobStatus `json:"status"`
	// Synthesized is false when the deterministic fallback produced Text.
	Synthesized bool `json:"synthesized"`

	// Usage of the merge dispatch itself, zero when none was made.
	InputTokens  int `json:"-"`
	OutputTokens int `json:"-"`
}
