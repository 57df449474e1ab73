package types //nolint:revive // package name is intentional

// DispatchRequest is the uniform input every provider adapter accepts.
type DispatchRequest struct {
	JobID   string `json:"job_id"`
	UserID  string `json:"user_id"`
	Model   string `json:"model"`
	Message string `json:"message"`
}

// DispatchResult is the uniform output every provider adapter produces.
// Adapters never return Go errors; failures are encoded here.
type DispatchResult struct {
	JobID        string `json:"job_id"`
	UserID       string `json:"user_id"`
	Success      bool   `json:"success"`
	Content      string `json:"content"`
	ErrorMessage string `json:"error_message,omitempty"`
	TokensUsed   int    `json:"tokens_used"`
	InputTokens  *int   `json:"input_tokens,omitempty"`
	OutputTokens *int   `json:"output_tokens,omitempty"`

	// ErrorType carries the pkg/errors type constant for failed dispatches.
	ErrorType string `json:"error_type,omitempty"`
}

// Input returns the reported input token count or zero.
func (r *DispatchResult) Input() int {
	if r == nil || r.InputTokens == nil {
		return 0
	}
	return *r.InputTokens
}

// Output returns the reported output token count or zero.
func (r *DispatchResult) Output() int {
	if r == nil || r.OutputTokens == nil {
		return 0
	}
	return *r.OutputTokens
}
