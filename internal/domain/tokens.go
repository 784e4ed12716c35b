package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// TokenCountRequest represents a request to count tokens.
type TokenCountRequest struct {
	Model    string           `json:"model"`
	Messages []Message        `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`

	// Functions and FunctionCall hold the deprecated request-level
	// function-calling fields. They are never counted; CheckLegacyFields
	// rejects them.
	Functions    json.RawMessage `json:"functions,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
}

// CheckLegacyFields returns an invalid_request error when the request uses
// functions or function_call instead of tools.
func (r *TokenCountRequest) CheckLegacyFields() error {
	for _, f := range []struct {
		param string
		raw   json.RawMessage
		hint  string
	}{
		{"functions", r.Functions, "declare them as tools"},
		{"function_call", r.FunctionCall, "use tool_choice"},
	} {
		if present(f.raw) {
			return ErrInvalidRequest(fmt.Sprintf("%s is not supported, %s", f.param, f.hint)).
				WithParam(f.param).
				WithCause(ErrLegacyFunctionCalling)
		}
	}
	return nil
}

// present reports whether raw holds a value other than JSON null.
func present(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

// TokenCountResponse represents the response from counting tokens.
type TokenCountResponse struct {
	InputTokens int    `json:"input_tokens"`
	Model       string `json:"model,omitempty"`
	// Estimated indicates whether the count is an estimate (true) or exact (false)
	Estimated bool `json:"estimated,omitempty"`
	// RulesVersion identifies the overhead table used for the count.
	RulesVersion string `json:"rules_version,omitempty"`
}

// TokenCounter provides token counting capabilities.
type TokenCounter interface {
	// CountTokens counts the tokens in the given request.
	CountTokens(ctx context.Context, req *TokenCountRequest) (*TokenCountResponse, error)

	// SupportsModel returns true if this counter supports the given model.
	SupportsModel(model string) bool
}
