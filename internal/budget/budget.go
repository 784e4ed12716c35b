// Package budget checks that a chat request fits a model's context window.
package budget

import (
	"context"
	"fmt"

	"github.com/boerz-coding/camel/internal/domain"
)

// Counter counts prompt tokens and knows each model's context window.
type Counter interface {
	CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error)
	ContextWindow(model string) (int, bool)
}

// Report describes how a request uses the model's context window.
type Report struct {
	Model         string `json:"model"`
	InputTokens   int    `json:"input_tokens"`
	Reserved      int    `json:"reserved_completion_tokens"`
	ContextWindow int    `json:"context_window"`
	// Remaining is ContextWindow - InputTokens - Reserved, negative when over.
	Remaining    int    `json:"remaining"`
	Estimated    bool   `json:"estimated,omitempty"`
	RulesVersion string `json:"rules_version,omitempty"`
}

// Fits reports whether the request and its reserved completion fit.
func (r *Report) Fits() bool {
	return r.Remaining >= 0
}

// Checker compares prompt sizes against context windows.
type Checker struct {
	counter        Counter
	defaultReserve int
}

// NewChecker creates a checker that reserves defaultReserve completion
// tokens when a request does not say how many it needs.
func NewChecker(counter Counter, defaultReserve int) *Checker {
	if defaultReserve < 0 {
		defaultReserve = 0
	}
	return &Checker{counter: counter, defaultReserve: defaultReserve}
}

// Check counts req and compares it with the model's window. reserve is the
// completion budget to keep free; a negative value selects the default.
//
// When the request does not fit, Check returns the report together with a
// *domain.APIError of type context_length. Counting errors are returned as-is.
func (c *Checker) Check(ctx context.Context, req *domain.TokenCountRequest, reserve int) (*Report, error) {
	window, ok := c.counter.ContextWindow(req.Model)
	if !ok {
		return nil, domain.ErrModelNotFound(fmt.Sprintf("no context window known for model %q", req.Model)).
			WithParam("model")
	}
	if reserve < 0 {
		reserve = c.defaultReserve
	}

	resp, err := c.counter.CountTokens(ctx, req)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Model:         req.Model,
		InputTokens:   resp.InputTokens,
		Reserved:      reserve,
		ContextWindow: window,
		Remaining:     window - resp.InputTokens - reserve,
		Estimated:     resp.Estimated,
		RulesVersion:  resp.RulesVersion,
	}
	if !report.Fits() {
		return report, domain.ErrContextLength(fmt.Sprintf(
			"request needs %d input tokens plus %d reserved completion tokens, model %s allows %d",
			report.InputTokens, report.Reserved, req.Model, window)).
			WithParam("messages")
	}
	return report, nil
}
