// Package tokens counts the tokens a provider charges for chat messages.
package tokens

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/boerz-coding/camel/internal/domain"
)

// Registry manages token counters for different models.
// It supports:
// 1. Registered domain.TokenCounter implementations (like tiktoken for OpenAI)
// 2. An optional fallback estimator for unknown models
type Registry struct {
	counters []domain.TokenCounter
	fallback domain.TokenCounter
}

// NewRegistry creates a new token counter registry with no fallback, so
// unknown models fail with ErrUnsupportedModel.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a token counter to the registry.
func (r *Registry) Register(counter domain.TokenCounter) {
	r.counters = append(r.counters, counter)
}

// SetFallback sets the fallback counter for unsupported models.
func (r *Registry) SetFallback(counter domain.TokenCounter) {
	r.fallback = counter
}

// CountTokens counts tokens using the appropriate counter for the model.
// Priority order:
// 1. Use registered counters that support the model
// 2. Use the fallback, if one is set
func (r *Registry) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	counter := r.GetCounter(req.Model)
	if counter == nil {
		return nil, fmt.Errorf("%w: no token counter available for model %q", ErrUnsupportedModel, req.Model)
	}
	return counter.CountTokens(ctx, req)
}

// SupportsModel reports whether any counter, including the fallback, handles model.
func (r *Registry) SupportsModel(model string) bool {
	return r.GetCounter(model) != nil
}

// GetCounter returns the appropriate counter for a model, or nil.
func (r *Registry) GetCounter(model string) domain.TokenCounter {
	for _, counter := range r.counters {
		if counter.SupportsModel(model) {
			return counter
		}
	}
	return r.fallback
}

// ContextWindow returns the window of the first registered counter that
// knows model. The fallback is never consulted since it has no window data.
func (r *Registry) ContextWindow(model string) (int, bool) {
	for _, counter := range r.counters {
		if w, ok := counter.(interface{ ContextWindow(string) (int, bool) }); ok {
			if n, known := w.ContextWindow(model); known {
				return n, true
			}
		}
	}
	return 0, false
}

// Estimator provides token count estimation based on character counts.
// This is a fallback for models without a counting rule.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
	// TokensPerMessage is added for each message's framing (default: 4)
	TokensPerMessage int
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{
		CharsPerToken:    4.0,
		TokensPerMessage: 4,
	}
}

func (e *Estimator) estimate(s string) int {
	if s == "" {
		return 0
	}
	return int(math.Ceil(float64(len(s)) / e.CharsPerToken))
}

// CountTokens estimates the token count.
func (e *Estimator) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	if err := req.CheckLegacyFields(); err != nil {
		return nil, err
	}
	if err := domain.ValidateMessages(req.Messages); err != nil {
		return nil, err
	}

	total := 0
	for _, msg := range req.Messages {
		total += e.TokensPerMessage
		total += e.estimate(string(msg.Role))
		total += e.estimate(msg.ContentText())
		total += e.estimate(msg.Name)
		for _, tc := range msg.ToolCalls {
			total += 3
			total += e.estimate(tc.Function.Name)
			total += e.estimate(tc.Function.Arguments)
		}
		total += e.estimate(msg.ToolCallID)
	}

	for _, tool := range req.Tools {
		total += e.estimate(tool.Function.Name)
		total += e.estimate(tool.Function.Description)
		// Tool schema adds overhead
		total += 12
	}

	// reply priming
	total += 3

	return &domain.TokenCountResponse{
		InputTokens: total,
		Model:       req.Model,
		Estimated:   true,
	}, nil
}

// SupportsModel returns true - estimator supports all models as a fallback.
func (e *Estimator) SupportsModel(model string) bool {
	return true
}

// ModelMatcher helps match model names to rule patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	return m.Score(model) > 0
}

// Score ranks how specifically the matcher matches model: math.MaxInt for
// an exact name, the prefix length for a prefix match, 0 for no match.
func (m *ModelMatcher) Score(model string) int {
	// Check exact matches first
	for _, e := range m.exact {
		if model == e {
			return math.MaxInt
		}
	}

	best := 0
	for _, p := range m.prefixes {
		if p != "" && strings.HasPrefix(model, p) && len(p) > best {
			best = len(p)
		}
	}
	return best
}
