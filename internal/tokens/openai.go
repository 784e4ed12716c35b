package tokens

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tiktoken-go/tokenizer"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/boerz-coding/camel/internal/domain"
)

var tracer = otel.Tracer("github.com/boerz-coding/camel/internal/tokens")

// OpenAICounter provides exact token counts for OpenAI chat models using
// tiktoken encodings and a versioned table of framing overheads.
// It holds no mutable state and is safe for concurrent use.
type OpenAICounter struct {
	rules *RuleSet
}

// NewOpenAICounter creates a counter over rules. A nil rule set selects
// DefaultRuleSet.
func NewOpenAICounter(rules *RuleSet) *OpenAICounter {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	return &OpenAICounter{rules: rules}
}

// Rules returns the counter's rule set.
func (c *OpenAICounter) Rules() *RuleSet {
	return c.rules
}

// ForModel binds the counter to a single model.
func (c *OpenAICounter) ForModel(model string) (*ModelCounter, error) {
	rule, err := c.rules.Lookup(model)
	if err != nil {
		return nil, err
	}
	codec, err := codecFor(rule.Encoding)
	if err != nil {
		return nil, err
	}
	return &ModelCounter{model: model, rule: rule, codec: codec}, nil
}

// CountTokens counts tokens for OpenAI models using tiktoken.
func (c *OpenAICounter) CountTokens(ctx context.Context, req *domain.TokenCountRequest) (*domain.TokenCountResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, span := tracer.Start(ctx, "tokens.count")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Int("llm.message_count", len(req.Messages)),
		attribute.Int("llm.tool_count", len(req.Tools)),
	)

	total, err := c.count(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.input_tokens", total))

	return &domain.TokenCountResponse{
		InputTokens:  total,
		Model:        req.Model,
		Estimated:    false,
		RulesVersion: c.rules.Version(),
	}, nil
}

func (c *OpenAICounter) count(req *domain.TokenCountRequest) (int, error) {
	if err := req.CheckLegacyFields(); err != nil {
		return 0, err
	}
	mc, err := c.ForModel(req.Model)
	if err != nil {
		return 0, err
	}
	total, err := mc.CountTokensFromMessages(req.Messages)
	if err != nil {
		return 0, err
	}
	if len(req.Tools) > 0 {
		n, err := mc.CountTools(req.Tools)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// SupportsModel returns true for models with a counting rule.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.rules.Supports(model)
}

// CountText counts tokens for a plain text string.
func (c *OpenAICounter) CountText(model, text string) (int, error) {
	mc, err := c.ForModel(model)
	if err != nil {
		return 0, err
	}
	return mc.CountText(text)
}

// ContextWindow returns the model's token limit when the rule declares one.
func (c *OpenAICounter) ContextWindow(model string) (int, bool) {
	rule, err := c.rules.Lookup(model)
	if err != nil || rule.ContextWindow == 0 {
		return 0, false
	}
	return rule.ContextWindow, true
}

// ModelCounter counts tokens for one model.
type ModelCounter struct {
	model string
	rule  Rule
	codec tokenizer.Codec
}

// NewModelCounter binds the built-in rules to model.
func NewModelCounter(model string) (*ModelCounter, error) {
	return NewOpenAICounter(nil).ForModel(model)
}

// Model returns the model name the counter was built for.
func (m *ModelCounter) Model() string {
	return m.model
}

// Rule returns the counting rule in effect.
func (m *ModelCounter) Rule() Rule {
	return m.rule
}

// CountTokensFromMessages returns the prompt tokens msgs cost as one request.
//
// Each message pays TokensPerMessage plus its encoded role, content, name and
// tool call id. Each tool call pays TokensPerToolCall plus its encoded function
// name and arguments. The request pays ReplyPriming once, which is why two
// halves of a conversation counted separately never total less than the whole.
func (m *ModelCounter) CountTokensFromMessages(msgs []domain.Message) (int, error) {
	if err := domain.ValidateMessages(msgs); err != nil {
		return 0, err
	}

	t := &tally{codec: m.codec}
	for _, msg := range msgs {
		t.add(m.rule.TokensPerMessage)
		t.text(string(msg.Role))
		if msg.Content != nil {
			t.text(*msg.Content)
		}
		if msg.Name != "" {
			t.text(msg.Name)
			t.add(m.rule.TokensPerName)
		}
		for _, tc := range msg.ToolCalls {
			t.add(m.rule.TokensPerToolCall)
			t.text(tc.Function.Name)
			t.text(tc.Function.Arguments)
		}
		t.text(msg.ToolCallID)
	}
	t.add(m.rule.ReplyPriming)

	if t.err != nil {
		return 0, fmt.Errorf("count %s messages: %w", m.model, t.err)
	}
	return t.total, nil
}

// CountTools returns the tokens tool definitions add to a request.
func (m *ModelCounter) CountTools(tools []domain.ToolDefinition) (int, error) {
	t := &tally{codec: m.codec}
	for _, tool := range tools {
		if tool.Function.Name == "" {
			return 0, domain.ErrInvalidRequest("tool definition is missing a function name").WithParam("tools")
		}
		t.add(m.rule.TokensPerToolDefinition)
		t.text(tool.Function.Name)
		t.text(tool.Function.Description)
		if tool.Function.Parameters != nil {
			params, err := json.Marshal(tool.Function.Parameters)
			if err != nil {
				return 0, fmt.Errorf("marshal parameters for %s: %w", tool.Function.Name, err)
			}
			t.text(string(params))
		}
	}
	if t.err != nil {
		return 0, fmt.Errorf("count %s tools: %w", m.model, t.err)
	}
	return t.total, nil
}

// CountText counts tokens for a plain text string.
func (m *ModelCounter) CountText(text string) (int, error) {
	t := &tally{codec: m.codec}
	t.text(text)
	if t.err != nil {
		return 0, t.err
	}
	return t.total, nil
}
