package tokencount

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/boerz-coding/camel/internal/domain"
)

// FromOpenAIMessages converts go-openai chat messages. Multi-part content is
// joined from its text parts; image parts cannot be counted and are rejected.
// The deprecated function role and FunctionCall field are rejected with a
// *MessageError wrapping ErrLegacyFunctionCalling.
func FromOpenAIMessages(msgs []openai.ChatCompletionMessage) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		switch {
		case m.Role == openai.ChatMessageRoleFunction:
			return nil, legacyError(i, "role", `"function" messages are not supported, use "tool" messages`)
		case m.FunctionCall != nil:
			return nil, legacyError(i, "function_call", "FunctionCall is not supported, use ToolCalls")
		}

		msg := Message{
			Role:       domain.Role(m.Role),
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}

		text := m.Content
		if len(m.MultiContent) > 0 {
			var b strings.Builder
			for j, part := range m.MultiContent {
				if part.Type != openai.ChatMessagePartTypeText {
					return nil, fmt.Errorf("messages[%d].content[%d]: unsupported part type %q", i, j, part.Type)
				}
				b.WriteString(part.Text)
			}
			text = b.String()
		}
		// An assistant turn that only calls tools carries null content.
		if text != "" || len(m.ToolCalls) == 0 {
			msg.Content = Text(text)
		}

		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, ToolCall{
				ID:   tc.ID,
				Type: string(tc.Type),
				Function: FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out, nil
}

func legacyError(index int, field, reason string) error {
	return &MessageError{
		Index:  index,
		Field:  field,
		Reason: reason,
		Err:    fmt.Errorf("%w: %w", ErrMalformedMessage, ErrLegacyFunctionCalling),
	}
}

// FromOpenAITools converts go-openai tool definitions.
func FromOpenAITools(tools []openai.Tool) []ToolDefinition {
	out := make([]ToolDefinition, 0, len(tools))
	for _, t := range tools {
		def := ToolDefinition{Type: string(t.Type)}
		if t.Function != nil {
			def.Function = FunctionDef{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			}
		}
		out = append(out, def)
	}
	return out
}

// CountOpenAIRequest counts the prompt tokens of a go-openai chat request:
// its messages plus any tool definitions. Requests using the deprecated
// Functions or FunctionCall fields fail with ErrLegacyFunctionCalling.
func CountOpenAIRequest(req openai.ChatCompletionRequest) (int, error) {
	switch {
	case len(req.Functions) > 0:
		return 0, fmt.Errorf("functions: %w, declare them as Tools", ErrLegacyFunctionCalling)
	case req.FunctionCall != nil:
		return 0, fmt.Errorf("function_call: %w, use ToolChoice", ErrLegacyFunctionCalling)
	}
	counter, err := NewCounter(req.Model)
	if err != nil {
		return 0, err
	}
	msgs, err := FromOpenAIMessages(req.Messages)
	if err != nil {
		return 0, err
	}
	total, err := counter.CountTokensFromMessages(msgs)
	if err != nil {
		return 0, err
	}
	if len(req.Tools) > 0 {
		n, err := counter.CountTools(FromOpenAITools(req.Tools))
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
