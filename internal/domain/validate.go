package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformedMessage is wrapped by every message shape violation.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrUnmatchedToolResponse marks a tool response whose tool_call_id was
	// never issued earlier in the conversation.
	ErrUnmatchedToolResponse = errors.New("tool response does not match an earlier tool call")

	// ErrLegacyFunctionCalling marks the deprecated functions/function_call
	// fields and the function role, which are rejected rather than counted.
	ErrLegacyFunctionCalling = errors.New("legacy function calling is not supported")
)

// MessageError describes a problem with one message of a conversation.
type MessageError struct {
	// Index is the position in the conversation, or -1 for a lone message.
	Index  int
	Field  string
	Reason string
	Err    error
}

func (e *MessageError) Error() string {
	return e.Path() + ": " + e.Reason
}

// Path locates the offending field, e.g. "messages[2].tool_calls[0].id".
func (e *MessageError) Path() string {
	var b strings.Builder
	if e.Index >= 0 {
		fmt.Fprintf(&b, "messages[%d]", e.Index)
	} else {
		b.WriteString("message")
	}
	if e.Field != "" {
		b.WriteString(".")
		b.WriteString(e.Field)
	}
	return b.String()
}

func (e *MessageError) Unwrap() error {
	return e.Err
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func messageValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report json field names so errors match the wire schema.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate checks the message shape against the rules for its role.
func (m Message) Validate() error {
	if err := m.validate(-1); err != nil {
		return err
	}
	return nil
}

func (m Message) validate(index int) *MessageError {
	// Checked before the struct rules so the role error names the real problem.
	legacy := func(field, reason string) *MessageError {
		return &MessageError{
			Index:  index,
			Field:  field,
			Reason: reason,
			Err:    fmt.Errorf("%w: %w", ErrMalformedMessage, ErrLegacyFunctionCalling),
		}
	}
	if m.Role == RoleFunction {
		return legacy("role", `legacy "function" messages are not supported, send "tool" messages with a tool_call_id`)
	}
	if m.FunctionCall != nil {
		return legacy("function_call", "legacy function_call is not supported, send tool_calls")
	}

	if err := messageValidator().Struct(m); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			_, field, _ := strings.Cut(fe.Namespace(), ".")
			return &MessageError{
				Index:  index,
				Field:  field,
				Reason: describeTag(fe),
				Err:    ErrMalformedMessage,
			}
		}
		return &MessageError{Index: index, Reason: err.Error(), Err: ErrMalformedMessage}
	}

	malformed := func(field, reason string) *MessageError {
		return &MessageError{Index: index, Field: field, Reason: reason, Err: ErrMalformedMessage}
	}

	switch m.Role {
	case RoleSystem, RoleUser:
		if m.Content == nil {
			return malformed("content", fmt.Sprintf("required for %s messages", m.Role))
		}
	case RoleAssistant:
		if m.Content == nil && len(m.ToolCalls) == 0 {
			return malformed("content", "assistant messages need content or tool_calls")
		}
	case RoleTool:
		if m.ToolCallID == "" {
			return malformed("tool_call_id", "required for tool messages")
		}
		if m.Content == nil {
			return malformed("content", "required for tool messages")
		}
	}

	if m.Role != RoleAssistant && len(m.ToolCalls) > 0 {
		return malformed("tool_calls", "only allowed on assistant messages")
	}
	if m.Role != RoleTool && m.ToolCallID != "" {
		return malformed("tool_call_id", "only allowed on tool messages")
	}
	return nil
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fe.Value())
	case "eq":
		return fmt.Sprintf("must be %q, got %q", fe.Param(), fe.Value())
	case "json":
		return "must be valid JSON"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// ValidateMessages validates each message in order and returns the first
// failure as a *MessageError.
func ValidateMessages(msgs []Message) error {
	for i, m := range msgs {
		if err := m.validate(i); err != nil {
			return err
		}
	}
	return nil
}

// ValidateConversation runs ValidateMessages and additionally requires every
// tool response to answer a tool call issued earlier in msgs.
func ValidateConversation(msgs []Message) error {
	if err := ValidateMessages(msgs); err != nil {
		return err
	}

	issued := make(map[string]struct{})
	for i, m := range msgs {
		for _, tc := range m.ToolCalls {
			issued[tc.ID] = struct{}{}
		}
		if m.Role != RoleTool {
			continue
		}
		if _, ok := issued[m.ToolCallID]; !ok {
			return &MessageError{
				Index:  i,
				Field:  "tool_call_id",
				Reason: fmt.Sprintf("no earlier tool call with id %q", m.ToolCallID),
				Err:    ErrUnmatchedToolResponse,
			}
		}
	}
	return nil
}
