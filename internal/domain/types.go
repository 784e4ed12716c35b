package domain

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"

	// RoleFunction is the deprecated predecessor of RoleTool. Messages with
	// it fail validation.
	RoleFunction Role = "function"
)

// ToolCallTypeFunction is the only tool call type chat APIs emit today.
const ToolCallTypeFunction = "function"

// Message represents a chat message in the chat-completions schema.
type Message struct {
	Role Role `json:"role" validate:"required,oneof=system user assistant tool"`
	// Content is nil when the field is absent, which is legal for assistant
	// messages that only carry tool calls.
	Content    *string    `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty" validate:"omitempty,dive"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// FunctionCall is the deprecated single-call form of ToolCalls. It is
	// decoded only so validation can reject it.
	FunctionCall *FunctionCall `json:"function_call,omitempty" validate:"-"`
}

// ToolCall is a structured function invocation embedded in an assistant message.
type ToolCall struct {
	ID       string       `json:"id" validate:"required"`
	Type     string       `json:"type" validate:"required,eq=function"`
	Function FunctionCall `json:"function"`
}

// FunctionCall names the function and carries its serialized arguments.
type FunctionCall struct {
	Name      string `json:"name" validate:"required"`
	Arguments string `json:"arguments" validate:"omitempty,json"`
}

// ToolDefinition represents a tool that the model can call.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes the function signature.
type FunctionDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"` // JSON Schema
}

// Text returns a pointer to s, for filling Message.Content.
func Text(s string) *string {
	return &s
}

// ContentText returns the message content, or "" when absent.
func (m Message) ContentText() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// SystemMessage builds a system message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: Text(text)}
}

// UserMessage builds a user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: Text(text)}
}

// AssistantMessage builds an assistant message with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: Text(text), ToolCalls: calls}
}

// ToolMessage builds a tool response for the call with the given id.
func ToolMessage(toolCallID, text string) Message {
	return Message{Role: RoleTool, Content: Text(text), ToolCallID: toolCallID}
}

// NewToolCall builds a function tool call, marshaling args to JSON.
// A string or json.RawMessage is used as-is.
func NewToolCall(id, name string, args any) (ToolCall, error) {
	var raw string
	switch v := args.(type) {
	case nil:
		raw = "{}"
	case string:
		raw = v
	case json.RawMessage:
		raw = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ToolCall{}, fmt.Errorf("marshal arguments for %s: %w", name, err)
		}
		raw = string(b)
	}

	return ToolCall{
		ID:   id,
		Type: ToolCallTypeFunction,
		Function: FunctionCall{
			Name:      name,
			Arguments: raw,
		},
	}, nil
}
