// Package tokencount provides the public API for counting the tokens an
// OpenAI chat request will consume, and for embedding the counting service.
// This is the stable API for external consumers.
package tokencount

import (
	"github.com/boerz-coding/camel/internal/domain"
	"github.com/boerz-coding/camel/internal/runtime"
	"github.com/boerz-coding/camel/internal/tokens"
)

// Chat message schema. See internal/domain for full documentation.
type (
	Role           = domain.Role
	Message        = domain.Message
	ToolCall       = domain.ToolCall
	FunctionCall   = domain.FunctionCall
	ToolDefinition = domain.ToolDefinition
	FunctionDef    = domain.FunctionDef
	MessageError   = domain.MessageError
)

const (
	RoleSystem    = domain.RoleSystem
	RoleUser      = domain.RoleUser
	RoleAssistant = domain.RoleAssistant
	RoleTool      = domain.RoleTool
)

// Message constructors
var (
	SystemMessage    = domain.SystemMessage
	UserMessage      = domain.UserMessage
	AssistantMessage = domain.AssistantMessage
	ToolMessage      = domain.ToolMessage
	NewToolCall      = domain.NewToolCall
	Text             = domain.Text

	// ValidateConversation also requires every tool response to answer an
	// earlier tool call. Counting does not enforce this.
	ValidateConversation = domain.ValidateConversation
)

// Errors
var (
	ErrMalformedMessage      = domain.ErrMalformedMessage
	ErrUnmatchedToolResponse = domain.ErrUnmatchedToolResponse
	ErrLegacyFunctionCalling = domain.ErrLegacyFunctionCalling
	ErrUnsupportedModel      = tokens.ErrUnsupportedModel
)

// Counter counts tokens for one model. It is safe for concurrent use.
type Counter = tokens.ModelCounter

// Rule is one model family's encoding and framing overheads.
type Rule = tokens.Rule

// NewCounter creates a counter for model using the built-in rules.
// Example:
//
//	counter, err := tokencount.NewCounter("gpt-4")
//	n, err := counter.CountTokensFromMessages([]tokencount.Message{
//	    tokencount.UserMessage("What's the weather in San Francisco?"),
//	})
var NewCounter = tokens.NewModelCounter

// Service is the embeddable HTTP counting service.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// NewService creates a Service with the given options.
// Example:
//
//	svc, err := tokencount.NewService(tokencount.WithFileConfig("config.yaml"))
var NewService = runtime.New

// Service options
var (
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig
	WithStore      = runtime.WithStore
	WithLogger     = runtime.WithLogger
)
