package tokencount_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boerz-coding/camel/pkg/tokencount"
)

func TestCounter_RequestsSplitAddReplyPriming(t *testing.T) {
	counter, err := tokencount.NewCounter("gpt-4")
	require.NoError(t, err)

	call, err := tokencount.NewToolCall("call_abc123", "get_weather", map[string]string{"location": "San Francisco, CA"})
	require.NoError(t, err)

	first := []tokencount.Message{
		tokencount.SystemMessage("You are a helpful assistant."),
		tokencount.UserMessage("What's the weather in San Francisco?"),
		tokencount.AssistantMessage("", call),
	}
	second := []tokencount.Message{
		tokencount.ToolMessage("call_abc123", `{"temperature": 72, "conditions": "sunny"}`),
	}
	whole := append(append([]tokencount.Message{}, first...), second...)

	a, err := counter.CountTokensFromMessages(first)
	require.NoError(t, err)
	b, err := counter.CountTokensFromMessages(second)
	require.NoError(t, err)
	all, err := counter.CountTokensFromMessages(whole)
	require.NoError(t, err)

	assert.Equal(t, counter.Rule().ReplyPriming, a+b-all, "splitting a conversation pays reply priming once more")
	assert.NoError(t, tokencount.ValidateConversation(whole))
}

func TestCounter_Errors(t *testing.T) {
	_, err := tokencount.NewCounter("claude-3")
	assert.ErrorIs(t, err, tokencount.ErrUnsupportedModel)

	counter, err := tokencount.NewCounter("gpt-4o")
	require.NoError(t, err)

	_, err = counter.CountTokensFromMessages([]tokencount.Message{
		{Role: tokencount.RoleTool, Content: tokencount.Text("72")},
	})
	assert.ErrorIs(t, err, tokencount.ErrMalformedMessage)

	var msgErr *tokencount.MessageError
	require.ErrorAs(t, err, &msgErr)
	assert.Equal(t, "tool_call_id", msgErr.Field)
}

func TestValidateConversation_UnmatchedToolResponse(t *testing.T) {
	err := tokencount.ValidateConversation([]tokencount.Message{
		tokencount.UserMessage("What's the weather?"),
		tokencount.ToolMessage("call_missing", "72"),
	})
	assert.ErrorIs(t, err, tokencount.ErrUnmatchedToolResponse)
}
