package translator

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformResponse_SimpleText(t *testing.T) {
	resp := &openai.ChatCompletion{
		ID:    "r1",
		Model: "m",
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "stop",
				Message: openai.ChatCompletionMessage{
					Content: "hello",
				},
			},
		},
		Usage: openai.CompletionUsage{
			PromptTokens:     1,
			CompletionTokens: 2,
		},
	}

	msg, err := TransformResponse(resp, "m")
	require.NoError(t, err)

	assert.Equal(t, "r1", msg.ID)
	assert.Equal(t, anthropic.MessageRole("assistant"), msg.Role)
	assert.Equal(t, anthropic.StopReason("end_turn"), msg.StopReason)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "hello", msg.Content[0].Text)
	assert.EqualValues(t, 1, msg.Usage.InputTokens)
	assert.EqualValues(t, 2, msg.Usage.OutputTokens)
}

func TestTransformResponse_NoChoices(t *testing.T) {
	_, err := TransformResponse(&openai.ChatCompletion{}, "m")
	assert.ErrorIs(t, err, ErrInvalidUpstreamResponse)
}

func TestTransformResponse_ToolCalls(t *testing.T) {
	resp := &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "tool_calls",
				Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ChatCompletionMessageToolCall{
						{
							ID: "t1",
							Function: openai.ChatCompletionMessageToolCallFunction{
								Name:      "lookup",
								Arguments: `{"q":"x"}`,
							},
						},
					},
				},
			},
		},
	}

	msg, err := TransformResponse(resp, "m")
	require.NoError(t, err)
	assert.Equal(t, anthropic.StopReason("tool_use"), msg.StopReason)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, "t1", msg.Content[0].ID)
}
