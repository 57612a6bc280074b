package translator

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformRequest_SimpleText(t *testing.T) {
	req := &anthropic.MessageNewParams{
		Model:     "m",
		MaxTokens: 10,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	}

	out := TransformRequest(req, false, nil)

	assert.Equal(t, "m", string(out.Model))
	require.Len(t, out.Messages, 1)
	assert.Equal(t, int64(10), out.ExtraFields()["max_completion_tokens"])
	assert.Equal(t, false, out.ExtraFields()["stream"])
}

func TestTransformRequest_CarriesStreamFlag(t *testing.T) {
	req := &anthropic.MessageNewParams{
		Model:     "m",
		MaxTokens: 10,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	}

	out := TransformRequest(req, true, nil)

	assert.Equal(t, true, out.ExtraFields()["stream"])
}

func TestTransformRequest_SystemArray(t *testing.T) {
	req := &anthropic.MessageNewParams{
		Model:     "m",
		MaxTokens: 10,
		System: []anthropic.TextBlockParam{
			{Text: "A"},
			{Text: "B"},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("hi")),
		},
	}

	out := TransformRequest(req, false, nil)

	require.GreaterOrEqual(t, len(out.Messages), 2)
	assert.NotNil(t, out.Messages[0].OfSystem)
}

func TestTransformRequest_ToolResultRouting(t *testing.T) {
	req := &anthropic.MessageNewParams{
		Model:     "m",
		MaxTokens: 10,
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewToolResultBlock("t1", "ok", false),
					anthropic.NewTextBlock("ignored"),
				},
			},
		},
	}

	out := TransformRequest(req, false, nil)

	require.Len(t, out.Messages, 1)
	assert.NotNil(t, out.Messages[0].OfTool)
}
