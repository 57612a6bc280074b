package translator

import (
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
)

// TransformResponse converts a non-streamed OpenAI chat completion into an
// Anthropic message, built via a JSON-map-then-unmarshal pass because the
// union-typed anthropic.Message fields (nullable usage counters, content
// block variants) are easier to express as a map literal than to construct
// field-by-field through the SDK's param types.
func TransformResponse(resp *openai.ChatCompletion, model string) (anthropic.Message, error) {
	if len(resp.Choices) == 0 {
		return anthropic.Message{}, ErrInvalidUpstreamResponse
	}

	choice := resp.Choices[0]

	id := resp.ID
	if id == "" {
		id = "msg_" + uuid.New().String()
	}

	responseJSON := map[string]any{
		"id":            id,
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"stop_reason":   mapFinishReason(string(choice.FinishReason)),
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":               resp.Usage.PromptTokens,
			"output_tokens":              resp.Usage.CompletionTokens,
			"cache_creation":             nil,
			"cache_creation_input_tokens": nil,
			"cache_read_input_tokens":    nil,
			"server_tool_use":            nil,
			"service_tier":               "standard",
		},
	}

	var blocks []map[string]any

	if choice.Message.Content != "" {
		blocks = append(blocks, map[string]any{
			"type":       "text",
			"text":       choice.Message.Content,
			"citations":  nil,
		})
	}

	if extra := choice.Message.JSON.ExtraFields; extra != nil {
		if reasoning, ok := extra["reasoning_content"]; ok {
			raw := reasoning.Raw()
			var thinking string
			if err := json.Unmarshal([]byte(raw), &thinking); err != nil {
				thinking = raw
			}
			if thinking != "" {
				blocks = append(blocks, map[string]any{
					"type":      "thinking",
					"thinking":  thinking,
					"signature": "",
				})
			}
		}
	}

	for _, call := range choice.Message.ToolCalls {
		var input any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &input); err != nil {
			input = call.Function.Arguments
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    call.ID,
			"name":  call.Function.Name,
			"input": input,
		})
	}

	responseJSON["content"] = blocks

	jsonBytes, err := json.Marshal(responseJSON)
	if err != nil {
		return anthropic.Message{}, fmt.Errorf("translator: marshal response: %w", err)
	}

	var msg anthropic.Message
	if err := json.Unmarshal(jsonBytes, &msg); err != nil {
		return anthropic.Message{}, fmt.Errorf("translator: unmarshal response: %w", err)
	}

	return msg, nil
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "function_call":
		return "tool_use"
	case "content_filter":
		return "refusal"
	default:
		return "end_turn"
	}
}
