package translator

import (
	"encoding/json"
	"sort"

	"github.com/openai/openai-go/v3"
	"github.com/sirupsen/logrus"
)

// EventWriter emits one Anthropic SSE event. Implementations serialize data
// as JSON; flushing is left to the caller (see dispatch.StreamWriter).
// Translator package code never depends on gin or net/http directly so it
// stays unit-testable.
type EventWriter interface {
	WriteEvent(eventType string, data map[string]any)
}

// StreamTranslator drives a StreamState from a sequence of upstream OpenAI
// chunks, emitting the Anthropic event grammar described in the component
// design. One StreamTranslator may be reused across sessions; all mutable
// state lives in the StreamState passed to each call.
type StreamTranslator struct {
	writer EventWriter
}

// NewStreamTranslator builds a translator that emits events to w.
func NewStreamTranslator(w EventWriter) *StreamTranslator {
	return &StreamTranslator{writer: w}
}

// HandleChunk applies one upstream chunk to state, possibly emitting zero or
// more downstream events. model is used only for the message_start event
// that this chunk may trigger.
func (t *StreamTranslator) HandleChunk(state *StreamState, chunk *openai.ChatCompletionChunk, model string) {
	if chunk.Usage.PromptTokens != 0 {
		state.InputTokens = chunk.Usage.PromptTokens
	}
	if chunk.Usage.CompletionTokens != 0 {
		state.OutputTokens = chunk.Usage.CompletionTokens
	}

	if len(chunk.Choices) == 0 {
		return
	}
	choice := chunk.Choices[0]
	delta := choice.Delta

	if delta.Role != "" && !state.messageStarted {
		state.messageStarted = true
		t.writer.WriteEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            state.SessionID,
				"type":          "message",
				"role":          "assistant",
				"content":       []any{},
				"model":         model,
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage": map[string]any{
					"input_tokens":  0,
					"output_tokens": 0,
				},
			},
		})
	}

	if delta.Content != "" && hasReasoningContent(delta) {
		logrus.Warn("translator: delta carries both text and thinking content, flushing text first")
	}

	switch {
	case delta.Content != "":
		t.handleText(state, delta.Content)
	case hasReasoningContent(delta):
		t.handleThinking(state, reasoningContentOf(delta))
	case len(delta.ToolCalls) > 0:
		t.handleToolCalls(state, delta.ToolCalls)
	}

	if choice.FinishReason != "" {
		t.closeOpenNonToolBlock(state)
		t.closeAllToolBlocks(state)
		stopReason := mapFinishReasonToStop(string(choice.FinishReason))
		t.writer.WriteEvent("message_delta", map[string]any{
			"type": "message_delta",
			"delta": map[string]any{
				"stop_reason":   stopReason,
				"stop_sequence": nil,
			},
			// output_tokens carries input plus output tokens combined, not
			// output tokens alone; input_tokens is always 0 here.
			"usage": map[string]any{
				"output_tokens": state.InputTokens + state.OutputTokens,
				"input_tokens":  0,
			},
		})
	}
}

// HandleDone emits message_stop for a session. Callers discard the
// StreamState immediately afterward.
func (t *StreamTranslator) HandleDone(state *StreamState) {
	t.writer.WriteEvent("message_stop", map[string]any{
		"type": "message_stop",
	})
}

func (t *StreamTranslator) handleText(state *StreamState, text string) {
	if state.thinkingBlockIndex != -1 {
		t.writer.WriteEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": state.thinkingBlockIndex,
			"delta": map[string]any{"type": "signature_delta", "signature": ""},
		})
		t.writer.WriteEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": state.thinkingBlockIndex,
		})
		state.thinkingBlockIndex = -1
	}
	t.closeAllToolBlocks(state)

	if state.textBlockIndex == -1 {
		state.textBlockIndex = state.nextBlockIndex
		state.nextBlockIndex++
		state.hasTextContent = true
		t.writer.WriteEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": state.textBlockIndex,
			"content_block": map[string]any{
				"type":      "text",
				"text":      "",
				"citations": nil,
			},
		})
	}

	t.writer.WriteEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": state.textBlockIndex,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})
}

func (t *StreamTranslator) handleThinking(state *StreamState, thinking string) {
	if state.hasTextContent && state.textBlockIndex != -1 {
		t.writer.WriteEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": state.textBlockIndex,
		})
		state.textBlockIndex = -1
	}
	t.closeAllToolBlocks(state)

	if state.thinkingBlockIndex == -1 {
		state.thinkingBlockIndex = state.nextBlockIndex
		state.nextBlockIndex++
		state.hasThinkingContent = true
		t.writer.WriteEvent("content_block_start", map[string]any{
			"type":  "content_block_start",
			"index": state.thinkingBlockIndex,
			"content_block": map[string]any{
				"type":      "thinking",
				"thinking":  "",
				"signature": "",
			},
		})
	}

	t.writer.WriteEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": state.thinkingBlockIndex,
		"delta": map[string]any{"type": "thinking_delta", "thinking": thinking},
	})
}

func (t *StreamTranslator) handleToolCalls(state *StreamState, toolCalls []openai.ChatCompletionChunkChoiceDeltaToolCall) {
	if state.thinkingBlockIndex != -1 {
		t.writer.WriteEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": state.thinkingBlockIndex,
			"delta": map[string]any{"type": "signature_delta", "signature": ""},
		})
		t.writer.WriteEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": state.thinkingBlockIndex,
		})
		state.thinkingBlockIndex = -1
	}
	if state.hasTextContent && state.textBlockIndex != -1 {
		t.writer.WriteEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": state.textBlockIndex,
		})
		state.textBlockIndex = -1
	}

	for _, call := range toolCalls {
		upstreamIndex := int(call.Index)

		blockIndex, exists := state.toolIndexToBlockIndex[upstreamIndex]
		if call.ID != "" {
			if exists {
				t.writer.WriteEvent("content_block_stop", map[string]any{
					"type":  "content_block_stop",
					"index": blockIndex,
				})
				delete(state.openToolBlocks, blockIndex)
			}
			blockIndex = state.nextBlockIndex
			state.nextBlockIndex++
			state.toolIndexToBlockIndex[upstreamIndex] = blockIndex
			state.openToolBlocks[blockIndex] = toolBlockInfo{id: call.ID, name: call.Function.Name}

			t.writer.WriteEvent("content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": blockIndex,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    call.ID,
					"name":  call.Function.Name,
					"input": map[string]any{},
				},
			})
		}

		if call.Function.Arguments != "" {
			t.writer.WriteEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": call.Function.Arguments},
			})
		}
	}
}

func (t *StreamTranslator) closeOpenNonToolBlock(state *StreamState) {
	if state.thinkingBlockIndex != -1 {
		t.writer.WriteEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": state.thinkingBlockIndex,
			"delta": map[string]any{"type": "signature_delta", "signature": ""},
		})
		t.writer.WriteEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": state.thinkingBlockIndex,
		})
		state.thinkingBlockIndex = -1
		return
	}
	if state.hasTextContent && state.textBlockIndex != -1 {
		t.writer.WriteEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": state.textBlockIndex,
		})
		state.textBlockIndex = -1
	}
}

func (t *StreamTranslator) closeAllToolBlocks(state *StreamState) {
	if len(state.openToolBlocks) == 0 {
		return
	}
	indices := make([]int, 0, len(state.openToolBlocks))
	for idx := range state.openToolBlocks {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		t.writer.WriteEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": idx,
		})
	}
	state.openToolBlocks = make(map[int]toolBlockInfo)
	state.toolIndexToBlockIndex = make(map[int]int)
}

func mapFinishReasonToStop(reason string) string {
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

// hasReasoningContent and reasoningContentOf read the non-standard
// reasoning_content delta field, which the openai-go struct does not model
// directly; it surfaces through the delta's raw JSON extra fields the same
// way TransformResponse reads reasoning_content off a completed message.
func hasReasoningContent(delta openai.ChatCompletionChunkChoiceDelta) bool {
	extra := delta.JSON.ExtraFields
	if extra == nil {
		return false
	}
	_, ok := extra["reasoning_content"]
	return ok
}

func reasoningContentOf(delta openai.ChatCompletionChunkChoiceDelta) string {
	extra := delta.JSON.ExtraFields
	if extra == nil {
		return ""
	}
	field, ok := extra["reasoning_content"]
	if !ok {
		return ""
	}
	raw := field.Raw()
	var s string
	if err := json.Unmarshal([]byte(raw), &s); err == nil {
		return s
	}
	return raw
}
