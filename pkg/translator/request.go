package translator

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/shared"
	"github.com/sirupsen/logrus"
)

// TransformRequest converts an Anthropic MessageNewParams into an OpenAI
// ChatCompletionNewParams following the Anthropic -> OpenAI message,
// tool, and tool_choice mapping rules. stream and metadata are taken from
// the raw request body because the Anthropic SDK's typed params do not
// carry either field the way this gateway's wire contract requires.
func TransformRequest(req *anthropic.MessageNewParams, stream bool, metadata map[string]any) *openai.ChatCompletionNewParams {
	out := &openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
	}

	out.MaxTokens = openai.Opt(req.MaxTokens)

	if req.Temperature.Valid() {
		out.Temperature = openai.Opt(req.Temperature.Value)
	}
	if req.TopP.Valid() {
		out.TopP = openai.Opt(req.TopP.Value)
	}
	if len(req.StopSequences) > 0 {
		out.Stop.OfStringArray = req.StopSequences
	}

	for _, msg := range req.Messages {
		switch string(msg.Role) {
		case "user":
			out.Messages = append(out.Messages, convertUserMessage(msg)...)
		case "assistant":
			out.Messages = append(out.Messages, convertAssistantMessage(msg))
		}
	}

	if len(req.System) > 0 {
		systemText := textBlocksToString(req.System)
		if systemText != "" {
			out.Messages = append([]openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemText),
			}, out.Messages...)
		}
	}

	if len(req.Tools) > 0 {
		out.Tools = convertTools(req.Tools)
	}

	if req.ToolChoice.OfAuto != nil || req.ToolChoice.OfAny != nil || req.ToolChoice.OfTool != nil || req.ToolChoice.OfNone != nil {
		out.ToolChoice = convertToolChoice(&req.ToolChoice)
	}

	disableParallel := req.ToolChoice.OfAuto != nil && req.ToolChoice.OfAuto.DisableParallelToolUse.Valid() && req.ToolChoice.OfAuto.DisableParallelToolUse.Value ||
		req.ToolChoice.OfAny != nil && req.ToolChoice.OfAny.DisableParallelToolUse.Valid() && req.ToolChoice.OfAny.DisableParallelToolUse.Value ||
		req.ToolChoice.OfTool != nil && req.ToolChoice.OfTool.DisableParallelToolUse.Valid() && req.ToolChoice.OfTool.DisableParallelToolUse.Value
	if disableParallel {
		out.ParallelToolCalls = openai.Opt(false)
	}

	extra := out.ExtraFields()
	if extra == nil {
		extra = make(map[string]any)
	}
	extra["max_completion_tokens"] = req.MaxTokens
	out.MaxTokens = param.Opt[int64]{}
	extra["stream"] = stream
	if len(metadata) > 0 {
		coerced := make(map[string]any, len(metadata))
		for k, v := range metadata {
			if v == nil {
				continue
			}
			if s, ok := v.(string); ok {
				coerced[k] = s
				continue
			}
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			coerced[k] = string(b)
		}
		if len(coerced) > 0 {
			extra["metadata"] = coerced
		}
	}
	out.SetExtraFields(extra)

	return out
}

func convertTools(tools []anthropic.ToolUnionParam) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		tool := t.OfTool
		if tool == nil {
			continue
		}

		var parameters map[string]any
		if tool.InputSchema.Properties != nil || len(tool.InputSchema.Required) > 0 {
			parameters = make(map[string]any)
			parameters["type"] = "object"
			if tool.InputSchema.Properties != nil {
				parameters["properties"] = tool.InputSchema.Properties
			}
			if len(tool.InputSchema.Required) > 0 {
				parameters["required"] = tool.InputSchema.Required
			}
		}

		fn := shared.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: param.Opt[string]{Value: tool.Description.Value},
			Parameters:  parameters,
		}
		out = append(out, openai.ChatCompletionFunctionTool(fn))
	}
	return out
}

func convertToolChoice(tc *anthropic.ToolChoiceUnionParam) openai.ChatCompletionToolChoiceOptionUnionParam {
	switch {
	case tc.OfTool != nil:
		return openai.ToolChoiceOptionFunctionToolChoice(openai.ChatCompletionNamedToolChoiceFunctionParam{
			Name: tc.OfTool.Name,
		})
	case tc.OfAny != nil:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.Opt("required")}
	case tc.OfNone != nil:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.Opt("none")}
	default:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.Opt("auto")}
	}
}

func textBlocksToString(blocks []anthropic.TextBlockParam) string {
	var b strings.Builder
	for _, blk := range blocks {
		b.WriteString(blk.Text)
	}
	return b.String()
}

// convertAssistantMessage drops thinking blocks (logged) since there is no
// standard upstream OpenAI encoding for them, and carries text plus
// tool_calls through a JSON-map-then-unmarshal build, matching how the rest
// of this package constructs union-typed SDK values with fields the struct
// literal API can't express directly (tool_calls is a raw array here).
func convertAssistantMessage(msg anthropic.MessageParam) openai.ChatCompletionMessageParamUnion {
	var text strings.Builder
	var toolCalls []map[string]any

	for _, block := range msg.Content {
		switch {
		case block.OfText != nil:
			text.WriteString(block.OfText.Text)
		case block.OfToolUse != nil:
			args, _ := json.Marshal(block.OfToolUse.Input)
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.OfToolUse.ID,
				"type": "function",
				"function": map[string]any{
					"name":      block.OfToolUse.Name,
					"arguments": string(args),
				},
			})
		case block.OfThinking != nil:
			logrus.Debug("translator: dropping thinking block from assistant message, no upstream encoding")
		}
	}

	msgMap := map[string]any{
		"role": "assistant",
	}
	if text.Len() > 0 {
		msgMap["content"] = text.String()
	} else {
		msgMap["content"] = nil
	}
	if len(toolCalls) > 0 {
		msgMap["tool_calls"] = toolCalls
	}

	b, _ := json.Marshal(msgMap)
	var out openai.ChatCompletionMessageParamUnion
	_ = json.Unmarshal(b, &out)
	return out
}

// convertUserMessage returns zero or more OpenAI messages. When tool_result
// blocks are present each becomes its own "tool" role message and every
// other block in the source message is discarded, per the routing rule.
func convertUserMessage(msg anthropic.MessageParam) []openai.ChatCompletionMessageParamUnion {
	hasToolResult := false
	for _, block := range msg.Content {
		if block.OfToolResult != nil {
			hasToolResult = true
			break
		}
	}

	if hasToolResult {
		var out []openai.ChatCompletionMessageParamUnion
		for _, block := range msg.Content {
			if block.OfToolResult == nil {
				continue
			}
			toolMsg := map[string]any{
				"role":         "tool",
				"tool_call_id": block.OfToolResult.ToolUseID,
				"content":      toolResultContentToString(block.OfToolResult.Content),
			}
			b, _ := json.Marshal(toolMsg)
			var converted openai.ChatCompletionMessageParamUnion
			_ = json.Unmarshal(b, &converted)
			out = append(out, converted)
		}
		return out
	}

	parts := contentPartsOf(msg.Content)
	if len(parts) == 0 {
		return nil
	}
	if len(parts) == 1 {
		if s, ok := parts[0]["text"].(string); ok && parts[0]["type"] == "text" && len(parts) == 1 {
			return []openai.ChatCompletionMessageParamUnion{openai.UserMessage(s)}
		}
	}

	userMsg := map[string]any{
		"role":    "user",
		"content": parts,
	}
	b, _ := json.Marshal(userMsg)
	var converted openai.ChatCompletionMessageParamUnion
	_ = json.Unmarshal(b, &converted)
	return []openai.ChatCompletionMessageParamUnion{converted}
}

func toolResultContentToString(content []anthropic.ToolResultBlockParamContentUnion) string {
	var b strings.Builder
	for _, c := range content {
		if c.OfText != nil {
			b.WriteString(c.OfText.Text)
		}
	}
	return b.String()
}

// contentPartsOf builds the OpenAI "content parts" array for a user message
// out of text, image, and document blocks, in order.
func contentPartsOf(blocks []anthropic.ContentBlockParamUnion) []map[string]any {
	var parts []map[string]any
	for _, block := range blocks {
		switch {
		case block.OfText != nil:
			parts = append(parts, map[string]any{
				"type": "text",
				"text": block.OfText.Text,
			})
		case block.OfImage != nil:
			parts = append(parts, imagePart(block.OfImage))
		case block.OfDocument != nil:
			parts = append(parts, documentPart(block.OfDocument))
		}
	}
	return parts
}

func imagePart(img *anthropic.ImageBlockParam) map[string]any {
	src := img.Source
	var url string
	switch {
	case src.OfBase64 != nil:
		url = "data:" + src.OfBase64.MediaType + ";base64," + src.OfBase64.Data
	case src.OfURL != nil:
		url = src.OfURL.URL
	}
	return map[string]any{
		"type":      "image_url",
		"image_url": map[string]any{"url": url},
	}
}

func documentPart(doc *anthropic.DocumentBlockParam) map[string]any {
	src := doc.Source
	var data string
	switch {
	case src.OfBase64 != nil:
		data = src.OfBase64.Data
	case src.OfText != nil:
		data = base64.StdEncoding.EncodeToString([]byte(src.OfText.Data))
	}
	part := map[string]any{
		"type": "file",
		"file": map[string]any{
			"file_data": data,
		},
	}
	if doc.Title.Valid() {
		part["file"].(map[string]any)["filename"] = doc.Title.Value
	}
	return part
}
