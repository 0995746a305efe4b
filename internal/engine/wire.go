package engine

import (
	"encoding/base64"
	"encoding/json"

	"github.com/soyeahso/easiwork/internal/domain"
)

type wireRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []wireMessage `json:"messages"`
	Tools     []ToolDef     `json:"tools,omitempty"`
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     json.RawMessage  `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	IsError   bool             `json:"is_error,omitempty"`
	Content   []wireBlock      `json:"content,omitempty"`
	Source    *wireImageSource `json:"source,omitempty"`
}

type wireImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type wireResponse struct {
	ID         string      `json:"id"`
	Model      string      `json:"model"`
	StopReason string      `json:"stop_reason"`
	Content    []wireBlock `json:"content"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// toWireMessages converts a transcript to the Messages API shape. Tool
// messages are sent as user turns and consecutive turns with the same role
// are merged, as the API requires alternating roles.
func toWireMessages(msgs []domain.Message) []wireMessage {
	var out []wireMessage
	for _, m := range msgs {
		role := "user"
		if m.Role == domain.RoleAssistant {
			role = "assistant"
		}
		var blocks []wireBlock
		for _, b := range m.Content {
			if wb, ok := toWireBlock(b); ok {
				blocks = append(blocks, wb)
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, wireMessage{Role: role, Content: blocks})
	}
	return out
}

func toWireBlock(b domain.Block) (wireBlock, bool) {
	switch b.Type {
	case domain.BlockText:
		if b.Text == "" {
			return wireBlock{}, false
		}
		return wireBlock{Type: "text", Text: b.Text}, true
	case domain.BlockToolUse:
		input := b.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return wireBlock{Type: "tool_use", ID: b.ID, Name: b.Name, Input: input}, true
	case domain.BlockToolResult:
		wb := wireBlock{Type: "tool_result", ToolUseID: b.ToolUseID, IsError: b.IsError}
		if b.Content != "" {
			wb.Content = append(wb.Content, wireBlock{Type: "text", Text: b.Content})
		}
		if att := b.Attachment; att != nil && !att.Omitted && len(att.Data) > 0 {
			wb.Content = append(wb.Content, wireBlock{
				Type: "image",
				Source: &wireImageSource{
					Type:      "base64",
					MediaType: att.MediaType,
					Data:      base64.StdEncoding.EncodeToString(att.Data),
				},
			})
		}
		return wb, true
	}
	return wireBlock{}, false
}

// fromWireBlock converts a response block. Unknown block types keep their
// type so the caller can reject them.
func fromWireBlock(wb wireBlock) domain.Block {
	switch wb.Type {
	case "text":
		return domain.TextBlock(wb.Text)
	case "tool_use":
		return domain.ToolUseBlock(wb.ID, wb.Name, wb.Input)
	}
	return domain.Block{Type: domain.BlockType(wb.Type), Text: wb.Text}
}
