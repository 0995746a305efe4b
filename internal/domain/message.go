package domain

import "encoding/json"

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates the Block variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// Attachment is binary content carried by a tool result, typically a screenshot.
// Omitted is set when the bytes were dropped by the image retention policy.
type Attachment struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"data,omitempty"`
	Omitted   bool   `json:"omitted,omitempty"`
}

// Block is one content block of a Message. Type selects which fields are meaningful:
//   - text: Text
//   - tool_use: ID, Name, Input
//   - tool_result: ToolUseID, IsError, Content, Attachment
type Block struct {
	Type BlockType `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID  string      `json:"tool_use_id,omitempty"`
	IsError    bool        `json:"is_error,omitempty"`
	Content    string      `json:"content,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// TextBlock returns a text block.
func TextBlock(text string) Block {
	return Block{Type: BlockText, Text: text}
}

// ToolUseBlock returns a tool invocation block.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock returns the block answering invocation id with the given result.
func ToolResultBlock(id string, r ToolResult) Block {
	b := Block{Type: BlockToolResult, ToolUseID: id}
	if r.Error != "" {
		b.IsError = true
		b.Content = r.Error
		return b
	}
	b.Content = r.Output
	if r.System != "" {
		b.Content = "<system>" + r.System + "</system>\n" + b.Content
	}
	if r.Attachment != nil {
		att := r.Attachment.Clone()
		b.Attachment = &att
	}
	return b
}

// Clone returns a deep copy of the attachment.
func (a Attachment) Clone() Attachment {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	return a
}

// Clone returns a deep copy of the block.
func (b Block) Clone() Block {
	if b.Input != nil {
		b.Input = append(json.RawMessage(nil), b.Input...)
	}
	if b.Attachment != nil {
		att := b.Attachment.Clone()
		b.Attachment = &att
	}
	return b
}

// Message is one turn of the transcript.
type Message struct {
	Role    Role    `json:"role"`
	Content []Block `json:"content"`
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	blocks := make([]Block, len(m.Content))
	for i, b := range m.Content {
		blocks[i] = b.Clone()
	}
	m.Content = blocks
	return m
}

// FirstText returns the text of the first text block.
func (m Message) FirstText() (string, bool) {
	for _, b := range m.Content {
		if b.Type == BlockText && b.Text != "" {
			return b.Text, true
		}
	}
	return "", false
}

// ToolUseIDs returns the invocation ids of every tool_use block, in order.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Content {
		if b.Type == BlockToolUse {
			ids = append(ids, b.ID)
		}
	}
	return ids
}

// CloneMessages deep-copies a transcript.
func CloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Output     string      `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
	System     string      `json:"system,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// IsError reports whether the tool failed.
func (r ToolResult) IsError() bool { return r.Error != "" }
