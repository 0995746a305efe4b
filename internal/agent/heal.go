package agent

import (
	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/session"
)

const (
	// InterruptionNote marks a user message written after an interrupted run.
	InterruptionNote = "(user stopped or interrupted and wrote the following)"

	// InterruptedToolError is the error recorded for tool invocations that
	// never produced a result.
	InterruptedToolError = "human stopped or interrupted tool execution"
)

// Heal repairs a transcript left behind by an interrupted run so it can be
// continued. Every dangling tool invocation of the newest assistant turn gets an
// error result, and a user message carrying InterruptionNote is appended.
// Healing an already healed transcript is a no-op. Heal returns the number
// of tool results it synthesized.
func Heal(tx *session.Tx) int {
	last, ok := tx.LastMessage()
	if ok && healed(last) {
		return 0
	}

	var blocks []domain.Block
	if ok {
		for _, id := range pendingToolUses(tx.Messages()) {
			if _, done := tx.ToolResult(id); done {
				continue
			}
			r := domain.ToolResult{Error: InterruptedToolError}
			if err := tx.PutToolResult(id, r); err != nil {
				continue
			}
			blocks = append(blocks, domain.ToolResultBlock(id, r))
		}
	}
	synthesized := len(blocks)

	blocks = append(blocks, domain.TextBlock(InterruptionNote))
	tx.Append(domain.Message{Role: domain.RoleUser, Content: blocks})
	return synthesized
}

// pendingToolUses returns the invocation ids of the newest assistant message
// when it is the last message, or is followed only by its tool results.
func pendingToolUses(msgs []domain.Message) []string {
	n := len(msgs)
	if n == 0 {
		return nil
	}
	if msgs[n-1].Role == domain.RoleAssistant {
		return msgs[n-1].ToolUseIDs()
	}
	if n >= 2 && msgs[n-2].Role == domain.RoleAssistant && onlyToolResults(msgs[n-1]) {
		return msgs[n-2].ToolUseIDs()
	}
	return nil
}

func onlyToolResults(m domain.Message) bool {
	for _, b := range m.Content {
		if b.Type != domain.BlockToolResult {
			return false
		}
	}
	return len(m.Content) > 0
}

func healed(m domain.Message) bool {
	if m.Role != domain.RoleUser || len(m.Content) == 0 {
		return false
	}
	b := m.Content[len(m.Content)-1]
	return b.Type == domain.BlockText && b.Text == InterruptionNote
}
