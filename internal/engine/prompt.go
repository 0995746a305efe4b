package engine

import (
	"fmt"
	"strings"
	"time"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Now    time.Time
	Tools  []ToolDef
	Suffix string
}

// BuildSystemPrompt constructs the system prompt for the model.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	b.WriteString("<SYSTEM_CAPABILITY>\n")
	b.WriteString("* You are handling a request that arrived by email. Your final message is summarized and sent back as the reply.\n")
	fmt.Fprintf(&b, "* The current date is %s.\n", cfg.Now.Format("Monday, January 2, 2006"))

	if len(cfg.Tools) > 0 {
		names := make([]string, len(cfg.Tools))
		for i, t := range cfg.Tools {
			names[i] = t.Name
		}
		fmt.Fprintf(&b, "* You can call these tools: %s.\n", strings.Join(names, ", "))
		b.WriteString("* When using tools, explain what you're doing.\n")
	}
	b.WriteString("</SYSTEM_CAPABILITY>")

	if s := strings.TrimSpace(cfg.Suffix); s != "" {
		b.WriteString(" ")
		b.WriteString(s)
	}

	return b.String()
}
