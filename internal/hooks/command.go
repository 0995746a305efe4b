package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/soyeahso/easiwork/internal/config"
)

const defaultCommandTimeout = 10 * time.Second

// configKeys maps hooks config keys to event names.
var configKeys = map[string]string{
	"triggerReceived": EventTriggerReceived,
	"replySending":    EventReplySending,
	"beforeAgentRun":  EventBeforeAgentRun,
	"afterAgentRun":   EventAfterAgentRun,
	"sessionHealed":   EventSessionHealed,
	"gatewayStart":    EventGatewayStart,
	"gatewayStop":     EventGatewayStop,
}

// RegisterCommands registers a shell command handler for every configured
// hook entry and returns how many were registered.
func (m *Manager) RegisterCommands(cfg config.HooksConfig) int {
	n := 0
	for key, entries := range cfg.ByEvent() {
		event, ok := configKeys[key]
		if !ok {
			continue
		}
		for i, entry := range entries {
			if entry.Command == "" {
				continue
			}
			m.On(event, fmt.Sprintf("command:%s[%d]", key, i), CommandHandler(entry))
			n++
		}
	}
	return n
}

// CommandHandler runs entry.Command through sh -c with the JSON payload on
// stdin and EASIWORK_EVENT set to the event name.
func CommandHandler(entry config.HookEntry) Handler {
	timeout := defaultCommandTimeout
	if entry.Timeout > 0 {
		timeout = time.Duration(entry.Timeout) * time.Millisecond
	}
	return func(ctx context.Context, p Payload) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		input, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("encoding payload: %w", err)
		}

		cmd := exec.CommandContext(ctx, "sh", "-c", entry.Command)
		cmd.Stdin = bytes.NewReader(input)
		cmd.Env = append(os.Environ(), "EASIWORK_EVENT="+p.Event)
		cmd.WaitDelay = time.Second
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("hook command %q: %w: %s", entry.Command, err, strings.TrimSpace(string(out)))
		}
		return nil
	}
}
