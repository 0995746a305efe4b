package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when bind is custom",
		})
	}

	// Mail validation
	mailPorts := []struct {
		path string
		port int
	}{
		{"mail.imapPort", cfg.Mail.IMAPPort},
		{"mail.smtpPort", cfg.Mail.SMTPPort},
	}
	for _, p := range mailPorts {
		if p.port < 0 || p.port > 65535 {
			issues = append(issues, ValidationIssue{
				Path:    p.path,
				Message: fmt.Sprintf("port must be 0-65535, got %d", p.port),
			})
		}
	}
	if cfg.Mail.PollInterval < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "mail.pollInterval",
			Message: fmt.Sprintf("must be positive, got %d", cfg.Mail.PollInterval),
		})
	}
	validScopes := []string{"thread", "sender", "message"}
	if cfg.Mail.SessionScope != "" && !slices.Contains(validScopes, cfg.Mail.SessionScope) {
		issues = append(issues, ValidationIssue{
			Path:    "mail.sessionScope",
			Message: fmt.Sprintf("must be one of %v, got %q", validScopes, cfg.Mail.SessionScope),
		})
	}

	// Agent validation
	validProviders := []string{"anthropic"}
	if cfg.Agent.Provider != "" && !slices.Contains(validProviders, cfg.Agent.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "agent.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validProviders, cfg.Agent.Provider),
		})
	}
	if cfg.Agent.MaxTokens < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "agent.maxTokens",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Agent.MaxTokens),
		})
	}

	// Session validation
	validStores := []string{"sqlite", "memory"}
	if cfg.Session.Store != "" && !slices.Contains(validStores, cfg.Session.Store) {
		issues = append(issues, ValidationIssue{
			Path:    "session.store",
			Message: fmt.Sprintf("must be one of %v, got %q", validStores, cfg.Session.Store),
		})
	}
	if cfg.Session.IdleMinutes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.idleMinutes",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Session.IdleMinutes),
		})
	}
	if cfg.Session.MaxEngineResponses < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "session.maxEngineResponses",
			Message: fmt.Sprintf("must not be negative, got %d", cfg.Session.MaxEngineResponses),
		})
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "compact", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	// Hooks validation
	for event, entries := range cfg.Hooks.ByEvent() {
		for i, h := range entries {
			if h.Command == "" {
				issues = append(issues, ValidationIssue{
					Path:    fmt.Sprintf("hooks.%s[%d].command", event, i),
					Message: "command is required",
				})
			}
		}
	}

	return issues
}
