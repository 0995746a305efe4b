package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

const (
	DefaultGatewayPort        = 8001
	DefaultModel              = "claude-sonnet-4-5"
	DefaultComposeModel       = "gpt-4o"
	DefaultImageRetention     = 3
	DefaultPollInterval       = 60
	DefaultIdleMinutes        = 1440
	DefaultMaxEngineResponses = 50
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultGatewayPort,
			Bind: "loopback",
		},
		Mail: MailConfig{
			IMAPHost:     "imap.mail.me.com",
			IMAPPort:     993,
			SMTPHost:     "smtp.mail.me.com",
			SMTPPort:     587,
			Folder:       "INBOX",
			PollInterval: DefaultPollInterval,
			SessionScope: "thread",
		},
		Agent: AgentConfig{
			Provider:       "anthropic",
			Model:          DefaultModel,
			MaxTokens:      4096,
			MaxIterations:  32,
			ImageRetention: DefaultImageRetention,
			BaseURL:        "https://api.anthropic.com",
		},
		Compose: ComposeConfig{
			Enabled: true,
			Model:   DefaultComposeModel,
		},
		Session: SessionConfig{
			Store:              "sqlite",
			IdleMinutes:        DefaultIdleMinutes,
			MaxEngineResponses: DefaultMaxEngineResponses,
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
