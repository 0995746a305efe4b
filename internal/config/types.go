package config

// Config is the root configuration for easiwork.
type Config struct {
	Gateway GatewayConfig `yaml:"gateway,omitempty"`
	Mail    MailConfig    `yaml:"mail,omitempty"`
	Agent   AgentConfig   `yaml:"agent,omitempty"`
	Compose ComposeConfig `yaml:"compose,omitempty"`
	Session SessionConfig `yaml:"session,omitempty"`
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Hooks   HooksConfig   `yaml:"hooks,omitempty"`
}

// GatewayConfig controls the realtime websocket server.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures subscriber authentication. An empty token leaves
// the channel open.
type GatewayAuth struct {
	Token string `yaml:"token,omitempty"`
}

// MailConfig configures the IMAP trigger source and the SMTP reply sink.
type MailConfig struct {
	IMAPHost     string `yaml:"imapHost,omitempty"`
	IMAPPort     int    `yaml:"imapPort,omitempty"`
	SMTPHost     string `yaml:"smtpHost,omitempty"`
	SMTPPort     int    `yaml:"smtpPort,omitempty"`
	User         string `yaml:"user,omitempty"`
	Password     string `yaml:"password,omitempty"`
	Alias        string `yaml:"alias,omitempty"` // triggers are mails addressed to this alias; replies are sent from it
	Folder       string `yaml:"folder,omitempty"`
	PollInterval int    `yaml:"pollInterval,omitempty"` // seconds
	SessionScope string `yaml:"sessionScope,omitempty"` // "thread" | "sender" | "message"
}

// Configured reports whether enough is set to poll the mailbox.
func (m MailConfig) Configured() bool {
	return m.User != "" && m.Password != "" && m.Alias != ""
}

// AgentConfig configures the reasoning engine.
type AgentConfig struct {
	Provider           string   `yaml:"provider,omitempty"` // "anthropic"
	Model              string   `yaml:"model,omitempty"`
	Fallbacks          []string `yaml:"fallbacks,omitempty"`
	MaxTokens          int      `yaml:"maxTokens,omitempty"`
	MaxIterations      int      `yaml:"maxIterations,omitempty"`
	ImageRetention     int      `yaml:"imageRetention,omitempty"` // 0 = default, negative keeps all
	SystemPromptSuffix string   `yaml:"systemPromptSuffix,omitempty"`
	BaseURL            string   `yaml:"baseUrl,omitempty"`
	APIKey             string   `yaml:"apiKey,omitempty"`
}

// ComposeConfig configures prompt rewriting and reply summarization.
type ComposeConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Model   string `yaml:"model,omitempty"`
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// SessionConfig defines session retention.
type SessionConfig struct {
	Store              string `yaml:"store,omitempty"` // "sqlite" | "memory"
	IdleMinutes        int    `yaml:"idleMinutes,omitempty"`
	MaxEngineResponses int    `yaml:"maxEngineResponses,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "compact" | "json"
}

// HooksConfig defines command hooks per event.
type HooksConfig struct {
	TriggerReceived []HookEntry `yaml:"triggerReceived,omitempty"`
	ReplySending    []HookEntry `yaml:"replySending,omitempty"`
	BeforeAgentRun  []HookEntry `yaml:"beforeAgentRun,omitempty"`
	AfterAgentRun   []HookEntry `yaml:"afterAgentRun,omitempty"`
	SessionHealed   []HookEntry `yaml:"sessionHealed,omitempty"`
	GatewayStart    []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop     []HookEntry `yaml:"gatewayStop,omitempty"`
}

// ByEvent maps configured hook entries by their config key.
func (h HooksConfig) ByEvent() map[string][]HookEntry {
	return map[string][]HookEntry{
		"triggerReceived": h.TriggerReceived,
		"replySending":    h.ReplySending,
		"beforeAgentRun":  h.BeforeAgentRun,
		"afterAgentRun":   h.AfterAgentRun,
		"sessionHealed":   h.SessionHealed,
		"gatewayStart":    h.GatewayStart,
		"gatewayStop":     h.GatewayStop,
	}
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // milliseconds
}
