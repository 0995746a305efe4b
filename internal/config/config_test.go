package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, 8001, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "imap.mail.me.com", cfg.Mail.IMAPHost)
	assert.Equal(t, 993, cfg.Mail.IMAPPort)
	assert.Equal(t, "smtp.mail.me.com", cfg.Mail.SMTPHost)
	assert.Equal(t, 587, cfg.Mail.SMTPPort)
	assert.Equal(t, 60, cfg.Mail.PollInterval)
	assert.Equal(t, "thread", cfg.Mail.SessionScope)
	assert.Equal(t, "anthropic", cfg.Agent.Provider)
	assert.Equal(t, 3, cfg.Agent.ImageRetention)
	assert.Equal(t, "gpt-4o", cfg.Compose.Model)
	assert.True(t, cfg.Compose.Enabled)
	assert.Equal(t, "sqlite", cfg.Session.Store)
	assert.Equal(t, 1440, cfg.Session.IdleMinutes)
	assert.Equal(t, 50, cfg.Session.MaxEngineResponses)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func clearMailEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ICLOUD_USER_EMAIL", "EMAIL_ALIAS", "ICLOUD_APP_PASSWORD",
		"ANTHROPIC_API_KEY", "API_PROVIDER", "OPENAI_API_KEY",
		"EASIWORK_GATEWAY_PORT", "EASIWORK_GATEWAY_BIND", "EASIWORK_GATEWAY_TOKEN",
		"EASIWORK_LOG_LEVEL", "EASIWORK_MODEL",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearMailEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	// Should return defaults
	assert.Equal(t, 8001, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Mail.Configured())
}

func TestLoadValidYAML(t *testing.T) {
	clearMailEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  auth:
    token: secret123
mail:
  user: me@icloud.com
  password: app-pass
  alias: agent@icloud.com
  pollInterval: 30
  sessionScope: sender
agent:
  model: claude-opus-4-1
  fallbacks:
    - claude-sonnet-4-5
  imageRetention: 5
compose:
  enabled: false
logging:
  level: debug
  consoleStyle: json
session:
  store: memory
  idleMinutes: 60
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, "secret123", cfg.Gateway.Auth.Token)
	assert.Equal(t, "me@icloud.com", cfg.Mail.User)
	assert.Equal(t, "agent@icloud.com", cfg.Mail.Alias)
	assert.Equal(t, 30, cfg.Mail.PollInterval)
	assert.Equal(t, "sender", cfg.Mail.SessionScope)
	assert.Equal(t, "imap.mail.me.com", cfg.Mail.IMAPHost)
	assert.True(t, cfg.Mail.Configured())
	assert.Equal(t, "claude-opus-4-1", cfg.Agent.Model)
	assert.Equal(t, []string{"claude-sonnet-4-5"}, cfg.Agent.Fallbacks)
	assert.Equal(t, 5, cfg.Agent.ImageRetention)
	assert.False(t, cfg.Compose.Enabled)
	assert.Equal(t, "gpt-4o", cfg.Compose.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "memory", cfg.Session.Store)
	assert.Equal(t, 60, cfg.Session.IdleMinutes)
	assert.Equal(t, 50, cfg.Session.MaxEngineResponses)
}

func TestLoadImageRetention(t *testing.T) {
	clearMailEnv(t)
	tests := []struct {
		name string
		yaml string
		want int
	}{
		{"unset", "agent:\n  model: claude-sonnet-4-5\n", DefaultImageRetention},
		{"zero", "agent:\n  imageRetention: 0\n", DefaultImageRetention},
		{"disabled", "agent:\n  imageRetention: -1\n", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Agent.ImageRetention)
			assert.NotContains(t, issuePaths(Validate(&cfg)), "agent.imageRetention")
		})
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	clearMailEnv(t)
	t.Setenv("EASIWORK_GATEWAY_PORT", "12345")
	t.Setenv("EASIWORK_LOG_LEVEL", "TRACE")
	t.Setenv("ICLOUD_USER_EMAIL", "me@icloud.com")
	t.Setenv("EMAIL_ALIAS", "agent@icloud.com")
	t.Setenv("ICLOUD_APP_PASSWORD", "pw")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("API_PROVIDER", "Anthropic")
	t.Setenv("OPENAI_API_KEY", "sk-oa")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "me@icloud.com", cfg.Mail.User)
	assert.Equal(t, "agent@icloud.com", cfg.Mail.Alias)
	assert.Equal(t, "pw", cfg.Mail.Password)
	assert.Equal(t, "sk-ant", cfg.Agent.APIKey)
	assert.Equal(t, "anthropic", cfg.Agent.Provider)
	assert.Equal(t, "sk-oa", cfg.Compose.APIKey)
	assert.True(t, cfg.Mail.Configured())
}

func TestLoadExpandsSecretReferences(t *testing.T) {
	clearMailEnv(t)
	t.Setenv("MY_MAIL_PASSWORD", "from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mail:\n  password: ${MY_MAIL_PASSWORD}\ngateway:\n  auth:\n    token: ${UNSET_TOKEN_VAR}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Mail.Password)
	assert.Equal(t, "${UNSET_TOKEN_VAR}", cfg.Gateway.Auth.Token)
}

func TestHooksByEvent(t *testing.T) {
	h := HooksConfig{SessionHealed: []HookEntry{{Command: "notify-send healed"}}}
	byEvent := h.ByEvent()
	assert.Len(t, byEvent, 7)
	assert.Equal(t, "notify-send healed", byEvent["sessionHealed"][0].Command)
	assert.Empty(t, byEvent["gatewayStart"])
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"mail": map[string]any{
			"alias": "agent@icloud.com",
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := KeyPath{"mail", "alias"}.Get(loaded)
	assert.True(t, ok)
	assert.Equal(t, "agent@icloud.com", val)
}

func TestLoadRawEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
