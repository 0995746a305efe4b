package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs substitutes ${NAME} with the environment value. References
// to unset variables are kept verbatim.
func expandEnvRefs(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		if v, ok := os.LookupEnv(ref[2 : len(ref)-1]); ok {
			return v
		}
		return ref
	})
}

// credentials are the fields that may hold ${NAME} references.
func credentials(cfg *Config) []*string {
	return []*string{
		&cfg.Gateway.Auth.Token,
		&cfg.Mail.User,
		&cfg.Mail.Password,
		&cfg.Mail.Alias,
		&cfg.Agent.APIKey,
		&cfg.Compose.APIKey,
	}
}

// readConfigFile returns nil data for a missing file.
func readConfigFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func parseError(err error) error {
	return &ConfigError{Message: "failed to parse config: " + err.Error()}
}

// Load returns the effective config: defaults, then the file at path (which
// may be missing), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := readConfigFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, parseError(err)
	}

	fillDefaults(&cfg)
	for _, field := range credentials(&cfg) {
		*field = expandEnvRefs(*field)
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file as an untyped tree for the config command.
func LoadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, parseError(err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes raw to path as YAML, owner-only.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func orDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

// fillDefaults restores defaults for fields the file set to zero values.
func fillDefaults(cfg *Config) {
	d := Defaults()

	orDefault(&cfg.Gateway.Port, d.Gateway.Port)
	orDefault(&cfg.Gateway.Bind, d.Gateway.Bind)

	orDefault(&cfg.Mail.IMAPHost, d.Mail.IMAPHost)
	orDefault(&cfg.Mail.IMAPPort, d.Mail.IMAPPort)
	orDefault(&cfg.Mail.SMTPHost, d.Mail.SMTPHost)
	orDefault(&cfg.Mail.SMTPPort, d.Mail.SMTPPort)
	orDefault(&cfg.Mail.Folder, d.Mail.Folder)
	orDefault(&cfg.Mail.PollInterval, d.Mail.PollInterval)
	orDefault(&cfg.Mail.SessionScope, d.Mail.SessionScope)

	orDefault(&cfg.Agent.Provider, d.Agent.Provider)
	orDefault(&cfg.Agent.Model, d.Agent.Model)
	orDefault(&cfg.Agent.MaxTokens, d.Agent.MaxTokens)
	orDefault(&cfg.Agent.MaxIterations, d.Agent.MaxIterations)
	orDefault(&cfg.Agent.ImageRetention, d.Agent.ImageRetention)
	orDefault(&cfg.Agent.BaseURL, d.Agent.BaseURL)

	orDefault(&cfg.Compose.Model, d.Compose.Model)

	orDefault(&cfg.Session.Store, d.Session.Store)
	orDefault(&cfg.Session.IdleMinutes, d.Session.IdleMinutes)
	orDefault(&cfg.Session.MaxEngineResponses, d.Session.MaxEngineResponses)

	orDefault(&cfg.Logging.Level, d.Logging.Level)
	orDefault(&cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
}

// applyEnvOverrides lets the environment, including a loaded .env file,
// win over the config file.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		name  string
		field *string
		lower bool
	}{
		{"EASIWORK_GATEWAY_BIND", &cfg.Gateway.Bind, false},
		{"EASIWORK_GATEWAY_TOKEN", &cfg.Gateway.Auth.Token, false},
		{"EASIWORK_LOG_LEVEL", &cfg.Logging.Level, true},
		{"EASIWORK_MODEL", &cfg.Agent.Model, false},
		{"ICLOUD_USER_EMAIL", &cfg.Mail.User, false},
		{"EMAIL_ALIAS", &cfg.Mail.Alias, false},
		{"ICLOUD_APP_PASSWORD", &cfg.Mail.Password, false},
		{"ANTHROPIC_API_KEY", &cfg.Agent.APIKey, false},
		{"API_PROVIDER", &cfg.Agent.Provider, true},
		{"OPENAI_API_KEY", &cfg.Compose.APIKey, false},
	}
	for _, o := range overrides {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		if o.lower {
			v = strings.ToLower(v)
		}
		*o.field = v
	}

	if port, err := strconv.Atoi(os.Getenv("EASIWORK_GATEWAY_PORT")); err == nil && port > 0 {
		cfg.Gateway.Port = port
	}
}
