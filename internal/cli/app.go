package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soyeahso/easiwork/internal/agent"
	"github.com/soyeahso/easiwork/internal/compose"
	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/engine"
	"github.com/soyeahso/easiwork/internal/filestore"
	"github.com/soyeahso/easiwork/internal/gateway"
	"github.com/soyeahso/easiwork/internal/hooks"
	"github.com/soyeahso/easiwork/internal/logging"
	"github.com/soyeahso/easiwork/internal/mailbox"
	"github.com/soyeahso/easiwork/internal/routing"
	"github.com/soyeahso/easiwork/internal/session"
	"github.com/soyeahso/easiwork/internal/store"
)

const hookDrainTimeout = 15 * time.Second

// app holds the wired components shared by serve, run and mail.
type app struct {
	cfg      config.Config
	files    *filestore.Store
	hooks    *hooks.Manager
	db       *store.DB
	sessions *session.Store
	gateway  *gateway.Server
	orch     *agent.Orchestrator
	composer compose.Composer
	router   *routing.Router
	log      *logging.Logger
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// processLogger builds the logger configured in cfg. The --log-level flag
// wins over the config file.
func processLogger(cfg config.Config) (*logging.Logger, func(), error) {
	opts := logging.Options{
		Level:        cfg.Logging.Level,
		ConsoleStyle: cfg.Logging.ConsoleStyle,
		File:         cfg.Logging.File,
	}
	if logLevel != "" {
		opts.Level = logLevel
	}
	l, closer, err := logging.NewFromOptions(opts)
	if err != nil {
		return nil, func() {}, err
	}
	return l, func() { closer.Close() }, nil
}

func newApp(cfg config.Config, log *logging.Logger) (*app, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}

	a := &app{
		cfg:   cfg,
		files: filestore.New(paths.Storage),
		hooks: hooks.NewManager(log),
		log:   log,
	}
	if n := a.hooks.RegisterCommands(cfg.Hooks); n > 0 {
		log.Info().Int("hooks", n).Msg("command hooks registered")
	}

	storeOpts := []session.StoreOption{
		session.WithLogger(log),
		// evicted sessions restart their event sequence on next use
		session.WithEvictionHandler(func(id string) { a.gateway.Forget(id) }),
	}
	var recorder agent.ExchangeRecorder
	if cfg.Session.Store == "sqlite" {
		db, err := store.Open(paths.Database(), log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.db = db
		transcripts := store.NewTranscriptStore(db)
		storeOpts = append(storeOpts, session.WithPersister(transcripts))
		recorder = transcripts
		log.Info().Str("path", paths.Database()).Msg("using SQLite transcript store")
	} else {
		log.Info().Msg("using in-memory session store")
	}
	a.sessions = session.NewStore(a.sessionDefaults, storeOpts...)

	a.gateway = gateway.New(cfg.Gateway, a.sessions, log, gateway.WithHooks(a.hooks))

	eng := engine.NewAnthropic(
		engine.WithBaseURL(cfg.Agent.BaseURL),
		engine.WithFallbacks(cfg.Agent.Fallbacks),
		engine.WithMaxTokens(cfg.Agent.MaxTokens),
		engine.WithMaxIterations(cfg.Agent.MaxIterations),
		engine.WithToolbox(engine.NewToolbox(engine.NewWebFetch())),
		engine.WithLogger(log),
	)

	orchOpts := []agent.Option{
		agent.WithRelay(a.gateway),
		agent.WithFileStore(a.files),
		agent.WithHooks(a.hooks),
		agent.WithCredentials(a.apiKey),
		agent.WithMaxResponses(cfg.Session.MaxEngineResponses),
		agent.WithLogger(log),
	}
	if recorder != nil {
		orchOpts = append(orchOpts, agent.WithExchangeRecorder(recorder))
	}
	a.orch = agent.NewOrchestrator(a.sessions, eng, orchOpts...)

	a.composer = compose.New(cfg.Compose, log)
	a.router = routing.NewRouter(a.orch, mailbox.NewSender(cfg.Mail, log), log,
		routing.WithComposer(a.composer),
		routing.WithHooks(a.hooks),
	)
	return a, nil
}

// sessionDefaults is the config of a new session. A stored system_prompt
// replaces the configured suffix.
func (a *app) sessionDefaults() domain.SessionConfig {
	cfg := domain.SessionConfig{
		Model:              a.cfg.Agent.Model,
		Provider:           a.cfg.Agent.Provider,
		SystemPromptSuffix: a.cfg.Agent.SystemPromptSuffix,
		ImageRetention:     a.cfg.Agent.ImageRetention,
		MaxTokens:          a.cfg.Agent.MaxTokens,
	}
	prompt, ok, err := a.files.Load(filestore.KeySystemPrompt)
	if err != nil {
		a.log.Warn().Err(err).Msg("reading stored system prompt")
	} else if ok && strings.TrimSpace(prompt) != "" {
		cfg.SystemPromptSuffix = prompt
	}
	return cfg
}

// apiKey prefers the stored api_key over the config.
func (a *app) apiKey() string {
	key, ok, err := a.files.Load(filestore.KeyAPIKey)
	if err != nil {
		a.log.Warn().Err(err).Msg("reading stored api key")
	} else if ok && strings.TrimSpace(key) != "" {
		return strings.TrimSpace(key)
	}
	return a.cfg.Agent.APIKey
}

// Close waits for in-flight async hooks, then closes the database.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
	defer cancel()
	if err := a.hooks.Wait(ctx); err != nil {
		a.log.Warn().Err(err).Msg("hook handlers still running at shutdown")
	}

	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
