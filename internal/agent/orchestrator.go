// Package agent runs triggers against sessions: it heals interrupted
// transcripts, drives the reasoning engine and records what it produces.
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/engine"
	"github.com/soyeahso/easiwork/internal/filestore"
	"github.com/soyeahso/easiwork/internal/hooks"
	"github.com/soyeahso/easiwork/internal/logging"
	"github.com/soyeahso/easiwork/internal/session"
)

// Event types relayed to realtime subscribers.
const (
	EventMessage    = "message"
	EventToolResult = "tool_result"
	EventError      = "error"
)

// Event is one transcript update pushed to subscribers. Seq is assigned by
// the relay.
type Event struct {
	Type      string             `json:"type"`
	SessionID string             `json:"sessionId"`
	Seq       uint64             `json:"seq"`
	Block     *domain.Block      `json:"block,omitempty"`
	ToolUseID string             `json:"toolUseId,omitempty"`
	Result    *domain.ToolResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// Relay forwards events to whoever is watching a session.
type Relay interface {
	Publish(sessionID string, ev Event)
}

// ExchangeRecorder keeps an audit trail of engine round trips.
type ExchangeRecorder interface {
	RecordExchange(ctx context.Context, sessionID string, ex domain.Exchange) error
}

// DefaultMaxResponses is the number of engine exchanges kept per session.
const DefaultMaxResponses = 50

// Orchestrator runs triggers against sessions, one run per session at a time.
type Orchestrator struct {
	store        *session.Store
	engine       engine.Engine
	relay        Relay
	files        *filestore.Store
	hooks        *hooks.Manager
	credentials  func() string
	recorder     ExchangeRecorder
	maxResponses int
	log          *logging.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRelay sets where transcript events are published.
func WithRelay(r Relay) Option {
	return func(o *Orchestrator) { o.relay = r }
}

// WithFileStore sets where error records are written.
func WithFileStore(fs *filestore.Store) Option {
	return func(o *Orchestrator) { o.files = fs }
}

// WithHooks sets the hook manager notified around runs.
func WithHooks(m *hooks.Manager) Option {
	return func(o *Orchestrator) { o.hooks = m }
}

// WithCredentials sets the API key provider. It is called once per run.
func WithCredentials(fn func() string) Option {
	return func(o *Orchestrator) { o.credentials = fn }
}

// WithExchangeRecorder sets an audit sink for engine exchanges.
func WithExchangeRecorder(r ExchangeRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithMaxResponses caps the exchanges kept in memory per session.
func WithMaxResponses(n int) Option {
	return func(o *Orchestrator) { o.maxResponses = n }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l.Sub("agent") }
}

// NewOrchestrator creates an orchestrator over store and eng.
func NewOrchestrator(store *session.Store, eng engine.Engine, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		engine:       eng,
		relay:        nopRelay{},
		credentials:  func() string { return "" },
		maxResponses: DefaultMaxResponses,
		log:          logging.New(nil, "silent"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run appends triggerText to the session and runs the engine over it,
// returning the text of the final message. A session left mid-run by a
// previous failure is healed first. When the session is already running,
// Run waits for it until ctx ends and then fails with ErrSessionBusy.
func (o *Orchestrator) Run(ctx context.Context, sessionID, triggerText string) (text string, err error) {
	sess, err := o.acquire(ctx, sessionID)
	if err != nil {
		return "", err
	}
	start := time.Now()
	log := o.log.With("sessionId", sessionID)

	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("run panicked")
			err = fmt.Errorf("%w: %v", ErrRunPanicked, p)
		}
		o.finish(sess, err != nil)
		o.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventAfterAgentRun, map[string]any{
			"sessionId":  sessionID,
			"durationMs": time.Since(start).Milliseconds(),
			"ok":         err == nil,
		})
	}()

	healed := -1
	_ = sess.Update(func(tx *session.Tx) error {
		if tx.Active() || tx.Interrupted() {
			healed = Heal(tx)
		}
		tx.AppendBlock(domain.RoleUser, domain.TextBlock(triggerText))
		tx.SetActive(true)
		return nil
	})
	o.save(ctx, sess)

	if healed >= 0 {
		log.Info().Int("synthesized", healed).Msg("healed interrupted session")
		o.hooks.EmitAsync(ctx, hooks.EventSessionHealed, map[string]any{
			"sessionId":   sessionID,
			"synthesized": healed,
		})
	}
	o.hooks.Emit(ctx, hooks.EventBeforeAgentRun, map[string]any{
		"sessionId": sessionID,
		"healed":    healed >= 0,
	})

	cfg := sess.Config()
	req := engine.Request{
		Messages: sess.Snapshot(),
		Config:   cfg,
		APIKey:   o.credentials(),
	}
	log.Info().Int("historyLen", len(req.Messages)).Str("model", cfg.Model).Msg("starting run")

	msgs, err := o.engine.Run(ctx, req, o.callbacks(ctx, sess, log))
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("run failed")
		return "", fmt.Errorf("agent: run session %s: %w", sessionID, err)
	}

	_ = sess.Update(func(tx *session.Tx) error {
		tx.ReplaceMessages(msgs)
		tx.RetainImages(cfg.ImageLimit())
		return nil
	})

	log.Info().Dur("duration", time.Since(start)).Int("historyLen", len(msgs)).Msg("run complete")

	if len(msgs) > 0 {
		if t, ok := msgs[len(msgs)-1].FirstText(); ok {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: session %s", ErrEmptyResult, sessionID)
}

// acquire loads the session and takes its run slot. A session evicted while
// waiting is looked up again.
func (o *Orchestrator) acquire(ctx context.Context, sessionID string) (*session.Session, error) {
	for {
		sess, err := o.store.GetOrCreate(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("agent: load session %s: %w", sessionID, err)
		}
		err = sess.Acquire(ctx)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, session.ErrEvicted):
			continue
		default:
			return nil, fmt.Errorf("%w: %s: %w", ErrSessionBusy, sessionID, err)
		}
	}
}

// finish clears the run flag, persists the session and frees the run slot.
func (o *Orchestrator) finish(sess *session.Session, failed bool) {
	_ = sess.Update(func(tx *session.Tx) error {
		tx.SetActive(false)
		tx.SetInterrupted(failed)
		return nil
	})
	o.save(context.Background(), sess)
	sess.Release()
}

func (o *Orchestrator) save(ctx context.Context, sess *session.Session) {
	if err := o.store.Save(context.WithoutCancel(ctx), sess); err != nil {
		o.log.Error().Err(err).Str("sessionId", sess.ID()).Msg("failed to persist session")
	}
}

func (o *Orchestrator) callbacks(ctx context.Context, sess *session.Session, log *logging.Logger) engine.Callbacks {
	id := sess.ID()
	return engine.Callbacks{
		Output: func(b domain.Block) error {
			if b.Type != domain.BlockText && b.Type != domain.BlockToolUse {
				return fmt.Errorf("%w: %q", ErrUnexpectedContentType, b.Type)
			}
			_ = sess.Update(func(tx *session.Tx) error {
				tx.AppendBlock(domain.RoleAssistant, b)
				return nil
			})
			b = b.Clone()
			o.relay.Publish(id, Event{Type: EventMessage, SessionID: id, Block: &b})
			return nil
		},

		ToolOutput: func(toolUseID string, r domain.ToolResult) error {
			err := sess.Update(func(tx *session.Tx) error {
				if err := tx.PutToolResult(toolUseID, r); err != nil {
					return err
				}
				tx.AppendBlock(domain.RoleUser, domain.ToolResultBlock(toolUseID, r))
				return nil
			})
			if err != nil {
				return err
			}
			log.Debug().Str("toolUseId", toolUseID).Bool("error", r.IsError()).Msg("tool result recorded")
			o.relay.Publish(id, Event{Type: EventToolResult, SessionID: id, ToolUseID: toolUseID, Result: &r})
			return nil
		},

		Response: func(ex domain.Exchange) {
			if ex.At.IsZero() {
				ex.At = time.Now()
			}
			_ = sess.Update(func(tx *session.Tx) error {
				ex.ID = tx.AddExchange(ex, o.maxResponses)
				return nil
			})
			if o.recorder != nil {
				if err := o.recorder.RecordExchange(context.WithoutCancel(ctx), id, ex); err != nil {
					log.Warn().Err(err).Msg("failed to record exchange")
				}
			}
			if ex.Err == nil {
				return
			}
			body := FormatErrorRecord(ex.Err)
			if o.files != nil {
				if key, err := o.files.SaveErrorRecord(body); err != nil {
					log.Error().Err(err).Msg("failed to save error record")
				} else {
					log.Warn().Str("record", key).Err(ex.Err).Msg("engine error recorded")
				}
			}
			o.relay.Publish(id, Event{Type: EventError, SessionID: id, Error: body})
		},
	}
}

type nopRelay struct{}

func (nopRelay) Publish(string, Event) {}
