// Package routing connects trigger sources to the agent and replies through
// the output sink.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/easiwork/internal/compose"
	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/hooks"
	"github.com/soyeahso/easiwork/internal/logging"
)

// Runner runs one trigger against a session and returns the final text.
type Runner interface {
	Run(ctx context.Context, sessionID, triggerText string) (string, error)
}

// Router handles triggers end to end: rewrite, run, summarize, reply.
type Router struct {
	runner   Runner
	composer compose.Composer
	sink     domain.OutputSink
	hooks    *hooks.Manager
	log      *logging.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithHooks emits trigger_received and reply_sending through m.
func WithHooks(m *hooks.Manager) Option {
	return func(r *Router) { r.hooks = m }
}

// WithComposer sets the prompt rewriter and reply summarizer.
func WithComposer(c compose.Composer) Option {
	return func(r *Router) { r.composer = c }
}

// NewRouter creates a trigger router.
func NewRouter(runner Runner, sink domain.OutputSink, log *logging.Logger, opts ...Option) *Router {
	r := &Router{
		runner:   runner,
		composer: compose.Passthrough{},
		sink:     sink,
		log:      log.Sub("routing"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// HandleTrigger runs the agent for t and delivers the reply. It satisfies
// domain.TriggerHandler.
//
// A returned error leaves the trigger unacknowledged so it is retried on the
// next poll: the run failed, the session stayed busy or the reply could not
// be delivered. No reply is sent for a failed run.
func (r *Router) HandleTrigger(ctx context.Context, t domain.Trigger) error {
	start := time.Now()
	log := r.log.With("sessionId", t.SessionID).With("triggerId", t.ID)

	log.Info().Str("from", t.From).Str("subject", t.Subject).Msg("routing trigger")
	r.hooks.Emit(ctx, hooks.EventTriggerReceived, map[string]any{
		"triggerId": t.ID,
		"sessionId": t.SessionID,
		"from":      t.From,
		"subject":   t.Subject,
	})

	prompt, err := r.composer.Rewrite(ctx, t.Text)
	if err != nil {
		log.Warn().Err(err).Msg("prompt rewrite failed, using trigger text")
		prompt = t.Text
	}

	results, err := r.runner.Run(ctx, t.SessionID, prompt)
	if err != nil {
		return fmt.Errorf("running session %s: %w", t.SessionID, err)
	}

	body, err := r.composer.Summarize(ctx, results)
	if err != nil {
		log.Warn().Err(err).Msg("summary failed, replying with raw results")
		body = results
	}

	r.hooks.Emit(ctx, hooks.EventReplySending, map[string]any{
		"triggerId": t.ID,
		"sessionId": t.SessionID,
		"to":        t.From,
		"body":      body,
	})
	if err := r.sink.Deliver(ctx, t, body); err != nil {
		return fmt.Errorf("delivering reply for %s: %w", t.ID, err)
	}

	log.Info().Dur("duration", time.Since(start)).Msg("trigger handled")
	return nil
}
