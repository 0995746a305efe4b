package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/soyeahso/easiwork/internal/logging"
)

const (
	anthropicVersion  = "2023-06-01"
	defaultBaseURL    = "https://api.anthropic.com"
	maxRecordedBody   = 256 * 1024
	defaultMaxTokens  = 4096
	defaultIterations = 32
)

// Anthropic is an Engine backed by the Anthropic Messages API.
type Anthropic struct {
	baseURL       string
	fallbacks     []string
	maxTokens     int
	maxIterations int
	tools         *Toolbox
	client        *http.Client
	log           *logging.Logger
	now           func() time.Time
}

// Option configures an Anthropic engine.
type Option func(*Anthropic)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(a *Anthropic) {
		if u != "" {
			a.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithFallbacks sets the models tried, in order, when the session model
// fails with a retryable status.
func WithFallbacks(models []string) Option {
	return func(a *Anthropic) { a.fallbacks = models }
}

// WithMaxTokens sets the default output token limit.
func WithMaxTokens(n int) Option {
	return func(a *Anthropic) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithMaxIterations caps the number of model calls per run.
func WithMaxIterations(n int) Option {
	return func(a *Anthropic) {
		if n > 0 {
			a.maxIterations = n
		}
	}
}

// WithToolbox sets the tools offered to the model.
func WithToolbox(tb *Toolbox) Option {
	return func(a *Anthropic) { a.tools = tb }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Anthropic) { a.client = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Anthropic) { a.log = l.Sub("engine") }
}

// NewAnthropic creates an Anthropic engine.
func NewAnthropic(opts ...Option) *Anthropic {
	a := &Anthropic{
		baseURL:       defaultBaseURL,
		maxTokens:     defaultMaxTokens,
		maxIterations: defaultIterations,
		tools:         NewToolbox(),
		client:        &http.Client{Timeout: 300 * time.Second},
		log:           logging.New(nil, "silent"),
		now:           time.Now,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Run implements Engine.
func (a *Anthropic) Run(ctx context.Context, req Request, cb Callbacks) ([]domain.Message, error) {
	msgs := domain.CloneMessages(req.Messages)
	defs := a.tools.Definitions()
	system := BuildSystemPrompt(PromptConfig{Now: a.now(), Tools: defs, Suffix: req.Config.SystemPromptSuffix})

	maxTokens := a.maxTokens
	if req.Config.MaxTokens > 0 {
		maxTokens = req.Config.MaxTokens
	}

	for iter := 0; iter < a.maxIterations; iter++ {
		domain.RetainImages(msgs, req.Config.ImageLimit())

		wreq := wireRequest{
			MaxTokens: maxTokens,
			System:    system,
			Messages:  toWireMessages(msgs),
			Tools:     defs,
		}
		resp, err := a.complete(ctx, req, wreq, cb)
		if err != nil {
			return msgs, err
		}

		assistant := domain.Message{Role: domain.RoleAssistant}
		for _, wb := range resp.Content {
			b := fromWireBlock(wb)
			if err := cb.output(b); err != nil {
				return msgs, err
			}
			assistant.Content = append(assistant.Content, b)
		}
		msgs = append(msgs, assistant)

		var results domain.Message
		for _, b := range assistant.Content {
			if b.Type != domain.BlockToolUse {
				continue
			}
			a.log.Debug().Str("tool", b.Name).Str("id", b.ID).Msg("executing tool")
			res := a.tools.Execute(ctx, b.Name, b.Input)
			if err := cb.toolOutput(b.ID, res); err != nil {
				return msgs, err
			}
			results.Role = domain.RoleUser
			results.Content = append(results.Content, domain.ToolResultBlock(b.ID, res))
		}
		if len(results.Content) == 0 {
			return msgs, nil
		}
		msgs = append(msgs, results)
	}

	return msgs, fmt.Errorf("%w (%d)", ErrMaxIterations, a.maxIterations)
}

// complete sends one Messages request, failing over through the fallback
// models on retryable errors. Every attempt is reported to cb.Response.
func (a *Anthropic) complete(ctx context.Context, req Request, wreq wireRequest, cb Callbacks) (*wireResponse, error) {
	models := append([]string{req.Config.Model}, a.fallbacks...)

	var lastErr error
	for _, model := range models {
		if model == "" {
			continue
		}
		wreq.Model = model
		resp, err := a.send(ctx, req.APIKey, wreq, cb)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			a.log.Warn().
				Str("model", model).
				Int("status", apiErr.StatusCode).
				Dur("retryAfter", apiErr.RetryAfter).
				Msg("retryable error, trying next model")
			continue
		}
		return nil, err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("anthropic: no model configured")
	}
	return nil, lastErr
}

func (a *Anthropic) send(ctx context.Context, apiKey string, wreq wireRequest, cb Callbacks) (*wireResponse, error) {
	ex := domain.Exchange{At: a.now(), Model: wreq.Model}
	report := func(err error) {
		if err != nil {
			ex.Error = err.Error()
			ex.Err = err
		}
		cb.response(ex)
	}

	payload, err := json.Marshal(wreq)
	if err != nil {
		err = fmt.Errorf("anthropic: marshaling request: %w", err)
		report(err)
		return nil, err
	}
	ex.Request = recordable(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		err = fmt.Errorf("anthropic: creating request: %w", err)
		report(err)
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	start := time.Now()
	resp, err := a.client.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("anthropic: sending request: %w", err)
		report(err)
		return nil, err
	}
	defer resp.Body.Close()
	ex.StatusCode = resp.StatusCode

	if resp.StatusCode != http.StatusOK {
		apiErr, body := readAPIError("anthropic", resp, a.now())
		ex.Response = recordable(body)
		report(apiErr)
		return nil, apiErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("anthropic: reading response: %w", err)
		report(err)
		return nil, err
	}
	ex.Response = recordable(body)

	var out wireResponse
	if err := json.Unmarshal(body, &out); err != nil {
		err = fmt.Errorf("anthropic: parsing response: %w", err)
		report(err)
		return nil, err
	}
	report(nil)

	a.log.Debug().
		Str("model", out.Model).
		Str("stopReason", out.StopReason).
		Int("inputTokens", out.Usage.InputTokens).
		Int("outputTokens", out.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("messages call complete")
	return &out, nil
}

// recordable returns body for the exchange log, replacing oversized or
// non-JSON bodies with a placeholder object.
func recordable(body []byte) json.RawMessage {
	if len(body) > maxRecordedBody || !json.Valid(body) {
		placeholder, _ := json.Marshal(map[string]any{"omitted": true, "bytes": len(body)})
		return placeholder
	}
	return append(json.RawMessage(nil), body...)
}
