// Package compose rewrites incoming requests into clear agent prompts and
// turns agent results into reply mails.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/logging"
)

const (
	rewritePrompt = "You are a prompt adjuster. You make flesh out prompts for AI tools that are capable and " +
		"connected to the internet so that they are more clear and direct. Your prompts come from emails from " +
		"normal people. Return a more clear prompt. Make some assumptions about what reasonable people would be requesting"

	summaryPrompt = "You are a robot named easi.work. You are writing an informal email with a summary of your " +
		"findings from some set of results. You are not writing a template email. Do not start the email with a " +
		"salutation. Do not end the email with a closing or signature. Here are the results:"

	temperature = 1
	maxTokens   = 2048
)

// ErrEmptyCompletion is returned when the model answers with no text.
var ErrEmptyCompletion = errors.New("compose: empty completion")

// Composer shapes the text around an agent run.
type Composer interface {
	// Rewrite turns a trigger's text into a prompt for the agent.
	Rewrite(ctx context.Context, text string) (string, error)
	// Summarize turns the agent's final text into a reply body.
	Summarize(ctx context.Context, results string) (string, error)
}

// Passthrough returns its input unchanged.
type Passthrough struct{}

func (Passthrough) Rewrite(_ context.Context, text string) (string, error) { return text, nil }
func (Passthrough) Summarize(_ context.Context, results string) (string, error) { return results, nil }

// OpenAI composes with chat completions.
type OpenAI struct {
	client openai.Client
	model  string
	log    *logging.Logger
}

// NewOpenAI creates a composer for the configured model.
func NewOpenAI(cfg config.ComposeConfig, log *logging.Logger) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = config.DefaultComposeModel
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		log:    log.Sub("compose"),
	}
}

// New picks the composer for cfg: OpenAI when enabled with a key, otherwise
// Passthrough.
func New(cfg config.ComposeConfig, log *logging.Logger) Composer {
	if !cfg.Enabled || cfg.APIKey == "" {
		log.Sub("compose").Debug().Bool("enabled", cfg.Enabled).Msg("using passthrough composer")
		return Passthrough{}
	}
	return NewOpenAI(cfg, log)
}

func (o *OpenAI) Rewrite(ctx context.Context, text string) (string, error) {
	out, err := o.ask(ctx, rewritePrompt, text)
	if err != nil {
		return "", fmt.Errorf("rewriting prompt: %w", err)
	}
	return out, nil
}

func (o *OpenAI) Summarize(ctx context.Context, results string) (string, error) {
	out, err := o.ask(ctx, summaryPrompt, results)
	if err != nil {
		return "", fmt.Errorf("summarizing results: %w", err)
	}
	return out, nil
}

func (o *OpenAI) ask(ctx context.Context, system, prompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(temperature),
		TopP:        openai.Float(1),
		MaxTokens:   openai.Int(maxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	o.log.Debug().
		Str("model", resp.Model).
		Int64("promptTokens", resp.Usage.PromptTokens).
		Int64("completionTokens", resp.Usage.CompletionTokens).
		Msg("completion")
	return out, nil
}
