package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/easiwork/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "Echo the input text" }
func (echoTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`)
}
func (echoTool) Execute(_ context.Context, input json.RawMessage) (domain.ToolResult, error) {
	var in struct{ Text string }
	if err := json.Unmarshal(input, &in); err != nil {
		return domain.ToolResult{}, err
	}
	return domain.ToolResult{Output: "echo: " + in.Text}, nil
}

// fakeAPI serves queued responses and records request bodies.
type fakeAPI struct {
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
	requests  []wireRequest
	headers   []http.Header
}

func (f *fakeAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req wireRequest
		require.NoError(t, json.Unmarshal(body, &req))

		f.mu.Lock()
		f.requests = append(f.requests, req)
		f.headers = append(f.headers, r.Header.Clone())
		if len(f.responses) == 0 {
			f.mu.Unlock()
			t.Errorf("unexpected request %d", len(f.requests))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		next := f.responses[0]
		f.responses = f.responses[1:]
		f.mu.Unlock()
		next(w)
	}
}

func reply(t *testing.T, blocks ...map[string]any) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		err := json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"model":       "claude-test",
			"stop_reason": "end_turn",
			"content":     blocks,
			"usage":       map[string]int{"input_tokens": 10, "output_tokens": 5},
		})
		assert.NoError(t, err)
	}
}

func failure(status int, errType, msg string, header map[string]string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"`+errType+`","message":"`+msg+`"}}`)
	}
}

func textBlock(s string) map[string]any { return map[string]any{"type": "text", "text": s} }

func toolUse(id, name string, input map[string]any) map[string]any {
	return map[string]any{"type": "tool_use", "id": id, "name": name, "input": input}
}

func newTestEngine(t *testing.T, f *fakeAPI, opts ...Option) *Anthropic {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	opts = append([]Option{WithBaseURL(srv.URL), WithToolbox(NewToolbox(echoTool{}))}, opts...)
	return NewAnthropic(opts...)
}

func userRequest(text string) Request {
	return Request{
		Messages: []domain.Message{{Role: domain.RoleUser, Content: []domain.Block{domain.TextBlock(text)}}},
		Config:   domain.SessionConfig{Model: "claude-test", ImageRetention: 3},
		APIKey:   "sk-test",
	}
}

func TestRun_TextReply(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){reply(t, textBlock("Try Olmsted."))}}
	eng := newTestEngine(t, f)

	var outputs []domain.Block
	var exchanges []domain.Exchange
	msgs, err := eng.Run(context.Background(), userRequest("find a restaurant"), Callbacks{
		Output:   func(b domain.Block) error { outputs = append(outputs, b); return nil },
		Response: func(ex domain.Exchange) { exchanges = append(exchanges, ex) },
	})
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	text, ok := msgs[1].FirstText()
	assert.True(t, ok)
	assert.Equal(t, "Try Olmsted.", text)
	require.Len(t, outputs, 1)
	assert.Equal(t, domain.BlockText, outputs[0].Type)

	require.Len(t, exchanges, 1)
	assert.Equal(t, http.StatusOK, exchanges[0].StatusCode)
	assert.Equal(t, "claude-test", exchanges[0].Model)
	assert.Empty(t, exchanges[0].Error)
	assert.NotEmpty(t, exchanges[0].Request)

	require.Len(t, f.requests, 1)
	assert.Equal(t, "sk-test", f.headers[0].Get("x-api-key"))
	assert.Equal(t, "2023-06-01", f.headers[0].Get("anthropic-version"))
	assert.Equal(t, "claude-test", f.requests[0].Model)
	assert.Contains(t, f.requests[0].System, "echo")
	require.Len(t, f.requests[0].Tools, 1)
	assert.Equal(t, "echo", f.requests[0].Tools[0].Name)
}

func TestRun_ToolLoop(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){
		reply(t, textBlock("Let me check."), toolUse("tu_1", "echo", map[string]any{"text": "hi"})),
		reply(t, textBlock("Done.")),
	}}
	eng := newTestEngine(t, f)

	type toolCall struct {
		id  string
		res domain.ToolResult
	}
	var calls []toolCall
	msgs, err := eng.Run(context.Background(), userRequest("say hi"), Callbacks{
		ToolOutput: func(id string, r domain.ToolResult) error {
			calls = append(calls, toolCall{id, r})
			return nil
		},
	})
	require.NoError(t, err)

	require.Len(t, calls, 1)
	assert.Equal(t, "tu_1", calls[0].id)
	assert.Equal(t, "echo: hi", calls[0].res.Output)

	require.Len(t, msgs, 4)
	assert.Equal(t, domain.RoleUser, msgs[2].Role)
	assert.Equal(t, domain.BlockToolResult, msgs[2].Content[0].Type)
	text, _ := msgs[3].FirstText()
	assert.Equal(t, "Done.", text)

	require.Len(t, f.requests, 2)
	second := f.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "tool_result", second[2].Content[0].Type)
	assert.Equal(t, "tu_1", second[2].Content[0].ToolUseID)
}

func TestRun_UnknownToolIsErrorResult(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){
		reply(t, toolUse("tu_1", "missing", map[string]any{})),
		reply(t, textBlock("ok")),
	}}
	eng := newTestEngine(t, f)

	var got domain.ToolResult
	_, err := eng.Run(context.Background(), userRequest("x"), Callbacks{
		ToolOutput: func(_ string, r domain.ToolResult) error { got = r; return nil },
	})
	require.NoError(t, err)
	assert.True(t, got.IsError())
	assert.Contains(t, got.Error, "unknown tool")
}

func TestRun_FailoverOnOverload(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){
		failure(529, "overloaded_error", "Overloaded", nil),
		reply(t, textBlock("from fallback")),
	}}
	eng := newTestEngine(t, f, WithFallbacks([]string{"claude-fallback"}))

	var exchanges []domain.Exchange
	msgs, err := eng.Run(context.Background(), userRequest("x"), Callbacks{
		Response: func(ex domain.Exchange) { exchanges = append(exchanges, ex) },
	})
	require.NoError(t, err)
	text, _ := msgs[len(msgs)-1].FirstText()
	assert.Equal(t, "from fallback", text)

	require.Len(t, f.requests, 2)
	assert.Equal(t, "claude-test", f.requests[0].Model)
	assert.Equal(t, "claude-fallback", f.requests[1].Model)

	require.Len(t, exchanges, 2)
	assert.Equal(t, 529, exchanges[0].StatusCode)
	assert.Error(t, exchanges[0].Err)
	assert.NoError(t, exchanges[1].Err)
}

func TestRun_RateLimit(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){
		failure(429, "rate_limit_error", "Number of requests has exceeded your rate limit", map[string]string{"Retry-After": "90"}),
	}}
	eng := newTestEngine(t, f)

	var reported error
	_, err := eng.Run(context.Background(), userRequest("x"), Callbacks{
		Response: func(ex domain.Exchange) { reported = ex.Err },
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimit())
	assert.Equal(t, 90*time.Second, apiErr.RetryAfter)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
	assert.Equal(t, err, reported)
}

func TestRun_NonRetryableSkipsFallback(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){
		failure(400, "invalid_request_error", "bad", nil),
	}}
	eng := newTestEngine(t, f, WithFallbacks([]string{"claude-fallback"}))

	_, err := eng.Run(context.Background(), userRequest("x"), Callbacks{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.StatusCode)
	assert.Len(t, f.requests, 1)
}

func TestRun_OutputCallbackErrorAborts(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){
		reply(t, map[string]any{"type": "thinking", "thinking": "hmm"}),
	}}
	eng := newTestEngine(t, f)

	var seen domain.BlockType
	_, err := eng.Run(context.Background(), userRequest("x"), Callbacks{
		Output: func(b domain.Block) error {
			seen = b.Type
			return assert.AnError
		},
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, domain.BlockType("thinking"), seen)
}

func TestRun_MaxIterations(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){
		reply(t, toolUse("tu_1", "echo", map[string]any{"text": "a"})),
		reply(t, toolUse("tu_2", "echo", map[string]any{"text": "b"})),
	}}
	eng := newTestEngine(t, f, WithMaxIterations(2))

	msgs, err := eng.Run(context.Background(), userRequest("loop"), Callbacks{})
	assert.ErrorIs(t, err, ErrMaxIterations)
	assert.Len(t, msgs, 5)
}

func TestRun_SessionMaxTokens(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){reply(t, textBlock("ok"))}}
	eng := newTestEngine(t, f, WithMaxTokens(1000))

	req := userRequest("x")
	req.Config.MaxTokens = 256
	_, err := eng.Run(context.Background(), req, Callbacks{})
	require.NoError(t, err)
	assert.Equal(t, 256, f.requests[0].MaxTokens)
}

func TestRun_SystemPromptSuffix(t *testing.T) {
	f := &fakeAPI{responses: []func(http.ResponseWriter){reply(t, textBlock("ok"))}}
	eng := newTestEngine(t, f)

	req := userRequest("x")
	req.Config.SystemPromptSuffix = "Always answer in French."
	_, err := eng.Run(context.Background(), req, Callbacks{})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.requests[0].System, "Always answer in French."))
}

func TestRecordable(t *testing.T) {
	assert.JSONEq(t, `{"a":1}`, string(recordable([]byte(`{"a":1}`))))
	assert.JSONEq(t, `{"omitted":true,"bytes":8}`, string(recordable([]byte("not json"))))

	big := []byte(`"` + strings.Repeat("x", maxRecordedBody) + `"`)
	assert.Contains(t, string(recordable(big)), `"omitted":true`)
}
