package compose

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/soyeahso/easiwork/internal/config"
	"github.com/soyeahso/easiwork/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type completionRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

type fakeOpenAI struct {
	mu       sync.Mutex
	requests []completionRequest
	auth     string
	reply    string
	status   int
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.auth = r.Header.Get("Authorization")
	reply, status := f.reply, f.status
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   req.Model,
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": reply},
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
}

func newTestComposer(t *testing.T, f *fakeOpenAI) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewOpenAI(config.ComposeConfig{
		Enabled: true,
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/v1/",
	}, logging.New(nil, "silent"))
}

func TestOpenAI_Rewrite(t *testing.T) {
	f := &fakeOpenAI{reply: "  Find three dinner spots near Barclays Center.  "}
	c := newTestComposer(t, f)

	out, err := c.Rewrite(context.Background(), "Subject: dinner\n\nBody: food near the arena?")
	require.NoError(t, err)
	assert.Equal(t, "Find three dinner spots near Barclays Center.", out)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, config.DefaultComposeModel, req.Model)
	assert.Equal(t, float64(1), req.Temperature)
	assert.Equal(t, 2048, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "prompt adjuster")
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "Subject: dinner\n\nBody: food near the arena?", req.Messages[1].Content)
	assert.Equal(t, "Bearer sk-test", f.auth)
}

func TestOpenAI_Summarize(t *testing.T) {
	f := &fakeOpenAI{reply: "Found three places, the first one has outdoor seating."}
	c := newTestComposer(t, f)

	out, err := c.Summarize(context.Background(), "1. A\n2. B\n3. C")
	require.NoError(t, err)
	assert.Equal(t, "Found three places, the first one has outdoor seating.", out)
	assert.Contains(t, f.requests[0].Messages[0].Content, "easi.work")
	assert.Equal(t, "1. A\n2. B\n3. C", f.requests[0].Messages[1].Content)
}

func TestOpenAI_EmptyCompletion(t *testing.T) {
	c := newTestComposer(t, &fakeOpenAI{reply: "   "})

	_, err := c.Rewrite(context.Background(), "x")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAI_APIError(t *testing.T) {
	c := newTestComposer(t, &fakeOpenAI{status: http.StatusBadRequest})

	_, err := c.Summarize(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summarizing results")
}

func TestNew_PicksComposer(t *testing.T) {
	log := logging.New(nil, "silent")

	assert.IsType(t, Passthrough{}, New(config.ComposeConfig{Enabled: false, APIKey: "k"}, log))
	assert.IsType(t, Passthrough{}, New(config.ComposeConfig{Enabled: true}, log))
	assert.IsType(t, &OpenAI{}, New(config.ComposeConfig{Enabled: true, APIKey: "k"}, log))
}

func TestPassthrough(t *testing.T) {
	var c Composer = Passthrough{}

	out, err := c.Rewrite(context.Background(), "as is")
	require.NoError(t, err)
	assert.Equal(t, "as is", out)

	out, err = c.Summarize(context.Background(), "results")
	require.NoError(t, err)
	assert.Equal(t, "results", out)
}
