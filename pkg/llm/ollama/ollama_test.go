package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requora/reqcore/pkg/llm"
)

func chatServer(t *testing.T, handler func(t *testing.T, req chatRequest) (int, string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.WriteHeader(http.StatusOK)
			return
		}
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/chat", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		status, body := handler(t, req)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestComplete_NormalizesResponse(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, req chatRequest) (int, string) {
		assert.Equal(t, "llama3.1", req.Model)
		assert.False(t, req.Stream)
		assert.Empty(t, req.Format)
		assert.Nil(t, req.Options)
		return http.StatusOK, `{
			"model": "llama3.1",
			"message": {"role": "assistant", "content": "hello back"},
			"done": true,
			"prompt_eval_count": 11,
			"eval_count": 4
		}`
	})
	defer srv.Close()

	a := New("local", WithBaseURL(srv.URL))
	result, err := a.Complete(context.Background(), llm.ExecutionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", result.Content)
	assert.Equal(t, "llama3.1", result.Model)
	assert.Equal(t, llm.TokenUsage{PromptTokens: 11, CompletionTokens: 4, TotalTokens: 15}, result.Usage)
}

func TestComplete_RequestMapping(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, req chatRequest) (int, string) {
		assert.Equal(t, "mistral", req.Model)
		assert.Equal(t, "json", req.Format)
		require.NotNil(t, req.Options)
		require.NotNil(t, req.Options.Temperature)
		assert.Equal(t, 0.2, *req.Options.Temperature)
		assert.Equal(t, 512, req.Options.NumPredict)
		return http.StatusOK, `{"model":"mistral","message":{"role":"assistant","content":"{}"},"done":true}`
	})
	defer srv.Close()

	temp := 0.2
	a := New("local", WithBaseURL(srv.URL))
	_, err := a.Complete(context.Background(), llm.ExecutionRequest{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Model:       "mistral",
		Temperature: &temp,
		MaxTokens:   512,
		JSONMode:    true,
	})
	require.NoError(t, err)
}

func TestComplete_DefaultModelOverride(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, req chatRequest) (int, string) {
		assert.Equal(t, "phi3", req.Model)
		return http.StatusOK, `{"model":"phi3","message":{"content":"ok"},"done":true}`
	})
	defer srv.Close()

	a := New("local", WithBaseURL(srv.URL), WithDefaultModel("phi3"))
	_, err := a.Complete(context.Background(), llm.ExecutionRequest{})
	require.NoError(t, err)
}

func TestComplete_HTTPErrorTruncated(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, _ chatRequest) (int, string) {
		return http.StatusInternalServerError, strings.Repeat("x", 300)
	})
	defer srv.Close()

	a := New("local", WithBaseURL(srv.URL))
	_, err := a.Complete(context.Background(), llm.ExecutionRequest{})
	require.Error(t, err)

	var aerr *llm.AdapterError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "local", aerr.Adapter)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "...")
	assert.NotContains(t, err.Error(), strings.Repeat("x", 201))
}

func TestComplete_InBandError(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, _ chatRequest) (int, string) {
		return http.StatusOK, `{"error":"model \"nope\" not found"}`
	})
	defer srv.Close()

	a := New("local", WithBaseURL(srv.URL))
	_, err := a.Complete(context.Background(), llm.ExecutionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestComplete_ServerDown(t *testing.T) {
	srv := chatServer(t, func(t *testing.T, _ chatRequest) (int, string) {
		return http.StatusOK, `{}`
	})
	srv.Close()

	a := New("local", WithBaseURL(srv.URL))
	_, err := a.Complete(context.Background(), llm.ExecutionRequest{})
	var aerr *llm.AdapterError
	require.ErrorAs(t, err, &aerr)
}

func TestIsHealthy(t *testing.T) {
	srv := chatServer(t, nil)
	a := New("local", WithBaseURL(srv.URL))
	assert.True(t, a.IsHealthy(context.Background()))

	srv.Close()
	assert.False(t, a.IsHealthy(context.Background()))
}

func TestKindAndName(t *testing.T) {
	a := New("box-a")
	assert.Equal(t, "box-a", a.Name())
	assert.Equal(t, llm.KindOllama, a.Kind())
}
