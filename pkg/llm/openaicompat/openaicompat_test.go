package openaicompat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requora/reqcore/pkg/llm"
)

func completionServer(t *testing.T, inspect func(body map[string]any), response string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/models" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"m","object":"model"}]}`))
			return
		}
		require.Equal(t, "/chat/completions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if inspect != nil {
			inspect(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(response))
	}))
}

const okCompletion = `{
	"id": "chatcmpl-1",
	"object": "chat.completion",
	"model": "vllm-qwen",
	"choices": [{"index": 0, "message": {"role": "assistant", "content": "normalized"}, "finish_reason": "stop"}],
	"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
}`

func TestComplete_NormalizesFirstChoice(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, func(body map[string]any) { seen = body }, okCompletion)
	defer srv.Close()

	temp := 0.1
	a := New("vllm", "test-key", WithBaseURL(srv.URL), WithDefaultModel("qwen"))
	result, err := a.Complete(context.Background(), llm.ExecutionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "be terse"},
			{Role: llm.RoleUser, Content: "hello"},
		},
		Temperature: &temp,
		MaxTokens:   256,
		JSONMode:    true,
	})
	require.NoError(t, err)

	assert.Equal(t, "normalized", result.Content)
	assert.Equal(t, "vllm-qwen", result.Model)
	assert.Equal(t, llm.TokenUsage{PromptTokens: 9, CompletionTokens: 3, TotalTokens: 12}, result.Usage)

	assert.Equal(t, "qwen", seen["model"])
	assert.Equal(t, 0.1, seen["temperature"])
	assert.Equal(t, float64(256), seen["max_completion_tokens"])
	format, _ := seen["response_format"].(map[string]any)
	require.NotNil(t, format)
	assert.Equal(t, "json_object", format["type"])
}

func TestComplete_JSONFormatDisabled(t *testing.T) {
	var seen map[string]any
	srv := completionServer(t, func(body map[string]any) { seen = body }, okCompletion)
	defer srv.Close()

	a := New("lmstudio", "k", WithBaseURL(srv.URL), WithJSONFormat(false))
	_, err := a.Complete(context.Background(), llm.ExecutionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.NotContains(t, seen, "response_format")
}

func TestComplete_EmptyChoices(t *testing.T) {
	srv := completionServer(t, nil, `{"id":"x","object":"chat.completion","model":"m","choices":[]}`)
	defer srv.Close()

	a := New("vllm", "k", WithBaseURL(srv.URL))
	_, err := a.Complete(context.Background(), llm.ExecutionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)

	var aerr *llm.AdapterError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "vllm", aerr.Adapter)
	assert.Contains(t, err.Error(), "empty choices")
}

func TestIsHealthy(t *testing.T) {
	srv := completionServer(t, nil, okCompletion)
	a := New("vllm", "k", WithBaseURL(srv.URL))
	assert.True(t, a.IsHealthy(context.Background()))

	srv.Close()
	assert.False(t, a.IsHealthy(context.Background()))
}

func TestKindAndName(t *testing.T) {
	a := New("compat", "k")
	assert.Equal(t, "compat", a.Name())
	assert.Equal(t, llm.KindOpenAICompat, a.Kind())
}
