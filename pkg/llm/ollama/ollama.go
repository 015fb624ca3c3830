// Package ollama adapts a self-hosted Ollama server's native chat API to the
// generic llm contract.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/requora/reqcore/pkg/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.1"
)

// Adapter implements llm.Adapter against POST /api/chat.
type Adapter struct {
	name         string
	baseURL      string
	defaultModel string
	http         *http.Client
}

// Option configures the adapter.
type Option func(*Adapter)

// WithBaseURL overrides the default server URL.
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

// WithDefaultModel sets the model used when the request leaves it unset.
func WithDefaultModel(model string) Option {
	return func(a *Adapter) { a.defaultModel = model }
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Adapter) { a.http = hc }
}

// New creates an Ollama adapter. name identifies the provider row this
// adapter was built from.
func New(name string, opts ...Option) *Adapter {
	a := &Adapter{
		name:         name,
		baseURL:      defaultBaseURL,
		defaultModel: defaultModel,
		http: &http.Client{
			Timeout: 120 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Kind() llm.Kind { return llm.KindOllama }

// IsHealthy probes GET /api/tags, which lists locally available models.
func (a *Adapter) IsHealthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  *chatOptions  `json:"options,omitempty"`
}

type chatOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

// Complete posts a non-streaming chat request. Ollama reports token counts as
// prompt_eval_count / eval_count; both normalize into the generic usage shape.
func (a *Adapter) Complete(ctx context.Context, req llm.ExecutionRequest) (*llm.ExecutionResult, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	body := chatRequest{
		Model:    model,
		Messages: req.Messages,
		Stream:   false,
	}
	if req.JSONMode {
		body.Format = "json"
	}
	if req.Temperature != nil || req.MaxTokens > 0 {
		body.Options = &chatOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, llm.NewAdapterError(a.name, eris.Wrap(err, "ollama: marshal request"))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.NewAdapterError(a.name, eris.Wrap(err, "ollama: build request"))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(httpReq)
	if err != nil {
		return nil, llm.NewAdapterError(a.name, eris.Wrap(err, "ollama: chat"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.NewAdapterError(a.name, eris.Wrap(err, "ollama: read response"))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, llm.NewAdapterError(a.name,
			eris.New(fmt.Sprintf("ollama: status %d: %s", resp.StatusCode, truncate(string(raw), 200))))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, llm.NewAdapterError(a.name, eris.Wrap(err, "ollama: decode response"))
	}
	if out.Error != "" {
		return nil, llm.NewAdapterError(a.name, eris.New("ollama: "+out.Error))
	}

	return &llm.ExecutionResult{
		Content: out.Message.Content,
		Model:   out.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     out.PromptEvalCount,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEvalCount + out.EvalCount,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
