// Package openaicompat adapts any OpenAI-compatible chat-completion server
// (vLLM, LM Studio, OpenAI itself) to the generic llm contract via the
// official openai-go client with an overridable base URL.
package openaicompat

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rotisserie/eris"

	"github.com/requora/reqcore/pkg/llm"
)

// Adapter implements llm.Adapter over the Chat Completions API.
type Adapter struct {
	name         string
	client       openai.Client
	defaultModel string
	baseURL      string

	// jsonFormat enables response_format json_object when the request asks
	// for structured output. Some self-hosted servers reject the field.
	jsonFormat bool
}

// Option configures the adapter.
type Option func(*Adapter)

// WithBaseURL points the client at a self-hosted server, e.g.
// "http://vllm.internal:8000/v1".
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

// WithDefaultModel sets the model used when the request leaves it unset.
func WithDefaultModel(model string) Option {
	return func(a *Adapter) { a.defaultModel = model }
}

// WithJSONFormat toggles response_format support for JSONMode requests.
func WithJSONFormat(enabled bool) Option {
	return func(a *Adapter) { a.jsonFormat = enabled }
}

// New creates an adapter for an OpenAI-compatible backend. name identifies
// the provider row this adapter was built from.
func New(name, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		name:         name,
		defaultModel: openai.ChatModelGPT4oMini,
		jsonFormat:   true,
	}
	for _, o := range opts {
		o(a)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if a.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(a.baseURL))
	}
	a.client = openai.NewClient(clientOpts...)
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Kind() llm.Kind { return llm.KindOpenAICompat }

// IsHealthy lists models as a cheap reachability probe.
func (a *Adapter) IsHealthy(ctx context.Context) bool {
	page, err := a.client.Models.List(ctx)
	return err == nil && page != nil
}

// Complete maps the generic request onto the Chat Completions API and
// normalizes the first choice back.
func (a *Adapter) Complete(ctx context.Context, req llm.ExecutionRequest) (*llm.ExecutionResult, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.JSONMode && a.jsonFormat {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, llm.NewAdapterError(a.name, eris.Wrap(err, "openaicompat: chat completion"))
	}
	if len(completion.Choices) == 0 {
		return nil, llm.NewAdapterError(a.name, eris.New("openaicompat: empty choices"))
	}

	return &llm.ExecutionResult{
		Content: completion.Choices[0].Message.Content,
		Model:   completion.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}
