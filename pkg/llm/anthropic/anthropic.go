// Package anthropic adapts the Anthropic Messages API to the generic llm
// contract.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/requora/reqcore/pkg/llm"
)

const defaultMaxTokens = 4096

// Adapter implements llm.Adapter on top of anthropic-sdk-go.
type Adapter struct {
	name         string
	client       sdk.Client
	defaultModel string
	baseURL      string
}

// Option configures the adapter.
type Option func(*Adapter)

// WithDefaultModel sets the model used when the request leaves it unset.
func WithDefaultModel(model string) Option {
	return func(a *Adapter) { a.defaultModel = model }
}

// WithBaseURL overrides the API base URL (proxies, test servers).
func WithBaseURL(url string) Option {
	return func(a *Adapter) { a.baseURL = url }
}

// New creates an Anthropic-backed adapter. name identifies the provider row
// this adapter was built from.
func New(name, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		name:         name,
		defaultModel: string(sdk.ModelClaudeSonnet4_5),
	}
	for _, o := range opts {
		o(a)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if a.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(a.baseURL))
	}
	a.client = sdk.NewClient(clientOpts...)
	return a
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Kind() llm.Kind { return llm.KindCloud }

// IsHealthy lists one model as a cheap reachability probe.
func (a *Adapter) IsHealthy(ctx context.Context) bool {
	_, err := a.client.Models.List(ctx, sdk.ModelListParams{Limit: sdk.Int(1)})
	return err == nil
}

// Complete maps the generic request onto the Messages API. System messages
// become system blocks; everything else stays in conversational order.
func (a *Adapter) Complete(ctx context.Context, req llm.ExecutionRequest) (*llm.ExecutionResult, error) {
	model := req.Model
	if model == "" {
		model = a.defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
	}

	var system []sdk.TextBlockParam
	var messages []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			system = append(system, sdk.TextBlockParam{Text: m.Content})
		case llm.RoleAssistant:
			messages = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = system
	}
	params.Messages = messages

	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, llm.NewAdapterError(a.name, eris.Wrap(err, "anthropic: create message"))
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	prompt := int(msg.Usage.InputTokens)
	completion := int(msg.Usage.OutputTokens)
	return &llm.ExecutionResult{
		Content: content,
		Model:   string(msg.Model),
		Usage: llm.TokenUsage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}
