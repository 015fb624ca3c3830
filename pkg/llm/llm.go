// Package llm defines the generic chat-completion contract shared by all
// inference backend adapters. An adapter translates ExecutionRequest into one
// backend's wire call and normalizes the response into ExecutionResult;
// failover across adapters lives in internal/executor.
package llm

import (
	"context"
	"fmt"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExecutionRequest is a generic completion request. It is immutable per call;
// the executor may fill Model/Temperature from global settings before dispatch.
type ExecutionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`

	// JSONMode hints that the caller expects structured JSON output.
	// Adapters whose backend supports a response format honor it; others
	// ignore it.
	JSONMode bool `json:"json_mode,omitempty"`
}

// TokenUsage reports token consumption for one completion.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ExecutionResult is a normalized completion response.
type ExecutionResult struct {
	Content string     `json:"content"`
	Model   string     `json:"model"`
	Usage   TokenUsage `json:"usage"`
}

// Kind identifies a backend variant.
type Kind string

const (
	KindCloud        Kind = "cloud"
	KindOllama       Kind = "ollama"
	KindOpenAICompat Kind = "openai_compat"
)

// Adapter is implemented once per backend variant. Adapters do not log and
// never retry; they perform exactly one network call per Complete.
type Adapter interface {
	Name() string
	Kind() Kind

	// IsHealthy performs a lightweight capability probe (typically listing
	// available models) and reports whether the backend is reachable.
	IsHealthy(ctx context.Context) bool

	Complete(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// AdapterError wraps a single-backend call failure.
type AdapterError struct {
	Adapter string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Adapter, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError wraps err as an adapter failure. Returns nil for nil err.
func NewAdapterError(adapter string, err error) error {
	if err == nil {
		return nil
	}
	return &AdapterError{Adapter: adapter, Err: err}
}
