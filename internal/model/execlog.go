package model

import "time"

// ExecStatus marks whether one adapter attempt succeeded.
type ExecStatus string

const (
	ExecSuccess ExecStatus = "success"
	ExecFailure ExecStatus = "failure"
)

// ExecutionLogEntry records one adapter attempt. Exactly one entry is
// appended per attempt regardless of the final outcome of the execute call.
type ExecutionLogEntry struct {
	ID               string     `json:"id"`
	Adapter          string     `json:"adapter"`
	Model            string     `json:"model"`
	PromptTokens     int        `json:"prompt_tokens"`
	CompletionTokens int        `json:"completion_tokens"`
	TotalTokens      int        `json:"total_tokens"`
	Status           ExecStatus `json:"status"`
	Error            string     `json:"error,omitempty"`
	ContextTag       string     `json:"context_tag,omitempty"`
	At               time.Time  `json:"at"`
}
