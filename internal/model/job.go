package model

import (
	"encoding/json"
	"time"
)

// JobStatus is the pipeline job state machine.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// AgentJob is one pipeline run. A job owns an ordered list of steps.
type AgentJob struct {
	ID         string          `json:"id"`
	Goal       string          `json:"goal"`
	Status     JobStatus       `json:"status"`
	Context    json.RawMessage `json:"context,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// StepStatus is the lifecycle state of a single agent invocation.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// AgentStep records one agent invocation within a job. A step is created
// before its agent runs and completed or failed after.
type AgentStep struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Seq        int             `json:"seq"`
	Action     string          `json:"action"`
	Status     StepStatus      `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
