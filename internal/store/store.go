package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/requora/reqcore/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Setting keys read by the failover executor on every execute call.
const (
	SettingModel       = "ai.model"
	SettingTemperature = "ai.temperature"
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status model.JobStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RequirementFilter specifies criteria for listing requirement records.
type RequirementFilter struct {
	Status      model.RequirementStatus `json:"status,omitempty"`
	Limit       int                     `json:"limit,omitempty"`
	NewestFirst bool                    `json:"newest_first,omitempty"`
}

// Store defines the persistence interface for the orchestration core.
type Store interface {
	// Providers
	ListProviders(ctx context.Context, activeOnly bool) ([]model.ProviderConfig, error)
	SaveProvider(ctx context.Context, p model.ProviderConfig) (*model.ProviderConfig, error)
	DeleteProvider(ctx context.Context, id string) error

	// Settings
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Jobs
	CreateJob(ctx context.Context, goal string, jobContext json.RawMessage) (*model.AgentJob, error)
	GetJob(ctx context.Context, jobID string) (*model.AgentJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	CompleteJob(ctx context.Context, jobID string, status model.JobStatus, result json.RawMessage, errText string) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.AgentJob, error)

	// Steps
	CreateStep(ctx context.Context, jobID string, seq int, action string) (*model.AgentStep, error)
	CompleteStep(ctx context.Context, stepID string, status model.StepStatus, output json.RawMessage) error
	CountSteps(ctx context.Context, jobID string) (int, error)
	ListSteps(ctx context.Context, jobID string) ([]model.AgentStep, error)

	// Execution log (append-only sink)
	AppendExecutionLog(ctx context.Context, entry model.ExecutionLogEntry) error

	// Requirements (duplicate-detection corpus)
	ListRequirements(ctx context.Context, filter RequirementFilter) ([]model.Requirement, error)
	SaveRequirement(ctx context.Context, r model.Requirement) (*model.Requirement, error)
	UpdateRequirementStatus(ctx context.Context, id string, status model.RequirementStatus) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
