// Package orchestrator runs multi-agent pipelines over persisted jobs. A job
// moves pending -> running -> completed or failed; every agent invocation is
// recorded as a step row before it runs and finalized after, so a crashed run
// leaves a readable trace.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/requora/reqcore/internal/agent"
	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/internal/scorer"
	"github.com/requora/reqcore/internal/similarity"
	"github.com/requora/reqcore/internal/store"
)

// DefaultMaxSteps caps agent invocations per job. Exceeding it is a policy
// violation and fails the job.
const DefaultMaxSteps = 50

// DefaultMaxRefineIterations bounds the validate/refine loop.
const DefaultMaxRefineIterations = 3

// DefaultAcceptScore is the validator score at which refinement stops.
const DefaultAcceptScore = 90.0

// ErrJobRunning is returned when a start request races an in-flight run of
// the same job.
var ErrJobRunning = eris.New("orchestrator: job already running")

// PolicyViolationError reports a job that hit the step ceiling.
type PolicyViolationError struct {
	Steps int
	Limit int
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("orchestrator: policy violation: %d steps reached limit %d", e.Steps, e.Limit)
}

// JobStore is the persistence surface the orchestrator needs. *store.SQLite
// and *store.Postgres both satisfy it through store.Store.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*model.AgentJob, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	CompleteJob(ctx context.Context, jobID string, status model.JobStatus, result json.RawMessage, errText string) error

	CreateStep(ctx context.Context, jobID string, seq int, action string) (*model.AgentStep, error)
	CompleteStep(ctx context.Context, stepID string, status model.StepStatus, output json.RawMessage) error
	CountSteps(ctx context.Context, jobID string) (int, error)

	ListRequirements(ctx context.Context, filter store.RequirementFilter) ([]model.Requirement, error)
	SaveRequirement(ctx context.Context, r model.Requirement) (*model.Requirement, error)
}

// Orchestrator coordinates agents, scoring and duplicate detection for jobs.
type Orchestrator struct {
	store      JobStore
	agents     agent.Registry
	detector   *similarity.Detector
	benchmarks *scorer.BenchmarkTable

	maxSteps    int
	maxRefine   int
	acceptScore float64

	mu      sync.Mutex
	running map[string]struct{}
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithMaxSteps overrides the per-job step ceiling.
func WithMaxSteps(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithRefineLoop overrides the validate/refine bounds.
func WithRefineLoop(maxIterations int, acceptScore float64) Option {
	return func(o *Orchestrator) {
		if maxIterations > 0 {
			o.maxRefine = maxIterations
		}
		if acceptScore > 0 {
			o.acceptScore = acceptScore
		}
	}
}

// WithBenchmarks sets the industry benchmark table for the scoring gate.
func WithBenchmarks(t *scorer.BenchmarkTable) Option {
	return func(o *Orchestrator) { o.benchmarks = t }
}

// New creates an orchestrator over the given store, agent registry and
// duplicate detector.
func New(st JobStore, agents agent.Registry, detector *similarity.Detector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		agents:      agents,
		detector:    detector,
		maxSteps:    DefaultMaxSteps,
		maxRefine:   DefaultMaxRefineIterations,
		acceptScore: DefaultAcceptScore,
		running:     map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start launches Run in the background and returns immediately. The caller
// gets ErrJobRunning if the job is already in flight in this process.
func (o *Orchestrator) Start(jobID string) error {
	if err := o.acquire(jobID); err != nil {
		return err
	}
	go func() {
		defer o.release(jobID)
		if err := o.run(context.Background(), jobID); err != nil {
			zap.L().Error("orchestrator: job run failed",
				zap.String("job", jobID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Run executes the job synchronously. Used by the CLI path and tests; the
// HTTP path goes through Start.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	if err := o.acquire(jobID); err != nil {
		return err
	}
	defer o.release(jobID)
	return o.run(ctx, jobID)
}

func (o *Orchestrator) acquire(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[jobID]; ok {
		return ErrJobRunning
	}
	o.running[jobID] = struct{}{}
	return nil
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	delete(o.running, jobID)
	o.mu.Unlock()
}

// jobSpec is the decoded shape of AgentJob.Context.
type jobSpec struct {
	Industry        string   `json:"industry,omitempty"`
	Function        string   `json:"function,omitempty"`
	SystemType      string   `json:"system_type,omitempty"`
	RegulationLevel string   `json:"regulation_level,omitempty"`
	Workflow        []string `json:"workflow,omitempty"`
	StopOnError     bool     `json:"stop_on_error,omitempty"`
	Persist         bool     `json:"persist,omitempty"`
}

// jobResult is what CompleteJob persists for a finished job. Stages holds the
// per-stage results accumulated up to the point the workflow ended, whether it
// ran to completion or was halted by stop-on-error.
type jobResult struct {
	Candidates []model.RequirementCandidate `json:"candidates"`
	Stages     []*agent.Result              `json:"stages,omitempty"`
	Report     *scorer.BatchReport          `json:"report,omitempty"`
	Duplicates []duplicateNote              `json:"duplicates,omitempty"`
	Saved      []string                     `json:"saved,omitempty"`
	Notes      []string                     `json:"notes,omitempty"`
}

// duplicateNote annotates a candidate that matched an existing requirement.
type duplicateNote struct {
	Title     string  `json:"title"`
	MatchedID string  `json:"matched_id"`
	Kind      string  `json:"kind"`
	Score     float64 `json:"score"`
}

func (o *Orchestrator) run(ctx context.Context, jobID string) (err error) {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return eris.Wrap(err, "orchestrator: load job")
	}

	var spec jobSpec
	if len(job.Context) > 0 {
		if uerr := json.Unmarshal(job.Context, &spec); uerr != nil {
			return o.fail(ctx, jobID, eris.Wrap(uerr, "orchestrator: decode job context"))
		}
	}

	if err := o.store.UpdateJobStatus(ctx, jobID, model.JobRunning); err != nil {
		return eris.Wrap(err, "orchestrator: mark running")
	}
	zap.L().Info("orchestrator: job started",
		zap.String("job", jobID),
		zap.String("goal", job.Goal),
	)

	// A panicking agent or gate must not leave the job stuck in running.
	defer func() {
		if r := recover(); r != nil {
			err = o.fail(ctx, jobID, eris.Errorf("orchestrator: panic: %v", r))
		}
	}()

	start := time.Now()
	result, runErr := o.runWorkflow(ctx, job, spec)
	if runErr != nil {
		return o.fail(ctx, jobID, runErr)
	}

	raw, merr := json.Marshal(result)
	if merr != nil {
		return o.fail(ctx, jobID, eris.Wrap(merr, "orchestrator: encode result"))
	}
	if cerr := o.store.CompleteJob(ctx, jobID, model.JobCompleted, raw, ""); cerr != nil {
		return eris.Wrap(cerr, "orchestrator: complete job")
	}
	zap.L().Info("orchestrator: job completed",
		zap.String("job", jobID),
		zap.Int("candidates", len(result.Candidates)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// fail finalizes the job as failed with the error text and returns err for
// the caller's log line.
func (o *Orchestrator) fail(ctx context.Context, jobID string, err error) error {
	if cerr := o.store.CompleteJob(ctx, jobID, model.JobFailed, nil, err.Error()); cerr != nil {
		zap.L().Error("orchestrator: failed to finalize job",
			zap.String("job", jobID),
			zap.Error(cerr),
		)
	}
	return err
}
