package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/requora/reqcore/internal/agent"
	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/internal/scorer"
	"github.com/requora/reqcore/internal/similarity"
	"github.com/requora/reqcore/internal/store"
)

// fakeJobStore keeps jobs, steps and requirements in memory. It also
// satisfies similarity.Corpus so one fake can back the detector.
type fakeJobStore struct {
	mu sync.Mutex

	job      *model.AgentJob
	statuses []model.JobStatus

	finalStatus model.JobStatus
	finalResult json.RawMessage
	finalError  string

	steps       []*model.AgentStep
	stepResults map[string]model.StepStatus

	requirements []model.Requirement
	saved        []model.Requirement
	deprecated   []string
}

func newFakeJobStore(goal string, spec jobSpec) *fakeJobStore {
	ctxRaw, _ := json.Marshal(spec)
	return &fakeJobStore{
		job: &model.AgentJob{
			ID:      "job-1",
			Goal:    goal,
			Status:  model.JobPending,
			Context: ctxRaw,
		},
		stepResults: map[string]model.StepStatus{},
	}
}

func (f *fakeJobStore) GetJob(_ context.Context, jobID string) (*model.AgentJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if jobID != f.job.ID {
		return nil, store.ErrNotFound
	}
	job := *f.job
	return &job, nil
}

func (f *fakeJobStore) UpdateJobStatus(_ context.Context, _ string, status model.JobStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeJobStore) CompleteJob(_ context.Context, _ string, status model.JobStatus, result json.RawMessage, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalStatus = status
	f.finalResult = result
	f.finalError = errText
	return nil
}

func (f *fakeJobStore) CreateStep(_ context.Context, jobID string, seq int, action string) (*model.AgentStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step := &model.AgentStep{
		ID:     fmt.Sprintf("step-%d", seq),
		JobID:  jobID,
		Seq:    seq,
		Action: action,
		Status: model.StepRunning,
	}
	f.steps = append(f.steps, step)
	return step, nil
}

func (f *fakeJobStore) CompleteStep(_ context.Context, stepID string, status model.StepStatus, _ json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepResults[stepID] = status
	return nil
}

func (f *fakeJobStore) CountSteps(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.steps), nil
}

func (f *fakeJobStore) ListRequirements(_ context.Context, _ store.RequirementFilter) ([]model.Requirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Requirement(nil), f.requirements...), nil
}

func (f *fakeJobStore) SaveRequirement(_ context.Context, r model.Requirement) (*model.Requirement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = fmt.Sprintf("req-%d", len(f.saved)+1)
	f.saved = append(f.saved, r)
	return &r, nil
}

func (f *fakeJobStore) UpdateRequirementStatus(_ context.Context, id string, _ model.RequirementStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deprecated = append(f.deprecated, id)
	return nil
}

func (f *fakeJobStore) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.steps))
	for i, s := range f.steps {
		out[i] = s.Action
	}
	return out
}

// stubAgent scripts Execute per call index and counts invocations.
type stubAgent struct {
	kind   agent.Kind
	reject bool
	fn     func(call int, input agent.Input) *agent.Result

	mu    sync.Mutex
	calls int
}

func (s *stubAgent) Kind() agent.Kind { return s.kind }

func (s *stubAgent) Validate(agent.Input) bool { return !s.reject }

func (s *stubAgent) Execute(_ context.Context, input agent.Input, _ *agent.Context) *agent.Result {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()
	return s.fn(call, input)
}

func (s *stubAgent) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func passThrough(kind agent.Kind) *stubAgent {
	return &stubAgent{kind: kind, fn: func(_ int, input agent.Input) *agent.Result {
		return &agent.Result{Kind: kind, Success: true, Candidates: input.Candidates}
	}}
}

func producing(kind agent.Kind, candidates []model.RequirementCandidate) *stubAgent {
	return &stubAgent{kind: kind, fn: func(int, agent.Input) *agent.Result {
		return &agent.Result{Kind: kind, Success: true, Candidates: candidates}
	}}
}

func failing(kind agent.Kind, msg string) *stubAgent {
	return &stubAgent{kind: kind, fn: func(_ int, input agent.Input) *agent.Result {
		return &agent.Result{Kind: kind, Success: false, Candidates: input.Candidates, Error: msg}
	}}
}

// scoring replays validator scores by call index, repeating the last one.
func scoring(kind agent.Kind, scores ...float64) *stubAgent {
	return &stubAgent{kind: kind, fn: func(call int, input agent.Input) *agent.Result {
		if call >= len(scores) {
			call = len(scores) - 1
		}
		return &agent.Result{
			Kind:       kind,
			Success:    true,
			Candidates: input.Candidates,
			Metrics:    map[string]float64{"score": scores[call]},
			Logs:       []string{"tighten acceptance criteria"},
		}
	}}
}

func generated() []model.RequirementCandidate {
	return []model.RequirementCandidate{{
		ID:         "c1",
		Title:      "Password reset expiry",
		Content:    "Users must request a reset link; if the link is older than 60 minutes the system must reject it.",
		Category:   "functional",
		Type:       "security",
		Confidence: 0.9,
	}}
}

// defaultRegistry wires stubs for every stage of the built-in plan.
func defaultRegistry(validatorScores ...float64) agent.Registry {
	if len(validatorScores) == 0 {
		validatorScores = []float64{95}
	}
	return agent.Registry{
		agent.KindGoalAnalysis:          passThrough(agent.KindGoalAnalysis),
		agent.KindContextAnalysis:       passThrough(agent.KindContextAnalysis),
		agent.KindRequirementGeneration: producing(agent.KindRequirementGeneration, generated()),
		agent.KindAdversarialReview:     passThrough(agent.KindAdversarialReview),
		agent.KindRiskDetector:          passThrough(agent.KindRiskDetector),
		agent.KindValidator:             scoring(agent.KindValidator, validatorScores...),
		agent.KindRefiner:               passThrough(agent.KindRefiner),
		agent.KindClassifier:            passThrough(agent.KindClassifier),
	}
}

func decodeResult(t *testing.T, raw json.RawMessage) jobResult {
	t.Helper()
	var out jobResult
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestRun_DefaultWorkflow(t *testing.T) {
	st := newFakeJobStore("ship a payments service", jobSpec{Persist: true})
	o := New(st, defaultRegistry(), similarity.NewDetector(st))

	require.NoError(t, o.Run(context.Background(), "job-1"))

	assert.Equal(t, model.JobCompleted, st.finalStatus)
	assert.Empty(t, st.finalError)
	assert.Contains(t, st.statuses, model.JobRunning)

	actions := st.actions()
	require.Len(t, actions, 9)
	assert.Equal(t, []string{"goal_analysis", "context_analysis", "requirement_generation"}, actions[:3])
	assert.ElementsMatch(t, []string{"adversarial_review", "risk_detector"}, actions[3:5])
	assert.Equal(t, []string{"validator", "classifier", actionScore, actionDedupe}, actions[5:])

	result := decodeResult(t, st.finalResult)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "Password reset expiry", result.Candidates[0].Title)
	require.NotNil(t, result.Report)
	assert.Len(t, result.Report.Scored, 1)
	assert.Empty(t, result.Duplicates)

	// Persist was requested and the candidate is not poor tier.
	require.Len(t, st.saved, 1)
	assert.Equal(t, model.RequirementActive, st.saved[0].Status)
	assert.Equal(t, result.Saved, []string{st.saved[0].ID})
}

func TestRun_CustomWorkflowSequential(t *testing.T) {
	st := newFakeJobStore("extract from brief", jobSpec{
		Workflow: []string{"extractor", "refiner"},
	})
	registry := agent.Registry{
		agent.KindExtractor: producing(agent.KindExtractor, generated()),
		agent.KindRefiner:   passThrough(agent.KindRefiner),
	}
	o := New(st, registry, nil)

	require.NoError(t, o.Run(context.Background(), "job-1"))

	assert.Equal(t, model.JobCompleted, st.finalStatus)
	actions := st.actions()
	// No detector, so only the scoring phase follows the two stages.
	assert.Equal(t, []string{"extractor", "refiner", actionScore}, actions)

	result := decodeResult(t, st.finalResult)
	assert.Len(t, result.Candidates, 1)
	assert.Empty(t, st.saved)
}

func TestRun_StopOnErrorHaltsWorkflow(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{
		Workflow:    []string{"extractor", "refiner", "classifier"},
		StopOnError: true,
	})
	refiner := failing(agent.KindRefiner, "model unavailable")
	classifier := passThrough(agent.KindClassifier)
	registry := agent.Registry{
		agent.KindExtractor:  producing(agent.KindExtractor, generated()),
		agent.KindRefiner:    refiner,
		agent.KindClassifier: classifier,
	}
	o := New(st, registry, nil)

	require.NoError(t, o.Run(context.Background(), "job-1"))

	// The halt ends the workflow but not the job: it completes with what the
	// first two stages accumulated, and stage three is never invoked.
	assert.Equal(t, model.JobCompleted, st.finalStatus)
	assert.Zero(t, classifier.callCount())
	assert.Equal(t, []string{"extractor", "refiner", actionScore}, st.actions())
	// The failed stage still left a finalized step row.
	assert.Equal(t, model.StepFailed, st.stepResults["step-2"])

	result := decodeResult(t, st.finalResult)
	require.Len(t, result.Stages, 2)
	assert.True(t, result.Stages[0].Success)
	assert.False(t, result.Stages[1].Success)
	assert.Len(t, result.Candidates, 1)
	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "workflow halted")
	assert.Contains(t, result.Notes[0], "model unavailable")
}

func TestRun_StageFailureToleratedWithoutStopOnError(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{
		Workflow: []string{"extractor", "refiner"},
	})
	registry := agent.Registry{
		agent.KindExtractor: producing(agent.KindExtractor, generated()),
		agent.KindRefiner:   failing(agent.KindRefiner, "model unavailable"),
	}
	o := New(st, registry, nil)

	require.NoError(t, o.Run(context.Background(), "job-1"))
	assert.Equal(t, model.JobCompleted, st.finalStatus)

	// The failed refiner did not clobber the working set.
	result := decodeResult(t, st.finalResult)
	assert.Len(t, result.Candidates, 1)
}

func TestRun_UnknownAgentKindFails(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{Workflow: []string{"telepathy"}})
	o := New(st, agent.Registry{}, nil)

	err := o.Run(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telepathy")
	assert.Equal(t, model.JobFailed, st.finalStatus)
}

func TestRun_RefineLoopStopsAtAcceptance(t *testing.T) {
	// First validation fails the threshold, the refiner runs once, the second
	// validation passes.
	st := newFakeJobStore("goal", jobSpec{})
	registry := defaultRegistry(60, 95)
	o := New(st, registry, nil)

	require.NoError(t, o.Run(context.Background(), "job-1"))
	assert.Equal(t, model.JobCompleted, st.finalStatus)

	validator := registry[agent.KindValidator].(*stubAgent)
	refiner := registry[agent.KindRefiner].(*stubAgent)
	assert.Equal(t, 2, validator.callCount())
	assert.Equal(t, 1, refiner.callCount())

	result := decodeResult(t, st.finalResult)
	assert.Empty(t, result.Notes)
}

func TestRun_RefineBudgetExhaustedAcceptsDegraded(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{})
	registry := defaultRegistry(40, 50, 60)
	o := New(st, registry, nil, WithRefineLoop(3, 90))

	require.NoError(t, o.Run(context.Background(), "job-1"))
	assert.Equal(t, model.JobCompleted, st.finalStatus)

	validator := registry[agent.KindValidator].(*stubAgent)
	refiner := registry[agent.KindRefiner].(*stubAgent)
	assert.Equal(t, 3, validator.callCount())
	assert.Equal(t, 2, refiner.callCount())

	result := decodeResult(t, st.finalResult)
	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "accepted as-is")
}

func TestRun_StepCeilingIsPolicyViolation(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{})
	o := New(st, defaultRegistry(), nil, WithMaxSteps(2))

	err := o.Run(context.Background(), "job-1")
	require.Error(t, err)

	var policy *PolicyViolationError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, 2, policy.Limit)

	assert.Equal(t, model.JobFailed, st.finalStatus)
	assert.Contains(t, st.finalError, "policy violation")
	assert.Len(t, st.steps, 2)
}

func TestRun_ConcurrentStartRejected(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{})
	o := New(st, defaultRegistry(), nil)

	require.NoError(t, o.acquire("job-1"))
	defer o.release("job-1")

	err := o.Run(context.Background(), "job-1")
	assert.ErrorIs(t, err, ErrJobRunning)
}

func TestRun_DuplicateCandidateAnnotatedNotSaved(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{Persist: true})
	st.requirements = []model.Requirement{{
		ID:     "existing-1",
		Title:  "Password reset expiry",
		Status: model.RequirementActive,
	}}
	o := New(st, defaultRegistry(), similarity.NewDetector(st))

	require.NoError(t, o.Run(context.Background(), "job-1"))
	assert.Equal(t, model.JobCompleted, st.finalStatus)

	result := decodeResult(t, st.finalResult)
	require.Len(t, result.Duplicates, 1)
	assert.Equal(t, "existing-1", result.Duplicates[0].MatchedID)
	assert.Equal(t, string(model.MatchExact), result.Duplicates[0].Kind)
	assert.Empty(t, st.saved)
}

func TestRun_PoorCandidatesNotPersisted(t *testing.T) {
	// A harsh benchmark plus a vague candidate lands in the poor tier.
	path := filepath.Join(t.TempDir(), "benchmarks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"benchmarks:\n  - industry: test\n    function: ops\n    average_accuracy: 10\n"), 0o644))
	table, err := scorer.LoadTable(path)
	require.NoError(t, err)

	st := newFakeJobStore("goal", jobSpec{Persist: true, Industry: "test", Function: "ops"})
	registry := defaultRegistry()
	registry[agent.KindRequirementGeneration] = producing(agent.KindRequirementGeneration,
		[]model.RequirementCandidate{{ID: "c1", Title: "tbd", Content: "tbd, as needed, etc."}})
	o := New(st, registry, similarity.NewDetector(st), WithBenchmarks(table))

	require.NoError(t, o.Run(context.Background(), "job-1"))
	assert.Equal(t, model.JobCompleted, st.finalStatus)

	result := decodeResult(t, st.finalResult)
	assert.Equal(t, 1, result.Report.Tiers["poor"])
	assert.Empty(t, st.saved)
}

func TestRun_GenerationFailureFailsJob(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{})
	registry := defaultRegistry()
	registry[agent.KindRequirementGeneration] = failing(agent.KindRequirementGeneration, "no providers")
	o := New(st, registry, nil)

	err := o.Run(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, model.JobFailed, st.finalStatus)
	assert.Contains(t, st.finalError, "requirement generation failed")
}

func TestRun_AnalysisFailureIsAdvisory(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{})
	registry := defaultRegistry()
	registry[agent.KindGoalAnalysis] = failing(agent.KindGoalAnalysis, "parse error")
	o := New(st, registry, nil)

	require.NoError(t, o.Run(context.Background(), "job-1"))
	assert.Equal(t, model.JobCompleted, st.finalStatus)

	result := decodeResult(t, st.finalResult)
	require.NotEmpty(t, result.Notes)
	assert.Contains(t, result.Notes[0], "goal_analysis")
}

func TestRun_PanicFailsJob(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{})
	registry := defaultRegistry()
	registry[agent.KindGoalAnalysis] = &stubAgent{
		kind: agent.KindGoalAnalysis,
		fn:   func(int, agent.Input) *agent.Result { panic("boom") },
	}
	o := New(st, registry, nil)

	err := o.Run(context.Background(), "job-1")
	require.Error(t, err)
	assert.Equal(t, model.JobFailed, st.finalStatus)
	assert.Contains(t, st.finalError, "panic")
}

func TestRun_PrecheckRejectionRecordedAsFailedStep(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{Workflow: []string{"extractor"}})
	registry := agent.Registry{
		agent.KindExtractor: &stubAgent{
			kind:   agent.KindExtractor,
			reject: true,
			fn: func(int, agent.Input) *agent.Result {
				t.Fatal("execute must not run when precheck rejects")
				return nil
			},
		},
	}
	o := New(st, registry, nil)

	require.NoError(t, o.Run(context.Background(), "job-1"))
	assert.Equal(t, model.StepFailed, st.stepResults["step-1"])
}

func TestRun_UnknownJob(t *testing.T) {
	st := newFakeJobStore("goal", jobSpec{})
	o := New(st, defaultRegistry(), nil)

	err := o.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDedupeByID(t *testing.T) {
	in := []model.RequirementCandidate{
		{ID: "a", Title: "one"},
		{ID: "b", Title: "two"},
		{ID: "a", Title: "one again"},
		{Title: "untitled", Content: "x"},
		{Title: "untitled", Content: "x"},
	}
	out := dedupeByID(in)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)
	assert.Equal(t, "untitled", out[2].Title)
}
