package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/requora/reqcore/internal/agent"
	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/internal/scorer"
)

// Actions recorded for the non-agent pipeline phases.
const (
	actionScore  = "score"
	actionDedupe = "dedupe"
)

// defaultParallelReview is the fan-out group of the built-in plan: the
// adversarial and risk reviews see the same generated set concurrently.
var defaultParallelReview = []agent.Kind{agent.KindAdversarialReview, agent.KindRiskDetector}

// runState tracks the per-run step sequence. Parallel stages hand out
// sequence numbers through it concurrently.
type runState struct {
	jobID string

	mu   sync.Mutex
	next int
}

func (rs *runState) claim(limit int) (int, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.next > limit {
		return 0, &PolicyViolationError{Steps: rs.next - 1, Limit: limit}
	}
	seq := rs.next
	rs.next++
	return seq, nil
}

func (o *Orchestrator) runWorkflow(ctx context.Context, job *model.AgentJob, spec jobSpec) (*jobResult, error) {
	count, err := o.store.CountSteps(ctx, job.ID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: count steps")
	}
	rs := &runState{jobID: job.ID, next: count + 1}

	actx := &agent.Context{
		SessionID:       job.ID,
		Industry:        spec.Industry,
		Function:        spec.Function,
		SystemType:      spec.SystemType,
		RegulationLevel: spec.RegulationLevel,
	}
	input := agent.Input{Goal: job.Goal}

	result := &jobResult{}

	if len(spec.Workflow) > 0 {
		input.Candidates, err = o.runSequential(ctx, rs, actx, input, spec.Workflow, spec.StopOnError, result)
	} else {
		input.Candidates, err = o.runDefault(ctx, rs, actx, input, result)
	}
	if err != nil {
		return nil, err
	}
	result.Stages = actx.PreviousResults

	return o.finish(ctx, rs, actx, input.Candidates, spec, result)
}

// runSequential executes the named kinds in order. Each stage works on the
// previous stage's candidate output; a stage that returns no candidates
// leaves the working set unchanged (analysis-style stages pass notes only).
// A failing stage under stopOnError halts the workflow immediately: later
// stages are never invoked and the job completes with the candidates and
// stage results accumulated so far, the halt noted in the result.
func (o *Orchestrator) runSequential(ctx context.Context, rs *runState, actx *agent.Context, input agent.Input, kinds []string, stopOnError bool, result *jobResult) ([]model.RequirementCandidate, error) {
	for _, name := range kinds {
		ag, ok := o.agents[agent.Kind(name)]
		if !ok {
			return nil, eris.Errorf("orchestrator: unknown agent kind %q", name)
		}
		res, err := o.invoke(ctx, rs, ag, input, actx)
		if err != nil {
			return nil, err
		}
		if !res.Success && stopOnError {
			result.Notes = append(result.Notes,
				fmt.Sprintf("stage %s failed, workflow halted: %s", name, res.Error))
			zap.L().Warn("orchestrator: workflow halted",
				zap.String("job", rs.jobID),
				zap.String("stage", name),
				zap.String("error", res.Error),
			)
			break
		}
		if len(res.Candidates) > 0 {
			input.Candidates = res.Candidates
		}
	}
	return input.Candidates, nil
}

// runDefault executes the built-in plan: goal and context analysis,
// requirement generation, a parallel adversarial/risk review, the
// validate/refine loop, then classification.
func (o *Orchestrator) runDefault(ctx context.Context, rs *runState, actx *agent.Context, input agent.Input, result *jobResult) ([]model.RequirementCandidate, error) {
	for _, kind := range []agent.Kind{agent.KindGoalAnalysis, agent.KindContextAnalysis} {
		res, err := o.invoke(ctx, rs, o.agents[kind], input, actx)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			// Analysis is advisory; generation can proceed without it.
			result.Notes = append(result.Notes, fmt.Sprintf("%s failed: %s", kind, res.Error))
		}
	}

	genRes, err := o.invoke(ctx, rs, o.agents[agent.KindRequirementGeneration], input, actx)
	if err != nil {
		return nil, err
	}
	if !genRes.Success {
		return nil, eris.Errorf("orchestrator: requirement generation failed: %s", genRes.Error)
	}
	input.Candidates = genRes.Candidates

	reviewed, err := o.runParallel(ctx, rs, actx, input, defaultParallelReview)
	if err != nil {
		return nil, err
	}
	if len(reviewed) > 0 {
		input.Candidates = reviewed
	}

	refined, err := o.runValidateRefine(ctx, rs, actx, input, result)
	if err != nil {
		return nil, err
	}
	input.Candidates = refined

	classRes, err := o.invoke(ctx, rs, o.agents[agent.KindClassifier], input, actx)
	if err != nil {
		return nil, err
	}
	// The classifier fallback still labels the set; use it either way.
	return classRes.Candidates, nil
}

// runParallel fans the same input snapshot out to every kind and joins all
// results. One stage failing does not cancel its siblings; only when every
// stage fails is the group an error. Successful candidate sets concatenate
// in kind order.
func (o *Orchestrator) runParallel(ctx context.Context, rs *runState, actx *agent.Context, input agent.Input, kinds []agent.Kind) ([]model.RequirementCandidate, error) {
	results := make([]*agent.Result, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			res, err := o.invoke(gctx, rs, o.agents[kind], input, actx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []model.RequirementCandidate
	anySuccess := false
	for i, res := range results {
		if res == nil {
			continue
		}
		if !res.Success {
			zap.L().Warn("orchestrator: parallel stage failed",
				zap.String("job", rs.jobID),
				zap.String("stage", string(kinds[i])),
				zap.String("error", res.Error),
			)
			continue
		}
		anySuccess = true
		merged = append(merged, res.Candidates...)
	}
	if !anySuccess {
		return nil, eris.New("orchestrator: all parallel stages failed")
	}
	return dedupeByID(merged), nil
}

// runValidateRefine alternates validator and refiner until the validator
// score reaches the acceptance threshold or the iteration budget runs out.
// A set still below threshold at the end is accepted degraded, with a note.
func (o *Orchestrator) runValidateRefine(ctx context.Context, rs *runState, actx *agent.Context, input agent.Input, result *jobResult) ([]model.RequirementCandidate, error) {
	for i := 0; i < o.maxRefine; i++ {
		vres, err := o.invoke(ctx, rs, o.agents[agent.KindValidator], input, actx)
		if err != nil {
			return nil, err
		}
		score := vres.Metrics["score"]
		if vres.Success && score >= o.acceptScore {
			return input.Candidates, nil
		}
		if i == o.maxRefine-1 {
			break
		}

		refineInput := input
		refineInput.Payload = map[string]any{"issues": vres.Logs}
		rres, err := o.invoke(ctx, rs, o.agents[agent.KindRefiner], refineInput, actx)
		if err != nil {
			return nil, err
		}
		if rres.Success {
			input.Candidates = rres.Candidates
		}
	}
	result.Notes = append(result.Notes, "validation threshold not reached, set accepted as-is")
	return input.Candidates, nil
}

// finish scores the final set, annotates duplicates against the persisted
// corpus and optionally saves the non-duplicate survivors.
func (o *Orchestrator) finish(ctx context.Context, rs *runState, actx *agent.Context, candidates []model.RequirementCandidate, spec jobSpec, result *jobResult) (*jobResult, error) {
	result.Candidates = candidates

	report, err := o.recordPhase(ctx, rs, actionScore, func() (any, error) {
		return scorer.ScoreBatch(candidates, o.benchmarks, spec.Industry, spec.Function), nil
	})
	if err != nil {
		return nil, err
	}
	result.Report = report.(*scorer.BatchReport)

	if o.detector == nil {
		return result, nil
	}

	notes, err := o.recordPhase(ctx, rs, actionDedupe, func() (any, error) {
		return o.annotateDuplicates(ctx, result.Report, spec.Persist, result)
	})
	if err != nil {
		return nil, err
	}
	result.Duplicates = notes.([]duplicateNote)
	return result, nil
}

// annotateDuplicates checks every scored candidate against the corpus. Poor
// tier candidates are never persisted; duplicates are annotated and skipped.
func (o *Orchestrator) annotateDuplicates(ctx context.Context, report *scorer.BatchReport, persist bool, result *jobResult) ([]duplicateNote, error) {
	var notes []duplicateNote
	for _, sc := range report.Scored {
		verdict, err := o.detector.CheckDuplicate(ctx, sc.Candidate.Title, sc.Candidate.Content)
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: duplicate check")
		}
		if verdict.Duplicate {
			notes = append(notes, duplicateNote{
				Title:     sc.Candidate.Title,
				MatchedID: verdict.MatchedID,
				Kind:      string(verdict.Match),
				Score:     verdict.Score,
			})
			continue
		}
		if !persist || sc.Tier == scorer.TierPoor {
			continue
		}
		saved, err := o.store.SaveRequirement(ctx, model.Requirement{
			Title:    sc.Candidate.Title,
			Content:  sc.Candidate.Content,
			Category: sc.Candidate.Category,
			Type:     sc.Candidate.Type,
			Status:   model.RequirementActive,
		})
		if err != nil {
			return nil, eris.Wrap(err, "orchestrator: save requirement")
		}
		result.Saved = append(result.Saved, saved.ID)
	}
	return notes, nil
}

// invoke records a step row around one agent execution and enforces the step
// ceiling. Agent-level failure is captured in the step and the result, not
// returned as an error.
func (o *Orchestrator) invoke(ctx context.Context, rs *runState, ag agent.Agent, input agent.Input, actx *agent.Context) (*agent.Result, error) {
	seq, err := rs.claim(o.maxSteps)
	if err != nil {
		return nil, err
	}
	step, err := o.store.CreateStep(ctx, rs.jobID, seq, string(ag.Kind()))
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create step")
	}

	var res *agent.Result
	if !ag.Validate(input) {
		res = &agent.Result{
			Kind:       ag.Kind(),
			Success:    false,
			Candidates: input.Candidates,
			Error:      "input rejected by agent precheck",
		}
	} else {
		res = ag.Execute(ctx, input, actx)
	}

	status := model.StepCompleted
	if !res.Success {
		status = model.StepFailed
	}
	output, merr := json.Marshal(res)
	if merr != nil {
		output = nil
	}
	if cerr := o.store.CompleteStep(ctx, step.ID, status, output); cerr != nil {
		return nil, eris.Wrap(cerr, "orchestrator: complete step")
	}

	o.appendResult(actx, res)
	return res, nil
}

// recordPhase wraps a local (non-agent) phase in a step row so the job trace
// shows scoring and deduplication alongside agent stages.
func (o *Orchestrator) recordPhase(ctx context.Context, rs *runState, action string, fn func() (any, error)) (any, error) {
	seq, err := rs.claim(o.maxSteps)
	if err != nil {
		return nil, err
	}
	step, err := o.store.CreateStep(ctx, rs.jobID, seq, action)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create step")
	}

	out, phaseErr := fn()
	status := model.StepCompleted
	var raw json.RawMessage
	if phaseErr != nil {
		status = model.StepFailed
	} else if encoded, merr := json.Marshal(out); merr == nil {
		raw = encoded
	}
	if cerr := o.store.CompleteStep(ctx, step.ID, status, raw); cerr != nil {
		return nil, eris.Wrap(cerr, "orchestrator: complete step")
	}
	if phaseErr != nil {
		return nil, phaseErr
	}
	return out, nil
}

// appendResult is the only writer of actx.PreviousResults; parallel stages
// funnel through it under the run lock.
func (o *Orchestrator) appendResult(actx *agent.Context, res *agent.Result) {
	o.mu.Lock()
	actx.PreviousResults = append(actx.PreviousResults, res)
	o.mu.Unlock()
}

// dedupeByID drops later duplicates of candidates that carry the same
// non-empty ID. Parallel review stages return the same pass-through set; the
// join should not double it.
func dedupeByID(candidates []model.RequirementCandidate) []model.RequirementCandidate {
	seen := map[string]bool{}
	out := candidates[:0]
	for _, c := range candidates {
		key := c.ID
		if key == "" {
			key = c.Title + "\x00" + c.Content
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	return out
}
