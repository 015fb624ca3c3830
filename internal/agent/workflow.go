package agent

import (
	"context"
	"time"
)

// GoalAnalysis decomposes the stated goal into objectives and constraints.
// It produces analysis notes, not requirements; candidates pass through so a
// sequential pipeline keeps its working set.
type GoalAnalysis struct {
	base
}

func NewGoalAnalysis(completer Completer) *GoalAnalysis {
	return &GoalAnalysis{base{completer: completer, kind: KindGoalAnalysis}}
}

func (a *GoalAnalysis) Validate(input Input) bool {
	return input.Goal != ""
}

const goalAnalysisTask = `Break the goal down. Return an object with "issues" (array of
strings) where each string is one objective, constraint or success criterion
implied by the goal, prefixed "objective:", "constraint:" or "criterion:".`

func (a *GoalAnalysis) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(goalAnalysisTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	notes := ParseIssues(raw)
	if len(notes) == 0 {
		return a.fail(start, ErrParse, input.Candidates)
	}
	return a.ok(start, input.Candidates, notes...)
}

// ContextAnalysis infers the operating environment of the system under
// specification: actors, integrations, data sensitivity, regulatory posture.
type ContextAnalysis struct {
	base
}

func NewContextAnalysis(completer Completer) *ContextAnalysis {
	return &ContextAnalysis{base{completer: completer, kind: KindContextAnalysis}}
}

const contextAnalysisTask = `Describe the environment this system will run in. Return an
object with "issues" (array of strings) covering actors, external systems,
data sensitivity and applicable regulation, one finding per string.`

func (a *ContextAnalysis) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(contextAnalysisTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	notes := ParseIssues(raw)
	if len(notes) == 0 {
		return a.fail(start, ErrParse, input.Candidates)
	}
	return a.ok(start, input.Candidates, notes...)
}

// RequirementGeneration drafts a requirement set from the goal and the
// analysis notes accumulated by earlier stages.
type RequirementGeneration struct {
	base
}

func NewRequirementGeneration(completer Completer) *RequirementGeneration {
	return &RequirementGeneration{base{completer: completer, kind: KindRequirementGeneration}}
}

func (a *RequirementGeneration) Validate(input Input) bool {
	return input.Goal != ""
}

const generationTask = `Draft the requirement set for the goal, informed by the analysis
notes in the additional context. Cover the happy path first, then the
failure modes the notes call out. Return an object with a "requirements"
array.`

func (a *RequirementGeneration) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	input.Payload = withStageNotes(input.Payload, actx)
	raw, err := a.complete(ctx, systemPrompt(generationTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	candidates, err := ParseCandidates(raw)
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	for i := range candidates {
		candidates[i].Source = string(KindRequirementGeneration)
	}
	return a.ok(start, candidates)
}

// Prototyping sketches a walkable prototype outline (screens, flows, sample
// interactions) for the requirement set. Output lands in Logs; the set itself
// passes through.
type Prototyping struct {
	base
}

func NewPrototyping(completer Completer) *Prototyping {
	return &Prototyping{base{completer: completer, kind: KindPrototyping}}
}

func (a *Prototyping) Validate(input Input) bool {
	return len(input.Candidates) > 0
}

const prototypingTask = `Sketch a minimal prototype for the requirement set. Return an
object with "issues" (array of strings) where each string is one screen,
flow step or sample interaction, in walk-through order.`

func (a *Prototyping) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(prototypingTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	steps := ParseIssues(raw)
	if len(steps) == 0 {
		return a.fail(start, ErrParse, input.Candidates)
	}
	return a.ok(start, input.Candidates, steps...)
}

// withStageNotes folds the Logs of earlier successful stages into the payload
// so generation sees what analysis found.
func withStageNotes(payload map[string]any, actx *Context) map[string]any {
	if actx == nil || len(actx.PreviousResults) == 0 {
		return payload
	}
	var notes []string
	for _, r := range actx.PreviousResults {
		if r.Success {
			notes = append(notes, r.Logs...)
		}
	}
	if len(notes) == 0 {
		return payload
	}
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["analysis_notes"] = notes
	return out
}
