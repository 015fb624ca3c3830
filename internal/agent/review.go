package agent

import (
	"context"
	"time"

	"github.com/requora/reqcore/internal/model"
)

// Validator scores a candidate set 0-100 against clarity, testability and
// completeness and lists concrete issues. The score drives the orchestrator's
// validate/refine loop; a validator failure reads as below-threshold.
type Validator struct {
	base
}

func NewValidator(completer Completer) *Validator {
	return &Validator{base{completer: completer, kind: KindValidator}}
}

func (a *Validator) Validate(input Input) bool {
	return len(input.Candidates) > 0
}

const validatorTask = `Assess the requirement set as a whole. Judge clarity, testability,
consistency and completeness. Return an object with "score" (0-100 integer)
and "issues" (array of strings, concrete and actionable, empty when clean).`

func (a *Validator) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(validatorTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	score, err := ParseScore(raw)
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}

	res := a.ok(start, input.Candidates, ParseIssues(raw)...)
	res.Metrics = map[string]float64{"score": score}
	return res
}

// AdversarialReview attacks the candidate set from a hostile-reader stance:
// contradictions, hidden assumptions, abuse paths. Findings are attached to
// each candidate's thinking log and surfaced in Logs; the set itself is not
// rewritten here, that is the refiner's job.
type AdversarialReview struct {
	base
}

func NewAdversarialReview(completer Completer) *AdversarialReview {
	return &AdversarialReview{base{completer: completer, kind: KindAdversarialReview}}
}

func (a *AdversarialReview) Validate(input Input) bool {
	return len(input.Candidates) > 0
}

const adversarialTask = `Act as a hostile reviewer of the requirement set. Find
contradictions, unstated assumptions, ways a malicious or careless actor
breaks the system, and requirements that cannot be verified. Return an object
with "issues" (array of strings) and "score" (0-100, lower means more broken).`

func (a *AdversarialReview) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(adversarialTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	issues := ParseIssues(raw)

	candidates := append([]model.RequirementCandidate(nil), input.Candidates...)
	for i := range candidates {
		candidates[i] = candidates[i].AppendThinking(
			string(KindAdversarialReview), reviewSummary(issues), candidates[i].Confidence)
	}

	res := a.ok(start, candidates, issues...)
	if score, err := ParseScore(raw); err == nil {
		res.Metrics = map[string]float64{"score": score}
	}
	return res
}

func reviewSummary(issues []string) string {
	if len(issues) == 0 {
		return "adversarial review found no issues"
	}
	return issues[0]
}

// RiskDetector flags compliance, safety and operational risks in the set and
// reports an aggregate risk count.
type RiskDetector struct {
	base
}

func NewRiskDetector(completer Completer) *RiskDetector {
	return &RiskDetector{base{completer: completer, kind: KindRiskDetector}}
}

func (a *RiskDetector) Validate(input Input) bool {
	return len(input.Candidates) > 0
}

const riskTask = `Scan the requirement set for risk: regulatory exposure, data
protection, safety-critical behavior, irreversible operations, third-party
dependencies. Return an object with "issues" (array of strings, one per risk
found, empty when none).`

func (a *RiskDetector) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(riskTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	risks := ParseIssues(raw)

	res := a.ok(start, input.Candidates, risks...)
	res.Metrics = map[string]float64{"risks": float64(len(risks))}
	return res
}
