package agent

import (
	"context"
	"strings"
	"time"

	"github.com/requora/reqcore/internal/model"
)

// Extractor turns free-form goal or document text into structured requirement
// candidates.
type Extractor struct {
	base
}

func NewExtractor(completer Completer) *Extractor {
	return &Extractor{base{completer: completer, kind: KindExtractor}}
}

func (a *Extractor) Validate(input Input) bool {
	if strings.TrimSpace(input.Goal) != "" {
		return true
	}
	_, ok := input.Payload["text"]
	return ok
}

const extractorTask = `Extract every distinct requirement stated or implied by the input.
Each requirement gets a short imperative title and a testable content sentence.
Return an object with a "requirements" array.`

func (a *Extractor) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(extractorTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	candidates, err := ParseCandidates(raw)
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	for i := range candidates {
		candidates[i].Source = string(KindExtractor)
	}
	return a.ok(start, candidates)
}

// Refiner rewrites candidates to resolve the issues raised by a validator or
// reviewer pass. The candidate count is expected to stay stable.
type Refiner struct {
	base
}

func NewRefiner(completer Completer) *Refiner {
	return &Refiner{base{completer: completer, kind: KindRefiner}}
}

func (a *Refiner) Validate(input Input) bool {
	return len(input.Candidates) > 0
}

const refinerTask = `Rewrite the requirements to fix the listed issues: remove ambiguity,
make each statement verifiable, keep the original intent. Do not add or drop
requirements. Return an object with a "requirements" array.`

func (a *Refiner) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(refinerTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	candidates, err := ParseCandidates(raw)
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	// A refinement that loses requirements is worse than no refinement.
	if len(candidates) < len(input.Candidates) {
		return a.fail(start, ErrParse, input.Candidates)
	}
	candidates = preserveThinking(KindRefiner, input.Candidates, candidates,
		"rewritten to resolve reported issues")
	return a.ok(start, candidates)
}

// Expander supplements a candidate set with the edge cases and non-functional
// requirements the input set misses. The originals pass through unchanged.
type Expander struct {
	base
}

func NewExpander(completer Completer) *Expander {
	return &Expander{base{completer: completer, kind: KindExpander}}
}

func (a *Expander) Validate(input Input) bool {
	return len(input.Candidates) > 0
}

const expanderTask = `Identify requirements the given set is missing: error handling,
boundary conditions, security, performance and operability. Return only the
NEW requirements as an object with a "requirements" array.`

func (a *Expander) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(expanderTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	added, err := ParseCandidates(raw)
	if err != nil {
		return a.fail(start, err, input.Candidates)
	}
	for i := range added {
		added[i].Source = string(KindExpander)
	}
	merged := append(append([]model.RequirementCandidate(nil), input.Candidates...), added...)
	return a.ok(start, merged)
}
