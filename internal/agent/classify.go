package agent

import (
	"context"
	"time"

	"github.com/requora/reqcore/internal/model"
)

// Known classification axes. The classifier nudges models toward these but
// accepts whatever comes back; downstream consumers treat category and type
// as opaque labels.
const (
	CategoryFunctional    = "functional"
	CategoryNonFunctional = "non_functional"
	CategoryConstraint    = "constraint"
)

// Classifier assigns a category and type label to every candidate.
type Classifier struct {
	base
}

func NewClassifier(completer Completer) *Classifier {
	return &Classifier{base{completer: completer, kind: KindClassifier}}
}

func (a *Classifier) Validate(input Input) bool {
	return len(input.Candidates) > 0
}

const classifierTask = `Classify every requirement. Set "category" to one of: functional,
non_functional, constraint. Set "type" to a short domain label such as
security, performance, usability, data, integration or business. Keep title
and content untouched. Return an object with a "requirements" array.`

func (a *Classifier) Execute(ctx context.Context, input Input, actx *Context) *Result {
	start := time.Now()

	raw, err := a.complete(ctx, systemPrompt(classifierTask, actx), userPayload(input))
	if err != nil {
		return a.fail(start, err, withDefaultCategory(input.Candidates))
	}
	candidates, err := ParseCandidates(raw)
	if err != nil || len(candidates) != len(input.Candidates) {
		return a.fail(start, err, withDefaultCategory(input.Candidates))
	}
	candidates = preserveThinking(KindClassifier, input.Candidates, candidates,
		"category and type assigned")
	return a.ok(start, candidates)
}

// withDefaultCategory is the classifier fallback: the input set with any
// unlabeled candidate marked functional.
func withDefaultCategory(candidates []model.RequirementCandidate) []model.RequirementCandidate {
	out := append([]model.RequirementCandidate(nil), candidates...)
	for i := range out {
		if out[i].Category == "" {
			out[i].Category = CategoryFunctional
		}
	}
	return out
}
