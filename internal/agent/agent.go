// Package agent implements the closed set of pipeline agent kinds. Each
// agent formats a task-specific instruction, calls the failover executor,
// and extracts structured output best-effort. Agents never propagate raw
// errors: a failed call or unparseable response becomes Success:false with a
// safe fallback, keeping the pipeline resilient to one bad model response.
package agent

import (
	"context"
	"time"

	"github.com/requora/reqcore/internal/model"
	"github.com/requora/reqcore/pkg/llm"
)

// Kind enumerates the agent variants. The set is closed; the orchestrator
// dispatches by registry lookup, never by type inspection.
type Kind string

const (
	KindExtractor             Kind = "extractor"
	KindRefiner               Kind = "refiner"
	KindClassifier            Kind = "classifier"
	KindExpander              Kind = "expander"
	KindValidator             Kind = "validator"
	KindRiskDetector          Kind = "risk_detector"
	KindGoalAnalysis          Kind = "goal_analysis"
	KindContextAnalysis       Kind = "context_analysis"
	KindRequirementGeneration Kind = "requirement_generation"
	KindAdversarialReview     Kind = "adversarial_review"
	KindPrototyping           Kind = "prototyping"
)

// Kinds lists every agent kind in a stable order.
func Kinds() []Kind {
	return []Kind{
		KindExtractor, KindRefiner, KindClassifier, KindExpander,
		KindValidator, KindRiskDetector, KindGoalAnalysis, KindContextAnalysis,
		KindRequirementGeneration, KindAdversarialReview, KindPrototyping,
	}
}

// Context carries session-scoped hints and the accumulated stage results of
// one pipeline run. It is shared by reference across stages and mutated only
// by the orchestrator, never by an agent.
type Context struct {
	SessionID       string    `json:"session_id"`
	Industry        string    `json:"industry,omitempty"`
	Function        string    `json:"function,omitempty"`
	SystemType      string    `json:"system_type,omitempty"`
	RegulationLevel string    `json:"regulation_level,omitempty"`
	PreviousResults []*Result `json:"previous_results,omitempty"`
}

// Input is what one agent invocation works on.
type Input struct {
	Goal       string                       `json:"goal,omitempty"`
	Candidates []model.RequirementCandidate `json:"candidates,omitempty"`
	Payload    map[string]any               `json:"payload,omitempty"`
}

// Result is the uniform agent outcome. Success false always comes with a
// usable fallback in Candidates (possibly the unchanged input).
type Result struct {
	Kind       Kind                         `json:"kind"`
	Success    bool                         `json:"success"`
	Candidates []model.RequirementCandidate `json:"candidates,omitempty"`
	Metrics    map[string]float64           `json:"metrics,omitempty"`
	Logs       []string                     `json:"logs,omitempty"`
	Error      string                       `json:"error,omitempty"`
	ElapsedMS  int64                        `json:"elapsed_ms"`
}

// Agent is one typed pipeline stage.
type Agent interface {
	Kind() Kind

	// Validate is an optional pre-check on the input; the base returns true.
	Validate(input Input) bool

	Execute(ctx context.Context, input Input, actx *Context) *Result
}

// Completer is the executor surface agents call. Satisfied by
// *executor.Executor.
type Completer interface {
	Execute(ctx context.Context, req llm.ExecutionRequest, contextTag string) (*llm.ExecutionResult, error)
}

// base carries the completer and result plumbing shared by all agents.
type base struct {
	completer Completer
	kind      Kind
}

func (b base) Kind() Kind { return b.kind }

func (b base) Validate(Input) bool { return true }

// complete runs one structured-output completion tagged with the agent kind.
func (b base) complete(ctx context.Context, system, user string) (string, error) {
	result, err := b.completer.Execute(ctx, llm.ExecutionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: system},
			{Role: llm.RoleUser, Content: user},
		},
		JSONMode: true,
	}, string(b.kind))
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

// ok finalizes a successful result.
func (b base) ok(start time.Time, candidates []model.RequirementCandidate, logs ...string) *Result {
	return &Result{
		Kind:       b.kind,
		Success:    true,
		Candidates: candidates,
		Logs:       logs,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
}

// fail finalizes a failed result with a safe fallback candidate set.
func (b base) fail(start time.Time, err error, fallback []model.RequirementCandidate) *Result {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Result{
		Kind:       b.kind,
		Success:    false,
		Candidates: fallback,
		Error:      msg,
		ElapsedMS:  time.Since(start).Milliseconds(),
	}
}

// preserveThinking carries each input candidate's provenance chain over to
// its transformed counterpart and appends one entry for this stage. Matched
// by ID first, by position when the model dropped the ids. The chain is
// append-only; a transforming agent must never return candidates without it.
func preserveThinking(kind Kind, in, out []model.RequirementCandidate, reasoning string) []model.RequirementCandidate {
	prior := make(map[string]model.RequirementCandidate, len(in))
	for _, c := range in {
		if c.ID != "" {
			prior[c.ID] = c
		}
	}
	for i := range out {
		prev, ok := prior[out[i].ID]
		if !ok {
			if i >= len(in) {
				continue
			}
			prev = in[i]
		}
		if out[i].ID == "" {
			out[i].ID = prev.ID
		}
		out[i].Thinking = append([]model.ThinkingLogEntry(nil), prev.Thinking...)
		out[i] = out[i].AppendThinking(string(kind), reasoning, out[i].Confidence)
	}
	return out
}

// Registry maps every kind to its implementation.
type Registry map[Kind]Agent

// NewRegistry constructs one agent per kind over the shared completer.
func NewRegistry(completer Completer) Registry {
	return Registry{
		KindExtractor:             NewExtractor(completer),
		KindRefiner:               NewRefiner(completer),
		KindClassifier:            NewClassifier(completer),
		KindExpander:              NewExpander(completer),
		KindValidator:             NewValidator(completer),
		KindRiskDetector:          NewRiskDetector(completer),
		KindGoalAnalysis:          NewGoalAnalysis(completer),
		KindContextAnalysis:       NewContextAnalysis(completer),
		KindRequirementGeneration: NewRequirementGeneration(completer),
		KindAdversarialReview:     NewAdversarialReview(completer),
		KindPrototyping:           NewPrototyping(completer),
	}
}
