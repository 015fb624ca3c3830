package model

import "time"

// RequirementStatus is the lifecycle state of a persisted requirement.
type RequirementStatus string

const (
	RequirementActive     RequirementStatus = "active"
	RequirementDeprecated RequirementStatus = "deprecated"
)

// Requirement is a persisted requirement record. It forms the corpus the
// duplicate detector scans against.
type Requirement struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Category  string            `json:"category,omitempty"`
	Type      string            `json:"type,omitempty"`
	Status    RequirementStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}

// RequirementCandidate is a draft requirement produced or refined by agents.
// Identity is tracked by ID through the pipeline; later stages may replace
// title/content/category but must preserve the thinking chain.
type RequirementCandidate struct {
	ID         string             `json:"id"`
	Title      string             `json:"title"`
	Content    string             `json:"content"`
	Category   string             `json:"category,omitempty"`
	Type       string             `json:"type,omitempty"`
	Confidence float64            `json:"confidence"` // 0..1
	Source     string             `json:"source,omitempty"`
	Thinking   []ThinkingLogEntry `json:"thinking,omitempty"`
}

// ThinkingLogEntry records one reasoning step in a candidate's provenance
// chain. Entries are append-only; nothing edits or removes them once written.
type ThinkingLogEntry struct {
	At         time.Time `json:"at"`
	Agent      string    `json:"agent"`
	Reasoning  string    `json:"reasoning"`
	Refs       []string  `json:"refs,omitempty"`
	Confidence float64   `json:"confidence"`
}

// AppendThinking returns the candidate with a new provenance entry appended.
// Prior entries are never modified.
func (c RequirementCandidate) AppendThinking(agent, reasoning string, confidence float64, refs ...string) RequirementCandidate {
	c.Thinking = append(c.Thinking, ThinkingLogEntry{
		At:         time.Now().UTC(),
		Agent:      agent,
		Reasoning:  reasoning,
		Refs:       refs,
		Confidence: confidence,
	})
	return c
}
