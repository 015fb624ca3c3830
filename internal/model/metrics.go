package model

import "math"

// AccuracyMetrics holds the five accuracy sub-scores plus their mean.
// All values are in [0,100].
type AccuracyMetrics struct {
	StructuralFit  int `json:"structural_fit"`
	IndustryFit    int `json:"industry_fit"`
	MissingRisk    int `json:"missing_risk"`
	DuplicateRatio int `json:"duplicate_ratio"`
	Feasibility    int `json:"feasibility"`
	Overall        int `json:"overall"`
}

// ComputeOverall sets Overall to the rounded arithmetic mean of the five
// sub-scores and returns the result.
func (m AccuracyMetrics) ComputeOverall() AccuracyMetrics {
	sum := m.StructuralFit + m.IndustryFit + m.MissingRisk + m.DuplicateRatio + m.Feasibility
	m.Overall = int(math.Round(float64(sum) / 5))
	return m
}

// MatchKind classifies a duplicate-detection outcome.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchSimilar MatchKind = "similar"
	MatchNone    MatchKind = "none"
)

// SimilarityVerdict is the outcome of a duplicate check against the corpus.
type SimilarityVerdict struct {
	Duplicate bool      `json:"duplicate"`
	Match     MatchKind `json:"match"`
	MatchedID string    `json:"matched_id,omitempty"`
	Score     float64   `json:"score"`
}
