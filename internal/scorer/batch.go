package scorer

import (
	"math"

	"github.com/requora/reqcore/internal/model"
)

// QualityTier buckets a scored candidate by its overall score.
type QualityTier string

const (
	TierExcellent QualityTier = "excellent" // >= 90
	TierGood      QualityTier = "good"      // 70-89
	TierFair      QualityTier = "fair"      // 50-69
	TierPoor      QualityTier = "poor"      // < 50
)

// TierFor maps an overall score onto its quality tier.
func TierFor(overall int) QualityTier {
	switch {
	case overall >= 90:
		return TierExcellent
	case overall >= 70:
		return TierGood
	case overall >= 50:
		return TierFair
	default:
		return TierPoor
	}
}

// ScoredCandidate pairs a candidate with its metrics and tier.
type ScoredCandidate struct {
	Candidate model.RequirementCandidate `json:"candidate"`
	Metrics   model.AccuracyMetrics      `json:"metrics"`
	Tier      QualityTier                `json:"tier"`
}

// BatchReport summarizes scoring over a candidate set.
type BatchReport struct {
	Scored []ScoredCandidate   `json:"scored"`
	Tiers  map[QualityTier]int `json:"tiers"`
	Mean   float64             `json:"mean"`
}

// ScoreBatch scores every candidate and buckets the results into quality
// tiers. benchmarks may be nil.
func ScoreBatch(candidates []model.RequirementCandidate, benchmarks *BenchmarkTable, industry, function string) *BatchReport {
	report := &BatchReport{
		Tiers: map[QualityTier]int{
			TierExcellent: 0,
			TierGood:      0,
			TierFair:      0,
			TierPoor:      0,
		},
	}
	if len(candidates) == 0 {
		return report
	}

	var benchmark *Benchmark
	if benchmarks != nil {
		benchmark = benchmarks.Lookup(industry, function)
	}

	sum := 0
	for _, c := range candidates {
		metrics := Score(c, benchmark)
		tier := TierFor(metrics.Overall)
		report.Scored = append(report.Scored, ScoredCandidate{
			Candidate: c,
			Metrics:   metrics,
			Tier:      tier,
		})
		report.Tiers[tier]++
		sum += metrics.Overall
	}
	report.Mean = math.Round(float64(sum)/float64(len(candidates))*100) / 100

	return report
}
