// Package scorer computes the five-factor accuracy heatmap for requirement
// candidates. Scoring is pure and deterministic; it never touches the network.
package scorer

import (
	"regexp"
	"strings"

	"github.com/requora/reqcore/internal/model"
)

var (
	modalPhraseRe = regexp.MustCompile(`(?i)\b\w+\s+(shall|must|should|will)\b`)
	conditionalRe = regexp.MustCompile(`(?i)\b(if|when|unless|in case|except|on failure|otherwise)\b`)
	numericRe     = regexp.MustCompile(`\d+(\.\d+)?`)
	interfaceRe   = regexp.MustCompile(`(?i)\b(api|interface|endpoint|integration|protocol)\b`)
	uiRe          = regexp.MustCompile(`(?i)\b(screen|ui|display|button|form|page|dashboard)\b`)
)

// vagueMarkers are phrases that make a requirement hard to implement as stated.
var vagueMarkers = []string{
	"etc.",
	"etc ",
	"and so on",
	"as appropriate",
	"as needed",
	"if necessary",
	"later if needed",
	"to be determined",
	"tbd",
}

const (
	structuralBase = 50
	structuralStep = 15

	industryPenalty    = 10
	industryStep       = 5
	industryNeutralFit = 70

	riskShortContent = 15
	riskNoNumeric    = 10
	riskNoException  = 10
	riskNoType       = 10
	riskNoCategory   = 5
	riskCap          = 50

	feasibilityBase = 70

	minContentLength = 30
	minTitleLength   = 8
	maxTitleLength   = 120
)

// Score computes AccuracyMetrics for one candidate. benchmark may be nil, in
// which case the industry factor falls back to a neutral score.
func Score(c model.RequirementCandidate, benchmark *Benchmark) model.AccuracyMetrics {
	text := c.Title + " " + c.Content

	m := model.AccuracyMetrics{
		StructuralFit:  structuralFit(c),
		IndustryFit:    industryFit(text, benchmark),
		MissingRisk:    100 - missingRisk(c),
		DuplicateRatio: 100 - duplicateProxy(c.Confidence),
		Feasibility:    feasibility(text),
	}
	return m.ComputeOverall()
}

// structuralFit rewards canonical requirement phrasing: a subject with a
// modal verb, conditional/exception clauses, quantified thresholds, and a
// title of sane length.
func structuralFit(c model.RequirementCandidate) int {
	score := structuralBase
	text := c.Title + " " + c.Content

	if modalPhraseRe.MatchString(text) {
		score += structuralStep
	}
	if conditionalRe.MatchString(text) {
		score += structuralStep
	}
	if numericRe.MatchString(text) {
		score += structuralStep
	}
	if n := len([]rune(c.Title)); n >= minTitleLength && n <= maxTitleLength {
		score += structuralStep
	}

	return clamp(score)
}

// industryFit starts from the benchmark's historical average minus a safety
// margin and adds a bonus per caution keyword the text already addresses.
// No benchmark entry means a neutral score.
func industryFit(text string, benchmark *Benchmark) int {
	if benchmark == nil {
		return industryNeutralFit
	}

	score := int(benchmark.AverageAccuracy) - industryPenalty
	lower := strings.ToLower(text)
	for _, kw := range benchmark.CautionKeywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			score += industryStep
		}
	}
	return clamp(score)
}

// missingRisk accumulates fixed penalties for omissions, capped at 50 before
// the caller inverts it into a 0-100 sub-score.
func missingRisk(c model.RequirementCandidate) int {
	risk := 0
	if len([]rune(c.Content)) < minContentLength {
		risk += riskShortContent
	}
	if !numericRe.MatchString(c.Content) {
		risk += riskNoNumeric
	}
	if !conditionalRe.MatchString(c.Content) {
		risk += riskNoException
	}
	if c.Type == "" {
		risk += riskNoType
	}
	if c.Category == "" {
		risk += riskNoCategory
	}
	if risk > riskCap {
		risk = riskCap
	}
	return risk
}

// duplicateProxy derives a duplication penalty from confidence alone; the
// real corpus comparison lives in the similarity package.
func duplicateProxy(confidence float64) int {
	raw := 20 - confidence*20
	if raw < 0 {
		raw = 0
	}
	return int(raw)
}

// feasibility rewards concreteness markers and penalizes vague phrasing.
func feasibility(text string) int {
	score := feasibilityBase
	lower := strings.ToLower(text)

	if numericRe.MatchString(text) {
		score += 10
	}
	if interfaceRe.MatchString(text) {
		score += 10
	}
	if uiRe.MatchString(text) {
		score += 5
	}
	for _, marker := range vagueMarkers {
		if strings.Contains(lower, marker) {
			score -= 10
		}
	}

	return clamp(score)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
