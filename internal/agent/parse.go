package agent

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"

	"github.com/requora/reqcore/internal/model"
)

// ErrParse marks a model response that no known output shape fit.
var ErrParse = eris.New("agent: unparseable model response")

// defaultConfidence is assumed when the model omits one.
const defaultConfidence = 0.7

// candidateWire tolerates the field spellings models actually produce.
type candidateWire struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Name        string   `json:"name"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	Confidence  *float64 `json:"confidence"`
}

func (w candidateWire) toCandidate() model.RequirementCandidate {
	c := model.RequirementCandidate{
		ID:       w.ID,
		Title:    w.Title,
		Content:  w.Content,
		Category: w.Category,
		Type:     w.Type,
	}
	if c.Title == "" {
		c.Title = w.Name
	}
	if c.Content == "" {
		c.Content = w.Description
	}
	if w.Confidence != nil {
		c.Confidence = *w.Confidence
	} else {
		c.Confidence = defaultConfidence
	}
	return c
}

// stripFences removes a surrounding markdown code fence, if any, and trims
// whitespace. Models in JSON mode still occasionally wrap output in ```json.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// ParseCandidates normalizes the response shapes agents receive in practice:
// a bare array of candidates, an object wrapping the array under
// "requirements", "candidates" or "drafts", or a single candidate object.
func ParseCandidates(raw string) ([]model.RequirementCandidate, error) {
	s := stripFences(raw)
	if !gjson.Valid(s) {
		return nil, eris.Wrapf(ErrParse, "invalid json (%d bytes)", len(s))
	}
	root := gjson.Parse(s)

	switch {
	case root.IsArray():
		return decodeCandidates(s)
	case root.IsObject():
		for _, key := range []string{"requirements", "candidates", "drafts"} {
			if arr := root.Get(key); arr.IsArray() {
				return decodeCandidates(arr.Raw)
			}
		}
		if root.Get("title").Exists() || root.Get("name").Exists() {
			var w candidateWire
			if err := json.Unmarshal([]byte(s), &w); err != nil {
				return nil, eris.Wrap(ErrParse, err.Error())
			}
			return []model.RequirementCandidate{w.toCandidate()}, nil
		}
	}
	return nil, eris.Wrap(ErrParse, "no candidate shape found")
}

func decodeCandidates(raw string) ([]model.RequirementCandidate, error) {
	var wires []candidateWire
	if err := json.Unmarshal([]byte(raw), &wires); err != nil {
		return nil, eris.Wrap(ErrParse, err.Error())
	}
	out := make([]model.RequirementCandidate, 0, len(wires))
	for _, w := range wires {
		c := w.toCandidate()
		if c.Title == "" && c.Content == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, eris.Wrap(ErrParse, "empty candidate list")
	}
	return out, nil
}

// ParseScore extracts a 0-100 validation score from a response shaped as a
// bare number or an object carrying "score" or "overall".
func ParseScore(raw string) (float64, error) {
	s := stripFences(raw)
	if !gjson.Valid(s) {
		return 0, eris.Wrap(ErrParse, "invalid json")
	}
	root := gjson.Parse(s)
	if root.Type == gjson.Number {
		return clampScore(root.Float()), nil
	}
	for _, key := range []string{"score", "overall"} {
		if v := root.Get(key); v.Type == gjson.Number {
			return clampScore(v.Float()), nil
		}
	}
	return 0, eris.Wrap(ErrParse, "no score field found")
}

// ParseIssues pulls the reviewer issue list out of a validation or review
// response. Missing or malformed issues are not an error; they degrade to nil.
func ParseIssues(raw string) []string {
	s := stripFences(raw)
	if !gjson.Valid(s) {
		return nil
	}
	var issues []string
	for _, key := range []string{"issues", "findings", "problems"} {
		arr := gjson.Get(s, key)
		if !arr.IsArray() {
			continue
		}
		arr.ForEach(func(_, v gjson.Result) bool {
			if v.Type == gjson.String && v.String() != "" {
				issues = append(issues, v.String())
			} else if v.IsObject() {
				if d := v.Get("description"); d.String() != "" {
					issues = append(issues, d.String())
				}
			}
			return true
		})
		break
	}
	return issues
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
