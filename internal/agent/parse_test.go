package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCandidates_BareArray(t *testing.T) {
	raw := `[{"title":"User login","content":"Users authenticate with email.","confidence":0.9}]`

	candidates, err := ParseCandidates(raw)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "User login", candidates[0].Title)
	assert.Equal(t, 0.9, candidates[0].Confidence)
}

func TestParseCandidates_WrappedKeys(t *testing.T) {
	for _, key := range []string{"requirements", "candidates", "drafts"} {
		raw := `{"` + key + `":[{"title":"A","content":"B"}]}`
		candidates, err := ParseCandidates(raw)
		require.NoError(t, err, key)
		require.Len(t, candidates, 1, key)
		assert.Equal(t, "A", candidates[0].Title)
	}
}

func TestParseCandidates_SingleObject(t *testing.T) {
	candidates, err := ParseCandidates(`{"title":"Only one","content":"Body."}`)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Only one", candidates[0].Title)
}

func TestParseCandidates_FieldFallbacks(t *testing.T) {
	raw := `[{"name":"From name","description":"From description"}]`

	candidates, err := ParseCandidates(raw)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "From name", candidates[0].Title)
	assert.Equal(t, "From description", candidates[0].Content)
	assert.Equal(t, defaultConfidence, candidates[0].Confidence)
}

func TestParseCandidates_StripsFences(t *testing.T) {
	raw := "```json\n[{\"title\":\"Fenced\",\"content\":\"Body.\"}]\n```"

	candidates, err := ParseCandidates(raw)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "Fenced", candidates[0].Title)
}

func TestParseCandidates_SkipsEmptyEntries(t *testing.T) {
	raw := `[{"title":"Real","content":"Body."},{"confidence":0.5}]`

	candidates, err := ParseCandidates(raw)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestParseCandidates_Errors(t *testing.T) {
	for _, raw := range []string{
		"not json at all",
		`{"unrelated":"object"}`,
		`[]`,
		`{"requirements":[]}`,
	} {
		_, err := ParseCandidates(raw)
		assert.ErrorIs(t, err, ErrParse, raw)
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		raw  string
		want float64
	}{
		{`{"score": 87}`, 87},
		{`{"overall": 42.5}`, 42.5},
		{`91`, 91},
		{`{"score": 150}`, 100},
		{`{"score": -3}`, 0},
		{"```json\n{\"score\": 73}\n```", 73},
	}
	for _, tt := range tests {
		got, err := ParseScore(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestParseScore_Errors(t *testing.T) {
	for _, raw := range []string{"nope", `{"score":"high"}`, `{"other":1}`} {
		_, err := ParseScore(raw)
		assert.ErrorIs(t, err, ErrParse, raw)
	}
}

func TestParseIssues(t *testing.T) {
	issues := ParseIssues(`{"issues":["too vague","no error handling"]}`)
	assert.Equal(t, []string{"too vague", "no error handling"}, issues)

	objects := ParseIssues(`{"findings":[{"description":"missing timeout"},{"severity":"low"}]}`)
	assert.Equal(t, []string{"missing timeout"}, objects)

	assert.Nil(t, ParseIssues(`{"issues":[]}`))
	assert.Nil(t, ParseIssues("garbage"))
}
