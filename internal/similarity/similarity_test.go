package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases", "User Login", "user login"},
		{"collapses whitespace", "user   login\t now", "user login now"},
		{"strips punctuation", "log-in, (fast!)", "log in fast"},
		{"keeps digits", "retry 3 times", "retry 3 times"},
		{"unicode letters survive", "Benutzer Anmeldung über SSO", "benutzer anmeldung über sso"},
		{"empty", "", ""},
		{"only punctuation", "!!! --- ???", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"User Login", "  Weird -- Text!! ", "ALL CAPS 42", "ü ö ä"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once))
	}
}

func TestScore_IdenticalAfterNormalization(t *testing.T) {
	assert.Equal(t, 1.0, Score("User Login", "user   login"))
	assert.Equal(t, 1.0, Score("same text", "same text"))
}

func TestScore_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Score("", ""))
	assert.Equal(t, 0.0, Score("something", ""))
	assert.Equal(t, 0.0, Score("", "something"))
	assert.Equal(t, 0.0, Score("!!!", "???"))
}

func TestScore_Bounds(t *testing.T) {
	pairs := [][2]string{
		{"user can log in with email", "user can log in with email and password"},
		{"completely different topic", "orthogonal subject matter entirely"},
		{"a", "b"},
	}
	for _, p := range pairs {
		s := Score(p[0], p[1])
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestScore_Symmetric(t *testing.T) {
	a := "the system must send a confirmation email"
	b := "the system should send confirmation emails"
	assert.InDelta(t, Score(a, b), Score(b, a), 1e-12)
}

func TestScore_NearDuplicateBeatsUnrelated(t *testing.T) {
	base := "users must reset their password via email link"
	near := "users must reset their passwords via an email link"
	far := "inventory levels sync nightly to the warehouse system"

	assert.Greater(t, Score(base, near), Score(base, far))
	assert.Greater(t, Score(base, near), 0.7)
	assert.Less(t, Score(base, far), 0.3)
}

func TestWordSet(t *testing.T) {
	set := WordSet("user login user")
	assert.Len(t, set, 2)
	_, ok := set["login"]
	assert.True(t, ok)
}

func TestNgrams(t *testing.T) {
	set := ngrams("abcd", 3)
	assert.Len(t, set, 2) // abc, bcd

	short := ngrams("ab", 3)
	assert.Len(t, short, 1) // whole string fallback

	assert.Empty(t, ngrams("", 3))
}
