package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		max    int
		reason Reason
		reply  string
	}{
		{"empty", "", 100, ReasonEmpty, "Try sending an actual question instead of blank air."},
		{"whitespace only", "   \n\t ", 100, ReasonEmpty, "Try sending an actual question instead of blank air."},
		{"too short", "why?", 100, ReasonTooShort, "That barely qualifies as a question. Add some words."},
		{"too short after trim", "  hey  ", 100, ReasonTooShort, "That barely qualifies as a question. Add some words."},
		{"trivial hello", "hello", 100, ReasonTrivial, "Wow, groundbreaking. Try a real question."},
		{"trivial upper case", "HELLO", 100, ReasonTrivial, "Wow, groundbreaking. Try a real question."},
		{"trivial padded", "  Hello ", 100, ReasonTrivial, "Wow, groundbreaking. Try a real question."},
		{"single letter run", "aaaaaaa", 100, ReasonGibberish, "That looks like keyboard smash. Try again."},
		{"repeated block", "abcabcabc", 100, ReasonGibberish, "That looks like keyboard smash. Try again."},
		{"two letters", "ababab ab", 100, ReasonGibberish, "That looks like keyboard smash. Try again."},
		{"repeated pair with punctuation", "lol lol lol!", 100, ReasonGibberish, "That looks like keyboard smash. Try again."},
		{"too long", strings.Repeat("why is the sky blue ", 3), 20, ReasonTooLong, "Message is too long. Trim it under 20 characters."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ValidatePrompt(tt.prompt, tt.max)
			assert.False(t, res.OK)
			assert.Equal(t, tt.reason, res.Reason)
			assert.Equal(t, tt.reply, res.Reply)
		})
	}
}

func TestValidatePrompt_Valid(t *testing.T) {
	valid := []string{
		"what is the capital of France",
		"Explain goroutines in one sentence",
		"12345 + 67890 = ?",
		"¿qué hora es en Tokio?",
	}
	for _, p := range valid {
		res := ValidatePrompt(p, 4000)
		assert.True(t, res.OK, p)
		assert.Empty(t, res.Reason)
		assert.Empty(t, res.Reply)
	}
}

func TestValidatePrompt_TrivialSetCaseInsensitive(t *testing.T) {
	// shorter members hit too_short first; padding them past the minimum
	// would change the trimmed text, so only "hello" reaches the trivial check
	for _, p := range []string{"hello", "Hello", "hElLo", "HELLO"} {
		assert.Equal(t, ReasonTrivial, ValidatePrompt(p, 100).Reason, p)
	}
	for _, p := range []string{"hi", "test", "ping", "PING"} {
		res := ValidatePrompt(p, 100)
		assert.False(t, res.OK, p)
	}
}

func TestValidatePrompt_LengthBoundary(t *testing.T) {
	prompt := "tell me about " + strings.Repeat("x", 6) + " please"
	n := len([]rune(prompt))

	assert.True(t, ValidatePrompt(prompt, n).OK, "exactly max passes")

	res := ValidatePrompt(prompt+"!", n)
	assert.Equal(t, ReasonTooLong, res.Reason)
}

func TestValidatePrompt_CountsRunes(t *testing.T) {
	prompt := "résumé naïve café"
	assert.True(t, ValidatePrompt(prompt, len([]rune(prompt))).OK)
}

func TestLooksGibberish(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"aaaaaa", true},
		{"aaaaa", true},
		{"ababab", true},
		{"abab", false},
		{"xyzxyzxyz", true},
		{"xyzxyz", false},
		{"abcdabcdabcd", false},
		{"ha ha ha", true},
		{"12345 !!!", false},
		{"hello world", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, looksGibberish(tt.text), tt.text)
	}
}
