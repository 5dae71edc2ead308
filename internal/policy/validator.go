// Package policy holds the checks a request must pass before any paid Grok
// call: content validation, duplicate detection, windowed rate limiting,
// daily budgets and the approval gate.
package policy

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Reason identifies why a prompt failed validation. It is stored as the
// record's error_code.
type Reason string

const (
	ReasonEmpty     Reason = "empty"
	ReasonTooShort  Reason = "too_short"
	ReasonTrivial   Reason = "trivial"
	ReasonGibberish Reason = "gibberish"
	ReasonTooLong   Reason = "too_long"
)

const minPromptChars = 5

var trivialPrompts = map[string]struct{}{
	"hi":    {},
	"hello": {},
	"test":  {},
	"ping":  {},
}

// ValidationResult is the outcome of ValidatePrompt. Reason and Reply are
// empty when OK is true.
type ValidationResult struct {
	OK     bool
	Reason Reason
	Reply  string
}

func rejected(reason Reason, reply string) ValidationResult {
	return ValidationResult{Reason: reason, Reply: reply}
}

// ValidatePrompt runs the text-quality checks in order and returns the first
// failure. Lengths are counted in code points of the trimmed prompt.
func ValidatePrompt(prompt string, maxChars int) ValidationResult {
	cleaned := strings.TrimSpace(prompt)
	length := utf8.RuneCountInString(cleaned)

	switch {
	case cleaned == "":
		return rejected(ReasonEmpty, "Try sending an actual question instead of blank air.")
	case length < minPromptChars:
		return rejected(ReasonTooShort, "That barely qualifies as a question. Add some words.")
	}

	if _, ok := trivialPrompts[strings.ToLower(cleaned)]; ok {
		return rejected(ReasonTrivial, "Wow, groundbreaking. Try a real question.")
	}
	if looksGibberish(cleaned) {
		return rejected(ReasonGibberish, "That looks like keyboard smash. Try again.")
	}
	if length > maxChars {
		return rejected(ReasonTooLong, fmt.Sprintf("Message is too long. Trim it under %d characters.", maxChars))
	}

	return ValidationResult{OK: true}
}

// looksGibberish keeps only the ASCII letters of text, lower-cased, and flags
// runs of six or more letters built from at most two distinct letters, or
// runs that are a one to three letter block repeated at least three times.
func looksGibberish(text string) bool {
	letters := make([]byte, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			letters = append(letters, byte(r))
		}
	}
	if len(letters) == 0 {
		return false
	}

	distinct := make(map[byte]struct{}, 3)
	for _, c := range letters {
		distinct[c] = struct{}{}
		if len(distinct) > 2 {
			break
		}
	}
	if len(distinct) <= 2 && len(letters) >= 6 {
		return true
	}

	for block := 1; block <= 3; block++ {
		if isRepeatedBlock(letters, block) {
			return true
		}
	}
	return false
}

func isRepeatedBlock(letters []byte, block int) bool {
	if len(letters)%block != 0 || len(letters)/block < 3 {
		return false
	}
	for i := block; i < len(letters); i++ {
		if letters[i] != letters[i%block] {
			return false
		}
	}
	return true
}
