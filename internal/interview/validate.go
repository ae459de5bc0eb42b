package interview

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/intakecall/internal/fieldbank"
)

// minPhoneDigits is the smallest digit count accepted as a phone number.
const minPhoneDigits = 10

var defaultSuggester = newSuggester()

// Validate checks answer against the type rules of q.
//
// On success it returns the normalized value to store and an empty problem.
// On failure normalized is empty and problem is a sentence that can be read
// to the caller. Choice answers are matched case-insensitively and stored in
// the bank's casing; phone answers are stored as digits only.
func Validate(q fieldbank.Question, answer string) (normalized, problem string) {
	a := cleanAnswer(answer)
	if a == "" {
		return "", "Sorry, I didn't catch that."
	}

	if len(q.Choices) > 0 {
		for _, c := range q.Choices {
			if strings.EqualFold(a, c) {
				return c, ""
			}
		}
		problem = "Please choose from: " + strings.Join(q.Choices, ", ") + "."
		if s, ok := defaultSuggester.suggest(a, q.Choices); ok {
			problem = fmt.Sprintf("Did you mean %s? %s", s, problem)
		}
		return "", problem
	}

	switch q.Type {
	case fieldbank.TypeEmail:
		email := strings.ToLower(strings.Join(strings.Fields(a), ""))
		if !strings.Contains(email, "@") {
			return "", "Please provide a valid email address."
		}
		return email, ""
	case fieldbank.TypePhone:
		digits := digitsOf(a)
		if len(digits) < minPhoneDigits {
			return "", "Please provide a valid phone number."
		}
		return digits, ""
	}
	return a, ""
}

// cleanAnswer trims whitespace and the sentence punctuation STT providers
// append to finals.
func cleanAnswer(s string) string {
	return strings.TrimRightFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == ',' || unicode.IsSpace(r)
	})
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var (
	affirmatives = map[string]bool{
		"yes": true, "yeah": true, "yea": true, "yep": true, "yup": true,
		"correct": true, "right": true, "sure": true, "affirmative": true,
		"exactly": true, "absolutely": true, "definitely": true, "ok": true,
		"okay": true, "perfect": true, "uh-huh": true, "mhm": true,
	}
	negatives = map[string]bool{
		"no": true, "nope": true, "nah": true, "not": true, "wrong": true,
		"incorrect": true, "isn't": true, "isnt": true, "wasn't": true,
		"don't": true, "actually": true,
	}
)

// IsAffirmative classifies a reply to a confirmation prompt. Any negation
// wins over an affirmative keyword, so "that's not right" is not
// affirmative.
func IsAffirmative(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	})
	yes := false
	for _, w := range words {
		w = strings.Trim(w, "'-")
		if negatives[w] {
			return false
		}
		if affirmatives[w] {
			yes = true
		}
	}
	return yes
}
