package interview

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// suggester proposes the enumerated choice a near-miss answer most likely
// meant. Suggestions are only ever offered back to the caller as a question;
// they are never accepted as the answer.
//
// It works in two stages. Double Metaphone codes are computed for every word
// of the answer and of each choice; a choice sharing at least one code is a
// phonetic candidate and is accepted above phoneticThreshold. Without any
// phonetic candidate, pure Jaro-Winkler similarity must reach fuzzyThreshold.
type suggester struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

func newSuggester() suggester {
	return suggester{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
}

// suggest returns the best matching choice for answer.
func (m suggester) suggest(answer string, choices []string) (string, bool) {
	answerLower := strings.ToLower(strings.TrimSpace(answer))
	if len(choices) == 0 || answerLower == "" {
		return "", false
	}
	answerTokens := strings.Fields(answerLower)
	answerCodes := codesForTokens(answerTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, choice := range choices {
		choiceLower := strings.ToLower(strings.TrimSpace(choice))
		if choiceLower == "" {
			continue
		}
		choiceTokens := strings.Fields(choiceLower)
		phonetic := codesOverlap(answerCodes, codesForTokens(choiceTokens))
		score := bestJWScore(answerTokens, choiceTokens, answerLower, choiceLower)

		switch {
		case phonetic && score >= m.phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				best, bestScore, bestPhonetic = choice, score, true
			}
		case !phonetic && !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore:
			best, bestScore = choice, score
		}
	}
	return best, best != ""
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the highest Jaro-Winkler similarity over the full strings,
// the space-stripped strings and every token pair.
func bestJWScore(answerTokens, choiceTokens []string, answerFull, choiceFull string) float64 {
	score := matchr.JaroWinkler(answerFull, choiceFull, false)

	if len(answerTokens) > 1 || len(choiceTokens) > 1 {
		a := strings.Join(answerTokens, "")
		c := strings.Join(choiceTokens, "")
		if s := matchr.JaroWinkler(a, c, false); s > score {
			score = s
		}
	}

	for _, at := range answerTokens {
		for _, ct := range choiceTokens {
			if s := matchr.JaroWinkler(at, ct, false); s > score {
				score = s
			}
		}
	}
	return score
}
