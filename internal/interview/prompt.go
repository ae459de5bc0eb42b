package interview

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/MrWong99/intakecall/internal/fieldbank"
)

var nato = map[rune]string{
	'a': "Alpha", 'b': "Bravo", 'c': "Charlie", 'd': "Delta", 'e': "Echo",
	'f': "Foxtrot", 'g': "Golf", 'h': "Hotel", 'i': "India", 'j': "Juliet",
	'k': "Kilo", 'l': "Lima", 'm': "Mike", 'n': "November", 'o': "Oscar",
	'p': "Papa", 'q': "Quebec", 'r': "Romeo", 's': "Sierra", 't': "Tango",
	'u': "Uniform", 'v': "Victor", 'w': "Whiskey", 'x': "X-ray", 'y': "Yankee",
	'z': "Zulu",
}

var spokenSymbols = map[rune]string{
	'@': "at",
	'.': "dot",
	'-': "dash",
	'_': "underscore",
	'+': "plus",
	'\'': "apostrophe",
}

// uiWords mark help texts written for a form rather than for speech.
var uiWords = []string{"select", "choose", "click", "check", "enter"}

// QuestionPrompt phrases q as a spoken question.
func QuestionPrompt(q fieldbank.Question) string {
	var prompt string
	switch {
	case q.Help != "" && !containsAny(strings.ToLower(q.Help), uiWords):
		prompt = q.Help
	case strings.HasPrefix(q.Label, "What") || strings.Contains(q.Label, "?"):
		prompt = q.Label
	default:
		prompt = phraseByType(q)
	}
	if q.Type == fieldbank.TypeChoice && len(q.Choices) > 0 {
		prompt += " Your options are " + listChoices(q.Choices) + "."
	}
	return prompt
}

func phraseByType(q fieldbank.Question) string {
	label := strings.ToLower(q.Label)
	switch q.Type {
	case fieldbank.TypeDate:
		if strings.Contains(label, "birth") {
			return "What's your date of birth?"
		}
		return fmt.Sprintf("Can you tell me the %s?", label)
	case fieldbank.TypePhone:
		if strings.Contains(label, "emergency") {
			return fmt.Sprintf("What's the %s?", label)
		}
		return "What phone number can I reach you at?"
	case fieldbank.TypeEmail:
		if strings.Contains(label, "emergency") || strings.Contains(label, "contact") {
			return fmt.Sprintf("And what's the %s?", label)
		}
		return "What email address should we use?"
	case fieldbank.TypeChoice:
		return fmt.Sprintf("Can you tell me about your %s?", label)
	}
	switch {
	case strings.Contains(label, "name"):
		return fmt.Sprintf("What is the %s?", label)
	case strings.Contains(label, "address"):
		return fmt.Sprintf("What's the %s?", label)
	}
	return fmt.Sprintf("Can you tell me the %s?", label)
}

// listChoices joins choices as "a, b, or c".
func listChoices(choices []string) string {
	switch len(choices) {
	case 1:
		return choices[0]
	case 2:
		return choices[0] + " or " + choices[1]
	}
	return strings.Join(choices[:len(choices)-1], ", ") + ", or " + choices[len(choices)-1]
}

// ConfirmationPrompt reads value back to the caller in the confirmation mode
// of q and asks whether it is correct.
//
// Spelling mode reads letters with the phonetic alphabet ("J as in Juliet.")
// and says A as "AE" so it is not heard as the article. Digit mode reads
// digits one by one in 3-3-4 groups ("5, 5, 5. 1, 2, 3. 4, 5, 6, 7.").
func ConfirmationPrompt(q fieldbank.Question, value string) string {
	switch q.Confirm {
	case fieldbank.ConfirmSpelling:
		return "Let me confirm the spelling. " + SpellOut(value) + " Is that correct?"
	case fieldbank.ConfirmDigits:
		return "Let me confirm: " + ReadDigits(value) + " Is that correct?"
	}
	return fmt.Sprintf("I have your %s as %s. Is that correct?", strings.ToLower(q.Label), value)
}

// SpellOut renders value letter by letter. Digits are read plainly and
// common email symbols by name; words are separated by a pause.
func SpellOut(value string) string {
	var parts []string
	for _, r := range strings.TrimSpace(value) {
		lr := unicode.ToLower(r)
		switch {
		case nato[lr] != "":
			letter := string(unicode.ToUpper(r))
			if lr == 'a' {
				letter = "AE"
			}
			parts = append(parts, fmt.Sprintf("%s as in %s.", letter, nato[lr]))
		case unicode.IsDigit(r):
			parts = append(parts, string(r)+".")
		case unicode.IsSpace(r):
			if n := len(parts); n > 0 && parts[n-1] != "Space." {
				parts = append(parts, "Space.")
			}
		case spokenSymbols[r] != "":
			parts = append(parts, spokenSymbols[r]+".")
		}
	}
	return strings.Join(parts, " ")
}

// ReadDigits renders the digits of value in spoken groups. Ten or more
// digits end in a 3-3-4 group; any leading extra digits form their own
// group. Shorter inputs are grouped in threes.
func ReadDigits(value string) string {
	d := digitsOf(value)
	if d == "" {
		return ""
	}
	var groups []string
	if len(d) >= 10 {
		if lead := d[:len(d)-10]; lead != "" {
			groups = append(groups, lead)
		}
		tail := d[len(d)-10:]
		groups = append(groups, tail[:3], tail[3:6], tail[6:])
	} else {
		for len(d) > 3 {
			groups = append(groups, d[:3])
			d = d[3:]
		}
		groups = append(groups, d)
	}
	spoken := make([]string, len(groups))
	for i, g := range groups {
		spoken[i] = strings.Join(strings.Split(g, ""), ", ") + "."
	}
	return strings.Join(spoken, " ")
}

// TransitionRemark is spoken when the interview enters section.
func TransitionRemark(section string) string {
	return fmt.Sprintf("Thank you. Next, I have a few questions about %s.", strings.ToLower(section))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
