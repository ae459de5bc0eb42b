package interview

import (
	"strings"
	"testing"

	"github.com/MrWong99/intakecall/internal/fieldbank"
)

func TestReadDigits(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"5551234567", "5, 5, 5. 1, 2, 3. 4, 5, 6, 7."},
		{"(818) 450-0681", "8, 1, 8. 4, 5, 0. 0, 6, 8, 1."},
		{"15551234567", "1. 5, 5, 5. 1, 2, 3. 4, 5, 6, 7."},
		{"12345", "1, 2, 3. 4, 5."},
		{"abc", ""},
	}
	for _, tt := range tests {
		if got := ReadDigits(tt.in); got != tt.want {
			t.Errorf("ReadDigits(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSpellOut(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Jan", "J as in Juliet. AE as in Alpha. N as in November."},
		{"Al B", "AE as in Alpha. L as in Lima. Space. B as in Bravo."},
		{"j@x.io", "J as in Juliet. at. X as in X-ray. dot. I as in India. O as in Oscar."},
		{"r2", "R as in Romeo. 2."},
	}
	for _, tt := range tests {
		if got := SpellOut(tt.in); got != tt.want {
			t.Errorf("SpellOut(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConfirmationPrompt(t *testing.T) {
	spell := fieldbank.Question{Label: "Full name", Confirm: fieldbank.ConfirmSpelling}
	digits := fieldbank.Question{Label: "Phone", Confirm: fieldbank.ConfirmDigits}
	plain := fieldbank.Question{Label: "City", Confirm: fieldbank.ConfirmNone}

	if got := ConfirmationPrompt(spell, "Jo"); got != "Let me confirm the spelling. J as in Juliet. O as in Oscar. Is that correct?" {
		t.Errorf("spelling: %q", got)
	}
	if got := ConfirmationPrompt(digits, "5551234567"); got != "Let me confirm: 5, 5, 5. 1, 2, 3. 4, 5, 6, 7. Is that correct?" {
		t.Errorf("digits: %q", got)
	}
	if got := ConfirmationPrompt(plain, "Springfield"); got != "I have your city as Springfield. Is that correct?" {
		t.Errorf("plain: %q", got)
	}
}

func TestQuestionPrompt(t *testing.T) {
	tests := []struct {
		name string
		q    fieldbank.Question
		want string
	}{
		{
			name: "conversational help wins",
			q:    fieldbank.Question{Label: "Duties", Type: fieldbank.TypeText, Help: "Tell me about a typical day at work."},
			want: "Tell me about a typical day at work.",
		},
		{
			name: "form help ignored",
			q:    fieldbank.Question{Label: "Client address", Type: fieldbank.TypeText, Help: "Enter the street address"},
			want: "What's the client address?",
		},
		{
			name: "question label used as is",
			q:    fieldbank.Question{Label: "What is your job title?", Type: fieldbank.TypeText},
			want: "What is your job title?",
		},
		{
			name: "birth date",
			q:    fieldbank.Question{Label: "Date of birth", Type: fieldbank.TypeDate},
			want: "What's your date of birth?",
		},
		{
			name: "own phone",
			q:    fieldbank.Question{Label: "Phone number", Type: fieldbank.TypePhone},
			want: "What phone number can I reach you at?",
		},
		{
			name: "emergency phone",
			q:    fieldbank.Question{Label: "Emergency contact phone", Type: fieldbank.TypePhone},
			want: "What's the emergency contact phone?",
		},
		{
			name: "name field",
			q:    fieldbank.Question{Label: "Full name", Type: fieldbank.TypeText},
			want: "What is the full name?",
		},
		{
			name: "choice lists options",
			q:    fieldbank.Question{Label: "Were you paid hourly?", Type: fieldbank.TypeChoice, Choices: []string{"Hourly", "Salary", "Commission"}},
			want: "Were you paid hourly? Your options are Hourly, Salary, or Commission.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuestionPrompt(tt.q); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransitionRemark(t *testing.T) {
	if got := TransitionRemark("Emergency Contact"); !strings.Contains(got, "emergency contact") {
		t.Errorf("got %q", got)
	}
}
