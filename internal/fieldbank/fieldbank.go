// Package fieldbank holds the static, versioned definition of the intake
// interview: ordered sections, their ordered questions, confirmation modes,
// conditional rules and section-skip heuristics.
//
// A [Bank] is loaded once at startup, validated, and is immutable afterwards.
// It is passed explicitly to the interview engine; there is no package-level
// registry.
package fieldbank

import (
	"errors"
	"strings"
)

// ErrUnknownSection is returned when a section name is not part of the bank.
var ErrUnknownSection = errors.New("fieldbank: unknown section")

// QuestionType is the expected answer type of a question.
type QuestionType string

const (
	TypeText   QuestionType = "text"
	TypeChoice QuestionType = "choice"
	TypeDate   QuestionType = "date"
	TypePhone  QuestionType = "phone"
	TypeEmail  QuestionType = "email"
)

// IsValid reports whether t is a known question type.
func (t QuestionType) IsValid() bool {
	switch t {
	case TypeText, TypeChoice, TypeDate, TypePhone, TypeEmail:
		return true
	}
	return false
}

// ConfirmMode selects how a collected value is read back to the caller
// before it is accepted.
type ConfirmMode string

const (
	ConfirmNone     ConfirmMode = "none"
	ConfirmSpelling ConfirmMode = "spelling"
	ConfirmDigits   ConfirmMode = "digits"
)

// IsValid reports whether m is a known confirmation mode. The empty string
// is treated as [ConfirmNone].
func (m ConfirmMode) IsValid() bool {
	switch m {
	case "", ConfirmNone, ConfirmSpelling, ConfirmDigits:
		return true
	}
	return false
}

// Dependency gates a question on the value already collected for another
// field, or on a flag set by a [ConditionalRule]. Exactly one of Field and
// Flag is set.
type Dependency struct {
	Field string `yaml:"field"`
	Value string `yaml:"value"`
	Flag  string `yaml:"flag"`
}

// Answers is the interview state a [Dependency] is checked against.
type Answers interface {
	Value(field string) (string, bool)
	Flag(name string) bool
}

// Met reports whether the dependency holds. A flag dependency holds while the
// flag is set. A field dependency compares the trigger field's value
// case-insensitively.
func (d *Dependency) Met(a Answers) bool {
	if d == nil {
		return true
	}
	if d.Flag != "" {
		return a.Flag(d.Flag)
	}
	value, ok := a.Value(d.Field)
	return ok && strings.EqualFold(strings.TrimSpace(value), d.Value)
}

// Question is one field to collect.
type Question struct {
	ID       string       `yaml:"id"`
	Label    string       `yaml:"label"`
	Type     QuestionType `yaml:"type"`
	Required bool         `yaml:"required"`
	Help     string       `yaml:"help"`
	Choices  []string     `yaml:"choices"`
	// DependsOn is nil for unconditional questions.
	DependsOn *Dependency `yaml:"depends_on"`
	Confirm   ConfirmMode `yaml:"confirm"`

	// Section is filled in from the owning section at load time.
	Section string `yaml:"-"`
}

// NeedsConfirmation reports whether answers to q must be read back.
func (q Question) NeedsConfirmation() bool {
	return q.Confirm == ConfirmSpelling || q.Confirm == ConfirmDigits
}

// Section is a named, ordered group of questions.
type Section struct {
	Name      string     `yaml:"name"`
	Questions []Question `yaml:"questions"`
}

// ConditionalRule sets Flag when Field is answered with Equals.
type ConditionalRule struct {
	Field  string `yaml:"field"`
	Equals string `yaml:"equals"`
	Flag   string `yaml:"flag"`
}

// Matches reports whether value triggers the rule (case-insensitive).
func (r ConditionalRule) Matches(value string) bool {
	return strings.EqualFold(strings.TrimSpace(value), r.Equals)
}

// SkipRule omits Section unless one of Keywords occurs as a substring in
// any of the answers collected for SourceFields.
type SkipRule struct {
	Section      string   `yaml:"section"`
	Keywords     []string `yaml:"keywords"`
	SourceFields []string `yaml:"source_fields"`
}

// Include reports whether the section should be entered given a lookup of
// collected answers.
func (r SkipRule) Include(answer func(field string) string) bool {
	var text strings.Builder
	for _, f := range r.SourceFields {
		text.WriteString(strings.ToLower(answer(f)))
		text.WriteByte(' ')
	}
	haystack := text.String()
	for _, kw := range r.Keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// Bank is the validated, immutable question bank.
type Bank struct {
	Version          string            `yaml:"version"`
	Sections         []Section         `yaml:"sections"`
	ConditionalRules []ConditionalRule `yaml:"conditional_rules"`
	SkipRules        []SkipRule        `yaml:"skip_rules"`

	sectionIdx map[string]int
	questions  map[string]Question
}

// index builds the lookup tables. Called once after decoding.
func (b *Bank) index() {
	b.sectionIdx = make(map[string]int, len(b.Sections))
	b.questions = make(map[string]Question)
	for i := range b.Sections {
		s := &b.Sections[i]
		b.sectionIdx[s.Name] = i
		for j := range s.Questions {
			s.Questions[j].Section = s.Name
			if s.Questions[j].Confirm == "" {
				s.Questions[j].Confirm = ConfirmNone
			}
			b.questions[s.Questions[j].ID] = s.Questions[j]
		}
	}
}

// SectionNames returns the section names in interview order.
func (b *Bank) SectionNames() []string {
	names := make([]string, len(b.Sections))
	for i, s := range b.Sections {
		names[i] = s.Name
	}
	return names
}

// First returns the name of the first section.
func (b *Bank) First() string {
	if len(b.Sections) == 0 {
		return ""
	}
	return b.Sections[0].Name
}

// SectionIndex returns the position of name in the section order, or -1.
func (b *Bank) SectionIndex(name string) int {
	if i, ok := b.sectionIdx[name]; ok {
		return i
	}
	return -1
}

// HasSection reports whether name is part of the section order.
func (b *Bank) HasSection(name string) bool {
	_, ok := b.sectionIdx[name]
	return ok
}

// Questions returns the ordered questions of a section. The returned slice
// must not be modified.
func (b *Bank) Questions(section string) ([]Question, error) {
	i, ok := b.sectionIdx[section]
	if !ok {
		return nil, ErrUnknownSection
	}
	return b.Sections[i].Questions, nil
}

// Question looks up a question by field ID.
func (b *Bank) Question(id string) (Question, bool) {
	q, ok := b.questions[id]
	return q, ok
}

// RulesFor returns the conditional rules keyed on field.
func (b *Bank) RulesFor(field string) []ConditionalRule {
	var out []ConditionalRule
	for _, r := range b.ConditionalRules {
		if r.Field == field {
			out = append(out, r)
		}
	}
	return out
}

// SkipRuleFor returns the skip rule for section, if any.
func (b *Bank) SkipRuleFor(section string) (SkipRule, bool) {
	for _, r := range b.SkipRules {
		if r.Section == section {
			return r, true
		}
	}
	return SkipRule{}, false
}

// Choices returns every distinct enumerated choice across the bank. The
// pipeline uses them as STT keyword hints.
func (b *Bank) Choices() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range b.Sections {
		for _, q := range s.Questions {
			for _, c := range q.Choices {
				k := strings.ToLower(c)
				if !seen[k] {
					seen[k] = true
					out = append(out, c)
				}
			}
		}
	}
	return out
}
