package fieldbank

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default_bank.yaml
var defaultBank []byte

// Default returns the built-in employment intake bank.
func Default() (*Bank, error) {
	b, err := LoadFromReader(bytes.NewReader(defaultBank))
	if err != nil {
		return nil, fmt.Errorf("fieldbank: default bank: %w", err)
	}
	return b, nil
}

// Load reads and validates the bank at path. An empty path returns the
// built-in bank.
func Load(path string) (*Bank, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fieldbank: open %q: %w", path, err)
	}
	defer f.Close()

	b, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("fieldbank: parse %q: %w", path, err)
	}
	return b, nil
}

// LoadFromReader decodes a YAML bank from r and validates the result.
func LoadFromReader(r io.Reader) (*Bank, error) {
	b := &Bank{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(b); err != nil {
		return nil, fmt.Errorf("fieldbank: decode yaml: %w", err)
	}
	if err := Validate(b); err != nil {
		return nil, err
	}
	b.index()
	return b, nil
}

// Validate checks b for structural errors and returns all of them joined.
func Validate(b *Bank) error {
	var errs []error

	if b.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if len(b.Sections) == 0 {
		errs = append(errs, errors.New("at least one section is required"))
	}

	sections := make(map[string]bool)
	// section index of every question seen so far; dependencies and skip
	// sources must point backwards.
	order := make(map[string]int)
	for i, s := range b.Sections {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("sections[%d].name is required", i))
		} else if sections[s.Name] {
			errs = append(errs, fmt.Errorf("sections[%d]: duplicate section %q", i, s.Name))
		}
		sections[s.Name] = true
		if len(s.Questions) == 0 {
			errs = append(errs, fmt.Errorf("section %q has no questions", s.Name))
		}

		for j, q := range s.Questions {
			where := fmt.Sprintf("section %q question[%d]", s.Name, j)
			if q.ID == "" {
				errs = append(errs, fmt.Errorf("%s: id is required", where))
				continue
			}
			where = fmt.Sprintf("question %q", q.ID)
			if _, dup := order[q.ID]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate id", where))
			}
			if q.Label == "" {
				errs = append(errs, fmt.Errorf("%s: label is required", where))
			}
			if !q.Type.IsValid() {
				errs = append(errs, fmt.Errorf("%s: type %q is invalid; valid values: text, choice, date, phone, email", where, q.Type))
			}
			if q.Type == TypeChoice && len(q.Choices) == 0 {
				errs = append(errs, fmt.Errorf("%s: choice questions need at least one choice", where))
			}
			if !q.Confirm.IsValid() {
				errs = append(errs, fmt.Errorf("%s: confirm %q is invalid; valid values: none, spelling, digits", where, q.Confirm))
			}
			if d := q.DependsOn; d != nil {
				switch {
				case (d.Field == "") == (d.Flag == ""):
					errs = append(errs, fmt.Errorf("%s: depends_on needs exactly one of field and flag", where))
				case d.Flag != "":
					if !flagSetBefore(b.ConditionalRules, d.Flag, order) {
						errs = append(errs, fmt.Errorf("%s: depends_on.flag %q must be set by a rule on an earlier question", where, d.Flag))
					}
				default:
					if _, ok := order[d.Field]; !ok {
						errs = append(errs, fmt.Errorf("%s: depends_on.field %q must name an earlier question", where, d.Field))
					}
				}
			}
			order[q.ID] = i
		}
	}

	for i, r := range b.ConditionalRules {
		if _, ok := order[r.Field]; !ok {
			errs = append(errs, fmt.Errorf("conditional_rules[%d]: unknown field %q", i, r.Field))
		}
		if r.Flag == "" {
			errs = append(errs, fmt.Errorf("conditional_rules[%d]: flag is required", i))
		}
	}
	for i, r := range b.SkipRules {
		target := -1
		for si, s := range b.Sections {
			if s.Name == r.Section {
				target = si
			}
		}
		if target < 0 {
			errs = append(errs, fmt.Errorf("skip_rules[%d]: unknown section %q", i, r.Section))
		}
		if len(r.Keywords) == 0 {
			errs = append(errs, fmt.Errorf("skip_rules[%d]: at least one keyword is required", i))
		}
		for _, f := range r.SourceFields {
			si, ok := order[f]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("skip_rules[%d]: unknown source field %q", i, f))
			case target >= 0 && si >= target:
				errs = append(errs, fmt.Errorf("skip_rules[%d]: source field %q must be asked before section %q", i, f, r.Section))
			}
		}
	}

	return errors.Join(errs...)
}

// flagSetBefore reports whether a conditional rule on an already ordered
// question sets flag.
func flagSetBefore(rules []ConditionalRule, flag string, order map[string]int) bool {
	for _, r := range rules {
		if _, ok := order[r.Field]; ok && r.Flag == flag {
			return true
		}
	}
	return false
}
