// Package workflow defines the ordered station sequences that testing units
// travel through.
//
// A [Workflow] is a read-only list of [Section] values whose orders are unique
// and contiguous from 0. Each section carries a parameter schema used to seed
// and validate the values captured at that station.
//
// Key types:
//   - [Workflow] - Ordered sections assigned to an item
//   - [Section] - One processing station and its parameter schema
//   - [ParameterField] - A named, typed captured value
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"labflow/internal/acceptance"
)

// ParameterType is the type of a captured station value.
type ParameterType string

// Supported parameter types.
const (
	ParameterText   ParameterType = "text"
	ParameterNumber ParameterType = "number"
	ParameterFile   ParameterType = "file"
)

// ErrInvalidParameters is returned when captured values do not conform to the
// section schema.
var ErrInvalidParameters = acceptance.NewError(acceptance.KindPrecondition, "invalid station parameters")

// ParameterField describes one captured value at a station.
type ParameterField struct {
	Name     string        `yaml:"name" json:"name"`
	Type     ParameterType `yaml:"type" json:"type"`
	Required bool          `yaml:"required" json:"required"`
	Default  string        `yaml:"default,omitempty" json:"default,omitempty"`
}

// Section is one processing station within a workflow.
type Section struct {
	ID         string
	Name       string
	Order      int
	Parameters []ParameterField
}

// Template returns the parameter map used to seed a new station record.
// Every schema field is present; fields without a default map to "".
func (s Section) Template() map[string]string {
	tpl := make(map[string]string, len(s.Parameters))
	for _, f := range s.Parameters {
		tpl[f.Name] = f.Default
	}
	return tpl
}

// ValidateParameters checks params against the section schema.
//
// Unknown keys and values that do not parse as their declared type are
// rejected. When complete is true, required fields must also be non-empty.
func (s Section) ValidateParameters(params map[string]string, complete bool) error {
	fields := make(map[string]ParameterField, len(s.Parameters))
	for _, f := range s.Parameters {
		fields[f.Name] = f
	}

	var problems []string
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		f, ok := fields[k]
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", k))
			continue
		}
		v := strings.TrimSpace(params[k])
		if v == "" {
			continue
		}
		if f.Type == ParameterNumber {
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				problems = append(problems, fmt.Sprintf("parameter %q must be a number", k))
			}
		}
	}

	if complete {
		for _, f := range s.Parameters {
			if f.Required && strings.TrimSpace(params[f.Name]) == "" {
				problems = append(problems, fmt.Sprintf("parameter %q is required", f.Name))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(problems, "; "))
	}
	return nil
}

// Workflow is the ordered sequence of sections assigned to an item.
type Workflow struct {
	ID       string
	Name     string
	Sections []Section
}

// SectionAt returns the section with the given order.
func (w Workflow) SectionAt(order int) (Section, bool) {
	for _, s := range w.Sections {
		if s.Order == order {
			return s, true
		}
	}
	return Section{}, false
}

// LastOrder returns the highest section order, or -1 for an empty workflow.
func (w Workflow) LastOrder() int {
	last := -1
	for _, s := range w.Sections {
		if s.Order > last {
			last = s.Order
		}
	}
	return last
}

// Validate checks that section orders are unique and contiguous from 0 and
// that every parameter field has a name and a known type.
func (w Workflow) Validate() error {
	if w.ID == "" {
		return errors.New("workflow id is required")
	}
	if len(w.Sections) == 0 {
		return fmt.Errorf("workflow %s has no sections", w.ID)
	}

	seen := make(map[int]string, len(w.Sections))
	for _, s := range w.Sections {
		if s.ID == "" {
			return fmt.Errorf("workflow %s: section at order %d has no id", w.ID, s.Order)
		}
		if prev, ok := seen[s.Order]; ok {
			return fmt.Errorf("workflow %s: sections %s and %s share order %d", w.ID, prev, s.ID, s.Order)
		}
		seen[s.Order] = s.ID
		for _, f := range s.Parameters {
			if f.Name == "" {
				return fmt.Errorf("workflow %s: section %s has a parameter without a name", w.ID, s.ID)
			}
			switch f.Type {
			case ParameterText, ParameterNumber, ParameterFile:
			default:
				return fmt.Errorf("workflow %s: section %s parameter %s has unknown type %q", w.ID, s.ID, f.Name, f.Type)
			}
		}
	}
	for i := range w.Sections {
		if _, ok := seen[i]; !ok {
			return fmt.Errorf("workflow %s: section orders must be contiguous from 0, missing %d", w.ID, i)
		}
	}
	return nil
}
