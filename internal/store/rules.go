package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"labflow/internal/acceptance"
)

// Action indicates the type of modification performed on a station record.
type Action string

// Change actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
)

// Change describes one station record write captured inside a transaction.
type Change struct {
	Action Action
	Before *acceptance.StationRecord
	After  acceptance.StationRecord
}

// Severity ranks a violation. Only blocking violations abort a commit.
type Severity string

// Severity values.
const (
	SeverityWarn  Severity = "warn"
	SeverityBlock Severity = "block"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	ItemID   string

	// Err is the sentinel callers match with errors.Is.
	Err error
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	msgs := make([]string, 0, len(e.Result.Violations))
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			msgs = append(msgs, v.Message)
		}
	}
	return "transaction blocked by rules: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the sentinels of blocking violations to errors.Is.
func (e RuleViolationError) Unwrap() []error {
	var errs []error
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock && v.Err != nil {
			errs = append(errs, v.Err)
		}
	}
	return errs
}

// RuleView provides read-only access to the transaction's station records.
type RuleView interface {
	StationsForItem(ctx context.Context, itemID string) ([]acceptance.StationRecord, error)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// DefaultRulesEngine returns an engine with the built-in station rules.
func DefaultRulesEngine() *RulesEngine {
	e := NewRulesEngine()
	e.Register(SingleActiveStationRule())
	return e
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// Check evaluates the rules and converts blocking violations into a
// [RuleViolationError]. A nil engine allows everything.
func (e *RulesEngine) Check(ctx context.Context, view RuleView, changes []Change) error {
	if e == nil || len(changes) == 0 {
		return nil
	}
	res, err := e.Evaluate(ctx, view, changes)
	if err != nil {
		return fmt.Errorf("evaluate rules: %w", err)
	}
	if res.HasBlocking() {
		return RuleViolationError{Result: res}
	}
	return nil
}

type singleActiveStationRule struct{}

// SingleActiveStationRule blocks any change that leaves an item with more
// than one waiting or processing station record.
func SingleActiveStationRule() Rule {
	return singleActiveStationRule{}
}

func (singleActiveStationRule) Name() string {
	return "single_active_station"
}

func (r singleActiveStationRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	touched := make(map[string]struct{})
	for _, c := range changes {
		touched[c.After.ItemID] = struct{}{}
	}
	items := make([]string, 0, len(touched))
	for id := range touched {
		items = append(items, id)
	}
	sort.Strings(items)

	var res Result
	for _, itemID := range items {
		records, err := view.StationsForItem(ctx, itemID)
		if err != nil {
			return Result{}, err
		}
		var active []string
		for _, rec := range records {
			if rec.IsActive() {
				active = append(active, rec.ID)
			}
		}
		if len(active) > 1 {
			res.Violations = append(res.Violations, Violation{
				Rule:     r.Name(),
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("item %s has %d active station records (%s)", itemID, len(active), strings.Join(active, ", ")),
				ItemID:   itemID,
				Err:      ErrActiveStationExists,
			})
		}
	}
	return res, nil
}

// IsActiveStationConflict reports whether err means a second active station
// record was refused.
func IsActiveStationConflict(err error) bool {
	return errors.Is(err, ErrActiveStationExists)
}
