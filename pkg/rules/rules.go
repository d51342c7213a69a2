// Package rules is the Business Rules Engine (spec §4.5): ordered
// condition/action evaluation over a ticket's field paths, with each
// action's failure isolated from the rest of the rule set.
package rules

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wisbric/snowlink/pkg/ticket"
)

// Operator enumerates the comparison operators a condition may use.
type Operator string

const (
	OpEquals     Operator = "equals"
	OpNotEquals  Operator = "not_equals"
	OpGreater    Operator = "greater_than"
	OpLess       Operator = "less_than"
	OpContains   Operator = "contains"
)

// Condition tests one field path against a value.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// Evaluate reports whether the condition holds for the ticket.
func (c Condition) Evaluate(t *ticket.Ticket) (bool, error) {
	actual, err := t.FieldPath(c.Field)
	if err != nil {
		return false, err
	}
	return compare(actual, c.Operator, c.Value)
}

func compare(actual any, op Operator, expected any) (bool, error) {
	switch op {
	case OpEquals:
		return fmt.Sprint(actual) == fmt.Sprint(expected), nil
	case OpNotEquals:
		return fmt.Sprint(actual) != fmt.Sprint(expected), nil
	case OpContains:
		s, ok := actual.(string)
		sub, ok2 := expected.(string)
		if !ok || !ok2 {
			return false, nil
		}
		return containsSubstring(s, sub), nil
	case OpGreater, OpLess:
		af, aok := toFloat(actual)
		ef, eok := toFloat(expected)
		if !aok || !eok {
			return false, nil
		}
		if op == OpGreater {
			return af > ef, nil
		}
		return af < ef, nil
	default:
		return false, fmt.Errorf("unknown rule operator: %s", op)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func containsSubstring(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return sub == ""
}

// ActionType enumerates the side effects a rule's actions may perform.
type ActionType string

const (
	ActionSetField      ActionType = "set_field"
	ActionNotify        ActionType = "notify"
	ActionAddWorkNote    ActionType = "add_work_note"
)

// Action is one side effect a matched rule performs. Executor is supplied
// by the host (notification dispatch, upstream field update); the engine
// itself only sequences and isolates failures.
type Action struct {
	Type   ActionType
	Field  string
	Value  any
	Target string // notification channel or note text template, per Type
}

// Executor performs the side effect of a single action against a ticket.
// pkg/dispatch.Executor implements it, routing ActionNotify to pkg/notifyqueue
// and ActionSetField/ActionAddWorkNote to pkg/upstream.
type Executor interface {
	Execute(ctx context.Context, t *ticket.Ticket, a Action) error
}

// Rule is one ordered condition set plus the actions it triggers.
type Rule struct {
	Name       string
	Conditions []Condition
	Actions    []Action
}

// Matches reports whether every condition in the rule holds (logical AND,
// per spec §4.5).
func (r Rule) Matches(t *ticket.Ticket) (bool, error) {
	for _, c := range r.Conditions {
		ok, err := c.Evaluate(t)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Engine evaluates an ordered rule set against a ticket.
type Engine struct {
	rules    []Rule
	executor Executor
	logger   *slog.Logger
}

// NewEngine creates a rules Engine over the given ordered rule set.
func NewEngine(rules []Rule, executor Executor, logger *slog.Logger) *Engine {
	return &Engine{rules: rules, executor: executor, logger: logger}
}

// Result records the outcome of evaluating one rule.
type Result struct {
	RuleName    string
	Matched     bool
	ActionErrs  []error
}

// Evaluate runs every rule in order against the ticket. A rule whose action
// fails does not prevent later rules (or later actions within the same
// rule) from running; all errors are collected into the Result (spec §4.5
// "per-action failure isolation").
func (e *Engine) Evaluate(ctx context.Context, t *ticket.Ticket) ([]Result, error) {
	results := make([]Result, 0, len(e.rules))

	for _, rule := range e.rules {
		matched, err := rule.Matches(t)
		if err != nil {
			e.logger.Warn("rule condition evaluation failed", "rule", rule.Name, "error", err)
			results = append(results, Result{RuleName: rule.Name, Matched: false, ActionErrs: []error{err}})
			continue
		}
		if !matched {
			results = append(results, Result{RuleName: rule.Name})
			continue
		}

		var actionErrs []error
		for _, action := range rule.Actions {
			if actErr := e.executor.Execute(ctx, t, action); actErr != nil {
				e.logger.Warn("rule action failed", "rule", rule.Name, "action", action.Type, "error", actErr)
				actionErrs = append(actionErrs, actErr)
			}
		}
		results = append(results, Result{RuleName: rule.Name, Matched: true, ActionErrs: actionErrs})
	}

	return results, nil
}
