package rules

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/snowlink/pkg/ticket"
)

type recordingExecutor struct {
	calls     []Action
	failOn    ActionType
}

func (e *recordingExecutor) Execute(ctx context.Context, t *ticket.Ticket, a Action) error {
	e.calls = append(e.calls, a)
	if a.Type == e.failOn {
		return errors.New("boom")
	}
	return nil
}

func testTicket() *ticket.Ticket {
	return &ticket.Ticket{
		SysID:    "abc123",
		Priority: 1,
		State:    "1",
		Payload: map[string]any{
			"category": "network",
		},
	}
}

func TestCondition_Evaluate_Equals(t *testing.T) {
	c := Condition{Field: "state", Operator: OpEquals, Value: "1"}
	ok, err := c.Evaluate(testTicket())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCondition_Evaluate_GreaterThan(t *testing.T) {
	c := Condition{Field: "priority", Operator: OpGreater, Value: 0}
	ok, err := c.Evaluate(testTicket())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCondition_Evaluate_Contains(t *testing.T) {
	c := Condition{Field: "category", Operator: OpContains, Value: "net"}
	ok, err := c.Evaluate(testTicket())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCondition_Evaluate_UnknownFieldErrors(t *testing.T) {
	c := Condition{Field: "bogus.path", Operator: OpEquals, Value: "x"}
	_, err := c.Evaluate(testTicket())
	assert.Error(t, err)
}

func TestEngine_Evaluate_RunsActionsOnMatch(t *testing.T) {
	exec := &recordingExecutor{}
	rule := Rule{
		Name:       "critical-network",
		Conditions: []Condition{{Field: "priority", Operator: OpEquals, Value: 1}},
		Actions:    []Action{{Type: ActionNotify, Target: "oncall"}},
	}
	engine := NewEngine([]Rule{rule}, exec, slog.Default())

	results, err := engine.Evaluate(context.Background(), testTicket())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Matched)
	assert.Empty(t, results[0].ActionErrs)
	assert.Len(t, exec.calls, 1)
}

func TestEngine_Evaluate_NonMatchSkipsActions(t *testing.T) {
	exec := &recordingExecutor{}
	rule := Rule{
		Name:       "low-priority-only",
		Conditions: []Condition{{Field: "priority", Operator: OpEquals, Value: 5}},
		Actions:    []Action{{Type: ActionNotify}},
	}
	engine := NewEngine([]Rule{rule}, exec, slog.Default())

	results, err := engine.Evaluate(context.Background(), testTicket())
	require.NoError(t, err)
	assert.False(t, results[0].Matched)
	assert.Empty(t, exec.calls)
}

func TestEngine_Evaluate_ActionFailureIsolatedFromLaterActionsAndRules(t *testing.T) {
	exec := &recordingExecutor{failOn: ActionNotify}
	rule := Rule{
		Name:       "multi-action",
		Conditions: []Condition{{Field: "priority", Operator: OpEquals, Value: 1}},
		Actions: []Action{
			{Type: ActionNotify},
			{Type: ActionAddWorkNote},
		},
	}
	secondRule := Rule{
		Name:       "second",
		Conditions: []Condition{{Field: "priority", Operator: OpEquals, Value: 1}},
		Actions:    []Action{{Type: ActionSetField}},
	}
	engine := NewEngine([]Rule{rule, secondRule}, exec, slog.Default())

	results, err := engine.Evaluate(context.Background(), testTicket())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results[0].ActionErrs, 1)
	assert.Len(t, exec.calls, 3) // both actions of rule one ran, plus rule two's action
	assert.True(t, results[1].Matched)
	assert.Empty(t, results[1].ActionErrs)
}
