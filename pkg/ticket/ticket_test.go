package ticket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wisbric/snowlink/pkg/corerr"
)

func TestValidSysID(t *testing.T) {
	assert.True(t, ValidSysID("abcdef0123456789abcdef0123456789"))
	assert.False(t, ValidSysID("ABCDEF0123456789abcdef0123456789")) // uppercase
	assert.False(t, ValidSysID("abc123"))                           // too short
}

func TestValidNumber(t *testing.T) {
	assert.True(t, ValidNumber("INC4504604"))
	assert.True(t, ValidNumber("CHG0000456"))
	assert.False(t, ValidNumber("inc4504604"))
	assert.False(t, ValidNumber("INC450460"))
}

func TestValidateTransition(t *testing.T) {
	cases := []struct {
		from, to string
		wantErr  bool
	}{
		{"1", "2", false},
		{"1", "6", false},
		{"2", "3", false},
		{"2", "6", false},
		{"3", "2", false},
		{"3", "6", false},
		{"6", "7", false},
		{"6", "2", false},
		{"7", "2", false},
		{"7", "6", true},
		{"1", "7", true},
		{"2", "1", true},
		{"3", "3", true}, // self-transition is not in the allowed table
	}

	for _, c := range cases {
		err := ValidateTransition(c.from, c.to)
		if c.wantErr {
			assert.Error(t, err, "%s->%s should be rejected", c.from, c.to)
		} else {
			assert.NoError(t, err, "%s->%s should be allowed", c.from, c.to)
		}
	}
}

func TestValidateTransitionNamesStates(t *testing.T) {
	err := ValidateTransition("7", "6")
	var ce *corerr.Error
	if assert.ErrorAs(t, err, &ce) {
		assert.Equal(t, "7", ce.FromState)
		assert.Equal(t, "6", ce.ToState)
		assert.Equal(t, corerr.KindValidation, ce.Kind)
	}
}

func TestReferenceFieldResolve(t *testing.T) {
	assert.Equal(t, "Display Name", ReferenceField{DisplayValue: "Display Name", Value: "abc"}.Resolve())
	assert.Equal(t, "abc", ReferenceField{Value: "abc"}.Resolve())
	assert.Equal(t, "scalar", NewScalarReference("scalar").Resolve())
}

func TestFieldPathCanonical(t *testing.T) {
	tk := &Ticket{SysID: "x", Priority: 2, State: "2"}
	v, err := tk.FieldPath("priority")
	assert.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestFieldPathPayload(t *testing.T) {
	tk := &Ticket{
		Payload: map[string]any{
			"cmdb_ci": map[string]any{"name": "web-01"},
		},
	}
	v, err := tk.FieldPath("cmdb_ci.name")
	assert.NoError(t, err)
	assert.Equal(t, "web-01", v)
}

func TestFieldPathUnknownRejected(t *testing.T) {
	tk := &Ticket{}
	_, err := tk.FieldPath("nonexistent.nested.path")
	assert.Error(t, err)
	var ce *corerr.Error
	assert.ErrorAs(t, err, &ce)
	assert.Equal(t, corerr.KindValidation, ce.Kind)
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "incidents_complete", TableIncident.CollectionName())
	assert.Equal(t, "change_tasks_complete", TableChangeTask.CollectionName())
	assert.Equal(t, "sc_tasks_complete", TableSCTask.CollectionName())
}

func TestPriorityFromLabel(t *testing.T) {
	assert.Equal(t, 1, PriorityFromLabel("1 - Critical"))
	assert.Equal(t, 1, PriorityFromLabel("1"))
	assert.Equal(t, 4, PriorityFromLabel("4 - Low"))
	assert.Equal(t, 5, PriorityFromLabel("garbage"))
	assert.Equal(t, 5, PriorityFromLabel(""))
}
