// Package ticket defines the canonical Ticket type, its table variants, and
// the state-machine rules ServiceNow tickets must obey (spec §3, §6).
package ticket

import (
	"regexp"
	"time"

	"github.com/wisbric/snowlink/pkg/corerr"
)

// Table enumerates the ticket tables the core understands.
type Table string

const (
	TableIncident    Table = "incident"
	TableChangeTask  Table = "change_task"
	TableSCTask      Table = "sc_task"
)

// Tables lists every supported table, in a stable order.
var Tables = []Table{TableIncident, TableChangeTask, TableSCTask}

func (t Table) Valid() bool {
	switch t {
	case TableIncident, TableChangeTask, TableSCTask:
		return true
	}
	return false
}

// CollectionName returns the document-store collection name for a table,
// following the "<table>s_complete" convention from spec §6.
func (t Table) CollectionName() string {
	return string(t) + "s_complete"
}

var (
	sysIDPattern  = regexp.MustCompile(`^[0-9a-f]{32}$`)
	numberPattern = regexp.MustCompile(`^[A-Z]{3}\d{7}$`)
)

// ValidSysID reports whether s is a well-formed 32-char lowercase-hex sys_id.
func ValidSysID(s string) bool { return sysIDPattern.MatchString(s) }

// PriorityFromLabel maps a ServiceNow priority field's resolved string
// ("1", "1 - Critical", ...) to its numeric rank, 1 (highest) to 5 (lowest).
// Unrecognized labels default to 5 rather than erroring, since the sync
// engine must never abort a whole page over one malformed priority field.
func PriorityFromLabel(label string) int {
	switch label {
	case "1", "1 - Critical":
		return 1
	case "2", "2 - High":
		return 2
	case "3", "3 - Moderate":
		return 3
	case "4", "4 - Low":
		return 4
	default:
		return 5
	}
}

// ValidNumber reports whether s is a well-formed ticket number.
func ValidNumber(s string) bool { return numberPattern.MatchString(s) }

// allowedTransitions encodes spec §6's allowed state-transition table.
// Keys and values are the string-encoded state integers.
var allowedTransitions = map[string]map[string]bool{
	"1": {"2": true, "6": true},
	"2": {"3": true, "6": true},
	"3": {"2": true, "6": true},
	"6": {"7": true, "2": true},
	"7": {"2": true},
}

// ValidateTransition returns a *corerr.Error of KindValidation if the
// from->to transition is not in the allowed table, and nil otherwise.
func ValidateTransition(from, to string) error {
	if edges, ok := allowedTransitions[from]; ok && edges[to] {
		return nil
	}
	return corerr.Transition(from, to)
}

// ReferenceField models a ServiceNow {display_value, value, link} triple
// (spec §4.1, §6). Resolve implements the documented accessor rule: prefer
// display_value, fall back to value, and if the field arrived as a bare
// scalar string use that directly.
type ReferenceField struct {
	DisplayValue string
	Value        string
	Link         string
	scalar       string
	isScalar     bool
}

// NewScalarReference wraps a bare scalar string field.
func NewScalarReference(scalar string) ReferenceField {
	return ReferenceField{scalar: scalar, isScalar: true}
}

// Resolve returns the preferred string representation of the field.
func (r ReferenceField) Resolve() string {
	if r.isScalar {
		return r.scalar
	}
	if r.DisplayValue != "" {
		return r.DisplayValue
	}
	return r.Value
}

// Ticket is the canonical, table-agnostic representation of a ServiceNow
// ticket (spec §3).
type Ticket struct {
	SysID            string
	Number           string
	Table            Table
	State            string // string-encoded integer, see spec §6
	Priority         int    // 1 (highest) .. 5
	ShortDescription string
	Description      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	AssignmentGroup  string
	AssignedTo       string
	Caller           string

	// Payload carries table-variant fields not promoted to the canonical
	// struct (spec §9 "mixed raw_data and canonical fields").
	Payload map[string]any

	// SLAInstanceIDs stores ids only; the instances themselves are resolved
	// on read from the SLA store (spec §9 "cyclic references").
	SLAInstanceIDs []string
}

// FieldPath evaluates a dot-separated path against the ticket, first
// checking canonical fields and then the table-specific Payload map (spec §9
// "dynamic field access"). Paths not present in the schema are rejected with
// a ValidationError rather than silently returning a zero value.
func (t *Ticket) FieldPath(path string) (any, error) {
	switch path {
	case "sys_id":
		return t.SysID, nil
	case "number":
		return t.Number, nil
	case "table":
		return string(t.Table), nil
	case "state":
		return t.State, nil
	case "priority":
		return t.Priority, nil
	case "short_description":
		return t.ShortDescription, nil
	case "description":
		return t.Description, nil
	case "assignment_group":
		return t.AssignmentGroup, nil
	case "assigned_to":
		return t.AssignedTo, nil
	case "caller":
		return t.Caller, nil
	case "created_at":
		return t.CreatedAt, nil
	case "updated_at":
		return t.UpdatedAt, nil
	}

	if v, ok := lookupPayload(t.Payload, path); ok {
		return v, nil
	}
	return nil, corerr.New(corerr.KindValidation, "unknown field path: "+path)
}

// lookupPayload walks a dot-separated path into a nested map, as the source
// implementation's "field.split('.').reduce(...)" does, but typed and
// bounds-checked.
func lookupPayload(payload map[string]any, path string) (any, bool) {
	if payload == nil {
		return nil, false
	}
	cur := any(payload)
	for _, segment := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := m[segment]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}
