package upstream

import "strings"

// Operator enumerates the encoded-query DSL operators from spec §6.
type Operator string

const (
	OpEquals         Operator = "="
	OpNotEquals      Operator = "!="
	OpGreaterThan    Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLessThan       Operator = "<"
	OpLessOrEqual    Operator = "<="
	OpLike           Operator = "LIKE"
	OpStartsWith     Operator = "STARTSWITH"
	OpEndsWith       Operator = "ENDSWITH"
	OpContains       Operator = "CONTAINS"
	OpNotContains    Operator = "DOESNOTCONTAIN"
	OpIn             Operator = "IN"
	OpNotIn          Operator = "NOT IN"
)

// QueryBuilder builds an encoded-query DSL string: clauses joined by "^"
// (AND) or "^OR" (OR), terminated by an optional ORDERBY/ORDERBYDESC
// directive (spec §6).
type QueryBuilder struct {
	clauses []string
	order   string
}

// NewQuery creates an empty query builder.
func NewQuery() *QueryBuilder { return &QueryBuilder{} }

// And appends an AND-joined clause.
func (b *QueryBuilder) And(field string, op Operator, value string) *QueryBuilder {
	b.clauses = append(b.clauses, "^"+clause(field, op, value))
	return b
}

// Or appends an OR-joined clause.
func (b *QueryBuilder) Or(field string, op Operator, value string) *QueryBuilder {
	b.clauses = append(b.clauses, "^OR"+clause(field, op, value))
	return b
}

// clause renders one field/operator/value clause. And/Or prefix it with
// their join marker; Encode strips the marker from the leading clause.
func clause(field string, op Operator, value string) string {
	return field + string(op) + value
}

// OrderBy appends an ascending sort directive, which must be the final
// element of the encoded query per spec §6.
func (b *QueryBuilder) OrderBy(field string) *QueryBuilder {
	b.order = "ORDERBY" + field
	return b
}

// OrderByDesc appends a descending sort directive.
func (b *QueryBuilder) OrderByDesc(field string) *QueryBuilder {
	b.order = "ORDERBYDESC" + field
	return b
}

// Encode renders the builder into the opaque encoded-query string.
func (b *QueryBuilder) Encode() string {
	var sb strings.Builder
	for i, c := range b.clauses {
		if i == 0 {
			// Strip the leading "^"/"^OR" join marker on the first clause.
			sb.WriteString(strings.TrimPrefix(strings.TrimPrefix(c, "^OR"), "^"))
			continue
		}
		sb.WriteString(c)
	}
	if b.order != "" {
		if sb.Len() > 0 {
			sb.WriteString("^")
		}
		sb.WriteString(b.order)
	}
	return sb.String()
}

// EncodedQuery is a convenience constructor for a single equality clause,
// e.g. "sys_id=<id>" in spec §4.2 step 4.
func EncodedQuery(field string, op Operator, value string) string {
	return NewQuery().And(field, op, value).Encode()
}
