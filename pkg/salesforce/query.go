package salesforce

import (
	"fmt"
	"strings"
)

// EscapeSoql escapes single quotes in SOQL string literals to prevent injection.
func EscapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}

// SoqlBuilder assembles a SOQL SELECT statement from parts. Field names and
// the object name are trusted (they come from field-mapping config, not user
// input); WHERE values must be escaped by the caller via EscapeSoql.
type SoqlBuilder struct {
	object  string
	fields  []string
	where   []string
	orderBy string
	limit   int
	offset  int
}

// NewSoql starts a SELECT against the given SObject.
func NewSoql(object string, fields ...string) *SoqlBuilder {
	return &SoqlBuilder{object: object, fields: fields}
}

// Where appends a raw WHERE clause; multiple clauses are ANDed.
func (b *SoqlBuilder) Where(clause string) *SoqlBuilder {
	if clause != "" {
		b.where = append(b.where, clause)
	}
	return b
}

// WhereEq appends an equality clause with an escaped string value.
func (b *SoqlBuilder) WhereEq(field, value string) *SoqlBuilder {
	return b.Where(fmt.Sprintf("%s = '%s'", field, EscapeSoql(value)))
}

// OrderBy sets the ORDER BY expression.
func (b *SoqlBuilder) OrderBy(expr string) *SoqlBuilder {
	b.orderBy = expr
	return b
}

// Limit sets the LIMIT value; non-positive values are ignored.
func (b *SoqlBuilder) Limit(n int) *SoqlBuilder {
	b.limit = n
	return b
}

// Offset sets the OFFSET value; non-positive values are ignored.
func (b *SoqlBuilder) Offset(n int) *SoqlBuilder {
	b.offset = n
	return b
}

// String renders the SOQL statement.
func (b *SoqlBuilder) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(b.fields, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.object)
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	if b.orderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(b.orderBy)
	}
	if b.limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", b.limit)
	}
	if b.offset > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", b.offset)
	}
	return sb.String()
}
