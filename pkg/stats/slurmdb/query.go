package slurmdb

import (
	"strings"
)

// Query builder struct.
type Query struct {
	builder strings.Builder
	params  []any
}

// Add query to builder.
func (q *Query) query(s string) {
	q.builder.WriteString(s)
}

// Add a single placeholder and its parameter.
func (q *Query) param(val any) {
	q.builder.WriteString("?")
	q.params = append(q.params, val)
}

// Get current query string and its parameters.
func (q *Query) get() (string, []any) {
	return q.builder.String(), q.params
}
