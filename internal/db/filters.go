// Package db provides typed query building for the event store.
package db

import (
	"strings"

	"github.com/traceya/backend/internal/models"
)

// Filter represents a single query filter condition.
type Filter interface {
	// SQL returns the SQL fragment for this filter
	SQL() string

	// Args returns the arguments for this filter
	Args() []interface{}

	// Valid checks if the filter is valid
	Valid() bool
}

// StatusFilter filters events by sync status.
type StatusFilter struct {
	Status models.SyncStatus
}

// Valid checks if the status is one of the lifecycle states.
func (f *StatusFilter) Valid() bool {
	return f.Status.Valid()
}

// SQL returns the SQL fragment for status filtering.
func (f *StatusFilter) SQL() string {
	return "status = ?"
}

// Args returns the arguments for status filtering.
func (f *StatusFilter) Args() []interface{} {
	return []interface{}{string(f.Status)}
}

// FarmerFilter filters events by the owning farmer.
type FarmerFilter struct {
	FarmerID string
}

// Valid checks that a farmer id was given.
func (f *FarmerFilter) Valid() bool {
	return strings.TrimSpace(f.FarmerID) != ""
}

// SQL returns the SQL fragment for farmer filtering.
func (f *FarmerFilter) SQL() string {
	return "farmer_id = ?"
}

// Args returns the arguments for farmer filtering.
func (f *FarmerFilter) Args() []interface{} {
	return []interface{}{f.FarmerID}
}

// TextFilter matches free text over species, event id, and notes.
type TextFilter struct {
	Term string
}

// Valid checks that a non-blank search term was given.
func (f *TextFilter) Valid() bool {
	return strings.TrimSpace(f.Term) != ""
}

// SQL returns the SQL fragment for free-text filtering.
func (f *TextFilter) SQL() string {
	return "(species LIKE ? ESCAPE '\\' OR event_id LIKE ? ESCAPE '\\' OR notes LIKE ? ESCAPE '\\')"
}

// Args returns the arguments for free-text filtering.
func (f *TextFilter) Args() []interface{} {
	pattern := "%" + escapeLike(strings.TrimSpace(f.Term)) + "%"
	return []interface{}{pattern, pattern, pattern}
}

// escapeLike escapes LIKE wildcards in user-supplied search terms.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// SortField enumerates the columns events may be sorted by. Anything outside
// the enum is rejected at the boundary.
type SortField string

const (
	SortByCreatedAt   SortField = "created_at"
	SortByUpdatedAt   SortField = "updated_at"
	SortByCollectedAt SortField = "collected_at"
	SortBySpecies     SortField = "species"
	SortByStatus      SortField = "status"
)

// Valid reports whether the sort field is in the enum.
func (f SortField) Valid() bool {
	switch f {
	case SortByCreatedAt, SortByUpdatedAt, SortByCollectedAt, SortBySpecies, SortByStatus:
		return true
	}
	return false
}

// SortSpec is a validated sort clause.
type SortSpec struct {
	Field      SortField
	Descending bool
}

// DefaultSort is newest first.
func DefaultSort() SortSpec {
	return SortSpec{Field: SortByCreatedAt, Descending: true}
}

// SQL returns the ORDER BY clause body. Invalid fields fall back to the
// default sort rather than reaching the SQL string.
func (s SortSpec) SQL() string {
	field := s.Field
	if !field.Valid() {
		field = SortByCreatedAt
	}
	dir := "ASC"
	if s.Descending {
		dir = "DESC"
	}
	// id tiebreak keeps the order stable across equal timestamps
	return string(field) + " " + dir + ", id DESC"
}

// buildWhere combines the valid filters into a WHERE clause body.
// Invalid filters are dropped, never interpolated.
func buildWhere(filters []Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	for _, f := range filters {
		if f == nil || !f.Valid() {
			continue
		}
		clauses = append(clauses, f.SQL())
		args = append(args, f.Args()...)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
