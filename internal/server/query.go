package server

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/traceya/backend/internal/errors"
)

// RecordSortField enumerates the columns collection lists may be sorted by.
// Anything outside the enum is rejected at the boundary; no request value
// ever reaches the SQL string.
type RecordSortField string

const (
	RecordSortCreatedAt   RecordSortField = "created_at"
	RecordSortCollectedAt RecordSortField = "collected_at"
	RecordSortSpecies     RecordSortField = "species"
	RecordSortStatus      RecordSortField = "status"
)

// Valid reports whether the sort field is in the enum.
func (f RecordSortField) Valid() bool {
	switch f {
	case RecordSortCreatedAt, RecordSortCollectedAt, RecordSortSpecies, RecordSortStatus:
		return true
	}
	return false
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ListQuery is the validated query specification for the collection-list
// endpoint.
type ListQuery struct {
	Page    int
	Limit   int
	Status  string
	Species string
	From    int64 // unix millis, 0 = unbounded
	To      int64 // unix millis, 0 = unbounded
	SortBy  RecordSortField
	Desc    bool
}

// ParseListQuery builds a ListQuery from request parameters, rejecting
// anything outside the allowed enums and ranges.
func ParseListQuery(vals url.Values) (ListQuery, error) {
	q := ListQuery{
		Page:   1,
		Limit:  defaultLimit,
		SortBy: RecordSortCreatedAt,
		Desc:   true,
	}

	if v := vals.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return q, apperrors.New(apperrors.ErrInvalid, "page must be a positive integer")
		}
		q.Page = page
	}
	if v := vals.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxLimit {
			return q, apperrors.New(apperrors.ErrInvalid,
				fmt.Sprintf("limit must be between 1 and %d", maxLimit))
		}
		q.Limit = limit
	}

	if v := vals.Get("status"); v != "" {
		if v != "recorded" && v != "flagged" {
			return q, apperrors.New(apperrors.ErrInvalid, "status must be recorded or flagged")
		}
		q.Status = v
	}
	q.Species = strings.TrimSpace(vals.Get("species"))

	if v := vals.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, apperrors.New(apperrors.ErrInvalid, "from must be RFC3339")
		}
		q.From = t.UnixMilli()
	}
	if v := vals.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return q, apperrors.New(apperrors.ErrInvalid, "to must be RFC3339")
		}
		q.To = t.UnixMilli()
	}
	if q.From > 0 && q.To > 0 && q.From > q.To {
		return q, apperrors.New(apperrors.ErrInvalid, "from must not be after to")
	}

	if v := vals.Get("sortBy"); v != "" {
		field := RecordSortField(v)
		if !field.Valid() {
			return q, apperrors.New(apperrors.ErrInvalid, "sortBy must be one of created_at, collected_at, species, status")
		}
		q.SortBy = field
	}
	switch vals.Get("sortOrder") {
	case "", "desc":
		q.Desc = true
	case "asc":
		q.Desc = false
	default:
		return q, apperrors.New(apperrors.ErrInvalid, "sortOrder must be asc or desc")
	}

	return q, nil
}

// whereClause renders the filters as a parameterized WHERE body.
func (q ListQuery) whereClause() (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, q.Status)
	}
	if q.Species != "" {
		clauses = append(clauses, "species = ?")
		args = append(args, q.Species)
	}
	if q.From > 0 {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, q.From)
	}
	if q.To > 0 {
		clauses = append(clauses, "created_at <= ?")
		args = append(args, q.To)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// orderClause renders the validated sort. Only enum values reach this point.
func (q ListQuery) orderClause() string {
	dir := "ASC"
	if q.Desc {
		dir = "DESC"
	}
	return string(q.SortBy) + " " + dir + ", id DESC"
}

// FilterEcho reports the applied filters back in the list response.
func (q ListQuery) FilterEcho() map[string]string {
	filters := make(map[string]string)
	if q.Status != "" {
		filters["status"] = q.Status
	}
	if q.Species != "" {
		filters["species"] = q.Species
	}
	if q.From > 0 {
		filters["from"] = time.UnixMilli(q.From).UTC().Format(time.RFC3339)
	}
	if q.To > 0 {
		filters["to"] = time.UnixMilli(q.To).UTC().Format(time.RFC3339)
	}
	filters["sortBy"] = string(q.SortBy)
	if q.Desc {
		filters["sortOrder"] = "desc"
	} else {
		filters["sortOrder"] = "asc"
	}
	return filters
}
