// Package queueview projects the local event store into the filtered, sorted
// views the farmer queue page and researcher dashboard render. All functions
// are pure: they derive a new view and never mutate stored events.
package queueview

import (
	"sort"
	"strings"

	"github.com/traceya/backend/internal/models"
)

// StatusAll selects every lifecycle state.
const StatusAll = "all"

// Apply filters events by free text and status, newest first. The result is a
// fresh slice; the input order and contents are untouched.
func Apply(events []*models.CollectionEvent, searchTerm, statusFilter string) []*models.CollectionEvent {
	term := strings.ToLower(strings.TrimSpace(searchTerm))
	status := strings.TrimSpace(statusFilter)

	view := make([]*models.CollectionEvent, 0, len(events))
	for _, ev := range events {
		if status != "" && status != StatusAll && string(ev.Status) != status {
			continue
		}
		if term != "" && !matchesTerm(ev, term) {
			continue
		}
		view = append(view, ev)
	}

	sort.SliceStable(view, func(i, j int) bool {
		if view[i].CreatedAt != view[j].CreatedAt {
			return view[i].CreatedAt > view[j].CreatedAt
		}
		return view[i].ID > view[j].ID
	})
	return view
}

func matchesTerm(ev *models.CollectionEvent, term string) bool {
	return strings.Contains(strings.ToLower(ev.Species), term) ||
		strings.Contains(strings.ToLower(ev.EventID), term) ||
		strings.Contains(strings.ToLower(ev.Quality.Notes), term)
}

// Counts tallies events per lifecycle state for the queue header badges.
func Counts(events []*models.CollectionEvent) map[models.SyncStatus]int {
	counts := map[models.SyncStatus]int{
		models.StatusPending:   0,
		models.StatusUploading: 0,
		models.StatusSynced:    0,
		models.StatusFailed:    0,
	}
	for _, ev := range events {
		counts[ev.Status]++
	}
	return counts
}

// RetryTargets returns the ids of events that are failed at call time.
// "Retry All" acts on exactly this snapshot.
func RetryTargets(events []*models.CollectionEvent) []int64 {
	var ids []int64
	for _, ev := range events {
		if ev.Status == models.StatusFailed {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}
