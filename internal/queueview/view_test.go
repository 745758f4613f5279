package queueview

import (
	"testing"

	"github.com/traceya/backend/internal/models"
)

func fixture() []*models.CollectionEvent {
	return []*models.CollectionEvent{
		{ID: 1, EventID: "evt-1", Species: "Ashwagandha", Status: models.StatusSynced, CreatedAt: 100},
		{ID: 2, EventID: "evt-2", Species: "Tulsi", Status: models.StatusFailed, CreatedAt: 200,
			Quality: models.Quality{Notes: "wet batch"}},
		{ID: 3, EventID: "evt-3", Species: "Brahmi", Status: models.StatusPending, CreatedAt: 300},
		{ID: 4, EventID: "evt-4", Species: "Tulsi", Status: models.StatusFailed, CreatedAt: 300},
	}
}

func TestApplyOrdersNewestFirst(t *testing.T) {
	view := Apply(fixture(), "", StatusAll)
	if len(view) != 4 {
		t.Fatalf("View size = %d, want 4", len(view))
	}
	// same timestamp breaks ties by id, newest insert first
	want := []int64{4, 3, 2, 1}
	for i, id := range want {
		if view[i].ID != id {
			t.Errorf("view[%d].ID = %d, want %d", i, view[i].ID, id)
		}
	}
}

func TestApplyStatusFilter(t *testing.T) {
	view := Apply(fixture(), "", string(models.StatusFailed))
	if len(view) != 2 {
		t.Fatalf("Failed view size = %d, want 2", len(view))
	}
	for _, ev := range view {
		if ev.Status != models.StatusFailed {
			t.Errorf("Event %s leaked into failed view", ev.EventID)
		}
	}
}

func TestApplySearchTerm(t *testing.T) {
	// species match, case-insensitive
	bySpecies := Apply(fixture(), "TULSI", StatusAll)
	if len(bySpecies) != 2 {
		t.Errorf("Species search returned %d events, want 2", len(bySpecies))
	}

	// notes match
	byNotes := Apply(fixture(), "wet", StatusAll)
	if len(byNotes) != 1 || byNotes[0].EventID != "evt-2" {
		t.Error("Notes search should find evt-2")
	}

	// event id match
	byID := Apply(fixture(), "evt-3", StatusAll)
	if len(byID) != 1 || byID[0].ID != 3 {
		t.Error("Event id search should find evt-3")
	}

	// combined with status
	combined := Apply(fixture(), "tulsi", string(models.StatusFailed))
	if len(combined) != 2 {
		t.Errorf("Combined filter returned %d events, want 2", len(combined))
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	events := fixture()
	Apply(events, "", StatusAll)
	if events[0].ID != 1 || events[3].ID != 4 {
		t.Error("Apply must not reorder the input slice")
	}
}

func TestCounts(t *testing.T) {
	counts := Counts(fixture())
	if counts[models.StatusFailed] != 2 {
		t.Errorf("failed = %d, want 2", counts[models.StatusFailed])
	}
	if counts[models.StatusPending] != 1 {
		t.Errorf("pending = %d, want 1", counts[models.StatusPending])
	}
	if counts[models.StatusUploading] != 0 {
		t.Errorf("uploading = %d, want 0", counts[models.StatusUploading])
	}

	// all four states always present for the badges
	if len(counts) != 4 {
		t.Errorf("Counts has %d keys, want 4", len(counts))
	}
}

func TestRetryTargets(t *testing.T) {
	ids := RetryTargets(fixture())
	if len(ids) != 2 {
		t.Fatalf("Retry targets = %v, want the two failed ids", ids)
	}
	for _, id := range ids {
		if id != 2 && id != 4 {
			t.Errorf("Unexpected retry target %d", id)
		}
	}

	if RetryTargets(nil) != nil {
		t.Error("No events means no retry targets")
	}
}
