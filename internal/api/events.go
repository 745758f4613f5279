package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/traceya/backend/internal/db"
	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/logging"
	"github.com/traceya/backend/internal/models"
	"github.com/traceya/backend/internal/queueview"
	"github.com/traceya/backend/internal/sms"
)

// createEventRequest is the capture form submitted by the UI. EventID is
// optional; a missing one is generated server-side so the capture flow never
// blocks on the client producing an identifier.
type createEventRequest struct {
	EventID     string          `json:"eventId"`
	FarmerID    string          `json:"farmerId"`
	Species     string          `json:"species"`
	CollectedAt string          `json:"timestamp"`
	Location    models.Location `json:"location"`
	Quality     models.Quality  `json:"quality"`
	Photos      []models.Photo  `json:"photos"`
}

// CreateEvent handles POST /api/events. The event is stored as pending and
// picked up by the next sync pass; capture never waits on the network.
func (s *Server) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = uuid.NewString()
	}

	ev := &models.CollectionEvent{
		EventID:     eventID,
		FarmerID:    req.FarmerID,
		Species:     req.Species,
		CollectedAt: req.CollectedAt,
		Location:    req.Location,
		Quality:     req.Quality,
		Photos:      req.Photos,
	}

	if err := s.store.CreateEvent(ev); err != nil {
		writeError(w, err)
		return
	}

	logging.Info("Collection event captured", map[string]interface{}{
		"event_id": ev.EventID, "species": ev.Species,
	})
	writeJSON(w, http.StatusCreated, ev)
}

// parseListQuery builds store filters from the request. Out-of-enum sort and
// status values are rejected, not silently defaulted.
func parseListQuery(r *http.Request) ([]db.Filter, db.SortSpec, error) {
	q := r.URL.Query()

	var filters []db.Filter
	if status := q.Get("status"); status != "" && status != queueview.StatusAll {
		st := models.SyncStatus(status)
		if !st.Valid() {
			return nil, db.SortSpec{}, apperrors.New(apperrors.ErrValidation, "unknown status filter: "+status)
		}
		filters = append(filters, &db.StatusFilter{Status: st})
	}
	if farmer := q.Get("farmerId"); farmer != "" {
		filters = append(filters, &db.FarmerFilter{FarmerID: farmer})
	}
	if term := q.Get("search"); strings.TrimSpace(term) != "" {
		filters = append(filters, &db.TextFilter{Term: term})
	}

	sort := db.DefaultSort()
	if field := q.Get("sortBy"); field != "" {
		sf := db.SortField(field)
		if !sf.Valid() {
			return nil, db.SortSpec{}, apperrors.New(apperrors.ErrValidation, "unknown sort field: "+field)
		}
		sort.Field = sf
	}
	switch order := q.Get("sortOrder"); order {
	case "":
	case "asc":
		sort.Descending = false
	case "desc":
		sort.Descending = true
	default:
		return nil, db.SortSpec{}, apperrors.New(apperrors.ErrValidation, "sortOrder must be asc or desc")
	}

	return filters, sort, nil
}

// ListEvents handles GET /api/events.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	filters, sort, err := parseListQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}

	events, err := s.store.QueryEvents(filters, sort)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []*models.CollectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": events})
}

func eventID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.New(apperrors.ErrValidation, "invalid event id: "+raw)
	}
	return id, nil
}

// GetEvent handles GET /api/events/{id}.
func (s *Server) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.store.GetEvent(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// updateEventRequest carries a partial edit; absent fields are untouched.
type updateEventRequest struct {
	FarmerID    *string          `json:"farmerId"`
	Species     *string          `json:"species"`
	CollectedAt *string          `json:"timestamp"`
	Location    *models.Location `json:"location"`
	Quality     *models.Quality  `json:"quality"`
	Photos      []models.Photo   `json:"photos"`
}

// UpdateEvent handles PATCH /api/events/{id}.
func (s *Server) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req updateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	patch := models.EventPatch{
		FarmerID:    req.FarmerID,
		Species:     req.Species,
		CollectedAt: req.CollectedAt,
		Location:    req.Location,
		Quality:     req.Quality,
		Photos:      req.Photos,
	}
	if err := s.store.UpdateEvent(id, patch); err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.store.GetEvent(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// DeleteEvent handles DELETE /api/events/{id}. Deleting an event that is
// already gone succeeds.
func (s *Server) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.DeleteEvent(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryEvent handles POST /api/events/{id}/retry. It attempts the upload
// immediately and returns the event in its post-attempt state.
func (s *Server) RetryEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.manager.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// SendEventSMS handles POST /api/events/{id}/sms. The event is encoded into
// a single compact message and handed to the configured gateway.
func (s *Server) SendEventSMS(w http.ResponseWriter, r *http.Request) {
	id, err := eventID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ev, err := s.store.GetEvent(id)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.gateway == nil {
		writeError(w, apperrors.New(apperrors.ErrSMSNotConfigured, "no SMS gateway available"))
		return
	}

	settings, err := s.store.Settings()
	if err != nil {
		writeError(w, err)
		return
	}

	if err := sms.Send(r.Context(), s.gateway, settings.SMSGateway, ev); err != nil {
		writeError(w, err)
		return
	}

	logging.Info("Event sent over SMS fallback", map[string]interface{}{
		"event_id": ev.EventID,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sent":    true,
		"eventId": ev.EventID,
	})
}

// QueueView handles GET /api/queue. It serves the sync-queue screen: the
// filtered event list plus per-status counts, computed over one snapshot so
// the numbers always agree with the rows shown.
func (s *Server) QueueView(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statusFilter := q.Get("status")
	if statusFilter != "" && statusFilter != queueview.StatusAll && !models.SyncStatus(statusFilter).Valid() {
		writeError(w, apperrors.New(apperrors.ErrValidation, "unknown status filter: "+statusFilter))
		return
	}

	events, err := s.store.QueryEvents(nil, db.DefaultSort())
	if err != nil {
		writeError(w, err)
		return
	}

	visible := queueview.Apply(events, q.Get("search"), statusFilter)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":         visible,
		"counts":       queueview.Counts(events),
		"retryTargets": queueview.RetryTargets(visible),
	})
}
