package server

import (
	"encoding/json"
	"net/http"

	"github.com/traceya/backend/internal/anchor"
	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/logging"
	"github.com/traceya/backend/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeValidationError(w http.ResponseWriter, message string, details []models.ValidationDetail) {
	var payload models.ValidationErrorPayload
	payload.Error.Message = message
	payload.Error.Details = details
	writeJSON(w, http.StatusBadRequest, payload)
}

// CreateCollection handles POST /api/v1/collections.
//
// An already-recorded eventId returns the existing record unchanged, so a
// client that lost the previous acknowledgement can retry the upload without
// creating a duplicate.
func (s *Server) CreateCollection(w http.ResponseWriter, r *http.Request) {
	var payload models.SubmitPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeValidationError(w, "invalid request body", nil)
		return
	}

	if details := validatePayload(payload); len(details) > 0 {
		writeValidationError(w, "collection event rejected", details)
		return
	}

	if existing, err := s.store.GetByEventID(payload.EventID); err == nil {
		writeJSON(w, http.StatusOK, resultFromRecord(existing))
		return
	} else if !apperrors.Is(err, apperrors.ErrNotFound) {
		http.Error(w, "failed to check for existing record", http.StatusInternalServerError)
		return
	}

	validLocation := s.geofence.Contains(payload.Lat, payload.Lon)
	validSeason := inSeason(payload.Species, payload.CollectedAt)

	status := "recorded"
	if !validLocation || !validSeason {
		status = "flagged"
	}

	body, _ := json.Marshal(payload)
	receipt := anchor.Anchor(payload.EventID, body)

	rec := &models.CollectionRecord{
		EventID:         payload.EventID,
		FarmerID:        payload.FarmerID,
		Species:         payload.Species,
		CollectedAt:     payload.CollectedAt,
		Lat:             payload.Lat,
		Lon:             payload.Lon,
		MoisturePct:     payload.MoisturePct,
		Notes:           payload.Notes,
		DeviceID:        payload.DeviceID,
		TxID:            receipt.TxID,
		BlockHash:       receipt.BlockHash,
		IsValidLocation: validLocation,
		IsValidSeason:   validSeason,
		Status:          status,
	}

	if err := s.store.Insert(rec); err != nil {
		if apperrors.Is(err, apperrors.ErrDuplicate) {
			// lost the race with a concurrent upload of the same event
			if existing, gerr := s.store.GetByEventID(payload.EventID); gerr == nil {
				writeJSON(w, http.StatusOK, resultFromRecord(existing))
				return
			}
		}
		logging.Error("Failed to record collection", err,
			map[string]interface{}{"event_id": payload.EventID})
		http.Error(w, "failed to record collection", http.StatusInternalServerError)
		return
	}

	logging.Info("Collection recorded", map[string]interface{}{
		"event_id": rec.EventID, "species": rec.Species, "status": rec.Status,
	})
	writeJSON(w, http.StatusCreated, resultFromRecord(rec))
}

func resultFromRecord(rec *models.CollectionRecord) models.SubmitResult {
	return models.SubmitResult{
		EventID:         rec.EventID,
		Status:          rec.Status,
		TxID:            rec.TxID,
		BlockHash:       rec.BlockHash,
		IsValidLocation: rec.IsValidLocation,
		IsValidSeason:   rec.IsValidSeason,
		CreatedAt:       rec.CreatedAt,
	}
}

// ListCollections handles GET /api/v1/collections with pagination, filters,
// and sorting.
func (s *Server) ListCollections(w http.ResponseWriter, r *http.Request) {
	q, err := ParseListQuery(r.URL.Query())
	if err != nil {
		writeValidationError(w, err.(*apperrors.AppError).Message, nil)
		return
	}

	records, total, err := s.store.List(q)
	if err != nil {
		logging.Error("Failed to list collections", err, nil)
		http.Error(w, "failed to list collections", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*models.CollectionRecord{}
	}

	totalPages := total / q.Limit
	if total%q.Limit != 0 {
		totalPages++
	}

	writeJSON(w, http.StatusOK, models.ListResponse{
		Data: records,
		Pagination: models.Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
		Filters: q.FilterEcho(),
	})
}

// CollectionStats handles GET /api/v1/collections/stats.
func (s *Server) CollectionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats()
	if err != nil {
		logging.Error("Failed to compute stats", err, nil)
		http.Error(w, "failed to compute stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health handles GET /api/v1/health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "traceya-remote"})
}
