package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/logging"
	"github.com/traceya/backend/internal/models"
)

// SyncNow handles POST /api/sync/now. A pass already in progress is reported
// back as skipped rather than queued.
func (s *Server) SyncNow(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.SyncData(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SyncStatus handles GET /api/sync/status.
func (s *Server) SyncStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.CountByStatus()
	if err != nil {
		writeError(w, err)
		return
	}

	settings, err := s.store.Settings()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inProgress":      s.manager.IsSyncInProgress(),
		"autoSyncRunning": s.manager.AutoSyncRunning(),
		"counts":          counts,
		"lastSync":        settings.LastSync,
		"syncInterval":    settings.SyncIntervalMin,
	})
}

// RetryAll handles POST /api/sync/retry-all.
func (s *Server) RetryAll(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.RetryAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetSettings handles GET /api/settings.
func (s *Server) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.Settings()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// updateSettingsRequest carries the editable settings fields.
type updateSettingsRequest struct {
	SyncIntervalMin *int    `json:"syncInterval"`
	SMSGateway      *string `json:"smsGateway"`
	Language        *string `json:"language"`
	FarmerID        *string `json:"farmerId"`
}

// UpdateSettings handles PUT /api/settings. Changing the sync interval
// restarts the auto-sync timer on the new cadence.
func (s *Server) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.New(apperrors.ErrValidation, "invalid request body"))
		return
	}

	current, err := s.store.Settings()
	if err != nil {
		writeError(w, err)
		return
	}

	next := current
	if req.SyncIntervalMin != nil {
		next.SyncIntervalMin = *req.SyncIntervalMin
	}
	if req.SMSGateway != nil {
		next.SMSGateway = *req.SMSGateway
	}
	if req.Language != nil {
		next.Language = *req.Language
	}
	if req.FarmerID != nil {
		next.FarmerID = *req.FarmerID
	}

	saved, err := s.store.SaveSettings(next)
	if err != nil {
		writeError(w, err)
		return
	}

	if saved.SyncIntervalMin != current.SyncIntervalMin && s.manager.AutoSyncRunning() {
		s.manager.StartAutoSync(models.SyncInterval(saved.SyncIntervalMin))
		logging.Info("Auto-sync interval changed", map[string]interface{}{
			"minutes": saved.SyncIntervalMin,
		})
	}

	writeJSON(w, http.StatusOK, saved)
}

// ClearData handles POST /api/data/clear. Every stored event and queue entry
// is removed; settings survive.
func (s *Server) ClearData(w http.ResponseWriter, r *http.Request) {
	if s.manager.IsSyncInProgress() {
		writeError(w, apperrors.New(apperrors.ErrSyncInProgress, "cannot clear data while a sync pass is running"))
		return
	}

	if err := s.store.ClearAll(); err != nil {
		writeError(w, err)
		return
	}

	logging.Warn("Local event data cleared", nil)
	w.WriteHeader(http.StatusNoContent)
}
