// Package api exposes the device-local HTTP interface of the traceya app.
// It serves the UI on localhost; nothing here is reachable from the network
// by default.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/traceya/backend/internal/db"
	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/sms"
	syncmgr "github.com/traceya/backend/internal/sync"
)

// Server bundles the handlers for the device-local API.
type Server struct {
	store   *db.Repository
	manager *syncmgr.Manager
	gateway sms.Gateway
}

// New creates an API server over the local store and sync manager. The SMS
// gateway may be nil when the device has no messaging capability.
func New(store *db.Repository, manager *syncmgr.Manager, gateway sms.Gateway) *Server {
	return &Server{store: store, manager: manager, gateway: gateway}
}

// Router builds the chi router for the local API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.Health)

		r.Route("/events", func(r chi.Router) {
			r.Post("/", s.CreateEvent)
			r.Get("/", s.ListEvents)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.GetEvent)
				r.Patch("/", s.UpdateEvent)
				r.Delete("/", s.DeleteEvent)
				r.Post("/retry", s.RetryEvent)
				r.Post("/sms", s.SendEventSMS)
			})
		})

		r.Get("/queue", s.QueueView)

		r.Route("/sync", func(r chi.Router) {
			r.Post("/now", s.SyncNow)
			r.Get("/status", s.SyncStatus)
			r.Post("/retry-all", s.RetryAll)
		})

		r.Get("/settings", s.GetSettings)
		r.Put("/settings", s.UpdateSettings)

		r.Post("/data/clear", s.ClearData)
	})

	return r
}

// Health handles GET /api/health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "traceya",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON error shape of the local API.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// writeError maps application error codes onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.ErrValidation, apperrors.ErrEventInvalid, apperrors.ErrInvalid:
		status = http.StatusBadRequest
	case apperrors.ErrNotFound, apperrors.ErrEventNotFound:
		status = http.StatusNotFound
	case apperrors.ErrDuplicate, apperrors.ErrConflict, apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrSMSNotConfigured:
		status = http.StatusPreconditionFailed
	case apperrors.ErrTransport, apperrors.ErrSMSFailed:
		status = http.StatusBadGateway
	}

	var body errorBody
	body.Error.Code = string(code)
	body.Error.Message = err.Error()
	if appErr, ok := err.(*apperrors.AppError); ok {
		body.Error.Message = appErr.Message
	}
	writeJSON(w, status, body)
}
