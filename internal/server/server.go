package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Server wires the remote collection endpoints over a Store.
type Server struct {
	store    *Store
	geofence Geofence
}

// New creates a Server with the default pilot geofence.
func New(store *Store) *Server {
	return &Server{store: store, geofence: DefaultGeofence()}
}

// NewWithGeofence creates a Server with an explicit collection region.
func NewWithGeofence(store *Store, fence Geofence) *Server {
	return &Server{store: store, geofence: fence}
}

// Router returns the chi router for the remote API.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.Health)
		r.Post("/collections", s.CreateCollection)
		r.Get("/collections", s.ListCollections)
		r.Get("/collections/stats", s.CollectionStats)
	})
	return r
}
