// Package server tests for the mock remote collection service.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceya/backend/internal/models"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	store, err := OpenStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store)
}

func submitPayload(eventID string) models.SubmitPayload {
	return models.SubmitPayload{
		EventID:     eventID,
		FarmerID:    "farmer-1",
		Species:     "Ashwagandha",
		CollectedAt: "2026-01-15T09:30:00Z",
		Lat:         26.9124,
		Lon:         75.7873,
		MoisturePct: 12.5,
		DeviceID:    "device-1",
	}
}

func postCollection(t *testing.T, srv *Server, payload models.SubmitPayload) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/collections", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestCreateCollection(t *testing.T) {
	srv := setupServer(t)

	rec := postCollection(t, srv, submitPayload("evt-1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.SubmitResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, "evt-1", result.EventID)
	assert.Equal(t, "recorded", result.Status)
	assert.True(t, result.IsValidLocation)
	assert.True(t, result.IsValidSeason)
	assert.NotEmpty(t, result.TxID)
	assert.NotEmpty(t, result.BlockHash)
}

func TestCreateCollectionIdempotent(t *testing.T) {
	srv := setupServer(t)

	first := postCollection(t, srv, submitPayload("evt-dup"))
	require.Equal(t, http.StatusCreated, first.Code)
	var created models.SubmitResult
	require.NoError(t, json.NewDecoder(first.Body).Decode(&created))

	// same eventId again: 200 with the original record, not a duplicate
	second := postCollection(t, srv, submitPayload("evt-dup"))
	require.Equal(t, http.StatusOK, second.Code)
	var repeated models.SubmitResult
	require.NoError(t, json.NewDecoder(second.Body).Decode(&repeated))

	assert.Equal(t, created.TxID, repeated.TxID)
	assert.Equal(t, created.BlockHash, repeated.BlockHash)
}

func TestCreateCollectionValidation(t *testing.T) {
	srv := setupServer(t)

	payload := submitPayload("evt-bad")
	payload.Species = ""
	payload.CollectedAt = "yesterday"

	rec := postCollection(t, srv, payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body models.ValidationErrorPayload
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Error.Details, 2)

	fields := []string{body.Error.Details[0].Field, body.Error.Details[1].Field}
	assert.Contains(t, fields, "species")
	assert.Contains(t, fields, "timestamp")
}

func TestCreateCollectionFlagsOutsideGeofence(t *testing.T) {
	srv := setupServer(t)

	payload := submitPayload("evt-abroad")
	payload.Lat = 48.8566 // Paris
	payload.Lon = 2.3522

	rec := postCollection(t, srv, payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.SubmitResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, "flagged", result.Status)
	assert.False(t, result.IsValidLocation)
}

func TestCreateCollectionFlagsOutOfSeason(t *testing.T) {
	srv := setupServer(t)

	payload := submitPayload("evt-summer")
	payload.CollectedAt = "2026-07-15T09:30:00Z" // Ashwagandha window is Oct-Mar

	rec := postCollection(t, srv, payload)
	require.Equal(t, http.StatusCreated, rec.Code)

	var result models.SubmitResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, "flagged", result.Status)
	assert.False(t, result.IsValidSeason)
	assert.True(t, result.IsValidLocation)
}

func TestListCollections(t *testing.T) {
	srv := setupServer(t)

	for i := 0; i < 5; i++ {
		payload := submitPayload(fmt.Sprintf("evt-%d", i))
		if i%2 == 0 {
			payload.Species = "Tulsi"
			payload.CollectedAt = "2026-07-15T09:30:00Z"
		}
		require.Equal(t, http.StatusCreated, postCollection(t, srv, payload).Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collections?species=Tulsi&limit=2", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Data, 2)
	assert.Equal(t, 3, resp.Pagination.Total)
	assert.Equal(t, 2, resp.Pagination.TotalPages)
	assert.Equal(t, "Tulsi", resp.Filters["species"])

	// second page holds the remainder
	req = httptest.NewRequest(http.MethodGet, "/api/v1/collections?species=Tulsi&limit=2&page=2", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Data, 1)
}

func TestListCollectionsRejectsBadQuery(t *testing.T) {
	srv := setupServer(t)

	for _, query := range []string{
		"?page=0",
		"?page=abc",
		"?limit=1000",
		"?status=bogus",
		"?sortBy=last_error",
		"?sortOrder=sideways",
		"?from=yesterday",
		"?from=2026-02-01T00:00:00Z&to=2026-01-01T00:00:00Z",
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/collections"+query, nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %s should be rejected", query)
	}
}

func TestListCollectionsEmpty(t *testing.T) {
	srv := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collections", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ListResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotNil(t, resp.Data)
	assert.Empty(t, resp.Data)
	assert.Equal(t, 0, resp.Pagination.Total)
}

func TestCollectionStats(t *testing.T) {
	srv := setupServer(t)

	require.Equal(t, http.StatusCreated, postCollection(t, srv, submitPayload("evt-1")).Code)
	abroad := submitPayload("evt-2")
	abroad.Lat, abroad.Lon = 48.8566, 2.3522
	require.Equal(t, http.StatusCreated, postCollection(t, srv, abroad).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/collections/stats", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus["recorded"])
	assert.Equal(t, 1, stats.ByStatus["flagged"])
	assert.Equal(t, 2, stats.BySpecies["Ashwagandha"])
}

func TestHealth(t *testing.T) {
	srv := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
