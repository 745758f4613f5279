// Package api tests for the device-local REST interface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traceya/backend/internal/db"
	"github.com/traceya/backend/internal/models"
	"github.com/traceya/backend/internal/sms"
	syncmgr "github.com/traceya/backend/internal/sync"
)

// flakyUploader is a switchable fake remote.
type flakyUploader struct {
	mu  sync.Mutex
	err error
}

func (u *flakyUploader) Submit(ctx context.Context, payload models.SubmitPayload) (*models.SubmitResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return nil, u.err
	}
	return &models.SubmitResult{
		EventID: payload.EventID,
		Status:  "recorded",
		TxID:    "0xtx-" + payload.EventID,
	}, nil
}

func (u *flakyUploader) setErr(err error) {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()
}

type fixture struct {
	router   chi.Router
	store    *db.Repository
	manager  *syncmgr.Manager
	uploader *flakyUploader
	gateway  *sms.MockGateway
}

func setup(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.NewMigrator(database.DB).Up())

	store := db.NewRepository(database.DB)
	t.Cleanup(func() { store.Close() })
	_, err = store.EnsureSettings(models.DefaultSettings())
	require.NoError(t, err)

	uploader := &flakyUploader{}
	manager := syncmgr.NewManager(store, uploader, syncmgr.Options{DeviceID: "device-1"})
	t.Cleanup(manager.StopAutoSync)

	gateway := sms.NewMockGateway()
	return &fixture{
		router:   New(store, manager, gateway).Router(),
		store:    store,
		manager:  manager,
		uploader: uploader,
		gateway:  gateway,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) createEvent(t *testing.T, body map[string]interface{}) models.CollectionEvent {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var ev models.CollectionEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ev))
	return ev
}

func captureBody(species string) map[string]interface{} {
	return map[string]interface{}{
		"farmerId":  "farmer-1",
		"species":   species,
		"timestamp": "2026-01-15T09:30:00Z",
		"location":  map[string]float64{"lat": 26.9124, "lon": 75.7873},
		"quality":   map[string]interface{}{"moisturePct": 12.5, "notes": "morning harvest"},
	}
}

func TestCreateEventGeneratesEventID(t *testing.T) {
	f := setup(t)

	ev := f.createEvent(t, captureBody("Ashwagandha"))
	assert.NotEmpty(t, ev.EventID, "a missing eventId is generated")
	assert.Equal(t, models.StatusPending, ev.Status)
	assert.NotZero(t, ev.ID)
}

func TestCreateEventKeepsClientEventID(t *testing.T) {
	f := setup(t)

	body := captureBody("Tulsi")
	body["eventId"] = "client-evt-1"
	ev := f.createEvent(t, body)
	assert.Equal(t, "client-evt-1", ev.EventID)

	// duplicate capture of the same eventId conflicts
	rec := f.do(t, http.MethodPost, "/api/events", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateEventValidation(t *testing.T) {
	f := setup(t)

	body := captureBody("")
	rec := f.do(t, http.MethodPost, "/api/events", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var e errorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	assert.Equal(t, "VALIDATION_ERROR", e.Error.Code)
}

func TestListEvents(t *testing.T) {
	f := setup(t)

	f.createEvent(t, captureBody("Ashwagandha"))
	f.createEvent(t, captureBody("Tulsi"))

	rec := f.do(t, http.MethodGet, "/api/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []*models.CollectionEvent `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Data, 2)

	rec = f.do(t, http.MethodGet, "/api/events?search=tulsi", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Tulsi", resp.Data[0].Species)
}

func TestListEventsRejectsBadQuery(t *testing.T) {
	f := setup(t)

	for _, query := range []string{
		"?status=archived",
		"?sortBy=last_error",
		"?sortOrder=sideways",
	} {
		rec := f.do(t, http.MethodGet, "/api/events"+query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "query %s should be rejected", query)
	}
}

func TestGetEventNotFound(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/api/events/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/events/zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateEvent(t *testing.T) {
	f := setup(t)
	ev := f.createEvent(t, captureBody("Ashwagandha"))

	rec := f.do(t, http.MethodPatch, fmt.Sprintf("/api/events/%d", ev.ID),
		map[string]interface{}{"species": "Brahmi"})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.CollectionEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, "Brahmi", updated.Species)
	assert.Equal(t, "farmer-1", updated.FarmerID, "unpatched fields survive")
	assert.Greater(t, updated.UpdatedAt, ev.UpdatedAt)
}

func TestDeleteEventIdempotent(t *testing.T) {
	f := setup(t)
	ev := f.createEvent(t, captureBody("Ashwagandha"))

	path := fmt.Sprintf("/api/events/%d", ev.ID)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, path, nil).Code)
}

func TestSyncNowAndStatus(t *testing.T) {
	f := setup(t)
	f.createEvent(t, captureBody("Ashwagandha"))

	rec := f.do(t, http.MethodPost, "/api/sync/now", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result syncmgr.SyncResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.Synced)
	assert.True(t, result.Success)

	rec = f.do(t, http.MethodGet, "/api/sync/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		InProgress      bool                      `json:"inProgress"`
		AutoSyncRunning bool                      `json:"autoSyncRunning"`
		Counts          map[models.SyncStatus]int `json:"counts"`
		LastSync        int64                     `json:"lastSync"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.False(t, status.InProgress)
	assert.Equal(t, 1, status.Counts[models.StatusSynced])
	assert.NotZero(t, status.LastSync)
}

func TestRetryFlow(t *testing.T) {
	f := setup(t)
	f.uploader.setErr(errors.New("remote down"))

	ev := f.createEvent(t, captureBody("Ashwagandha"))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/sync/now", nil).Code)

	got, err := f.store.GetEvent(ev.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusFailed, got.Status)

	f.uploader.setErr(nil)
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/events/%d/retry", ev.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var after models.CollectionEvent
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&after))
	assert.Equal(t, models.StatusSynced, after.Status)
	assert.NotEmpty(t, after.TxID)
}

func TestRetryAllEndpoint(t *testing.T) {
	f := setup(t)
	f.uploader.setErr(errors.New("remote down"))

	f.createEvent(t, captureBody("Ashwagandha"))
	f.createEvent(t, captureBody("Tulsi"))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/sync/now", nil).Code)

	f.uploader.setErr(nil)
	rec := f.do(t, http.MethodPost, "/api/sync/retry-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result syncmgr.SyncResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 2, result.Synced)
}

func TestQueueViewEndpoint(t *testing.T) {
	f := setup(t)
	f.uploader.setErr(errors.New("remote down"))

	f.createEvent(t, captureBody("Ashwagandha"))
	f.createEvent(t, captureBody("Tulsi"))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/sync/now", nil).Code)

	rec := f.do(t, http.MethodGet, "/api/queue?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		Data         []*models.CollectionEvent `json:"data"`
		Counts       map[models.SyncStatus]int `json:"counts"`
		RetryTargets []int64                   `json:"retryTargets"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&view))
	assert.Len(t, view.Data, 2)
	assert.Equal(t, 2, view.Counts[models.StatusFailed])
	assert.Len(t, view.RetryTargets, 2)

	rec = f.do(t, http.MethodGet, "/api/queue?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings models.AppSettings
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&settings))
	assert.Equal(t, 15, settings.SyncIntervalMin)

	rec = f.do(t, http.MethodPut, "/api/settings", map[string]interface{}{
		"syncInterval": 30,
		"smsGateway":   "+911234567890",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&settings))
	assert.Equal(t, 30, settings.SyncIntervalMin)
	assert.Equal(t, "+911234567890", settings.SMSGateway)
	assert.Equal(t, "en", settings.Language, "unsent fields keep their values")

	rec = f.do(t, http.MethodPut, "/api/settings", map[string]interface{}{"syncInterval": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendSMS(t *testing.T) {
	f := setup(t)
	ev := f.createEvent(t, captureBody("Ashwagandha"))
	path := fmt.Sprintf("/api/events/%d/sms", ev.ID)

	// no gateway number configured yet
	rec := f.do(t, http.MethodPost, path, nil)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPut, "/api/settings",
		map[string]interface{}{"smsGateway": "+911234567890"}).Code)

	rec = f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	sent := f.gateway.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+911234567890", sent[0].To)
	assert.Contains(t, sent[0].Message, "id:"+ev.EventID)
}

func TestClearData(t *testing.T) {
	f := setup(t)
	f.createEvent(t, captureBody("Ashwagandha"))
	f.createEvent(t, captureBody("Tulsi"))

	rec := f.do(t, http.MethodPost, "/api/data/clear", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	events, err := f.store.QueryEvents(nil, db.DefaultSort())
	require.NoError(t, err)
	assert.Empty(t, events)

	// settings survive the wipe
	rec = f.do(t, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	f := setup(t)
	rec := f.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "traceya")
}
