// Package sync provides the collection-event synchronization engine.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/models"
)

// Uploader submits one collection event to the remote system of record.
type Uploader interface {
	Submit(ctx context.Context, payload models.SubmitPayload) (*models.SubmitResult, error)
}

// HTTPTransport talks to the remote collection-create endpoint.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport against the given remote base URL.
// A timeout of 0 falls back to 30 seconds.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Submit uploads one event. A 400 reply is surfaced as a VALIDATION_ERROR
// carrying the remote's first field-level message; network failures and any
// other non-2xx reply surface as TRANSPORT_ERROR.
func (t *HTTPTransport) Submit(ctx context.Context, payload models.SubmitPayload) (*models.SubmitResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to encode payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/api/v1/collections", bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrTransport, "remote unreachable", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result models.SubmitResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrTransport, "malformed remote response", err)
		}
		return &result, nil

	case resp.StatusCode == http.StatusBadRequest:
		var payload models.ValidationErrorPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, apperrors.New(apperrors.ErrValidation, "remote rejected event")
		}
		msg := payload.FirstMessage()
		if msg == "" {
			msg = "remote rejected event"
		}
		return nil, apperrors.New(apperrors.ErrValidation, msg)

	default:
		return nil, apperrors.New(apperrors.ErrTransport,
			fmt.Sprintf("remote returned HTTP %d", resp.StatusCode))
	}
}

// PayloadFromEvent extracts the submittable fields of an event.
func PayloadFromEvent(ev *models.CollectionEvent, deviceID string) models.SubmitPayload {
	return models.SubmitPayload{
		EventID:     ev.EventID,
		FarmerID:    ev.FarmerID,
		Species:     ev.Species,
		CollectedAt: ev.CollectedAt,
		Lat:         ev.Location.Lat,
		Lon:         ev.Location.Lon,
		MoisturePct: ev.Quality.MoisturePct,
		Notes:       ev.Quality.Notes,
		Photos:      ev.Photos,
		DeviceID:    deviceID,
	}
}
