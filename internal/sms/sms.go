// Package sms provides the alternate-channel send path for collection events.
// When a farmer cannot sync over data, the queue page offers sending the
// event as a compact SMS to the configured gateway number. The gateway
// itself is a mock; only the encoding and the command surface are real.
package sms

import (
	"context"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/logging"
	"github.com/traceya/backend/internal/models"
)

// Gateway delivers an SMS to a recipient number.
type Gateway interface {
	Send(ctx context.Context, to, message string) error
}

// Encode renders an event as the compact key:value SMS form. Notes are
// truncated to keep the message within a small number of segments.
func Encode(ev *models.CollectionEvent) string {
	notes := ev.Quality.Notes
	if len(notes) > 40 {
		notes = notes[:40]
	}
	parts := []string{
		"TRACEYA",
		"id:" + ev.EventID,
		"sp:" + ev.Species,
		fmt.Sprintf("loc:%.5f,%.5f", ev.Location.Lat, ev.Location.Lon),
		"ts:" + ev.CollectedAt,
		fmt.Sprintf("mo:%.1f", ev.Quality.MoisturePct),
	}
	if notes != "" {
		parts = append(parts, "nt:"+notes)
	}
	return strings.Join(parts, ";")
}

// Send encodes and delivers one event through the gateway.
func Send(ctx context.Context, gw Gateway, gatewayNumber string, ev *models.CollectionEvent) error {
	if strings.TrimSpace(gatewayNumber) == "" {
		return apperrors.New(apperrors.ErrSMSNotConfigured, "no SMS gateway configured")
	}
	if err := gw.Send(ctx, gatewayNumber, Encode(ev)); err != nil {
		return apperrors.Wrap(apperrors.ErrSMSFailed, "SMS send failed", err)
	}
	return nil
}

// MockGateway records sends in memory.
type MockGateway struct {
	mu    sync.Mutex
	sends []SentMessage
}

// SentMessage is one recorded mock delivery.
type SentMessage struct {
	To      string
	Message string
}

// NewMockGateway creates an empty mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{}
}

// Send records the message and logs it.
func (g *MockGateway) Send(ctx context.Context, to, message string) error {
	g.mu.Lock()
	g.sends = append(g.sends, SentMessage{To: to, Message: message})
	g.mu.Unlock()

	logging.Info("Mock SMS sent",
		map[string]interface{}{"to": to, "length": len(message)})
	return nil
}

// Sent returns a copy of all recorded sends.
func (g *MockGateway) Sent() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]SentMessage, len(g.sends))
	copy(out, g.sends)
	return out
}
