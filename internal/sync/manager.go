package sync

import (
	"context"
	"sync"
	"time"

	"github.com/traceya/backend/internal/db"
	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/logging"
	"github.com/traceya/backend/internal/models"
)

// WebSocket event types pushed to UI clients.
const (
	EventSyncStarted   = "sync.started"
	EventSyncCompleted = "sync.completed"
	EventSyncFailed    = "sync.failed"
	EventUpdated       = "event.updated"
)

// Broadcaster pushes sync lifecycle events to connected UI clients.
type Broadcaster interface {
	Broadcast(messageType string, data map[string]interface{})
}

// SyncResult aggregates the outcome of a sync pass.
type SyncResult struct {
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped"`
	Success bool `json:"success"`
}

// Manager orchestrates batched upload of pending and failed events. It holds
// only transient in-flight state; everything durable lives in the store.
//
// Whole-batch passes are mutually exclusive through the in-progress flag.
// Per-event retries bypass the flag; the store's guarded status transitions
// keep any combination of racing passes and retries at-most-once per event.
type Manager struct {
	store     *db.Repository
	transport Uploader
	hub       Broadcaster
	deviceID  string

	// Failed events with retryCount at or above this are left for manual
	// retry during scheduled passes. 0 means no cap.
	maxAutoRetries int

	passTimeout time.Duration

	mu         sync.Mutex
	inProgress bool

	timerMu sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Options tune manager behavior beyond its dependencies.
type Options struct {
	DeviceID       string
	MaxAutoRetries int           // 0 = unlimited
	PassTimeout    time.Duration // timeout for one scheduled pass
}

// NewManager creates a Manager. Dependencies are injected; there is no
// package-level instance.
func NewManager(store *db.Repository, transport Uploader, opts Options) *Manager {
	if opts.PassTimeout <= 0 {
		opts.PassTimeout = 5 * time.Minute
	}
	return &Manager{
		store:          store,
		transport:      transport,
		deviceID:       opts.DeviceID,
		maxAutoRetries: opts.MaxAutoRetries,
		passTimeout:    opts.PassTimeout,
	}
}

// SetBroadcaster attaches the WebSocket hub for sync lifecycle events.
func (m *Manager) SetBroadcaster(hub Broadcaster) {
	m.hub = hub
}

// IsSyncInProgress reports whether a whole-batch pass is currently running.
func (m *Manager) IsSyncInProgress() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inProgress
}

func (m *Manager) beginPass() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inProgress {
		return false
	}
	m.inProgress = true
	return true
}

func (m *Manager) endPass() {
	m.mu.Lock()
	m.inProgress = false
	m.mu.Unlock()
}

func (m *Manager) broadcast(messageType string, data map[string]interface{}) {
	if m.hub != nil {
		m.hub.Broadcast(messageType, data)
	}
}

// uploadOutcome is the per-event result of one upload attempt.
type uploadOutcome int

const (
	outcomeSynced uploadOutcome = iota
	outcomeFailed
	outcomeSkipped
)

// uploadOne drives a single event through uploading and into a terminal
// state for this attempt. The transition into uploading is the commit point:
// losing that race means another actor owns the event and we skip it.
func (m *Manager) uploadOne(ctx context.Context, ev *models.CollectionEvent) uploadOutcome {
	if err := m.store.MarkUploading(ev.ID); err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) || apperrors.Is(err, apperrors.ErrEventNotFound) {
			logging.Debug("Skipping event, status changed",
				map[string]interface{}{"event_id": ev.EventID})
			return outcomeSkipped
		}
		logging.Error("Failed to mark event uploading", err,
			map[string]interface{}{"event_id": ev.EventID})
		return outcomeSkipped
	}
	m.broadcast(EventUpdated, map[string]interface{}{
		"id": ev.ID, "eventId": ev.EventID, "status": string(models.StatusUploading),
	})

	result, err := m.transport.Submit(ctx, PayloadFromEvent(ev, m.deviceID))
	if err != nil {
		msg := err.Error()
		if appErr, ok := err.(*apperrors.AppError); ok {
			msg = appErr.Message
		}
		if ferr := m.store.MarkFailed(ev.ID, msg); ferr != nil {
			// status moved under us; next pass reconciles
			logging.Warn("Could not record failure",
				map[string]interface{}{"event_id": ev.EventID, "error": ferr.Error()})
			return outcomeSkipped
		}
		m.broadcast(EventUpdated, map[string]interface{}{
			"id": ev.ID, "eventId": ev.EventID, "status": string(models.StatusFailed), "lastError": msg,
		})
		return outcomeFailed
	}

	if err := m.store.MarkSynced(ev.ID, result.TxID, result.BlockHash); err != nil {
		logging.Warn("Could not record sync acknowledgement",
			map[string]interface{}{"event_id": ev.EventID, "error": err.Error()})
		return outcomeSkipped
	}
	m.broadcast(EventUpdated, map[string]interface{}{
		"id": ev.ID, "eventId": ev.EventID, "status": string(models.StatusSynced), "txId": result.TxID,
	})
	return outcomeSynced
}

// SyncData runs one whole-batch pass over every pending and failed event.
// If a pass is already in progress it returns immediately with Skipped=true.
func (m *Manager) SyncData(ctx context.Context) (SyncResult, error) {
	if !m.beginPass() {
		return SyncResult{Skipped: true}, nil
	}
	defer m.endPass()

	m.broadcast(EventSyncStarted, nil)
	logging.Info("Sync pass started", nil)

	events, err := m.store.PendingOrFailed()
	if err != nil {
		m.broadcast(EventSyncFailed, map[string]interface{}{"error": err.Error()})
		return SyncResult{}, err
	}

	var result SyncResult
	for _, ev := range events {
		select {
		case <-ctx.Done():
			result.Success = result.Failed == 0
			m.broadcast(EventSyncFailed, map[string]interface{}{"error": ctx.Err().Error()})
			return result, apperrors.Wrap(apperrors.ErrSyncFailed, "sync pass interrupted", ctx.Err())
		default:
		}

		if m.maxAutoRetries > 0 && ev.Status == models.StatusFailed && ev.RetryCount >= m.maxAutoRetries {
			// left for manual retry
			continue
		}

		switch m.uploadOne(ctx, ev) {
		case outcomeSynced:
			result.Synced++
		case outcomeFailed:
			result.Failed++
		}
	}

	if result.Synced > 0 {
		if err := m.store.TouchLastSync(time.Now().UnixMilli()); err != nil {
			logging.Warn("Could not record last sync time",
				map[string]interface{}{"error": err.Error()})
		}
	}

	result.Success = result.Failed == 0
	m.broadcast(EventSyncCompleted, map[string]interface{}{
		"synced": result.Synced, "failed": result.Failed,
	})
	logging.Info("Sync pass completed",
		map[string]interface{}{"synced": result.Synced, "failed": result.Failed})
	return result, nil
}

// Retry re-attempts a single event. The event's status is re-read at
// execution time: only pending and failed events proceed, a synced or
// uploading event is left untouched. Safe to call while a batch pass runs.
func (m *Manager) Retry(ctx context.Context, id int64) (*models.CollectionEvent, error) {
	ev, err := m.store.GetEvent(id)
	if err != nil {
		return nil, err
	}

	if ev.Status != models.StatusPending && ev.Status != models.StatusFailed {
		return ev, nil
	}

	m.uploadOne(ctx, ev)
	return m.store.GetEvent(id)
}

// RetryAll sequentially retries every event that is failed right now.
// Each retry re-checks status through the guarded transition, so events a
// concurrent pass already synced are skipped, not double-processed.
func (m *Manager) RetryAll(ctx context.Context) (SyncResult, error) {
	failed, err := m.store.QueryEvents(
		[]db.Filter{&db.StatusFilter{Status: models.StatusFailed}}, db.DefaultSort())
	if err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	for _, ev := range failed {
		select {
		case <-ctx.Done():
			result.Success = result.Failed == 0
			return result, apperrors.Wrap(apperrors.ErrSyncFailed, "retry all interrupted", ctx.Err())
		default:
		}

		switch m.uploadOne(ctx, ev) {
		case outcomeSynced:
			result.Synced++
		case outcomeFailed:
			result.Failed++
		}
	}

	result.Success = result.Failed == 0
	return result, nil
}

// =====================================================
// Auto-sync timer
// =====================================================

// StartAutoSync starts the recurring sync timer. Starting while a timer is
// already running stops the previous one first, so timers never accumulate.
// Changing the interval is stop-then-restart.
func (m *Manager) StartAutoSync(interval time.Duration) {
	if interval <= 0 {
		return
	}

	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	m.stopTimerLocked()

	stopCh := make(chan struct{})
	m.stopCh = stopCh
	m.running = true
	m.wg.Add(1)
	go m.autoSyncLoop(interval, stopCh)

	logging.Info("Auto-sync started",
		map[string]interface{}{"interval_minutes": interval.Minutes()})
}

// StopAutoSync stops the recurring timer. When it returns, the timer
// goroutine has exited and no further pass will fire.
func (m *Manager) StopAutoSync() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	m.stopTimerLocked()
}

// AutoSyncRunning reports whether the recurring timer is active.
func (m *Manager) AutoSyncRunning() bool {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	return m.running
}

func (m *Manager) stopTimerLocked() {
	if !m.running {
		return
	}
	close(m.stopCh)
	m.wg.Wait()
	m.running = false
	logging.Info("Auto-sync stopped", nil)
}

func (m *Manager) autoSyncLoop(interval time.Duration, stopCh chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if m.IsSyncInProgress() {
				logging.Debug("Sync already in progress, skipping tick", nil)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), m.passTimeout)
			if _, err := m.SyncData(ctx); err != nil {
				logging.Error("Scheduled sync failed", err, nil)
			}
			cancel()
		}
	}
}
