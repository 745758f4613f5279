// Package db provides CRUD repository operations for the traceya local store.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/models"
)

// Repository provides the Local Event Store operations. It exclusively owns
// persisted state; callers never mutate rows behind its back.
type Repository struct {
	db *sql.DB

	// Prepared statement cache for frequently used queries.
	// Statements are prepared on first use and reused.
	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from the cache.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

const eventColumns = `id, event_id, farmer_id, species, collected_at, lat, lon,
	moisture_pct, notes, photos, status, last_error, retry_count,
	tx_id, block_hash, synced_at, created_at, updated_at`

// =====================================================
// CollectionEvent Operations
// =====================================================

// CreateEvent inserts a new event with status=pending and mirrors it into the
// sync queue. Required fields are species, location, and eventId.
func (r *Repository) CreateEvent(ev *models.CollectionEvent) error {
	if strings.TrimSpace(ev.EventID) == "" {
		return apperrors.New(apperrors.ErrValidation, "eventId is required")
	}
	if strings.TrimSpace(ev.Species) == "" {
		return apperrors.New(apperrors.ErrValidation, "species is required")
	}
	if ev.Location.Lat == 0 && ev.Location.Lon == 0 {
		return apperrors.New(apperrors.ErrValidation, "location is required")
	}

	photos, err := ev.PhotosJSON()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrValidation, "invalid photo references", err)
	}

	now := nowMillis()
	ev.Status = models.StatusPending
	ev.RetryCount = 0
	ev.CreatedAt = now
	ev.UpdatedAt = now

	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
	INSERT INTO collection_events (event_id, farmer_id, species, collected_at, lat, lon,
		moisture_pct, notes, photos, status, retry_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.FarmerID, ev.Species, ev.CollectedAt, ev.Location.Lat, ev.Location.Lon,
		ev.Quality.MoisturePct, ev.Quality.Notes, string(photos), ev.Status, ev.RetryCount,
		ev.CreatedAt, ev.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Wrap(apperrors.ErrDuplicate, "eventId already exists", err)
		}
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to insert event", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read insert id", err)
	}
	ev.ID = id

	if _, err := tx.Exec(
		"INSERT INTO sync_queue (event_id, enqueued_at) VALUES (?, ?)", ev.EventID, now,
	); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to enqueue event", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit event", err)
	}
	return nil
}

func scanEvent(scan func(dest ...interface{}) error) (*models.CollectionEvent, error) {
	var ev models.CollectionEvent
	var photos string
	var lastError, txID, blockHash sql.NullString
	var syncedAt sql.NullInt64

	err := scan(
		&ev.ID, &ev.EventID, &ev.FarmerID, &ev.Species, &ev.CollectedAt,
		&ev.Location.Lat, &ev.Location.Lon, &ev.Quality.MoisturePct, &ev.Quality.Notes,
		&photos, &ev.Status, &lastError, &ev.RetryCount,
		&txID, &blockHash, &syncedAt, &ev.CreatedAt, &ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastError.Valid {
		ev.LastError = lastError.String
	}
	if txID.Valid {
		ev.TxID = txID.String
	}
	if blockHash.Valid {
		ev.BlockHash = blockHash.String
	}
	if syncedAt.Valid {
		ev.SyncedAt = syncedAt.Int64
	}
	if photos != "" {
		if err := json.Unmarshal([]byte(photos), &ev.Photos); err != nil {
			return nil, fmt.Errorf("corrupt photo references for event %d: %w", ev.ID, err)
		}
	}
	return &ev, nil
}

// GetEvent retrieves an event by local id.
func (r *Repository) GetEvent(id int64) (*models.CollectionEvent, error) {
	stmt, err := r.PrepareStmt("SELECT " + eventColumns + " FROM collection_events WHERE id = ?")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to prepare query", err)
	}

	ev, err := scanEvent(stmt.QueryRow(id).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrEventNotFound, fmt.Sprintf("event %d not found", id))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load event", err)
	}
	return ev, nil
}

// GetEventByEventID retrieves an event by its stable client-generated id.
func (r *Repository) GetEventByEventID(eventID string) (*models.CollectionEvent, error) {
	stmt, err := r.PrepareStmt("SELECT " + eventColumns + " FROM collection_events WHERE event_id = ?")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to prepare query", err)
	}

	ev, err := scanEvent(stmt.QueryRow(eventID).Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrEventNotFound, fmt.Sprintf("event %s not found", eventID))
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load event", err)
	}
	return ev, nil
}

// QueryEvents returns events matching the given filters in the given order.
func (r *Repository) QueryEvents(filters []Filter, sort SortSpec) ([]*models.CollectionEvent, error) {
	where, args := buildWhere(filters)
	query := "SELECT " + eventColumns + " FROM collection_events" + where + " ORDER BY " + sort.SQL()

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query events", err)
	}
	defer rows.Close()

	var events []*models.CollectionEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate events", err)
	}
	return events, nil
}

// PendingOrFailed returns every event eligible for a sync pass, oldest first.
func (r *Repository) PendingOrFailed() ([]*models.CollectionEvent, error) {
	query := "SELECT " + eventColumns + ` FROM collection_events
	WHERE status IN ('pending', 'failed') ORDER BY created_at ASC, id ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to query sync candidates", err)
	}
	defer rows.Close()

	var events []*models.CollectionEvent
	for rows.Next() {
		ev, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan event", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate events", err)
	}
	return events, nil
}

// UpdateEvent applies a partial update to an event's capture fields. The
// update is a single guarded statement; sync bookkeeping fields are only
// mutable through the Mark* transitions.
func (r *Repository) UpdateEvent(id int64, patch models.EventPatch) error {
	var sets []string
	var args []interface{}

	if patch.FarmerID != nil {
		sets = append(sets, "farmer_id = ?")
		args = append(args, *patch.FarmerID)
	}
	if patch.Species != nil {
		if strings.TrimSpace(*patch.Species) == "" {
			return apperrors.New(apperrors.ErrValidation, "species must not be blank")
		}
		sets = append(sets, "species = ?")
		args = append(args, *patch.Species)
	}
	if patch.CollectedAt != nil {
		sets = append(sets, "collected_at = ?")
		args = append(args, *patch.CollectedAt)
	}
	if patch.Location != nil {
		sets = append(sets, "lat = ?", "lon = ?")
		args = append(args, patch.Location.Lat, patch.Location.Lon)
	}
	if patch.Quality != nil {
		sets = append(sets, "moisture_pct = ?", "notes = ?")
		args = append(args, patch.Quality.MoisturePct, patch.Quality.Notes)
	}
	if patch.Photos != nil {
		photos, err := json.Marshal(patch.Photos)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrValidation, "invalid photo references", err)
		}
		sets = append(sets, "photos = ?")
		args = append(args, string(photos))
	}

	if len(sets) == 0 {
		// Nothing to change; still verify the row exists
		_, err := r.GetEvent(id)
		return err
	}

	// updated_at strictly increases on every mutation
	sets = append(sets, "updated_at = MAX(?, updated_at + 1)")
	args = append(args, nowMillis(), id)

	result, err := r.db.Exec(
		"UPDATE collection_events SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to update event", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.New(apperrors.ErrEventNotFound, fmt.Sprintf("event %d not found", id))
	}
	return nil
}

// DeleteEvent removes an event. Deleting a missing id is a no-op so the UI
// can double-invoke without error.
func (r *Repository) DeleteEvent(id int64) error {
	// sync_queue row goes with it via ON DELETE CASCADE
	if _, err := r.db.Exec("DELETE FROM collection_events WHERE id = ?", id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete event", err)
	}
	return nil
}

// ClearAll wipes all collection events and queue entries. Irreversible;
// only invoked from the explicit data-reset flow.
func (r *Repository) ClearAll() error {
	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sync_queue"); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear sync queue", err)
	}
	if _, err := tx.Exec("DELETE FROM collection_events"); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to clear events", err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit clear", err)
	}
	return nil
}

// CountByStatus returns event counts per lifecycle state.
func (r *Repository) CountByStatus() (map[models.SyncStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM collection_events GROUP BY status")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to count events", err)
	}
	defer rows.Close()

	counts := map[models.SyncStatus]int{
		models.StatusPending:   0,
		models.StatusUploading: 0,
		models.StatusSynced:    0,
		models.StatusFailed:    0,
	}
	for rows.Next() {
		var status models.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// =====================================================
// Status Transitions
// =====================================================
//
// Transitions are conditional UPDATEs guarded by the current status. A sync
// pass and a manual retry racing for the same event cannot both win: the
// loser's UPDATE affects zero rows and surfaces as CONFLICT. This is the
// re-read-before-transition rule expressed at the store boundary, so a stale
// in-memory copy held across an awaited upload can never clobber a newer
// state.

// MarkUploading transitions an event from pending or failed to uploading.
func (r *Repository) MarkUploading(id int64) error {
	result, err := r.db.Exec(`
	UPDATE collection_events
	SET status = 'uploading', updated_at = MAX(?, updated_at + 1)
	WHERE id = ? AND status IN ('pending', 'failed')
	`, nowMillis(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark uploading", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.transitionConflict(id)
	}
	return nil
}

// MarkSynced transitions an event from uploading to synced, records the
// server acknowledgement, clears lastError, and removes the queue entry.
func (r *Repository) MarkSynced(id int64, txID, blockHash string) error {
	now := nowMillis()

	tx, err := r.db.Begin()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
	UPDATE collection_events
	SET status = 'synced', tx_id = ?, block_hash = ?, synced_at = ?,
		last_error = NULL, updated_at = MAX(?, updated_at + 1)
	WHERE id = ? AND status = 'uploading'
	`, txID, blockHash, now, now, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark synced", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.transitionConflict(id)
	}

	if _, err := tx.Exec(`
	DELETE FROM sync_queue
	WHERE event_id = (SELECT event_id FROM collection_events WHERE id = ?)
	`, id); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to dequeue event", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to commit transition", err)
	}
	return nil
}

// MarkFailed transitions an event from uploading to failed, increments
// retryCount, and records a human-readable error. The event stays locally
// intact for later retry.
func (r *Repository) MarkFailed(id int64, message string) error {
	if message == "" {
		message = "sync failed"
	}
	result, err := r.db.Exec(`
	UPDATE collection_events
	SET status = 'failed', retry_count = retry_count + 1, last_error = ?,
		updated_at = MAX(?, updated_at + 1)
	WHERE id = ? AND status = 'uploading'
	`, message, nowMillis(), id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to mark failed", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return r.transitionConflict(id)
	}
	return nil
}

// transitionConflict distinguishes a missing row from a lost transition race.
func (r *Repository) transitionConflict(id int64) error {
	var status string
	err := r.db.QueryRow("SELECT status FROM collection_events WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return apperrors.New(apperrors.ErrEventNotFound, fmt.Sprintf("event %d not found", id))
	}
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read event status", err)
	}
	return apperrors.New(apperrors.ErrConflict,
		fmt.Sprintf("event %d status changed to %s during sync", id, status))
}

// =====================================================
// AppSettings Operations
// =====================================================

// EnsureSettings creates the singleton settings row with defaults if it does
// not exist yet, and returns the current settings.
func (r *Repository) EnsureSettings(defaults models.AppSettings) (models.AppSettings, error) {
	now := nowMillis()
	_, err := r.db.Exec(`
	INSERT INTO app_settings (id, sync_interval_min, sms_gateway, language, farmer_id, created_at, updated_at)
	VALUES (1, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`, defaults.SyncIntervalMin, defaults.SMSGateway, defaults.Language, defaults.FarmerID, now, now)
	if err != nil {
		return models.AppSettings{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to ensure settings", err)
	}
	return r.Settings()
}

// Settings returns the singleton settings row.
func (r *Repository) Settings() (models.AppSettings, error) {
	var s models.AppSettings
	var lastSync sql.NullInt64
	err := r.db.QueryRow(`
	SELECT sync_interval_min, sms_gateway, language, farmer_id, last_sync, created_at, updated_at
	FROM app_settings WHERE id = 1
	`).Scan(&s.SyncIntervalMin, &s.SMSGateway, &s.Language, &s.FarmerID, &lastSync, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return models.AppSettings{}, apperrors.New(apperrors.ErrNotFound, "settings not initialized")
	}
	if err != nil {
		return models.AppSettings{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to load settings", err)
	}
	if lastSync.Valid {
		s.LastSync = lastSync.Int64
	}
	return s, nil
}

// SaveSettings replaces the settings row with the given value. Settings are
// value-replaced, never mutated in place, so readers only ever see complete
// snapshots.
func (r *Repository) SaveSettings(s models.AppSettings) (models.AppSettings, error) {
	if s.SyncIntervalMin <= 0 {
		return models.AppSettings{}, apperrors.New(apperrors.ErrValidation, "syncInterval must be positive")
	}
	result, err := r.db.Exec(`
	UPDATE app_settings
	SET sync_interval_min = ?, sms_gateway = ?, language = ?, farmer_id = ?,
		updated_at = MAX(?, updated_at + 1)
	WHERE id = 1
	`, s.SyncIntervalMin, s.SMSGateway, s.Language, s.FarmerID, nowMillis())
	if err != nil {
		return models.AppSettings{}, apperrors.Wrap(apperrors.ErrDatabase, "failed to save settings", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return models.AppSettings{}, apperrors.New(apperrors.ErrNotFound, "settings not initialized")
	}
	return r.Settings()
}

// TouchLastSync records the completion time of the latest successful sync pass.
func (r *Repository) TouchLastSync(at int64) error {
	_, err := r.db.Exec(`
	UPDATE app_settings SET last_sync = ?, updated_at = MAX(?, updated_at + 1) WHERE id = 1
	`, at, nowMillis())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to record last sync", err)
	}
	return nil
}
