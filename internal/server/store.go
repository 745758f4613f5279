// Package server implements the mock remote system of record: the
// collection-create, collection-list, and collection-stats endpoints the
// device-local sync manager and the researcher dashboard talk to.
package server

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/traceya/backend/internal/errors"
	"github.com/traceya/backend/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS collections (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    farmer_id TEXT NOT NULL DEFAULT '',
    species TEXT NOT NULL,
    collected_at TEXT NOT NULL DEFAULT '',
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    moisture_pct REAL NOT NULL DEFAULT 0,
    notes TEXT NOT NULL DEFAULT '',
    device_id TEXT NOT NULL DEFAULT '',
    tx_id TEXT NOT NULL,
    block_hash TEXT NOT NULL,
    is_valid_location INTEGER NOT NULL DEFAULT 1,
    is_valid_season INTEGER NOT NULL DEFAULT 1,
    status TEXT NOT NULL DEFAULT 'recorded'
        CHECK(status IN ('recorded', 'flagged')),
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_collections_species ON collections(species);
CREATE INDEX IF NOT EXISTS idx_collections_status ON collections(status);
CREATE INDEX IF NOT EXISTS idx_collections_created ON collections(created_at DESC);
`

// Store persists accepted collection records.
type Store struct {
	db *sql.DB
}

// OpenStore opens the server-of-record database and ensures its schema.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "traceya-remote.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const recordColumns = `id, event_id, farmer_id, species, collected_at, lat, lon,
	moisture_pct, notes, device_id, tx_id, block_hash,
	is_valid_location, is_valid_season, status, created_at`

func scanRecord(scan func(dest ...interface{}) error) (*models.CollectionRecord, error) {
	var rec models.CollectionRecord
	err := scan(
		&rec.ID, &rec.EventID, &rec.FarmerID, &rec.Species, &rec.CollectedAt,
		&rec.Lat, &rec.Lon, &rec.MoisturePct, &rec.Notes, &rec.DeviceID,
		&rec.TxID, &rec.BlockHash, &rec.IsValidLocation, &rec.IsValidSeason,
		&rec.Status, &rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByEventID returns the record for a client event id.
func (s *Store) GetByEventID(eventID string) (*models.CollectionRecord, error) {
	row := s.db.QueryRow("SELECT "+recordColumns+" FROM collections WHERE event_id = ?", eventID)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.ErrNotFound, "collection not found")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load collection", err)
	}
	return rec, nil
}

// Insert stores an accepted record and fills in its server id.
func (s *Store) Insert(rec *models.CollectionRecord) error {
	rec.CreatedAt = time.Now().UnixMilli()

	res, err := s.db.Exec(`
	INSERT INTO collections (event_id, farmer_id, species, collected_at, lat, lon,
		moisture_pct, notes, device_id, tx_id, block_hash,
		is_valid_location, is_valid_season, status, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.EventID, rec.FarmerID, rec.Species, rec.CollectedAt, rec.Lat, rec.Lon,
		rec.MoisturePct, rec.Notes, rec.DeviceID, rec.TxID, rec.BlockHash,
		rec.IsValidLocation, rec.IsValidSeason, rec.Status, rec.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return apperrors.Wrap(apperrors.ErrDuplicate, "eventId already recorded", err)
		}
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to insert collection", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to read insert id", err)
	}
	rec.ID = id
	return nil
}

// List returns one page of records matching the query plus the total count.
func (s *Store) List(q ListQuery) ([]*models.CollectionRecord, int, error) {
	where, args := q.whereClause()

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM collections"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to count collections", err)
	}

	query := "SELECT " + recordColumns + " FROM collections" + where +
		" ORDER BY " + q.orderClause() + " LIMIT ? OFFSET ?"
	args = append(args, q.Limit, (q.Page-1)*q.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to list collections", err)
	}
	defer rows.Close()

	var records []*models.CollectionRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan collection", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate collections", err)
	}
	return records, total, nil
}

// Stats aggregates counts for the dashboards.
type Stats struct {
	Total     int            `json:"total"`
	ByStatus  map[string]int `json:"byStatus"`
	BySpecies map[string]int `json:"bySpecies"`
}

// Stats computes record counts by status and species.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{
		ByStatus:  make(map[string]int),
		BySpecies: make(map[string]int),
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM collections GROUP BY status")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to aggregate status", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan aggregate", err)
		}
		stats.ByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to iterate aggregates", err)
	}

	speciesRows, err := s.db.Query("SELECT species, COUNT(*) FROM collections GROUP BY species")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to aggregate species", err)
	}
	defer speciesRows.Close()
	for speciesRows.Next() {
		var species string
		var n int
		if err := speciesRows.Scan(&species, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to scan aggregate", err)
		}
		stats.BySpecies[species] = n
	}
	return stats, speciesRows.Err()
}
