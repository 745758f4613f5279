// Package models provides data model definitions for the traceya backend.
package models

import (
	"encoding/json"
	"time"
)

// SyncStatus is the upload lifecycle state of a collection event.
type SyncStatus string

const (
	StatusPending   SyncStatus = "pending"
	StatusUploading SyncStatus = "uploading"
	StatusSynced    SyncStatus = "synced"
	StatusFailed    SyncStatus = "failed"
)

// Valid reports whether s is one of the four lifecycle states.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusUploading, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// Location is a GPS fix captured with an event.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Quality holds farmer-entered quality observations.
type Quality struct {
	MoisturePct float64 `json:"moisturePct"`
	Notes       string  `json:"notes"`
}

// Photo references a captured photo by content hash. The blob itself lives in
// the device media store; only the reference syncs.
type Photo struct {
	Hash     string    `json:"hash"`
	BlobURL  string    `json:"blobUrl"`
	Location *Location `json:"location,omitempty"`
}

// CollectionEvent is one farmer-submitted field observation.
//
// ID is the local auto-increment key owned by the store. EventID is the
// client-generated stable identifier used for all external references and is
// immutable once created. Timestamps are unix milliseconds except CollectedAt,
// which is the ISO collection time as captured.
type CollectionEvent struct {
	ID          int64      `db:"id" json:"id"`
	EventID     string     `db:"event_id" json:"eventId"`
	FarmerID    string     `db:"farmer_id" json:"farmerId"`
	Species     string     `db:"species" json:"species"`
	CollectedAt string     `db:"collected_at" json:"timestamp"`
	Location    Location   `db:"-" json:"location"`
	Quality     Quality    `db:"-" json:"quality"`
	Photos      []Photo    `db:"-" json:"photos"`
	Status      SyncStatus `db:"status" json:"status"`
	LastError   string     `db:"last_error" json:"lastError,omitempty"`
	RetryCount  int        `db:"retry_count" json:"retryCount"`
	TxID        string     `db:"tx_id" json:"txId,omitempty"`
	BlockHash   string     `db:"block_hash" json:"blockHash,omitempty"`
	SyncedAt    int64      `db:"synced_at" json:"syncedAt,omitempty"`
	CreatedAt   int64      `db:"created_at" json:"createdAt"`
	UpdatedAt   int64      `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for CollectionEvent.
func (CollectionEvent) TableName() string {
	return "collection_events"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (e *CollectionEvent) CreatedAtTime() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// PhotosJSON serializes the photo references for storage.
func (e *CollectionEvent) PhotosJSON() ([]byte, error) {
	if e.Photos == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Photos)
}

// EventPatch is a partial update applied to a stored event. Nil fields are
// left untouched.
type EventPatch struct {
	FarmerID    *string
	Species     *string
	CollectedAt *string
	Location    *Location
	Quality     *Quality
	Photos      []Photo
}

// SyncQueueEntry mirrors an event still awaiting upload. The entry is created
// with the event and removed once the event reaches synced.
type SyncQueueEntry struct {
	EventID    string `db:"event_id" json:"eventId"`
	EnqueuedAt int64  `db:"enqueued_at" json:"enqueuedAt"`
}

// TableName returns the table name for SyncQueueEntry.
func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}
