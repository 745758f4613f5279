package models

import "time"

// AppSettings is the per-install configuration. Exactly one row exists,
// created with defaults on first boot. Updates replace the whole row.
type AppSettings struct {
	SyncIntervalMin int    `db:"sync_interval_min" json:"syncInterval"`
	SMSGateway      string `db:"sms_gateway" json:"smsGateway"`
	Language        string `db:"language" json:"language"`
	FarmerID        string `db:"farmer_id" json:"farmerId"`
	LastSync        int64  `db:"last_sync" json:"lastSync,omitempty"`
	CreatedAt       int64  `db:"created_at" json:"createdAt"`
	UpdatedAt       int64  `db:"updated_at" json:"updatedAt"`
}

// TableName returns the table name for AppSettings.
func (AppSettings) TableName() string {
	return "app_settings"
}

// DefaultSettings returns the first-boot settings row.
func DefaultSettings() AppSettings {
	return AppSettings{
		SyncIntervalMin: 15,
		Language:        "en",
	}
}

// SyncInterval converts a settings interval in minutes to a Duration.
func SyncInterval(minutes int) time.Duration {
	return time.Duration(minutes) * time.Minute
}

// WithInterval returns a copy of s with the sync interval replaced.
func (s AppSettings) WithInterval(minutes int) AppSettings {
	s.SyncIntervalMin = minutes
	return s
}
