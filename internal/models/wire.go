package models

// Wire types shared by the sync transport and the remote collection service.

// SubmitPayload is the submittable subset of a collection event sent to the
// remote collection-create endpoint.
type SubmitPayload struct {
	EventID     string  `json:"eventId"`
	FarmerID    string  `json:"farmerId"`
	Species     string  `json:"species"`
	CollectedAt string  `json:"timestamp"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	MoisturePct float64 `json:"moisturePct"`
	Notes       string  `json:"notes,omitempty"`
	Photos      []Photo `json:"photos,omitempty"`
	DeviceID    string  `json:"deviceId,omitempty"`
}

// SubmitResult is the remote acknowledgement for an accepted event.
type SubmitResult struct {
	EventID         string `json:"eventId"`
	Status          string `json:"status"`
	TxID            string `json:"txId"`
	BlockHash       string `json:"blockHash,omitempty"`
	IsValidLocation bool   `json:"isValidLocation"`
	IsValidSeason   bool   `json:"isValidSeason"`
	CreatedAt       int64  `json:"createdAt"`
}

// ValidationDetail is one field-level validation message.
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrorPayload is the HTTP 400 body of the remote endpoints.
type ValidationErrorPayload struct {
	Error struct {
		Message string             `json:"message"`
		Details []ValidationDetail `json:"details,omitempty"`
	} `json:"error"`
}

// FirstMessage returns the most specific human-readable message: the first
// field-level detail if present, otherwise the top-level message.
func (p *ValidationErrorPayload) FirstMessage() string {
	if len(p.Error.Details) > 0 {
		return p.Error.Details[0].Message
	}
	return p.Error.Message
}

// Pagination describes a page of a remote list response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// CollectionRecord is the server-of-record view of an accepted event.
type CollectionRecord struct {
	ID              int64   `db:"id" json:"id"`
	EventID         string  `db:"event_id" json:"eventId"`
	FarmerID        string  `db:"farmer_id" json:"farmerId"`
	Species         string  `db:"species" json:"species"`
	CollectedAt     string  `db:"collected_at" json:"timestamp"`
	Lat             float64 `db:"lat" json:"lat"`
	Lon             float64 `db:"lon" json:"lon"`
	MoisturePct     float64 `db:"moisture_pct" json:"moisturePct"`
	Notes           string  `db:"notes" json:"notes,omitempty"`
	DeviceID        string  `db:"device_id" json:"deviceId,omitempty"`
	TxID            string  `db:"tx_id" json:"txId"`
	BlockHash       string  `db:"block_hash" json:"blockHash"`
	IsValidLocation bool    `db:"is_valid_location" json:"isValidLocation"`
	IsValidSeason   bool    `db:"is_valid_season" json:"isValidSeason"`
	Status          string  `db:"status" json:"status"`
	CreatedAt       int64   `db:"created_at" json:"createdAt"`
}

// TableName returns the table name for CollectionRecord.
func (CollectionRecord) TableName() string {
	return "collections"
}

// ListResponse is the remote collection-list reply.
type ListResponse struct {
	Data       []*CollectionRecord `json:"data"`
	Pagination Pagination          `json:"pagination"`
	Filters    map[string]string   `json:"filters"`
}
