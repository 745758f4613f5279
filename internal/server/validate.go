package server

import (
	"strings"
	"time"

	"github.com/traceya/backend/internal/models"
)

// Geofence is the accepted collection region. Defaults cover the Indian
// subcontinent, where the pilot cooperatives operate.
type Geofence struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// DefaultGeofence returns the pilot region bounds.
func DefaultGeofence() Geofence {
	return Geofence{MinLat: 6.5, MaxLat: 37.1, MinLon: 68.1, MaxLon: 97.4}
}

// Contains reports whether the point lies inside the fence.
func (g Geofence) Contains(lat, lon float64) bool {
	return lat >= g.MinLat && lat <= g.MaxLat && lon >= g.MinLon && lon <= g.MaxLon
}

// harvestWindows maps species to permitted collection months. Species without
// an entry are considered in season year-round. Stub seasonality, not
// agronomy.
var harvestWindows = map[string][]time.Month{
	"Ashwagandha": {time.October, time.November, time.December, time.January, time.February, time.March},
	"Tulsi":       {time.June, time.July, time.August, time.September, time.October},
	"Brahmi":      {time.March, time.April, time.May, time.June},
	"Shatavari":   {time.November, time.December, time.January, time.February},
}

// inSeason reports whether the collection timestamp falls inside the species
// harvest window. Unparseable timestamps count as in season; timestamp
// format errors are reported separately by validation.
func inSeason(species, collectedAt string) bool {
	window, ok := harvestWindows[species]
	if !ok {
		return true
	}
	t, err := time.Parse(time.RFC3339, collectedAt)
	if err != nil {
		return true
	}
	month := t.Month()
	for _, m := range window {
		if m == month {
			return true
		}
	}
	return false
}

// validatePayload checks the submittable fields and returns field-level
// messages for everything wrong with them.
func validatePayload(p models.SubmitPayload) []models.ValidationDetail {
	var details []models.ValidationDetail

	if strings.TrimSpace(p.EventID) == "" {
		details = append(details, models.ValidationDetail{Field: "eventId", Message: "eventId is required"})
	}
	if strings.TrimSpace(p.Species) == "" {
		details = append(details, models.ValidationDetail{Field: "species", Message: "species is required"})
	}
	if strings.TrimSpace(p.CollectedAt) == "" {
		details = append(details, models.ValidationDetail{Field: "timestamp", Message: "timestamp is required"})
	} else if _, err := time.Parse(time.RFC3339, p.CollectedAt); err != nil {
		details = append(details, models.ValidationDetail{Field: "timestamp", Message: "timestamp must be RFC3339"})
	}
	if p.Lat < -90 || p.Lat > 90 {
		details = append(details, models.ValidationDetail{Field: "lat", Message: "lat must be between -90 and 90"})
	}
	if p.Lon < -180 || p.Lon > 180 {
		details = append(details, models.ValidationDetail{Field: "lon", Message: "lon must be between -180 and 180"})
	}
	if p.Lat == 0 && p.Lon == 0 {
		details = append(details, models.ValidationDetail{Field: "location", Message: "location is required"})
	}
	if p.MoisturePct < 0 || p.MoisturePct > 100 {
		details = append(details, models.ValidationDetail{Field: "moisturePct", Message: "moisturePct must be between 0 and 100"})
	}

	return details
}
