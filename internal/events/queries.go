package events

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EventsInWindow fetches one organization's events over [from, to), ordered
// by timestamp then insertion id. Ordering within a session is re-established
// by the journey builder regardless of delivery order, but a stable scan
// order keeps recomputation deterministic.
func EventsInWindow(db *gorm.DB, organizationID uint, from, to time.Time) ([]Event, error) {
	var evts []Event
	err := db.Where("organization_id = ? AND timestamp >= ? AND timestamp < ?",
		organizationID, from.UTC(), to.UTC()).
		Order("timestamp ASC, id ASC").
		Find(&evts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events in window: %w", err)
	}
	return evts, nil
}
