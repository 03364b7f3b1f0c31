package journeys

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Journey represents one reconstructed visitor journey, derived from a
// session. The channel path is stored as JSON text; use Path/SetPath so the
// value stays typed everywhere except the storage edge.
type Journey struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	OrganizationID uint   `gorm:"uniqueIndex:idx_journey_unique;not null"`
	JourneyKey     string `gorm:"uniqueIndex:idx_journey_unique;size:36;not null"`
	VisitorID      string `gorm:"index;not null"`
	SessionID      string `gorm:"index;not null"`
	ChannelPath    string `gorm:"type:text;not null"`
	PathLength     int    `gorm:"not null;default:0"`
	FirstTouchAt   time.Time
	LastTouchAt    time.Time
	Converted      bool  `gorm:"not null;default:false"`
	RevenueCents   int64 `gorm:"not null;default:0"`
	ComputedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Path unmarshals the stored channel path.
func (j *Journey) Path() []string {
	var path []string
	if err := json.Unmarshal([]byte(j.ChannelPath), &path); err != nil {
		return nil
	}
	return path
}

// SetPath marshals and stores the channel path.
func (j *Journey) SetPath(path []string) {
	data, _ := json.Marshal(path)
	j.ChannelPath = string(data)
	j.PathLength = len(path)
}

// KeyFor derives the deterministic journey key for an organization's session.
// Recomputation over the same window always upserts the same row.
func KeyFor(organizationID uint, sessionID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d:%s", organizationID, sessionID))).String()
}

// UpsertJourneys writes journeys keyed by (organization, journey key).
// Path, length, touch timestamps and computed-at are overwritten on conflict;
// the conversion fields are left untouched so externally-set conversion state
// survives recomputation. Use UpsertConversions to overwrite those.
func UpsertJourneys(tx *gorm.DB, list []Journey) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO journeys (organization_id, journey_key, visitor_id, session_id, channel_path, path_length, first_touch_at, last_touch_at, converted, revenue_cents, computed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, journey_key) DO UPDATE SET
			channel_path = ?,
			path_length = ?,
			first_touch_at = ?,
			last_touch_at = ?,
			computed_at = ?,
			updated_at = ?
	`
	for _, j := range list {
		err := tx.Exec(query,
			j.OrganizationID, j.JourneyKey, j.VisitorID, j.SessionID, j.ChannelPath, j.PathLength,
			j.FirstTouchAt, j.LastTouchAt, j.Converted, j.RevenueCents, j.ComputedAt, now, now,
			j.ChannelPath, j.PathLength, j.FirstTouchAt, j.LastTouchAt, j.ComputedAt, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert journey %s: %w", j.JourneyKey, err)
		}
	}
	return nil
}

// UpsertConversions explicitly recomputes the conversion fields of already
// persisted journeys.
func UpsertConversions(tx *gorm.DB, list []Journey) error {
	now := time.Now().UTC()
	for _, j := range list {
		err := tx.Model(&Journey{}).
			Where("organization_id = ? AND journey_key = ?", j.OrganizationID, j.JourneyKey).
			Updates(map[string]any{
				"converted":     j.Converted,
				"revenue_cents": j.RevenueCents,
				"updated_at":    now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to update journey conversion %s: %w", j.JourneyKey, err)
		}
	}
	return nil
}

// JourneysInWindow fetches an organization's journeys whose first touch falls
// inside [from, to).
func JourneysInWindow(db *gorm.DB, organizationID uint, from, to time.Time) ([]Journey, error) {
	var list []Journey
	err := db.Where("organization_id = ? AND first_touch_at >= ? AND first_touch_at < ?",
		organizationID, from.UTC(), to.UTC()).
		Order("first_touch_at ASC, id ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch journeys in window: %w", err)
	}
	return list, nil
}
