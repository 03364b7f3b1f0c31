package events

import "time"

// EventType represents the type of event.
type EventType int

const (
	EventTypePageView EventType = 1
	EventTypeClick    EventType = 2
)

// Event represents one observed clickstream action, tagged with the
// UTM/referrer metadata the tracker captured. Events are immutable and
// externally supplied; the attribution pipeline only reads them.
type Event struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	OrganizationID uint      `gorm:"index:idx_org_timestamp;not null"`
	VisitorID      string    `gorm:"index;size:64;not null"`
	SessionID      string    `gorm:"index;not null"`
	EventType      EventType `gorm:"not null;default:1"`
	PageHostname   string    `gorm:"index"`
	PagePath       string    `gorm:"index"`
	ReferrerDomain string    `gorm:"index"`
	UTMSource      string
	UTMMedium      string
	UTMCampaign    string
	GCLID          string
	FBCLID         string
	TTCLID         string
	Timestamp      time.Time `gorm:"index:idx_org_timestamp;not null"`
	CreatedAt      time.Time
}

// IsValid reports whether the event carries the minimum identity needed for
// journey reconstruction. Invalid events are skipped, never fatal.
func (e *Event) IsValid() bool {
	return e.SessionID != "" && !e.Timestamp.IsZero()
}

// Touchpoint is the classification input derived from a single page view.
type Touchpoint struct {
	PageHostname   string
	ReferrerDomain string
	UTMSource      string
	UTMMedium      string
	UTMCampaign    string
	GCLID          string
	FBCLID         string
	TTCLID         string
}

// HasAttribution reports whether the touchpoint carries any classification
// signal of its own. In-session navigation produces page views with none;
// those inherit the journey's current channel instead of re-classifying.
func (tp Touchpoint) HasAttribution() bool {
	return tp.GCLID != "" || tp.FBCLID != "" || tp.TTCLID != "" ||
		tp.UTMSource != "" || tp.UTMMedium != "" || tp.ReferrerDomain != ""
}

// Touchpoint extracts the channel classification signals from the event.
func (e *Event) Touchpoint() Touchpoint {
	return Touchpoint{
		PageHostname:   e.PageHostname,
		ReferrerDomain: e.ReferrerDomain,
		UTMSource:      e.UTMSource,
		UTMMedium:      e.UTMMedium,
		UTMCampaign:    e.UTMCampaign,
		GCLID:          e.GCLID,
		FBCLID:         e.FBCLID,
		TTCLID:         e.TTCLID,
	}
}
