package funnels

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"attriflow/internal/timeframe"
)

// Funnel node types. Page-to-page edges describe navigation; source- and
// referrer-to-page edges describe session entry attribution.
const (
	NodeTypePage     = "page_url"
	NodeTypeSource   = "source"
	NodeTypeReferrer = "referrer"
)

// FunnelTransition is one aggregated edge of the navigation flow graph for a
// single UTC calendar day. Daily granularity is the persisted contract: range
// queries sum multiple days rather than re-aggregating events.
type FunnelTransition struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	OrganizationID uint      `gorm:"uniqueIndex:idx_funnel_transition_unique;not null"`
	FromType       string    `gorm:"uniqueIndex:idx_funnel_transition_unique;not null"`
	FromID         string    `gorm:"uniqueIndex:idx_funnel_transition_unique;not null"`
	ToType         string    `gorm:"uniqueIndex:idx_funnel_transition_unique;not null"`
	ToID           string    `gorm:"uniqueIndex:idx_funnel_transition_unique;not null"`
	PeriodStart    time.Time `gorm:"uniqueIndex:idx_funnel_transition_unique;type:datetime;not null"`
	VisitorsAtFrom int       `gorm:"not null;default:0"`
	Transitioned   int       `gorm:"not null;default:0"`
	TransitionRate float64   `gorm:"not null;default:0"`
	Conversions    int       `gorm:"not null;default:0"`
	ConversionRate float64   `gorm:"not null;default:0"`
	RevenueCents   int64     `gorm:"not null;default:0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// UpsertFlows writes funnel edges keyed by
// (organization, from type, from id, to type, to id, period start).
// Counts are overwritten, never accumulated: re-running the aggregator for
// the same day must produce identical persisted rows.
func UpsertFlows(tx *gorm.DB, flows []FunnelTransition) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO funnel_transitions (organization_id, from_type, from_id, to_type, to_id, period_start, visitors_at_from, transitioned, transition_rate, conversions, conversion_rate, revenue_cents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, from_type, from_id, to_type, to_id, period_start) DO UPDATE SET
			visitors_at_from = ?,
			transitioned = ?,
			transition_rate = ?,
			conversions = ?,
			conversion_rate = ?,
			revenue_cents = ?,
			updated_at = ?
	`
	for _, f := range flows {
		err := tx.Exec(query,
			f.OrganizationID, f.FromType, f.FromID, f.ToType, f.ToID, f.PeriodStart,
			f.VisitorsAtFrom, f.Transitioned, f.TransitionRate, f.Conversions, f.ConversionRate, f.RevenueCents, now, now,
			f.VisitorsAtFrom, f.Transitioned, f.TransitionRate, f.Conversions, f.ConversionRate, f.RevenueCents, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert funnel transition %s->%s: %w", f.FromID, f.ToID, err)
		}
	}
	return nil
}

// FlowsInWindow fetches an organization's funnel edges whose day falls inside
// the window. Callers sum the per-day rows for range totals.
func FlowsInWindow(db *gorm.DB, organizationID uint, window timeframe.Window) ([]FunnelTransition, error) {
	var flows []FunnelTransition
	err := db.Where("organization_id = ? AND period_start >= ? AND period_start < ?",
		organizationID, window.From, window.To).
		Order("period_start ASC, transitioned DESC").
		Find(&flows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch funnel transitions: %w", err)
	}
	return flows, nil
}
