// Package transitions builds the channel-to-channel transition model from
// reconstructed journeys.
package transitions

import (
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"attriflow/internal/journeys"
)

// ChannelTransition is one aggregate edge of the transition model for a
// period. Counts are raw; normalization into conditional probabilities
// happens in a separate pass when the snapshot is emitted.
type ChannelTransition struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	OrganizationID  uint      `gorm:"uniqueIndex:idx_channel_transition_unique;not null"`
	FromChannel     string    `gorm:"uniqueIndex:idx_channel_transition_unique;not null"`
	ToChannel       string    `gorm:"uniqueIndex:idx_channel_transition_unique;not null"`
	PeriodStart     time.Time `gorm:"uniqueIndex:idx_channel_transition_unique;type:datetime;not null"`
	TransitionCount int       `gorm:"not null;default:0"`
	ConvertingCount int       `gorm:"not null;default:0"`
	Probability     float64   `gorm:"not null;default:0"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BuildMatrix counts adjacent channel pairs across all journey paths.
// Aggregation is associative and commutative, so processing order never
// affects the result and re-runs over the same window are idempotent.
func BuildMatrix(organizationID uint, list []journeys.Journey, periodStart time.Time) []ChannelTransition {
	type pair struct{ from, to string }
	counts := make(map[pair]*ChannelTransition)
	var order []pair

	for _, j := range list {
		path := j.Path()
		for i := 0; i+1 < len(path); i++ {
			key := pair{from: path[i], to: path[i+1]}
			edge, ok := counts[key]
			if !ok {
				edge = &ChannelTransition{
					OrganizationID: organizationID,
					FromChannel:    key.from,
					ToChannel:      key.to,
					PeriodStart:    periodStart.UTC(),
				}
				counts[key] = edge
				order = append(order, key)
			}
			edge.TransitionCount++
			if j.Converted {
				edge.ConvertingCount++
			}
		}
	}

	result := make([]ChannelTransition, 0, len(order))
	for _, key := range order {
		result = append(result, *counts[key])
	}
	return result
}

// Normalize converts raw counts into conditional probabilities P(to|from).
// Each from-row's outgoing probabilities sum to 1 (modulo rounding to three
// decimal places); rows with zero outgoing mass are absent from the result,
// so there is never a division by zero.
func Normalize(edges []ChannelTransition) map[string]map[string]float64 {
	rowSums := make(map[string]int)
	for _, e := range edges {
		rowSums[e.FromChannel] += e.TransitionCount
	}

	matrix := make(map[string]map[string]float64)
	for _, e := range edges {
		sum := rowSums[e.FromChannel]
		if sum == 0 {
			continue
		}
		row, ok := matrix[e.FromChannel]
		if !ok {
			row = make(map[string]float64)
			matrix[e.FromChannel] = row
		}
		row[e.ToChannel] = round3(float64(e.TransitionCount) / float64(sum))
	}
	return matrix
}

// round3 rounds to three decimal places.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// UpsertTransitions writes transition edges keyed by
// (organization, from, to, period start). Counts are overwritten rather than
// accumulated: the window's events are the single source of truth, so
// re-running an aggregation must converge on identical rows.
func UpsertTransitions(tx *gorm.DB, edges []ChannelTransition) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO channel_transitions (organization_id, from_channel, to_channel, period_start, transition_count, converting_count, probability, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, from_channel, to_channel, period_start) DO UPDATE SET
			transition_count = ?,
			converting_count = ?,
			probability = ?,
			updated_at = ?
	`
	for _, e := range edges {
		err := tx.Exec(query,
			e.OrganizationID, e.FromChannel, e.ToChannel, e.PeriodStart, e.TransitionCount, e.ConvertingCount, e.Probability, now, now,
			e.TransitionCount, e.ConvertingCount, e.Probability, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert channel transition %s->%s: %w", e.FromChannel, e.ToChannel, err)
		}
	}
	return nil
}

// TransitionsForPeriod fetches an organization's transition edges for one
// period start.
func TransitionsForPeriod(db *gorm.DB, organizationID uint, periodStart time.Time) ([]ChannelTransition, error) {
	var edges []ChannelTransition
	err := db.Where("organization_id = ? AND period_start = ?", organizationID, periodStart.UTC()).
		Order("from_channel ASC, to_channel ASC").
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel transitions: %w", err)
	}
	return edges, nil
}
