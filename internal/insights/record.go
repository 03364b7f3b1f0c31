package insights

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// JourneyAnalytics is the persisted summary row for one organization and
// period. Aggregate maps are stored as JSON text; Summary and Load are the
// only places that touch the serialized form.
type JourneyAnalytics struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	OrganizationID      uint      `gorm:"uniqueIndex:idx_journey_analytics_unique;not null"`
	PeriodStart         time.Time `gorm:"uniqueIndex:idx_journey_analytics_unique;type:datetime;not null"`
	PeriodEnd           time.Time `gorm:"uniqueIndex:idx_journey_analytics_unique;type:datetime;not null"`
	TotalJourneys       int       `gorm:"not null;default:0"`
	ConvertedJourneys   int       `gorm:"not null;default:0"`
	AvgPathLength       float64   `gorm:"not null;default:0"`
	ChannelDistribution string    `gorm:"type:text"`
	EntryShares         string    `gorm:"type:text"`
	ExitShares          string    `gorm:"type:text"`
	TransitionMatrix    string    `gorm:"type:text"`
	CommonPaths         string    `gorm:"type:text"`
	DataQualityLevel    string    `gorm:"size:32"`
	DataQualityReport   string    `gorm:"type:text"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewRecord serializes a summary for the given organization and period.
func NewRecord(organizationID uint, periodStart, periodEnd time.Time, s Summary) (JourneyAnalytics, error) {
	record := JourneyAnalytics{
		OrganizationID:    organizationID,
		PeriodStart:       periodStart.UTC(),
		PeriodEnd:         periodEnd.UTC(),
		TotalJourneys:     s.TotalJourneys,
		ConvertedJourneys: s.ConvertedJourneys,
		AvgPathLength:     s.AvgPathLength,
		DataQualityLevel:  s.DataQuality.Level,
		DataQualityReport: s.DataQuality.Report,
	}

	fields := []struct {
		dst  *string
		name string
		v    any
	}{
		{&record.ChannelDistribution, "channel distribution", s.ChannelDistribution},
		{&record.EntryShares, "entry shares", s.EntryShares},
		{&record.ExitShares, "exit shares", s.ExitShares},
		{&record.TransitionMatrix, "transition matrix", s.TransitionMatrix},
		{&record.CommonPaths, "common paths", s.CommonPaths},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.v)
		if err != nil {
			return JourneyAnalytics{}, fmt.Errorf("failed to serialize %s: %w", f.name, err)
		}
		*f.dst = string(data)
	}
	return record, nil
}

// Summary deserializes the stored aggregates back into the typed form.
func (r *JourneyAnalytics) Summary() (Summary, error) {
	s := Summary{
		TotalJourneys:     r.TotalJourneys,
		ConvertedJourneys: r.ConvertedJourneys,
		AvgPathLength:     r.AvgPathLength,
		DataQuality:       DataQuality{Level: r.DataQualityLevel, Report: r.DataQualityReport},
	}

	fields := []struct {
		src  string
		name string
		v    any
	}{
		{r.ChannelDistribution, "channel distribution", &s.ChannelDistribution},
		{r.EntryShares, "entry shares", &s.EntryShares},
		{r.ExitShares, "exit shares", &s.ExitShares},
		{r.TransitionMatrix, "transition matrix", &s.TransitionMatrix},
		{r.CommonPaths, "common paths", &s.CommonPaths},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		if err := json.Unmarshal([]byte(f.src), f.v); err != nil {
			return Summary{}, fmt.Errorf("failed to deserialize %s: %w", f.name, err)
		}
	}
	return s, nil
}

// UpsertAnalytics writes the summary row keyed by
// (organization, period start, period end), overwriting previous values so
// re-runs of the same period converge on one row.
func UpsertAnalytics(tx *gorm.DB, r JourneyAnalytics) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO journey_analytics (organization_id, period_start, period_end, total_journeys, converted_journeys, avg_path_length, channel_distribution, entry_shares, exit_shares, transition_matrix, common_paths, data_quality_level, data_quality_report, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id, period_start, period_end) DO UPDATE SET
			total_journeys = ?,
			converted_journeys = ?,
			avg_path_length = ?,
			channel_distribution = ?,
			entry_shares = ?,
			exit_shares = ?,
			transition_matrix = ?,
			common_paths = ?,
			data_quality_level = ?,
			data_quality_report = ?,
			updated_at = ?
	`
	err := tx.Exec(query,
		r.OrganizationID, r.PeriodStart, r.PeriodEnd,
		r.TotalJourneys, r.ConvertedJourneys, r.AvgPathLength,
		r.ChannelDistribution, r.EntryShares, r.ExitShares, r.TransitionMatrix, r.CommonPaths,
		r.DataQualityLevel, r.DataQualityReport, now, now,
		r.TotalJourneys, r.ConvertedJourneys, r.AvgPathLength,
		r.ChannelDistribution, r.EntryShares, r.ExitShares, r.TransitionMatrix, r.CommonPaths,
		r.DataQualityLevel, r.DataQualityReport, now).Error
	if err != nil {
		return fmt.Errorf("failed to upsert journey analytics: %w", err)
	}
	return nil
}

// AnalyticsForPeriod fetches the stored summary row for one exact period.
func AnalyticsForPeriod(db *gorm.DB, organizationID uint, periodStart, periodEnd time.Time) (*JourneyAnalytics, error) {
	var record JourneyAnalytics
	err := db.Where("organization_id = ? AND period_start = ? AND period_end = ?",
		organizationID, periodStart.UTC(), periodEnd.UTC()).
		First(&record).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch journey analytics: %w", err)
	}
	return &record, nil
}
