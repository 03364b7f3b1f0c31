package jobs

import (
	"log/slog"
	"time"

	"attriflow/internal/config"
	"attriflow/internal/database"
	"attriflow/internal/events"
)

// CleanupJob removes raw events older than the retention period. Aggregates
// derived from them (journeys, transitions, funnel flows, analytics) are
// kept; only the event rows age out.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run deletes events past retention in batches so the database is never
// locked for long.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.EventRetentionDays
	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of old events",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	var countToDelete int64
	if err := db.Model(&events.Event{}).
		Where("timestamp < ?", cutoffDate).
		Count(&countToDelete).Error; err != nil {
		j.logger.Error("Failed to count old events", slog.Any("error", err))
		return err
	}

	if countToDelete == 0 {
		j.logger.Debug("No old events to clean up")
		return nil
	}

	batchSize := 1000
	totalDeleted := int64(0)

	for {
		result := db.Where("timestamp < ?", cutoffDate).
			Limit(batchSize).
			Delete(&events.Event{})
		if result.Error != nil {
			j.logger.Error("Failed to delete old events", slog.Any("error", result.Error))
			return result.Error
		}
		totalDeleted += result.RowsAffected
		if result.RowsAffected < int64(batchSize) {
			break
		}
	}

	j.logger.Info("Cleanup completed",
		slog.Int64("deleted", totalDeleted),
		slog.Time("cutoff_date", cutoffDate))

	return nil
}
