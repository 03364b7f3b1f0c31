package jobs

import (
	"context"
	"log/slog"

	"attriflow/internal/channels"
	"attriflow/internal/config"
	"attriflow/internal/database"
	"attriflow/internal/funnels"
	"attriflow/internal/insights"
	"attriflow/internal/journeys"
	"attriflow/internal/pipeline"
	"attriflow/internal/timeframe"
)

// AttributionJob runs the aggregation pipeline for every active organization
// over the trailing configured window.
type AttributionJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
	pipeline  *pipeline.Pipeline
}

// NewAttributionJob wires the pipeline from configuration. Channel rules load
// from the configured path, falling back to the built-in defaults when unset.
func NewAttributionJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config, predicate journeys.ConversionPredicate) (*AttributionJob, error) {
	ruleSet, err := channels.LoadRuleSet(cfg.ChannelRulesPath)
	if err != nil {
		return nil, err
	}

	classifier := channels.NewClassifier(ruleSet)
	builder := journeys.NewBuilder(classifier, logger)
	aggregator := funnels.NewAggregator(funnels.Limits{
		PageTransitions: cfg.MaxPageTransitionsPerDay,
		SourceEntries:   cfg.MaxSourceEntriesPerDay,
	}, logger)

	quality := insights.DataQuality{Level: "standard", Report: "session-scoped identity, no cross-device matching"}
	p := pipeline.New(dbManager.GetConnection(), logger, builder, aggregator, predicate, quality)

	return &AttributionJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
		pipeline:  p,
	}, nil
}

// Run executes one pass over the trailing aggregation window. Re-runs over
// an already-aggregated window are harmless: every write is an upsert keyed
// by natural identity.
func (j *AttributionJob) Run(ctx context.Context) error {
	window := timeframe.LastDays(j.cfg.AggregationWindowDays)

	j.logger.Info("Starting attribution pass",
		slog.Time("from", window.From),
		slog.Time("to", window.To))

	if err := j.pipeline.RunAll(ctx, window); err != nil {
		return err
	}

	j.logger.Info("Attribution pass completed")
	return nil
}
