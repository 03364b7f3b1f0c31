// Package pipeline orchestrates one organization's attribution pass: events
// in, journeys, the channel transition matrix, daily funnel flows and the
// analytics summary out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"attriflow/internal/events"
	"attriflow/internal/funnels"
	"attriflow/internal/insights"
	"attriflow/internal/journeys"
	"attriflow/internal/organizations"
	"attriflow/internal/timeframe"
	"attriflow/internal/transitions"
)

const upsertBatchSize = 500

// Pipeline runs the sequential aggregation stages for one organization at a
// time. Stages within a run are sequential; separate organizations share no
// mutable state and run in parallel via RunAll.
type Pipeline struct {
	db         *gorm.DB
	logger     *slog.Logger
	builder    *journeys.Builder
	aggregator *funnels.Aggregator
	predicate  journeys.ConversionPredicate
	quality    insights.DataQuality
}

// New creates a pipeline. The predicate is the external conversion oracle
// and may be nil, in which case nothing is marked converted.
func New(db *gorm.DB, logger *slog.Logger, builder *journeys.Builder, aggregator *funnels.Aggregator, predicate journeys.ConversionPredicate, quality insights.DataQuality) *Pipeline {
	return &Pipeline{
		db:         db,
		logger:     logger,
		builder:    builder,
		aggregator: aggregator,
		predicate:  predicate,
		quality:    quality,
	}
}

// Run executes the full pass for one organization over the window. Every
// persisted write is an idempotent upsert keyed by natural identity, so a
// failed run is safely retryable; batch failures carry the batch index for
// targeted retries.
func (p *Pipeline) Run(ctx context.Context, organizationID uint, window timeframe.Window) error {
	if err := window.Validate(); err != nil {
		return err
	}
	db := p.db.WithContext(ctx)

	evts, err := events.EventsInWindow(db, organizationID, window.From, window.To)
	if err != nil {
		return err
	}

	result := p.builder.Build(organizationID, evts, window, p.predicate)

	p.logger.Info("Built journeys",
		slog.Uint64("organization_id", uint64(organizationID)),
		slog.Int("events", len(evts)),
		slog.Int("journeys", len(result.Journeys)),
		slog.Int("skipped", result.Skipped))

	if err := p.upsertJourneyBatches(db, result.Journeys); err != nil {
		return err
	}

	edges := transitions.BuildMatrix(organizationID, result.Journeys, window.From)
	applyProbabilities(edges)
	if err := sqlite.PerformWrite(p.logger, db, func(tx *gorm.DB) error {
		return transitions.UpsertTransitions(tx, edges)
	}); err != nil {
		return fmt.Errorf("transition matrix write failed: %w", err)
	}

	if err := p.aggregateFlows(db, organizationID, result.Sessions); err != nil {
		return err
	}

	summary := insights.Summarize(result.Journeys, edges, p.quality)
	record, err := insights.NewRecord(organizationID, window.From, window.To, summary)
	if err != nil {
		return err
	}
	if err := sqlite.PerformWrite(p.logger, db, func(tx *gorm.DB) error {
		return insights.UpsertAnalytics(tx, record)
	}); err != nil {
		return fmt.Errorf("analytics write failed: %w", err)
	}

	return nil
}

// upsertJourneyBatches writes journeys in fixed-size batches. A failing batch
// is reported with its index; since journey upserts are keyed by journey key,
// retrying only that batch converges on the same rows.
func (p *Pipeline) upsertJourneyBatches(db *gorm.DB, list []journeys.Journey) error {
	for start := 0; start < len(list); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(list) {
			end = len(list)
		}
		batch := list[start:end]
		err := sqlite.PerformWrite(p.logger, db, func(tx *gorm.DB) error {
			return journeys.UpsertJourneys(tx, batch)
		})
		if err != nil {
			return fmt.Errorf("journey batch %d (%d rows) failed: %w", start/upsertBatchSize, len(batch), err)
		}
	}
	return nil
}

// aggregateFlows buckets sessions per UTC day and writes each day's funnel
// edges.
func (p *Pipeline) aggregateFlows(db *gorm.DB, organizationID uint, sessions []journeys.Session) error {
	buckets := funnels.BucketSessionsByDay(sessions)
	for _, day := range funnels.SortedDays(buckets) {
		flows := p.aggregator.BuildDailyFlows(organizationID, buckets[day], day, p.predicate)
		if len(flows) == 0 {
			continue
		}
		err := sqlite.PerformWrite(p.logger, db, func(tx *gorm.DB) error {
			return funnels.UpsertFlows(tx, flows)
		})
		if err != nil {
			return fmt.Errorf("funnel flows for %s failed: %w", day.Format("2006-01-02"), err)
		}
	}
	return nil
}

// RunAll runs the pipeline for every active organization concurrently. One
// organization's failure cancels the rest; the first error is returned.
func (p *Pipeline) RunAll(ctx context.Context, window timeframe.Window) error {
	orgs, err := organizations.GetActiveOrganizations(p.db.WithContext(ctx))
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	for _, org := range orgs {
		group.Go(func() error {
			if err := p.Run(ctx, org.ID, window); err != nil {
				return fmt.Errorf("organization %s: %w", org.Slug, err)
			}
			return nil
		})
	}
	return group.Wait()
}

// applyProbabilities fills each edge's row-conditional probability from the
// normalized matrix before persistence.
func applyProbabilities(edges []transitions.ChannelTransition) {
	matrix := transitions.Normalize(edges)
	for i := range edges {
		edges[i].Probability = matrix[edges[i].FromChannel][edges[i].ToChannel]
	}
}
