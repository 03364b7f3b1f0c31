package funnels_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attriflow/internal/events"
	"attriflow/internal/funnels"
	"attriflow/internal/journeys"
	"attriflow/internal/testsupport"
	"attriflow/internal/timeframe"
)

func newAggregator() *funnels.Aggregator {
	return funnels.NewAggregator(funnels.DefaultLimits(), testsupport.GetLogger())
}

func sessionOf(evts ...events.Event) journeys.Session {
	return journeys.Session{
		SessionID: evts[0].SessionID,
		VisitorID: evts[0].VisitorID,
		Events:    evts,
	}
}

func convertEverything(revenueCents int64) journeys.ConversionPredicate {
	return func(organizationID uint, session journeys.Session) journeys.Conversion {
		return journeys.Conversion{Converted: true, RevenueCents: revenueCents}
	}
}

func findFlow(flows []funnels.FunnelTransition, fromType, fromID, toID string) *funnels.FunnelTransition {
	for i := range flows {
		if flows[i].FromType == fromType && flows[i].FromID == fromID && flows[i].ToID == toID {
			return &flows[i]
		}
	}
	return nil
}

func TestBuildDailyFlowsPaidSession(t *testing.T) {
	agg := newAggregator()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	landing := testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(10*time.Hour))
	landing.UTMSource = "google"
	landing.UTMMedium = "cpc"
	pricing := testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", day.Add(10*time.Hour+time.Minute))
	thanks := testsupport.PageView(1, "sess-a", "visitor-1", "/thank-you", day.Add(10*time.Hour+2*time.Minute))

	flows := agg.BuildDailyFlows(1, []journeys.Session{sessionOf(landing, pricing, thanks)}, day, convertEverything(5000))

	entry := findFlow(flows, funnels.NodeTypeSource, "google / cpc", "/")
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.VisitorsAtFrom)
	assert.Equal(t, int64(5000), entry.RevenueCents)
	assert.Equal(t, 1.0, entry.TransitionRate)

	first := findFlow(flows, funnels.NodeTypePage, "/", "/pricing")
	require.NotNil(t, first)
	assert.Equal(t, 1, first.Transitioned)
	assert.Equal(t, 0, first.Conversions)

	// The conversion lands on the final distinct transition only.
	last := findFlow(flows, funnels.NodeTypePage, "/pricing", "/thank-you")
	require.NotNil(t, last)
	assert.Equal(t, 1, last.Conversions)
	assert.Equal(t, int64(5000), last.RevenueCents)
}

func TestBuildDailyFlowsOneEntryPerSession(t *testing.T) {
	agg := newAggregator()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	evts := []events.Event{
		testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(time.Hour)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/about", day.Add(2*time.Hour)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", day.Add(3*time.Hour)),
	}

	flows := agg.BuildDailyFlows(1, []journeys.Session{sessionOf(evts...)}, day, nil)

	entryRows := 0
	for _, f := range flows {
		if f.FromType != funnels.NodeTypePage {
			entryRows++
		}
	}
	assert.Equal(t, 1, entryRows)

	entry := findFlow(flows, funnels.NodeTypeSource, "Direct", "/")
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.VisitorsAtFrom)
}

func TestBuildDailyFlowsSkipsReloadSelfLoops(t *testing.T) {
	agg := newAggregator()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	evts := []events.Event{
		testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(time.Hour)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(time.Hour+time.Minute)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", day.Add(time.Hour+2*time.Minute)),
	}

	flows := agg.BuildDailyFlows(1, []journeys.Session{sessionOf(evts...)}, day, nil)

	assert.Nil(t, findFlow(flows, funnels.NodeTypePage, "/", "/"))
	require.NotNil(t, findFlow(flows, funnels.NodeTypePage, "/", "/pricing"))
}

func TestBuildDailyFlowsConversionBackwardScanSkipsTrailingReloads(t *testing.T) {
	agg := newAggregator()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	// Session ends with a reload; the conversion belongs to the last pair of
	// differing pages, not the reload.
	evts := []events.Event{
		testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(time.Hour)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/checkout", day.Add(time.Hour+time.Minute)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/checkout", day.Add(time.Hour+2*time.Minute)),
	}

	flows := agg.BuildDailyFlows(1, []journeys.Session{sessionOf(evts...)}, day, convertEverything(1000))

	edge := findFlow(flows, funnels.NodeTypePage, "/", "/checkout")
	require.NotNil(t, edge)
	assert.Equal(t, 1, edge.Conversions)
}

func TestBuildDailyFlowsIgnoresSessionsOutsideDay(t *testing.T) {
	agg := newAggregator()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	inDay := sessionOf(
		testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(time.Hour)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", day.Add(2*time.Hour)),
	)
	nextDay := sessionOf(
		testsupport.PageView(1, "sess-b", "visitor-2", "/", day.Add(25*time.Hour)),
		testsupport.PageView(1, "sess-b", "visitor-2", "/pricing", day.Add(26*time.Hour)),
	)

	flows := agg.BuildDailyFlows(1, []journeys.Session{inDay, nextDay}, day, nil)

	edge := findFlow(flows, funnels.NodeTypePage, "/", "/pricing")
	require.NotNil(t, edge)
	assert.Equal(t, 1, edge.Transitioned)
}

func TestBuildDailyFlowsEntryLabelCascade(t *testing.T) {
	agg := newAggregator()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	gclid := testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(time.Hour))
	gclid.GCLID = "abc"
	gclid.UTMCampaign = "spring"

	referred := testsupport.PageView(1, "sess-b", "visitor-2", "/", day.Add(time.Hour))
	referred.ReferrerDomain = "Partner-Blog.io"

	bare := testsupport.PageView(1, "sess-c", "visitor-3", "/", day.Add(time.Hour))

	flows := agg.BuildDailyFlows(1, []journeys.Session{sessionOf(gclid), sessionOf(referred), sessionOf(bare)}, day, nil)

	assert.NotNil(t, findFlow(flows, funnels.NodeTypeSource, "Google Ads / spring", "/"))
	assert.NotNil(t, findFlow(flows, funnels.NodeTypeReferrer, "partner-blog.io", "/"))
	assert.NotNil(t, findFlow(flows, funnels.NodeTypeSource, "Direct", "/"))
}

func TestBuildDailyFlowsTruncatesToLimits(t *testing.T) {
	agg := funnels.NewAggregator(funnels.Limits{PageTransitions: 3, SourceEntries: 2}, testsupport.GetLogger())
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var sessions []journeys.Session
	for i := 0; i < 6; i++ {
		sessionID := fmt.Sprintf("sess-%d", i)
		visitorID := fmt.Sprintf("visitor-%d", i)
		first := testsupport.PageView(1, sessionID, visitorID, fmt.Sprintf("/landing-%d", i), day.Add(time.Hour))
		first.UTMSource = fmt.Sprintf("source-%d", i)
		second := testsupport.PageView(1, sessionID, visitorID, "/signup", day.Add(2*time.Hour))
		sessions = append(sessions, sessionOf(first, second))
	}

	flows := agg.BuildDailyFlows(1, sessions, day, nil)

	pageRows, entryRows := 0, 0
	for _, f := range flows {
		if f.FromType == funnels.NodeTypePage {
			pageRows++
		} else {
			entryRows++
		}
	}
	assert.Equal(t, 3, pageRows)
	assert.Equal(t, 2, entryRows)
}

func TestUpsertFlowsIsIdempotent(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	agg := newAggregator()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	sessions := []journeys.Session{sessionOf(
		testsupport.PageView(1, "sess-a", "visitor-1", "/", day.Add(time.Hour)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", day.Add(2*time.Hour)),
	)}

	window := timeframe.DayWindow(day)

	// Aggregate and persist twice over the same day.
	for i := 0; i < 2; i++ {
		flows := agg.BuildDailyFlows(1, sessions, day, nil)
		require.NoError(t, funnels.UpsertFlows(db, flows))
	}

	stored, err := funnels.FlowsInWindow(db, 1, window)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	for _, f := range stored {
		assert.Equal(t, 1, f.VisitorsAtFrom)
	}
}

func TestBucketSessionsByDay(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	buckets := funnels.BucketSessionsByDay([]journeys.Session{
		sessionOf(testsupport.PageView(1, "sess-a", "visitor-1", "/", day1)),
		sessionOf(testsupport.PageView(1, "sess-b", "visitor-2", "/", day2)),
		sessionOf(testsupport.PageView(1, "sess-c", "visitor-3", "/", day1.Add(time.Hour))),
	})

	days := funnels.SortedDays(buckets)
	require.Len(t, days, 2)
	assert.True(t, days[0].Before(days[1]))
	assert.Len(t, buckets[days[0]], 2)
	assert.Len(t, buckets[days[1]], 1)
}
