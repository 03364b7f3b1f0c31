package journeys_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attriflow/internal/channels"
	"attriflow/internal/events"
	"attriflow/internal/journeys"
	"attriflow/internal/testsupport"
	"attriflow/internal/timeframe"
)

func newBuilder() *journeys.Builder {
	return journeys.NewBuilder(channels.NewDefaultClassifier(), testsupport.GetLogger())
}

func TestBuildGroupsBySession(t *testing.T) {
	builder := newBuilder()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	evts := []events.Event{
		testsupport.PageView(1, "sess-a", "visitor-1", "/", base),
		testsupport.PageView(1, "sess-b", "visitor-2", "/pricing", base.Add(time.Minute)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/features", base.Add(2*time.Minute)),
	}

	result := builder.Build(1, evts, timeframe.Window{}, nil)

	require.Len(t, result.Journeys, 2)
	require.Len(t, result.Sessions, 2)
	assert.Equal(t, "sess-a", result.Journeys[0].SessionID)
	assert.Equal(t, "sess-b", result.Journeys[1].SessionID)
	assert.Len(t, result.Sessions[0].Events, 2)
}

func TestBuildReordersWithinSession(t *testing.T) {
	builder := newBuilder()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Delivered out of order; the builder restores timestamp order.
	evts := []events.Event{
		testsupport.PageView(1, "sess-a", "visitor-1", "/checkout", base.Add(2*time.Minute)),
		testsupport.PageView(1, "sess-a", "visitor-1", "/", base),
		testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", base.Add(time.Minute)),
	}

	result := builder.Build(1, evts, timeframe.Window{}, nil)

	require.Len(t, result.Sessions, 1)
	assert.Equal(t, []string{"/", "/pricing", "/checkout"}, result.Sessions[0].PagePaths())
	assert.Equal(t, base, result.Journeys[0].FirstTouchAt)
	assert.Equal(t, base.Add(2*time.Minute), result.Journeys[0].LastTouchAt)
}

func TestBuildCollapsesConsecutiveChannels(t *testing.T) {
	builder := newBuilder()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	google := testsupport.PageView(1, "sess-a", "visitor-1", "/", base)
	google.ReferrerDomain = "google.com"
	again := testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", base.Add(time.Minute))
	again.ReferrerDomain = "google.com"
	email := testsupport.PageView(1, "sess-a", "visitor-1", "/checkout", base.Add(2*time.Minute))
	email.UTMMedium = "email"

	result := builder.Build(1, []events.Event{google, again, email}, timeframe.Window{}, nil)

	require.Len(t, result.Journeys, 1)
	path := result.Journeys[0].Path()
	assert.Equal(t, []string{channels.OrganicSearch, channels.Email}, path)
	assert.Equal(t, 2, result.Journeys[0].PathLength)

	for i := 1; i < len(path); i++ {
		assert.NotEqual(t, path[i-1], path[i])
	}
}

func TestBuildSignallessNavigationKeepsChannel(t *testing.T) {
	builder := newBuilder()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	landing := testsupport.PageView(1, "sess-a", "visitor-1", "/", base)
	landing.UTMSource = "google"
	landing.UTMMedium = "cpc"
	// In-session navigation carries no attribution of its own.
	pricing := testsupport.PageView(1, "sess-a", "visitor-1", "/pricing", base.Add(time.Minute))
	thanks := testsupport.PageView(1, "sess-a", "visitor-1", "/thank-you", base.Add(2*time.Minute))

	result := builder.Build(1, []events.Event{landing, pricing, thanks}, timeframe.Window{}, nil)

	require.Len(t, result.Journeys, 1)
	assert.Equal(t, []string{channels.PaidSearch}, result.Journeys[0].Path())
}

func TestBuildDefaultsToDirect(t *testing.T) {
	builder := newBuilder()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	// Session with only a click event has no classifiable page view.
	click := events.Event{
		OrganizationID: 1,
		VisitorID:      "visitor-1",
		SessionID:      "sess-a",
		EventType:      events.EventTypeClick,
		Timestamp:      base,
	}

	result := builder.Build(1, []events.Event{click}, timeframe.Window{}, nil)

	require.Len(t, result.Journeys, 1)
	assert.Equal(t, []string{channels.Direct}, result.Journeys[0].Path())
	assert.Equal(t, 1, result.Journeys[0].PathLength)
}

func TestBuildSkipsMalformedEvents(t *testing.T) {
	builder := newBuilder()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	missingSession := testsupport.PageView(1, "", "visitor-1", "/", base)
	zeroTime := testsupport.PageView(1, "sess-a", "visitor-1", "/", time.Time{})
	valid := testsupport.PageView(1, "sess-a", "visitor-1", "/", base)

	result := builder.Build(1, []events.Event{missingSession, zeroTime, valid}, timeframe.Window{}, nil)

	assert.Equal(t, 2, result.Skipped)
	require.Len(t, result.Journeys, 1)
}

func TestBuildFiltersByWindow(t *testing.T) {
	builder := newBuilder()
	window := timeframe.NewWindow(
		time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	)

	inside := testsupport.PageView(1, "sess-a", "visitor-1", "/", window.From.Add(time.Hour))
	outside := testsupport.PageView(1, "sess-b", "visitor-2", "/", window.To.Add(time.Hour))

	result := builder.Build(1, []events.Event{inside, outside}, window, nil)

	require.Len(t, result.Journeys, 1)
	assert.Equal(t, "sess-a", result.Journeys[0].SessionID)
}

func TestBuildAppliesConversionPredicate(t *testing.T) {
	builder := newBuilder()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	evts := []events.Event{
		testsupport.PageView(1, "sess-a", "visitor-1", "/thank-you", base),
		testsupport.PageView(1, "sess-b", "visitor-2", "/", base),
	}

	predicate := func(organizationID uint, session journeys.Session) journeys.Conversion {
		if session.SessionID == "sess-a" {
			return journeys.Conversion{Converted: true, RevenueCents: 5000}
		}
		return journeys.Conversion{}
	}

	result := builder.Build(1, evts, timeframe.Window{}, predicate)

	require.Len(t, result.Journeys, 2)
	assert.True(t, result.Journeys[0].Converted)
	assert.Equal(t, int64(5000), result.Journeys[0].RevenueCents)
	assert.False(t, result.Journeys[1].Converted)
}

func TestKeyForIsDeterministic(t *testing.T) {
	assert.Equal(t, journeys.KeyFor(1, "sess-a"), journeys.KeyFor(1, "sess-a"))
	assert.NotEqual(t, journeys.KeyFor(1, "sess-a"), journeys.KeyFor(2, "sess-a"))
	assert.NotEqual(t, journeys.KeyFor(1, "sess-a"), journeys.KeyFor(1, "sess-b"))
	assert.Len(t, journeys.KeyFor(1, "sess-a"), 36)
}

func TestUpsertJourneysPreservesConversionState(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	journey := journeys.Journey{
		OrganizationID: 1,
		JourneyKey:     journeys.KeyFor(1, "sess-a"),
		VisitorID:      "visitor-1",
		SessionID:      "sess-a",
		FirstTouchAt:   base,
		LastTouchAt:    base,
		ComputedAt:     base,
	}
	journey.SetPath([]string{channels.Direct})

	require.NoError(t, journeys.UpsertJourneys(db, []journeys.Journey{journey}))

	// Mark the journey converted out of band.
	journey.Converted = true
	journey.RevenueCents = 5000
	require.NoError(t, journeys.UpsertConversions(db, []journeys.Journey{journey}))

	// Recompute with a different path; conversion state must survive.
	recomputed := journey
	recomputed.Converted = false
	recomputed.RevenueCents = 0
	recomputed.SetPath([]string{channels.OrganicSearch, channels.Direct})
	require.NoError(t, journeys.UpsertJourneys(db, []journeys.Journey{recomputed}))

	stored, err := journeys.JourneysInWindow(db, 1, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []string{channels.OrganicSearch, channels.Direct}, stored[0].Path())
	assert.True(t, stored[0].Converted)
	assert.Equal(t, int64(5000), stored[0].RevenueCents)
}
