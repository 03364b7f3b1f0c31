// Package journeys reconstructs per-session visitor journeys from raw
// clickstream events and persists them as idempotent upserts.
package journeys

import (
	"log/slog"
	"sort"
	"time"

	"attriflow/internal/channels"
	"attriflow/internal/events"
	"attriflow/internal/timeframe"
)

// Conversion is the verdict of the external conversion oracle for a session.
type Conversion struct {
	Converted    bool
	RevenueCents int64
}

// ConversionPredicate maps a session to its conversion state. The builder
// treats it as an opaque oracle; a nil predicate marks nothing converted.
type ConversionPredicate func(organizationID uint, session Session) Conversion

// Session groups one session's events, sorted by timestamp ascending with
// ties broken by arrival order. It is an intermediate grouping materialized
// per aggregation run, never persisted.
type Session struct {
	SessionID string
	VisitorID string
	Events    []events.Event
}

// FirstPageView returns the session's earliest page view, or nil.
func (s *Session) FirstPageView() *events.Event {
	for i := range s.Events {
		if s.Events[i].EventType == events.EventTypePageView {
			return &s.Events[i]
		}
	}
	return nil
}

// PagePaths returns the ordered page-path sequence of the session's page
// views, not channel-collapsed and including reload duplicates.
func (s *Session) PagePaths() []string {
	var pages []string
	for _, e := range s.Events {
		if e.EventType == events.EventTypePageView {
			pages = append(pages, e.PagePath)
		}
	}
	return pages
}

// BuildResult holds the outputs of one journey reconstruction pass.
type BuildResult struct {
	Journeys []Journey
	Sessions []Session
	Skipped  int
}

// Builder turns raw events into journeys using a channel classifier.
type Builder struct {
	classifier *channels.Classifier
	logger     *slog.Logger
}

// NewBuilder creates a journey builder.
func NewBuilder(classifier *channels.Classifier, logger *slog.Logger) *Builder {
	return &Builder{classifier: classifier, logger: logger}
}

// Build groups the supplied events into sessions, classifies every page view
// and collapses consecutive duplicate channels into the journey path. Events
// outside the window or missing a session id are skipped, never fatal. The
// transform is pure; persistence is the caller's responsibility.
func (b *Builder) Build(organizationID uint, evts []events.Event, window timeframe.Window, predicate ConversionPredicate) BuildResult {
	grouped := make(map[string][]events.Event)
	var order []string
	skipped := 0

	for _, e := range evts {
		if !e.IsValid() {
			skipped++
			continue
		}
		if !window.IsZero() && !window.Contains(e.Timestamp) {
			continue
		}
		if _, seen := grouped[e.SessionID]; !seen {
			order = append(order, e.SessionID)
		}
		grouped[e.SessionID] = append(grouped[e.SessionID], e)
	}

	if skipped > 0 {
		b.logger.Debug("Skipped malformed events", slog.Int("count", skipped))
	}

	result := BuildResult{Skipped: skipped}
	now := time.Now().UTC()

	for _, sessionID := range order {
		group := grouped[sessionID]
		// Stable sort: ties keep original arrival order.
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})

		session := Session{
			SessionID: sessionID,
			VisitorID: group[0].VisitorID,
			Events:    group,
		}

		path := b.channelPath(group)

		journey := Journey{
			OrganizationID: organizationID,
			JourneyKey:     KeyFor(organizationID, sessionID),
			VisitorID:      session.VisitorID,
			SessionID:      sessionID,
			FirstTouchAt:   group[0].Timestamp.UTC(),
			LastTouchAt:    group[len(group)-1].Timestamp.UTC(),
			ComputedAt:     now,
		}
		journey.SetPath(path)

		if predicate != nil {
			conv := predicate(organizationID, session)
			journey.Converted = conv.Converted
			journey.RevenueCents = conv.RevenueCents
		}

		result.Journeys = append(result.Journeys, journey)
		result.Sessions = append(result.Sessions, session)
	}

	return result
}

// channelPath classifies the session's page views and collapses consecutive
// duplicates. Page views carrying no attribution signal of their own are
// plain in-session navigation and keep the current channel; only a new
// signal can change it. A session with no classifiable page view defaults to
// a single-element direct path, so the path is never empty.
func (b *Builder) channelPath(group []events.Event) []string {
	var path []string
	for _, e := range group {
		if e.EventType != events.EventTypePageView {
			continue
		}
		tp := e.Touchpoint()
		if len(path) > 0 && !tp.HasAttribution() {
			continue
		}
		label := b.classifier.Classify(tp)
		if len(path) == 0 || path[len(path)-1] != label {
			path = append(path, label)
		}
	}
	if len(path) == 0 {
		path = []string{channels.Direct}
	}
	return path
}
