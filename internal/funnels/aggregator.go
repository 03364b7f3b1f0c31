// Package funnels aggregates per-day page navigation and session-entry
// attribution edges, the "implicit sitemap" of an organization's traffic.
package funnels

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"attriflow/internal/events"
	"attriflow/internal/journeys"
	"attriflow/internal/timeframe"
)

// Limits caps the number of rows persisted per day. The page graph has
// unbounded cardinality while the table has practical row-count limits, so
// only the heaviest edges survive.
type Limits struct {
	PageTransitions int
	SourceEntries   int
}

// DefaultLimits returns the standard per-day row caps.
func DefaultLimits() Limits {
	return Limits{PageTransitions: 200, SourceEntries: 50}
}

// Aggregator computes daily funnel flows from raw session page sequences.
type Aggregator struct {
	limits Limits
	logger *slog.Logger
}

// NewAggregator creates a funnel flow aggregator.
func NewAggregator(limits Limits, logger *slog.Logger) *Aggregator {
	if limits.PageTransitions <= 0 {
		limits.PageTransitions = DefaultLimits().PageTransitions
	}
	if limits.SourceEntries <= 0 {
		limits.SourceEntries = DefaultLimits().SourceEntries
	}
	return &Aggregator{limits: limits, logger: logger}
}

// visitorSet tracks distinct visitor ids.
type visitorSet map[string]struct{}

func (s visitorSet) add(id string) { s[id] = struct{}{} }

// pageEdge accumulates one page-to-page transition before flattening.
type pageEdge struct {
	from, to     string
	transitioned visitorSet
	conversions  int
	revenueCents int64
}

// sourceEntry accumulates one entry-source edge before flattening.
type sourceEntry struct {
	nodeType     string
	label        string
	page         string
	visitors     int
	conversions  int
	revenueCents int64
}

// BuildDailyFlows aggregates one organization's sessions for a single UTC
// calendar day. Sessions whose first event falls outside the day are ignored;
// the caller buckets sessions per day and invokes this once per day present
// in the window.
func (a *Aggregator) BuildDailyFlows(organizationID uint, sessions []journeys.Session, day time.Time, predicate journeys.ConversionPredicate) []FunnelTransition {
	dayWindow := timeframe.DayWindow(day)

	pageEdges := make(map[string]*pageEdge)
	var pageOrder []string
	entries := make(map[string]*sourceEntry)
	var entryOrder []string
	pageVisitors := make(map[string]visitorSet)

	for _, session := range sessions {
		if len(session.Events) == 0 || !dayWindow.Contains(session.Events[0].Timestamp) {
			continue
		}

		conv := journeys.Conversion{}
		if predicate != nil {
			conv = predicate(organizationID, session)
		}

		a.recordEntry(session, conv, entries, &entryOrder)
		a.recordPageFlow(session, conv, pageEdges, &pageOrder, pageVisitors)
	}

	flows := a.flatten(organizationID, dayWindow.From, pageEdges, pageOrder, pageVisitors, entries, entryOrder)

	a.logger.Debug("Aggregated daily funnel flows",
		slog.Uint64("organization_id", uint64(organizationID)),
		slog.Time("day", dayWindow.From),
		slog.Int("rows", len(flows)))

	return flows
}

// recordEntry produces exactly one entry-source record per session, derived
// from its first page view. Multiple page views never double count.
func (a *Aggregator) recordEntry(session journeys.Session, conv journeys.Conversion, entries map[string]*sourceEntry, order *[]string) {
	first := session.FirstPageView()
	if first == nil {
		return
	}

	nodeType, label := classifyEntrySource(first)
	key := nodeType + "|" + label + "|" + first.PagePath

	entry, ok := entries[key]
	if !ok {
		entry = &sourceEntry{nodeType: nodeType, label: label, page: first.PagePath}
		entries[key] = entry
		*order = append(*order, key)
	}
	entry.visitors++
	if conv.Converted {
		entry.conversions++
		entry.revenueCents += conv.RevenueCents
	}
}

// classifyEntrySource resolves the session entry label via the cascade
// ad-click id > UTM source > referrer domain > Direct.
func classifyEntrySource(first *events.Event) (nodeType, label string) {
	campaign := strings.TrimSpace(first.UTMCampaign)

	switch {
	case first.GCLID != "":
		label = "Google Ads"
	case first.FBCLID != "":
		label = "Facebook Ads"
	case first.TTCLID != "":
		label = "TikTok Ads"
	}
	if label != "" {
		if campaign != "" {
			label = label + " / " + campaign
		}
		return NodeTypeSource, label
	}

	if source := strings.TrimSpace(first.UTMSource); source != "" {
		label = source
		if medium := strings.TrimSpace(first.UTMMedium); medium != "" {
			label = label + " / " + medium
		}
		if campaign != "" {
			label = label + " / " + campaign
		}
		return NodeTypeSource, label
	}

	if referrer := strings.TrimSpace(first.ReferrerDomain); referrer != "" {
		return NodeTypeReferrer, strings.ToLower(referrer)
	}

	return NodeTypeSource, "Direct"
}

// recordPageFlow walks the session's page sequence, counting each transition
// between consecutive distinct pages. Reload self-loops are skipped. The
// conversion is credited to exactly one edge: the last distinct-page
// transition before the session end, found by scanning backward.
func (a *Aggregator) recordPageFlow(session journeys.Session, conv journeys.Conversion, edges map[string]*pageEdge, order *[]string, pageVisitors map[string]visitorSet) {
	pages := session.PagePaths()

	for _, p := range pages {
		set, ok := pageVisitors[p]
		if !ok {
			set = make(visitorSet)
			pageVisitors[p] = set
		}
		set.add(session.VisitorID)
	}

	for i := 0; i+1 < len(pages); i++ {
		if pages[i] == pages[i+1] {
			continue
		}
		edge := a.edgeFor(edges, order, pages[i], pages[i+1])
		edge.transitioned.add(session.VisitorID)
	}

	if !conv.Converted {
		return
	}

	// Backward scan for the last pair of differing consecutive pages.
	for i := len(pages) - 1; i > 0; i-- {
		if pages[i] != pages[i-1] {
			edge := a.edgeFor(edges, order, pages[i-1], pages[i])
			edge.conversions++
			edge.revenueCents += conv.RevenueCents
			return
		}
	}
}

func (a *Aggregator) edgeFor(edges map[string]*pageEdge, order *[]string, from, to string) *pageEdge {
	key := from + "|" + to
	edge, ok := edges[key]
	if !ok {
		edge = &pageEdge{from: from, to: to, transitioned: make(visitorSet)}
		edges[key] = edge
		*order = append(*order, key)
	}
	return edge
}

// flatten turns the accumulators into persisted rows, applies rates and the
// top-K truncation.
func (a *Aggregator) flatten(organizationID uint, dayStart time.Time,
	pageEdges map[string]*pageEdge, pageOrder []string, pageVisitors map[string]visitorSet,
	entries map[string]*sourceEntry, entryOrder []string) []FunnelTransition {

	pageRows := make([]FunnelTransition, 0, len(pageOrder))
	for _, key := range pageOrder {
		edge := pageEdges[key]
		if len(edge.transitioned) == 0 && edge.conversions == 0 {
			continue
		}
		visitorsAtFrom := len(pageVisitors[edge.from])
		transitioned := len(edge.transitioned)

		rate := 0.0
		if visitorsAtFrom > 0 {
			rate = float64(transitioned) / float64(visitorsAtFrom)
			if rate > 1 {
				rate = 1
			}
		}
		convRate := 0.0
		if transitioned > 0 {
			convRate = float64(edge.conversions) / float64(transitioned)
			if convRate > 1 {
				convRate = 1
			}
		}

		pageRows = append(pageRows, FunnelTransition{
			OrganizationID: organizationID,
			FromType:       NodeTypePage,
			FromID:         edge.from,
			ToType:         NodeTypePage,
			ToID:           edge.to,
			PeriodStart:    dayStart,
			VisitorsAtFrom: visitorsAtFrom,
			Transitioned:   transitioned,
			TransitionRate: rate,
			Conversions:    edge.conversions,
			ConversionRate: convRate,
			RevenueCents:   edge.revenueCents,
		})
	}

	entryRows := make([]FunnelTransition, 0, len(entryOrder))
	for _, key := range entryOrder {
		entry := entries[key]
		convRate := 0.0
		if entry.visitors > 0 {
			convRate = float64(entry.conversions) / float64(entry.visitors)
		}
		entryRows = append(entryRows, FunnelTransition{
			OrganizationID: organizationID,
			FromType:       entry.nodeType,
			FromID:         entry.label,
			ToType:         NodeTypePage,
			ToID:           entry.page,
			PeriodStart:    dayStart,
			VisitorsAtFrom: entry.visitors,
			Transitioned:   entry.visitors,
			TransitionRate: 1,
			Conversions:    entry.conversions,
			ConversionRate: convRate,
			RevenueCents:   entry.revenueCents,
		})
	}

	// Stable sort keeps insertion order as the tie break.
	sort.SliceStable(pageRows, func(i, j int) bool {
		return pageRows[i].Transitioned > pageRows[j].Transitioned
	})
	if len(pageRows) > a.limits.PageTransitions {
		pageRows = pageRows[:a.limits.PageTransitions]
	}

	sort.SliceStable(entryRows, func(i, j int) bool {
		return entryRows[i].VisitorsAtFrom > entryRows[j].VisitorsAtFrom
	})
	if len(entryRows) > a.limits.SourceEntries {
		entryRows = entryRows[:a.limits.SourceEntries]
	}

	return append(pageRows, entryRows...)
}

// BucketSessionsByDay splits sessions into per-day groups keyed by the UTC
// day of each session's first event.
func BucketSessionsByDay(sessions []journeys.Session) map[time.Time][]journeys.Session {
	buckets := make(map[time.Time][]journeys.Session)
	for _, s := range sessions {
		if len(s.Events) == 0 {
			continue
		}
		day := timeframe.DayStart(s.Events[0].Timestamp)
		buckets[day] = append(buckets[day], s)
	}
	return buckets
}

// SortedDays returns the bucket keys in ascending order.
func SortedDays(buckets map[time.Time][]journeys.Session) []time.Time {
	days := make([]time.Time, 0, len(buckets))
	for day := range buckets {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
