// Package timeframe provides time window helpers for aggregation runs.
// Aggregates are bucketed by UTC calendar day, which is the persisted
// granularity for funnel flows.
package timeframe

import (
	"fmt"
	"time"
)

// Window represents a half-open time range [From, To).
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow creates a window, normalizing both bounds to UTC.
func NewWindow(from, to time.Time) Window {
	return Window{From: from.UTC(), To: to.UTC()}
}

// LastDays returns a window covering the last n UTC calendar days up to now,
// starting at the beginning of the earliest day.
func LastDays(n int) Window {
	now := time.Now().UTC()
	from := DayStart(now.AddDate(0, 0, -(n - 1)))
	return Window{From: from, To: now}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(w.From) && t.Before(w.To)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// Validate checks that the window bounds are ordered.
func (w Window) Validate() error {
	if !w.To.After(w.From) {
		return fmt.Errorf("window end %s must be after start %s", w.To, w.From)
	}
	return nil
}

// Days returns the start of every UTC calendar day touched by the window,
// in ascending order. An inverted window yields nil.
func (w Window) Days() []time.Time {
	if !w.To.After(w.From) {
		return nil
	}

	var days []time.Time
	day := DayStart(w.From)
	for day.Before(w.To) {
		days = append(days, day)
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// DayStart truncates a timestamp to the beginning of its UTC calendar day.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayWindow returns the [start, start+24h) window for the day containing t.
func DayWindow(t time.Time) Window {
	start := DayStart(t)
	return Window{From: start, To: start.AddDate(0, 0, 1)}
}
