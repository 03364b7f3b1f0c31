// Package insights computes distributional journey analytics per
// organization and period: channel shares, entry/exit shares, the normalized
// transition matrix snapshot and the most common exact paths.
package insights

import (
	"math"
	"sort"
	"strings"

	"attriflow/internal/journeys"
	"attriflow/internal/transitions"
)

// PathCount is one exact channel path with its occurrence count.
type PathCount struct {
	Path  []string `json:"path"`
	Count int      `json:"count"`
}

// DataQuality describes match confidence of the underlying identity data.
// It is governed externally and passed through unchanged.
type DataQuality struct {
	Level  string `json:"level"`
	Report string `json:"report"`
}

// Summary is the in-memory analytics result. All aggregate maps stay typed
// here; serialization happens only at the storage edge (see record.go).
type Summary struct {
	TotalJourneys       int
	ConvertedJourneys   int
	AvgPathLength       float64
	ChannelDistribution map[string]int
	EntryShares         map[string]int
	ExitShares          map[string]int
	TransitionMatrix    map[string]map[string]float64
	CommonPaths         []PathCount
	DataQuality         DataQuality
}

const topPathCount = 10

// Summarize computes the distributional summary over journeys and the raw
// transition edges of the same period. It must run on raw counts, not the
// persisted table, so it is invoked directly after matrix building. Zero
// journeys yield an empty summary, never an error: "no data for a period" is
// a valid steady state.
func Summarize(list []journeys.Journey, edges []transitions.ChannelTransition, quality DataQuality) Summary {
	summary := Summary{
		ChannelDistribution: make(map[string]int),
		EntryShares:         make(map[string]int),
		ExitShares:          make(map[string]int),
		TransitionMatrix:    transitions.Normalize(edges),
		DataQuality:         quality,
	}

	total := len(list)
	summary.TotalJourneys = total
	if total == 0 {
		return summary
	}

	containing := make(map[string]int)
	entries := make(map[string]int)
	exits := make(map[string]int)
	pathCounts := make(map[string]int)
	var pathOrder []string
	totalLength := 0

	for _, j := range list {
		path := j.Path()
		if len(path) == 0 {
			continue
		}
		totalLength += len(path)
		if j.Converted {
			summary.ConvertedJourneys++
		}

		seen := make(map[string]bool, len(path))
		for _, channel := range path {
			if !seen[channel] {
				containing[channel]++
				seen[channel] = true
			}
		}
		entries[path[0]]++
		exits[path[len(path)-1]]++

		key := strings.Join(path, ">")
		if _, ok := pathCounts[key]; !ok {
			pathOrder = append(pathOrder, key)
		}
		pathCounts[key]++
	}

	summary.AvgPathLength = float64(totalLength) / float64(total)

	for channel, count := range containing {
		summary.ChannelDistribution[channel] = percent(count, total)
	}
	for channel, count := range entries {
		summary.EntryShares[channel] = percent(count, total)
	}
	for channel, count := range exits {
		summary.ExitShares[channel] = percent(count, total)
	}

	// Stable sort by frequency keeps first-seen order on ties.
	sort.SliceStable(pathOrder, func(i, j int) bool {
		return pathCounts[pathOrder[i]] > pathCounts[pathOrder[j]]
	})
	limit := topPathCount
	if len(pathOrder) < limit {
		limit = len(pathOrder)
	}
	for _, key := range pathOrder[:limit] {
		summary.CommonPaths = append(summary.CommonPaths, PathCount{
			Path:  strings.Split(key, ">"),
			Count: pathCounts[key],
		})
	}

	return summary
}

// percent rounds count/total to the nearest integer percentage.
func percent(count, total int) int {
	return int(math.Round(float64(count) / float64(total) * 100))
}
