package identity

import (
	"math"
	"slices"
	"time"

	"github.com/layer-3/walletauth/core"
)

const (
	durationWeight = 0.6
	hoursWeight    = 0.4
)

// Summarize derives a behavior pattern from sessions. Only sessions with both
// a creation and a last-active time contribute.
func Summarize(sessions []core.Session) core.BehaviorPattern {
	var total time.Duration
	var count int
	hours := make(map[int]struct{})

	for _, s := range sessions {
		if s.CreatedAt.IsZero() || s.LastActiveAt.IsZero() {
			continue
		}
		total += s.LastActiveAt.Sub(s.CreatedAt)
		hours[s.CreatedAt.UTC().Hour()] = struct{}{}
		count++
	}

	if count == 0 {
		return core.BehaviorPattern{}
	}

	active := make([]int, 0, len(hours))
	for h := range hours {
		active = append(active, h)
	}
	slices.Sort(active)

	return core.BehaviorPattern{
		AvgDuration:  total / time.Duration(count),
		ActiveHours:  active,
		SessionCount: count,
	}
}

// Similarity scores two patterns in [0, 1]: 60% duration closeness within an
// hour, 40% Jaccard overlap of active hours. A pattern built from no sessions
// scores 0 against anything.
func Similarity(a, b core.BehaviorPattern) float64 {
	if a.SessionCount == 0 || b.SessionCount == 0 {
		return 0
	}

	diff := math.Abs((a.AvgDuration - b.AvgDuration).Seconds())
	durationScore := math.Max(0, 1-diff/3600)

	return durationWeight*durationScore + hoursWeight*jaccard(a.ActiveHours, b.ActiveHours)
}

func jaccard(a, b []int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[int]bool, len(a))
	for _, h := range a {
		set[h] = true
	}

	union := len(set)
	inter := 0
	seen := make(map[int]bool, len(b))
	for _, h := range b {
		if seen[h] {
			continue
		}
		seen[h] = true
		if set[h] {
			inter++
		} else {
			union++
		}
	}

	return float64(inter) / float64(union)
}
