// Package schedule decides how long a session waits before its next fetch,
// based on how much of the playback buffer around the current position has
// already been consumed.
package schedule

import (
	"math"
	"time"
)

// MinWait is returned when the next chunk should be fetched right away. It is
// non-zero so throughput computed over the wait stays finite.
const MinWait = time.Millisecond

// TimeRange is a buffered span of media time, in seconds.
type TimeRange struct {
	Start float64
	End   float64
}

// Snapshot is the playback state observed at one instant. Sources holds the
// buffered ranges of every active buffer (e.g. one audio and one video track),
// each list ordered by start time.
type Snapshot struct {
	CurrentTime  float64
	PlaybackRate float64
	Sources      [][]TimeRange
}

// Interval returns the buffered span around CurrentTime that every source
// covers. When some source does not cover CurrentTime, or there are no sources,
// the span is empty and both bounds equal CurrentTime.
func Interval(s Snapshot) (start, end float64) {
	if len(s.Sources) == 0 {
		return s.CurrentTime, s.CurrentTime
	}
	start, end = math.Inf(-1), math.Inf(1)
	for _, ranges := range s.Sources {
		found := false
		for _, r := range ranges {
			if s.CurrentTime >= r.Start && s.CurrentTime <= r.End {
				start = math.Max(start, r.Start)
				end = math.Min(end, r.End)
				found = true
				break
			}
		}
		if !found {
			return s.CurrentTime, s.CurrentTime
		}
	}
	return start, end
}

// Ratio is the consumed fraction of the buffered interval around CurrentTime.
// An empty interval counts as fully consumed.
func Ratio(s Snapshot) float64 {
	start, end := Interval(s)
	if end-start <= 0 {
		return 1
	}
	return (s.CurrentTime - start) / (end - start)
}

// Threshold is the consumed fraction past which the next chunk is fetched
// immediately: 3/4 at normal speed, lower when playing faster.
func Threshold(rate float64) float64 {
	rate = normalizeRate(rate)
	return 3 / (rate + 3)
}

// Wait computes the delay before the next fetch. Once the buffer is drained
// past Threshold it returns MinWait; otherwise it waits for half of the
// remaining buffered time, scaled down by the playback rate.
func Wait(s Snapshot) time.Duration {
	rate := normalizeRate(s.PlaybackRate)
	if Ratio(s) >= Threshold(rate) {
		return MinWait
	}
	_, end := Interval(s)
	ms := 1000 * (end - s.CurrentTime) / (2 * rate)
	wait := time.Duration(ms * float64(time.Millisecond))
	if wait < MinWait {
		return MinWait
	}
	return wait
}

// Paused or nonsensical rates schedule as normal speed; a zero rate would
// otherwise never fire.
func normalizeRate(rate float64) float64 {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 1
	}
	return rate
}
