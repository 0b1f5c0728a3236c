package aggregation

import (
	"errors"
	"time"
)

// Granularity is the span of one sliding aggregation window.
type Granularity string

const (
	GranularityMinute    Granularity = "1m"
	GranularityTenMinute Granularity = "10m"
	GranularityHour      Granularity = "1h"
	GranularityDay       Granularity = "24h"
)

// Hop is the interval by which every window's boundaries advance.
const Hop = time.Minute

// DefaultGrace is how long past a window's end late records are accepted.
const DefaultGrace = 30 * time.Second

// DefaultGranularities lists every maintained window span.
var DefaultGranularities = []Granularity{
	GranularityMinute,
	GranularityTenMinute,
	GranularityHour,
	GranularityDay,
}

// ErrInvalidGranularity is returned for unsupported window spans.
var ErrInvalidGranularity = errors.New("aggregation: invalid granularity")

// Duration returns the window span.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityTenMinute:
		return 10 * time.Minute
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IsValid reports whether the granularity is supported.
func (g Granularity) IsValid() bool {
	return g.Duration() > 0
}

// Slots returns how many windows of this granularity overlap at one instant
// when hopping every Hop.
func (g Granularity) Slots() int {
	d := g.Duration()
	if d <= 0 {
		return 0
	}
	return int(d / Hop)
}

// ParseGranularity converts a config string into a Granularity.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(s)
	if !g.IsValid() {
		return "", ErrInvalidGranularity
	}
	return g, nil
}

// AlignDown truncates t to the hop boundary at or before it.
func AlignDown(t time.Time) time.Time {
	return t.UTC().Truncate(Hop)
}

// CandidateStarts returns the start of every window of granularity g whose
// half-open span [start, start+g) contains t, oldest first. With hop h and
// span g there are g/h candidates.
func CandidateStarts(g Granularity, t time.Time) []time.Time {
	slots := g.Slots()
	if slots == 0 {
		return nil
	}
	newest := AlignDown(t)
	starts := make([]time.Time, 0, slots)
	for i := slots - 1; i >= 0; i-- {
		starts = append(starts, newest.Add(-time.Duration(i)*Hop))
	}
	return starts
}
