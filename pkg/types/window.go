package types

import "time"

// WindowLabel names one of the fixed trailing-lookback reporting windows
// computed per run. MAX always covers the full series.
type WindowLabel string

const (
	Window1Y  WindowLabel = "1Y"
	Window3Y  WindowLabel = "3Y"
	Window5Y  WindowLabel = "5Y"
	WindowMax WindowLabel = "MAX"
)

// AllWindows is the fixed set of windows every run reports on.
var AllWindows = []WindowLabel{Window1Y, Window3Y, Window5Y, WindowMax}

// Years returns the trailing lookback in years, and ok=false for MAX since it
// has no fixed lookback.
func (w WindowLabel) Years() (int, bool) {
	switch w {
	case Window1Y:
		return 1, true
	case Window3Y:
		return 3, true
	case Window5Y:
		return 5, true
	default:
		return 0, false
	}
}

// WindowSlice is the [Start, End] boundary for one WindowLabel, resolved
// against a run's actual last bar timestamp.
type WindowSlice struct {
	Label WindowLabel `json:"label"`
	Start time.Time   `json:"start"`
	End   time.Time   `json:"end"`
}

// ResolveWindows computes the WindowSlice for every label in AllWindows given
// the series' first and last timestamps. A trailing window whose Start would
// fall before the series' first bar is clamped to the first bar: insufficient
// history shortens rather than excludes a window.
func ResolveWindows(first, last time.Time) []WindowSlice {
	out := make([]WindowSlice, 0, len(AllWindows))
	for _, label := range AllWindows {
		start := first
		if years, ok := label.Years(); ok {
			candidate := last.AddDate(-years, 0, 0)
			if candidate.After(first) {
				start = candidate
			}
		}
		out = append(out, WindowSlice{Label: label, Start: start, End: last})
	}
	return out
}
