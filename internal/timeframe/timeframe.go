// Package timeframe resamples a bar series to a coarser interval. Resampling
// is associative: aggregating 1-minute bars to 5-minute then to 75-minute
// produces the same result as aggregating 1-minute bars directly to
// 75-minute, because each output bar is a pure reduction (open=first,
// high=max, low=min, close=last, volume=sum) over a contiguous, non-
// overlapping group of input bars, and every minute/hour bucket boundary is
// computed from a fixed epoch rather than from the first bar seen.
package timeframe

import (
	"fmt"
	"strconv"
	"time"

	"github.com/atlas-quant/nifty-backtester/pkg/types"
)

// Interval names a target granularity, e.g. "5m", "75m", "1h", "4h", "1d",
// "1w", "1M". Market-session boundaries are not enforced here; callers that
// want intraday-only output must pre-filter.
type Interval string

const (
	Interval1Min   Interval = "1m"
	Interval5Min   Interval = "5m"
	Interval15Min  Interval = "15m"
	Interval25Min  Interval = "25m"
	Interval75Min  Interval = "75m"
	Interval125Min Interval = "125m"
	Interval1Hour  Interval = "1h"
	Interval4Hour  Interval = "4h"
	Interval1Day   Interval = "1d"
	Interval1Week  Interval = "1w"
	Interval1Month Interval = "1M"
)

// parse splits an Interval into its unit and magnitude: "75m" -> (75, 'm'),
// "4h" -> (4, 'h'), "1d" -> (1, 'd'), "1w" -> (1, 'w'), "1M" -> (1, 'M'). The
// unit suffix is case-sensitive ('m' = minutes, 'M' = months) since TradingView
// and the upstream broker feeds this module's callers both use that
// convention.
func parse(interval Interval) (n int, unit byte, err error) {
	s := string(interval)
	if len(s) < 2 {
		return 0, 0, fmt.Errorf("unsupported target interval %q", interval)
	}
	unit = s[len(s)-1]
	switch unit {
	case 'm', 'h', 'd', 'w', 'M':
	default:
		return 0, 0, fmt.Errorf("unsupported target interval %q", interval)
	}
	n, convErr := strconv.Atoi(s[:len(s)-1])
	if convErr != nil || n <= 0 {
		return 0, 0, fmt.Errorf("unsupported target interval %q", interval)
	}
	return n, unit, nil
}

// bucketStart floors t to the start of the bucket it belongs to for the
// given interval. Minute/hour buckets truncate from the Unix epoch so that
// aggregating in stages (1m -> 5m -> 75m) lands on the exact same boundaries
// as aggregating directly (1m -> 75m), as long as the coarser unit is an
// integer multiple of the finer one. Week buckets align to Monday 00:00;
// month buckets align to the 1st of the calendar month.
func bucketStart(t time.Time, interval Interval) (time.Time, error) {
	n, unit, err := parse(interval)
	if err != nil {
		return time.Time{}, err
	}
	switch unit {
	case 'm':
		return t.Truncate(time.Duration(n) * time.Minute), nil
	case 'h':
		return t.Truncate(time.Duration(n) * time.Hour), nil
	case 'd':
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location()), nil
	case 'w':
		y, m, d := t.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
		// ISO week starts Monday; time.Weekday Sunday=0.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset), nil
	case 'M':
		y, m, _ := t.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, t.Location()), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported target interval %q", interval)
	}
}

// Aggregate resamples series to the target interval. A bucket with zero bars
// never appears in the output — there is no synthetic fill for gaps, per the
// "zero-bar groups dropped" rule.
func Aggregate(series *types.Series, target Interval) (*types.Series, error) {
	if _, _, err := parse(target); err != nil {
		return nil, err
	}
	if series.Len() == 0 {
		return &types.Series{Symbol: series.Symbol}, nil
	}

	out := make([]types.Bar, 0, series.Len())
	var cur types.Bar
	var curBucket time.Time
	haveCur := false

	flush := func() {
		if haveCur {
			out = append(out, cur)
		}
	}

	for _, b := range series.Bars {
		bucket, err := bucketStart(b.Timestamp, target)
		if err != nil {
			return nil, err
		}
		if !haveCur || !bucket.Equal(curBucket) {
			flush()
			cur = types.Bar{Timestamp: bucket, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			curBucket = bucket
			haveCur = true
			continue
		}
		if b.High.GreaterThan(cur.High) {
			cur.High = b.High
		}
		if b.Low.LessThan(cur.Low) {
			cur.Low = b.Low
		}
		cur.Close = b.Close
		cur.Volume = cur.Volume.Add(b.Volume)
	}
	flush()

	return &types.Series{Symbol: series.Symbol, Bars: out}, nil
}
