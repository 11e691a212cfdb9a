// Package types provides the shared data model for the backtesting engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Bar is a single OHLCV observation at the series' native interval.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Valid reports whether the bar satisfies the OHLC invariant: low <= open,
// close <= high and low > 0.
func (b Bar) Valid() bool {
	if b.Low.LessThanOrEqual(decimal.Zero) {
		return false
	}
	if b.Low.GreaterThan(b.Open) || b.Open.GreaterThan(b.High) {
		return false
	}
	if b.Low.GreaterThan(b.Close) || b.Close.GreaterThan(b.High) {
		return false
	}
	return true
}

// Series is an ordered sequence of Bars for one symbol. Timestamps are
// expected to be strictly monotonically increasing; gaps from weekends or
// holidays are allowed and are the concern of internal/validation, not this
// type.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Len returns the number of bars in the series.
func (s *Series) Len() int { return len(s.Bars) }

// Closes returns the close prices as a float64 slice, the shape the
// indicator library (internal/indicators) consumes.
func (s *Series) Closes() []float64 { return column(s.Bars, func(b Bar) decimal.Decimal { return b.Close }) }

// Highs returns the high prices as a float64 slice.
func (s *Series) Highs() []float64 { return column(s.Bars, func(b Bar) decimal.Decimal { return b.High }) }

// Lows returns the low prices as a float64 slice.
func (s *Series) Lows() []float64 { return column(s.Bars, func(b Bar) decimal.Decimal { return b.Low }) }

// Opens returns the open prices as a float64 slice.
func (s *Series) Opens() []float64 { return column(s.Bars, func(b Bar) decimal.Decimal { return b.Open }) }

// Volumes returns the volumes as a float64 slice.
func (s *Series) Volumes() []float64 {
	return column(s.Bars, func(b Bar) decimal.Decimal { return b.Volume })
}

func column(bars []Bar, pick func(Bar) decimal.Decimal) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		f, _ := pick(b).Float64()
		out[i] = f
	}
	return out
}

// Slice returns the sub-series covering [start, end] by timestamp, sharing
// the underlying backing array (the caller must not mutate it).
func (s *Series) Slice(start, end time.Time) *Series {
	lo, hi := 0, len(s.Bars)
	for lo < len(s.Bars) && s.Bars[lo].Timestamp.Before(start) {
		lo++
	}
	for hi > lo && s.Bars[hi-1].Timestamp.After(end) {
		hi--
	}
	return &Series{Symbol: s.Symbol, Bars: s.Bars[lo:hi]}
}

func (b Bar) String() string {
	return fmt.Sprintf("Bar{%s O:%s H:%s L:%s C:%s V:%s}",
		b.Timestamp.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close, b.Volume)
}
