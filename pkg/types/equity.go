package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EquityPoint is one sample on an equity curve, emitted daily and again
// resampled to monthly for the portfolio report.
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
	Drawdown  decimal.Decimal `json:"drawdown"` // always <= 0
}

// EquityCurve is an ordered, deduplicated-by-timestamp sequence of points.
type EquityCurve []EquityPoint

// MaxDrawdown returns the most negative drawdown observed in the curve.
func (c EquityCurve) MaxDrawdown() decimal.Decimal {
	worst := decimal.Zero
	for _, p := range c {
		if p.Drawdown.LessThan(worst) {
			worst = p.Drawdown
		}
	}
	return worst
}

// SliceWindow returns the points with Timestamp in [start, end]. The curve
// is already ordered, so this is a single linear scan.
func (c EquityCurve) SliceWindow(start, end time.Time) EquityCurve {
	var out EquityCurve
	for _, p := range c {
		if p.Timestamp.Before(start) {
			continue
		}
		if p.Timestamp.After(end) {
			break
		}
		out = append(out, p)
	}
	return out
}

// ToMonthly resamples a daily curve to one point per calendar month, keeping
// the last observation of each month (matches the close=last convention used
// by internal/timeframe for price bars).
func (c EquityCurve) ToMonthly() EquityCurve {
	if len(c) == 0 {
		return nil
	}
	out := make(EquityCurve, 0, len(c)/20+1)
	var cur EquityPoint
	haveCur := false
	for _, p := range c {
		if haveCur && (p.Timestamp.Year() != cur.Timestamp.Year() || p.Timestamp.Month() != cur.Timestamp.Month()) {
			out = append(out, cur)
		}
		cur = p
		haveCur = true
	}
	if haveCur {
		out = append(out, cur)
	}
	return out
}
