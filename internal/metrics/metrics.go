// Package metrics computes per-window performance and risk figures from a
// consolidated trade list and equity curve: daily returns drive
// Sharpe/Sortino (annualized by sqrt(252)), and a separate risk pass adds
// VaR95/VaR99 and annualized volatility (no CVaR is computed). All
// statistics that require sqrt, log or Newton iteration operate on float64 —
// decimal division is unacceptably slow for the O(n) return series a 200k-bar
// run produces — while every money amount that reaches a report stays
// decimal.Decimal end to end.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

const tradingDaysPerYear = 252

// Calculator computes WindowMetrics for a slice of a portfolio's equity
// curve and trades.
type Calculator struct {
	RiskFreeRate float64
}

// NewCalculator returns a Calculator with a zero risk-free rate.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate computes the full WindowMetrics block for one window.
func (c *Calculator) Calculate(window types.WindowLabel, curve types.EquityCurve, trades []types.ConsolidatedTrade, initialCapital decimal.Decimal) types.WindowMetrics {
	m := types.WindowMetrics{Window: window}
	if len(curve) == 0 {
		return m
	}

	returns := dailyReturns(curve)
	m.CAGR = cagr(curve, initialCapital)
	m.MaxDrawdown = curve.MaxDrawdown()

	if len(returns) > 1 {
		mean := meanF(returns)
		std := stdDevF(returns)
		if std > 0 {
			m.Sharpe = decimal.NewFromFloat((mean - c.RiskFreeRate/tradingDaysPerYear) / std * math.Sqrt(tradingDaysPerYear))
		}
		downside := downsideDeviation(returns)
		if downside > 0 {
			m.Sortino = decimal.NewFromFloat((mean - c.RiskFreeRate/tradingDaysPerYear) / downside * math.Sqrt(tradingDaysPerYear))
		}
		vol := std * math.Sqrt(tradingDaysPerYear)
		m.AnnualizedVol = decimal.NewFromFloat(vol)

		sorted := append([]float64(nil), returns...)
		sort.Float64s(sorted)
		m.VaR95 = varAt(sorted, 0.05)
		m.VaR99 = varAt(sorted, 0.01)
	}

	if !m.MaxDrawdown.IsZero() {
		m.Calmar = m.CAGR.Div(m.MaxDrawdown.Abs())
	}

	m.TotalTrades = len(trades)
	m.ProfitFactor, m.WinRatePct = profitFactorAndWinRate(trades)
	m.IRR = irr(trades, initialCapital)

	return m
}

// CalculateAlphaBeta regresses the portfolio's daily returns against a
// benchmark series' daily returns using an ordinary least squares fit. Days
// present in only one curve (differing holiday calendars) are dropped
// rather than forward-filled, per the benchmark-alignment resolution in
// DESIGN.md.
func CalculateAlphaBeta(portfolio, benchmark types.EquityCurve) (alpha, beta decimal.Decimal) {
	pr, br := alignedDailyReturns(portfolio, benchmark)
	n := len(pr)
	if n < 2 {
		return decimal.Zero, decimal.Zero
	}

	meanP, meanB := meanF(pr), meanF(br)
	var covPB, varB float64
	for i := 0; i < n; i++ {
		dp := pr[i] - meanP
		db := br[i] - meanB
		covPB += dp * db
		varB += db * db
	}
	if varB == 0 {
		return decimal.Zero, decimal.Zero
	}
	b := covPB / varB
	a := meanP - b*meanB
	return decimal.NewFromFloat(a * tradingDaysPerYear), decimal.NewFromFloat(b)
}

// alignedDailyReturns computes daily returns for both curves keyed by
// calendar day, then returns only the days present in both — a dropped, not
// forward-filled, join so a benchmark holiday never manufactures a synthetic
// portfolio return or vice versa.
func alignedDailyReturns(portfolio, benchmark types.EquityCurve) (pr, br []float64) {
	pByDay := dailyReturnsByDay(portfolio)
	bByDay := dailyReturnsByDay(benchmark)
	// Map iteration order is randomized; sort the shared days so the
	// regression sums accumulate in a fixed order and the result is
	// byte-reproducible across runs (spec's determinism property).
	days := make([]string, 0, len(pByDay))
	for day := range pByDay {
		if _, ok := bByDay[day]; ok {
			days = append(days, day)
		}
	}
	sort.Strings(days)
	for _, day := range days {
		pr = append(pr, pByDay[day])
		br = append(br, bByDay[day])
	}
	return pr, br
}

func dailyReturnsByDay(curve types.EquityCurve) map[string]float64 {
	out := make(map[string]float64, len(curve))
	if len(curve) < 2 {
		return out
	}
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		out[curve[i].Timestamp.Format("2006-01-02")] = r
	}
	return out
}

func dailyReturns(curve types.EquityCurve) []float64 {
	if len(curve) < 2 {
		return nil
	}
	out := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev.IsZero() {
			continue
		}
		r, _ := curve[i].Equity.Sub(prev).Div(prev).Float64()
		out = append(out, r)
	}
	return out
}

func cagr(curve types.EquityCurve, initialCapital decimal.Decimal) decimal.Decimal {
	if initialCapital.IsZero() || len(curve) == 0 {
		return decimal.Zero
	}
	finalEquity := curve[len(curve)-1].Equity
	years := curve[len(curve)-1].Timestamp.Sub(curve[0].Timestamp).Hours() / 24 / 365.25
	if years <= 0 {
		return decimal.Zero
	}
	ratio, _ := finalEquity.Div(initialCapital).Float64()
	if ratio <= 0 {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromFloat(math.Pow(ratio, 1/years) - 1)
}

func meanF(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDevF(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := meanF(values)
	sumSquares := 0.0
	for _, v := range values {
		d := v - mean
		sumSquares += d * d
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func downsideDeviation(returns []float64) float64 {
	var negative []float64
	for _, r := range returns {
		if r < 0 {
			negative = append(negative, r)
		}
	}
	if len(negative) == 0 {
		return 0
	}
	return stdDevF(negative)
}

func varAt(sortedReturns []float64, tail float64) decimal.Decimal {
	if len(sortedReturns) == 0 {
		return decimal.Zero
	}
	idx := int(float64(len(sortedReturns)) * tail)
	if idx >= len(sortedReturns) {
		idx = len(sortedReturns) - 1
	}
	return decimal.NewFromFloat(-sortedReturns[idx])
}

func profitFactorAndWinRate(trades []types.ConsolidatedTrade) (decimal.Decimal, decimal.Decimal) {
	grossProfit, grossLoss := decimal.Zero, decimal.Zero
	wins, closed := 0, 0
	for _, t := range trades {
		if t.IsOpen() {
			continue
		}
		closed++
		if t.NetPnLAbs.IsPositive() {
			wins++
			grossProfit = grossProfit.Add(t.NetPnLAbs)
		} else {
			grossLoss = grossLoss.Add(t.NetPnLAbs.Abs())
		}
	}
	profitFactor := decimal.Zero
	if grossLoss.IsPositive() {
		profitFactor = grossProfit.Div(grossLoss)
	} else if grossProfit.IsPositive() {
		profitFactor = decimal.NewFromInt(100)
	}
	winRate := decimal.Zero
	if closed > 0 {
		winRate = decimal.NewFromInt(int64(wins)).Div(decimal.NewFromInt(int64(closed))).Mul(decimal.NewFromInt(100))
	}
	return profitFactor, winRate
}

// irr solves for the internal rate of return of the trade cash flows via
// Newton's method.
func irr(trades []types.ConsolidatedTrade, initialCapital decimal.Decimal) decimal.Decimal {
	type flow struct {
		t   time.Time
		amt float64
	}
	var flows []flow
	if len(trades) == 0 {
		return decimal.Zero
	}
	flows = append(flows, flow{trades[0].EntryTime, -toFloat(initialCapital)})
	for _, t := range trades {
		if t.IsOpen() {
			continue
		}
		flows = append(flows, flow{*t.ExitTime, toFloat(t.NetPnLAbs)})
	}
	if len(flows) < 2 {
		return decimal.Zero
	}

	t0 := flows[0].t
	npv := func(rate float64) float64 {
		sum := 0.0
		for _, f := range flows {
			years := f.t.Sub(t0).Hours() / 24 / 365.25
			sum += f.amt / math.Pow(1+rate, years)
		}
		return sum
	}
	dnpv := func(rate float64) float64 {
		sum := 0.0
		for _, f := range flows {
			years := f.t.Sub(t0).Hours() / 24 / 365.25
			if years == 0 {
				continue
			}
			sum += -years * f.amt / math.Pow(1+rate, years+1)
		}
		return sum
	}

	rate := 0.1
	for i := 0; i < 50; i++ {
		d := dnpv(rate)
		if d == 0 {
			break
		}
		next := rate - npv(rate)/d
		if math.IsNaN(next) || math.IsInf(next, 0) {
			return decimal.Zero
		}
		if math.Abs(next-rate) < 1e-7 {
			rate = next
			break
		}
		rate = next
	}
	return decimal.NewFromFloat(rate)
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
