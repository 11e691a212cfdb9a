// Package portfolio merges the per-symbol engine results produced by
// internal/orchestrator into a single chronologically ordered trade stream
// and equity curve. It supports two capital modes: isolated (the default,
// each symbol trades its own slice of initial_capital and the portfolio
// curve is simply their sum) and shared (every symbol draws from one cash
// pool, so an entry that would overdraw the shared pool is dropped with an
// AggregationError rather than silently allowed).
package portfolio

import (
	"sort"
	"time"

	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func timeFromUnix(sec int64) time.Time { return time.Unix(sec, 0).UTC() }

// Merge combines multiple symbols' trade streams into one chronologically
// sorted stream, tie-broken by (timestamp, symbol, trade_id) for a
// deterministic order when two symbols fill at the exact same timestamp.
func Merge(results []types.EngineResult) []types.TradeEvent {
	var all []types.TradeEvent
	for _, r := range results {
		all = append(all, r.Trades...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Symbol != b.Symbol {
			return a.Symbol < b.Symbol
		}
		return a.TradeID < b.TradeID
	})
	return all
}

// Consolidate pairs each symbol's entry/exit events into ConsolidatedTrade
// records, one per position: pyramid adds are blended into the open trade's
// quantity-weighted average entry price and the whole position closes on the
// next exit event. Lots are not matched FIFO and a pyramided position never
// yields one record per lot (entries and exits already arrive in per-symbol
// chronological order from the engine, so no re-sort within a symbol).
func Consolidate(results []types.EngineResult) []types.ConsolidatedTrade {
	var out []types.ConsolidatedTrade
	for _, r := range results {
		out = append(out, consolidateSymbol(r.Symbol, r.Trades)...)
	}
	return out
}

func consolidateSymbol(symbol string, trades []types.TradeEvent) []types.ConsolidatedTrade {
	var open *types.ConsolidatedTrade
	var out []types.ConsolidatedTrade

	for _, tr := range trades {
		if tr.IsEntry() {
			if open == nil {
				open = &types.ConsolidatedTrade{
					Symbol:     symbol,
					EntryTime:  tr.Timestamp,
					EntryPrice: tr.Price,
					Qty:        tr.Qty,
				}
				if tr.Snapshot != nil {
					open.EntrySnapshot = *tr.Snapshot
				}
			} else {
				// pyramid add: blend into the existing open trade's average entry.
				totalQty := open.Qty.Add(tr.Qty)
				totalCost := open.Qty.Mul(open.EntryPrice).Add(tr.Qty.Mul(tr.Price))
				open.EntryPrice = totalCost.Div(totalQty)
				open.Qty = totalQty
			}
			continue
		}
		if tr.IsExit() && open != nil {
			exitTime := tr.Timestamp
			open.ExitPrice = tr.Price
			open.NetPnLAbs = tr.RealizedPnL
			if open.EntryPrice.IsPositive() {
				open.NetPnLPct = tr.Price.Sub(open.EntryPrice).Div(open.EntryPrice)
			}
			open.HoldingBars = tr.HoldingBars
			open.HoldingDays = exitTime.Sub(open.EntryTime).Hours() / 24
			open.CloseReason = tr.Reason
			open.MaxFavorableExcursion = tr.RunUp
			open.MaxAdverseExcursion = tr.Drawdown

			// A terminal "EndOfData" close is a mark-to-market valuation, not
			// a real fill: it must surface as an OPEN
			// ConsolidatedTrade (exit_time = null) even though the engine
			// already realized it for cash-accounting purposes.
			if tr.Reason != "EndOfData" {
				open.ExitTime = &exitTime
			}
			out = append(out, *open)
			open = nil
		}
	}
	// an still-open position at series end was already closed by the
	// engine's terminal mark-to-market above (tagged EndOfData), so `open`
	// should never survive here; if it does (a strategy bug), surface it
	// rather than silently dropping.
	if open != nil {
		open.CloseReason = "UnresolvedAtReportTime"
		out = append(out, *open)
	}
	return out
}

// Mode selects the capital-sharing rule used when building the portfolio
// equity curve.
type Mode int

const (
	// Isolated: each symbol keeps its own capital slice; the portfolio curve
	// is the sum of the per-symbol curves. No reallocation, no conflicts.
	Isolated Mode = iota
	// Shared: every symbol draws against one cash pool.
	Shared
)

// BuildEquityCurve produces the isolated-mode portfolio equity curve: a pure
// per-timestamp sum across the per-symbol curves, each already self-financed
// from its own slice of capital. Shared-capital runs do not use this
// function — the cash pool and dropped entries it must account for are only
// known after ReplayShared runs, so callers building a shared-mode curve use
// BuildSharedEquityCurve with ReplayShared's own output.
func BuildEquityCurve(results []types.EngineResult, mode Mode) types.EquityCurve {
	return sumCurves(results)
}

// BuildSharedEquityCurve builds the shared-capital portfolio equity curve
// from ReplayShared's accepted trade stream: a cash pool seeded once from
// initialCapital and walked trade by trade, with each symbol's
// still-open-position value valued from its own per-day mark-to-market curve
// only across the span ReplayShared actually kept that position open (a
// dropped entry or its now-orphaned exit contributes nothing).
func BuildSharedEquityCurve(results []types.EngineResult, accepted []types.TradeEvent, initialCapital decimal.Decimal) types.EquityCurve {
	positionsValueByDay := make(map[string]map[int64]decimal.Decimal, len(results))
	var days []int64
	seenDay := make(map[int64]bool)
	for _, r := range results {
		perSymbol := make(map[int64]decimal.Decimal, len(r.EquityDaily))
		for _, p := range r.EquityDaily {
			key := p.Timestamp.Unix()
			perSymbol[key] = p.Equity.Sub(p.Cash)
			if !seenDay[key] {
				seenDay[key] = true
				days = append(days, key)
			}
		}
		positionsValueByDay[r.Symbol] = perSymbol
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	openWindows := openIntervalsBySymbol(accepted)

	sortedTrades := append([]types.TradeEvent(nil), accepted...)
	sort.SliceStable(sortedTrades, func(i, j int) bool { return sortedTrades[i].Timestamp.Before(sortedTrades[j].Timestamp) })

	out := make(types.EquityCurve, 0, len(days))
	peak := decimal.Zero
	cash := initialCapital
	tradeIdx := 0
	for _, key := range days {
		ts := timeFromUnix(key)
		for tradeIdx < len(sortedTrades) && !sortedTrades[tradeIdx].Timestamp.After(ts) {
			cash = cash.Add(sortedTrades[tradeIdx].CashDelta)
			tradeIdx++
		}
		positionsValue := decimal.Zero
		for symbol, windows := range openWindows {
			if !withinAnyWindow(windows, ts) {
				continue
			}
			if v, ok := positionsValueByDay[symbol][key]; ok {
				positionsValue = positionsValue.Add(v)
			}
		}
		equity := cash.Add(positionsValue)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := decimal.Zero
		if peak.IsPositive() {
			dd = equity.Sub(peak).Div(peak)
		}
		out = append(out, types.EquityPoint{Timestamp: ts, Equity: equity, Cash: cash, Drawdown: dd})
	}
	return out
}

// interval is a half-open [Start, End) span during which a shared-capital
// position was held; End is nil if the position was still open at run end.
type interval struct {
	Start time.Time
	End   *time.Time
}

func withinAnyWindow(windows []interval, ts time.Time) bool {
	for _, w := range windows {
		if ts.Before(w.Start) {
			continue
		}
		if w.End != nil && !ts.Before(*w.End) {
			continue
		}
		return true
	}
	return false
}

// openIntervalsBySymbol pairs each symbol's accepted entries and exits the
// way consolidateSymbol does (the first entry opens a window, later entries
// join it, the next exit closes it) into the open windows used to decide which
// days a symbol's per-day position value belongs in the shared curve.
func openIntervalsBySymbol(accepted []types.TradeEvent) map[string][]interval {
	bySymbol := make(map[string][]types.TradeEvent)
	for _, tr := range accepted {
		bySymbol[tr.Symbol] = append(bySymbol[tr.Symbol], tr)
	}
	out := make(map[string][]interval, len(bySymbol))
	for symbol, trades := range bySymbol {
		var cur *interval
		var windows []interval
		for _, tr := range trades {
			if tr.IsEntry() {
				if cur == nil {
					cur = &interval{Start: tr.Timestamp}
				}
				continue
			}
			if tr.IsExit() && cur != nil {
				end := tr.Timestamp
				cur.End = &end
				windows = append(windows, *cur)
				cur = nil
			}
		}
		if cur != nil {
			windows = append(windows, *cur)
		}
		out[symbol] = windows
	}
	return out
}

func sumCurves(results []types.EngineResult) types.EquityCurve {
	byTime := make(map[int64]decimal.Decimal)
	cashByTime := make(map[int64]decimal.Decimal)
	var order []int64
	seen := make(map[int64]bool)
	for _, r := range results {
		for _, p := range r.EquityDaily {
			key := p.Timestamp.Unix()
			if !seen[key] {
				seen[key] = true
				order = append(order, key)
			}
			byTime[key] = byTime[key].Add(p.Equity)
			cashByTime[key] = cashByTime[key].Add(p.Cash)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	out := make(types.EquityCurve, 0, len(order))
	peak := decimal.Zero
	for _, key := range order {
		eq := byTime[key]
		if eq.GreaterThan(peak) {
			peak = eq
		}
		dd := decimal.Zero
		if peak.IsPositive() {
			dd = eq.Sub(peak).Div(peak)
		}
		out = append(out, types.EquityPoint{Timestamp: timeFromUnix(key), Equity: eq, Cash: cashByTime[key], Drawdown: dd})
	}
	return out
}

// ReplayShared re-plays the merged trade stream against one shared cash pool
// in chronological order. An entry that would overdraw the pool is dropped
// and returned in dropped, keyed by symbol, for ConsolidateShared to surface as a flagged ConsolidatedTrade instead of silently
// vanishing (S3). An exit for a symbol with no shared-mode position
// currently open is also dropped — its entry (or every lot behind it) was
// itself dropped, so there is nothing left to close and crediting its cash
// delta would credit capital the pool never actually spent.
func ReplayShared(logger *zap.Logger, results []types.EngineResult, initialCapital decimal.Decimal) (accepted []types.TradeEvent, dropped map[string][]types.TradeEvent, conflicts []*types.RunError) {
	merged := Merge(results)
	cash := initialCapital
	openLots := make(map[string]int)
	dropped = make(map[string][]types.TradeEvent)

	for _, tr := range merged {
		if tr.IsEntry() {
			cost := tr.CashDelta.Abs()
			if cost.GreaterThan(cash) {
				dropped[tr.Symbol] = append(dropped[tr.Symbol], tr)
				conflicts = append(conflicts, types.NewRunError(types.AggregationErrorKind, tr.Symbol,
					"entry dropped: insufficient shared cash", nil))
				if logger != nil {
					logger.Warn("shared-capital entry dropped", zap.String("symbol", tr.Symbol))
				}
				continue
			}
			cash = cash.Sub(cost)
			openLots[tr.Symbol]++
			accepted = append(accepted, tr)
			continue
		}
		if openLots[tr.Symbol] <= 0 {
			conflicts = append(conflicts, types.NewRunError(types.AggregationErrorKind, tr.Symbol,
				"exit dropped: no shared-capital position open, its entry was dropped", nil))
			if logger != nil {
				logger.Warn("shared-capital orphan exit dropped", zap.String("symbol", tr.Symbol))
			}
			continue
		}
		openLots[tr.Symbol] = 0
		cash = cash.Add(tr.CashDelta)
		accepted = append(accepted, tr)
	}
	return accepted, dropped, conflicts
}

// ConsolidateShared behaves like Consolidate, but only ever pairs the
// entries and exits ReplayShared actually accepted into the shared cash
// pool. Entries ReplayShared dropped surface as a synthetic, already-closed
// ConsolidatedTrade carrying AggregationFlag, so a shared-capital run's
// report shows the drop on the symbol's own trade list rather than only as
// a generic validation warning.
func ConsolidateShared(results []types.EngineResult, accepted []types.TradeEvent, dropped map[string][]types.TradeEvent) []types.ConsolidatedTrade {
	bySymbol := make(map[string][]types.TradeEvent)
	for _, tr := range accepted {
		bySymbol[tr.Symbol] = append(bySymbol[tr.Symbol], tr)
	}

	var out []types.ConsolidatedTrade
	for _, r := range results {
		out = append(out, consolidateSymbol(r.Symbol, bySymbol[r.Symbol])...)
	}
	for symbol, drops := range dropped {
		for _, tr := range drops {
			out = append(out, types.ConsolidatedTrade{
				Symbol:          symbol,
				EntryTime:       tr.Timestamp,
				EntryPrice:      tr.Price,
				Qty:             tr.Qty,
				CloseReason:     "insufficient shared cash",
				AggregationFlag: string(types.AggregationErrorKind),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}
