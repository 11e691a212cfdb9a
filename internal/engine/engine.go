// Package engine drives one symbol's sequential bar loop: fill pending
// orders at the next bar's open, evaluate stops intra-bar, invoke the
// strategy, and apply the directives it returns. There is no event bus here
// — a single engine instance owns one symbol end-to-end and processes bars
// strictly in order, which is what lets the orchestrator fan out N engines
// safely: they share nothing but the read-only BrokerConfig.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/atlas-quant/nifty-backtester/internal/strategy"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// state is the flat/long state machine described for the engine: a symbol's
// run is always in exactly one of these two states, with no short leg.
type state int

const (
	stateFlat state = iota
	stateLong
)

// pendingOrder is an order the previous bar requested, to be filled at this
// bar's open.
type pendingOrder struct {
	kind          strategy.DirectiveKind
	stopPrice     decimal.Decimal
	qtyMultiplier decimal.Decimal
	reason        string
}

// Engine runs one symbol's backtest from start to finish.
type Engine struct {
	logger   *zap.Logger
	broker   types.BrokerConfig
	strategy strategy.Strategy
}

// New returns an Engine for one symbol. broker is copied by value and is
// never modified after construction.
func New(logger *zap.Logger, broker types.BrokerConfig, strat strategy.Strategy) *Engine {
	return &Engine{logger: logger, broker: broker, strategy: strat}
}

// Run executes the full bar loop for series with a background context. See
// RunContext for the cancellable form the orchestrator uses.
func (e *Engine) Run(series *types.Series) types.EngineResult {
	return e.RunContext(context.Background(), series)
}

// RunContext executes the full bar loop for series and returns the
// accumulated trades, daily equity curve and any hard failure. The only
// warnings the engine itself records are DataWarning-kind entries for orders
// dropped for insufficient cash; validation warnings are attached by the
// orchestrator, not raised by the engine. ctx is checked
// between bars only (there are no suspension points inside an engine; the only
// cancellation granularity that makes sense for a CPU-bound bar loop).
func (e *Engine) RunContext(ctx context.Context, series *types.Series) (result types.EngineResult) {
	symbol := series.Symbol
	defer func() {
		if r := recover(); r != nil {
			result = types.EngineResult{
				Symbol: symbol,
				Err:    types.NewRunError(types.StrategyErrorKind, symbol, fmt.Sprintf("strategy panic: %v", r), nil),
			}
		}
	}()
	if series.Len() == 0 {
		return types.EngineResult{
			Symbol: symbol,
			Err:    types.NewRunError(types.EngineErrorKind, symbol, "empty series", nil),
		}
	}

	binder := strategy.NewBinder()
	if err := e.strategy.Prepare(series, binder); err != nil {
		return types.EngineResult{
			Symbol: symbol,
			Err:    types.NewRunError(types.StrategyErrorKind, symbol, fmt.Sprintf("prepare failed: %v", err), err),
		}
	}
	e.strategy.Initialize()

	reportInd := computeReportIndicators(series)

	cash := e.broker.InitialCapital
	position := &types.Position{Symbol: symbol}
	persistent := types.NewPersistentState()
	cur := state(stateFlat)

	var pending *pendingOrder
	var trades []types.TradeEvent
	var equity types.EquityCurve
	var warnings []*types.RunError
	var nextTradeID int64

	for i, bar := range series.Bars {
		if err := ctx.Err(); err != nil {
			return types.EngineResult{
				Symbol: symbol, Trades: trades, EquityDaily: equity, FinalCash: cash, BarsProcessed: i,
				Err: types.NewRunError(types.EngineErrorKind, symbol, "run cancelled", err),
			}
		}

		// 1. fill any pending order at this bar's open.
		if pending != nil {
			e.fillPending(symbol, bar, pending, &cash, position, persistent, &cur, &trades, &nextTradeID, reportInd, i, &warnings)
			pending = nil
		}

		// 2. update trailing state for an open position: running high/low
		// since entry and bars elapsed, used for pyramiding gates, run-up /
		// drawdown and any strategy reading bars_since_first_entry.
		if cur == stateLong && !position.IsFlat() {
			if bar.High.GreaterThan(persistent.HighestHighSinceEntry) {
				persistent.HighestHighSinceEntry = bar.High
			}
			if persistent.LowestLowSinceEntry.IsZero() || bar.Low.LessThan(persistent.LowestLowSinceEntry) {
				persistent.LowestLowSinceEntry = bar.Low
			}
			persistent.BarsSinceFirstEntry++
		}

		// 3. intra-bar stop check, independent of the strategy's OnBar.
		if cur == stateLong && !position.IsFlat() {
			stop := position.CurrentStop()
			if stop.IsPositive() {
				e.checkStopHit(symbol, bar, stop, &cash, position, persistent, &cur, &trades, &nextTradeID)
			}
		}

		sctx := &strategy.Context{
			Index:    i,
			Bar:      bar,
			Series:   series,
			Binder:   binder,
			Position: position,
			State:    persistent,
			Broker:   e.broker,
		}

		// 3. invoke the strategy and translate its directives into a pending
		// order for the next bar's open.
		if cur == stateFlat {
			if enter, stop, reason := e.strategy.OnEntry(sctx); enter {
				pending = &pendingOrder{kind: strategy.DirectiveEnterLong, stopPrice: stop, reason: reason}
			}
		} else {
			for _, d := range e.strategy.OnBar(sctx) {
				switch d.Kind {
				case strategy.DirectiveExitLong:
					pending = &pendingOrder{kind: strategy.DirectiveExitLong, reason: d.Reason}
				case strategy.DirectivePyramid:
					if e.broker.AllowPyramiding && len(position.Lots) < e.broker.MaxPyramidLots {
						pending = &pendingOrder{kind: strategy.DirectivePyramid, stopPrice: d.StopPrice, qtyMultiplier: d.QtyMultiplier, reason: d.Reason}
					}
				case strategy.DirectiveTightenStop:
					if d.StopPrice.IsPositive() {
						position.SetStopAll(d.StopPrice)
					}
				}
			}
		}

		// 4. mark-to-market equity for this bar.
		mtm := cash
		if !position.IsFlat() {
			mtm = mtm.Add(position.OpenQty.Mul(bar.Close))
		}
		equity = append(equity, types.EquityPoint{
			Timestamp: bar.Timestamp,
			Equity:    mtm,
			Cash:      cash,
			Drawdown:  decimal.Zero, // filled in by a post-pass below
		})
	}

	// terminal mark-to-market: any still-open position is closed at the
	// series' final close so every run produces a fully realized P&L.
	if cur == stateLong && !position.IsFlat() {
		last := series.Bars[len(series.Bars)-1]
		e.closePosition(symbol, last, "EndOfData", &cash, position, persistent, &trades, &nextTradeID)
	}

	applyRunningDrawdown(equity)

	return types.EngineResult{
		Symbol:        symbol,
		Trades:        trades,
		EquityDaily:   equity,
		Warnings:      warnings,
		FinalCash:     cash,
		BarsProcessed: series.Len(),
	}
}

func applyRunningDrawdown(curve types.EquityCurve) {
	peak := decimal.Zero
	for i := range curve {
		if curve[i].Equity.GreaterThan(peak) {
			peak = curve[i].Equity
		}
		if peak.IsPositive() {
			curve[i].Drawdown = curve[i].Equity.Sub(peak).Div(peak)
		}
	}
}

// fillPending turns a pending order into a fill at bar.Open, applying
// slippage in ticks and commission. An entry (or pyramid add) that this
// symbol's own cash on hand cannot cover is dropped entirely and recorded as a
// warning instead of partially filled — spec'd integer-share sizing never
// produces a partial fill on a primary entry.
func (e *Engine) fillPending(symbol string, bar types.Bar, p *pendingOrder, cash *decimal.Decimal,
	position *types.Position, persistent *types.PersistentState, cur *state,
	trades *[]types.TradeEvent, nextTradeID *int64, reportInd reportIndicators, barIndex int,
	warnings *[]*types.RunError) {

	switch p.kind {
	case strategy.DirectiveEnterLong, strategy.DirectivePyramid:
		fillPrice := bar.Open.Add(e.broker.TickSize.Mul(decimal.NewFromInt(int64(e.broker.SlippageTicks))))
		equityBase := *cash
		if !position.IsFlat() {
			equityBase = equityBase.Add(position.OpenQty.Mul(bar.Open))
		}
		multiplier := p.qtyMultiplier
		if !multiplier.IsPositive() {
			multiplier = decimal.NewFromInt(1)
		}
		qty := equityBase.Mul(e.broker.QtyPctOfEquity).Mul(multiplier).Div(fillPrice).Floor()
		if qty.LessThan(decimal.NewFromInt(1)) {
			qty = decimal.NewFromInt(1)
		}
		cost := qty.Mul(fillPrice)
		commission := cost.Mul(e.broker.CommissionPct)
		totalDebit := cost.Add(commission)
		if totalDebit.GreaterThan(*cash) {
			*warnings = append(*warnings, types.NewRunError(types.DataWarningKind, symbol,
				fmt.Sprintf("order dropped at %s: insufficient cash for %s shares at %s", bar.Timestamp.Format("2006-01-02"), qty, fillPrice), nil))
			if e.logger != nil {
				e.logger.Warn("order dropped: insufficient cash", zap.String("symbol", symbol), zap.String("kind", string(p.kind)))
			}
			return
		}
		*cash = cash.Sub(totalDebit)

		if position.IsFlat() {
			persistent.Reset()
			persistent.EntryPriceOfFirstLot = fillPrice
			persistent.HighestHighSinceEntry = bar.High
			persistent.LowestLowSinceEntry = bar.Low
		}
		position.AddLot(types.Lot{EntryTime: bar.Timestamp, EntryPrice: fillPrice, Qty: qty, EntryCommission: commission})
		*cur = stateLong
		if p.stopPrice.IsPositive() {
			position.SetStopAll(p.stopPrice)
		}

		kind := types.EntryLong
		*nextTradeID++
		snap := reportInd.snapshotAt(barIndex)
		*trades = append(*trades, types.TradeEvent{
			TradeID: *nextTradeID, Symbol: symbol, Kind: kind, Timestamp: bar.Timestamp,
			Price: fillPrice, Qty: qty, CashDelta: totalDebit.Neg(), Reason: p.reason,
			Snapshot: &snap,
		})

	case strategy.DirectiveExitLong:
		fillPrice := bar.Open.Sub(e.broker.TickSize.Mul(decimal.NewFromInt(int64(e.broker.SlippageTicks))))
		e.closePositionAt(symbol, bar.Timestamp, fillPrice, p.reason, cash, position, persistent, trades, nextTradeID)
		*cur = stateFlat
		persistent.Reset()
	}
}

// checkStopHit evaluates the intra-bar stop: a gap-open below the stop fills
// at the open; otherwise low<=stop<=high fills exactly at the stop price.
func (e *Engine) checkStopHit(symbol string, bar types.Bar, stop decimal.Decimal, cash *decimal.Decimal,
	position *types.Position, persistent *types.PersistentState, cur *state,
	trades *[]types.TradeEvent, nextTradeID *int64) {

	if bar.Open.LessThanOrEqual(stop) {
		e.closePositionAt(symbol, bar.Timestamp, bar.Open, "StopHitAtOpen", cash, position, persistent, trades, nextTradeID)
		*cur = stateFlat
		persistent.Reset()
		return
	}
	if bar.Low.LessThanOrEqual(stop) && stop.LessThanOrEqual(bar.High) {
		e.closePositionAt(symbol, bar.Timestamp, stop, "StopHit", cash, position, persistent, trades, nextTradeID)
		*cur = stateFlat
		persistent.Reset()
	}
}

func (e *Engine) closePosition(symbol string, bar types.Bar, reason string, cash *decimal.Decimal,
	position *types.Position, persistent *types.PersistentState, trades *[]types.TradeEvent, nextTradeID *int64) {
	e.closePositionAt(symbol, bar.Timestamp, bar.Close, reason, cash, position, persistent, trades, nextTradeID)
}

// closePositionAt fills the exit, then attaches run-up/drawdown computed
// against the position's average entry price (entry notional base, per
// resolved Open Question in DESIGN.md) using the high/low
// extremes tracked in persistent state since the first lot was opened.
func (e *Engine) closePositionAt(symbol string, ts time.Time, exitPrice decimal.Decimal, reason string,
	cash *decimal.Decimal, position *types.Position, persistent *types.PersistentState,
	trades *[]types.TradeEvent, nextTradeID *int64) {
	if position.IsFlat() {
		return
	}
	qty := position.OpenQty
	avgEntry := position.AvgEntry
	proceeds := qty.Mul(exitPrice)
	commission := proceeds.Mul(e.broker.CommissionPct)
	realized := decimal.Zero
	entryCommission := decimal.Zero
	for _, lot := range position.Lots {
		realized = realized.Add(lot.Qty.Mul(exitPrice.Sub(lot.EntryPrice)))
		entryCommission = entryCommission.Add(lot.EntryCommission)
	}
	*cash = cash.Add(proceeds).Sub(commission)

	kind := types.ExitLong
	switch reason {
	case "StopHit", "StopHitAtOpen":
		kind = types.StopHit
	case "TPHit":
		kind = types.TPHit
	}

	runUp, drawdown := decimal.Zero, decimal.Zero
	if avgEntry.IsPositive() {
		if persistent.HighestHighSinceEntry.GreaterThan(avgEntry) {
			runUp = persistent.HighestHighSinceEntry.Sub(avgEntry).Div(avgEntry)
		}
		if persistent.LowestLowSinceEntry.IsPositive() && persistent.LowestLowSinceEntry.LessThan(avgEntry) {
			drawdown = persistent.LowestLowSinceEntry.Sub(avgEntry).Div(avgEntry)
		}
	}

	*nextTradeID++
	*trades = append(*trades, types.TradeEvent{
		TradeID: *nextTradeID, Symbol: symbol, Kind: kind, Timestamp: ts,
		Price: exitPrice, Qty: qty, CashDelta: proceeds.Sub(commission), RealizedPnL: realized.Sub(commission).Sub(entryCommission),
		Reason: reason, RunUp: runUp, Drawdown: drawdown, HoldingBars: persistent.BarsSinceFirstEntry,
	})

	position.OpenQty = decimal.Zero
	position.Lots = nil
	position.AvgEntry = decimal.Zero
}
