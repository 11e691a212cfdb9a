package engine_test

import (
	"testing"
	"time"

	"github.com/atlas-quant/nifty-backtester/internal/engine"
	"github.com/atlas-quant/nifty-backtester/internal/strategy"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func barsFromCloses(closes []float64) []types.Bar {
	ts := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		bars[i] = types.Bar{
			Timestamp: ts.AddDate(0, 0, i),
			Open:      d,
			High:      d.Add(decimal.NewFromFloat(1)),
			Low:       d.Sub(decimal.NewFromFloat(1)),
			Close:     d,
			Volume:    decimal.NewFromInt(10000),
		}
	}
	return bars
}

func uptrendThenDowntrend(n int) []float64 {
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		if i < n*2/3 {
			closes[i] = 100 + float64(i)*0.8
		} else {
			closes[i] = closes[n*2/3-1] - float64(i-n*2/3+1)*0.8
		}
	}
	return closes
}

func TestEngineExitAlwaysAfterEntry(t *testing.T) {
	series := &types.Series{Symbol: "TEST", Bars: barsFromCloses(uptrendThenDowntrend(120))}
	broker := types.DefaultBrokerConfig()
	e := engine.New(nil, broker, strategy.NewEMACrossover(5, 20))

	result := e.Run(series)
	if result.Failed() {
		t.Fatalf("engine run failed: %v", result.Err)
	}

	var lastEntry time.Time
	haveEntry := false
	for _, tr := range result.Trades {
		if tr.IsEntry() {
			lastEntry = tr.Timestamp
			haveEntry = true
			continue
		}
		if haveEntry && !tr.Timestamp.After(lastEntry) {
			t.Errorf("exit at %v is not strictly after its entry at %v", tr.Timestamp, lastEntry)
		}
	}
}

func TestEngineCashNeverNegative(t *testing.T) {
	series := &types.Series{Symbol: "TEST", Bars: barsFromCloses(uptrendThenDowntrend(200))}
	broker := types.DefaultBrokerConfig()
	e := engine.New(nil, broker, strategy.NewKAMACrossover(10, 2, 30))

	result := e.Run(series)
	if result.Failed() {
		t.Fatalf("engine run failed: %v", result.Err)
	}
	for _, p := range result.EquityDaily {
		if p.Cash.IsNegative() {
			t.Errorf("cash went negative at %v: %s", p.Timestamp, p.Cash)
		}
	}
}

func TestEngineDrawdownNeverPositive(t *testing.T) {
	series := &types.Series{Symbol: "TEST", Bars: barsFromCloses(uptrendThenDowntrend(150))}
	broker := types.DefaultBrokerConfig()
	e := engine.New(nil, broker, strategy.NewEMACrossover(5, 20))

	result := e.Run(series)
	for _, p := range result.EquityDaily {
		if p.Drawdown.IsPositive() {
			t.Errorf("drawdown should never be positive, got %s at %v", p.Drawdown, p.Timestamp)
		}
	}
}

func TestEngineRealizedPnLReconcilesWithCash(t *testing.T) {
	series := &types.Series{Symbol: "TEST", Bars: barsFromCloses(uptrendThenDowntrend(150))}
	broker := types.DefaultBrokerConfig()
	e := engine.New(nil, broker, strategy.NewEMACrossover(5, 20))

	result := e.Run(series)
	sumRealized := decimal.Zero
	for _, tr := range result.Trades {
		if tr.IsExit() {
			sumRealized = sumRealized.Add(tr.RealizedPnL)
		}
	}
	cashDelta := result.FinalCash.Sub(broker.InitialCapital)
	if !cashDelta.Equal(sumRealized) {
		t.Errorf("cash delta %s should exactly equal sum of realized pnl %s (RealizedPnL must net round-trip commission)", cashDelta, sumRealized)
	}
}

func TestEngineEmptySeriesIsHardError(t *testing.T) {
	series := &types.Series{Symbol: "EMPTY"}
	e := engine.New(nil, types.DefaultBrokerConfig(), strategy.NewEMACrossover(5, 20))
	result := e.Run(series)
	if !result.Failed() {
		t.Fatal("expected an EngineError for an empty series")
	}
}

// longUptrendAfterDip mimics uptrendThenDowntrend's shape but reversed: a
// brief dip to force an actual EMA crossunder/crossover pair, then a long,
// strong uptrend with enough room for a chandelier stop and, with
// pyramiding enabled, for price to clear the 3-ATR pyramid threshold more
// than once.
func longUptrendAfterDip(n int) []float64 {
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		switch {
		case i < 20:
			closes[i] = 100 - float64(i)*0.5
		default:
			closes[i] = closes[19] + float64(i-19)*1.2
		}
	}
	return closes
}

func TestEngineStopHitClosesPositionIntrabar(t *testing.T) {
	closes := longUptrendAfterDip(80)
	bars := barsFromCloses(closes)
	// inject a sharp gap-down after the entry has had a chance to fill and a
	// chandelier stop has trailed up, so the low pierces the stop this bar.
	for i := 60; i < 65; i++ {
		d := decimal.NewFromFloat(closes[i] * 0.8)
		bars[i].Open = d
		bars[i].High = d.Add(decimal.NewFromFloat(1))
		bars[i].Low = d.Sub(decimal.NewFromFloat(5))
		bars[i].Close = d
	}
	series := &types.Series{Symbol: "TEST", Bars: bars}
	broker := types.DefaultBrokerConfig()
	e := engine.New(nil, broker, strategy.NewEMACrossover(5, 20))

	result := e.Run(series)
	if result.Failed() {
		t.Fatalf("engine run failed: %v", result.Err)
	}

	sawStop := false
	for _, tr := range result.Trades {
		if tr.Kind == types.StopHit {
			sawStop = true
			if !tr.Timestamp.After(bars[0].Timestamp) {
				t.Errorf("stop hit timestamp should be after the series start")
			}
		}
	}
	if !sawStop {
		t.Error("expected the injected gap-down to trigger a StopHit once a chandelier stop had trailed up")
	}
}

func TestEnginePyramidsWithinMaxLots(t *testing.T) {
	closes := longUptrendAfterDip(300)
	series := &types.Series{Symbol: "TEST", Bars: barsFromCloses(closes)}
	broker := types.DefaultBrokerConfig()
	broker.AllowPyramiding = true
	broker.MaxPyramidLots = 3
	e := engine.New(nil, broker, strategy.NewEMACrossover(5, 20))

	result := e.Run(series)
	if result.Failed() {
		t.Fatalf("engine run failed: %v", result.Err)
	}

	entries := 0
	for _, tr := range result.Trades {
		if tr.IsEntry() {
			entries++
		}
	}
	if entries < 2 {
		t.Error("expected the sustained uptrend to trigger at least one pyramid add on top of the initial entry")
	}
	if entries > broker.MaxPyramidLots {
		t.Errorf("entries %d should never exceed MaxPyramidLots %d", entries, broker.MaxPyramidLots)
	}
}

// fakeAlwaysPyramid enters once on the first bar, then requests a pyramid
// add with a fixed QtyMultiplier on every subsequent bar. Used to exercise
// the engine's qty_multiplier wiring and cash-sufficiency guard in
// isolation, independent of any bundled strategy's own entry signal.
type fakeAlwaysPyramid struct {
	multiplier decimal.Decimal
}

func (s *fakeAlwaysPyramid) Name() string                                 { return "fake_always_pyramid" }
func (s *fakeAlwaysPyramid) Prepare(*types.Series, *strategy.Binder) error { return nil }
func (s *fakeAlwaysPyramid) Initialize()                                  {}
func (s *fakeAlwaysPyramid) CloseReason() string                         { return "" }

func (s *fakeAlwaysPyramid) OnEntry(ctx *strategy.Context) (bool, decimal.Decimal, string) {
	if ctx.Index == 0 {
		return true, decimal.Zero, "initial entry"
	}
	return false, decimal.Zero, ""
}

func (s *fakeAlwaysPyramid) OnBar(ctx *strategy.Context) []strategy.Directive {
	return []strategy.Directive{{Kind: strategy.DirectivePyramid, QtyMultiplier: s.multiplier, Reason: "pyramid"}}
}

func TestEnginePyramidAppliesQtyMultiplier(t *testing.T) {
	closes := make([]float64, 5)
	for i := range closes {
		closes[i] = 100
	}
	series := &types.Series{Symbol: "TEST", Bars: barsFromCloses(closes)}
	broker := types.DefaultBrokerConfig()
	broker.AllowPyramiding = true
	broker.MaxPyramidLots = 2
	strat := &fakeAlwaysPyramid{multiplier: decimal.NewFromFloat(2.0)}
	e := engine.New(nil, broker, strat)

	result := e.Run(series)
	if result.Failed() {
		t.Fatalf("engine run failed: %v", result.Err)
	}
	var entryQtys []decimal.Decimal
	for _, tr := range result.Trades {
		if tr.IsEntry() {
			entryQtys = append(entryQtys, tr.Qty)
		}
	}
	if len(entryQtys) < 2 {
		t.Fatalf("expected an initial entry plus one pyramid add, got %d entries", len(entryQtys))
	}
	if !entryQtys[1].GreaterThan(entryQtys[0]) {
		t.Errorf("pyramid add with QtyMultiplier=2 should buy more shares than the initial entry (%s), got %s", entryQtys[0], entryQtys[1])
	}
}

func TestEngineDropsOrderWhenCashInsufficient(t *testing.T) {
	closes := make([]float64, 10)
	for i := range closes {
		closes[i] = 100
	}
	series := &types.Series{Symbol: "TEST", Bars: barsFromCloses(closes)}
	broker := types.DefaultBrokerConfig()
	broker.AllowPyramiding = true
	broker.MaxPyramidLots = 10
	strat := &fakeAlwaysPyramid{multiplier: decimal.NewFromInt(1000)}
	e := engine.New(nil, broker, strat)

	result := e.Run(series)
	if result.Failed() {
		t.Fatalf("engine run failed: %v", result.Err)
	}
	for _, p := range result.EquityDaily {
		if p.Cash.IsNegative() {
			t.Errorf("cash went negative at %v: %s", p.Timestamp, p.Cash)
		}
	}
	if len(result.Warnings) == 0 {
		t.Error("expected at least one insufficient-cash warning once a pyramid add outruns available cash")
	}
}
