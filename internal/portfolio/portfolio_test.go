package portfolio_test

import (
	"testing"
	"time"

	"github.com/atlas-quant/nifty-backtester/internal/portfolio"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func ev(symbol string, id int64, kind types.TradeEventKind, ts time.Time, cashDelta string) types.TradeEvent {
	return types.TradeEvent{
		Symbol: symbol, TradeID: id, Kind: kind, Timestamp: ts,
		CashDelta: decimal.RequireFromString(cashDelta),
	}
}

func TestMergeOrdersByTimestampThenSymbol(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	results := []types.EngineResult{
		{Symbol: "TCS", Trades: []types.TradeEvent{ev("TCS", 1, types.EntryLong, t0, "-100")}},
		{Symbol: "INFY", Trades: []types.TradeEvent{ev("INFY", 1, types.EntryLong, t0, "-50")}},
	}
	merged := portfolio.Merge(results)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged events, got %d", len(merged))
	}
	if merged[0].Symbol != "INFY" || merged[1].Symbol != "TCS" {
		t.Errorf("expected alphabetical tie-break at equal timestamps, got %s then %s", merged[0].Symbol, merged[1].Symbol)
	}
}

func TestConsolidatePairsEntryAndExit(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 5)
	trades := []types.TradeEvent{
		ev("TCS", 1, types.EntryLong, t0, "-1000"),
		{Symbol: "TCS", TradeID: 2, Kind: types.ExitLong, Timestamp: t1, Price: decimal.NewFromInt(110), RealizedPnL: decimal.NewFromInt(100)},
	}
	out := portfolio.Consolidate([]types.EngineResult{{Symbol: "TCS", Trades: trades}})
	if len(out) != 1 {
		t.Fatalf("expected 1 consolidated trade, got %d", len(out))
	}
	if out[0].IsOpen() {
		t.Error("trade should be closed after a matching exit")
	}
	if !out[0].NetPnLAbs.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected net pnl 100, got %s", out[0].NetPnLAbs)
	}
}

func TestReplaySharedDropsOverdrawnEntry(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	results := []types.EngineResult{
		{Symbol: "A", Trades: []types.TradeEvent{ev("A", 1, types.EntryLong, t0, "-6000")}},
		{Symbol: "B", Trades: []types.TradeEvent{ev("B", 1, types.EntryLong, t0, "-6000")}},
	}
	accepted, dropped, conflicts := portfolio.ReplayShared(nil, results, decimal.NewFromInt(10000))
	if len(accepted) != 1 {
		t.Fatalf("expected exactly 1 accepted entry under a 10000 shared pool, got %d", len(accepted))
	}
	if len(conflicts) != 1 {
		t.Fatalf("expected 1 AggregationError conflict, got %d", len(conflicts))
	}
	if conflicts[0].Kind != types.AggregationErrorKind {
		t.Errorf("expected AggregationErrorKind, got %s", conflicts[0].Kind)
	}
	if len(dropped["B"]) != 1 {
		t.Fatalf("expected symbol B's entry to be recorded as dropped, got %d", len(dropped["B"]))
	}
}

func TestConsolidateSharedFlagsDroppedEntry(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	results := []types.EngineResult{
		{Symbol: "A", Trades: []types.TradeEvent{ev("A", 1, types.EntryLong, t0, "-6000")}},
		{Symbol: "B", Trades: []types.TradeEvent{ev("B", 1, types.EntryLong, t0, "-6000")}},
	}
	accepted, dropped, _ := portfolio.ReplayShared(nil, results, decimal.NewFromInt(10000))
	out := portfolio.ConsolidateShared(results, accepted, dropped)
	var flagged int
	for _, tr := range out {
		if tr.AggregationFlag != "" {
			flagged++
			if tr.Symbol != "B" {
				t.Errorf("expected the flagged trade to be on symbol B, got %s", tr.Symbol)
			}
		}
	}
	if flagged != 1 {
		t.Errorf("expected exactly 1 flagged ConsolidatedTrade, got %d", flagged)
	}
}

func TestIsolatedEquityCurveIsSumOfSymbols(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	results := []types.EngineResult{
		{Symbol: "A", EquityDaily: types.EquityCurve{{Timestamp: t0, Equity: decimal.NewFromInt(100)}}},
		{Symbol: "B", EquityDaily: types.EquityCurve{{Timestamp: t0, Equity: decimal.NewFromInt(200)}}},
	}
	curve := portfolio.BuildEquityCurve(results, portfolio.Isolated)
	if len(curve) != 1 {
		t.Fatalf("expected 1 point, got %d", len(curve))
	}
	if !curve[0].Equity.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected summed equity 300, got %s", curve[0].Equity)
	}
}
