package strategy_test

import (
	"testing"
	"time"

	"github.com/atlas-quant/nifty-backtester/internal/strategy"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func seriesOf(closes []float64) *types.Series {
	bars := make([]types.Bar, len(closes))
	ts := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	for i, c := range closes {
		d := decimal.NewFromFloat(c)
		bars[i] = types.Bar{
			Timestamp: ts.AddDate(0, 0, i),
			Open:      d,
			High:      d.Add(decimal.NewFromFloat(0.5)),
			Low:       d.Sub(decimal.NewFromFloat(0.5)),
			Close:     d,
			Volume:    decimal.NewFromInt(1000),
		}
	}
	return &types.Series{Symbol: "TEST", Bars: bars}
}

func TestBinderValueReadsThroughCurrentBar(t *testing.T) {
	b := strategy.NewBinder()
	if err := b.Register("x", []float64{1, 2, 3, 4, 5}); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if got := b.Value("x", 2); got != 3 {
		t.Errorf("Value(x,2) = %v, want the value computed through bar 2 (3)", got)
	}
	if got := b.Value("x", 1); got != 2 {
		t.Errorf("Value(x,1) = %v, want the value at index 1 (2)", got)
	}
	if got := b.Current("x", 2); got != 3 {
		t.Errorf("Current(x,2) = %v, want the value at index 2 (3)", got)
	}
}

func TestBinderRejectsDoubleRegistration(t *testing.T) {
	b := strategy.NewBinder()
	if err := b.Register("rsi", []float64{1, 2}); err != nil {
		t.Fatalf("unexpected error on first register: %v", err)
	}
	if err := b.Register("rsi", []float64{3, 4}); err == nil {
		t.Fatal("expected an error re-registering the same indicator name")
	}
}

func TestRegistryCreateIsolatesInstances(t *testing.T) {
	reg := strategy.NewRegistry(nil)
	a, ok := reg.Create("ema_crossover")
	if !ok {
		t.Fatal("expected ema_crossover to be registered")
	}
	bInst, ok := reg.Create("ema_crossover")
	if !ok {
		t.Fatal("expected a second instance to be constructible")
	}
	if a == bInst {
		t.Fatal("Create should return a fresh instance each call, not a shared singleton")
	}
}

func TestEMACrossoverEntersOnGoldenCross(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		if i < 30 {
			closes[i] = 100 - float64(i)*0.5
		} else {
			closes[i] = closes[29] + float64(i-29)*1.5
		}
	}
	series := seriesOf(closes)
	s := strategy.NewEMACrossover(5, 20)
	binder := strategy.NewBinder()
	if err := s.Prepare(series, binder); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	s.Initialize()

	entered := false
	for i := 1; i < series.Len(); i++ {
		ctx := &strategy.Context{Index: i, Bar: series.Bars[i], Series: series, Binder: binder, State: types.NewPersistentState()}
		if ok, _, _ := s.OnEntry(ctx); ok {
			entered = true
			break
		}
	}
	if !entered {
		t.Error("expected ema_crossover to signal an entry once the fast EMA overtakes the slow EMA")
	}
}

func TestRegistryUnknownStrategy(t *testing.T) {
	reg := strategy.NewRegistry(nil)
	if _, ok := reg.Create("does_not_exist"); ok {
		t.Error("expected Create to report ok=false for an unregistered key")
	}
}
