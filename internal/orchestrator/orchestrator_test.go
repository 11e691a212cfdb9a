package orchestrator_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/nifty-backtester/internal/orchestrator"
	"github.com/atlas-quant/nifty-backtester/internal/strategy"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
)

func syntheticSeries(symbol string, bars int, start float64) *types.Series {
	s := &types.Series{Symbol: symbol}
	base := time.Date(2022, 1, 3, 0, 0, 0, 0, time.UTC)
	price := start
	for i := 0; i < bars; i++ {
		price = price * (1 + 0.002*float64(i%7-3))
		if price <= 0 {
			price = start
		}
		o := price
		h := price * 1.01
		l := price * 0.99
		c := price * 1.002
		s.Bars = append(s.Bars, types.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      decimal.NewFromFloat(o),
			High:      decimal.NewFromFloat(h),
			Low:       decimal.NewFromFloat(l),
			Close:     decimal.NewFromFloat(c),
			Volume:    decimal.NewFromInt(100000),
		})
	}
	return s
}

func TestRunAggregatesAcrossSymbols(t *testing.T) {
	registry := strategy.NewRegistry(nil)
	o := orchestrator.New(nil, registry, types.DefaultBrokerConfig(), orchestrator.WithWorkers(2))

	symbols := []string{"AAA", "BBB", "CCC"}
	load := func(symbol string) (*types.Series, error) {
		return syntheticSeries(symbol, 400, 100), nil
	}

	result, err := o.Run(context.Background(), "ema_crossover", "test-basket", "1d", symbols, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Summary.SuccessCount != len(symbols) {
		t.Errorf("expected %d successes, got %d", len(symbols), result.Summary.SuccessCount)
	}
	if result.Summary.FailureCount != 0 {
		t.Errorf("expected 0 failures, got %d: %v", result.Summary.FailureCount, result.Summary.SymbolsFailed)
	}
	if len(result.Summary.DataFingerprints) != len(symbols) {
		t.Errorf("expected a fingerprint per symbol, got %d", len(result.Summary.DataFingerprints))
	}
	if _, ok := result.Summary.PortfolioMetrics[types.WindowMax]; !ok {
		t.Error("expected a MAX window entry in portfolio metrics")
	}
	if len(result.PortfolioEquity) == 0 {
		t.Error("expected a non-empty portfolio equity curve")
	}
}

func TestRunIsolatesPerSymbolFailures(t *testing.T) {
	registry := strategy.NewRegistry(nil)
	o := orchestrator.New(nil, registry, types.DefaultBrokerConfig(), orchestrator.WithWorkers(2))

	symbols := []string{"GOOD", "BAD"}
	load := func(symbol string) (*types.Series, error) {
		if symbol == "BAD" {
			return nil, fmt.Errorf("simulated load failure")
		}
		return syntheticSeries(symbol, 400, 100), nil
	}

	result, err := o.Run(context.Background(), "ema_crossover", "test-basket", "1d", symbols, load)
	if err != nil {
		t.Fatalf("a partial failure must not fail the whole run: %v", err)
	}
	if result.Summary.SuccessCount != 1 || result.Summary.FailureCount != 1 {
		t.Errorf("expected 1 success and 1 failure, got success=%d failure=%d",
			result.Summary.SuccessCount, result.Summary.FailureCount)
	}
	if len(result.Summary.SymbolsFailed) != 1 || result.Summary.SymbolsFailed[0] != "BAD" {
		t.Errorf("expected BAD in SymbolsFailed, got %v", result.Summary.SymbolsFailed)
	}
}

func TestRunFailsWhenEverySymbolFails(t *testing.T) {
	registry := strategy.NewRegistry(nil)
	o := orchestrator.New(nil, registry, types.DefaultBrokerConfig())

	load := func(symbol string) (*types.Series, error) {
		return nil, fmt.Errorf("no data")
	}

	_, err := o.Run(context.Background(), "ema_crossover", "test-basket", "1d", []string{"AAA"}, load)
	if err == nil {
		t.Fatal("expected an error when every symbol fails")
	}
}

func TestRunWithBenchmarkPopulatesAlphaBeta(t *testing.T) {
	registry := strategy.NewRegistry(nil)
	benchmark := syntheticSeries("NIFTYBEES", 400, 50)
	o := orchestrator.New(nil, registry, types.DefaultBrokerConfig(),
		orchestrator.WithWorkers(2), orchestrator.WithBenchmark(benchmark))

	load := func(symbol string) (*types.Series, error) {
		return syntheticSeries(symbol, 400, 100), nil
	}

	result, err := o.Run(context.Background(), "ema_crossover", "test-basket", "1d", []string{"AAA"}, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	max := result.Summary.PortfolioMetrics[types.WindowMax]
	if max.Beta.IsZero() {
		t.Error("expected a non-zero beta once a benchmark series is supplied")
	}
	for _, issue := range result.Summary.ValidationIssues {
		if issue == "alpha/beta omitted on every window: no benchmark series supplied" {
			t.Error("did not expect the no-benchmark warning once a benchmark is wired in")
		}
	}
}

func TestRunWithoutBenchmarkLeavesAlphaBetaZeroAndWarns(t *testing.T) {
	registry := strategy.NewRegistry(nil)
	o := orchestrator.New(nil, registry, types.DefaultBrokerConfig(), orchestrator.WithWorkers(2))

	load := func(symbol string) (*types.Series, error) {
		return syntheticSeries(symbol, 400, 100), nil
	}

	result, err := o.Run(context.Background(), "ema_crossover", "test-basket", "1d", []string{"AAA"}, load)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	max := result.Summary.PortfolioMetrics[types.WindowMax]
	if !max.Alpha.IsZero() || !max.Beta.IsZero() {
		t.Errorf("expected zero-valued alpha/beta with no benchmark, got alpha=%s beta=%s", max.Alpha, max.Beta)
	}
	found := false
	for _, issue := range result.Summary.ValidationIssues {
		if issue == "alpha/beta omitted on every window: no benchmark series supplied" {
			found = true
		}
	}
	if !found {
		t.Error("expected a validation issue recording that alpha/beta were omitted")
	}
}

func TestRunRejectsUnknownStrategy(t *testing.T) {
	registry := strategy.NewRegistry(nil)
	o := orchestrator.New(nil, registry, types.DefaultBrokerConfig())

	load := func(symbol string) (*types.Series, error) {
		return syntheticSeries(symbol, 400, 100), nil
	}

	_, err := o.Run(context.Background(), "not_a_real_strategy", "test-basket", "1d", []string{"AAA"}, load)
	if err == nil {
		t.Fatal("expected an error for an unknown strategy key")
	}
	runErr, ok := err.(*types.RunError)
	if !ok {
		t.Fatalf("expected a *types.RunError, got %T", err)
	}
	if runErr.Kind != types.ConfigErrorKind {
		t.Errorf("expected ConfigErrorKind for an unknown strategy, got %s", runErr.Kind)
	}
}
