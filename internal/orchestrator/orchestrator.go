// Package orchestrator drives one full run: load each symbol's series, fan
// out a bounded pool of concurrent engines, gather their results, aggregate
// the portfolio, and compute window-sliced metrics. A single symbol's
// failure never aborts the run — it is recorded and the rest proceed. Only
// a run where every symbol failed is a hard error.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-quant/nifty-backtester/internal/engine"
	"github.com/atlas-quant/nifty-backtester/internal/metrics"
	"github.com/atlas-quant/nifty-backtester/internal/portfolio"
	"github.com/atlas-quant/nifty-backtester/internal/strategy"
	"github.com/atlas-quant/nifty-backtester/internal/validation"
	"github.com/atlas-quant/nifty-backtester/internal/workers"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
)

// SeriesLoader resolves one basket symbol to its raw OHLCV series.
type SeriesLoader func(symbol string) (*types.Series, error)

// Orchestrator owns the registry, broker config and concurrency settings
// shared by every engine in a run.
type Orchestrator struct {
	logger        *zap.Logger
	registry      *strategy.Registry
	broker        types.BrokerConfig
	validator     *validation.Validator
	workers       int
	skipValidate  bool
	sharedCapital bool
	benchmark     types.EquityCurve
}

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithWorkers overrides the default (runtime.NumCPU()-sized) worker count.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSkipValidate disables the validation pass (--no_validate).
func WithSkipValidate(skip bool) Option {
	return func(o *Orchestrator) { o.skipValidate = skip }
}

// WithSharedCapital selects the shared-pool portfolio aggregation mode.
func WithSharedCapital(shared bool) Option {
	return func(o *Orchestrator) { o.sharedCapital = shared }
}

// WithBenchmark supplies a benchmark price series (e.g. NIFTYBEES) used to
// compute per-window alpha/beta. Its close prices are treated as an equity
// curve for the regression in internal/metrics. Omitting this option (the
// benchmark series is optional, per spec.md §6) leaves Alpha/Beta at their
// zero value on every WindowMetrics rather than producing an error.
func WithBenchmark(series *types.Series) Option {
	return func(o *Orchestrator) {
		if series == nil || series.Len() == 0 {
			return
		}
		curve := make(types.EquityCurve, series.Len())
		for i, b := range series.Bars {
			curve[i] = types.EquityPoint{Timestamp: b.Timestamp, Equity: b.Close}
		}
		o.benchmark = curve
	}
}

// New returns an Orchestrator ready to run one basket.
func New(logger *zap.Logger, registry *strategy.Registry, broker types.BrokerConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:    logger,
		registry:  registry,
		broker:    broker,
		validator: validation.NewValidator(logger),
		workers:   runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Result is everything a run produces, before it is written to disk by
// internal/report.
type Result struct {
	Summary           types.RunSummary
	EngineResults     []types.EngineResult
	ConsolidatedAll   []types.ConsolidatedTrade
	PortfolioEquity   types.EquityCurve
	ConsolidatedByWin map[types.WindowLabel][]types.ConsolidatedTrade
	EquityByWindow    map[types.WindowLabel]types.EquityCurve
	// PerSymbolInitialCapital is the capital basis used for every
	// per-symbol WindowMetrics calculation (isolated mode: broker
	// InitialCapital; shared mode: same value, since the shared pool is
	// sized once for the whole basket, not per symbol).
	PerSymbolInitialCapital decimal.Decimal
}

// Run loads every symbol in symbols via load, runs one engine per symbol
// (bounded by o.workers), aggregates the portfolio and computes metrics for
// every window in types.AllWindows. basketName and strategyKey are carried
// through only for report labeling.
func (o *Orchestrator) Run(ctx context.Context, strategyKey, basketName, interval string, symbols []string, load SeriesLoader) (*Result, error) {
	startedAt := time.Now()

	if len(symbols) == 0 {
		return nil, types.NewRunError(types.ConfigErrorKind, "", "basket is empty", nil)
	}
	if _, ok := o.registry.Create(strategyKey); !ok {
		return nil, types.NewRunError(types.ConfigErrorKind, "", fmt.Sprintf("unknown strategy %q", strategyKey), nil)
	}

	poolConfig := workers.DefaultPoolConfig("backtest", o.workers)
	poolConfig.QueueSize = len(symbols) // every symbol is submitted up front, never backpressured
	pool := workers.NewPool(o.logger, poolConfig)
	pool.Start()
	defer pool.Stop()

	results := make([]types.EngineResult, len(symbols))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(symbols))

	for i, symbol := range symbols {
		i, symbol := i, symbol
		submitErr := pool.SubmitFunc(func() error {
			defer wg.Done()
			res := o.runSymbol(ctx, strategyKey, symbol, load)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			if res.Err != nil {
				return res.Err
			}
			return nil
		})
		if submitErr != nil {
			// unreachable in practice (queue sized to len(symbols)), but a
			// symbol must never be silently dropped if it somehow occurs.
			wg.Done()
			res := o.runSymbol(ctx, strategyKey, symbol, load)
			mu.Lock()
			results[i] = res
			mu.Unlock()
		}
	}
	wg.Wait()

	var succeeded []types.EngineResult
	var failed []string
	fingerprints := make(map[string]types.DataFingerprint)
	var validationIssues []string

	for _, r := range results {
		if r.Fingerprint != "" {
			fingerprints[r.Symbol] = r.Fingerprint
		}
		for _, w := range r.Warnings {
			validationIssues = append(validationIssues, w.Error())
		}
		if r.Failed() {
			failed = append(failed, r.Symbol)
			if o.logger != nil {
				o.logger.Warn("symbol run failed", zap.String("symbol", r.Symbol), zap.Error(r.Err))
			}
			continue
		}
		succeeded = append(succeeded, r)
	}

	if len(succeeded) == 0 {
		return nil, types.NewRunError(types.EngineErrorKind, "", "every symbol in the basket failed", nil)
	}

	var consolidated []types.ConsolidatedTrade
	var equity types.EquityCurve
	if o.sharedCapital {
		accepted, dropped, conflicts := portfolio.ReplayShared(o.logger, succeeded, o.broker.InitialCapital)
		for _, c := range conflicts {
			validationIssues = append(validationIssues, c.Error())
		}
		consolidated = portfolio.ConsolidateShared(succeeded, accepted, dropped)
		equity = portfolio.BuildSharedEquityCurve(succeeded, accepted, o.broker.InitialCapital)
	} else {
		consolidated = portfolio.Consolidate(succeeded)
		equity = portfolio.BuildEquityCurve(succeeded, portfolio.Isolated)
	}

	totalCapital := o.broker.InitialCapital.Mul(decimal.NewFromInt(int64(len(succeeded))))
	if o.sharedCapital {
		totalCapital = o.broker.InitialCapital
	}

	calc := metrics.NewCalculator()
	windowSlices := types.ResolveWindows(firstTimestamp(equity), lastTimestamp(equity))

	portfolioMetrics := make(map[types.WindowLabel]types.WindowMetrics, len(windowSlices))
	consolidatedByWindow := make(map[types.WindowLabel][]types.ConsolidatedTrade, len(windowSlices))
	equityByWindow := make(map[types.WindowLabel]types.EquityCurve, len(windowSlices))

	if len(o.benchmark) == 0 {
		validationIssues = append(validationIssues, "alpha/beta omitted on every window: no benchmark series supplied")
	}
	for _, ws := range windowSlices {
		curveWin := equity.SliceWindow(ws.Start, ws.End)
		tradesWin := filterTradesInWindow(consolidated, ws.Start, ws.End)
		wm := calc.Calculate(ws.Label, curveWin, tradesWin, totalCapital)
		if len(o.benchmark) > 0 {
			benchWin := o.benchmark.SliceWindow(ws.Start, ws.End)
			wm.Alpha, wm.Beta = metrics.CalculateAlphaBeta(curveWin, benchWin)
		}
		portfolioMetrics[ws.Label] = wm
		consolidatedByWindow[ws.Label] = tradesWin
		equityByWindow[ws.Label] = curveWin
	}

	summary := types.RunSummary{
		RunID:             uuid.NewString(),
		Strategy:          strategyKey,
		Basket:            basketName,
		Interval:          interval,
		Windows:           types.AllWindows,
		StartedAt:         startedAt,
		EndedAt:           time.Now(),
		SymbolCount:       len(symbols),
		SuccessCount:      len(succeeded),
		FailureCount:      len(failed),
		SymbolsFailed:     failed,
		DataFingerprints:  fingerprints,
		ValidationIssues:  validationIssues,
		PortfolioMetrics:  portfolioMetrics,
		SharedCapitalMode: o.sharedCapital,
	}

	return &Result{
		Summary:                 summary,
		EngineResults:           results,
		ConsolidatedAll:         consolidated,
		PortfolioEquity:         equity,
		ConsolidatedByWin:       consolidatedByWindow,
		EquityByWindow:          equityByWindow,
		PerSymbolInitialCapital: o.broker.InitialCapital,
	}, nil
}

// runSymbol loads series, validates it (unless skipped), builds a strategy
// instance and drives one engine to completion. All failures are returned on
// EngineResult.Err rather than propagated, so a single bad symbol never
// aborts the fan-out.
func (o *Orchestrator) runSymbol(ctx context.Context, strategyKey, symbol string, load SeriesLoader) types.EngineResult {
	series, err := load(symbol)
	if err != nil {
		return types.EngineResult{Symbol: symbol, Err: types.NewRunError(types.DataErrorKind, symbol, fmt.Sprintf("load failed: %v", err), err)}
	}
	if series.Len() == 0 {
		return types.EngineResult{Symbol: symbol, Err: types.NewRunError(types.DataErrorKind, symbol, "empty series", nil)}
	}

	var warnings []*types.RunError
	var fingerprint types.DataFingerprint
	if !o.skipValidate {
		report := o.validator.Validate(series)
		fingerprint = report.Fingerprint
		if !report.IsUsable {
			return types.EngineResult{Symbol: symbol, Err: types.NewRunError(types.DataErrorKind, symbol, "data quality too low to trade", nil)}
		}
		for _, issue := range report.Issues {
			warnings = append(warnings, types.NewRunError(types.DataWarningKind, symbol, issue.Message, nil))
		}
		for _, rec := range report.Recommendations {
			warnings = append(warnings, types.NewRunError(types.DataWarningKind, symbol, "recommendation: "+rec, nil))
		}
	} else {
		fingerprint = validation.Fingerprint(series)
	}

	strat, ok := o.registry.Create(strategyKey)
	if !ok {
		return types.EngineResult{Symbol: symbol, Err: types.NewRunError(types.ConfigErrorKind, symbol, fmt.Sprintf("unknown strategy %q", strategyKey), nil)}
	}

	eng := engine.New(o.logger, o.broker, strat)
	res := eng.RunContext(ctx, series)
	res.Fingerprint = fingerprint
	res.Warnings = append(warnings, res.Warnings...)
	return res
}

// filterTradesInWindow keeps a trade when its window-relevant timestamp
// falls in [start, end]: exit_time for a closed trade, entry_time for one
// still open, per spec's window-filter rule.
func filterTradesInWindow(trades []types.ConsolidatedTrade, start, end time.Time) []types.ConsolidatedTrade {
	var out []types.ConsolidatedTrade
	for _, t := range trades {
		ts := t.EntryTime
		if !t.IsOpen() {
			ts = *t.ExitTime
		}
		if ts.Before(start) || ts.After(end) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

func firstTimestamp(curve types.EquityCurve) time.Time {
	if len(curve) == 0 {
		return time.Time{}
	}
	return curve[0].Timestamp
}

func lastTimestamp(curve types.EquityCurve) time.Time {
	if len(curve) == 0 {
		return time.Time{}
	}
	return curve[len(curve)-1].Timestamp
}
