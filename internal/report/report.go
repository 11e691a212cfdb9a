// Package report serializes an orchestrator run into the on-disk artifact
// set: summary.json, per-window consolidated trades, daily/monthly equity
// curves and per-window portfolio key metrics. Every numeric field is
// rounded to 2 decimals on the way out; nothing under the run's directory is
// touched again once WriteAll returns.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-quant/nifty-backtester/internal/metrics"
	"github.com/atlas-quant/nifty-backtester/internal/orchestrator"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
)

// Writer emits a run's artifacts under one directory.
type Writer struct {
	dir string
}

// NewWriter returns a Writer rooted at dir, creating it if necessary.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, types.NewRunError(types.EngineErrorKind, "", fmt.Sprintf("create report dir: %v", err), err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the directory this Writer emits into.
func (w *Writer) Dir() string { return w.dir }

// RunDirName builds the <MMDD-HHMM>-<strategy>-<basket>-<interval> directory
// name for a run started at t.
func RunDirName(t time.Time, strategyKey, basket, interval string) string {
	return fmt.Sprintf("%s-%s-%s-%s", t.Format("0102-1504"), strategyKey, basket, interval)
}

// WriteAll emits every artifact for a completed orchestrator run.
func (w *Writer) WriteAll(result *orchestrator.Result) error {
	if err := w.writeSummary(result.Summary); err != nil {
		return err
	}
	for _, label := range types.AllWindows {
		if err := w.writeConsolidatedTrades(label, result.ConsolidatedByWin[label]); err != nil {
			return err
		}
	}
	if err := w.writeEquityCurve("portfolio_daily_equity_curve.csv", result.PortfolioEquity); err != nil {
		return err
	}
	if err := w.writeEquityCurve("portfolio_monthly_equity_curve.csv", result.PortfolioEquity.ToMonthly()); err != nil {
		return err
	}
	for _, label := range types.AllWindows {
		if err := w.writeKeyMetrics(label, result); err != nil {
			return err
		}
	}
	return w.writeStrategyBacktestsSummary(result)
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func (w *Writer) writeSummary(summary types.RunSummary) error {
	f, err := os.Create(filepath.Join(w.dir, "summary.json"))
	if err != nil {
		return types.NewRunError(types.EngineErrorKind, "", fmt.Sprintf("create summary.json: %v", err), err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return types.NewRunError(types.EngineErrorKind, "", fmt.Sprintf("write summary.json: %v", err), err)
	}
	return nil
}

var consolidatedTradesHeader = []string{
	"trade_no", "symbol", "type", "datetime", "price", "qty",
	"net_pnl_inr", "net_pnl_pct", "profitable",
	"runup_inr", "runup_pct", "drawdown_inr", "drawdown_pct", "holding_days",
	"rsi", "rsi_bullish", "atr", "volatility", "trend",
	"macd_bullish", "above_cloud", "stoch_bullish", "stochrsi_bullish", "volume",
}

func (w *Writer) writeConsolidatedTrades(label types.WindowLabel, trades []types.ConsolidatedTrade) error {
	path := filepath.Join(w.dir, fmt.Sprintf("consolidated_trades_%s.csv", label))
	f, err := os.Create(path)
	if err != nil {
		return types.NewRunError(types.EngineErrorKind, "", fmt.Sprintf("create %s: %v", path, err), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if err := cw.Write(consolidatedTradesHeader); err != nil {
		return err
	}

	for i, t := range trades {
		tradeNo := i + 1
		entryRow := []string{
			fmt.Sprint(tradeNo), t.Symbol, "Entry long", t.EntryTime.Format(time.RFC3339),
			round2(t.EntryPrice).String(), t.Qty.String(),
			"", "", "", // net pnl / profitable empty on entry
			"", "", "", "", "", // run-up/drawdown/holding-days empty on entry
		}
		entryRow = append(entryRow, snapshotColumns(t.EntrySnapshot)...)
		if err := cw.Write(entryRow); err != nil {
			return err
		}

		dateTime := ""
		holdingDays := t.HoldingDays
		netPnLAbs := ""
		netPnLPct := ""
		profitable := ""
		exitPrice := ""
		if t.IsOpen() {
			dateTime = "OPEN"
			holdingDays = time.Since(t.EntryTime).Hours() / 24
		} else {
			dateTime = t.ExitTime.Format(time.RFC3339)
			exitPrice = round2(t.ExitPrice).String()
			netPnLAbs = round2(t.NetPnLAbs).String()
			netPnLPct = round2(t.NetPnLPct.Mul(decimal.NewFromInt(100))).String()
			if t.Profitable() {
				profitable = "Yes"
			} else {
				profitable = "No"
			}
		}

		runUpPct := t.MaxFavorableExcursion
		drawdownPct := t.MaxAdverseExcursion
		runUpINR := runUpPct.Mul(t.EntryPrice).Mul(t.Qty)
		drawdownINR := drawdownPct.Mul(t.EntryPrice).Mul(t.Qty)

		exitRow := []string{
			fmt.Sprint(tradeNo), t.Symbol, "Exit long", dateTime,
			exitPrice, t.Qty.String(),
			netPnLAbs, netPnLPct, profitable,
			round2(runUpINR).String(), round2(runUpPct.Mul(decimal.NewFromInt(100))).String(),
			round2(drawdownINR).String(), round2(drawdownPct.Mul(decimal.NewFromInt(100))).String(),
			fmt.Sprintf("%.1f", holdingDays),
		}
		exitRow = append(exitRow, emptySnapshotColumns()...)
		if err := cw.Write(exitRow); err != nil {
			return err
		}
	}
	return nil
}

func boolStr(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func snapshotColumns(s types.IndicatorSnapshot) []string {
	if !s.Valid {
		return emptySnapshotColumns()
	}
	return []string{
		round2(s.RSI).String(), boolStr(s.RSIBullish), round2(s.ATR).String(),
		string(s.Volatility), string(s.Trend),
		boolStr(s.MACDBullish), boolStr(s.AboveCloud), boolStr(s.StochBullish), boolStr(s.StochRSIBullish),
		string(s.Volume),
	}
}

func emptySnapshotColumns() []string {
	return []string{"", "", "", "", "", "", "", "", "", ""}
}

var equityCurveHeader = []string{"date", "cash", "positions_value", "total_equity", "drawdown_abs", "drawdown_pct"}

func (w *Writer) writeEquityCurve(filename string, curve types.EquityCurve) error {
	path := filepath.Join(w.dir, filename)
	f, err := os.Create(path)
	if err != nil {
		return types.NewRunError(types.EngineErrorKind, "", fmt.Sprintf("create %s: %v", path, err), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()
	if err := cw.Write(equityCurveHeader); err != nil {
		return err
	}
	for _, p := range curve {
		positionsValue := p.Equity.Sub(p.Cash)
		drawdownAbs := decimal.Zero
		if onePlus := decimal.NewFromInt(1).Add(p.Drawdown); onePlus.IsPositive() {
			drawdownAbs = p.Equity.Sub(p.Equity.Div(onePlus)) // equity minus running peak
		}
		row := []string{
			p.Timestamp.Format("2006-01-02"),
			round2(p.Cash).String(),
			round2(positionsValue).String(),
			round2(p.Equity).String(),
			round2(drawdownAbs).String(),
			round2(p.Drawdown.Mul(decimal.NewFromInt(100))).String(),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}

var keyMetricsHeader = []string{
	"symbol", "trades", "wins", "losses", "win_rate_pct", "net_pnl_pct",
	"avg_trade_pct", "profit_factor", "max_dd_pct", "cagr_pct", "sharpe", "sortino", "calmar", "irr_pct",
}

func (w *Writer) writeKeyMetrics(label types.WindowLabel, result *orchestrator.Result) error {
	path := filepath.Join(w.dir, fmt.Sprintf("portfolio_key_metrics_%s.csv", label))
	f, err := os.Create(path)
	if err != nil {
		return types.NewRunError(types.EngineErrorKind, "", fmt.Sprintf("create %s: %v", path, err), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()
	if err := cw.Write(keyMetricsHeader); err != nil {
		return err
	}

	bySymbol := groupTradesBySymbol(result.ConsolidatedByWin[label])
	calc := metrics.NewCalculator()

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		trades := bySymbol[symbol]
		curve := symbolEquityWindow(result, symbol, label)
		m := calc.Calculate(label, curve, trades, result.PerSymbolInitialCapital)
		if err := cw.Write(keyMetricsRow(symbol, trades, m)); err != nil {
			return err
		}
	}

	totalCapital := result.PerSymbolInitialCapital.Mul(decimal.NewFromInt(int64(len(symbols))))
	if result.Summary.SharedCapitalMode {
		totalCapital = result.PerSymbolInitialCapital
	}
	portfolioMetrics := calc.Calculate(label, result.EquityByWindow[label], result.ConsolidatedByWin[label], totalCapital)
	if err := cw.Write(keyMetricsRow("PORTFOLIO", result.ConsolidatedByWin[label], portfolioMetrics)); err != nil {
		return err
	}
	return nil
}

func keyMetricsRow(symbol string, trades []types.ConsolidatedTrade, m types.WindowMetrics) []string {
	wins, losses := 0, 0
	var netPnLPctSum decimal.Decimal
	closed := 0
	for _, t := range trades {
		if t.IsOpen() {
			continue
		}
		closed++
		netPnLPctSum = netPnLPctSum.Add(t.NetPnLPct)
		if t.Profitable() {
			wins++
		} else {
			losses++
		}
	}
	avgTradePct := decimal.Zero
	if closed > 0 {
		avgTradePct = netPnLPctSum.Div(decimal.NewFromInt(int64(closed))).Mul(decimal.NewFromInt(100))
	}
	netPnLPct := netPnLPctSum.Mul(decimal.NewFromInt(100))

	return []string{
		symbol,
		fmt.Sprint(len(trades)),
		fmt.Sprint(wins),
		fmt.Sprint(losses),
		round2(m.WinRatePct).String(),
		round2(netPnLPct).String(),
		round2(avgTradePct).String(),
		round2(m.ProfitFactor).String(),
		round2(m.MaxDrawdown.Mul(decimal.NewFromInt(100))).String(),
		round2(m.CAGR.Mul(decimal.NewFromInt(100))).String(),
		round2(m.Sharpe).String(),
		round2(m.Sortino).String(),
		round2(m.Calmar).String(),
		round2(m.IRR.Mul(decimal.NewFromInt(100))).String(),
	}
}

func groupTradesBySymbol(trades []types.ConsolidatedTrade) map[string][]types.ConsolidatedTrade {
	out := make(map[string][]types.ConsolidatedTrade)
	for _, t := range trades {
		out[t.Symbol] = append(out[t.Symbol], t)
	}
	return out
}

func symbolEquityWindow(result *orchestrator.Result, symbol string, label types.WindowLabel) types.EquityCurve {
	for _, r := range result.EngineResults {
		if r.Symbol != symbol {
			continue
		}
		ws := findWindow(result, label)
		return r.EquityDaily.SliceWindow(ws.Start, ws.End)
	}
	return nil
}

func findWindow(result *orchestrator.Result, label types.WindowLabel) types.WindowSlice {
	curve := result.EquityByWindow[label]
	if len(curve) == 0 {
		return types.WindowSlice{Label: label}
	}
	return types.WindowSlice{Label: label, Start: curve[0].Timestamp, End: curve[len(curve)-1].Timestamp}
}

// writeStrategyBacktestsSummary emits a one-line-per-symbol overview of the
// whole run (the MAX window), independent of the per-window key metrics.
func (w *Writer) writeStrategyBacktestsSummary(result *orchestrator.Result) error {
	path := filepath.Join(w.dir, "strategy_backtests_summary.csv")
	f, err := os.Create(path)
	if err != nil {
		return types.NewRunError(types.EngineErrorKind, "", fmt.Sprintf("create %s: %v", path, err), err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{"symbol", "status", "bars_processed", "final_cash", "trade_count", "fingerprint"}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range result.EngineResults {
		status := "ok"
		if r.Failed() {
			status = r.Err.Error()
		}
		row := []string{
			r.Symbol, status, fmt.Sprint(r.BarsProcessed),
			round2(r.FinalCash).String(), fmt.Sprint(len(r.Trades)), string(r.Fingerprint),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}
