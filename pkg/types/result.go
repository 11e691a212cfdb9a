package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// DataFingerprint is the 8-hex-char content fingerprint computed by
// internal/validation over a symbol's raw series (sha256 over
// high_sum|low_sum|close_sum|row_count|first_ts|last_ts, truncated to 8 hex
// chars). Carried here as a plain string alias since every downstream
// component only ever compares or serializes it.
type DataFingerprint string

// WindowMetrics holds the per-window performance figures computed by
// internal/metrics.
type WindowMetrics struct {
	Window       WindowLabel     `json:"window"`
	CAGR         decimal.Decimal `json:"cagr"`
	Sharpe       decimal.Decimal `json:"sharpe"`
	Sortino      decimal.Decimal `json:"sortino"`
	Calmar       decimal.Decimal `json:"calmar"`
	MaxDrawdown  decimal.Decimal `json:"maxDrawdown"`
	ProfitFactor decimal.Decimal `json:"profitFactor"`
	WinRatePct   decimal.Decimal `json:"winRatePct"`
	IRR          decimal.Decimal `json:"irr"`
	Alpha        decimal.Decimal `json:"alpha"`
	Beta         decimal.Decimal `json:"beta"`
	TotalTrades  int             `json:"totalTrades"`
	// Tail-risk figures alongside the ratio block.
	VaR95         decimal.Decimal `json:"var95"`
	VaR99         decimal.Decimal `json:"var99"`
	AnnualizedVol decimal.Decimal `json:"annualizedVolatility"`
}

// EngineResult is what one per-symbol engine run hands back to the
// orchestrator.
type EngineResult struct {
	Symbol        string          `json:"symbol"`
	Fingerprint   DataFingerprint `json:"fingerprint"`
	Trades        []TradeEvent    `json:"trades"`
	EquityDaily   EquityCurve     `json:"equityDaily"`
	Warnings      []*RunError     `json:"warnings,omitempty"`
	Err           *RunError       `json:"error,omitempty"`
	FinalCash     decimal.Decimal `json:"finalCash"`
	BarsProcessed int             `json:"barsProcessed"`
}

// Failed reports whether the symbol's engine run produced a hard error.
func (r EngineResult) Failed() bool { return r.Err != nil }

// RunSummary is the top-level summary.json artifact produced at the end of
// an orchestrator run.
type RunSummary struct {
	RunID             string                        `json:"runId"`
	Strategy          string                        `json:"strategyName"`
	Basket            string                        `json:"basketName"`
	Interval          string                        `json:"interval"`
	Windows           []WindowLabel                 `json:"windows"`
	StartedAt         time.Time                     `json:"startedAt"`
	EndedAt           time.Time                     `json:"endedAt"`
	SymbolCount       int                           `json:"symbolCount"`
	SuccessCount      int                           `json:"successCount"`
	FailureCount      int                           `json:"failureCount"`
	SymbolsFailed     []string                      `json:"symbolsFailed,omitempty"`
	DataFingerprints  map[string]DataFingerprint    `json:"dataFingerprints"`
	ValidationIssues  []string                      `json:"validationIssues,omitempty"`
	PortfolioMetrics  map[WindowLabel]WindowMetrics `json:"portfolioMetrics"`
	SharedCapitalMode bool                          `json:"sharedCapitalMode"`
}
