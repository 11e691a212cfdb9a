package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeEventKind enumerates the fill events the engine can emit.
type TradeEventKind string

const (
	EntryLong TradeEventKind = "EntryLong"
	ExitLong  TradeEventKind = "ExitLong"
	StopHit   TradeEventKind = "StopHit"
	TPHit     TradeEventKind = "TPHit"
)

// TradeEvent is a single fill. TradeID is monotonically increasing per
// symbol, assigned by the engine that owns the symbol's run.
type TradeEvent struct {
	TradeID     int64           `json:"tradeId"`
	Symbol      string          `json:"symbol"`
	Kind        TradeEventKind  `json:"kind"`
	Timestamp   time.Time       `json:"timestamp"`
	Price       decimal.Decimal `json:"price"`
	Qty         decimal.Decimal `json:"qty"`
	CashDelta   decimal.Decimal `json:"cashDelta"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
	Reason      string          `json:"reason"`

	// Snapshot is populated only on an EntryLong event, from indicator
	// sequences the engine computed once over the whole series. Never
	// re-fetched at report time.
	Snapshot *IndicatorSnapshot `json:"snapshot,omitempty"`

	// RunUp and Drawdown are populated only on a closing event (ExitLong,
	// StopHit, TPHit): the maximum favorable/adverse excursion observed
	// across the position's holding period, as a fraction of entry notional
	// (run-up >= 0, drawdown <= 0; GLOSSARY).
	RunUp       decimal.Decimal `json:"runUp,omitempty"`
	Drawdown    decimal.Decimal `json:"drawdown,omitempty"`
	HoldingBars int             `json:"holdingBars,omitempty"`
}

// IsEntry reports whether the event opens or adds to a position.
func (e TradeEvent) IsEntry() bool { return e.Kind == EntryLong }

// IsExit reports whether the event fully or partially closes a position.
func (e TradeEvent) IsExit() bool { return e.Kind == ExitLong || e.Kind == StopHit || e.Kind == TPHit }

// VolatilityClass, TrendClass and VolumeClass are the pct-rank buckets used
// in the per-trade indicator snapshot. They are enums, not free-form
// strings, so a typo'd key like `stochrsi_bullish` vs `stoch_rsi_bullish`
// fails to compile instead of silently reading as zero-value.
type VolatilityClass string

const (
	VolLow    VolatilityClass = "low"
	VolMedium VolatilityClass = "medium"
	VolHigh   VolatilityClass = "high"
)

type TrendClass string

const (
	TrendDown    TrendClass = "down"
	TrendNeutral TrendClass = "neutral"
	TrendUp      TrendClass = "up"
)

type VolumeClass string

const (
	VolumeLow    VolumeClass = "low"
	VolumeNormal VolumeClass = "normal"
	VolumeHigh   VolumeClass = "high"
)

// IndicatorSnapshot captures entry-time indicator readings for a
// ConsolidatedTrade, computed once by the engine from its own indicator
// sequences over the whole series (independent of the strategy's binder),
// never re-fetched at report time.
type IndicatorSnapshot struct {
	Valid           bool            `json:"valid"`
	RSI             decimal.Decimal `json:"rsi"`
	RSIBullish      bool            `json:"rsiBullish"`
	ATR             decimal.Decimal `json:"atr"`
	Volatility      VolatilityClass `json:"volatility"`
	Trend           TrendClass      `json:"trend"`
	MACDBullish     bool            `json:"macdBullish"`
	AboveCloud      bool            `json:"aboveCloud"`
	StochBullish    bool            `json:"stochBullish"`
	StochRSIBullish bool            `json:"stochRsiBullish"`
	Volume          VolumeClass     `json:"volume"`
}

// ConsolidatedTrade is an entry<->exit pair created post-hoc by the
// portfolio aggregator. ExitTime is nil for a position still open at
// the end of the run.
type ConsolidatedTrade struct {
	Symbol                string            `json:"symbol"`
	EntryTime             time.Time         `json:"entryTime"`
	ExitTime              *time.Time        `json:"exitTime,omitempty"`
	EntryPrice            decimal.Decimal   `json:"entryPrice"`
	ExitPrice             decimal.Decimal   `json:"exitPrice"`
	Qty                   decimal.Decimal   `json:"qty"`
	NetPnLAbs             decimal.Decimal   `json:"netPnlAbs"`
	NetPnLPct             decimal.Decimal   `json:"netPnlPct"`
	HoldingBars           int               `json:"holdingBars"`
	HoldingDays           float64           `json:"holdingDays"`
	MaxFavorableExcursion decimal.Decimal   `json:"runUp"`
	MaxAdverseExcursion   decimal.Decimal   `json:"drawdown"`
	EntrySnapshot         IndicatorSnapshot `json:"entrySnapshot"`
	CloseReason           string            `json:"closeReason"`
	AggregationFlag       string            `json:"aggregationFlag,omitempty"` // e.g. "AggregationError" on shared-capital drop
}

// IsOpen reports whether the trade has not yet been exited.
func (t *ConsolidatedTrade) IsOpen() bool { return t.ExitTime == nil }

// Profitable reports whether the trade is a net winner. Only meaningful for
// closed trades; callers must check IsOpen first.
func (t *ConsolidatedTrade) Profitable() bool { return t.NetPnLAbs.IsPositive() }
