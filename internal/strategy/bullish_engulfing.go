package strategy

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// BullishEngulfing enters long on a classic two-candle bullish engulfing
// pattern (a red candle followed by a green candle whose body fully
// engulfs it) and exits once ATR-scaled momentum reverses. Unlike the
// other bundled strategies this reads bar bodies directly rather than
// through an indicator series, since a candlestick pattern is a raw-price
// shape rather than a derived statistic.
type BullishEngulfing struct {
	atrPeriod   int
	closeReason string
}

// NewBullishEngulfing returns a BullishEngulfing using a 14-bar ATR for its
// exit trigger.
func NewBullishEngulfing() *BullishEngulfing {
	return &BullishEngulfing{atrPeriod: 14}
}

func (s *BullishEngulfing) Name() string { return "bullish_engulfing" }

func (s *BullishEngulfing) Prepare(series *types.Series, binder *Binder) error {
	atr := indicators.ATR(series.Highs(), series.Lows(), series.Closes(), s.atrPeriod)
	return binder.Register("atr", atr)
}

func (s *BullishEngulfing) Initialize() { s.closeReason = "" }

func isBearish(b types.Bar) bool { return b.Close.LessThan(b.Open) }
func isBullish(b types.Bar) bool { return b.Close.GreaterThan(b.Open) }

func (s *BullishEngulfing) OnEntry(ctx *Context) (bool, decimal.Decimal, string) {
	if ctx.Index < 1 {
		return false, decimal.Zero, ""
	}
	prev := ctx.Series.Bars[ctx.Index-1]
	cur := ctx.Series.Bars[ctx.Index]
	if !isBearish(prev) || !isBullish(cur) {
		return false, decimal.Zero, ""
	}
	engulfs := cur.Open.LessThanOrEqual(prev.Close) && cur.Close.GreaterThanOrEqual(prev.Open)
	if engulfs {
		return true, prev.Low, "bullish engulfing pattern"
	}
	return false, decimal.Zero, ""
}

func (s *BullishEngulfing) OnBar(ctx *Context) []Directive {
	if ctx.Index < 1 {
		return nil
	}
	atr := ctx.Binder.Value("atr", ctx.Index)
	if !indicators.Valid(atr) {
		return nil
	}
	cur := ctx.Series.Bars[ctx.Index]
	entryPrice := ctx.State.EntryPriceOfFirstLot
	if entryPrice.IsZero() {
		return nil
	}
	atrDec := decimal.NewFromFloat(atr)
	reversal := entryPrice.Sub(cur.Close)
	if reversal.GreaterThan(atrDec) {
		s.closeReason = "reversed by more than one ATR"
		return []Directive{{Kind: DirectiveExitLong, StopPrice: decimal.Zero, Reason: s.closeReason}}
	}
	return nil
}

func (s *BullishEngulfing) CloseReason() string { return s.closeReason }
