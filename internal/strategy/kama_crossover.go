package strategy

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// KAMACrossover trades the close crossing Kaufman's Adaptive Moving Average,
// which tightens its smoothing constant in trending markets and loosens it
// in chop. Like EMACrossover it stops out on a chandelier ATR trail and
// pyramids a half-size lot once the close extends 3 ATRs past the most
// recent lot's entry.
type KAMACrossover struct {
	period, fast, slow int
	closeReason        string
}

// NewKAMACrossover returns a KAMACrossover with the given efficiency-ratio
// period and fast/slow EMA bounds.
func NewKAMACrossover(period, fast, slow int) *KAMACrossover {
	return &KAMACrossover{period: period, fast: fast, slow: slow}
}

func (s *KAMACrossover) Name() string { return "kama_crossover" }

func (s *KAMACrossover) Prepare(series *types.Series, binder *Binder) error {
	closes := series.Closes()
	if err := binder.Register("kama", indicators.KAMA(closes, s.period, s.fast, s.slow)); err != nil {
		return err
	}
	if err := binder.Register("close", closes); err != nil {
		return err
	}
	return binder.Register("atr", indicators.ATR(series.Highs(), series.Lows(), closes, 14))
}

func (s *KAMACrossover) Initialize() { s.closeReason = "" }

func (s *KAMACrossover) OnEntry(ctx *Context) (bool, decimal.Decimal, string) {
	kama := ctx.Binder.Value("kama", ctx.Index)
	close_ := ctx.Bar.Close.InexactFloat64()
	kamaPrev := ctx.Binder.Value("kama", ctx.Index-1)
	closePrev := ctx.Binder.Value("close", ctx.Index-1)
	if !indicators.Valid(kama) || !indicators.Valid(kamaPrev) {
		return false, decimal.Zero, ""
	}
	if closePrev <= kamaPrev && close_ > kama {
		return true, initialStop(ctx), "close crossed above kama"
	}
	return false, decimal.Zero, ""
}

func (s *KAMACrossover) OnBar(ctx *Context) []Directive {
	kama := ctx.Binder.Value("kama", ctx.Index)
	close_ := ctx.Bar.Close.InexactFloat64()
	kamaPrev := ctx.Binder.Value("kama", ctx.Index-1)
	closePrev := ctx.Binder.Value("close", ctx.Index-1)
	if !indicators.Valid(kama) || !indicators.Valid(kamaPrev) {
		return nil
	}
	if closePrev >= kamaPrev && close_ < kama {
		s.closeReason = "close crossed below kama"
		return []Directive{{Kind: DirectiveExitLong, Reason: s.closeReason}}
	}

	var directives []Directive
	if close_ > kama && len(ctx.Position.Lots) > 0 {
		lastLot := ctx.Position.Lots[len(ctx.Position.Lots)-1]
		atr := ctx.Binder.Current("atr", ctx.Index)
		if indicators.Valid(atr) {
			threshold := lastLot.EntryPrice.Add(decimal.NewFromFloat(atr * 3))
			if ctx.Bar.Close.GreaterThan(threshold) {
				directives = append(directives, Directive{
					Kind: DirectivePyramid, StopPrice: initialStop(ctx), QtyMultiplier: decimal.NewFromFloat(0.5),
					Reason: "added half-size lot 3 ATRs above prior entry, kama trend intact",
				})
			}
		}
	}
	if stop := trailingStop(ctx); stop.IsPositive() {
		directives = append(directives, Directive{Kind: DirectiveTightenStop, StopPrice: stop, Reason: "chandelier trail"})
	}
	return directives
}

func (s *KAMACrossover) CloseReason() string { return s.closeReason }
