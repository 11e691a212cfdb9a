package strategy

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// atrStopMultiple is the chandelier-style distance (in ATRs) used for both
// the initial stop placed on entry and the trailing stop tightened on every
// bar thereafter, shared by every bundled strategy that stops out on ATR.
const atrStopMultiple = 2.0

// EMACrossover goes long when the fast EMA crosses above the slow EMA and
// exits on the opposite crossover, comparing the precomputed EMA series at
// bars i-1 and i through the binder instead of hand-rolled streaming EMA
// state. A position pyramids one
// additional lot when price extends 3 ATRs above the prior lot's entry
// while the crossover is still intact, and trails a chandelier stop off the
// highest high since entry.
type EMACrossover struct {
	fastPeriod, slowPeriod int
	closeReason            string
}

// NewEMACrossover returns an EMACrossover using the given EMA periods.
func NewEMACrossover(fastPeriod, slowPeriod int) *EMACrossover {
	return &EMACrossover{fastPeriod: fastPeriod, slowPeriod: slowPeriod}
}

func (s *EMACrossover) Name() string { return "ema_crossover" }

func (s *EMACrossover) Prepare(series *types.Series, binder *Binder) error {
	closes := series.Closes()
	if err := binder.Register("ema_fast", indicators.EMA(closes, s.fastPeriod)); err != nil {
		return err
	}
	if err := binder.Register("ema_slow", indicators.EMA(closes, s.slowPeriod)); err != nil {
		return err
	}
	return binder.Register("atr", indicators.ATR(series.Highs(), series.Lows(), closes, 14))
}

func (s *EMACrossover) Initialize() { s.closeReason = "" }

func (s *EMACrossover) OnEntry(ctx *Context) (bool, decimal.Decimal, string) {
	fast := ctx.Binder.Value("ema_fast", ctx.Index)
	slow := ctx.Binder.Value("ema_slow", ctx.Index)
	fastPrev := ctx.Binder.Value("ema_fast", ctx.Index-1)
	slowPrev := ctx.Binder.Value("ema_slow", ctx.Index-1)
	if !indicators.Valid(fast) || !indicators.Valid(slow) || !indicators.Valid(fastPrev) || !indicators.Valid(slowPrev) {
		return false, decimal.Zero, ""
	}
	crossedUp := fastPrev <= slowPrev && fast > slow
	if crossedUp {
		return true, initialStop(ctx), "ema_fast crossed above ema_slow"
	}
	return false, decimal.Zero, ""
}

// initialStop places a chandelier stop atrStopMultiple ATRs below the
// current close, or zero if the ATR warm-up has not elapsed yet.
func initialStop(ctx *Context) decimal.Decimal {
	atr := ctx.Binder.Current("atr", ctx.Index)
	if !indicators.Valid(atr) {
		return decimal.Zero
	}
	return ctx.Bar.Close.Sub(decimal.NewFromFloat(atr * atrStopMultiple))
}

// trailingStop computes the chandelier stop off the highest high recorded
// since entry, used to tighten (never loosen) the position-level stop.
func trailingStop(ctx *Context) decimal.Decimal {
	atr := ctx.Binder.Current("atr", ctx.Index)
	if !indicators.Valid(atr) || !ctx.State.HighestHighSinceEntry.IsPositive() {
		return decimal.Zero
	}
	return ctx.State.HighestHighSinceEntry.Sub(decimal.NewFromFloat(atr * atrStopMultiple))
}

func (s *EMACrossover) OnBar(ctx *Context) []Directive {
	fast := ctx.Binder.Value("ema_fast", ctx.Index)
	slow := ctx.Binder.Value("ema_slow", ctx.Index)
	fastPrev := ctx.Binder.Value("ema_fast", ctx.Index-1)
	slowPrev := ctx.Binder.Value("ema_slow", ctx.Index-1)
	if !indicators.Valid(fast) || !indicators.Valid(slow) || !indicators.Valid(fastPrev) || !indicators.Valid(slowPrev) {
		return nil
	}
	crossedDown := fastPrev >= slowPrev && fast < slow
	if crossedDown {
		s.closeReason = "ema_fast crossed below ema_slow"
		return []Directive{{Kind: DirectiveExitLong, Reason: s.closeReason}}
	}

	var directives []Directive
	if fast > slow && len(ctx.Position.Lots) > 0 {
		lastLot := ctx.Position.Lots[len(ctx.Position.Lots)-1]
		atr := ctx.Binder.Current("atr", ctx.Index)
		if indicators.Valid(atr) {
			threshold := lastLot.EntryPrice.Add(decimal.NewFromFloat(atr * 3))
			if ctx.Bar.Close.GreaterThan(threshold) {
				directives = append(directives, Directive{
					Kind: DirectivePyramid, StopPrice: initialStop(ctx), QtyMultiplier: decimal.NewFromFloat(0.5),
					Reason: "added half-size lot 3 ATRs above prior entry with trend intact",
				})
			}
		}
	}
	if stop := trailingStop(ctx); stop.IsPositive() {
		directives = append(directives, Directive{Kind: DirectiveTightenStop, StopPrice: stop, Reason: "chandelier trail"})
	}
	return directives
}

func (s *EMACrossover) CloseReason() string { return s.closeReason }
