package strategy

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// StochRSILong enters long when StochRSI's %K crosses above %D from below
// 20, and exits on the symmetric crossunder from above 80, with a
// chandelier ATR stop protecting against a failed signal.
type StochRSILong struct {
	rsiPeriod, stochPeriod, kSmooth, dSmooth int
	closeReason                              string
}

// NewStochRSILong returns a StochRSILong with the given StochRSI parameters.
func NewStochRSILong(rsiPeriod, stochPeriod, kSmooth, dSmooth int) *StochRSILong {
	return &StochRSILong{rsiPeriod: rsiPeriod, stochPeriod: stochPeriod, kSmooth: kSmooth, dSmooth: dSmooth}
}

func (s *StochRSILong) Name() string { return "stochrsi_long" }

func (s *StochRSILong) Prepare(series *types.Series, binder *Binder) error {
	k, d := indicators.StochRSI(series.Closes(), s.rsiPeriod, s.stochPeriod, s.kSmooth, s.dSmooth)
	if err := binder.Register("k", k); err != nil {
		return err
	}
	if err := binder.Register("d", d); err != nil {
		return err
	}
	return binder.Register("atr", indicators.ATR(series.Highs(), series.Lows(), series.Closes(), 14))
}

func (s *StochRSILong) Initialize() { s.closeReason = "" }

func (s *StochRSILong) OnEntry(ctx *Context) (bool, decimal.Decimal, string) {
	k := ctx.Binder.Value("k", ctx.Index)
	d := ctx.Binder.Value("d", ctx.Index)
	kPrev := ctx.Binder.Value("k", ctx.Index-1)
	dPrev := ctx.Binder.Value("d", ctx.Index-1)
	if !indicators.Valid(k) || !indicators.Valid(d) || !indicators.Valid(kPrev) || !indicators.Valid(dPrev) {
		return false, decimal.Zero, ""
	}
	if kPrev <= dPrev && k > d && kPrev < 20 {
		return true, initialStop(ctx), "stochrsi %K crossed above %D from oversold"
	}
	return false, decimal.Zero, ""
}

func (s *StochRSILong) OnBar(ctx *Context) []Directive {
	k := ctx.Binder.Value("k", ctx.Index)
	d := ctx.Binder.Value("d", ctx.Index)
	kPrev := ctx.Binder.Value("k", ctx.Index-1)
	dPrev := ctx.Binder.Value("d", ctx.Index-1)
	if !indicators.Valid(k) || !indicators.Valid(d) || !indicators.Valid(kPrev) || !indicators.Valid(dPrev) {
		return nil
	}
	if kPrev >= dPrev && k < d && kPrev > 80 {
		s.closeReason = "stochrsi %K crossed below %D from overbought"
		return []Directive{{Kind: DirectiveExitLong, Reason: s.closeReason}}
	}
	if stop := trailingStop(ctx); stop.IsPositive() {
		return []Directive{{Kind: DirectiveTightenStop, StopPrice: stop, Reason: "chandelier trail"}}
	}
	return nil
}

func (s *StochRSILong) CloseReason() string { return s.closeReason }
