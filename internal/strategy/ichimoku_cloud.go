package strategy

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// IchimokuCloud enters long once price closes above the cloud (max of
// SenkouA/SenkouB) with Tenkan above Kijun, and exits when price closes
// below the cloud; a close inside the cloud keeps the position open. No
// signal is considered until both Senkou spans are valid at the bar, a
// warm-up of senkouBPeriod plus displacement bars (3x kijunPeriod with the
// classic 9/26/52 periods). The Kijun line itself doubles as the trailing
// stop, the classic Ichimoku convention.
type IchimokuCloud struct {
	tenkanPeriod, kijunPeriod, senkouBPeriod, displacement int
	closeReason                                            string
}

// NewIchimokuCloud returns an IchimokuCloud using the given periods
// (classically 9/26/52), with displacement equal to kijunPeriod.
func NewIchimokuCloud(tenkanPeriod, kijunPeriod, senkouBPeriod int) *IchimokuCloud {
	return &IchimokuCloud{
		tenkanPeriod:  tenkanPeriod,
		kijunPeriod:   kijunPeriod,
		senkouBPeriod: senkouBPeriod,
		displacement:  kijunPeriod,
	}
}

func (s *IchimokuCloud) Name() string { return "ichimoku_cloud" }

func (s *IchimokuCloud) Prepare(series *types.Series, binder *Binder) error {
	lines := indicators.Ichimoku(series.Highs(), series.Lows(), series.Closes(),
		s.tenkanPeriod, s.kijunPeriod, s.senkouBPeriod, s.displacement)
	for name, values := range map[string][]float64{
		"tenkan":  lines.Tenkan,
		"kijun":   lines.Kijun,
		"senkouA": lines.SenkouA,
		"senkouB": lines.SenkouB,
	} {
		if err := binder.Register(name, values); err != nil {
			return err
		}
	}
	return nil
}

func (s *IchimokuCloud) Initialize() { s.closeReason = "" }

func (s *IchimokuCloud) cloudTop(ctx *Context) (top float64, ok bool) {
	a := ctx.Binder.Value("senkouA", ctx.Index)
	b := ctx.Binder.Value("senkouB", ctx.Index)
	if !indicators.Valid(a) || !indicators.Valid(b) {
		return 0, false
	}
	if a > b {
		return a, true
	}
	return b, true
}

func (s *IchimokuCloud) cloudBottom(ctx *Context) (bottom float64, ok bool) {
	a := ctx.Binder.Value("senkouA", ctx.Index)
	b := ctx.Binder.Value("senkouB", ctx.Index)
	if !indicators.Valid(a) || !indicators.Valid(b) {
		return 0, false
	}
	if a < b {
		return a, true
	}
	return b, true
}

// kijunStop returns the raw (un-lagged) Kijun value as a candidate stop,
// valid only when it sits below the current close.
func (s *IchimokuCloud) kijunStop(ctx *Context) decimal.Decimal {
	kijun := ctx.Binder.Current("kijun", ctx.Index)
	if !indicators.Valid(kijun) {
		return decimal.Zero
	}
	kijunDec := decimal.NewFromFloat(kijun)
	if kijunDec.GreaterThanOrEqual(ctx.Bar.Close) {
		return decimal.Zero
	}
	return kijunDec
}

func (s *IchimokuCloud) OnEntry(ctx *Context) (bool, decimal.Decimal, string) {
	top, ok := s.cloudTop(ctx)
	if !ok {
		return false, decimal.Zero, ""
	}
	tenkan := ctx.Binder.Value("tenkan", ctx.Index)
	kijun := ctx.Binder.Value("kijun", ctx.Index)
	close_ := ctx.Bar.Close.InexactFloat64()
	if !indicators.Valid(tenkan) || !indicators.Valid(kijun) {
		return false, decimal.Zero, ""
	}
	if close_ > top && tenkan > kijun {
		return true, s.kijunStop(ctx), "price above cloud with bullish tenkan/kijun"
	}
	return false, decimal.Zero, ""
}

func (s *IchimokuCloud) OnBar(ctx *Context) []Directive {
	bottom, ok := s.cloudBottom(ctx)
	if !ok {
		return nil
	}
	close_ := ctx.Bar.Close.InexactFloat64()
	if close_ < bottom {
		s.closeReason = "price closed below cloud"
		return []Directive{{Kind: DirectiveExitLong, Reason: s.closeReason}}
	}
	if stop := s.kijunStop(ctx); stop.IsPositive() {
		return []Directive{{Kind: DirectiveTightenStop, StopPrice: stop, Reason: "kijun trail"}}
	}
	return nil
}

func (s *IchimokuCloud) CloseReason() string { return s.closeReason }
