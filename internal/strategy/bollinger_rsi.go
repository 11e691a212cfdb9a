package strategy

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// BollingerRSI enters long on a close below the lower Bollinger band while
// RSI confirms oversold, and exits at the middle band. The initial stop
// sits one quarter-band below the lower band so a further breakdown
// invalidates the mean-reversion thesis rather than averaging down.
type BollingerRSI struct {
	bbPeriod    int
	bbStdDev    float64
	rsiPeriod   int
	closeReason string
}

// NewBollingerRSI returns a BollingerRSI using the given band and RSI params.
func NewBollingerRSI(bbPeriod int, bbStdDev float64, rsiPeriod int) *BollingerRSI {
	return &BollingerRSI{bbPeriod: bbPeriod, bbStdDev: bbStdDev, rsiPeriod: rsiPeriod}
}

func (s *BollingerRSI) Name() string { return "bollinger_rsi" }

func (s *BollingerRSI) Prepare(series *types.Series, binder *Binder) error {
	closes := series.Closes()
	bb := indicators.Bollinger(closes, s.bbPeriod, s.bbStdDev)
	rsi := indicators.RSI(closes, s.rsiPeriod)
	for name, values := range map[string][]float64{
		"bb_upper": bb.Upper,
		"bb_mid":   bb.Middle,
		"bb_lower": bb.Lower,
		"rsi":      rsi,
	} {
		if err := binder.Register(name, values); err != nil {
			return err
		}
	}
	return nil
}

func (s *BollingerRSI) Initialize() { s.closeReason = "" }

func (s *BollingerRSI) OnEntry(ctx *Context) (bool, decimal.Decimal, string) {
	lower := ctx.Binder.Value("bb_lower", ctx.Index)
	close_ := ctx.Bar.Close.InexactFloat64()
	rsi := ctx.Binder.Value("rsi", ctx.Index)
	if !indicators.Valid(lower) || !indicators.Valid(rsi) {
		return false, decimal.Zero, ""
	}
	if close_ <= lower && rsi < 35 {
		upper := ctx.Binder.Current("bb_upper", ctx.Index)
		lowerNow := ctx.Binder.Current("bb_lower", ctx.Index)
		stop := decimal.Zero
		if indicators.Valid(upper) && indicators.Valid(lowerNow) {
			bandWidth := upper - lowerNow
			stop = decimal.NewFromFloat(lowerNow - bandWidth*0.25)
		}
		return true, stop, "close below lower band with confirming oversold rsi"
	}
	return false, decimal.Zero, ""
}

func (s *BollingerRSI) OnBar(ctx *Context) []Directive {
	mid := ctx.Binder.Value("bb_mid", ctx.Index)
	close_ := ctx.Bar.Close.InexactFloat64()
	if !indicators.Valid(mid) {
		return nil
	}
	if close_ >= mid {
		s.closeReason = "price reverted to middle band"
		return []Directive{{Kind: DirectiveExitLong, Reason: s.closeReason}}
	}
	return nil
}

func (s *BollingerRSI) CloseReason() string { return s.closeReason }
