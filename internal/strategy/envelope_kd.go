package strategy

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// EnvelopeKD enters long on a dip to the lower percentage envelope while the
// stochastic %K is oversold and rising, and exits once price reclaims the
// envelope's middle SMA. The initial stop sits 1% below the lower envelope
// band, just under the natural invalidation level for the dip thesis.
type EnvelopeKD struct {
	smaPeriod   int
	envPct      float64
	closeReason string
}

// NewEnvelopeKD returns an EnvelopeKD using the given SMA period and
// envelope half-width (e.g. 0.03 for a +/-3% band).
func NewEnvelopeKD(smaPeriod int, envPct float64) *EnvelopeKD {
	return &EnvelopeKD{smaPeriod: smaPeriod, envPct: envPct}
}

func (s *EnvelopeKD) Name() string { return "envelope_kd" }

func (s *EnvelopeKD) Prepare(series *types.Series, binder *Binder) error {
	closes := series.Closes()
	upper, lower := indicators.Envelope(closes, s.smaPeriod, s.envPct)
	mid := indicators.SMA(closes, s.smaPeriod)
	k, d := indicators.Stochastic(series.Highs(), series.Lows(), closes, 14, 3, 3)
	for name, values := range map[string][]float64{
		"env_upper": upper,
		"env_lower": lower,
		"env_mid":   mid,
		"stoch_k":   k,
		"stoch_d":   d,
	} {
		if err := binder.Register(name, values); err != nil {
			return err
		}
	}
	return nil
}

func (s *EnvelopeKD) Initialize() { s.closeReason = "" }

func (s *EnvelopeKD) OnEntry(ctx *Context) (bool, decimal.Decimal, string) {
	lower := ctx.Binder.Value("env_lower", ctx.Index)
	close_ := ctx.Bar.Close.InexactFloat64()
	k := ctx.Binder.Value("stoch_k", ctx.Index)
	kPrev := ctx.Binder.Value("stoch_k", ctx.Index-1)
	if !indicators.Valid(lower) || !indicators.Valid(k) || !indicators.Valid(kPrev) {
		return false, decimal.Zero, ""
	}
	if close_ <= lower && k > kPrev && k < 30 {
		lowerNow := ctx.Binder.Current("env_lower", ctx.Index)
		stop := decimal.Zero
		if indicators.Valid(lowerNow) {
			stop = decimal.NewFromFloat(lowerNow * 0.99)
		}
		return true, stop, "dip to lower envelope with rising oversold %K"
	}
	return false, decimal.Zero, ""
}

func (s *EnvelopeKD) OnBar(ctx *Context) []Directive {
	mid := ctx.Binder.Value("env_mid", ctx.Index)
	close_ := ctx.Bar.Close.InexactFloat64()
	if !indicators.Valid(mid) {
		return nil
	}
	if close_ >= mid {
		s.closeReason = "price reclaimed envelope midline"
		return []Directive{{Kind: DirectiveExitLong, Reason: s.closeReason}}
	}
	return nil
}

func (s *EnvelopeKD) CloseReason() string { return s.closeReason }
