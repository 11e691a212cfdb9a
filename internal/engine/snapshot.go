package engine

import (
	"github.com/atlas-quant/nifty-backtester/internal/indicators"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

// reportIndicators are computed once per symbol over the full series,
// independent of whatever the active strategy binds, so every trade gets a
// consistent entry-time snapshot regardless of which strategy produced the
// entry (computed once by the engine before the bar loop, never re-fetched
// at report time).
type reportIndicators struct {
	rsi        []float64
	atr        []float64
	macdHist   []float64
	aboveCloud []bool
	stochK     []float64
	stochRSIK  []float64
	aroonUp    []float64
	aroonDown  []float64
	volumeSMA  []float64
	volumes    []float64
}

func computeReportIndicators(series *types.Series) reportIndicators {
	highs, lows, closes, volumes := series.Highs(), series.Lows(), series.Closes(), series.Volumes()

	macd := indicators.MACD(closes, 12, 26, 9)
	ichi := indicators.Ichimoku(highs, lows, closes, 9, 26, 52, 26)
	aboveCloud := make([]bool, len(closes))
	for i := range closes {
		a, b := ichi.SenkouA[i], ichi.SenkouB[i]
		if indicators.Valid(a) && indicators.Valid(b) {
			top := a
			if b > top {
				top = b
			}
			aboveCloud[i] = closes[i] > top
		}
	}

	stochK, _ := indicators.Stochastic(highs, lows, closes, 14, 3, 3)
	stochRSIK, _ := indicators.StochRSI(closes, 14, 14, 3, 3)
	aroonUp, aroonDown := indicators.Aroon(highs, lows, 25)

	return reportIndicators{
		rsi:        indicators.RSI(closes, 14),
		atr:        indicators.ATR(highs, lows, closes, 14),
		macdHist:   macd.Histogram,
		aboveCloud: aboveCloud,
		stochK:     stochK,
		stochRSIK:  stochRSIK,
		aroonUp:    aroonUp,
		aroonDown:  aroonDown,
		volumeSMA:  indicators.SMA(volumes, 20),
		volumes:    volumes,
	}
}

// snapshotAt builds the entry-time IndicatorSnapshot for bar i. The
// volatility bucket is a percentile rank of ATR[i] against every valid ATR
// reading in the series (a static, full-sample rank — acceptable for a
// backtest report computed once after the fact, unlike a live percentile
// that would need a rolling window).
func (r reportIndicators) snapshotAt(i int) types.IndicatorSnapshot {
	snap := types.IndicatorSnapshot{Valid: true}

	if indicators.Valid(r.rsi[i]) {
		snap.RSI = decimal.NewFromFloat(r.rsi[i])
		snap.RSIBullish = r.rsi[i] > 50
	}
	if indicators.Valid(r.atr[i]) {
		snap.ATR = decimal.NewFromFloat(r.atr[i])
		snap.Volatility = volatilityClass(r.atr, r.atr[i])
	}
	if i < len(r.aboveCloud) {
		snap.AboveCloud = r.aboveCloud[i]
	}
	if indicators.Valid(r.macdHist[i]) {
		snap.MACDBullish = r.macdHist[i] > 0
	}
	if indicators.Valid(r.stochK[i]) {
		snap.StochBullish = r.stochK[i] > 50
	}
	if indicators.Valid(r.stochRSIK[i]) {
		snap.StochRSIBullish = r.stochRSIK[i] > 50
	}
	if indicators.Valid(r.aroonUp[i]) && indicators.Valid(r.aroonDown[i]) {
		snap.Trend = trendClass(r.aroonUp[i], r.aroonDown[i])
	}
	if indicators.Valid(r.volumeSMA[i]) && r.volumeSMA[i] > 0 {
		snap.Volume = volumeClass(r.volumes[i], r.volumeSMA[i])
	}
	return snap
}

func volatilityClass(series []float64, v float64) types.VolatilityClass {
	var valid []float64
	for _, x := range series {
		if indicators.Valid(x) {
			valid = append(valid, x)
		}
	}
	if len(valid) == 0 {
		return types.VolMedium
	}
	below := 0
	for _, x := range valid {
		if x < v {
			below++
		}
	}
	pct := float64(below) / float64(len(valid))
	switch {
	case pct < 0.33:
		return types.VolLow
	case pct < 0.66:
		return types.VolMedium
	default:
		return types.VolHigh
	}
}

func trendClass(aroonUp, aroonDown float64) types.TrendClass {
	switch diff := aroonUp - aroonDown; {
	case diff > 20:
		return types.TrendUp
	case diff < -20:
		return types.TrendDown
	default:
		return types.TrendNeutral
	}
}

func volumeClass(volume, volumeSMA float64) types.VolumeClass {
	ratio := volume / volumeSMA
	switch {
	case ratio > 1.5:
		return types.VolumeHigh
	case ratio < 0.5:
		return types.VolumeLow
	default:
		return types.VolumeNormal
	}
}
