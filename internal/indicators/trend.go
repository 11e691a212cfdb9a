package indicators

import "math"

// KAMA computes Kaufman's Adaptive Moving Average. fast/slow are the EMA
// periods used to bound the smoothing constant (2 and 30 in the classic
// definition); period is the efficiency-ratio lookback.
func KAMA(values []float64, period, fast, slow int) []float64 {
	out := nanSlice(len(values))
	if period <= 0 || len(values) <= period {
		return out
	}
	fastSC := 2.0 / float64(fast+1)
	slowSC := 2.0 / float64(slow+1)

	out[period] = values[period]
	prev := values[period]
	for i := period + 1; i < len(values); i++ {
		change := math.Abs(values[i] - values[i-period])
		volatility := 0.0
		for j := i - period + 1; j <= i; j++ {
			volatility += math.Abs(values[j] - values[j-1])
		}
		var er float64
		if volatility == 0 {
			er = 0
		} else {
			er = change / volatility
		}
		sc := er*(fastSC-slowSC) + slowSC
		sc *= sc
		prev = prev + sc*(values[i]-prev)
		out[i] = prev
	}
	return out
}

// Aroon returns (AroonUp, AroonDown), each scaled 0-100, measuring bars since
// the period's high/low.
func Aroon(highs, lows []float64, period int) (up, down []float64) {
	up = nanSlice(len(highs))
	down = nanSlice(len(lows))
	if period <= 0 || len(highs) <= period {
		return up, down
	}
	for i := period; i < len(highs); i++ {
		hIdx, lIdx := i-period, i-period
		for j := i - period; j <= i; j++ {
			if highs[j] >= highs[hIdx] {
				hIdx = j
			}
			if lows[j] <= lows[lIdx] {
				lIdx = j
			}
		}
		up[i] = float64(period-(i-hIdx)) / float64(period) * 100
		down[i] = float64(period-(i-lIdx)) / float64(period) * 100
	}
	return up, down
}

// Supertrend returns the supertrend line and a +1/-1 trend direction series
// (1 = price above the band, i.e. uptrend). atr must be pre-computed with the
// same period as used here (ATR handles the Wilder smoothing).
func Supertrend(highs, lows, closes, atr []float64, multiplier float64) (line []float64, trend []int) {
	n := len(closes)
	line = nanSlice(n)
	trend = make([]int, n)
	upperBand, lowerBand := nanSlice(n), nanSlice(n)
	for i := 0; i < n; i++ {
		if !Valid(atr[i]) {
			trend[i] = 1
			continue
		}
		mid := (highs[i] + lows[i]) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if i == 0 || !Valid(upperBand[i-1]) {
			upperBand[i] = basicUpper
			lowerBand[i] = basicLower
			trend[i] = 1
		} else {
			if basicUpper < upperBand[i-1] || closes[i-1] > upperBand[i-1] {
				upperBand[i] = basicUpper
			} else {
				upperBand[i] = upperBand[i-1]
			}
			if basicLower > lowerBand[i-1] || closes[i-1] < lowerBand[i-1] {
				lowerBand[i] = basicLower
			} else {
				lowerBand[i] = lowerBand[i-1]
			}

			switch {
			case trend[i-1] == 1 && closes[i] < lowerBand[i]:
				trend[i] = -1
			case trend[i-1] == -1 && closes[i] > upperBand[i]:
				trend[i] = 1
			default:
				trend[i] = trend[i-1]
			}
		}

		if trend[i] == 1 {
			line[i] = lowerBand[i]
		} else {
			line[i] = upperBand[i]
		}
	}
	return line, trend
}

// IchimokuLines holds the five classic Ichimoku Kinko Hyo series, all
// index-aligned to the input bars. SenkouA/SenkouB are already shifted
// forward by `displacement` bars (i.e. SenkouA[i] is the cloud value plotted
// above bar i); Chikou is shifted backward by the same amount.
type IchimokuLines struct {
	Tenkan  []float64
	Kijun   []float64
	SenkouA []float64
	SenkouB []float64
	Chikou  []float64
}

// Ichimoku computes the standard 9/26/52/26 Ichimoku system (periods are
// parameterized so strategies can vary them).
func Ichimoku(highs, lows, closes []float64, tenkanP, kijunP, senkouBP, displacement int) IchimokuLines {
	n := len(closes)
	midpoint := func(period int) []float64 {
		out := nanSlice(n)
		if period <= 0 {
			return out
		}
		for i := period - 1; i < n; i++ {
			h := highest(highs, i-period+1, i)
			l := lowest(lows, i-period+1, i)
			out[i] = (h + l) / 2
		}
		return out
	}

	tenkan := midpoint(tenkanP)
	kijun := midpoint(kijunP)
	senkouB := midpoint(senkouBP)

	senkouA := nanSlice(n)
	for i := 0; i < n; i++ {
		if Valid(tenkan[i]) && Valid(kijun[i]) {
			senkouA[i] = (tenkan[i] + kijun[i]) / 2
		}
	}

	shiftForward := func(in []float64) []float64 {
		out := nanSlice(n)
		for i := 0; i < n; i++ {
			src := i - displacement
			if src >= 0 && src < n && Valid(in[src]) {
				out[i] = in[src]
			}
		}
		return out
	}
	shiftBackward := func(in []float64) []float64 {
		out := nanSlice(n)
		for i := 0; i < n; i++ {
			src := i + displacement
			if src >= 0 && src < n {
				out[i] = in[src]
			}
		}
		return out
	}

	return IchimokuLines{
		Tenkan:  tenkan,
		Kijun:   kijun,
		SenkouA: shiftForward(senkouA),
		SenkouB: shiftForward(senkouB),
		Chikou:  shiftBackward(closes),
	}
}
