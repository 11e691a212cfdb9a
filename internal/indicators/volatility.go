package indicators

import "math"

func trueRange(high, low, prevClose float64) float64 {
	r := high - low
	if v := math.Abs(high - prevClose); v > r {
		r = v
	}
	if v := math.Abs(low - prevClose); v > r {
		r = v
	}
	return r
}

// ATR computes the Wilder-smoothed average true range.
func ATR(highs, lows, closes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	if n < 2 {
		return out
	}
	tr := make([]float64, n-1)
	for i := 1; i < n; i++ {
		tr[i-1] = trueRange(highs[i], lows[i], closes[i-1])
	}
	smoothed := wilderSmooth(tr, period)
	for i, v := range smoothed {
		if Valid(v) {
			out[i+1] = v
		}
	}
	return out
}

// BollingerBands holds the middle/upper/lower band series.
type BollingerBands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger computes Bollinger Bands: an SMA middle band plus/minus
// numStdDev standard deviations of the same window.
func Bollinger(closes []float64, period int, numStdDev float64) BollingerBands {
	n := len(closes)
	mid := SMA(closes, period)
	upper, lower := nanSlice(n), nanSlice(n)
	for i := period - 1; i < n; i++ {
		if !Valid(mid[i]) {
			continue
		}
		variance := 0.0
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mid[i]
			variance += d * d
		}
		stddev := math.Sqrt(variance / float64(period))
		upper[i] = mid[i] + numStdDev*stddev
		lower[i] = mid[i] - numStdDev*stddev
	}
	return BollingerBands{Middle: mid, Upper: upper, Lower: lower}
}

// CMF computes the Chaikin Money Flow oscillator over period bars.
func CMF(highs, lows, closes, volumes []float64, period int) []float64 {
	n := len(closes)
	out := nanSlice(n)
	mfv := make([]float64, n)
	for i := 0; i < n; i++ {
		hl := highs[i] - lows[i]
		if hl == 0 {
			mfv[i] = 0
			continue
		}
		mfm := ((closes[i] - lows[i]) - (highs[i] - closes[i])) / hl
		mfv[i] = mfm * volumes[i]
	}
	for i := period - 1; i < n; i++ {
		sumMFV, sumVol := 0.0, 0.0
		for j := i - period + 1; j <= i; j++ {
			sumMFV += mfv[j]
			sumVol += volumes[j]
		}
		if sumVol != 0 {
			out[i] = sumMFV / sumVol
		}
	}
	return out
}

// Envelope computes a simple percentage price envelope around an SMA, used
// by the envelope+KD bundled strategy.
func Envelope(closes []float64, period int, pct float64) (upper, lower []float64) {
	mid := SMA(closes, period)
	n := len(closes)
	upper, lower = nanSlice(n), nanSlice(n)
	for i, m := range mid {
		if Valid(m) {
			upper[i] = m * (1 + pct)
			lower[i] = m * (1 - pct)
		}
	}
	return upper, lower
}
