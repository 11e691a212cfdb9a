package indicators_test

import (
	"math"
	"testing"

	"github.com/atlas-quant/nifty-backtester/internal/indicators"
)

func TestSMAWarmup(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	sma := indicators.SMA(closes, 3)

	for i := 0; i < 2; i++ {
		if indicators.Valid(sma[i]) {
			t.Errorf("sma[%d] expected not-yet-valid, got %f", i, sma[i])
		}
	}
	if got, want := sma[2], 2.0; got != want {
		t.Errorf("sma[2] = %f, want %f", got, want)
	}
	if got, want := sma[5], 5.0; got != want {
		t.Errorf("sma[5] = %f, want %f", got, want)
	}
}

func TestEMASeededWithSMA(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15}
	ema := indicators.EMA(closes, 3)

	if !indicators.Valid(ema[2]) {
		t.Fatal("ema[2] should be valid once the seed window fills")
	}
	want := (10.0 + 11.0 + 12.0) / 3.0
	if math.Abs(ema[2]-want) > 1e-9 {
		t.Errorf("ema seed = %f, want %f", ema[2], want)
	}
	if ema[5] <= ema[2] {
		t.Errorf("ema should trend upward with rising closes: ema[2]=%f ema[5]=%f", ema[2], ema[5])
	}
}

func TestRSIBoundedZeroToHundred(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + float64(i%5) - 2
	}
	rsi := indicators.RSI(closes, 14)
	for i, v := range rsi {
		if !indicators.Valid(v) {
			continue
		}
		if v < 0 || v > 100 {
			t.Errorf("rsi[%d] = %f out of [0,100] bounds", i, v)
		}
	}
}

func TestStochasticFlatRangeFallsBackToFifty(t *testing.T) {
	highs := []float64{10, 10, 10, 10, 10}
	lows := []float64{10, 10, 10, 10, 10}
	closes := []float64{10, 10, 10, 10, 10}
	k, _ := indicators.Stochastic(highs, lows, closes, 3, 1, 1)
	if !indicators.Valid(k[2]) || k[2] != 50 {
		t.Errorf("flat range stochastic should fall back to 50, got %v", k[2])
	}
}

func TestIchimokuChikouShiftsBackward(t *testing.T) {
	n := 60
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i := 0; i < n; i++ {
		highs[i] = float64(i) + 1
		lows[i] = float64(i) - 1
		closes[i] = float64(i)
	}
	lines := indicators.Ichimoku(highs, lows, closes, 9, 26, 52, 26)
	for i := 0; i < n-26; i++ {
		if lines.Chikou[i] != closes[i+26] {
			t.Errorf("chikou[%d] = %f, want close[%d] = %f", i, lines.Chikou[i], i+26, closes[i+26])
		}
	}
	for i := n - 26; i < n; i++ {
		if indicators.Valid(lines.Chikou[i]) {
			t.Errorf("chikou[%d] should be not-yet-valid past series end, got %f", i, lines.Chikou[i])
		}
	}
}

func TestATRNonNegative(t *testing.T) {
	highs := []float64{10, 11, 9, 12, 15, 14}
	lows := []float64{9, 9, 7, 10, 11, 12}
	closes := []float64{9.5, 10, 8, 11, 14, 13}
	atr := indicators.ATR(highs, lows, closes, 3)
	for i, v := range atr {
		if indicators.Valid(v) && v < 0 {
			t.Errorf("atr[%d] = %f, must be non-negative", i, v)
		}
	}
}

func TestKAMARestartable(t *testing.T) {
	closes := []float64{10, 10.5, 10.2, 10.8, 11, 10.9, 11.4, 11.9, 12.3, 12.1}
	first := indicators.KAMA(closes, 4, 2, 30)
	second := indicators.KAMA(closes, 4, 2, 30)
	for i := range first {
		if first[i] != second[i] && !(math.IsNaN(first[i]) && math.IsNaN(second[i])) {
			t.Errorf("kama[%d] not deterministic across calls: %f vs %f", i, first[i], second[i])
		}
	}
}
