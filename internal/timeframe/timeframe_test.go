package timeframe_test

import (
	"testing"
	"time"

	"github.com/atlas-quant/nifty-backtester/internal/timeframe"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func minuteSeries(n int) *types.Series {
	start := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	bars := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		p := decimal.NewFromInt(int64(100 + i))
		bars[i] = types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      p,
			High:      p.Add(decimal.NewFromInt(1)),
			Low:       p.Sub(decimal.NewFromInt(1)),
			Close:     p,
			Volume:    decimal.NewFromInt(10),
		}
	}
	return &types.Series{Symbol: "TEST", Bars: bars}
}

func TestAggregateOHLCVSemantics(t *testing.T) {
	series := minuteSeries(5)
	out, err := timeframe.Aggregate(series, timeframe.Interval5Min)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(out.Bars) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(out.Bars))
	}
	b := out.Bars[0]
	if !b.Open.Equal(series.Bars[0].Open) {
		t.Errorf("open should be first bar's open, got %s want %s", b.Open, series.Bars[0].Open)
	}
	if !b.Close.Equal(series.Bars[4].Close) {
		t.Errorf("close should be last bar's close, got %s want %s", b.Close, series.Bars[4].Close)
	}
	if !b.High.Equal(series.Bars[4].High) {
		t.Errorf("high should be the max high, got %s want %s", b.High, series.Bars[4].High)
	}
	if !b.Low.Equal(series.Bars[0].Low) {
		t.Errorf("low should be the min low, got %s want %s", b.Low, series.Bars[0].Low)
	}
	wantVol := decimal.NewFromInt(50)
	if !b.Volume.Equal(wantVol) {
		t.Errorf("volume should sum to %s, got %s", wantVol, b.Volume)
	}
}

func TestAggregateIsAssociative(t *testing.T) {
	series := minuteSeries(75)

	direct, err := timeframe.Aggregate(series, timeframe.Interval1Hour)
	if err != nil {
		t.Fatalf("direct aggregate failed: %v", err)
	}

	viaFive, err := timeframe.Aggregate(series, timeframe.Interval5Min)
	if err != nil {
		t.Fatalf("5m aggregate failed: %v", err)
	}
	indirect, err := timeframe.Aggregate(viaFive, timeframe.Interval1Hour)
	if err != nil {
		t.Fatalf("indirect aggregate failed: %v", err)
	}

	if len(direct.Bars) != len(indirect.Bars) {
		t.Fatalf("bucket count differs: direct=%d indirect=%d", len(direct.Bars), len(indirect.Bars))
	}
	for i := range direct.Bars {
		d, ind := direct.Bars[i], indirect.Bars[i]
		if !d.Open.Equal(ind.Open) || !d.High.Equal(ind.High) || !d.Low.Equal(ind.Low) ||
			!d.Close.Equal(ind.Close) || !d.Volume.Equal(ind.Volume) {
			t.Errorf("bucket %d mismatch: direct=%+v indirect=%+v", i, d, ind)
		}
	}
}

func TestAggregateDropsNoSyntheticBars(t *testing.T) {
	series := minuteSeries(3)
	out, err := timeframe.Aggregate(series, timeframe.Interval1Day)
	if err != nil {
		t.Fatalf("aggregate failed: %v", err)
	}
	if len(out.Bars) != 1 {
		t.Fatalf("3 bars within one day should produce exactly 1 bucket, got %d", len(out.Bars))
	}
}
