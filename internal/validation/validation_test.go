package validation_test

import (
	"testing"
	"time"

	"github.com/atlas-quant/nifty-backtester/internal/validation"
	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
)

func mustDec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleSeries(symbol string, n int) *types.Series {
	bars := make([]types.Bar, n)
	ts := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)
	price := mustDec("100")
	for i := 0; i < n; i++ {
		bars[i] = types.Bar{
			Timestamp: ts.AddDate(0, 0, i),
			Open:      price,
			High:      price.Add(mustDec("1")),
			Low:       price.Sub(mustDec("1")),
			Close:     price,
			Volume:    mustDec("1000"),
		}
	}
	return &types.Series{Symbol: symbol, Bars: bars}
}

func TestValidateCleanSeriesIsUsable(t *testing.T) {
	v := validation.NewValidator(nil)
	report := v.Validate(sampleSeries("RELIANCE", 50))
	if !report.IsUsable {
		t.Fatalf("clean series should be usable, issues: %+v", report.Issues)
	}
	if report.Fingerprint == "" {
		t.Fatal("expected a non-empty fingerprint")
	}
	if len(report.Fingerprint) != 8 {
		t.Errorf("fingerprint should be 8 hex chars, got %q (%d)", report.Fingerprint, len(report.Fingerprint))
	}
}

func TestValidateWarnsBelowRowFloor(t *testing.T) {
	v := validation.NewValidator(nil)
	report := v.Validate(sampleSeries("ZOMATO", 40))

	if !report.IsUsable {
		t.Fatalf("a short series should still be usable, issues: %+v", report.Issues)
	}
	found := false
	for _, i := range report.Issues {
		if i.Check == "structure" && i.Severity == "low" {
			found = true
		}
	}
	if !found {
		t.Error("expected a low-severity structure issue for a series under the row floor")
	}
}

func TestValidateDetectsDuplicateTimestamps(t *testing.T) {
	series := sampleSeries("TCS", 5)
	series.Bars[2].Timestamp = series.Bars[1].Timestamp

	v := validation.NewValidator(nil)
	report := v.Validate(series)

	found := false
	for _, i := range report.Issues {
		if i.Check == "continuity" {
			found = true
		}
	}
	if !found {
		t.Error("expected a continuity issue for duplicate timestamp")
	}
}

func TestValidateDetectsInvalidOHLC(t *testing.T) {
	series := sampleSeries("INFY", 5)
	series.Bars[3].Low = mustDec("1000") // low above high/open/close

	v := validation.NewValidator(nil)
	report := v.Validate(series)

	found := false
	for _, i := range report.Issues {
		if i.Check == "value" {
			found = true
		}
	}
	if !found {
		t.Error("expected a value issue for inconsistent OHLC")
	}
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a := sampleSeries("HDFC", 30)
	b := sampleSeries("HDFC", 30)
	b.Bars[10].Close = b.Bars[10].Close.Add(mustDec("0.05"))

	fa := validation.Fingerprint(a)
	fb := validation.Fingerprint(b)
	if fa == fb {
		t.Error("fingerprint should differ when a close price changes")
	}
}

func TestFingerprintStableForIdenticalContent(t *testing.T) {
	a := sampleSeries("HDFC", 30)
	b := sampleSeries("HDFC", 30)
	if validation.Fingerprint(a) != validation.Fingerprint(b) {
		t.Error("fingerprint should be identical for identical content")
	}
}
