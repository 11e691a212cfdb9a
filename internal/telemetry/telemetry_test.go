package telemetry_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlas-quant/nifty-backtester/internal/telemetry"
)

func TestRecorderExposesCounters(t *testing.T) {
	rec, reg := telemetry.NewRecorder()
	rec.RecordSymbol(true)
	rec.RecordSymbol(false)
	rec.RecordRun(true, 2*time.Second)
	rec.AddValidationWarnings(3)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	for _, want := range []string{"backtest_symbols_total", "backtest_runs_total", "backtest_validation_warnings_total"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

func TestRecorderIgnoresNonPositiveWarnings(t *testing.T) {
	rec, _ := telemetry.NewRecorder()
	rec.AddValidationWarnings(0)
	rec.AddValidationWarnings(-5)
}
