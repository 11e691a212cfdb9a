// Package config resolves the CLI surface into a single RunConfig: flags
// parsed with the standard flag package, merged with environment variables
// and a --params JSON overrides blob through viper.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"runtime"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-quant/nifty-backtester/pkg/types"
)

// RunConfig is the fully resolved configuration for one backtest run.
type RunConfig struct {
	BasketFile    string
	Strategy      string
	Interval      string
	Period        string
	Workers       int
	UseCacheOnly  bool
	NoValidate    bool
	ParamsJSON    string
	Params        map[string]any
	DataCacheDir  string
	ReportDir     string
	MetricsAddr   string
	SharedCapital bool
	BenchmarkFile string
	Broker        types.BrokerConfig
}

// Periods accepted by --period.
var validPeriods = map[string]bool{"MAX": true, "5Y": true, "3Y": true, "1Y": true}

// Parse resolves flags+env+viper into a RunConfig, matching the exit-code
// contract: a malformed flag or unknown --period is a ConfigError.
func Parse(args []string) (RunConfig, error) {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)

	basketFile := fs.String("basket_file", "", "path to the basket file (required)")
	strategyKey := fs.String("strategy", "", "strategy registry key (required)")
	interval := fs.String("interval", "1d", "candle interval label")
	period := fs.String("period", "MAX", "reporting period: MAX|5Y|3Y|1Y (validated only; every run reports all windows)")
	params := fs.String("params", "", "JSON object of strategy parameter overrides")
	workers := fs.Int("workers", runtime.NumCPU(), "number of concurrent per-symbol workers")
	useCacheOnly := fs.Bool("use_cache_only", false, "skip fetch, use only cached data")
	noValidate := fs.Bool("no_validate", false, "skip the data-validation pass")
	metricsAddr := fs.String("metrics-addr", "", "optional host:port to expose Prometheus run counters on")
	sharedCapital := fs.Bool("shared_capital", false, "use shared-pool capital semantics in the portfolio aggregator")
	benchmarkFile := fs.String("benchmark_file", "", "optional benchmark symbol (e.g. NIFTYBEES) for alpha/beta; omitted metrics are zero-valued if unset")

	if err := fs.Parse(args); err != nil {
		return RunConfig{}, types.NewRunError(types.ConfigErrorKind, "", fmt.Sprintf("flag parse error: %v", err), err)
	}

	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetDefault("DATA_CACHE_DIR", "data/cache")
	v.SetDefault("REPORT_DIR", "reports")

	cfg := RunConfig{
		BasketFile:    *basketFile,
		Strategy:      *strategyKey,
		Interval:      *interval,
		Period:        *period,
		Workers:       *workers,
		UseCacheOnly:  *useCacheOnly,
		NoValidate:    *noValidate,
		ParamsJSON:    *params,
		DataCacheDir:  v.GetString("DATA_CACHE_DIR"),
		ReportDir:     v.GetString("REPORT_DIR"),
		MetricsAddr:   *metricsAddr,
		SharedCapital: *sharedCapital,
		BenchmarkFile: *benchmarkFile,
		Broker:        types.DefaultBrokerConfig(),
	}

	if cfg.BasketFile == "" {
		return cfg, types.NewRunError(types.ConfigErrorKind, "", "--basket_file is required", nil)
	}
	if cfg.Strategy == "" {
		return cfg, types.NewRunError(types.ConfigErrorKind, "", "--strategy is required", nil)
	}
	if !validPeriods[cfg.Period] {
		return cfg, types.NewRunError(types.ConfigErrorKind, "", fmt.Sprintf("invalid --period %q, want one of MAX|5Y|3Y|1Y", cfg.Period), nil)
	}
	if cfg.Workers < 1 {
		return cfg, types.NewRunError(types.ConfigErrorKind, "", "--workers must be >= 1", nil)
	}
	cfg.Broker.SharedCapitalMode = cfg.SharedCapital

	if cfg.ParamsJSON != "" {
		var overrides map[string]any
		if err := json.Unmarshal([]byte(cfg.ParamsJSON), &overrides); err != nil {
			return cfg, types.NewRunError(types.ConfigErrorKind, "", fmt.Sprintf("malformed --params JSON: %v", err), err)
		}
		cfg.Params = overrides
		if err := applyBrokerOverrides(&cfg.Broker, overrides); err != nil {
			return cfg, types.NewRunError(types.ConfigErrorKind, "", err.Error(), err)
		}
	}

	if err := cfg.Broker.Validate(); err != nil {
		return cfg, types.NewRunError(types.ConfigErrorKind, "", err.Error(), err)
	}

	return cfg, nil
}

// applyBrokerOverrides lets --params adjust the broker-level knobs (capital,
// sizing, commission, pyramiding) without a dedicated flag per field.
func applyBrokerOverrides(broker *types.BrokerConfig, overrides map[string]any) error {
	setDecimal := func(key string, dst *decimal.Decimal) error {
		raw, ok := overrides[key]
		if !ok {
			return nil
		}
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("params.%s must be a number", key)
		}
		*dst = decimal.NewFromFloat(f)
		return nil
	}
	if err := setDecimal("initial_capital", &broker.InitialCapital); err != nil {
		return err
	}
	if err := setDecimal("qty_pct_of_equity", &broker.QtyPctOfEquity); err != nil {
		return err
	}
	if err := setDecimal("commission_pct", &broker.CommissionPct); err != nil {
		return err
	}
	if err := setDecimal("tick_size", &broker.TickSize); err != nil {
		return err
	}
	if raw, ok := overrides["slippage_ticks"]; ok {
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("params.slippage_ticks must be a number")
		}
		broker.SlippageTicks = int(f)
	}
	if raw, ok := overrides["allow_pyramiding"]; ok {
		b, ok := raw.(bool)
		if !ok {
			return fmt.Errorf("params.allow_pyramiding must be a bool")
		}
		broker.AllowPyramiding = b
	}
	if raw, ok := overrides["max_pyramid_lots"]; ok {
		f, ok := raw.(float64)
		if !ok {
			return fmt.Errorf("params.max_pyramid_lots must be a number")
		}
		broker.MaxPyramidLots = int(f)
	}
	return nil
}
