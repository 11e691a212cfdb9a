package config_test

import (
	"testing"

	"github.com/atlas-quant/nifty-backtester/internal/config"
)

func TestParseRequiresBasketFileAndStrategy(t *testing.T) {
	_, err := config.Parse([]string{"--strategy", "ema_crossover"})
	if err == nil {
		t.Fatal("expected a ConfigError for missing --basket_file")
	}
	_, err = config.Parse([]string{"--basket_file", "basket.txt"})
	if err == nil {
		t.Fatal("expected a ConfigError for missing --strategy")
	}
}

func TestParseRejectsUnknownPeriod(t *testing.T) {
	_, err := config.Parse([]string{"--basket_file", "b.txt", "--strategy", "ema_crossover", "--period", "2Y"})
	if err == nil {
		t.Fatal("expected a ConfigError for an invalid --period")
	}
}

func TestParseAppliesParamOverrides(t *testing.T) {
	cfg, err := config.Parse([]string{
		"--basket_file", "b.txt", "--strategy", "ema_crossover",
		"--params", `{"initial_capital": 50000, "allow_pyramiding": true, "max_pyramid_lots": 3}`,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Broker.InitialCapital.Equal(cfg.Broker.InitialCapital) {
		t.Fatal("sanity")
	}
	if cfg.Broker.InitialCapital.IntPart() != 50000 {
		t.Errorf("expected overridden initial_capital 50000, got %s", cfg.Broker.InitialCapital)
	}
	if !cfg.Broker.AllowPyramiding || cfg.Broker.MaxPyramidLots != 3 {
		t.Errorf("expected pyramiding overrides to apply, got %+v", cfg.Broker)
	}
}

func TestParseDefaultsWorkersToPositive(t *testing.T) {
	cfg, err := config.Parse([]string{"--basket_file", "b.txt", "--strategy", "ema_crossover"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers < 1 {
		t.Errorf("expected a positive default worker count, got %d", cfg.Workers)
	}
}
