package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BrokerConfig is process-wide and immutable for the lifetime of a run;
// every per-symbol engine holds its own copy of the same value.
type BrokerConfig struct {
	InitialCapital    decimal.Decimal `json:"initialCapital"`
	QtyPctOfEquity    decimal.Decimal `json:"qtyPctOfEquity"`
	CommissionPct     decimal.Decimal `json:"commissionPct"`
	SlippageTicks     int             `json:"slippageTicks"`
	TickSize          decimal.Decimal `json:"tickSize"`
	ExecuteOnNextOpen bool            `json:"executeOnNextOpen"`
	AllowPyramiding   bool            `json:"allowPyramiding"`
	MaxPyramidLots    int             `json:"maxPyramidLots"`
	SharedCapitalMode bool            `json:"sharedCapitalMode"` // selects the portfolio aggregator's capital-sharing rule
}

// DefaultBrokerConfig returns the conservative defaults used across the
// bundled strategies' test fixtures.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		InitialCapital:    decimal.NewFromInt(100000),
		QtyPctOfEquity:    decimal.NewFromFloat(0.10),
		CommissionPct:     decimal.NewFromFloat(0.001),
		SlippageTicks:     0,
		TickSize:          decimal.NewFromFloat(0.05),
		ExecuteOnNextOpen: true,
		AllowPyramiding:   false,
		MaxPyramidLots:    1,
		SharedCapitalMode: false,
	}
}

// Validate checks BrokerConfig's field invariants.
func (c BrokerConfig) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial_capital must be positive, got %s", c.InitialCapital)
	}
	if c.QtyPctOfEquity.LessThanOrEqual(decimal.Zero) || c.QtyPctOfEquity.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("qty_pct_of_equity must be in (0,1], got %s", c.QtyPctOfEquity)
	}
	if c.CommissionPct.IsNegative() {
		return fmt.Errorf("commission_pct must be >= 0, got %s", c.CommissionPct)
	}
	if c.SlippageTicks < 0 {
		return fmt.Errorf("slippage_ticks must be >= 0, got %d", c.SlippageTicks)
	}
	if !c.TickSize.IsPositive() {
		return fmt.Errorf("tick_size must be positive, got %s", c.TickSize)
	}
	if c.MaxPyramidLots < 1 {
		return fmt.Errorf("max_pyramid_lots must be >= 1, got %d", c.MaxPyramidLots)
	}
	return nil
}
