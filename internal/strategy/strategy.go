// Package strategy provides the pluggable trading-logic layer the engine
// drives bar by bar. Indicator sequences are precomputed once over the whole
// series in Prepare and read back through a Binder by name and bar index,
// while the bar's own prices come from Context.Bar. Value(name, i) returns
// the reading computed from data up to and including bar i; the Binder does
// not know which bar is being decided on, so it does not stop a read at a
// later index.
package strategy

import (
	"fmt"
	"math"
	"sync"

	"github.com/atlas-quant/nifty-backtester/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var nanValue = math.NaN()

// DirectiveKind enumerates what a strategy can ask the engine to do after a
// bar closes.
type DirectiveKind string

const (
	DirectiveEnterLong   DirectiveKind = "EnterLong"
	DirectiveExitLong    DirectiveKind = "ExitLong"
	DirectivePyramid     DirectiveKind = "Pyramid"
	DirectiveTightenStop DirectiveKind = "TightenStop"
)

// Directive is one action a strategy requests; the engine is the only thing
// that turns it into a fill, applying slippage, commission and the
// pending-order-at-next-open rule. A zero StopPrice means "no stop
// requested". QtyMultiplier scales the default lot size computed from
// qty_pct_of_equity (1.0 when left zero); strategies use it to size
// pyramid-tiered adds differently from the initial entry.
type Directive struct {
	Kind          DirectiveKind
	StopPrice     decimal.Decimal
	QtyMultiplier decimal.Decimal
	Reason        string
}

// Binder exposes precomputed indicator series to a strategy by name:
// Value(name, i) returns the indicator reading at index i of the registered
// series. Each name may be registered exactly once per Binder
// instance — a strategy that registers "rsi" twice is almost always a bug
// (overwriting a binding silently instead of failing loudly).
type Binder struct {
	series map[string][]float64
}

// NewBinder returns an empty Binder ready for Register calls.
func NewBinder() *Binder {
	return &Binder{series: make(map[string][]float64)}
}

// Register binds name to a precomputed, index-aligned series. It returns an
// error if name was already registered.
func (b *Binder) Register(name string, series []float64) error {
	if _, exists := b.series[name]; exists {
		return fmt.Errorf("indicator %q already registered on this binder", name)
	}
	b.series[name] = series
	return nil
}

// Value returns the indicator reading visible at bar i: the value computed
// from data up to and including bar i itself. The Binder does not track the
// bar currently being processed, so a read at a later index returns that
// later value; any lookback a strategy wants against an earlier bar is its own
// call, e.g. Value(name, i-1). Only an index outside the series or a
// not-yet-registered name returns NaN, the indicators package's own
// not-yet-valid sentinel.
func (b *Binder) Value(name string, i int) float64 {
	series, ok := b.series[name]
	if !ok || i < 0 || i >= len(series) {
		return nanValue
	}
	return series[i]
}

// Current returns the value at bar i, the same reading Value returns. The
// bundled strategies call it when placing stops from the bar's own reading
// (the ATR behind a chandelier stop, the lower envelope band, the Kijun
// trail).
func (b *Binder) Current(name string, i int) float64 {
	series, ok := b.series[name]
	if !ok || i < 0 || i >= len(series) {
		return nanValue
	}
	return series[i]
}

// Context is the per-bar view a Strategy operates on: the bound indicators,
// the symbol's current position and persistent scratch state, and the
// immutable broker config.
type Context struct {
	Index    int
	Bar      types.Bar
	Series   *types.Series
	Binder   *Binder
	Position *types.Position
	State    *types.PersistentState
	Broker   types.BrokerConfig
}

// Strategy is the interface every bundled and user-supplied strategy
// implements. Instances are never shared across symbols: the registry
// constructs a fresh one per symbol so per-instance fields never leak
// cross-symbol state.
type Strategy interface {
	// Name identifies the strategy for the registry and for report labeling.
	Name() string

	// Prepare runs once per symbol before the bar loop starts. It computes
	// and registers every indicator series the strategy needs via binder.
	Prepare(series *types.Series, binder *Binder) error

	// Initialize resets any strategy-local state for a fresh run. Called
	// once per symbol, after Prepare.
	Initialize()

	// OnEntry is evaluated only while the position is flat. Returning true
	// requests an entry, with stop the initial stop price for the new lot
	// (zero means no stop) and reason recorded on the resulting trade.
	OnEntry(ctx *Context) (enter bool, stop decimal.Decimal, reason string)

	// OnBar is evaluated every bar while a position is open. It returns zero
	// or more directives for the engine to apply in order.
	OnBar(ctx *Context) []Directive

	// CloseReason describes why OnBar's most recent exit directive fired.
	// The engine records the directive's own Reason on the trade and does
	// not call this method.
	CloseReason() string
}

// Registry maps a strategy key (as passed via --strategy) to a constructor.
// Create always returns a fresh, symbol-isolated instance.
type Registry struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	factories map[string]func() Strategy
}

// NewRegistry returns a Registry pre-populated with the bundled strategies.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{logger: logger, factories: make(map[string]func() Strategy)}
	r.Register("ema_crossover", func() Strategy { return NewEMACrossover(12, 26) })
	r.Register("kama_crossover", func() Strategy { return NewKAMACrossover(10, 2, 30) })
	r.Register("ichimoku_cloud", func() Strategy { return NewIchimokuCloud(9, 26, 52) })
	r.Register("envelope_kd", func() Strategy { return NewEnvelopeKD(20, 0.03) })
	r.Register("stochrsi_long", func() Strategy { return NewStochRSILong(14, 14, 3, 3) })
	r.Register("bollinger_rsi", func() Strategy { return NewBollingerRSI(20, 2.0, 14) })
	r.Register("bullish_engulfing", func() Strategy { return NewBullishEngulfing() })
	return r
}

// Register adds or replaces a constructor under key.
func (r *Registry) Register(key string, factory func() Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// Create instantiates a fresh Strategy for key, or ok=false if unknown.
func (r *Registry) Create(key string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[key]
	if !ok {
		return nil, false
	}
	return factory(), true
}

// List returns the registered strategy keys.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	return keys
}
