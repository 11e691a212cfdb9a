package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a single entry tranche in a pyramided position. EntryCommission is
// the commission charged when the lot was filled, carried forward so a full
// position close can net total round-trip commission out of RealizedPnL
// rather than only the exit leg's.
type Lot struct {
	EntryTime       time.Time       `json:"entryTime"`
	EntryPrice      decimal.Decimal `json:"entryPrice"`
	Qty             decimal.Decimal `json:"qty"`
	StopPrice       decimal.Decimal `json:"stopPrice"`
	EntryCommission decimal.Decimal `json:"entryCommission"`
}

// Position is the open long position for one symbol, built from one or more
// Lots. Invariant: AvgEntryPrice = sum(entry_price*qty) / sum(qty).
type Position struct {
	Symbol   string          `json:"symbol"`
	OpenQty  decimal.Decimal `json:"openQty"`
	AvgEntry decimal.Decimal `json:"avgEntryPrice"`
	Lots     []Lot           `json:"lots"`
}

// IsFlat reports whether the position currently holds no quantity.
func (p *Position) IsFlat() bool {
	return p == nil || p.OpenQty.LessThanOrEqual(decimal.Zero)
}

// AddLot appends a new lot and recomputes the average entry price.
func (p *Position) AddLot(lot Lot) {
	p.Lots = append(p.Lots, lot)
	totalQty := decimal.Zero
	totalCost := decimal.Zero
	for _, l := range p.Lots {
		totalQty = totalQty.Add(l.Qty)
		totalCost = totalCost.Add(l.Qty.Mul(l.EntryPrice))
	}
	p.OpenQty = totalQty
	if totalQty.IsPositive() {
		p.AvgEntry = totalCost.Div(totalQty)
	}
}

// CurrentStop returns the position-level stop: the tightest (highest, for a
// long) stop among open lots, matching the default "stops only tighten"
// semantics. Per-lot stops that remain at zero (never set) are ignored.
func (p *Position) CurrentStop() decimal.Decimal {
	stop := decimal.Zero
	for _, l := range p.Lots {
		if l.StopPrice.IsPositive() && (stop.IsZero() || l.StopPrice.GreaterThan(stop)) {
			stop = l.StopPrice
		}
	}
	return stop
}

// SetStopAll tightens the stop on every open lot to at least newStop (long
// stops only ever tighten).
func (p *Position) SetStopAll(newStop decimal.Decimal) {
	for i := range p.Lots {
		if p.Lots[i].StopPrice.IsZero() || newStop.GreaterThan(p.Lots[i].StopPrice) {
			p.Lots[i].StopPrice = newStop
		}
	}
}

// PersistentState survives across bars for one symbol's engine run and is
// cleared when the position fully closes.
type PersistentState struct {
	HighestHighSinceEntry decimal.Decimal
	LowestLowSinceEntry   decimal.Decimal
	EntryPriceOfFirstLot  decimal.Decimal
	BarsSinceFirstEntry   int
	Scratch               map[string]any
}

// NewPersistentState returns a zeroed state ready to track a fresh entry.
func NewPersistentState() *PersistentState {
	return &PersistentState{Scratch: make(map[string]any)}
}

// Reset clears the state back to its zero value, used on full position close.
func (s *PersistentState) Reset() {
	s.HighestHighSinceEntry = decimal.Zero
	s.LowestLowSinceEntry = decimal.Zero
	s.EntryPriceOfFirstLot = decimal.Zero
	s.BarsSinceFirstEntry = 0
	s.Scratch = make(map[string]any)
}
