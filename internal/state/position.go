package state

import (
	"sort"

	"github.com/shopspring/decimal"

	"papersim/internal/order"
)

// PositionBook tracks signed position quantities per symbol.
type PositionBook struct {
	positions map[string]decimal.Decimal
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[string]decimal.Decimal)}
}

// ApplyExecution updates the position and returns the new quantity.
// Flat positions are removed from the book.
func (b *PositionBook) ApplyExecution(side order.Side, symbol string, qty decimal.Decimal) decimal.Decimal {
	current := b.positions[symbol]
	var next decimal.Decimal
	switch side {
	case order.SideBuy:
		next = current.Add(qty)
	case order.SideSell:
		next = current.Sub(qty)
	default:
		next = current
	}
	if next.IsZero() {
		delete(b.positions, symbol)
	} else {
		b.positions[symbol] = next
	}
	return next
}

// Load replaces positions with the given map.
func (b *PositionBook) Load(positions map[string]decimal.Decimal) {
	if b.positions == nil {
		b.positions = make(map[string]decimal.Decimal, len(positions))
	} else {
		clear(b.positions)
	}
	for symbol, qty := range positions {
		if !qty.IsZero() {
			b.positions[symbol] = qty
		}
	}
}

// Position returns the current quantity for a symbol.
func (b *PositionBook) Position(symbol string) decimal.Decimal {
	return b.positions[symbol]
}

// Positions returns a copy of all non-flat positions.
func (b *PositionBook) Positions() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(b.positions))
	for symbol, qty := range b.positions {
		out[symbol] = qty
	}
	return out
}

// Symbols returns held symbols in lexical order.
func (b *PositionBook) Symbols() []string {
	out := make([]string, 0, len(b.positions))
	for symbol := range b.positions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of tracked symbols.
func (b *PositionBook) Count() int {
	return len(b.positions)
}
