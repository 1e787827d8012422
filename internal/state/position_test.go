package state

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"papersim/internal/order"
)

func TestPositionBook(t *testing.T) {
	b := NewPositionBook()
	one := decimal.NewFromInt(1)

	assert.True(t, b.ApplyExecution(order.SideBuy, "B", decimal.NewFromInt(3)).Equal(decimal.NewFromInt(3)))
	assert.True(t, b.ApplyExecution(order.SideSell, "A", one).Equal(decimal.NewFromInt(-1)))
	assert.Equal(t, []string{"A", "B"}, b.Symbols())

	b.ApplyExecution(order.SideBuy, "A", one)
	assert.Equal(t, 1, b.Count(), "flat positions are dropped")
	assert.True(t, b.Position("A").IsZero())

	snapshot := b.Positions()
	snapshot["B"] = decimal.NewFromInt(100)
	assert.True(t, b.Position("B").Equal(decimal.NewFromInt(3)), "Positions returns a copy")

	b.Load(map[string]decimal.Decimal{"C": decimal.NewFromInt(-7), "D": decimal.Zero})
	assert.Equal(t, []string{"C"}, b.Symbols())
	assert.True(t, b.Position("B").IsZero())
}
