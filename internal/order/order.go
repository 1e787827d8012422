package order

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

var (
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrInvalidFill       = errors.New("invalid fill")
	ErrOverfill          = errors.New("fill exceeds order quantity")
)

// Execution is a single fill applied to an order.
type Execution struct {
	ID         string          `json:"execution_id"`
	OrderID    string          `json:"order_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Commission decimal.Decimal `json:"commission"`
	IsPartial  bool            `json:"is_partial"`
}

// Notional returns quantity times price.
func (e Execution) Notional() decimal.Decimal {
	return e.Quantity.Mul(e.Price)
}

// Order is a value snapshot of an order. Transitions never modify the
// receiver; they return the next value.
type Order struct {
	ID         string           `json:"order_id"`
	Symbol     string           `json:"symbol"`
	Side       Side             `json:"side"`
	Type       Type             `json:"order_type"`
	Quantity   decimal.Decimal  `json:"quantity"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`

	Status           Status          `json:"status"`
	FilledQuantity   decimal.Decimal `json:"filled_quantity"`
	AverageFillPrice decimal.Decimal `json:"average_fill_price"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	Executions       []Execution     `json:"executions"`

	RejectReason  RejectReason `json:"rejection_reason,omitempty"`
	RejectMessage string       `json:"rejection_message,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	SubmittedAt time.Time `json:"submitted_at,omitzero"`
	RejectedAt  time.Time `json:"rejected_at,omitzero"`
	CancelledAt time.Time `json:"cancelled_at,omitzero"`
}

// NewMarketOrder creates a market order in NEW state. An empty id is
// replaced with a random UUID.
func NewMarketOrder(id, symbol string, side Side, qty decimal.Decimal, createdAt time.Time) Order {
	return newOrder(id, symbol, side, TypeMarket, qty, nil, createdAt)
}

// NewLimitOrder creates a limit order in NEW state.
func NewLimitOrder(id, symbol string, side Side, qty, limit decimal.Decimal, createdAt time.Time) Order {
	return newOrder(id, symbol, side, TypeLimit, qty, &limit, createdAt)
}

func newOrder(id, symbol string, side Side, typ Type, qty decimal.Decimal, limit *decimal.Decimal, createdAt time.Time) Order {
	if id == "" {
		id = uuid.NewString()
	}
	return Order{
		ID:               id,
		Symbol:           symbol,
		Side:             side,
		Type:             typ,
		Quantity:         qty,
		LimitPrice:       limit,
		Status:           StatusNew,
		FilledQuantity:   decimal.Zero,
		AverageFillPrice: decimal.Zero,
		TotalCommission:  decimal.Zero,
		CreatedAt:        createdAt,
	}
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Limit returns the limit price, or zero for market orders.
func (o Order) Limit() decimal.Decimal {
	if o.LimitPrice == nil {
		return decimal.Zero
	}
	return *o.LimitPrice
}

// Submit moves a NEW order to SUBMITTED.
func (o Order) Submit(ts time.Time) (Order, error) {
	if o.Status != StatusNew {
		return o, transitionErr(o, StatusSubmitted)
	}
	o.Status = StatusSubmitted
	o.SubmittedAt = ts
	return o, nil
}

// Reject moves a non-terminal order to REJECTED.
func (o Order) Reject(reason RejectReason, message string, ts time.Time) (Order, error) {
	if o.Status.Terminal() || o.Status == StatusPartiallyFilled {
		return o, transitionErr(o, StatusRejected)
	}
	o.Status = StatusRejected
	o.RejectReason = reason
	o.RejectMessage = message
	o.RejectedAt = ts
	return o, nil
}

// Cancel moves a non-terminal order to CANCELLED.
func (o Order) Cancel(ts time.Time) (Order, error) {
	if o.Status.Terminal() {
		return o, transitionErr(o, StatusCancelled)
	}
	o.Status = StatusCancelled
	o.CancelledAt = ts
	return o, nil
}

// Fill applies an execution to a SUBMITTED or PARTIALLY_FILLED order.
func (o Order) Fill(qty, price, commission decimal.Decimal, ts time.Time) (Order, Execution, error) {
	if !o.Status.Active() {
		return o, Execution{}, transitionErr(o, StatusFilled)
	}
	if !qty.IsPositive() || !price.IsPositive() || commission.IsNegative() {
		return o, Execution{}, errors.Wrapf(ErrInvalidFill, "order %s qty=%s price=%s commission=%s", o.ID, qty, price, commission)
	}
	filled := o.FilledQuantity.Add(qty)
	if filled.GreaterThan(o.Quantity) {
		return o, Execution{}, errors.Wrapf(ErrOverfill, "order %s filled=%s qty=%s", o.ID, filled, o.Quantity)
	}

	exec := Execution{
		ID:         executionID(o.ID, len(o.Executions)+1),
		OrderID:    o.ID,
		Timestamp:  ts,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		IsPartial:  filled.LessThan(o.Quantity),
	}

	cost := o.AverageFillPrice.Mul(o.FilledQuantity).Add(exec.Notional())
	o.AverageFillPrice = cost.Div(filled)
	o.FilledQuantity = filled
	o.TotalCommission = o.TotalCommission.Add(commission)

	executions := make([]Execution, len(o.Executions), len(o.Executions)+1)
	copy(executions, o.Executions)
	o.Executions = append(executions, exec)

	if exec.IsPartial {
		o.Status = StatusPartiallyFilled
	} else {
		o.Status = StatusFilled
	}
	return o, exec, nil
}

func transitionErr(o Order, to Status) error {
	return errors.Wrapf(ErrInvalidTransition, "order %s: %s -> %s", o.ID, o.Status, to)
}

// executionID derives a stable id so replays produce identical executions.
func executionID(orderID string, n int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(orderID+"/"+strconv.Itoa(n))).String()
}
