package order

import (
	"fmt"
	"strings"
)

// Side describes order direction.
type Side uint8

const (
	SideUnknown Side = iota
	SideBuy
	SideSell
)

var sideNames = [...]string{"unknown", "buy", "sell"}

func (s Side) String() string {
	if int(s) < len(sideNames) {
		return sideNames[s]
	}
	return fmt.Sprintf("side(%d)", uint8(s))
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() int64 {
	switch s {
	case SideBuy:
		return 1
	case SideSell:
		return -1
	default:
		return 0
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	v, ok := lookup(sideNames[:], string(b))
	if !ok {
		return fmt.Errorf("unknown order side: %q", b)
	}
	*s = Side(v)
	return nil
}

// Type describes order type.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeMarket
	TypeLimit
)

var typeNames = [...]string{"unknown", "market", "limit"}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, ok := lookup(typeNames[:], string(b))
	if !ok {
		return fmt.Errorf("unknown order type: %q", b)
	}
	*t = Type(v)
	return nil
}

// Status tracks the lifecycle of an order.
type Status uint8

const (
	StatusNew Status = iota
	StatusSubmitted
	StatusPartiallyFilled
	StatusFilled
	StatusRejected
	StatusCancelled
)

var statusNames = [...]string{"NEW", "SUBMITTED", "PARTIALLY_FILLED", "FILLED", "REJECTED", "CANCELLED"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether the order is live at the venue and may fill.
func (s Status) Active() bool {
	return s == StatusSubmitted || s == StatusPartiallyFilled
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, ok := lookup(statusNames[:], string(b))
	if !ok {
		return fmt.Errorf("unknown order status: %q", b)
	}
	*s = Status(v)
	return nil
}

// RejectReason is a typed reason attached to REJECTED orders.
type RejectReason uint8

const (
	RejectNone RejectReason = iota
	RejectRiskTradingDisabled
	RejectRiskPositionLimit
	RejectRiskExposureLimit
	RejectRiskDrawdownLimit
	RejectInvalidQuantity
	RejectInvalidSymbol
	RejectInvalidLimitPrice
	RejectInsufficientFunds
)

var rejectNames = [...]string{
	"",
	"RISK_TRADING_DISABLED",
	"RISK_POSITION_LIMIT",
	"RISK_EXPOSURE_LIMIT",
	"RISK_DRAWDOWN_LIMIT",
	"INVALID_QUANTITY",
	"INVALID_SYMBOL",
	"INVALID_LIMIT_PRICE",
	"INSUFFICIENT_FUNDS",
}

func (r RejectReason) String() string {
	if int(r) < len(rejectNames) {
		return rejectNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// IsRisk reports whether the reason comes from the risk checker.
func (r RejectReason) IsRisk() bool {
	switch r {
	case RejectRiskTradingDisabled, RejectRiskPositionLimit, RejectRiskExposureLimit, RejectRiskDrawdownLimit:
		return true
	default:
		return false
	}
}

func (r RejectReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *RejectReason) UnmarshalText(b []byte) error {
	v, ok := lookup(rejectNames[:], string(b))
	if !ok {
		return fmt.Errorf("unknown reject reason: %q", b)
	}
	*r = RejectReason(v)
	return nil
}

func lookup(names []string, s string) (int, bool) {
	for i, name := range names {
		if strings.EqualFold(name, s) {
			return i, true
		}
	}
	return 0, false
}
