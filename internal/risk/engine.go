package risk

import (
	"fmt"

	"github.com/shopspring/decimal"

	"papersim/internal/order"
)

var hundred = decimal.NewFromInt(100)

// Config composes independently optional risk rules. A nil rule leaves that
// dimension unconstrained. Percentages are fractions: 0.05 means 5%.
type Config struct {
	KillSwitch bool           `json:"kill_switch,omitempty"`
	Position   *PositionLimit `json:"position_limit,omitempty"`
	Exposure   *ExposureLimit `json:"exposure_limit,omitempty"`
	Drawdown   *DrawdownLimit `json:"drawdown_limit,omitempty"`
}

// PositionLimit caps the projected position of a symbol after a buy fills.
type PositionLimit struct {
	MaxShares *decimal.Decimal `json:"max_shares,omitempty"`
	MaxValue  *decimal.Decimal `json:"max_value,omitempty"`
}

// ExposureLimit caps gross and net exposure relative to portfolio value.
type ExposureLimit struct {
	MaxGrossPct *decimal.Decimal `json:"max_gross_pct,omitempty"`
	MaxNetPct   *decimal.Decimal `json:"max_net_pct,omitempty"`
}

// DrawdownLimit halts trading once the portfolio falls too far from the
// daily baseline or the running peak.
type DrawdownLimit struct {
	MaxDailyPct *decimal.Decimal `json:"max_daily_pct,omitempty"`
	MaxTotalPct *decimal.Decimal `json:"max_total_pct,omitempty"`
}

// Limit is a helper for building optional limits.
func Limit(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

// Violation describes why an order was denied.
type Violation struct {
	Reason  order.RejectReason
	Message string
}

// State is the mutable tracking state carried across checks.
type State struct {
	PeakValue       decimal.Decimal
	DailyStartValue decimal.Decimal
	TradingEnabled  bool
}

// Engine evaluates risk rules against simulated portfolio state.
type Engine struct {
	cfg   Config
	state State
}

// NewEngine creates an engine whose peak and daily baseline start at the
// initial portfolio value.
func NewEngine(cfg Config, initialValue decimal.Decimal) *Engine {
	return &Engine{
		cfg: cfg,
		state: State{
			PeakValue:       initialValue,
			DailyStartValue: initialValue,
			TradingEnabled:  !cfg.KillSwitch,
		},
	}
}

// CheckOrder evaluates the rules in order and returns the first violation,
// or nil when the order may proceed. It does not modify the engine.
func (e *Engine) CheckOrder(o order.Order, positions, prices map[string]decimal.Decimal, cash decimal.Decimal) *Violation {
	if !e.state.TradingEnabled {
		return &Violation{Reason: order.RejectRiskTradingDisabled, Message: "trading is disabled"}
	}

	ref, hasRef := ReferencePrice(o, prices)

	if v := e.checkPosition(o, positions, ref, hasRef); v != nil {
		return v
	}
	if v := e.checkExposure(o, positions, prices, cash); v != nil {
		return v
	}
	if v := e.checkDrawdown(positions, prices, cash); v != nil {
		return v
	}
	return nil
}

func (e *Engine) checkPosition(o order.Order, positions map[string]decimal.Decimal, ref decimal.Decimal, hasRef bool) *Violation {
	limit := e.cfg.Position
	if limit == nil || o.Side != order.SideBuy {
		return nil
	}

	projected := positions[o.Symbol].Add(o.Remaining()).Abs()
	if limit.MaxShares != nil && projected.GreaterThan(*limit.MaxShares) {
		return &Violation{
			Reason:  order.RejectRiskPositionLimit,
			Message: fmt.Sprintf("projected position %s %s exceeds max shares %s", projected, o.Symbol, limit.MaxShares),
		}
	}
	if limit.MaxValue != nil && hasRef {
		value := projected.Mul(ref)
		if value.GreaterThan(*limit.MaxValue) {
			return &Violation{
				Reason:  order.RejectRiskPositionLimit,
				Message: fmt.Sprintf("projected position value %s %s exceeds max value %s", value, o.Symbol, limit.MaxValue),
			}
		}
	}
	return nil
}

func (e *Engine) checkExposure(o order.Order, positions, prices map[string]decimal.Decimal, cash decimal.Decimal) *Violation {
	limit := e.cfg.Exposure
	if limit == nil || (limit.MaxGrossPct == nil && limit.MaxNetPct == nil) {
		return nil
	}

	marks := prices
	if ref, ok := ReferencePrice(o, prices); ok {
		if _, seen := prices[o.Symbol]; !seen {
			marks = make(map[string]decimal.Decimal, len(prices)+1)
			for symbol, price := range prices {
				marks[symbol] = price
			}
			marks[o.Symbol] = ref
		}
	}

	total := MarkToMarket(cash, positions, marks)
	if !total.IsPositive() {
		return &Violation{
			Reason:  order.RejectRiskExposureLimit,
			Message: fmt.Sprintf("portfolio value %s is not positive", total),
		}
	}

	projected := make(map[string]decimal.Decimal, len(positions)+1)
	for symbol, qty := range positions {
		projected[symbol] = qty
	}
	projected[o.Symbol] = projected[o.Symbol].Add(o.Remaining().Mul(decimal.NewFromInt(o.Side.Sign())))

	gross, net := decimal.Zero, decimal.Zero
	for symbol, qty := range projected {
		price, ok := marks[symbol]
		if !ok {
			continue
		}
		value := qty.Mul(price)
		gross = gross.Add(value.Abs())
		net = net.Add(value)
	}
	net = net.Abs()

	if limit.MaxGrossPct != nil {
		if pct := gross.Div(total); pct.GreaterThan(*limit.MaxGrossPct) {
			return &Violation{
				Reason:  order.RejectRiskExposureLimit,
				Message: fmt.Sprintf("gross exposure %s%% exceeds %s%%", percent(pct), percent(*limit.MaxGrossPct)),
			}
		}
	}
	if limit.MaxNetPct != nil {
		if pct := net.Div(total); pct.GreaterThan(*limit.MaxNetPct) {
			return &Violation{
				Reason:  order.RejectRiskExposureLimit,
				Message: fmt.Sprintf("net exposure %s%% exceeds %s%%", percent(pct), percent(*limit.MaxNetPct)),
			}
		}
	}
	return nil
}

func (e *Engine) checkDrawdown(positions, prices map[string]decimal.Decimal, cash decimal.Decimal) *Violation {
	limit := e.cfg.Drawdown
	if limit == nil {
		return nil
	}

	value := MarkToMarket(cash, positions, prices)
	if limit.MaxDailyPct != nil && e.state.DailyStartValue.IsPositive() {
		base := e.state.DailyStartValue
		loss := base.Sub(value).Div(base)
		if loss.GreaterThan(*limit.MaxDailyPct) {
			return &Violation{
				Reason:  order.RejectRiskDrawdownLimit,
				Message: fmt.Sprintf("daily loss %s%% exceeds %s%%", percent(loss), percent(*limit.MaxDailyPct)),
			}
		}
	}
	if limit.MaxTotalPct != nil && e.state.PeakValue.IsPositive() {
		peak := e.state.PeakValue
		drawdown := peak.Sub(value).Div(peak)
		if drawdown.GreaterThan(*limit.MaxTotalPct) {
			return &Violation{
				Reason:  order.RejectRiskDrawdownLimit,
				Message: fmt.Sprintf("drawdown from peak %s%% exceeds %s%%", percent(drawdown), percent(*limit.MaxTotalPct)),
			}
		}
	}
	return nil
}

// UpdateState records a new portfolio value after a fill. The peak only
// rises; the daily baseline moves only on a new period.
func (e *Engine) UpdateState(portfolioValue decimal.Decimal, isNewPeriod bool) {
	if portfolioValue.GreaterThan(e.state.PeakValue) {
		e.state.PeakValue = portfolioValue
	}
	if isNewPeriod {
		e.state.DailyStartValue = portfolioValue
	}
}

// ResetDailyTracking rebases the daily drawdown baseline.
func (e *Engine) ResetDailyTracking(value decimal.Decimal) {
	e.state.DailyStartValue = value
}

func (e *Engine) EnableTrading() {
	e.state.TradingEnabled = true
}

func (e *Engine) DisableTrading() {
	e.state.TradingEnabled = false
}

func (e *Engine) TradingEnabled() bool {
	return e.state.TradingEnabled
}

// State returns a copy of the tracking state.
func (e *Engine) State() State {
	return e.state
}

// Restore replaces the tracking state, e.g. from a checkpoint.
func (e *Engine) Restore(s State) {
	e.state = s
}

// Config returns the configured rules.
func (e *Engine) Config() Config {
	return e.cfg
}

// ReferencePrice is the current price of the order's symbol, falling back to
// its limit price when no price has been observed yet.
func ReferencePrice(o order.Order, prices map[string]decimal.Decimal) (decimal.Decimal, bool) {
	if price, ok := prices[o.Symbol]; ok && price.IsPositive() {
		return price, true
	}
	if o.Type == order.TypeLimit && o.Limit().IsPositive() {
		return o.Limit(), true
	}
	return decimal.Zero, false
}

// MarkToMarket values cash plus every position that has a known price.
func MarkToMarket(cash decimal.Decimal, positions, prices map[string]decimal.Decimal) decimal.Decimal {
	total := cash
	for symbol, qty := range positions {
		if price, ok := prices[symbol]; ok {
			total = total.Add(qty.Mul(price))
		}
	}
	return total
}

func percent(fraction decimal.Decimal) string {
	return fraction.Mul(hundred).StringFixed(2)
}
