package simulator

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papersim/internal/latency"
	"papersim/internal/obs"
	"papersim/internal/order"
	"papersim/internal/risk"
	"papersim/internal/scheduler"
	"papersim/internal/state"
	"papersim/pkg/exception"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// Config holds construction parameters.
type Config struct {
	ID                 string
	InitialCash        decimal.Decimal
	CommissionPerShare decimal.Decimal
	SlippageBps        decimal.Decimal
	Latency            latency.Config
	Risk               *risk.Config
	// Seed drives fill latency sampling. Zero picks a time-based seed.
	Seed int64
	// ResetDailyOnNewDay rebases the daily drawdown baseline on the first
	// market data of each UTC day.
	ResetDailyOnNewDay bool
	Metrics            *obs.Metrics
}

// Validate checks the parameters that New cannot default.
func (c Config) Validate() error {
	if !c.InitialCash.IsPositive() {
		return errors.Wrapf(exception.ErrInvalidConfig, "initial cash must be > 0, got %s", c.InitialCash)
	}
	if c.CommissionPerShare.IsNegative() {
		return errors.Wrapf(exception.ErrInvalidConfig, "commission per share must be >= 0, got %s", c.CommissionPerShare)
	}
	if c.SlippageBps.IsNegative() {
		return errors.Wrapf(exception.ErrInvalidConfig, "slippage bps must be >= 0, got %s", c.SlippageBps)
	}
	return c.Latency.Validate()
}

// Simulator is a deterministic, caller-driven paper execution venue. It is
// not safe for concurrent use; run one simulator per session.
type Simulator struct {
	cfg       Config
	cash      decimal.Decimal
	positions *state.PositionBook
	queue     *scheduler.Queue
	risk      *risk.Engine
	sampler   *latency.Sampler

	pending        map[string]order.Order
	pendingIDs     []string
	completed      map[string]order.Order
	completedIDs   []string
	awaitingFill   map[string]struct{}
	cancelRequests map[string]struct{}

	prices map[string]decimal.Decimal
	now    time.Time
}

// New creates a simulator holding only cash.
func New(cfg Config) (*Simulator, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	s := newSimulator(cfg, 0)
	s.risk = risk.NewEngine(riskConfig(cfg), cfg.InitialCash)
	s.cash = cfg.InitialCash

	logs.Infof("simulator %s created, cash: %s, latency: %s, seed: %d", cfg.ID, cfg.InitialCash, cfg.Latency.Name(), cfg.Seed)
	return s, nil
}

func normalize(cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return cfg, nil
}

func newSimulator(cfg Config, draws uint64) *Simulator {
	return &Simulator{
		cfg:            cfg,
		positions:      state.NewPositionBook(),
		queue:          scheduler.NewQueue(),
		sampler:        latency.NewSampler(cfg.Latency, cfg.Seed, draws),
		pending:        make(map[string]order.Order),
		completed:      make(map[string]order.Order),
		awaitingFill:   make(map[string]struct{}),
		cancelRequests: make(map[string]struct{}),
		prices:         make(map[string]decimal.Decimal),
	}
}

func riskConfig(cfg Config) risk.Config {
	if cfg.Risk == nil {
		return risk.Config{}
	}
	return *cfg.Risk
}

// SubmitOrder accepts a NEW order. Risk and validation failures are returned
// as a REJECTED order with a nil error; the error is reserved for misuse.
func (s *Simulator) SubmitOrder(o order.Order, ts time.Time) (order.Order, error) {
	if o.Status != order.StatusNew {
		return o, errors.Wrapf(exception.ErrOrderNotNew, "order %s is %s", o.ID, o.Status)
	}
	if s.known(o.ID) {
		return o, errors.Wrapf(exception.ErrOrderDuplicate, "order %s", o.ID)
	}
	if o.Side != order.SideBuy && o.Side != order.SideSell {
		return o, errors.Wrapf(exception.ErrInvalidArgument, "order %s has side %s", o.ID, o.Side)
	}
	if o.Type != order.TypeMarket && o.Type != order.TypeLimit {
		return o, errors.Wrapf(exception.ErrInvalidArgument, "order %s has type %s", o.ID, o.Type)
	}

	if v := s.risk.CheckOrder(o, s.positions.Positions(), s.prices, s.cash); v != nil {
		return s.reject(o, v.Reason, v.Message, ts)
	}
	if reason, msg := s.validate(o); reason != order.RejectNone {
		return s.reject(o, reason, msg, ts)
	}

	s.cfg.Metrics.ObserveSubmit(s.cfg.ID, o.Symbol, o.Side.String(), o.Type.String())
	if s.cfg.Latency.Submission == 0 {
		submitted, err := o.Submit(ts)
		if err != nil {
			return o, err
		}
		s.track(submitted)
		return submitted, nil
	}

	s.track(o)
	s.schedule(scheduler.Action{
		Kind:        scheduler.KindSubmit,
		OrderID:     o.ID,
		ScheduledAt: ts.Add(s.cfg.Latency.Submission),
	})
	return o, nil
}

func (s *Simulator) validate(o order.Order) (order.RejectReason, string) {
	if !o.Quantity.IsPositive() {
		return order.RejectInvalidQuantity, "quantity must be > 0, got " + o.Quantity.String()
	}
	if strings.TrimSpace(o.Symbol) == "" {
		return order.RejectInvalidSymbol, "symbol is empty"
	}
	if o.Type == order.TypeLimit && !o.Limit().IsPositive() {
		return order.RejectInvalidLimitPrice, "limit orders require a positive limit price"
	}
	if o.Side == order.SideBuy {
		ref, ok := risk.ReferencePrice(o, s.prices)
		if ok {
			if o.Type == order.TypeMarket {
				ref = s.fillPrice(o, ref)
			}
			cost := o.Quantity.Mul(ref).Add(s.commission(o.Quantity))
			if cost.GreaterThan(s.cash) {
				return order.RejectInsufficientFunds, "estimated cost " + cost.String() + " exceeds cash " + s.cash.String()
			}
		}
	}
	return order.RejectNone, ""
}

func (s *Simulator) reject(o order.Order, reason order.RejectReason, msg string, ts time.Time) (order.Order, error) {
	rejected, err := o.Reject(reason, msg, ts)
	if err != nil {
		return o, err
	}
	s.completed[rejected.ID] = rejected
	s.completedIDs = append(s.completedIDs, rejected.ID)
	s.cfg.Metrics.ObserveReject(s.cfg.ID, reason.String())
	return rejected, nil
}

// ProcessMarketData advances simulated time to ts, applies every due action,
// schedules fills for marketable orders and returns the executions that
// became effective during the call.
func (s *Simulator) ProcessMarketData(ts time.Time, prices map[string]decimal.Decimal) ([]order.Execution, error) {
	if !s.now.IsZero() && ts.Before(s.now) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "time moved backwards: %s < %s", ts.Format(time.RFC3339Nano), s.now.Format(time.RFC3339Nano))
	}

	newDay := s.cfg.ResetDailyOnNewDay && !s.now.IsZero() && !sameDay(s.now, ts)
	for symbol, price := range prices {
		if price.IsPositive() {
			s.prices[symbol] = price
		}
	}
	s.now = ts
	if newDay {
		s.risk.ResetDailyTracking(s.TotalValue(nil))
	}

	executions, err := s.drain(ts, nil)
	if err != nil {
		return executions, err
	}

	for _, id := range s.pendingIDs {
		o := s.pending[id]
		if !o.Status.Active() || s.frozen(id) {
			continue
		}
		price, ok := prices[o.Symbol]
		if !ok || !price.IsPositive() || !marketable(o, price) {
			continue
		}
		qty := o.Remaining()
		delay := s.sampler.FillLatency()
		s.cfg.Metrics.ObserveFillLatency(s.cfg.ID, delay)
		s.awaitingFill[id] = struct{}{}
		s.schedule(scheduler.Action{
			Kind:        scheduler.KindFill,
			OrderID:     id,
			ScheduledAt: ts.Add(delay),
			Payload: &scheduler.Payload{
				Price:      s.fillPrice(o, price),
				Quantity:   qty,
				Commission: s.commission(qty),
			},
		})
	}

	executions, err = s.drain(ts, executions)
	s.cfg.Metrics.SetPendingActions(s.cfg.ID, s.queue.Len())
	return executions, err
}

func (s *Simulator) drain(ts time.Time, executions []order.Execution) ([]order.Execution, error) {
	for _, action := range s.queue.DrainDue(ts) {
		exec, ok, err := s.apply(action)
		if err != nil {
			return executions, errors.Wrapf(err, "apply %s for order %s", action.Kind, action.OrderID)
		}
		if ok {
			executions = append(executions, exec)
		}
	}
	return executions, nil
}

func (s *Simulator) apply(action scheduler.Action) (order.Execution, bool, error) {
	o, ok := s.pending[action.OrderID]
	if !ok {
		return order.Execution{}, false, nil
	}
	at := action.ScheduledAt

	switch action.Kind {
	case scheduler.KindSubmit:
		if o.Status != order.StatusNew {
			return order.Execution{}, false, nil
		}
		submitted, err := o.Submit(at)
		if err != nil {
			return order.Execution{}, false, err
		}
		s.pending[o.ID] = submitted
		return order.Execution{}, false, nil

	case scheduler.KindFill:
		delete(s.awaitingFill, o.ID)
		if !o.Status.Active() || action.Payload == nil {
			return order.Execution{}, false, nil
		}
		return s.fill(o, *action.Payload, at)

	case scheduler.KindCancel:
		delete(s.cancelRequests, o.ID)
		s.queue.CancelForOrder(o.ID)
		cancelled, err := o.Cancel(at)
		if err != nil {
			return order.Execution{}, false, err
		}
		s.complete(cancelled)
		s.cfg.Metrics.ObserveCancel(s.cfg.ID)
		return order.Execution{}, false, nil
	}
	return order.Execution{}, false, errors.Wrapf(exception.ErrInternal, "unknown action kind %d", action.Kind)
}

func (s *Simulator) fill(o order.Order, terms scheduler.Payload, at time.Time) (order.Execution, bool, error) {
	notional := terms.Quantity.Mul(terms.Price)
	if o.Side == order.SideBuy {
		cost := notional.Add(terms.Commission)
		if cost.GreaterThan(s.cash) {
			rejected, err := o.Reject(order.RejectInsufficientFunds, "fill cost "+cost.String()+" exceeds cash "+s.cash.String(), at)
			if err != nil {
				return order.Execution{}, false, err
			}
			logs.Infof("simulator %s rejected order %s at fill time: %s", s.cfg.ID, o.ID, rejected.RejectMessage)
			s.complete(rejected)
			s.cfg.Metrics.ObserveReject(s.cfg.ID, rejected.RejectReason.String())
			return order.Execution{}, false, nil
		}
	}

	filled, exec, err := o.Fill(terms.Quantity, terms.Price, terms.Commission, at)
	if err != nil {
		return order.Execution{}, false, err
	}

	switch o.Side {
	case order.SideBuy:
		s.cash = s.cash.Sub(notional).Sub(terms.Commission)
	case order.SideSell:
		s.cash = s.cash.Add(notional).Sub(terms.Commission)
	}
	s.positions.ApplyExecution(o.Side, o.Symbol, terms.Quantity)

	if filled.Status.Terminal() {
		s.complete(filled)
	} else {
		s.pending[filled.ID] = filled
	}
	s.risk.UpdateState(s.TotalValue(nil), false)
	s.cfg.Metrics.ObserveExecution(s.cfg.ID, o.Symbol)
	return exec, true, nil
}

// CancelOrder requests cancellation. Pending fills for the order are removed
// immediately, so an order can never fill after its cancel was requested.
func (s *Simulator) CancelOrder(orderID string, ts time.Time) (order.Order, error) {
	o, ok := s.pending[orderID]
	if !ok {
		if done, ok := s.completed[orderID]; ok {
			return done, errors.Wrapf(exception.ErrOrderNotCancelable, "order %s is %s", orderID, done.Status)
		}
		return order.Order{}, errors.Wrapf(exception.ErrOrderUnknown, "order %s", orderID)
	}
	if _, ok := s.cancelRequests[orderID]; ok {
		return o, nil
	}

	s.queue.CancelForOrder(orderID, scheduler.KindFill)
	delete(s.awaitingFill, orderID)

	if s.cfg.Latency.Cancellation == 0 {
		s.queue.CancelForOrder(orderID)
		cancelled, err := o.Cancel(ts)
		if err != nil {
			return o, err
		}
		s.complete(cancelled)
		s.cfg.Metrics.ObserveCancel(s.cfg.ID)
		return cancelled, nil
	}

	s.cancelRequests[orderID] = struct{}{}
	s.schedule(scheduler.Action{
		Kind:        scheduler.KindCancel,
		OrderID:     orderID,
		ScheduledAt: ts.Add(s.cfg.Latency.Cancellation),
	})
	return o, nil
}

// EnableTrading turns the kill switch off.
func (s *Simulator) EnableTrading() {
	s.risk.EnableTrading()
}

// DisableTrading turns the kill switch on; every submission is rejected.
func (s *Simulator) DisableTrading() {
	s.risk.DisableTrading()
}

func (s *Simulator) TradingEnabled() bool {
	return s.risk.TradingEnabled()
}

// ResetDailyTracking rebases the daily drawdown baseline to the current
// portfolio value.
func (s *Simulator) ResetDailyTracking() {
	s.risk.ResetDailyTracking(s.TotalValue(nil))
}

// Position returns the signed quantity held in symbol.
func (s *Simulator) Position(symbol string) decimal.Decimal {
	return s.positions.Position(symbol)
}

// Positions returns a copy of every non-flat position.
func (s *Simulator) Positions() map[string]decimal.Decimal {
	return s.positions.Positions()
}

func (s *Simulator) Cash() decimal.Decimal {
	return s.cash
}

// TotalValue marks positions to market. Prices given here override the last
// observed prices.
func (s *Simulator) TotalValue(prices map[string]decimal.Decimal) decimal.Decimal {
	marks := s.prices
	if len(prices) > 0 {
		marks = make(map[string]decimal.Decimal, len(s.prices)+len(prices))
		for symbol, price := range s.prices {
			marks[symbol] = price
		}
		for symbol, price := range prices {
			marks[symbol] = price
		}
	}
	return risk.MarkToMarket(s.cash, s.positions.Positions(), marks)
}

// Order looks up an order by id.
func (s *Simulator) Order(id string) (order.Order, bool) {
	if o, ok := s.pending[id]; ok {
		return o, true
	}
	o, ok := s.completed[id]
	return o, ok
}

// PendingOrders returns in-flight orders in acceptance order.
func (s *Simulator) PendingOrders() []order.Order {
	out := make([]order.Order, 0, len(s.pendingIDs))
	for _, id := range s.pendingIDs {
		out = append(out, s.pending[id])
	}
	return out
}

// CompletedOrders returns terminal orders in completion order.
func (s *Simulator) CompletedOrders() []order.Order {
	out := make([]order.Order, 0, len(s.completedIDs))
	for _, id := range s.completedIDs {
		out = append(out, s.completed[id])
	}
	return out
}

// PendingActions returns the number of scheduled actions.
func (s *Simulator) PendingActions() int {
	return s.queue.Len()
}

func (s *Simulator) ID() string {
	return s.cfg.ID
}

func (s *Simulator) Config() Config {
	return s.cfg
}

// Now returns the simulated time of the last market data.
func (s *Simulator) Now() time.Time {
	return s.now
}

func (s *Simulator) known(id string) bool {
	if _, ok := s.pending[id]; ok {
		return true
	}
	_, ok := s.completed[id]
	return ok
}

func (s *Simulator) frozen(id string) bool {
	if _, ok := s.awaitingFill[id]; ok {
		return true
	}
	_, ok := s.cancelRequests[id]
	return ok
}

func (s *Simulator) track(o order.Order) {
	s.pending[o.ID] = o
	s.pendingIDs = append(s.pendingIDs, o.ID)
}

func (s *Simulator) complete(o order.Order) {
	delete(s.pending, o.ID)
	delete(s.awaitingFill, o.ID)
	delete(s.cancelRequests, o.ID)
	s.pendingIDs = slices.DeleteFunc(s.pendingIDs, func(id string) bool { return id == o.ID })
	s.completed[o.ID] = o
	s.completedIDs = append(s.completedIDs, o.ID)
}

func (s *Simulator) schedule(a scheduler.Action) {
	s.queue.Schedule(a)
}

// fillPrice applies slippage against the taker for market orders; limit
// orders fill at their limit.
func (s *Simulator) fillPrice(o order.Order, price decimal.Decimal) decimal.Decimal {
	if o.Type == order.TypeLimit {
		return o.Limit()
	}
	slip := s.cfg.SlippageBps.Div(bpsDivisor)
	if o.Side == order.SideBuy {
		return price.Mul(decimal.NewFromInt(1).Add(slip))
	}
	return price.Mul(decimal.NewFromInt(1).Sub(slip))
}

func (s *Simulator) commission(qty decimal.Decimal) decimal.Decimal {
	return s.cfg.CommissionPerShare.Mul(qty.Abs())
}

func marketable(o order.Order, price decimal.Decimal) bool {
	if o.Type == order.TypeMarket {
		return true
	}
	switch o.Side {
	case order.SideBuy:
		return price.LessThanOrEqual(o.Limit())
	case order.SideSell:
		return price.GreaterThanOrEqual(o.Limit())
	default:
		return false
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
