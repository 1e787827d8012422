package simulator

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"papersim/internal/order"
	"papersim/internal/risk"
	"papersim/internal/scheduler"
	"papersim/pkg/exception"
)

// State is a complete copy of the mutable simulator state. Together with
// the Config it is enough to resume execution identically.
type State struct {
	Cash            decimal.Decimal
	Positions       map[string]decimal.Decimal
	PendingOrders   []order.Order
	CompletedOrders []order.Order
	Actions         []scheduler.Action
	Prices          map[string]decimal.Decimal
	Now             time.Time
	Risk            risk.State
	LatencyDraws    uint64
}

// State copies the simulator state without modifying it.
func (s *Simulator) State() State {
	prices := make(map[string]decimal.Decimal, len(s.prices))
	for symbol, price := range s.prices {
		prices[symbol] = price
	}
	return State{
		Cash:            s.cash,
		Positions:       s.positions.Positions(),
		PendingOrders:   s.PendingOrders(),
		CompletedOrders: s.CompletedOrders(),
		Actions:         s.queue.Actions(),
		Prices:          prices,
		Now:             s.now,
		Risk:            s.risk.State(),
		LatencyDraws:    s.sampler.Draws(),
	}
}

// Restore rebuilds a simulator from a config and a state copy. Callers
// restoring from persisted data must check schema compatibility first.
func Restore(cfg Config, st State) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		return nil, errors.Wrap(exception.ErrInvalidConfig, "restored simulator requires an id")
	}

	s := newSimulator(cfg, st.LatencyDraws)
	s.cash = st.Cash
	s.positions.Load(st.Positions)
	s.now = st.Now
	for symbol, price := range st.Prices {
		s.prices[symbol] = price
	}

	for _, o := range st.PendingOrders {
		if o.Status.Terminal() {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "pending order %s is %s", o.ID, o.Status)
		}
		if s.known(o.ID) {
			return nil, errors.Wrapf(exception.ErrOrderDuplicate, "order %s", o.ID)
		}
		s.track(o)
	}
	for _, o := range st.CompletedOrders {
		if !o.Status.Terminal() {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "completed order %s is %s", o.ID, o.Status)
		}
		if s.known(o.ID) {
			return nil, errors.Wrapf(exception.ErrOrderDuplicate, "order %s", o.ID)
		}
		s.completed[o.ID] = o
		s.completedIDs = append(s.completedIDs, o.ID)
	}

	for _, a := range st.Actions {
		if _, ok := s.pending[a.OrderID]; !ok {
			return nil, errors.Wrapf(exception.ErrInvalidArgument, "action %s references unknown order %s", a.Kind, a.OrderID)
		}
		switch a.Kind {
		case scheduler.KindFill:
			s.awaitingFill[a.OrderID] = struct{}{}
		case scheduler.KindCancel:
			s.cancelRequests[a.OrderID] = struct{}{}
		}
		s.queue.Schedule(a)
	}

	s.risk = risk.NewEngine(riskConfig(cfg), cfg.InitialCash)
	s.risk.Restore(st.Risk)

	logs.Infof("simulator %s restored, cash: %s, pending: %d, completed: %d, actions: %d",
		cfg.ID, s.cash, len(s.pendingIDs), len(s.completedIDs), s.queue.Len())
	return s, nil
}
