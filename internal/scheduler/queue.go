package scheduler

import (
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the transition an action applies when it becomes due.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindSubmit
	KindFill
	KindCancel
)

var kindNames = [...]string{"unknown", "submit_effective", "fill_effective", "cancel_effective"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	for i, name := range kindNames {
		if name == string(b) {
			*k = Kind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown action kind: %q", b)
}

// Payload carries the terms of a fill. The queue never reads it.
type Payload struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Commission decimal.Decimal `json:"commission"`
}

// Action is a transition scheduled for a future simulated time.
type Action struct {
	Kind        Kind      `json:"action_type"`
	OrderID     string    `json:"order_id"`
	ScheduledAt time.Time `json:"scheduled_time"`
	Payload     *Payload  `json:"payload,omitempty"`
}

// Queue keeps actions sorted by ScheduledAt. Actions sharing a timestamp
// stay in the order they were scheduled.
type Queue struct {
	actions []Action
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Schedule inserts an action after every action due at or before it.
func (q *Queue) Schedule(a Action) {
	idx := sort.Search(len(q.actions), func(i int) bool {
		return q.actions[i].ScheduledAt.After(a.ScheduledAt)
	})
	q.actions = slices.Insert(q.actions, idx, a)
}

// DrainDue removes and returns every action scheduled at or before now.
func (q *Queue) DrainDue(now time.Time) []Action {
	idx := sort.Search(len(q.actions), func(i int) bool {
		return q.actions[i].ScheduledAt.After(now)
	})
	if idx == 0 {
		return nil
	}
	due := make([]Action, idx)
	copy(due, q.actions[:idx])
	q.actions = slices.Delete(q.actions, 0, idx)
	return due
}

// CancelForOrder removes the order's actions of the given kinds, or all of
// its actions when no kind is given, and returns how many were removed.
func (q *Queue) CancelForOrder(orderID string, kinds ...Kind) int {
	before := len(q.actions)
	q.actions = slices.DeleteFunc(q.actions, func(a Action) bool {
		if a.OrderID != orderID {
			return false
		}
		return len(kinds) == 0 || slices.Contains(kinds, a.Kind)
	})
	return before - len(q.actions)
}

// HasPending reports whether the order has an action of the given kind.
func (q *Queue) HasPending(orderID string, kind Kind) bool {
	return slices.ContainsFunc(q.actions, func(a Action) bool {
		return a.OrderID == orderID && a.Kind == kind
	})
}

// Next returns the earliest scheduled time.
func (q *Queue) Next() (time.Time, bool) {
	if len(q.actions) == 0 {
		return time.Time{}, false
	}
	return q.actions[0].ScheduledAt, true
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	return len(q.actions)
}

// Actions returns a copy of the pending actions in processing order.
func (q *Queue) Actions() []Action {
	out := make([]Action, len(q.actions))
	copy(out, q.actions)
	return out
}
