package simulator

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papersim/internal/latency"
	"papersim/internal/order"
	"papersim/internal/risk"
	"papersim/pkg/exception"
)

var t0 = time.Date(2024, 7, 1, 13, 30, 0, 0, time.UTC)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ms(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Millisecond)
}

func px(kv ...string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = d(kv[i+1])
	}
	return out
}

func newSim(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	if cfg.InitialCash.IsZero() {
		cfg.InitialCash = d("10000")
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func marketBuy(id, symbol, qty string) order.Order {
	return order.NewMarketOrder(id, symbol, order.SideBuy, d(qty), t0)
}

func marketSell(id, symbol, qty string) order.Order {
	return order.NewMarketOrder(id, symbol, order.SideSell, d(qty), t0)
}

func TestNewValidatesConfig(t *testing.T) {
	testCases := []struct {
		desc string
		cfg  Config
	}{
		{"zero cash", Config{}},
		{"negative commission", Config{InitialCash: d("1"), CommissionPerShare: d("-0.01")}},
		{"negative slippage", Config{InitialCash: d("1"), SlippageBps: d("-1")}},
		{"bad latency", Config{InitialCash: d("1"), Latency: latency.Config{FillMin: time.Second}}},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := New(tc.cfg)
			require.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}

	s, err := New(Config{InitialCash: d("5")})
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID())
	assert.NotZero(t, s.Config().Seed)
	assert.True(t, s.Cash().Equal(d("5")))
}

func TestPositionLimitRejectsOversizedBuy(t *testing.T) {
	s := newSim(t, Config{Risk: &risk.Config{Position: &risk.PositionLimit{MaxShares: risk.Limit("50")}}})

	got, err := s.SubmitOrder(marketBuy("o1", "X", "100"), t0)
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, got.Status)
	assert.Equal(t, order.RejectRiskPositionLimit, got.RejectReason)
	assert.NotEmpty(t, got.RejectMessage)

	stored, ok := s.Order("o1")
	require.True(t, ok)
	assert.Equal(t, order.StatusRejected, stored.Status)
	assert.Empty(t, s.PendingOrders())
	assert.Zero(t, s.PendingActions())
}

func TestLatencyLifecycle(t *testing.T) {
	s := newSim(t, Config{Latency: latency.Normal()})
	prices := px("X", "10")

	got, err := s.SubmitOrder(marketBuy("o1", "X", "100"), t0)
	require.NoError(t, err)
	assert.Equal(t, order.StatusNew, got.Status)

	execs, err := s.ProcessMarketData(ms(40), prices)
	require.NoError(t, err)
	assert.Empty(t, execs)
	o, _ := s.Order("o1")
	assert.Equal(t, order.StatusNew, o.Status)

	execs, err = s.ProcessMarketData(ms(60), prices)
	require.NoError(t, err)
	assert.Empty(t, execs)
	o, _ = s.Order("o1")
	assert.Equal(t, order.StatusSubmitted, o.Status)
	assert.True(t, o.SubmittedAt.Equal(ms(50)), "submission is effective at its scheduled time")

	execs, err = s.ProcessMarketData(ms(260), prices)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	o, _ = s.Order("o1")
	assert.Equal(t, order.StatusFilled, o.Status)
	assert.True(t, s.Position("X").Equal(d("100")))
	assert.True(t, s.Cash().Equal(d("9000")))

	fillAt := execs[0].Timestamp
	assert.False(t, fillAt.Before(ms(160)))
	assert.False(t, fillAt.After(ms(260)))
}

func TestLimitOrderWaitsForPrice(t *testing.T) {
	s := newSim(t, Config{})

	o := order.NewLimitOrder("l1", "X", order.SideBuy, d("10"), d("100"), t0)
	got, err := s.SubmitOrder(o, t0)
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, got.Status)

	for i, p := range []string{"105", "101", "100.01"} {
		execs, err := s.ProcessMarketData(ms(i+1), px("X", p))
		require.NoError(t, err)
		assert.Empty(t, execs)
		o, _ := s.Order("l1")
		assert.Equal(t, order.StatusSubmitted, o.Status)
	}

	execs, err := s.ProcessMarketData(ms(10), px("Y", "1"))
	require.NoError(t, err)
	assert.Empty(t, execs, "no price for the symbol, no fill")

	execs, err = s.ProcessMarketData(ms(11), px("X", "98"))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Price.Equal(d("100")), "limit orders fill at the limit")

	sell := order.NewLimitOrder("l2", "X", order.SideSell, d("10"), d("110"), t0)
	_, err = s.SubmitOrder(sell, ms(12))
	require.NoError(t, err)
	execs, err = s.ProcessMarketData(ms(13), px("X", "109.99"))
	require.NoError(t, err)
	assert.Empty(t, execs)
	execs, err = s.ProcessMarketData(ms(14), px("X", "110"))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, s.Position("X").IsZero())
}

func TestDrawdownHaltsUntilReset(t *testing.T) {
	s := newSim(t, Config{Risk: &risk.Config{Drawdown: &risk.DrawdownLimit{MaxDailyPct: risk.Limit("0.05")}}})

	_, err := s.SubmitOrder(marketBuy("b1", "X", "100"), t0)
	require.NoError(t, err)
	execs, err := s.ProcessMarketData(ms(1), px("X", "100"))
	require.NoError(t, err)
	require.Len(t, execs, 1)

	_, err = s.ProcessMarketData(ms(2), px("X", "94"))
	require.NoError(t, err)
	assert.True(t, s.TotalValue(nil).Equal(d("9400")))

	got, err := s.SubmitOrder(marketSell("s1", "X", "100"), ms(3))
	require.NoError(t, err)
	assert.Equal(t, order.StatusRejected, got.Status)
	assert.Equal(t, order.RejectRiskDrawdownLimit, got.RejectReason)

	s.ResetDailyTracking()
	got, err = s.SubmitOrder(marketSell("s2", "X", "100"), ms(4))
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, got.Status)
}

func TestResetDailyOnNewDay(t *testing.T) {
	s := newSim(t, Config{
		ResetDailyOnNewDay: true,
		Risk:               &risk.Config{Drawdown: &risk.DrawdownLimit{MaxDailyPct: risk.Limit("0.05")}},
	})

	_, err := s.SubmitOrder(marketBuy("b1", "X", "100"), t0)
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(1), px("X", "100"))
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(2), px("X", "90"))
	require.NoError(t, err)

	got, err := s.SubmitOrder(marketSell("s1", "X", "1"), ms(3))
	require.NoError(t, err)
	assert.Equal(t, order.RejectRiskDrawdownLimit, got.RejectReason)

	_, err = s.ProcessMarketData(t0.Add(24*time.Hour), px("X", "90"))
	require.NoError(t, err)
	assert.True(t, s.State().Risk.DailyStartValue.Equal(d("9000")))

	got, err = s.SubmitOrder(marketSell("s2", "X", "1"), t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, got.Status)
}

func TestCancelRemovesPendingFill(t *testing.T) {
	s := newSim(t, Config{Latency: latency.Normal()})

	_, err := s.SubmitOrder(marketBuy("c1", "X", "10"), t0)
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(50), px("X", "10"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.PendingActions(), "fill scheduled")

	got, err := s.CancelOrder("c1", ms(60))
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, got.Status, "cancel is not yet effective")
	assert.Equal(t, 1, s.PendingActions(), "fill removed, cancel scheduled")

	execs, err := s.ProcessMarketData(ms(400), px("X", "10"))
	require.NoError(t, err)
	assert.Empty(t, execs)
	o, _ := s.Order("c1")
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.True(t, o.CancelledAt.Equal(ms(110)))
	assert.True(t, s.Position("X").IsZero())
	assert.True(t, s.Cash().Equal(d("10000")))
}

func TestCancelSlowerThanFillStillWins(t *testing.T) {
	cfg := latency.Normal()
	cfg.Cancellation = time.Second
	s := newSim(t, Config{Latency: cfg})

	_, err := s.SubmitOrder(marketBuy("c1", "X", "10"), t0)
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(50), px("X", "10"))
	require.NoError(t, err)

	_, err = s.CancelOrder("c1", ms(51))
	require.NoError(t, err)

	for _, at := range []int{100, 300, 600, 900} {
		execs, err := s.ProcessMarketData(ms(at), px("X", "10"))
		require.NoError(t, err)
		assert.Empty(t, execs)
		o, _ := s.Order("c1")
		assert.Equal(t, order.StatusSubmitted, o.Status)
	}

	_, err = s.ProcessMarketData(ms(1051), nil)
	require.NoError(t, err)
	o, _ := s.Order("c1")
	assert.Equal(t, order.StatusCancelled, o.Status)
	assert.Empty(t, o.Executions)
	assert.Zero(t, s.PendingActions())

	again, err := s.CancelOrder("c1", ms(1052))
	require.ErrorIs(t, err, exception.ErrOrderNotCancelable)
	assert.Equal(t, order.StatusCancelled, again.Status)
}

func TestCancelBeforeSubmissionIsEffective(t *testing.T) {
	s := newSim(t, Config{Latency: latency.Config{Submission: 50 * time.Millisecond}})

	_, err := s.SubmitOrder(marketBuy("n1", "X", "1"), t0)
	require.NoError(t, err)
	got, err := s.CancelOrder("n1", ms(10))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Zero(t, s.PendingActions(), "pending submission removed")

	execs, err := s.ProcessMarketData(ms(100), px("X", "1"))
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestSlippageAndCommission(t *testing.T) {
	s := newSim(t, Config{SlippageBps: d("10"), CommissionPerShare: d("0.01")})

	_, err := s.SubmitOrder(marketBuy("b", "X", "10"), t0)
	require.NoError(t, err)
	execs, err := s.ProcessMarketData(ms(1), px("X", "100"))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Price.Equal(d("100.1")), execs[0].Price.String())
	assert.True(t, execs[0].Commission.Equal(d("0.1")))
	assert.True(t, s.Cash().Equal(d("8998.9")), s.Cash().String())

	_, err = s.SubmitOrder(marketSell("s", "X", "10"), ms(2))
	require.NoError(t, err)
	execs, err = s.ProcessMarketData(ms(3), px("X", "100"))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.True(t, execs[0].Price.Equal(d("99.9")))
	assert.True(t, execs[0].Commission.Equal(d("0.1")), "commission is non-negative on sells")
	assert.True(t, s.Cash().Equal(d("9997.8")), s.Cash().String())
	assert.True(t, s.Position("X").IsZero())
}

func TestValidationRejections(t *testing.T) {
	s := newSim(t, Config{InitialCash: d("1000")})
	_, err := s.ProcessMarketData(t0, px("X", "10"))
	require.NoError(t, err)

	testCases := []struct {
		desc   string
		order  order.Order
		reason order.RejectReason
	}{
		{"zero quantity", marketBuy("v1", "X", "0"), order.RejectInvalidQuantity},
		{"negative quantity", marketSell("v2", "X", "-1"), order.RejectInvalidQuantity},
		{"empty symbol", marketBuy("v3", " ", "1"), order.RejectInvalidSymbol},
		{"zero limit", order.NewLimitOrder("v4", "X", order.SideBuy, d("1"), d("0"), t0), order.RejectInvalidLimitPrice},
		{"insufficient funds", marketBuy("v5", "X", "101"), order.RejectInsufficientFunds},
		{"insufficient funds limit", order.NewLimitOrder("v6", "Y", order.SideBuy, d("2"), d("600"), t0), order.RejectInsufficientFunds},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got, err := s.SubmitOrder(tc.order, t0)
			require.NoError(t, err)
			assert.Equal(t, order.StatusRejected, got.Status)
			assert.Equal(t, tc.reason, got.RejectReason)
		})
	}

	got, err := s.SubmitOrder(marketBuy("ok", "X", "100"), t0)
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, got.Status)
}

func TestInsufficientFundsAtFillTime(t *testing.T) {
	s := newSim(t, Config{InitialCash: d("1000")})
	_, err := s.ProcessMarketData(t0, px("X", "10"))
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		got, err := s.SubmitOrder(marketBuy(id, "X", "60"), t0)
		require.NoError(t, err)
		require.Equal(t, order.StatusSubmitted, got.Status)
	}

	execs, err := s.ProcessMarketData(ms(1), px("X", "10"))
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "a", execs[0].OrderID)

	b, _ := s.Order("b")
	assert.Equal(t, order.StatusRejected, b.Status)
	assert.Equal(t, order.RejectInsufficientFunds, b.RejectReason)
	assert.True(t, s.Cash().Equal(d("400")))
}

func TestKillSwitch(t *testing.T) {
	s := newSim(t, Config{})
	s.DisableTrading()
	assert.False(t, s.TradingEnabled())

	got, err := s.SubmitOrder(marketBuy("k1", "X", "1"), t0)
	require.NoError(t, err)
	assert.Equal(t, order.RejectRiskTradingDisabled, got.RejectReason)

	s.EnableTrading()
	got, err = s.SubmitOrder(marketBuy("k2", "X", "1"), t0)
	require.NoError(t, err)
	assert.Equal(t, order.StatusSubmitted, got.Status)
}

func TestMisuseErrors(t *testing.T) {
	s := newSim(t, Config{})

	_, err := s.SubmitOrder(marketBuy("dup", "X", "1"), t0)
	require.NoError(t, err)
	_, err = s.SubmitOrder(marketBuy("dup", "X", "1"), t0)
	require.ErrorIs(t, err, exception.ErrOrderDuplicate)

	submitted, err := marketBuy("sub", "X", "1").Submit(t0)
	require.NoError(t, err)
	_, err = s.SubmitOrder(submitted, t0)
	require.ErrorIs(t, err, exception.ErrOrderNotNew)

	_, err = s.SubmitOrder(order.NewMarketOrder("side", "X", order.SideUnknown, d("1"), t0), t0)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)

	_, err = s.CancelOrder("missing", t0)
	require.ErrorIs(t, err, exception.ErrOrderUnknown)

	_, err = s.ProcessMarketData(ms(10), nil)
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(5), nil)
	require.ErrorIs(t, err, exception.ErrInvalidArgument)
}

func TestFillsRaisePeak(t *testing.T) {
	s := newSim(t, Config{})

	_, err := s.SubmitOrder(marketBuy("b", "X", "10"), t0)
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(1), px("X", "100"))
	require.NoError(t, err)

	_, err = s.ProcessMarketData(ms(2), px("X", "150"))
	require.NoError(t, err)
	assert.True(t, s.State().Risk.PeakValue.Equal(d("10000")), "peak moves only on fills")

	_, err = s.SubmitOrder(marketSell("s", "X", "1"), ms(3))
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(4), px("X", "150"))
	require.NoError(t, err)
	assert.True(t, s.State().Risk.PeakValue.Equal(d("10500")), s.State().Risk.PeakValue.String())
	assert.True(t, s.TotalValue(px("X", "200")).Equal(d("10950")))
}

func TestStateIsReadOnly(t *testing.T) {
	s := newSim(t, Config{Latency: latency.Fast()})
	_, err := s.SubmitOrder(marketBuy("a", "X", "1"), t0)
	require.NoError(t, err)
	_, err = s.ProcessMarketData(ms(5), px("X", "1"))
	require.NoError(t, err)

	st := s.State()
	st.Positions["X"] = d("99")
	st.Prices["X"] = d("99")
	st.PendingOrders[0].Symbol = "Z"

	again := s.State()
	assert.True(t, again.Prices["X"].Equal(d("1")))
	assert.Equal(t, "X", again.PendingOrders[0].Symbol)
	assert.Equal(t, 1, s.PendingActions())
}
