package checkpoint

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"papersim/internal/latency"
	"papersim/internal/obs"
	"papersim/internal/order"
	"papersim/internal/risk"
	"papersim/internal/scheduler"
	"papersim/internal/simulator"
	"papersim/pkg/exception"
)

// Version is the checkpoint schema version written by this build. Documents
// with any other version are refused.
const Version = 1

// Checkpoint is the persisted form of a simulator. Every amount is encoded
// as a decimal string.
type Checkpoint struct {
	Version     int       `json:"version"`
	SimulatorID string    `json:"simulator_id"`
	Timestamp   time.Time `json:"checkpoint_timestamp"`

	Cash            decimal.Decimal            `json:"cash"`
	InitialCash     decimal.Decimal            `json:"initial_cash"`
	Positions       map[string]decimal.Decimal `json:"positions"`
	PendingOrders   []order.Order              `json:"pending_orders"`
	CompletedOrders []order.Order              `json:"completed_orders"`

	PeakValue       decimal.Decimal `json:"peak_value"`
	DailyStartValue decimal.Decimal `json:"daily_start_value"`
	TradingEnabled  bool            `json:"trading_enabled"`

	SlippageBps        decimal.Decimal `json:"slippage_bps"`
	CommissionPerShare decimal.Decimal `json:"commission_per_share"`
	LatencyConfigName  string          `json:"latency_config_name"`
	// Latency is only written for custom profiles.
	Latency            *latency.Config `json:"latency,omitempty"`
	RiskConfig         *risk.Config    `json:"risk_config_data"`
	ResetDailyOnNewDay bool            `json:"reset_daily_on_new_day"`

	Seed           int64                      `json:"seed"`
	LatencyDraws   uint64                     `json:"latency_draws"`
	PendingActions []scheduler.Action         `json:"pending_actions"`
	LastPrices     map[string]decimal.Decimal `json:"last_prices"`
	CurrentTime    time.Time                  `json:"current_time,omitzero"`
}

// Create captures the simulator without modifying it.
func Create(sim *simulator.Simulator) Checkpoint {
	return CreateAt(sim, time.Now().UTC())
}

// CreateAt is Create with an explicit checkpoint timestamp.
func CreateAt(sim *simulator.Simulator, ts time.Time) Checkpoint {
	cfg := sim.Config()
	st := sim.State()

	cp := Checkpoint{
		Version:            Version,
		SimulatorID:        cfg.ID,
		Timestamp:          ts.UTC(),
		Cash:               st.Cash,
		InitialCash:        cfg.InitialCash,
		Positions:          st.Positions,
		PendingOrders:      st.PendingOrders,
		CompletedOrders:    st.CompletedOrders,
		PeakValue:          st.Risk.PeakValue,
		DailyStartValue:    st.Risk.DailyStartValue,
		TradingEnabled:     st.Risk.TradingEnabled,
		SlippageBps:        cfg.SlippageBps,
		CommissionPerShare: cfg.CommissionPerShare,
		LatencyConfigName:  cfg.Latency.Name(),
		ResetDailyOnNewDay: cfg.ResetDailyOnNewDay,
		Seed:               cfg.Seed,
		LatencyDraws:       st.LatencyDraws,
		PendingActions:     st.Actions,
		LastPrices:         st.Prices,
		CurrentTime:        st.Now,
	}
	if cp.LatencyConfigName == latency.NameCustom {
		l := cfg.Latency
		cp.Latency = &l
	}
	if cfg.Risk != nil {
		r := *cfg.Risk
		cp.RiskConfig = &r
	}
	return cp
}

// Marshal encodes a checkpoint as indented JSON.
func Marshal(cp Checkpoint) ([]byte, error) {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "marshal checkpoint")
	}
	return data, nil
}

// Unmarshal decodes a checkpoint. The version is checked before anything
// else is decoded.
func Unmarshal(data []byte) (Checkpoint, error) {
	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Checkpoint{}, errors.Wrapf(exception.ErrCheckpointCorrupt, "read version: %v", err)
	}
	if header.Version != Version {
		return Checkpoint{}, errors.Wrapf(exception.ErrIncompatibleVersion, "got version %d, want %d", header.Version, Version)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, errors.Wrapf(exception.ErrCheckpointCorrupt, "decode: %v", err)
	}
	return cp, nil
}

// Restore rebuilds a simulator from a checkpoint. Metrics may be nil.
func Restore(cp Checkpoint, metrics *obs.Metrics) (*simulator.Simulator, error) {
	if cp.Version != Version {
		return nil, errors.Wrapf(exception.ErrIncompatibleVersion, "got version %d, want %d", cp.Version, Version)
	}

	lat, err := cp.latency()
	if err != nil {
		return nil, err
	}

	cfg := simulator.Config{
		ID:                 cp.SimulatorID,
		InitialCash:        cp.InitialCash,
		CommissionPerShare: cp.CommissionPerShare,
		SlippageBps:        cp.SlippageBps,
		Latency:            lat,
		Risk:               cp.RiskConfig,
		Seed:               cp.Seed,
		ResetDailyOnNewDay: cp.ResetDailyOnNewDay,
		Metrics:            metrics,
	}
	return simulator.Restore(cfg, simulator.State{
		Cash:            cp.Cash,
		Positions:       cp.Positions,
		PendingOrders:   cp.PendingOrders,
		CompletedOrders: cp.CompletedOrders,
		Actions:         cp.PendingActions,
		Prices:          cp.LastPrices,
		Now:             cp.CurrentTime,
		Risk: risk.State{
			PeakValue:       cp.PeakValue,
			DailyStartValue: cp.DailyStartValue,
			TradingEnabled:  cp.TradingEnabled,
		},
		LatencyDraws: cp.LatencyDraws,
	})
}

func (cp Checkpoint) latency() (latency.Config, error) {
	if cfg, ok := latency.Preset(cp.LatencyConfigName); ok {
		return cfg, nil
	}
	if cp.LatencyConfigName == latency.NameCustom && cp.Latency != nil {
		return *cp.Latency, nil
	}
	return latency.Config{}, errors.Wrapf(exception.ErrCheckpointCorrupt, "unknown latency config %q", cp.LatencyConfigName)
}
