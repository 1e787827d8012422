package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papersim/internal/latency"
	"papersim/pkg/exception"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "papersim.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	loaded, err := Load("")
	require.NoError(t, err)

	assert.True(t, loaded.Simulator.InitialCash.Equal(decimal.NewFromInt(100000)))
	assert.Equal(t, latency.Instant(), loaded.Simulator.Latency)
	assert.Nil(t, loaded.Simulator.Risk)
	assert.Equal(t, BackendFile, loaded.Checkpoint.Backend)
	assert.Equal(t, 500, loaded.Checkpoint.Every)
	assert.Equal(t, 20, loaded.Paper.OrderEvery)
	assert.Equal(t, "papersim", loaded.Postgres.Database)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
simulator:
  id: replay-1
  initial_cash: "25000.50"
  commission_per_share: 0.005
  slippage_bps: 2
  latency: Normal
  seed: 7
risk:
  enabled: true
  max_shares: 500
  max_daily_pct: "0.05"
paper:
  symbol: AAPL
  order_every: 10
  order_qty: 5
checkpoint:
  dir: /tmp/cp
  every: 100
`)

	loaded, err := Load(path)
	require.NoError(t, err)

	sim := loaded.Simulator
	assert.Equal(t, "replay-1", sim.ID)
	assert.Equal(t, "25000.5", sim.InitialCash.String())
	assert.Equal(t, "0.005", sim.CommissionPerShare.String())
	assert.Equal(t, latency.Normal(), sim.Latency)
	assert.Equal(t, int64(7), sim.Seed)

	require.NotNil(t, sim.Risk)
	require.NotNil(t, sim.Risk.Position)
	assert.Equal(t, "500", sim.Risk.Position.MaxShares.String())
	assert.Nil(t, sim.Risk.Position.MaxValue)
	assert.Nil(t, sim.Risk.Exposure)
	require.NotNil(t, sim.Risk.Drawdown)
	assert.Equal(t, "0.05", sim.Risk.Drawdown.MaxDailyPct.String())

	assert.Equal(t, "AAPL", loaded.Paper.Symbol)
	assert.Equal(t, "5", loaded.Paper.OrderQty.String())
	assert.Equal(t, "/tmp/cp", loaded.Checkpoint.Dir)
	assert.Equal(t, 100, loaded.Checkpoint.Every)
}

func TestLoadCustomLatency(t *testing.T) {
	path := writeConfig(t, `
simulator:
  latency: custom
  custom_latency:
    submission: 15ms
    fill_min: 20ms
    fill_max: 80ms
    cancellation: 1s
`)
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, latency.Config{
		Submission:   15 * time.Millisecond,
		FillMin:      20 * time.Millisecond,
		FillMax:      80 * time.Millisecond,
		Cancellation: time.Second,
	}, loaded.Simulator.Latency)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PAPERSIM_SIMULATOR_INITIAL_CASH", "42")
	t.Setenv("PAPERSIM_CHECKPOINT_BACKEND", "postgres")
	t.Setenv("PAPERSIM_POSTGRES_DSN", "postgres://u@h/db")

	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "42", loaded.Simulator.InitialCash.String())
	assert.Equal(t, BackendPostgres, loaded.Checkpoint.Backend)
	assert.Equal(t, "postgres://u@h/db", loaded.Postgres.DSN)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		desc string
		body string
	}{
		{"bad cash", "simulator:\n  initial_cash: abc\n"},
		{"zero cash", "simulator:\n  initial_cash: 0\n"},
		{"unknown latency", "simulator:\n  latency: warp\n"},
		{"bad custom latency", "simulator:\n  latency: custom\n  custom_latency:\n    fill_min: 2s\n    fill_max: 1s\n"},
		{"negative limit", "risk:\n  enabled: true\n  max_shares: -1\n"},
		{"bad backend", "checkpoint:\n  backend: s3\n"},
		{"zero qty", "paper:\n  order_qty: 0\n"},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.ErrorIs(t, err, exception.ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, exception.ErrInvalidConfig)
}
