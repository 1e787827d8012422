package ops

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"papersim/internal/latency"
	"papersim/internal/risk"
	"papersim/internal/simulator"
	"papersim/pkg/conn"
	"papersim/pkg/exception"
)

const envPrefix = "PAPERSIM"

// Checkpoint backends.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// FileConfig mirrors the config file layout. Amounts are strings so they
// never pass through a float.
type FileConfig struct {
	Simulator  SimulatorConfig  `mapstructure:"simulator"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Paper      PaperConfig      `mapstructure:"paper"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type SimulatorConfig struct {
	ID                 string        `mapstructure:"id"`
	InitialCash        string        `mapstructure:"initial_cash"`
	CommissionPerShare string        `mapstructure:"commission_per_share"`
	SlippageBps        string        `mapstructure:"slippage_bps"`
	Latency            string        `mapstructure:"latency"`
	CustomLatency      LatencyConfig `mapstructure:"custom_latency"`
	Seed               int64         `mapstructure:"seed"`
	ResetDailyOnNewDay bool          `mapstructure:"reset_daily_on_new_day"`
}

// LatencyConfig is used when latency is "custom".
type LatencyConfig struct {
	Submission   time.Duration `mapstructure:"submission"`
	FillMin      time.Duration `mapstructure:"fill_min"`
	FillMax      time.Duration `mapstructure:"fill_max"`
	Cancellation time.Duration `mapstructure:"cancellation"`
}

// RiskConfig lists optional limits; an empty value leaves the limit off.
// Percentages are fractions.
type RiskConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	KillSwitch  bool   `mapstructure:"kill_switch"`
	MaxShares   string `mapstructure:"max_shares"`
	MaxValue    string `mapstructure:"max_value"`
	MaxGrossPct string `mapstructure:"max_gross_pct"`
	MaxNetPct   string `mapstructure:"max_net_pct"`
	MaxDailyPct string `mapstructure:"max_daily_pct"`
	MaxTotalPct string `mapstructure:"max_total_pct"`
}

// PaperConfig drives the replay tool's order placement.
type PaperConfig struct {
	Symbol     string `mapstructure:"symbol"`
	OrderEvery int    `mapstructure:"order_every"`
	OrderQty   string `mapstructure:"order_qty"`
	LimitBps   string `mapstructure:"limit_bps"`
	Alternate  bool   `mapstructure:"alternate"`
}

type CheckpointConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Every   int    `mapstructure:"every"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Simulator   simulator.Config
	Paper       PaperSpec
	Checkpoint  CheckpointConfig
	Postgres    conn.Option
	MetricsAddr string
}

// PaperSpec is the resolved order placement plan.
type PaperSpec struct {
	Symbol     string
	OrderEvery int
	OrderQty   decimal.Decimal
	// LimitBps > 0 places limit orders this far through the last price.
	LimitBps  decimal.Decimal
	Alternate bool
}

// Load reads a YAML or JSON config file. Every key can be overridden by an
// environment variable, e.g. PAPERSIM_SIMULATOR_INITIAL_CASH. An empty path
// uses defaults and the environment only.
func Load(path string) (Loaded, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Loaded{}, errors.Wrapf(exception.ErrInvalidConfig, "read config %s: %v", path, err)
		}
	}

	var cfg FileConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return Loaded{}, errors.Wrapf(exception.ErrInvalidConfig, "unmarshal config: %v", err)
	}
	return Resolve(cfg)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("simulator.id", "")
	v.SetDefault("simulator.initial_cash", "100000")
	v.SetDefault("simulator.commission_per_share", "0")
	v.SetDefault("simulator.slippage_bps", "0")
	v.SetDefault("simulator.latency", latency.NameInstant)
	v.SetDefault("simulator.custom_latency.submission", "0s")
	v.SetDefault("simulator.custom_latency.fill_min", "0s")
	v.SetDefault("simulator.custom_latency.fill_max", "0s")
	v.SetDefault("simulator.custom_latency.cancellation", "0s")
	v.SetDefault("simulator.seed", 0)
	v.SetDefault("simulator.reset_daily_on_new_day", false)

	v.SetDefault("risk.enabled", false)
	v.SetDefault("risk.kill_switch", false)
	for _, key := range []string{"max_shares", "max_value", "max_gross_pct", "max_net_pct", "max_daily_pct", "max_total_pct"} {
		v.SetDefault("risk."+key, "")
	}

	v.SetDefault("paper.symbol", "")
	v.SetDefault("paper.order_every", 20)
	v.SetDefault("paper.order_qty", "1")
	v.SetDefault("paper.limit_bps", "0")
	v.SetDefault("paper.alternate", true)

	v.SetDefault("checkpoint.backend", BackendFile)
	v.SetDefault("checkpoint.dir", "checkpoints")
	v.SetDefault("checkpoint.every", 500)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.database", "papersim")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("metrics.addr", "")
}

// Resolve validates a decoded file config and builds runtime values.
func Resolve(cfg FileConfig) (Loaded, error) {
	sim, err := resolveSimulator(cfg.Simulator)
	if err != nil {
		return Loaded{}, err
	}
	if sim.Risk, err = resolveRisk(cfg.Risk); err != nil {
		return Loaded{}, err
	}
	if err := sim.Validate(); err != nil {
		return Loaded{}, err
	}

	paper, err := resolvePaper(cfg.Paper)
	if err != nil {
		return Loaded{}, err
	}

	switch cfg.Checkpoint.Backend {
	case BackendFile, BackendPostgres:
	default:
		return Loaded{}, errors.Wrapf(exception.ErrInvalidConfig, "unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
	if cfg.Checkpoint.Every < 0 {
		return Loaded{}, errors.Wrap(exception.ErrInvalidConfig, "checkpoint.every must be >= 0")
	}

	return Loaded{
		Simulator:  sim,
		Paper:      paper,
		Checkpoint: cfg.Checkpoint,
		Postgres: conn.Option{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		},
		MetricsAddr: cfg.Metrics.Addr,
	}, nil
}

func resolveSimulator(cfg SimulatorConfig) (simulator.Config, error) {
	cash, err := parseDecimal("simulator.initial_cash", cfg.InitialCash)
	if err != nil {
		return simulator.Config{}, err
	}
	commission, err := parseDecimal("simulator.commission_per_share", cfg.CommissionPerShare)
	if err != nil {
		return simulator.Config{}, err
	}
	slippage, err := parseDecimal("simulator.slippage_bps", cfg.SlippageBps)
	if err != nil {
		return simulator.Config{}, err
	}

	name := strings.ToLower(strings.TrimSpace(cfg.Latency))
	lat, ok := latency.Preset(name)
	if !ok {
		if name != latency.NameCustom {
			return simulator.Config{}, errors.Wrapf(exception.ErrInvalidConfig, "unknown latency %q", cfg.Latency)
		}
		lat = latency.Config{
			Submission:   cfg.CustomLatency.Submission,
			FillMin:      cfg.CustomLatency.FillMin,
			FillMax:      cfg.CustomLatency.FillMax,
			Cancellation: cfg.CustomLatency.Cancellation,
		}
	}

	return simulator.Config{
		ID:                 cfg.ID,
		InitialCash:        cash,
		CommissionPerShare: commission,
		SlippageBps:        slippage,
		Latency:            lat,
		Seed:               cfg.Seed,
		ResetDailyOnNewDay: cfg.ResetDailyOnNewDay,
	}, nil
}

func resolveRisk(cfg RiskConfig) (*risk.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	out := &risk.Config{KillSwitch: cfg.KillSwitch}

	shares, err := parseLimit("risk.max_shares", cfg.MaxShares)
	if err != nil {
		return nil, err
	}
	value, err := parseLimit("risk.max_value", cfg.MaxValue)
	if err != nil {
		return nil, err
	}
	if shares != nil || value != nil {
		out.Position = &risk.PositionLimit{MaxShares: shares, MaxValue: value}
	}

	gross, err := parseLimit("risk.max_gross_pct", cfg.MaxGrossPct)
	if err != nil {
		return nil, err
	}
	net, err := parseLimit("risk.max_net_pct", cfg.MaxNetPct)
	if err != nil {
		return nil, err
	}
	if gross != nil || net != nil {
		out.Exposure = &risk.ExposureLimit{MaxGrossPct: gross, MaxNetPct: net}
	}

	daily, err := parseLimit("risk.max_daily_pct", cfg.MaxDailyPct)
	if err != nil {
		return nil, err
	}
	total, err := parseLimit("risk.max_total_pct", cfg.MaxTotalPct)
	if err != nil {
		return nil, err
	}
	if daily != nil || total != nil {
		out.Drawdown = &risk.DrawdownLimit{MaxDailyPct: daily, MaxTotalPct: total}
	}
	return out, nil
}

func resolvePaper(cfg PaperConfig) (PaperSpec, error) {
	if cfg.OrderEvery < 0 {
		return PaperSpec{}, errors.Wrap(exception.ErrInvalidConfig, "paper.order_every must be >= 0")
	}
	qty, err := parseDecimal("paper.order_qty", cfg.OrderQty)
	if err != nil {
		return PaperSpec{}, err
	}
	if !qty.IsPositive() {
		return PaperSpec{}, errors.Wrap(exception.ErrInvalidConfig, "paper.order_qty must be > 0")
	}
	bps, err := parseDecimal("paper.limit_bps", cfg.LimitBps)
	if err != nil {
		return PaperSpec{}, err
	}
	return PaperSpec{
		Symbol:     strings.TrimSpace(cfg.Symbol),
		OrderEvery: cfg.OrderEvery,
		OrderQty:   qty,
		LimitBps:   bps,
		Alternate:  cfg.Alternate,
	}, nil
}

func parseDecimal(key, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, errors.Wrapf(exception.ErrInvalidConfig, "%s: %v", key, err)
	}
	return d, nil
}

func parseLimit(key, s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := parseDecimal(key, s)
	if err != nil {
		return nil, err
	}
	if d.IsNegative() {
		return nil, errors.Wrapf(exception.ErrInvalidConfig, "%s must be >= 0", key)
	}
	return &d, nil
}
