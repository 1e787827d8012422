package latency

import (
	"math/rand"
	"time"

	"github.com/yanun0323/errors"

	"papersim/pkg/exception"
)

const (
	NameInstant = "instant"
	NameFast    = "fast"
	NameNormal  = "normal"
	NameSlow    = "slow"
	NameCustom  = "custom"
)

// Config is the simulated venue latency profile.
type Config struct {
	Submission   time.Duration `json:"submission"`
	FillMin      time.Duration `json:"fill_min"`
	FillMax      time.Duration `json:"fill_max"`
	Cancellation time.Duration `json:"cancellation"`
}

var presets = map[string]Config{
	NameInstant: {},
	NameFast: {
		Submission:   5 * time.Millisecond,
		FillMin:      10 * time.Millisecond,
		FillMax:      50 * time.Millisecond,
		Cancellation: 5 * time.Millisecond,
	},
	NameNormal: {
		Submission:   50 * time.Millisecond,
		FillMin:      100 * time.Millisecond,
		FillMax:      200 * time.Millisecond,
		Cancellation: 50 * time.Millisecond,
	},
	NameSlow: {
		Submission:   200 * time.Millisecond,
		FillMin:      500 * time.Millisecond,
		FillMax:      1000 * time.Millisecond,
		Cancellation: 200 * time.Millisecond,
	},
}

// Instant has no latency at all; suited to bar-based backtests.
func Instant() Config { return presets[NameInstant] }

// Fast approximates a co-located venue.
func Fast() Config { return presets[NameFast] }

// Normal approximates a retail connection.
func Normal() Config { return presets[NameNormal] }

// Slow approximates a congested network path.
func Slow() Config { return presets[NameSlow] }

// Preset resolves a preset by name.
func Preset(name string) (Config, bool) {
	cfg, ok := presets[name]
	return cfg, ok
}

// Name returns the preset name matching the config, or NameCustom.
func (c Config) Name() string {
	for _, name := range []string{NameInstant, NameFast, NameNormal, NameSlow} {
		if presets[name] == c {
			return name
		}
	}
	return NameCustom
}

// Validate ensures durations are non-negative and the fill range is ordered.
func (c Config) Validate() error {
	if c.Submission < 0 || c.FillMin < 0 || c.FillMax < 0 || c.Cancellation < 0 {
		return errors.Wrap(exception.ErrInvalidConfig, "latency must be >= 0")
	}
	if c.FillMin > c.FillMax {
		return errors.Wrapf(exception.ErrInvalidConfig, "fill latency min %s > max %s", c.FillMin, c.FillMax)
	}
	return nil
}

// Sampler draws fill latencies from a seeded source. It counts draws so the
// generator can be fast-forwarded to the same position after a restore.
type Sampler struct {
	cfg   Config
	seed  int64
	draws uint64
	rng   *rand.Rand
}

// NewSampler creates a sampler positioned after the given number of draws.
func NewSampler(cfg Config, seed int64, draws uint64) *Sampler {
	s := &Sampler{
		cfg:  cfg,
		seed: seed,
		rng:  rand.New(rand.NewSource(seed)),
	}
	if span := s.span(); span > 0 {
		for i := uint64(0); i < draws; i++ {
			s.rng.Int63n(span + 1)
		}
	}
	s.draws = draws
	return s
}

// FillLatency returns a duration uniformly drawn from [FillMin, FillMax].
func (s *Sampler) FillLatency() time.Duration {
	span := s.span()
	if span <= 0 {
		return s.cfg.FillMin
	}
	s.draws++
	return s.cfg.FillMin + time.Duration(s.rng.Int63n(span+1))
}

func (s *Sampler) span() int64 {
	return int64(s.cfg.FillMax - s.cfg.FillMin)
}

// Seed returns the seed the sampler was created with.
func (s *Sampler) Seed() int64 {
	return s.seed
}

// Draws returns how many random values have been consumed.
func (s *Sampler) Draws() uint64 {
	return s.draws
}

// Config returns the latency profile.
func (s *Sampler) Config() Config {
	return s.cfg
}
