package conversation

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/gptkit/clock"
)

// Defaults for a Table.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Option configures a Table.
type Option func(*tableConfig)

// tableConfig holds table configuration.
type tableConfig struct {
	idleTimeout   time.Duration
	sweepInterval time.Duration
	clock         clock.Clock
	newID         func() string
	logger        *slog.Logger
}

func defaultTableConfig() tableConfig {
	return tableConfig{
		idleTimeout:   DefaultIdleTimeout,
		sweepInterval: DefaultSweepInterval,
		clock:         clock.Real(),
		newID:         uuid.NewString,
		logger:        slog.Default(),
	}
}

// WithIdleTimeout sets how long a thread may stay untouched before a sweep
// removes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *tableConfig) { c.idleTimeout = d }
}

// WithSweepInterval sets how often Start sweeps idle threads.
func WithSweepInterval(d time.Duration) Option {
	return func(c *tableConfig) { c.sweepInterval = d }
}

// WithClock sets the time source. Tests pass a clock.FakeClock.
func WithClock(c clock.Clock) Option {
	return func(cfg *tableConfig) { cfg.clock = c }
}

// WithIDGenerator overrides parent message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *tableConfig) { c.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *tableConfig) { c.logger = l }
}
