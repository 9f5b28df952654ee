package session

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/gptkit/clock"
	"github.com/randalmurphal/gptkit/conversation"
	"github.com/randalmurphal/gptkit/snapshot"
)

// Option configures a Manager.
type Option func(*managerConfig)

// managerConfig holds manager configuration.
type managerConfig struct {
	name            string
	refreshInterval time.Duration
	refreshMargin   time.Duration
	saveInterval    time.Duration
	store           snapshot.Store
	table           *conversation.Table
	clock           clock.Clock
	logger          *slog.Logger
}

// defaultManagerConfig returns the default manager configuration.
func defaultManagerConfig() managerConfig {
	return managerConfig{
		name:            "default",
		refreshInterval: 500 * time.Millisecond,
		refreshMargin:   2 * time.Minute,
		saveInterval:    time.Minute,
		clock:           clock.Real(),
		logger:          slog.Default(),
	}
}

// WithName sets the instance name recorded in snapshots.
func WithName(name string) Option {
	return func(c *managerConfig) { c.name = name }
}

// WithRefreshInterval sets how often Start re-checks the token.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *managerConfig) { c.refreshInterval = d }
}

// WithRefreshMargin sets how long before expiry a tick refreshes.
func WithRefreshMargin(d time.Duration) Option {
	return func(c *managerConfig) { c.refreshMargin = d }
}

// WithSaveInterval sets how often a tick persists a snapshot.
// Zero saves only on Close.
func WithSaveInterval(d time.Duration) Option {
	return func(c *managerConfig) { c.saveInterval = d }
}

// WithStore enables persistence.
func WithStore(store snapshot.Store) Option {
	return func(c *managerConfig) { c.store = store }
}

// WithTable attaches the conversation table saved alongside the session.
func WithTable(table *conversation.Table) Option {
	return func(c *managerConfig) { c.table = table }
}

// WithClock sets the time source.
func WithClock(clk clock.Clock) Option {
	return func(c *managerConfig) { c.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *managerConfig) { c.logger = l }
}
