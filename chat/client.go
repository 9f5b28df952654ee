package chat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/gptkit/apierr"
	"github.com/randalmurphal/gptkit/clock"
	"github.com/randalmurphal/gptkit/config"
	"github.com/randalmurphal/gptkit/conversation"
	"github.com/randalmurphal/gptkit/session"
	"github.com/randalmurphal/gptkit/snapshot"
	"github.com/randalmurphal/gptkit/stream"
)

// Client exchanges messages with the backend. Safe for concurrent use.
type Client struct {
	cfg        config.Config
	baseURL    string
	httpClient *http.Client
	session    *session.Manager
	table      *conversation.Table
	decoder    *stream.Decoder
	logger     *slog.Logger
	onError    func(apierr.Kind, error)
	newID      func() string
}

// New creates a client for cfg authenticated by secret. An empty secret
// returns session.ErrNoSessionSecret. If cfg names a configs directory, a
// prior snapshot is loaded before New returns.
func New(cfg config.Config, secret string, opts ...Option) (*Client, error) {
	if secret == "" {
		return nil, session.ErrNoSessionSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := clientOptions{
		clock:  clock.Real(),
		logger: slog.Default(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.RequestTimeout.Std()}
	}
	if o.refresher == nil {
		o.refresher = session.NewHTTPRefresher(cfg.BaseURL, o.httpClient)
	}
	if o.store == nil && cfg.ConfigsDir != "" {
		var storeOpts []snapshot.StoreOption
		if cfg.SnapshotPassphrase != "" {
			storeOpts = append(storeOpts, snapshot.WithPassphrase(cfg.SnapshotPassphrase))
		}
		o.store = snapshot.NewFileStore(cfg.ConfigsDir, cfg.Name, storeOpts...)
	}

	logger := o.logger.With(slog.String("instance", cfg.Name))

	table := conversation.NewTable(
		conversation.WithIdleTimeout(cfg.IdleTimeout.Std()),
		conversation.WithSweepInterval(cfg.SweepInterval.Std()),
		conversation.WithClock(o.clock),
		conversation.WithLogger(logger),
	)

	sessOpts := []session.Option{
		session.WithName(cfg.Name),
		session.WithRefreshInterval(cfg.RefreshInterval.Std()),
		session.WithRefreshMargin(cfg.RefreshMargin.Std()),
		session.WithSaveInterval(cfg.SaveInterval.Std()),
		session.WithTable(table),
		session.WithClock(o.clock),
		session.WithLogger(logger),
	}
	if o.store != nil {
		sessOpts = append(sessOpts, session.WithStore(o.store))
	}
	mgr, err := session.NewManager(secret, o.refresher, sessOpts...)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(); err != nil {
		// A broken snapshot costs one refresh, not the client.
		logger.Warn("ignoring session snapshot", slog.Any("error", err))
	}

	strictness := stream.Lenient
	if cfg.StrictStream {
		strictness = stream.Strict
	}

	c := &Client{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: o.httpClient,
		session:    mgr,
		table:      table,
		decoder:    stream.NewDecoder(stream.WithStrictness(strictness), stream.WithLogger(logger)),
		logger:     logger,
		onError:    o.onError,
		newID:      o.newID,
	}
	return c, nil
}

// Start begins background token refresh, idle thread eviction and, when
// configured, watching the secret file.
func (c *Client) Start(ctx context.Context) error {
	if c.cfg.SecretFile != "" {
		if err := c.session.WatchSecretFile(ctx, c.cfg.SecretFile); err != nil {
			return err
		}
	}
	c.session.Start(ctx)
	c.table.Start(ctx)
	return nil
}

// Close stops background work and writes a final snapshot.
func (c *Client) Close() error {
	c.table.Stop()
	return c.session.Close()
}

// Ready reports whether a valid access token is held.
func (c *Client) Ready() bool {
	return c.session.Ready()
}

// WaitReady blocks until the first access token is acquired or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	return c.session.WaitReady(ctx)
}

// Events subscribes to session events. Call the returned function to
// unsubscribe.
func (c *Client) Events() (<-chan session.Event, func()) {
	return c.session.Subscribe()
}

// Reset makes the next exchange on threadID start a new backend
// conversation. Unknown threads are ignored.
func (c *Client) Reset(threadID string) {
	c.table.Reset(threadID)
}

// Thread returns the tracked state of threadID.
func (c *Client) Thread(threadID string) (conversation.State, bool) {
	return c.table.Get(threadID)
}

// Threads returns all tracked threads sorted by id.
func (c *Client) Threads() []conversation.State {
	return c.table.List()
}

// Session returns the underlying session manager.
func (c *Client) Session() *session.Manager {
	return c.session
}
