package chat

import (
	"log/slog"
	"net/http"

	"github.com/randalmurphal/gptkit/apierr"
	"github.com/randalmurphal/gptkit/clock"
	"github.com/randalmurphal/gptkit/session"
	"github.com/randalmurphal/gptkit/snapshot"
	"github.com/randalmurphal/gptkit/stream"
)

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	refresher  session.Refresher
	store      snapshot.Store
	clock      clock.Clock
	logger     *slog.Logger
	onError    func(apierr.Kind, error)
	newID      func() string
}

// WithHTTPClient sets the HTTP client used for refresh and exchange calls.
// The default has the configured request timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithRefresher replaces the backend session endpoint client.
func WithRefresher(r session.Refresher) Option {
	return func(o *clientOptions) { o.refresher = r }
}

// WithStore replaces the snapshot store derived from the configuration.
func WithStore(s snapshot.Store) Option {
	return func(o *clientOptions) { o.store = s }
}

// WithClock sets the time source for the session and conversation
// schedulers.
func WithClock(c clock.Clock) Option {
	return func(o *clientOptions) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

// WithErrorHandler registers a callback invoked for every failed exchange,
// before Exchange returns.
func WithErrorHandler(fn func(kind apierr.Kind, err error)) Option {
	return func(o *clientOptions) { o.onError = fn }
}

// WithIDGenerator sets the generator for outgoing message ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *clientOptions) { o.newID = fn }
}

// ExchangeOption configures a single Exchange call.
type ExchangeOption func(*exchangeOptions)

type exchangeOptions struct {
	thread  string
	parent  string
	onDelta stream.DeltaFunc
}

// DefaultThread is the thread used when WithThread is not given.
const DefaultThread = "default"

// WithThread selects the conversation thread.
func WithThread(id string) ExchangeOption {
	return func(o *exchangeOptions) { o.thread = id }
}

// WithParent replies to a specific message instead of the thread's last
// one. It must be a UUID.
func WithParent(messageID string) ExchangeOption {
	return func(o *exchangeOptions) { o.parent = messageID }
}

// WithDelta streams answer fragments to fn as they arrive.
func WithDelta(fn func(delta string)) ExchangeOption {
	return func(o *exchangeOptions) { o.onDelta = fn }
}
