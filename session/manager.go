package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/randalmurphal/gptkit/apierr"
	"github.com/randalmurphal/gptkit/bearer"
	"github.com/randalmurphal/gptkit/conversation"
	"github.com/randalmurphal/gptkit/snapshot"
)

// ErrNoSessionSecret indicates a manager was created without a secret.
var ErrNoSessionSecret = errors.New("session secret is required")

// State is the credential lifecycle state.
type State int

// Lifecycle states.
const (
	StateUninitialized State = iota
	StateAcquiring
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAcquiring:
		return "acquiring"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Manager owns the session secret and the access token derived from it.
// Safe for concurrent use.
type Manager struct {
	cfg       managerConfig
	refresher Refresher

	mu      sync.RWMutex
	origin  string // secret the manager was created with, for fingerprints
	secret  string
	token    bearer.Token
	acquired time.Time // when token was installed
	expires  string
	state    State

	group   singleflight.Group
	ticking atomic.Bool
	events  broadcaster

	ready     chan struct{}
	readyOnce sync.Once

	saveMu   sync.Mutex
	lastSave time.Time

	runMu   sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewManager creates a manager for secret. It does not contact the backend.
func NewManager(secret string, refresher Refresher, opts ...Option) (*Manager, error) {
	if secret == "" {
		return nil, ErrNoSessionSecret
	}
	if refresher == nil {
		return nil, errors.New("session: refresher is required")
	}

	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Manager{
		cfg:       cfg,
		refresher: refresher,
		origin:    secret,
		secret:    secret,
		ready:     make(chan struct{}),
		lastSave:  cfg.clock.Now(),
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether a valid token is held.
func (m *Manager) Ready() bool {
	_, ok := m.current(0)
	return ok
}

// WaitReady blocks until the first token is acquired or ctx ends.
func (m *Manager) WaitReady(ctx context.Context) error {
	select {
	case <-m.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Secret returns the current session secret.
func (m *Manager) Secret() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secret
}

// Subscribe returns a channel of manager events and a function that
// unsubscribes and closes it. Slow subscribers miss events rather than
// blocking the manager.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// current returns the token when it is valid and not expiring within margin.
// The margin is capped at half the token's lifetime so a token issued for
// less than the margin is not refreshed on every tick.
func (m *Manager) current(margin time.Duration) (string, bool) {
	now := m.cfg.clock.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.token.ValidAt(now) {
		return "", false
	}
	if margin > 0 && m.token.ExpiringWithin(now, effectiveMargin(margin, m.token.ExpiresAt.Sub(m.acquired))) {
		return "", false
	}
	return m.token.Raw, true
}

func effectiveMargin(margin, lifetime time.Duration) time.Duration {
	if half := lifetime / 2; half < margin {
		return half
	}
	return margin
}

// EnsureCredential returns a valid access token, refreshing it first if
// needed. Overlapping calls share one refresh. A failed refresh leaves the
// previous state in place and returns an *apierr.Error.
func (m *Manager) EnsureCredential(ctx context.Context) (string, error) {
	if tok, ok := m.current(0); ok {
		return tok, nil
	}
	return m.refresh(ctx, 0)
}

func (m *Manager) refresh(ctx context.Context, margin time.Duration) (string, error) {
	// The shared refresh outlives any single caller's cancellation; the
	// HTTP client timeout bounds it.
	shared := context.WithoutCancel(ctx)
	ch := m.group.DoChan("refresh", func() (any, error) {
		return m.doRefresh(shared, margin)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *Manager) doRefresh(ctx context.Context, margin time.Duration) (string, error) {
	// Another flight may have finished between the caller's check and ours.
	if tok, ok := m.current(margin); ok {
		return tok, nil
	}

	m.mu.Lock()
	secret := m.secret
	prev := m.state
	m.state = StateAcquiring
	m.mu.Unlock()

	cred, err := m.refresher.Refresh(ctx, secret)
	if err == nil && cred == nil {
		err = errors.New("refresher returned no credential")
	}
	if err == nil {
		var tok bearer.Token
		tok, err = tokenFromCredential(cred)
		if err == nil {
			return m.adopt(secret, cred, tok), nil
		}
	}

	m.mu.Lock()
	if m.state == StateAcquiring {
		m.state = prev
	}
	m.mu.Unlock()

	err = apierr.Wrap("refresh", err)
	m.cfg.logger.Warn("session refresh failed",
		slog.String("name", m.cfg.name),
		slog.String("kind", apierr.KindOf(err).String()),
		slog.Any("error", err))
	m.events.publish(Event{Type: EventError, Kind: apierr.KindOf(err), Err: err})
	return "", err
}

// adopt installs a refreshed credential. The rotated secret is dropped if
// the secret was replaced out of band while the refresh was in flight.
func (m *Manager) adopt(usedSecret string, cred *Credential, tok bearer.Token) string {
	m.mu.Lock()
	rotated := false
	if cred.SessionSecret != "" && m.secret == usedSecret {
		rotated = cred.SessionSecret != m.secret
		m.secret = cred.SessionSecret
	}
	m.token = tok
	m.acquired = m.cfg.clock.Now()
	m.expires = cred.Expires
	m.state = StateReady
	m.mu.Unlock()

	m.cfg.logger.Debug("session refreshed",
		slog.String("name", m.cfg.name),
		slog.Time("expires_at", tok.ExpiresAt),
		slog.Bool("secret_rotated", rotated))

	m.events.publish(Event{Type: EventRefreshed})
	m.markReady()
	return tok.Raw
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() {
		m.events.publish(Event{Type: EventReady})
		close(m.ready)
	})
}

// tokenFromCredential decodes the access token's expiry, falling back to
// the RFC 3339 expiry reported alongside it.
func tokenFromCredential(cred *Credential) (bearer.Token, error) {
	tok, err := bearer.Parse(cred.AccessToken)
	if err == nil {
		return tok, nil
	}
	if cred.Expires != "" {
		if at, perr := time.Parse(time.RFC3339, cred.Expires); perr == nil {
			return bearer.Token{Raw: cred.AccessToken, ExpiresAt: at}, nil
		}
	}
	return bearer.Token{}, fmt.Errorf("decode access token: %w", err)
}

// Tick runs one scheduler step: refresh when the token is absent or inside
// the refresh margin, then save if the save interval has elapsed. A tick
// that starts while another is running returns immediately.
func (m *Manager) Tick(ctx context.Context) {
	if !m.ticking.CompareAndSwap(false, true) {
		return
	}
	defer m.ticking.Store(false)

	if _, ok := m.current(m.cfg.refreshMargin); !ok {
		// Failures are already logged and published by doRefresh.
		_, _ = m.refresh(ctx, m.cfg.refreshMargin)
	}

	if m.cfg.store != nil && m.cfg.saveInterval > 0 {
		m.saveMu.Lock()
		due := !m.cfg.clock.Now().Before(m.lastSave.Add(m.cfg.saveInterval))
		m.saveMu.Unlock()
		if due {
			if err := m.Save(); err != nil {
				m.cfg.logger.Warn("session save failed",
					slog.String("name", m.cfg.name),
					slog.Any("error", err))
			}
		}
	}
}

// Start runs Tick every refresh interval until Stop or Close is called or
// ctx ends. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.stop != nil || m.cfg.refreshInterval <= 0 {
		return
	}
	m.stop = make(chan struct{})
	m.stopped = make(chan struct{})

	ticker := m.cfg.clock.NewTicker(m.cfg.refreshInterval)
	go func(stop <-chan struct{}, stopped chan<- struct{}) {
		defer close(stopped)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}(m.stop, m.stopped)
}

// Stop halts the loop started by Start and waits for it to exit.
func (m *Manager) Stop() {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.stopped
	m.stop, m.stopped = nil, nil
}

// Close stops the loop, writes a final snapshot and closes every
// subscription.
func (m *Manager) Close() error {
	m.Stop()
	var err error
	if m.cfg.store != nil {
		err = m.Save()
	}
	m.events.closeAll()
	return err
}

// Save writes the current secret, token and attached conversation table to
// the store. Without a store it does nothing.
func (m *Manager) Save() error {
	if m.cfg.store == nil {
		return nil
	}

	now := m.cfg.clock.Now()
	m.mu.RLock()
	snap := &snapshot.Snapshot{
		Version:       snapshot.Version,
		Name:          m.cfg.name,
		SessionSecret: m.secret,
		AccessToken:   m.token.Raw,
		Expires:       m.expires,
		Fingerprint:   snapshot.Fingerprint(m.origin),
		SavedAt:       now,
	}
	m.mu.RUnlock()

	snap.Conversations = []snapshot.Conversation{}
	if m.cfg.table != nil {
		for _, st := range m.cfg.table.List() {
			snap.Conversations = append(snap.Conversations, snapshot.Conversation{
				ID:             st.ThreadID,
				ConversationID: st.ConversationID,
				ParentID:       st.ParentID,
				LastActive:     st.LastActive,
			})
		}
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if err := m.cfg.store.Save(snap); err != nil {
		m.events.publish(Event{Type: EventError, Kind: apierr.Unknown, Err: err})
		return fmt.Errorf("save session snapshot: %w", err)
	}
	m.lastSave = now
	m.cfg.logger.Debug("session saved",
		slog.String("name", m.cfg.name),
		slog.Int("conversations", len(snap.Conversations)))
	return nil
}

// Load restores state from the store. A missing snapshot is not an error.
// Conversations are always restored; the stored secret and token are only
// adopted when the snapshot's fingerprint matches the secret the manager
// was created with.
func (m *Manager) Load() error {
	if m.cfg.store == nil {
		return nil
	}

	snap, err := m.cfg.store.Load()
	if errors.Is(err, snapshot.ErrNotFound) {
		m.cfg.logger.Debug("no session snapshot", slog.String("name", m.cfg.name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session snapshot: %w", err)
	}

	if m.cfg.table != nil {
		states := make([]conversation.State, 0, len(snap.Conversations))
		for _, c := range snap.Conversations {
			states = append(states, conversation.State{
				ThreadID:       c.ID,
				ConversationID: c.ConversationID,
				ParentID:       c.ParentID,
				LastActive:     c.LastActive,
			})
		}
		m.cfg.table.Restore(states)
	}

	m.mu.Lock()
	origin := m.origin
	m.mu.Unlock()

	if !snap.Matches(origin) {
		m.cfg.logger.Info("session snapshot belongs to a different secret, discarding credentials",
			slog.String("name", m.cfg.name))
		return nil
	}

	var tok bearer.Token
	if snap.AccessToken != "" {
		tok, err = tokenFromCredential(&Credential{AccessToken: snap.AccessToken, Expires: snap.Expires})
		if err != nil {
			m.cfg.logger.Debug("stored access token unreadable, will refresh",
				slog.String("name", m.cfg.name),
				slog.Any("error", err))
			tok = bearer.Token{}
		}
	}

	m.mu.Lock()
	if snap.SessionSecret != "" {
		m.secret = snap.SessionSecret
	}
	m.token = tok
	m.acquired = m.cfg.clock.Now()
	m.expires = snap.Expires
	valid := tok.ValidAt(m.acquired)
	if valid {
		m.state = StateReady
	}
	m.mu.Unlock()

	m.cfg.logger.Debug("session restored",
		slog.String("name", m.cfg.name),
		slog.Bool("token_valid", valid),
		slog.Int("conversations", len(snap.Conversations)))

	if valid {
		m.markReady()
	}
	return nil
}

// SetSecret replaces the session secret out of band. The current token is
// dropped and the next EnsureCredential or tick refreshes with the new
// secret. Empty secrets are ignored.
func (m *Manager) SetSecret(secret string) {
	if secret == "" {
		return
	}

	m.mu.Lock()
	if secret == m.secret {
		m.mu.Unlock()
		return
	}
	m.origin = secret
	m.secret = secret
	m.token = bearer.Token{}
	m.acquired = time.Time{}
	m.expires = ""
	m.state = StateUninitialized
	m.mu.Unlock()

	m.cfg.logger.Info("session secret replaced", slog.String("name", m.cfg.name))
	m.events.publish(Event{Type: EventSecretRotated})
}
