package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/gptkit/clock"
)

// ErrInvalidParent indicates an explicit parent message id is not a UUID.
var ErrInvalidParent = errors.New("invalid parent message id")

// State is the tracked state of one thread.
type State struct {
	// ThreadID is the caller-chosen key.
	ThreadID string `json:"id"`

	// ConversationID is the backend conversation id, empty until the
	// backend assigns one.
	ConversationID string `json:"conversation_id,omitempty"`

	// ParentID is the message the next prompt replies to.
	ParentID string `json:"parent_id"`

	// LastActive is when the thread was last resolved or advanced.
	LastActive time.Time `json:"last_active"`
}

// Table maps thread ids to their State.
type Table struct {
	cfg     tableConfig
	entries map[string]*State
	mu      sync.RWMutex

	runMu   sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

// NewTable creates an empty table.
func NewTable(opts ...Option) *Table {
	cfg := defaultTableConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Table{
		cfg:     cfg,
		entries: make(map[string]*State),
	}
}

// IsConversationID reports whether id has the backend's conversation id
// format (a canonical UUID).
func IsConversationID(id string) bool {
	return isCanonicalUUID(id)
}

func isCanonicalUUID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// Resolve returns the state for threadID, creating it on first use.
//
// On creation the parent pointer is parentID when given, otherwise a fresh
// id. A threadID that is itself a backend conversation id is adopted as
// the ConversationID. For an existing thread parentID is ignored and only
// LastActive is refreshed.
func (t *Table) Resolve(threadID, parentID string) (State, error) {
	if parentID != "" && !isCanonicalUUID(parentID) {
		return State{}, fmt.Errorf("%w: %q", ErrInvalidParent, parentID)
	}

	now := t.cfg.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.entries[threadID]; ok {
		st.LastActive = now
		return *st, nil
	}

	st := &State{
		ThreadID:   threadID,
		ParentID:   parentID,
		LastActive: now,
	}
	if st.ParentID == "" {
		st.ParentID = t.cfg.newID()
	}
	if IsConversationID(threadID) {
		st.ConversationID = threadID
	}
	t.entries[threadID] = st

	t.cfg.logger.Debug("conversation created",
		slog.String("thread", threadID),
		slog.Bool("adopted", st.ConversationID != ""))

	return *st, nil
}

// Get returns the state for threadID without touching it.
func (t *Table) Get(threadID string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.entries[threadID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// Advance records a successful exchange: the parent pointer moves to
// messageID and the conversation id is set when non-empty. A thread
// swept while its exchange was in flight is recreated.
func (t *Table) Advance(threadID, conversationID, messageID string) State {
	now := t.cfg.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.entries[threadID]
	if !ok {
		st = &State{ThreadID: threadID, ParentID: t.cfg.newID()}
		t.entries[threadID] = st
	}
	if messageID != "" {
		st.ParentID = messageID
	}
	if conversationID != "" {
		st.ConversationID = conversationID
	}
	st.LastActive = now
	return *st
}

// Reset forgets the backend conversation id of threadID so the next
// exchange starts a new backend conversation. Unknown ids are ignored.
func (t *Table) Reset(threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if st, ok := t.entries[threadID]; ok {
		st.ConversationID = ""
	}
}

// Remove deletes threadID and reports whether it existed.
func (t *Table) Remove(threadID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[threadID]
	delete(t.entries, threadID)
	return ok
}

// Len returns the number of tracked threads.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// List returns a copy of every state ordered by thread id.
func (t *Table) List() []State {
	t.mu.RLock()
	states := make([]State, 0, len(t.entries))
	for _, st := range t.entries {
		states = append(states, *st)
	}
	t.mu.RUnlock()

	sort.Slice(states, func(i, j int) bool { return states[i].ThreadID < states[j].ThreadID })
	return states
}

// Restore replaces the table contents with states. Entries without a
// thread id are skipped and missing parent pointers are regenerated.
func (t *Table) Restore(states []State) {
	entries := make(map[string]*State, len(states))
	for _, st := range states {
		if st.ThreadID == "" {
			continue
		}
		st := st
		if st.ParentID == "" {
			st.ParentID = t.cfg.newID()
		}
		entries[st.ThreadID] = &st
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()
}

// Sweep removes threads idle longer than the idle timeout and returns how
// many were removed.
func (t *Table) Sweep() int {
	cutoff := t.cfg.clock.Now().Add(-t.cfg.idleTimeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, st := range t.entries {
		if st.LastActive.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}

	if removed > 0 {
		t.cfg.logger.Debug("swept idle conversations",
			slog.Int("removed", removed),
			slog.Int("remaining", len(t.entries)))
	}
	return removed
}

// Tick runs one scheduler step. It is what Start calls on every interval.
func (t *Table) Tick() int {
	return t.Sweep()
}

// Start runs Tick every sweep interval until Stop is called or ctx ends.
// Calling Start on a running table is a no-op.
func (t *Table) Start(ctx context.Context) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.stop != nil || t.cfg.sweepInterval <= 0 {
		return
	}
	t.stop = make(chan struct{})
	t.stopped = make(chan struct{})

	// The ticker is registered before the goroutine starts so that time
	// advanced right after Start is observed.
	ticker := t.cfg.clock.NewTicker(t.cfg.sweepInterval)
	go t.sweepLoop(ctx, ticker, t.stop, t.stopped)
}

// Stop halts the sweep loop started by Start and waits for it to exit.
func (t *Table) Stop() {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.stopped
	t.stop, t.stopped = nil, nil
}

func (t *Table) sweepLoop(ctx context.Context, ticker *clock.Ticker, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}
