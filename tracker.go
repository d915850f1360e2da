package auth

import (
	"context"
	"sync"
)

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithStateListener registers a callback invoked with committed states.
// Listeners run one at a time in commit order. A snapshot that was overtaken
// by a newer commit before it could be delivered is skipped, so a listener
// never sees an older state after a newer one. Listeners must not start
// passes on the same tracker.
func WithStateListener(fn func(ResolvedAuthState)) TrackerOption {
	return func(t *Tracker) {
		if fn != nil {
			t.listeners = append(t.listeners, fn)
		}
	}
}

// Tracker owns the auth state of one consumer (a page, a websocket, a
// long lived client). A pass starts whenever the navigated path changes.
// Starting a new pass or closing the tracker invalidates the previous pass:
// its late writes are dropped.
type Tracker struct {
	resolver  *Resolver
	listeners []func(ResolvedAuthState)

	mu      sync.Mutex
	started bool
	closed  bool
	path    string
	gen     uint64
	seq     uint64
	state   ResolvedAuthState

	// notifyMu serializes listener calls, delivered is guarded by it
	notifyMu  sync.Mutex
	delivered uint64
}

// NewTracker creates a tracker. The initial state is loading.
func NewTracker(resolver *Resolver, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		resolver: resolver,
		state:    ResolvedAuthState{IsLoading: true, Roles: Roles{}},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Navigate resolves the auth state for path. Navigating to the current path
// again does not start a new pass. The returned state is the tracker's state
// after the pass finished, which may belong to a newer pass.
func (t *Tracker) Navigate(ctx context.Context, path string, client Client) ResolvedAuthState {
	t.mu.Lock()
	if t.closed || (t.started && t.path == path) {
		st := t.state.Clone()
		t.mu.Unlock()
		return st
	}
	t.started = true
	t.path = path
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	p := &pass{commitFn: func(update func(*ResolvedAuthState)) bool {
		return t.commit(gen, update)
	}}
	t.resolver.run(ctx, client, p)

	return t.State()
}

// Refresh forces a new pass for the current path, e.g. after login.
func (t *Tracker) Refresh(ctx context.Context, client Client) ResolvedAuthState {
	t.mu.Lock()
	path := t.path
	t.started = false
	t.mu.Unlock()
	return t.Navigate(ctx, path, client)
}

// State returns the last committed state.
func (t *Tracker) State() ResolvedAuthState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// Close tears the tracker down. In-flight passes can no longer commit.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

func (t *Tracker) commit(gen uint64, update func(*ResolvedAuthState)) bool {
	t.mu.Lock()
	if t.closed || gen != t.gen {
		t.mu.Unlock()
		return false
	}
	update(&t.state)
	t.seq++
	seq := t.seq
	snapshot := t.state.Clone()
	t.mu.Unlock()

	if len(t.listeners) == 0 {
		return true
	}

	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()
	if seq <= t.delivered {
		return true
	}
	t.delivered = seq
	for _, fn := range t.listeners {
		fn(snapshot)
	}
	return true
}
