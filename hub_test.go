package socialhub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

type remoteCall struct {
	Action  Action
	Payload any
	Size    SizeClass
}

// fakeRemote answers each action with a canned result. Unknown actions
// succeed with JSON null.
type fakeRemote struct {
	mu        sync.Mutex
	calls     []remoteCall
	responses map[Action]func(payload any) (json.RawMessage, error)
	// gate, when set, blocks every call until it is closed.
	gate chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{responses: make(map[Action]func(any) (json.RawMessage, error))}
}

func (f *fakeRemote) on(action Action, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[action] = func(any) (json.RawMessage, error) { return json.RawMessage(raw), nil }
}

func (f *fakeRemote) fail(action Action, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[action] = func(any) (json.RawMessage, error) { return nil, err }
}

func (f *fakeRemote) handle(action Action, fn func(payload any) (json.RawMessage, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[action] = fn
}

func (f *fakeRemote) Call(ctx context.Context, action Action, payload any, size SizeClass) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, remoteCall{Action: action, Payload: payload, Size: size})
	fn := f.responses[action]
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn == nil {
		return json.RawMessage(`null`), nil
	}
	return fn(payload)
}

func (f *fakeRemote) count(action Action) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Action == action {
			n++
		}
	}
	return n
}

func (f *fakeRemote) last(action Action) (remoteCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Action == action {
			return f.calls[i], true
		}
	}
	return remoteCall{}, false
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testHub struct {
	*Hub
	remote *fakeRemote
	store  *MemoryStorage
	clock  *fakeClock
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()
	remote := newFakeRemote()
	store := NewMemoryStorage()
	clock := newFakeClock()
	hub := NewHub(remote, store, &HubOptions{Clock: clock.Now, Logger: discardLogger()})
	t.Cleanup(hub.Close)
	return &testHub{Hub: hub, remote: remote, store: store, clock: clock}
}

// waitBackground blocks until every background reconciliation has finished.
func (h *testHub) waitBackground() {
	h.tasks.Wait()
}

func (h *testHub) login(t *testing.T, id string) {
	t.Helper()
	if err := h.SetCurrentUser(&User{ID: id, Username: "user" + id, Friends: []string{}}); err != nil {
		t.Fatalf("SetCurrentUser: %v", err)
	}
}

// ============================================================================
// Hub
// ============================================================================

func TestNewHubDefaults(t *testing.T) {
	hub := NewHub(newFakeRemote(), NewMemoryStorage(), nil)
	defer hub.Close()
	if hub.freshness != DefaultFreshnessWindow {
		t.Fatalf("expected freshness %v, got %v", DefaultFreshnessWindow, hub.freshness)
	}
	if hub.syncInterval != DefaultSyncInterval {
		t.Fatalf("expected sync interval %v, got %v", DefaultSyncInterval, hub.syncInterval)
	}
	if hub.Guard().GracePeriod() != DefaultGracePeriod {
		t.Fatalf("expected grace %v, got %v", DefaultGracePeriod, hub.Guard().GracePeriod())
	}
}

func TestNewHubOptions(t *testing.T) {
	hub := NewHub(newFakeRemote(), NewMemoryStorage(), &HubOptions{
		FreshnessWindow: time.Minute,
		GracePeriod:     5 * time.Second,
		SyncInterval:    time.Hour,
	})
	defer hub.Close()
	if hub.freshness != time.Minute || hub.syncInterval != time.Hour {
		t.Fatalf("options not applied: %v %v", hub.freshness, hub.syncInterval)
	}
	if hub.Guard().GracePeriod() != 5*time.Second {
		t.Fatalf("grace not applied: %v", hub.Guard().GracePeriod())
	}
}

func TestHubStartClose(t *testing.T) {
	remote := newFakeRemote()
	remote.on(ActionMegaSync, `{"posts":[]}`)
	hub := NewHub(remote, NewMemoryStorage(), &HubOptions{SyncInterval: time.Hour, Logger: discardLogger()})

	done := make(chan struct{})
	hub.On(EventSyncComplete, func(string, any) {
		select {
		case <-done:
		default:
			close(done)
		}
	})
	hub.Start()
	hub.Start()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("initial sync did not run")
	}
	hub.Close()
	hub.Close()
	if n := remote.count(ActionMegaSync); n != 1 {
		t.Fatalf("expected one mega sync, got %d", n)
	}
}

func TestHubSyncLoopStopsOnStaleSession(t *testing.T) {
	remote := newFakeRemote()
	remote.fail(ActionMegaSync, &APIError{Action: ActionMegaSync, Code: CodeStaleSession})
	hub := NewHub(remote, NewMemoryStorage(), &HubOptions{SyncInterval: time.Millisecond, Logger: discardLogger()})
	hub.SetCurrentUser(&User{ID: "1"})

	stale := make(chan struct{}, 1)
	hub.On(EventSessionStale, func(string, any) { stale <- struct{}{} })
	hub.Start()

	select {
	case <-stale:
	case <-time.After(5 * time.Second):
		t.Fatal("expected session.stale event")
	}
	// The loop exits on its own; Close must not hang.
	hub.Close()
	if n := remote.count(ActionMegaSync); n != 1 {
		t.Fatalf("expected loop to stop after one call, got %d", n)
	}
}

func TestEmitterRecoversPanics(t *testing.T) {
	hub := newTestHub(t)
	called := false
	hub.On("x", func(string, any) { panic("boom") })
	hub.On("x", func(string, any) { called = true })
	hub.emit("x", nil)
	if !called {
		t.Fatal("second handler should still run")
	}
}
