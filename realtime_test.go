package socialhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nhooyr.io/websocket"
)

// hintServer accepts one websocket per connection, authenticates it and
// sends the given frames.
func hintServer(t *testing.T, frames ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" || r.URL.Query().Get("token") != "tok" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		conns.Add(1)

		ctx := r.Context()
		conn.Write(ctx, websocket.MessageText, []byte(`{"type":"authenticated","payload":{"userId":"1","username":"ada"}}`))
		for _, f := range frames {
			if err := conn.Write(ctx, websocket.MessageText, []byte(f)); err != nil {
				return
			}
		}
		// Keep the connection open until the client goes away.
		<-conn.CloseRead(ctx).Done()
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func TestRealtimeListenerSyncsOnHints(t *testing.T) {
	srv, _ := hintServer(t,
		`{"type":"presence.changed"}`,
		`{"type":"sync.hint"}`,
		`not json`,
		`{"type":"notification.created","payload":{"id":"n1"}}`,
	)
	syncer := &countingSyncer{}
	l := NewRealtimeListener(srv.URL, syncer, RealtimeConfig{Token: "tok", Logger: discardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hints := make(chan string, 4)
	l.OnHint(func(env RealtimeEnvelope) {
		hints <- env.Type
	})

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	for _, want := range []string{HintSync, HintNotificationCreated} {
		select {
		case got := <-hints:
			if got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	if n := syncer.calls.Load(); n != 2 {
		t.Fatalf("expected 2 syncs, got %d", n)
	}
	if l.State() != StateConnected {
		t.Fatalf("expected connected, got %s", l.State())
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if l.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", l.State())
	}
}

func TestRealtimeListenerStopsOnStaleSession(t *testing.T) {
	srv, _ := hintServer(t, `{"type":"sync.hint"}`)
	syncer := &countingSyncer{err: ErrStaleSession}
	l := NewRealtimeListener(srv.URL, syncer, RealtimeConfig{Token: "tok", Logger: discardLogger()})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Run(ctx); !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected ErrStaleSession, got %v", err)
	}
}

func TestRealtimeListenerGivesUp(t *testing.T) {
	srv, conns := hintServer(t)
	l := NewRealtimeListener(srv.URL, &countingSyncer{}, RealtimeConfig{
		Token:                "wrong",
		MaxReconnectAttempts: 2,
		ReconnectBaseDelay:   time.Millisecond,
		ReconnectMaxDelay:    5 * time.Millisecond,
		Logger:               discardLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.Run(ctx)
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected to give up, got %v", err)
	}
	if conns.Load() != 0 {
		t.Fatal("rejected dials must not count as connections")
	}
}

func TestRealtimeListenerWSURL(t *testing.T) {
	l := NewRealtimeListener("https://api.example/", &countingSyncer{}, RealtimeConfig{Token: "a b"})
	if got := l.wsURL(); got != "wss://api.example/ws?token=a+b" {
		t.Fatalf("unexpected url %s", got)
	}
}

func TestReconnectorBackoff(t *testing.T) {
	r := newReconnector(&RealtimeConfig{
		ReconnectBaseDelay:   100 * time.Millisecond,
		ReconnectMaxDelay:    time.Second,
		MaxReconnectAttempts: 3,
	})
	var prev time.Duration
	for i := 0; i < 3; i++ {
		if !r.shouldReconnect() {
			t.Fatalf("attempt %d should be allowed", i)
		}
		d := r.nextDelay()
		if d < prev || d > time.Second {
			t.Fatalf("attempt %d: unexpected delay %v", i, d)
		}
		prev = d
	}
	if r.shouldReconnect() {
		t.Fatal("attempts must be capped")
	}
}
