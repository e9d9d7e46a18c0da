package socialhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// ============================================================================
// Realtime sync hints
//
// The service can push small "something changed" envelopes over a websocket.
// They carry no data the cache trusts: every hint just triggers a mega sync,
// so the usual replacement and shadowing rules still apply.
// ============================================================================

// Hint envelope types that trigger a sync.
const (
	HintSync                = "sync.hint"
	HintPostUpdated         = "post.updated"
	HintRequestCreated      = "request.created"
	HintNotificationCreated = "notification.created"
)

// RealtimeEnvelope is the wire format of every pushed event.
type RealtimeEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthenticatedPayload is the first envelope of every connection.
type AuthenticatedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Syncer is what a RealtimeListener drives. *Hub implements it.
type Syncer interface {
	MegaSync(ctx context.Context) (bool, error)
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures a RealtimeListener.
type RealtimeConfig struct {
	Token string
	// MaxReconnectAttempts of 0 reconnects forever.
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	Logger               *slog.Logger
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

// nextDelay is exponential with jitter. A connection that stayed up for a
// minute resets the backoff.
func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeListener
// ============================================================================

// RealtimeListener keeps a websocket to the service open and runs a mega
// sync for every hint it receives.
type RealtimeListener struct {
	baseURL string
	config  RealtimeConfig
	syncer  Syncer
	logger  *slog.Logger
	recon   *reconnector

	mu     sync.Mutex
	state  RealtimeState
	onHint []func(RealtimeEnvelope)
}

// NewRealtimeListener creates a listener for the service at baseURL.
func NewRealtimeListener(baseURL string, syncer Syncer, config RealtimeConfig) *RealtimeListener {
	config.defaults()
	return &RealtimeListener{
		baseURL: strings.TrimRight(baseURL, "/"),
		config:  config,
		syncer:  syncer,
		logger:  config.Logger,
		recon:   newReconnector(&config),
		state:   StateDisconnected,
	}
}

// OnHint registers a callback run after each hint-triggered sync.
func (l *RealtimeListener) OnHint(fn func(RealtimeEnvelope)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onHint = append(l.onHint, fn)
}

// State returns the current connection state.
func (l *RealtimeListener) State() RealtimeState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *RealtimeListener) setState(s RealtimeState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Run connects and serves hints until ctx is done, reconnecting with backoff
// whenever the connection drops. It returns ctx's error, ErrStaleSession when
// a sync reports the session gone, or the last dial error once reconnect
// attempts are exhausted.
func (l *RealtimeListener) Run(ctx context.Context) error {
	defer l.setState(StateDisconnected)
	for {
		conn, err := l.connect(ctx)
		if err == nil {
			err = l.serve(ctx, conn)
			if errors.Is(err, ErrStaleSession) {
				return err
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !l.recon.shouldReconnect() {
			return fmt.Errorf("realtime: giving up after %d attempts: %w", l.recon.attempt, err)
		}

		delay := l.recon.nextDelay()
		l.setState(StateReconnecting)
		l.logger.Info("realtime reconnecting", "attempt", l.recon.attempt, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (l *RealtimeListener) wsURL() string {
	u := strings.Replace(l.baseURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws?token=" + url.QueryEscape(l.config.Token)
}

// connect dials and waits for the "authenticated" envelope.
func (l *RealtimeListener) connect(ctx context.Context) (*websocket.Conn, error) {
	l.setState(StateConnecting)
	conn, _, err := websocket.Dial(ctx, l.wsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		return nil, fmt.Errorf("read auth message: %w", err)
	}
	var env RealtimeEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "authenticated" {
		conn.Close(websocket.StatusPolicyViolation, "")
		return nil, fmt.Errorf("expected 'authenticated', got '%s'", env.Type)
	}
	var auth AuthenticatedPayload
	_ = json.Unmarshal(env.Payload, &auth)

	l.setState(StateConnected)
	l.recon.markConnected()
	l.logger.Info("realtime connected", "user_id", auth.UserID)
	return conn, nil
}

// serve reads envelopes until the connection drops or ctx is done.
func (l *RealtimeListener) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close(websocket.StatusNormalClosure, "client disconnect")

	go l.heartbeatLoop(connCtx, conn)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			l.setState(StateDisconnected)
			return fmt.Errorf("websocket read: %w", err)
		}
		var env RealtimeEnvelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		if !isHint(env.Type) {
			continue
		}
		if _, err := l.syncer.MegaSync(connCtx); errors.Is(err, ErrStaleSession) {
			conn.Close(websocket.StatusNormalClosure, "stale session")
			return err
		}
		l.notify(env)
	}
}

func (l *RealtimeListener) notify(env RealtimeEnvelope) {
	l.mu.Lock()
	handlers := append([]func(RealtimeEnvelope){}, l.onHint...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(env)
	}
}

func (l *RealtimeListener) heartbeatLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(l.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn("realtime heartbeat failed", "err", err)
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func isHint(t string) bool {
	switch t {
	case HintSync, HintPostUpdated, HintRequestCreated, HintNotificationCreated:
		return true
	}
	return false
}
