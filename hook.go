package socialhub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// HookSignatureHeader carries "sha256=<hex hmac>" of the request body.
const HookSignatureHeader = "X-SocialHub-Signature"

const maxHookBody = 64 << 10

// HookPayload is the body the service POSTs when data changed server-side.
type HookPayload struct {
	Source    string `json:"source"`
	Event     string `json:"event"`
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
	PostID    string `json:"post_id,omitempty"`
}

// VerifyHookSignature verifies an HMAC-SHA256 body signature in constant
// time. The "sha256=" prefix is optional.
func VerifyHookSignature(body, signature, secret string) bool {
	if body == "" || signature == "" || secret == "" {
		return false
	}
	sig := strings.TrimPrefix(signature, "sha256=")
	if sig == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	expected := hex.EncodeToString(mac.Sum(nil))

	if len(sig) != len(expected) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1
}

// ParseHookPayload parses and validates a raw hook body.
func ParseHookPayload(body string) (*HookPayload, error) {
	var payload HookPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON in hook body: %w", err)
	}
	if payload.Source != "socialhub" {
		return nil, fmt.Errorf("unknown hook source: %s", payload.Source)
	}
	if payload.Event == "" {
		return nil, fmt.Errorf("missing event field in hook payload")
	}
	return &payload, nil
}

// ============================================================================
// SyncHook
// ============================================================================

// SyncHook is an http.Handler that answers a verified hook with 202 and runs
// a mega sync in the background.
//
// Example:
//
//	hook, _ := socialhub.NewSyncHook(secret, hub, logger)
//	http.Handle("/hooks/sync", hook)
type SyncHook struct {
	secret string
	syncer Syncer
	logger *slog.Logger
	tasks  sync.WaitGroup

	mu      sync.Mutex
	onEvent []func(*HookPayload)
}

// NewSyncHook creates a hook handler. A secret is required.
func NewSyncHook(secret string, syncer Syncer, logger *slog.Logger) (*SyncHook, error) {
	if secret == "" {
		return nil, fmt.Errorf("hook secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncHook{secret: secret, syncer: syncer, logger: logger}, nil
}

// OnEvent registers a callback run after each hook-triggered sync.
func (s *SyncHook) OnEvent(fn func(*HookPayload)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = append(s.onEvent, fn)
}

// Handle verifies and parses one hook and schedules the sync. It returns the
// status code and response body for the caller to write.
func (s *SyncHook) Handle(body, signature string) (int, any) {
	if !VerifyHookSignature(body, signature, s.secret) {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}
	}
	payload, err := ParseHookPayload(body)
	if err != nil {
		return http.StatusBadRequest, map[string]string{"error": err.Error()}
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		s.run(payload)
	}()
	return http.StatusAccepted, map[string]bool{"ok": true}
}

func (s *SyncHook) run(payload *HookPayload) {
	ok, err := s.syncer.MegaSync(context.Background())
	switch {
	case errors.Is(err, ErrStaleSession):
		s.logger.Warn("hook sync found stale session", "event", payload.Event)
	case !ok:
		s.logger.Warn("hook sync failed", "event", payload.Event)
	}

	s.mu.Lock()
	handlers := append([]func(*HookPayload){}, s.onEvent...)
	s.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
}

// Wait blocks until every scheduled sync has finished.
func (s *SyncHook) Wait() {
	s.tasks.Wait()
}

func (s *SyncHook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		json.NewEncoder(rw).Encode(map[string]string{"error": "Method not allowed"})
		return
	}
	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxHookBody))
	if err != nil {
		rw.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(rw).Encode(map[string]string{"error": "Failed to read body"})
		return
	}

	statusCode, data := s.Handle(string(bodyBytes), r.Header.Get(HookSignatureHeader))
	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(data)
}
