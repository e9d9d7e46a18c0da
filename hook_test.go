package socialhub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// ============================================================================
// Test Helpers
// ============================================================================

const testSecret = "test-hook-secret-key"

func makeTestSignature(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func makeTestPayload() map[string]any {
	return map[string]any{
		"source":    "socialhub",
		"event":     "post.updated",
		"timestamp": 1700000000,
		"user_id":   "u-1",
		"post_id":   "p-1",
	}
}

func makeTestPayloadString() string {
	b, _ := json.Marshal(makeTestPayload())
	return string(b)
}

type countingSyncer struct {
	calls atomic.Int32
	err   error
}

func (s *countingSyncer) MegaSync(context.Context) (bool, error) {
	s.calls.Add(1)
	return s.err == nil, s.err
}

// ============================================================================
// VerifyHookSignature
// ============================================================================

func TestVerifyHookSignature(t *testing.T) {
	t.Run("valid signature", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := makeTestSignature(body, testSecret)
		if !VerifyHookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature")
		}
	})

	t.Run("valid without prefix", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := strings.TrimPrefix(makeTestSignature(body, testSecret), "sha256=")
		if !VerifyHookSignature(body, sig, testSecret) {
			t.Fatal("expected valid signature without prefix")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := makeTestSignature(body, "wrong-secret")
		if VerifyHookSignature(body, sig, testSecret) {
			t.Fatal("expected invalid signature with wrong secret")
		}
	})

	t.Run("tampered body", func(t *testing.T) {
		body := makeTestPayloadString()
		sig := makeTestSignature(body, testSecret)
		if VerifyHookSignature(body+"tampered", sig, testSecret) {
			t.Fatal("expected invalid for tampered body")
		}
	})

	t.Run("empty inputs", func(t *testing.T) {
		if VerifyHookSignature("", "sha256=abc", testSecret) {
			t.Fatal("expected false for empty body")
		}
		if VerifyHookSignature("body", "", testSecret) {
			t.Fatal("expected false for empty signature")
		}
		if VerifyHookSignature("body", "sha256=abc", "") {
			t.Fatal("expected false for empty secret")
		}
		if VerifyHookSignature("body", "sha256=", testSecret) {
			t.Fatal("expected false for sha256= prefix only")
		}
	})
}

// ============================================================================
// ParseHookPayload
// ============================================================================

func TestParseHookPayload(t *testing.T) {
	t.Run("valid payload", func(t *testing.T) {
		payload, err := ParseHookPayload(makeTestPayloadString())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.Event != "post.updated" || payload.PostID != "p-1" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	})

	t.Run("invalid JSON", func(t *testing.T) {
		if _, err := ParseHookPayload("not json"); err == nil {
			t.Fatal("expected error for invalid JSON")
		}
	})

	t.Run("unknown source", func(t *testing.T) {
		data := makeTestPayload()
		data["source"] = "unknown"
		b, _ := json.Marshal(data)
		_, err := ParseHookPayload(string(b))
		if err == nil || !strings.Contains(err.Error(), "unknown hook source") {
			t.Fatalf("expected unknown source error, got: %v", err)
		}
	})

	t.Run("missing event", func(t *testing.T) {
		data := makeTestPayload()
		data["event"] = ""
		b, _ := json.Marshal(data)
		_, err := ParseHookPayload(string(b))
		if err == nil || !strings.Contains(err.Error(), "missing event") {
			t.Fatalf("expected missing event error, got: %v", err)
		}
	})
}

// ============================================================================
// SyncHook
// ============================================================================

func TestNewSyncHook(t *testing.T) {
	if _, err := NewSyncHook("", &countingSyncer{}, nil); err == nil {
		t.Fatal("expected error for empty secret")
	}
	hook, err := NewSyncHook(testSecret, &countingSyncer{}, nil)
	if err != nil || hook == nil {
		t.Fatalf("unexpected result: %v %v", hook, err)
	}
}

func TestSyncHookHandle(t *testing.T) {
	t.Run("invalid signature", func(t *testing.T) {
		syncer := &countingSyncer{}
		hook, _ := NewSyncHook(testSecret, syncer, nil)
		status, data := hook.Handle(makeTestPayloadString(), "sha256=bad")
		if status != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", status)
		}
		if m := data.(map[string]string); m["error"] != "Invalid signature" {
			t.Fatalf("unexpected error: %s", m["error"])
		}
		hook.Wait()
		if syncer.calls.Load() != 0 {
			t.Fatal("rejected hook must not sync")
		}
	})

	t.Run("malformed payload", func(t *testing.T) {
		hook, _ := NewSyncHook(testSecret, &countingSyncer{}, nil)
		body := `{"source": "unknown"}`
		status, _ := hook.Handle(body, makeTestSignature(body, testSecret))
		if status != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", status)
		}
	})

	t.Run("accepted triggers sync", func(t *testing.T) {
		syncer := &countingSyncer{}
		hook, _ := NewSyncHook(testSecret, syncer, nil)
		var seen atomic.Value
		hook.OnEvent(func(p *HookPayload) { seen.Store(p.Event) })

		body := makeTestPayloadString()
		status, data := hook.Handle(body, makeTestSignature(body, testSecret))
		if status != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", status)
		}
		if !data.(map[string]bool)["ok"] {
			t.Fatal("expected ok:true")
		}
		hook.Wait()
		if syncer.calls.Load() != 1 {
			t.Fatalf("expected one sync, got %d", syncer.calls.Load())
		}
		if seen.Load() != "post.updated" {
			t.Fatalf("callback not run, got %v", seen.Load())
		}
	})

	t.Run("stale session still answers", func(t *testing.T) {
		hook, _ := NewSyncHook(testSecret, &countingSyncer{err: ErrStaleSession}, nil)
		body := makeTestPayloadString()
		status, _ := hook.Handle(body, makeTestSignature(body, testSecret))
		hook.Wait()
		if status != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", status)
		}
	})
}

func TestSyncHookServeHTTP(t *testing.T) {
	t.Run("GET returns 405", func(t *testing.T) {
		hook, _ := NewSyncHook(testSecret, &countingSyncer{}, nil)
		w := httptest.NewRecorder()
		hook.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/hooks/sync", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", w.Code)
		}
	})

	t.Run("invalid signature returns 401", func(t *testing.T) {
		hook, _ := NewSyncHook(testSecret, &countingSyncer{}, nil)
		req := httptest.NewRequest(http.MethodPost, "/hooks/sync", strings.NewReader(makeTestPayloadString()))
		req.Header.Set(HookSignatureHeader, "sha256=bad")
		w := httptest.NewRecorder()
		hook.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("valid returns 202", func(t *testing.T) {
		syncer := &countingSyncer{}
		hook, _ := NewSyncHook(testSecret, syncer, nil)
		body := makeTestPayloadString()
		req := httptest.NewRequest(http.MethodPost, "/hooks/sync", strings.NewReader(body))
		req.Header.Set(HookSignatureHeader, makeTestSignature(body, testSecret))
		w := httptest.NewRecorder()
		hook.ServeHTTP(w, req)
		hook.Wait()
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", w.Code)
		}
		var result map[string]any
		json.NewDecoder(w.Body).Decode(&result)
		if result["ok"] != true {
			t.Fatal("expected ok:true")
		}
		if syncer.calls.Load() != 1 {
			t.Fatalf("expected one sync, got %d", syncer.calls.Load())
		}
	})
}
