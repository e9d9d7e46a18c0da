package socialhub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// anonymousID is sent to MEGA_SYNC when no session exists.
const anonymousID = "anonymous"

// ============================================================================
// Events
// ============================================================================

const (
	EventSyncStart      = "sync.start"
	EventSyncComplete   = "sync.complete"
	EventSyncError      = "sync.error"
	EventSessionStale   = "session.stale"
	EventMutationFailed = "mutation.failed"
)

// EventHandler handles hub events.
type EventHandler func(event string, payload any)

type emitter struct {
	mu        sync.RWMutex
	listeners map[string][]EventHandler
}

// On registers handler for event.
func (e *emitter) On(event string, handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *emitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // swallow panics in user callbacks
			h(event, payload)
		}()
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = make(map[string][]EventHandler)
}

// SyncStats summarizes one successful mega sync.
type SyncStats struct {
	Posts         int  `json:"posts"`
	Users         int  `json:"users"`
	Requests      int  `json:"requests"`
	Notifications int  `json:"notifications"`
	Anonymous     bool `json:"anonymous"`
}

// ============================================================================
// Sync engine
// ============================================================================

// MegaSync refreshes posts, users, friend requests and notifications in one
// round trip. Each sub-collection present in the result replaces its cached
// entry in full; absent ones are left alone.
//
// A failed call returns false and leaves the cache untouched; it is logged,
// not reported as an error. The only error is ErrStaleSession, returned when
// the service no longer recognizes the session user.
//
// Concurrent calls share one round trip.
func (h *Hub) MegaSync(ctx context.Context) (bool, error) {
	v, err, _ := h.flight.Do("megasync", func() (any, error) {
		return h.megaSync(ctx)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (h *Hub) megaSync(ctx context.Context) (bool, error) {
	h.emit(EventSyncStart, nil)

	gen := h.cache.epoch()
	uid := ""
	if u := h.CurrentUser(); u != nil {
		uid = u.ID
	}
	subject := uid
	if subject == "" {
		subject = anonymousID
	}

	raw, err := h.remote.Call(ctx, ActionMegaSync, map[string]string{"user_id": subject}, SizeLarge)
	if err != nil {
		if errors.Is(err, ErrStaleSession) {
			h.logger.Warn("mega sync rejected session", "user_id", uid, "err", err)
			h.emit(EventSessionStale, map[string]any{"userId": uid})
			return false, ErrStaleSession
		}
		h.logger.Warn("mega sync failed", "err", err)
		h.emit(EventSyncError, map[string]any{"error": err.Error()})
		return false, nil
	}

	result, ok := parseRecord(raw)
	if !ok {
		h.logger.Warn("mega sync returned malformed result", "bytes", len(raw))
		h.emit(EventSyncError, map[string]any{"error": "malformed result"})
		return false, nil
	}

	var snap syncSnapshot
	stats := SyncStats{Anonymous: uid == ""}
	if v, ok := present(result, "posts"); ok {
		posts := postsFrom(collection(v))
		snap.posts = &posts
		stats.Posts = len(posts)
	}
	if v, ok := present(result, "users"); ok {
		users := usersFrom(collection(v))
		snap.users = &users
		stats.Users = len(users)
	}
	if v, ok := present(result, "requests"); ok {
		reqs := requestsFrom(collection(v))
		snap.requests = &reqs
		stats.Requests = len(reqs)
	}
	if v, ok := present(result, "notifications"); ok {
		notifs := notificationsFrom(collection(v))
		snap.notifications = &notifs
		stats.Notifications = len(notifs)
	}

	if !h.cache.applySync(gen, snap, uid, h.now()) {
		h.logger.Info("mega sync result discarded, cache cleared during the call", "user_id", uid)
		h.emit(EventSyncError, map[string]any{"error": "cache cleared during sync"})
		return false, nil
	}
	h.logger.Debug("mega sync complete",
		"posts", stats.Posts, "users", stats.Users,
		"requests", stats.Requests, "notifications", stats.Notifications)
	h.emit(EventSyncComplete, stats)
	return true, nil
}

// present reports whether key holds a value. JSON null counts as absent.
func present(r gjson.Result, key string) (gjson.Result, bool) {
	v := r.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return v, false
	}
	return v, true
}

// syncLoop mirrors the app's background refresh: sync, then refresh the
// session profile. A stale session stops the loop.
func (h *Hub) syncLoop() {
	if !h.syncOnce() {
		return
	}
	ticker := time.NewTicker(h.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			if !h.syncOnce() {
				return
			}
		}
	}
}

// syncOnce returns false when the loop should stop.
func (h *Hub) syncOnce() bool {
	ctx := context.Background()
	ok, err := h.MegaSync(ctx)
	if errors.Is(err, ErrStaleSession) {
		return false
	}
	if !ok {
		return true
	}
	if err := h.RefreshSession(ctx); errors.Is(err, ErrStaleSession) {
		return false
	}
	return true
}
