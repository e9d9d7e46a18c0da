package socialhub

import (
	"sync"
)

// ============================================================================
// Persisted Cache Store
// ============================================================================

// Kind names one family of cached entries.
type Kind string

const (
	KindSession       Kind = "session"
	KindUsers         Kind = "users"
	KindPosts         Kind = "posts"
	KindRequests      Kind = "requests"
	KindNotifications Kind = "notifications"
	KindProfile       Kind = "profile"
	KindPending       Kind = "pending"
)

// Kinds lists every kind a Store may hold.
var Kinds = []Kind{
	KindSession, KindUsers, KindPosts, KindRequests,
	KindNotifications, KindProfile, KindPending,
}

// Store is the durable key/value layer behind the in-memory cache.
//
// Reads and writes are local and synchronous. Writes are best effort: a
// backend that fails to persist logs the failure and carries on, it never
// reports it to the caller. Snapshot kinds use the empty key; per-user kinds
// are keyed by user id.
type Store interface {
	Get(kind Kind, key string) ([]byte, bool)
	Put(kind Kind, key string, value []byte)
	Delete(kind Kind, key string)
	Invalidate(kind Kind)
	ClearAll()
	Close() error
}

type storeKey struct {
	kind Kind
	key  string
}

// MemoryStorage is a goroutine-safe in-memory Store. It does not survive a
// restart; use it for tests or ephemeral sessions.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[storeKey][]byte
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[storeKey][]byte)}
}

func (s *MemoryStorage) Get(kind Kind, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[storeKey{kind, key}]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

func (s *MemoryStorage) Put(kind Kind, key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[storeKey{kind, key}] = append([]byte(nil), value...)
}

func (s *MemoryStorage) Delete(kind Kind, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, storeKey{kind, key})
}

func (s *MemoryStorage) Invalidate(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if k.kind == kind {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryStorage) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[storeKey][]byte)
}

// Len returns the number of entries across all kinds.
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStorage) Close() error { return nil }
