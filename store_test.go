package socialhub

import (
	"path/filepath"
	"strings"
	"testing"
)

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStorage() },
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLiteStorage(filepath.Join(t.TempDir(), "cache.db"), discardLogger())
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStoreContract(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("get missing", func(t *testing.T) {
				s := open(t)
				if _, ok := s.Get(KindPosts, ""); ok {
					t.Fatal("expected miss")
				}
			})

			t.Run("put get overwrite", func(t *testing.T) {
				s := open(t)
				s.Put(KindPosts, "", []byte(`[1]`))
				s.Put(KindPosts, "", []byte(`[2]`))
				v, ok := s.Get(KindPosts, "")
				if !ok || string(v) != `[2]` {
					t.Fatalf("expected [2], got %q %v", v, ok)
				}
			})

			t.Run("keys are scoped by kind", func(t *testing.T) {
				s := open(t)
				s.Put(KindRequests, "1", []byte(`"r"`))
				s.Put(KindNotifications, "1", []byte(`"n"`))
				r, _ := s.Get(KindRequests, "1")
				n, _ := s.Get(KindNotifications, "1")
				if string(r) != `"r"` || string(n) != `"n"` {
					t.Fatalf("unexpected values %q %q", r, n)
				}
			})

			t.Run("delete", func(t *testing.T) {
				s := open(t)
				s.Put(KindProfile, "1", []byte(`{}`))
				s.Delete(KindProfile, "1")
				if _, ok := s.Get(KindProfile, "1"); ok {
					t.Fatal("expected deleted")
				}
			})

			t.Run("invalidate kind", func(t *testing.T) {
				s := open(t)
				s.Put(KindProfile, "1", []byte(`{}`))
				s.Put(KindProfile, "2", []byte(`{}`))
				s.Put(KindUsers, "", []byte(`[]`))
				s.Invalidate(KindProfile)
				if _, ok := s.Get(KindProfile, "1"); ok {
					t.Fatal("profile 1 should be gone")
				}
				if _, ok := s.Get(KindProfile, "2"); ok {
					t.Fatal("profile 2 should be gone")
				}
				if _, ok := s.Get(KindUsers, ""); !ok {
					t.Fatal("users must survive")
				}
			})

			t.Run("clear all", func(t *testing.T) {
				s := open(t)
				for _, k := range Kinds {
					s.Put(k, "x", []byte(`1`))
				}
				s.ClearAll()
				for _, k := range Kinds {
					if _, ok := s.Get(k, "x"); ok {
						t.Fatalf("kind %s survived ClearAll", k)
					}
				}
			})
		})
	}
}

func TestMemoryStorageCopies(t *testing.T) {
	s := NewMemoryStorage()
	buf := []byte(`abc`)
	s.Put(KindUsers, "", buf)
	buf[0] = 'x'
	v, _ := s.Get(KindUsers, "")
	v[1] = 'y'
	again, _ := s.Get(KindUsers, "")
	if string(again) != "abc" {
		t.Fatalf("stored value was aliased: %q", again)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", s.Len())
	}
}

func TestSQLiteStorageSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := OpenSQLiteStorage(path, discardLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Put(KindSession, "", []byte(`{"id":"1"}`))
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = OpenSQLiteStorage(path, discardLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	v, ok := s.Get(KindSession, "")
	if !ok || string(v) != `{"id":"1"}` {
		t.Fatalf("expected session to survive, got %q %v", v, ok)
	}
}

func TestOpenSQLiteStorageRequiresPath(t *testing.T) {
	if _, err := OpenSQLiteStorage("  ", nil); err == nil {
		t.Fatal("expected error for blank path")
	}
}

func TestUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;\n"
	got := strings.TrimSpace(upMigration(content))
	if got != "CREATE TABLE a (x);" {
		t.Fatalf("unexpected up section: %q", got)
	}
}
