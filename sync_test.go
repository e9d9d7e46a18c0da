package socialhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestMegaSyncReplacesPresentCollections(t *testing.T) {
	h := newTestHub(t)
	h.login(t, "1")
	ctx := context.Background()

	h.cache.setNotifications(h.cache.epoch(), "1", []Notification{{ID: "n-old", UserID: "1", Type: "like"}})
	h.cache.setRequests(h.cache.epoch(), "1", []FriendRequest{{SenderID: "9", ReceiverID: "1", Status: "pending"}})

	h.remote.on(ActionMegaSync, `{
		"posts":[{"id":"p1","likes":"2","liked_by":"[\"a\",\"b\"]"}],
		"users":[{"id":1},{"id":2}],
		"requests":[]
	}`)

	ok, err := h.MegaSync(ctx)
	if !ok || err != nil {
		t.Fatalf("expected success, got %v %v", ok, err)
	}

	call, _ := h.remote.last(ActionMegaSync)
	if call.Size != SizeLarge || !reflect.DeepEqual(call.Payload, map[string]string{"user_id": "1"}) {
		t.Fatalf("unexpected call: %+v", call)
	}

	notifs, _ := h.GetNotifications(ctx, "1")
	if len(notifs) != 1 || notifs[0].ID != "n-old" {
		t.Fatalf("absent notifications must stay untouched, got %+v", notifs)
	}
	reqs, _ := h.GetFriendRequests(ctx, "1")
	if len(reqs) != 0 {
		t.Fatalf("present requests must be replaced in full, got %+v", reqs)
	}
	posts, _ := h.GetPosts(ctx, false)
	if len(posts) != 1 || posts[0].Likes != 2 || !reflect.DeepEqual(posts[0].LikedBy, []string{"a", "b"}) {
		t.Fatalf("posts not normalized: %+v", posts)
	}
	users, _ := h.GetAllUsers(ctx, false)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %+v", users)
	}
	if n := h.remote.count(ActionGetAllPosts) + h.remote.count(ActionGetUsers) +
		h.remote.count(ActionGetFriendRequests) + h.remote.count(ActionGetNotifications); n != 0 {
		t.Fatalf("reads after a sync must be served from cache, got %d fetches", n)
	}
}

func TestMegaSyncNullCollectionIsAbsent(t *testing.T) {
	h := newTestHub(t)
	h.cache.setPosts(h.cache.epoch(), []Post{{ID: "keep", LikedBy: []string{}}}, h.clock.Now())
	h.remote.on(ActionMegaSync, `{"posts":null}`)

	if ok, _ := h.MegaSync(context.Background()); !ok {
		t.Fatal("expected success")
	}
	posts, _ := h.cache.flashPosts()
	if len(posts) != 1 || posts[0].ID != "keep" {
		t.Fatalf("null posts must leave the cache alone, got %+v", posts)
	}
}

func TestMegaSyncAnonymous(t *testing.T) {
	h := newTestHub(t)
	h.remote.on(ActionMegaSync, `{"posts":[],"requests":[{"sender_id":1,"receiver_id":2}],"notifications":[]}`)

	if ok, err := h.MegaSync(context.Background()); !ok || err != nil {
		t.Fatalf("expected success, got %v %v", ok, err)
	}
	call, _ := h.remote.last(ActionMegaSync)
	if !reflect.DeepEqual(call.Payload, map[string]string{"user_id": "anonymous"}) {
		t.Fatalf("unexpected payload: %+v", call.Payload)
	}
	if _, ok := h.store.Get(KindRequests, ""); ok {
		t.Fatal("anonymous sync must not store requests")
	}
}

func TestMegaSyncFailureLeavesCache(t *testing.T) {
	for name, raw := range map[string]string{
		"transport": "",
		"not an object": `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			h := newTestHub(t)
			h.cache.setPosts(h.cache.epoch(), []Post{{ID: "keep", LikedBy: []string{}}}, h.clock.Now())
			if raw == "" {
				h.remote.fail(ActionMegaSync, fmt.Errorf("dial: %w", ErrNoResult))
			} else {
				h.remote.on(ActionMegaSync, raw)
			}
			var events []string
			h.On(EventSyncError, func(e string, _ any) { events = append(events, e) })

			ok, err := h.MegaSync(context.Background())
			if ok || err != nil {
				t.Fatalf("expected soft failure, got %v %v", ok, err)
			}
			posts, _ := h.cache.flashPosts()
			if len(posts) != 1 || posts[0].ID != "keep" {
				t.Fatalf("cache must be untouched, got %+v", posts)
			}
			if len(events) != 1 {
				t.Fatalf("expected one sync.error, got %v", events)
			}
		})
	}
}

func TestMegaSyncStaleSession(t *testing.T) {
	h := newTestHub(t)
	h.login(t, "1")
	h.remote.fail(ActionMegaSync, &APIError{Code: CodeStaleSession, Message: "who?"})

	ok, err := h.MegaSync(context.Background())
	if ok || !errors.Is(err, ErrStaleSession) {
		t.Fatalf("expected stale session, got %v %v", ok, err)
	}
}

func TestMegaSyncEvents(t *testing.T) {
	h := newTestHub(t)
	h.remote.on(ActionMegaSync, `{"posts":[{"id":1}],"users":[]}`)

	var stats SyncStats
	var order []string
	h.On(EventSyncStart, func(e string, _ any) { order = append(order, e) })
	h.On(EventSyncComplete, func(e string, p any) {
		order = append(order, e)
		stats = p.(SyncStats)
	})
	h.MegaSync(context.Background())

	if !reflect.DeepEqual(order, []string{EventSyncStart, EventSyncComplete}) {
		t.Fatalf("unexpected events: %v", order)
	}
	if stats.Posts != 1 || stats.Users != 0 || !stats.Anonymous {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestMegaSyncCoalescesConcurrentCalls(t *testing.T) {
	h := newTestHub(t)
	h.remote.on(ActionMegaSync, `{"posts":[]}`)
	gate := make(chan struct{})
	h.remote.mu.Lock()
	h.remote.gate = gate
	h.remote.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.MegaSync(context.Background())
		}()
	}
	// Let the callers pile up on the in-flight call.
	deadline := time.Now().Add(5 * time.Second)
	for h.remote.count(ActionMegaSync) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if n := h.remote.count(ActionMegaSync); n > 2 {
		t.Fatalf("expected concurrent syncs to share a round trip, got %d calls", n)
	}
}

// A like recorded while a mega sync is in flight must survive the sync's
// replacement of the posts snapshot.
func TestGuardWinsOverConcurrentMegaSync(t *testing.T) {
	h := newTestHub(t)
	h.login(t, "me")
	ctx := context.Background()

	h.cache.setPosts(h.cache.epoch(), []Post{{ID: "p1", UserID: "other", Likes: 3, LikedBy: []string{"a", "b", "c"}}}, h.clock.Now())

	started := make(chan struct{})
	release := make(chan struct{})
	h.remote.handle(ActionMegaSync, func(any) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{"posts":[{"id":"p1","user_id":"other","likes":3,"liked_by":["a","b","c"]}]}`), nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.MegaSync(ctx)
	}()
	<-started

	liked, err := h.Like(ctx, "p1")
	if err != nil {
		t.Fatalf("like: %v", err)
	}
	if liked.Likes != 4 {
		t.Fatalf("expected optimistic 4 likes, got %d", liked.Likes)
	}

	close(release)
	<-done

	posts, _ := h.GetPosts(ctx, false)
	if posts[0].Likes != 4 || !posts[0].LikedByUser("me") {
		t.Fatalf("shadow must win over the sync, got %+v", posts[0])
	}

	h.clock.Advance(DefaultGracePeriod)
	posts, _ = h.GetPosts(ctx, false)
	if posts[0].Likes != 3 {
		t.Fatalf("after the grace period server data must show, got %+v", posts[0])
	}
}

func TestMegaSyncDiscardedAfterLogout(t *testing.T) {
	h := newTestHub(t)
	h.login(t, "me")
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.remote.handle(ActionMegaSync, func(any) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`{"posts":[{"id":"p1"}],"users":[{"id":"me"}],"requests":[{"id":"r1","sender_id":"x","receiver_id":"me"}]}`), nil
	})
	var syncErr any
	h.On(EventSyncError, func(_ string, payload any) { syncErr = payload })

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)
	go func() {
		ok, err := h.MegaSync(ctx)
		done <- result{ok, err}
	}()
	<-started

	h.ClearCurrentUser()
	close(release)
	res := <-done

	if res.ok || res.err != nil {
		t.Fatalf("expected a discarded sync, got ok=%v err=%v", res.ok, res.err)
	}
	if syncErr == nil {
		t.Fatal("expected a sync error event")
	}
	if h.CurrentUser() != nil {
		t.Fatal("logout must stick")
	}
	if n := h.store.Len(); n != 0 {
		t.Fatalf("expected an empty store after logout, got %d entries", n)
	}
	if _, ok := h.store.Get(KindRequests, "me"); ok {
		t.Fatal("requests of the old user leaked back into the cache")
	}
}

func TestFetchDiscardedAfterLogout(t *testing.T) {
	h := newTestHub(t)
	h.login(t, "me")
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	h.remote.handle(ActionGetUsers, func(any) (json.RawMessage, error) {
		close(started)
		<-release
		return json.RawMessage(`[{"id":"me"},{"id":"2"}]`), nil
	})

	done := make(chan []User, 1)
	go func() {
		users, _ := h.GetAllUsers(ctx, true)
		done <- users
	}()
	<-started

	h.ClearCurrentUser()
	close(release)
	if users := <-done; len(users) != 2 {
		t.Fatalf("the caller still gets its result, got %+v", users)
	}
	if n := h.store.Len(); n != 0 {
		t.Fatalf("expected an empty store after logout, got %d entries", n)
	}
	if _, ok := h.cache.flashUsers(); ok {
		t.Fatal("users fetched before logout must not be cached")
	}
}
