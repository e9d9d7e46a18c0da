package socialhub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// cache is the process-wide in-memory layer over a Store. Every read and
// write of cached state goes through it, under one mutex, so a mega sync
// replacement or a snapshot patch is atomic with respect to readers.
//
// Memory snapshots are write-through: whatever is set here is also put into
// the Store. freshAt is the single freshness timestamp shared by the users
// and posts read paths.
//
// gen counts clearAll calls. Writes of remote results carry the generation
// read before the gateway call and are dropped if a clear happened since, so
// a fetch that outlives a logout cannot repopulate the cache.
type cache struct {
	mu     sync.Mutex
	store  Store
	logger *slog.Logger

	users       []User
	usersLoaded bool
	posts       []Post
	postsLoaded bool
	profiles    map[string]User
	freshAt     time.Time
	gen         uint64
}

func newCache(store Store, logger *slog.Logger) *cache {
	return &cache{
		store:    store,
		logger:   logger,
		profiles: make(map[string]User),
	}
}

// epoch returns the current generation.
func (c *cache) epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *cache) isFresh(now time.Time, window time.Duration) bool {
	if c.freshAt.IsZero() {
		return false
	}
	age := now.Sub(c.freshAt)
	return age >= 0 && age < window
}

// ── Users ────────────────────────────────────────────────

// freshUsers returns the memory snapshot when it is inside the freshness window.
func (c *cache) freshUsers(now time.Time, window time.Duration) ([]User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.usersLoaded || len(c.users) == 0 || !c.isFresh(now, window) {
		return nil, false
	}
	return cloneUsers(c.users), true
}

// flashUsers returns the last known snapshot, loading it from the Store into
// memory if needed. It does not touch the freshness timestamp. An empty
// snapshot is a miss so it never stands in for a fetch.
func (c *cache) flashUsers() ([]User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.usersLoaded {
		raw, ok := c.store.Get(KindUsers, "")
		if !ok {
			return nil, false
		}
		c.users = NormalizeUsers(raw)
		c.usersLoaded = true
	}
	if len(c.users) == 0 {
		return nil, false
	}
	return cloneUsers(c.users), true
}

// setUsers replaces the users snapshot. An empty result never bumps the
// freshness timestamp.
func (c *cache) setUsers(gen uint64, users []User, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.putUsersLocked(users)
	if len(users) > 0 {
		c.freshAt = now
	}
	return true
}

func (c *cache) putUsersLocked(users []User) {
	c.users = cloneUsers(users)
	c.usersLoaded = true
	c.putJSON(KindUsers, "", c.users)
}

// ── Posts ────────────────────────────────────────────────

func (c *cache) freshPosts(now time.Time, window time.Duration) ([]Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.postsLoaded || len(c.posts) == 0 || !c.isFresh(now, window) {
		return nil, false
	}
	return clonePosts(c.posts), true
}

func (c *cache) flashPosts() ([]Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loadPostsLocked() || len(c.posts) == 0 {
		return nil, false
	}
	return clonePosts(c.posts), true
}

func (c *cache) loadPostsLocked() bool {
	if c.postsLoaded {
		return true
	}
	raw, ok := c.store.Get(KindPosts, "")
	if !ok {
		return false
	}
	c.posts = NormalizePosts(raw)
	c.postsLoaded = true
	return true
}

func (c *cache) setPosts(gen uint64, posts []Post, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.putPostsLocked(posts)
	if len(posts) > 0 {
		c.freshAt = now
	}
	return true
}

func (c *cache) putPostsLocked(posts []Post) {
	c.posts = clonePosts(posts)
	c.postsLoaded = true
	c.putJSON(KindPosts, "", c.posts)
}

// foldPosts merges posts into the main snapshot entry by entry: matching ids
// are replaced in place, unknown ids are appended.
func (c *cache) foldPosts(gen uint64, posts []Post) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.loadPostsLocked()
	merged := clonePosts(c.posts)
	index := make(map[string]int, len(merged))
	for i, p := range merged {
		index[p.ID] = i
	}
	for _, p := range posts {
		if i, ok := index[p.ID]; ok {
			merged[i] = clonePost(p)
			continue
		}
		index[p.ID] = len(merged)
		merged = append(merged, clonePost(p))
	}
	c.putPostsLocked(merged)
	return true
}

// post returns one post from the snapshot.
func (c *cache) post(id string) (Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadPostsLocked()
	for _, p := range c.posts {
		if SameID(p.ID, id) {
			return clonePost(p), true
		}
	}
	return Post{}, false
}

// patchPost applies fn to the post with id and persists the snapshot.
func (c *cache) patchPost(id string, fn func(*Post)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loadPostsLocked() {
		return false
	}
	for i := range c.posts {
		if SameID(c.posts[i].ID, id) {
			fn(&c.posts[i])
			c.putJSON(KindPosts, "", c.posts)
			return true
		}
	}
	return false
}

// prependPost puts a newly created post at the top of the feed.
func (c *cache) prependPost(gen uint64, p Post) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.loadPostsLocked()
	c.putPostsLocked(append([]Post{p}, c.posts...))
	return true
}

func (c *cache) removePost(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loadPostsLocked() {
		return
	}
	kept := c.posts[:0:0]
	for _, p := range c.posts {
		if !SameID(p.ID, id) {
			kept = append(kept, p)
		}
	}
	c.putPostsLocked(kept)
}

// ── Profiles ─────────────────────────────────────────────

func (c *cache) profile(id string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.profiles[id]
	if !ok {
		return User{}, false
	}
	return cloneUser(u), true
}

// persistedProfile reads a profile entry that survived a restart.
func (c *cache) persistedProfile(id string) (User, bool) {
	raw, ok := c.store.Get(KindProfile, id)
	if !ok {
		return User{}, false
	}
	u := NormalizeUser(raw)
	if u == nil {
		return User{}, false
	}
	return *u, true
}

func (c *cache) setProfile(gen uint64, u User) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.profiles[u.ID] = cloneUser(u)
	c.putJSON(KindProfile, u.ID, u)
	return true
}

func (c *cache) dropProfile(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.profiles, id)
	c.store.Delete(KindProfile, id)
}

// ── Requests & notifications ─────────────────────────────

func (c *cache) requests(uid string) ([]FriendRequest, bool) {
	raw, ok := c.store.Get(KindRequests, uid)
	if !ok {
		return nil, false
	}
	return NormalizeRequests(raw), true
}

func (c *cache) setRequests(gen uint64, uid string, reqs []FriendRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.putJSON(KindRequests, uid, reqs)
	return true
}

func (c *cache) notifications(uid string) ([]Notification, bool) {
	raw, ok := c.store.Get(KindNotifications, uid)
	if !ok {
		return nil, false
	}
	return NormalizeNotifications(raw), true
}

func (c *cache) setNotifications(gen uint64, uid string, notifs []Notification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.putJSON(KindNotifications, uid, notifs)
	return true
}

// invalidateSocial drops the request and notification entries of uid so the
// next read refetches them.
func (c *cache) invalidateSocial(uid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Delete(KindRequests, uid)
	c.store.Delete(KindNotifications, uid)
}

// ── Session ──────────────────────────────────────────────

func (c *cache) session() ([]byte, bool) {
	return c.store.Get(KindSession, "")
}

// setSession stores u as the session identity together with its profile.
func (c *cache) setSession(gen uint64, u User) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.putJSON(KindSession, "", u)
	c.profiles[u.ID] = cloneUser(u)
	c.putJSON(KindProfile, u.ID, u)
	return true
}

func (c *cache) dropSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Delete(KindSession, "")
}

// ── Bulk ─────────────────────────────────────────────────

// syncSnapshot carries the sub-collections of one mega sync result. A nil
// field means the collection was absent and the cached entry stays as is.
type syncSnapshot struct {
	posts         *[]Post
	users         *[]User
	requests      *[]FriendRequest
	notifications *[]Notification
}

// applySync replaces every present sub-collection in one critical section
// and records now as the freshness timestamp. Requests and notifications are
// only stored for a known uid. Nothing is written if the cache was cleared
// after gen was taken.
func (c *cache) applySync(gen uint64, s syncSnapshot, uid string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	if s.posts != nil {
		c.putPostsLocked(*s.posts)
	}
	if s.users != nil {
		c.putUsersLocked(*s.users)
	}
	if uid != "" {
		if s.requests != nil {
			c.putJSON(KindRequests, uid, *s.requests)
		}
		if s.notifications != nil {
			c.putJSON(KindNotifications, uid, *s.notifications)
		}
	}
	c.freshAt = now
	return true
}

// clearAll wipes the Store and every memory entry, including profiles that
// were only held in memory, and starts a new generation.
func (c *cache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.store.ClearAll()
	c.users, c.usersLoaded = nil, false
	c.posts, c.postsLoaded = nil, false
	c.profiles = make(map[string]User)
	c.freshAt = time.Time{}
}

func (c *cache) putJSON(kind Kind, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("cache encode failed", "kind", kind, "key", key, "err", err)
		return
	}
	c.store.Put(kind, key, data)
}

// ── Copies ───────────────────────────────────────────────
// Snapshots leave the cache as copies so callers cannot mutate cached state.

func cloneUser(u User) User {
	u.Friends = append([]string{}, u.Friends...)
	return u
}

func cloneUsers(users []User) []User {
	out := make([]User, len(users))
	for i, u := range users {
		out[i] = cloneUser(u)
	}
	return out
}

func clonePost(p Post) Post {
	p.LikedBy = append([]string{}, p.LikedBy...)
	if p.Author != nil {
		ref := *p.Author
		p.Author = &ref
	}
	return p
}

func clonePosts(posts []Post) []Post {
	out := make([]Post, len(posts))
	for i, p := range posts {
		out[i] = clonePost(p)
	}
	return out
}
