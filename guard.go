package socialhub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// DefaultGracePeriod is how long a like/unlike shadows server data.
const DefaultGracePeriod = 15 * time.Second

// Shadow is the user-intended like state of one post. While a live Shadow
// exists for a post it is the source of truth for that post's likes,
// whatever the server says.
type Shadow struct {
	Likes     int       `json:"likes"`
	LikedBy   []string  `json:"liked_by"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Guard holds pending like mutations and overlays them on every posts read.
//
// Per post id the state is either unshadowed (no entry) or shadowed until
// ExpiresAt. Record moves a post into the shadowed state with a fresh expiry;
// Sweep and Clear move it back.
type Guard struct {
	mu      sync.Mutex
	grace   time.Duration
	now     func() time.Time
	store   Store
	logger  *slog.Logger
	pending map[string]Shadow
}

// NewGuard creates a guard persisting its records in store, restoring any
// record that survived a restart.
func NewGuard(store Store, grace time.Duration, now func() time.Time, logger *slog.Logger) *Guard {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Guard{
		grace:   grace,
		now:     now,
		store:   store,
		logger:  logger,
		pending: make(map[string]Shadow),
	}
	if raw, ok := store.Get(KindPending, ""); ok {
		if err := json.Unmarshal(raw, &g.pending); err != nil {
			logger.Warn("dropping unreadable pending mutations", "err", err)
			g.pending = make(map[string]Shadow)
		}
	}
	return g
}

// GracePeriod returns how long a record stays live.
func (g *Guard) GracePeriod() time.Duration {
	return g.grace
}

// Record creates or overwrites the shadow for postID with a fresh expiry.
func (g *Guard) Record(postID string, likes int, likedBy []string) Shadow {
	if likes < 0 {
		likes = 0
	}
	s := Shadow{
		Likes:     likes,
		LikedBy:   append([]string{}, likedBy...),
		ExpiresAt: g.now().Add(g.grace),
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[postID] = s
	g.persistLocked()
	return s
}

// Lookup returns the live shadow of postID.
func (g *Guard) Lookup(postID string) (Shadow, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.pending[postID]
	if !ok || !g.now().Before(s.ExpiresAt) {
		return Shadow{}, false
	}
	s.LikedBy = append([]string{}, s.LikedBy...)
	return s, true
}

// Apply sweeps expired records, then overwrites the likes and liker set of
// every post that still has a live shadow. posts is modified in place and
// returned.
func (g *Guard) Apply(posts []Post) []Post {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweepLocked()
	if len(g.pending) == 0 {
		return posts
	}
	for i := range posts {
		if s, ok := g.pending[posts[i].ID]; ok {
			posts[i].Likes = s.Likes
			posts[i].LikedBy = append([]string{}, s.LikedBy...)
		}
	}
	return posts
}

// Sweep drops expired records and returns how many were dropped.
func (g *Guard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked()
}

// Clear drops the record of postID, e.g. once the post is deleted.
func (g *Guard) Clear(postID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.pending[postID]; ok {
		delete(g.pending, postID)
		g.persistLocked()
	}
}

// Reset drops every record.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = make(map[string]Shadow)
	g.store.Delete(KindPending, "")
}

// Len returns the number of records, live or not yet swept.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

func (g *Guard) sweepLocked() int {
	now := g.now()
	dropped := 0
	for id, s := range g.pending {
		if !now.Before(s.ExpiresAt) {
			delete(g.pending, id)
			dropped++
		}
	}
	if dropped > 0 {
		g.persistLocked()
	}
	return dropped
}

func (g *Guard) persistLocked() {
	if len(g.pending) == 0 {
		g.store.Delete(KindPending, "")
		return
	}
	data, err := json.Marshal(g.pending)
	if err != nil {
		g.logger.Error("pending mutations encode failed", "err", err)
		return
	}
	g.store.Put(KindPending, "", data)
}

// ============================================================================
// Like toggle
// ============================================================================

// ToggleLike computes the like state after actor toggles a like on post. If
// actor already likes the post the like is removed and the count decremented
// (never below zero); otherwise it is added and the count incremented.
func ToggleLike(post Post, actor string) (likes int, likedBy []string) {
	if containsID(post.LikedBy, actor) {
		likedBy = make([]string, 0, len(post.LikedBy))
		for _, id := range post.LikedBy {
			if !SameID(id, actor) {
				likedBy = append(likedBy, id)
			}
		}
		likes = post.Likes - 1
		if likes < 0 {
			likes = 0
		}
		return likes, likedBy
	}
	likedBy = append(append(make([]string, 0, len(post.LikedBy)+1), post.LikedBy...), actor)
	return post.Likes + 1, likedBy
}
