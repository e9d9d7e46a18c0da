package socialhub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultFreshnessWindow = 45 * time.Second
	DefaultSyncInterval    = 30 * time.Second
)

// HubOptions configures a Hub. Zero fields take their defaults.
type HubOptions struct {
	// FreshnessWindow is how long fetched users/posts are reused without a
	// new round trip.
	FreshnessWindow time.Duration
	// GracePeriod is how long a like/unlike shadows server data.
	GracePeriod time.Duration
	// SyncInterval is the period of the background mega sync started by Start.
	SyncInterval time.Duration
	Logger       *slog.Logger
	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Hub is the SDK's entry point: the query facade, the sync engine and the
// optimistic mutation guard over one shared cache.
type Hub struct {
	emitter
	remote Remote
	cache  *cache
	guard  *Guard
	logger *slog.Logger
	now    func() time.Time

	freshness    time.Duration
	syncInterval time.Duration

	flight singleflight.Group
	tasks  sync.WaitGroup

	mu      sync.Mutex
	stopCh  chan struct{}
	started bool
	stopped bool
}

// NewHub wires a hub over remote and store. The hub owns neither; closing the
// store is the caller's job.
func NewHub(remote Remote, store Store, opts *HubOptions) *Hub {
	h := &Hub{
		emitter:      emitter{listeners: make(map[string][]EventHandler)},
		remote:       remote,
		freshness:    DefaultFreshnessWindow,
		syncInterval: DefaultSyncInterval,
		logger:       slog.Default(),
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	var grace time.Duration
	if opts != nil {
		if opts.FreshnessWindow > 0 {
			h.freshness = opts.FreshnessWindow
		}
		if opts.SyncInterval > 0 {
			h.syncInterval = opts.SyncInterval
		}
		if opts.Logger != nil {
			h.logger = opts.Logger
		}
		if opts.Clock != nil {
			h.now = opts.Clock
		}
		grace = opts.GracePeriod
	}
	h.cache = newCache(store, h.logger)
	h.guard = NewGuard(store, grace, h.now, h.logger)
	return h
}

// Guard exposes the hub's pending-mutation guard.
func (h *Hub) Guard() *Guard {
	return h.guard
}

// Start runs one mega sync immediately and then every SyncInterval until
// Close. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started || h.stopped {
		return
	}
	h.started = true
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		h.syncLoop()
	}()
}

// Close stops the sync loop and waits for background reconciliation to
// finish. In-flight remote writes are not cancelled; each is bounded by the
// gateway timeout.
func (h *Hub) Close() {
	h.mu.Lock()
	if !h.stopped {
		h.stopped = true
		close(h.stopCh)
	}
	h.mu.Unlock()
	h.tasks.Wait()
	h.removeAll()
}

// background runs fn on its own goroutine, tracked by Close. fn gets ctx's
// values but not its cancellation: the caller usually returns first.
func (h *Hub) background(ctx context.Context, fn func(ctx context.Context)) {
	bg := context.WithoutCancel(ctx)
	h.tasks.Add(1)
	go func() {
		defer h.tasks.Done()
		fn(bg)
	}()
}

// ============================================================================
// Optimistic likes
// ============================================================================

// RecordIntent takes the user's intended like state for postID as truth for
// the grace period: the shadow is (re)armed, the cached post is patched in
// memory and on disk, and UPDATE_POST is forwarded in the background. A
// failed forward is logged and emitted as mutation.failed; the shadow stays.
func (h *Hub) RecordIntent(ctx context.Context, postID string, likes int, likedBy []string) error {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return ErrInvalidID
	}
	s := h.guard.Record(postID, likes, likedBy)
	h.cache.patchPost(postID, func(p *Post) {
		p.Likes = s.Likes
		p.LikedBy = append([]string{}, s.LikedBy...)
	})

	payload := map[string]any{"id": postID, "likes": s.Likes, "liked_by": s.LikedBy}
	h.background(ctx, func(bg context.Context) {
		if _, err := h.remote.Call(bg, ActionUpdatePost, payload, SizeSmall); err != nil {
			h.logger.Warn("like reconciliation failed", "action", ActionUpdatePost, "post_id", postID, "err", err)
			h.emit(EventMutationFailed, map[string]any{"action": ActionUpdatePost, "postId": postID, "error": err.Error()})
		}
	})
	return nil
}

// Like toggles the session user's like on postID, starting from the cached
// post as currently shown (shadow included). Adding a like to someone else's
// post also notifies the author.
func (h *Hub) Like(ctx context.Context, postID string) (Post, error) {
	me := h.CurrentUser()
	if me == nil {
		return Post{}, ErrNoSession
	}
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return Post{}, ErrInvalidID
	}
	post, ok := h.cache.post(postID)
	if !ok {
		return Post{}, fmt.Errorf("like %s: %w", postID, ErrUnknownPost)
	}
	if s, ok := h.guard.Lookup(post.ID); ok {
		post.Likes, post.LikedBy = s.Likes, s.LikedBy
	}

	wasLiked := post.LikedByUser(me.ID)
	post.Likes, post.LikedBy = ToggleLike(post, me.ID)
	if err := h.RecordIntent(ctx, post.ID, post.Likes, post.LikedBy); err != nil {
		return Post{}, err
	}

	if !wasLiked && !SameID(post.UserID, me.ID) && post.UserID != "" {
		note := map[string]any{
			"user_id":   post.UserID,
			"sender_id": me.ID,
			"type":      "like",
			"post_id":   post.ID,
			"message":   handle(me) + " liked your post",
		}
		h.background(ctx, func(bg context.Context) {
			if _, err := h.remote.Call(bg, ActionAddNotification, note, SizeSmall); err != nil {
				h.logger.Warn("like notification failed", "post_id", post.ID, "err", err)
			}
		})
	}
	return post, nil
}
