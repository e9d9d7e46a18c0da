package socialhub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================================
// Query facade
//
// Read operations choose between the memory snapshot, the persisted snapshot
// and a remote fetch. On a soft failure they return whatever the cache can
// still serve together with an error wrapping ErrNoResult; callers that only
// care about rendering something may ignore the error.
// ============================================================================

// GetProfile returns the profile of id. A blank id or an unknown user yields
// nil and no error.
func (h *Hub) GetProfile(ctx context.Context, id string) (*User, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	if u, ok := h.cache.profile(id); ok {
		return &u, nil
	}

	gen := h.cache.epoch()
	v, err, _ := h.flight.Do("profile:"+id, func() (any, error) {
		raw, err := h.remote.Call(ctx, ActionGetProfile, map[string]string{"id": id}, SizeSmall)
		if err != nil {
			return nil, err
		}
		u := NormalizeUser(raw)
		if u != nil {
			h.cache.setProfile(gen, *u)
		}
		return u, nil
	})
	if err != nil {
		h.logger.Warn("profile fetch failed", "action", ActionGetProfile, "user_id", id, "err", err)
		if u, ok := h.cache.persistedProfile(id); ok {
			return &u, fmt.Errorf("get profile %s: %w", id, err)
		}
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}
	u, _ := v.(*User)
	if u == nil {
		return nil, nil
	}
	out := cloneUser(*u)
	return &out, nil
}

// GetAllUsers returns the user directory. Inside the freshness window the
// memory snapshot is returned without a round trip. Otherwise, unless force
// is set, a persisted snapshot is served as is (flash read). Only when neither
// applies is GET_USERS called.
func (h *Hub) GetAllUsers(ctx context.Context, force bool) ([]User, error) {
	if users, ok := h.cache.freshUsers(h.now(), h.freshness); ok {
		return users, nil
	}
	if !force {
		if users, ok := h.cache.flashUsers(); ok {
			return users, nil
		}
	}

	gen := h.cache.epoch()
	v, err, _ := h.flight.Do("users", func() (any, error) {
		raw, err := h.remote.Call(ctx, ActionGetUsers, nil, SizeSmall)
		if err != nil {
			return nil, err
		}
		users := NormalizeUsers(raw)
		h.cache.setUsers(gen, users, h.now())
		return users, nil
	})
	if err != nil {
		h.logger.Warn("users fetch failed", "action", ActionGetUsers, "err", err)
		users, _ := h.cache.flashUsers()
		return users, fmt.Errorf("get users: %w", err)
	}
	return cloneUsers(v.([]User)), nil
}

// GetPosts returns the feed with the same freshness policy as GetAllUsers.
// Live like shadows are overlaid on every path.
func (h *Hub) GetPosts(ctx context.Context, force bool) ([]Post, error) {
	if posts, ok := h.cache.freshPosts(h.now(), h.freshness); ok {
		return h.guard.Apply(posts), nil
	}
	if !force {
		if posts, ok := h.cache.flashPosts(); ok {
			return h.guard.Apply(posts), nil
		}
	}

	gen := h.cache.epoch()
	v, err, _ := h.flight.Do("posts", func() (any, error) {
		raw, err := h.remote.Call(ctx, ActionGetAllPosts, nil, SizeLarge)
		if err != nil {
			return nil, err
		}
		posts := NormalizePosts(raw)
		h.cache.setPosts(gen, posts, h.now())
		return posts, nil
	})
	if err != nil {
		h.logger.Warn("posts fetch failed", "action", ActionGetAllPosts, "err", err)
		posts, _ := h.cache.flashPosts()
		return h.guard.Apply(posts), fmt.Errorf("get posts: %w", err)
	}
	return h.guard.Apply(clonePosts(v.([]Post))), nil
}

// GetUserPosts always fetches the posts of one user, then folds them into the
// main feed snapshot so both views agree. On failure it falls back to that
// user's posts from the cached feed.
func (h *Hub) GetUserPosts(ctx context.Context, id string) ([]Post, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}

	gen := h.cache.epoch()
	v, err, _ := h.flight.Do("user-posts:"+id, func() (any, error) {
		raw, err := h.remote.Call(ctx, ActionGetUserPosts, map[string]string{"user_id": id}, SizeLarge)
		if err != nil {
			return nil, err
		}
		posts := NormalizePosts(raw)
		h.cache.foldPosts(gen, posts)
		return posts, nil
	})
	if err != nil {
		h.logger.Warn("user posts fetch failed", "action", ActionGetUserPosts, "user_id", id, "err", err)
		cached, _ := h.cache.flashPosts()
		mine := make([]Post, 0, len(cached))
		for _, p := range cached {
			if SameID(p.UserID, id) {
				mine = append(mine, p)
			}
		}
		return h.guard.Apply(mine), fmt.Errorf("get user posts %s: %w", id, err)
	}
	return h.guard.Apply(clonePosts(v.([]Post))), nil
}

// GetFriendRequests returns the pending requests received by id. A cached
// entry is served until a mutation or a mega sync replaces it.
func (h *Hub) GetFriendRequests(ctx context.Context, id string) ([]FriendRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}
	if reqs, ok := h.cache.requests(id); ok {
		return reqs, nil
	}
	gen := h.cache.epoch()
	v, err := h.fetchCollection(ctx, "requests:"+id, ActionGetFriendRequests, id, func(raw json.RawMessage) any {
		reqs := NormalizeRequests(raw)
		h.cache.setRequests(gen, id, reqs)
		return reqs
	})
	if err != nil {
		return []FriendRequest{}, fmt.Errorf("get friend requests %s: %w", id, err)
	}
	return append([]FriendRequest{}, v.([]FriendRequest)...), nil
}

// GetNotifications returns the notifications of id, cached like requests.
func (h *Hub) GetNotifications(ctx context.Context, id string) ([]Notification, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}
	if notifs, ok := h.cache.notifications(id); ok {
		return notifs, nil
	}
	gen := h.cache.epoch()
	v, err := h.fetchCollection(ctx, "notifications:"+id, ActionGetNotifications, id, func(raw json.RawMessage) any {
		notifs := NormalizeNotifications(raw)
		h.cache.setNotifications(gen, id, notifs)
		return notifs
	})
	if err != nil {
		return []Notification{}, fmt.Errorf("get notifications %s: %w", id, err)
	}
	return append([]Notification{}, v.([]Notification)...), nil
}

// GetSentRequests returns the pending requests sent by id. It is never cached.
func (h *Hub) GetSentRequests(ctx context.Context, id string) ([]FriendRequest, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvalidID
	}
	raw, err := h.remote.Call(ctx, ActionGetSentRequests, map[string]string{"id": id}, SizeSmall)
	if err != nil {
		h.logger.Warn("sent requests fetch failed", "action", ActionGetSentRequests, "user_id", id, "err", err)
		return []FriendRequest{}, fmt.Errorf("get sent requests %s: %w", id, err)
	}
	return NormalizeRequests(raw), nil
}

func (h *Hub) fetchCollection(ctx context.Context, key string, action Action, id string, store func(json.RawMessage) any) (any, error) {
	v, err, _ := h.flight.Do(key, func() (any, error) {
		raw, err := h.remote.Call(ctx, action, map[string]string{"id": id}, SizeSmall)
		if err != nil {
			return nil, err
		}
		return store(raw), nil
	})
	if err != nil {
		h.logger.Warn("fetch failed", "action", action, "user_id", id, "err", err)
	}
	return v, err
}

// ── Feed helpers ─────────────────────────────────────────

// VisibleTo filters posts down to what viewer may see: their own posts,
// public posts, and private posts of their friends. A nil viewer sees public
// posts only.
func VisibleTo(posts []Post, viewer *User) []Post {
	out := make([]Post, 0, len(posts))
	for _, p := range posts {
		switch {
		case p.Visibility != VisibilityPrivate:
			out = append(out, p)
		case viewer == nil:
		case SameID(p.UserID, viewer.ID), viewer.IsFriend(p.UserID):
			out = append(out, p)
		}
	}
	return out
}

// SearchUsers returns the users whose username contains query, ignoring case
// and skipping self.
func SearchUsers(users []User, query, self string) []User {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []User{}
	}
	var out []User
	for _, u := range users {
		if u.Username == "" || SameID(u.ID, self) {
			continue
		}
		if strings.Contains(strings.ToLower(u.Username), q) {
			out = append(out, u)
		}
	}
	if out == nil {
		out = []User{}
	}
	return out
}
