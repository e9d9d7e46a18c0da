package socialhub

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Social mutations
//
// Each mutation is one gateway call. Nothing is cached optimistically here
// (likes are the guard's job); on success the affected entries are patched or
// invalidated so the next read shows the change.
// ============================================================================

// ── Friendship ───────────────────────────────────────────

// SendFriendRequest asks receiverID to become the session user's friend.
func (h *Hub) SendFriendRequest(ctx context.Context, receiverID string) error {
	me, other, err := h.pair(receiverID)
	if err != nil {
		return err
	}
	payload := map[string]string{"sender_id": me.ID, "receiver_id": other}
	if _, err := h.remote.Call(ctx, ActionAddFriendRequest, payload, SizeSmall); err != nil {
		return fmt.Errorf("send friend request: %w", err)
	}
	h.cache.invalidateSocial(other)
	return nil
}

// CancelFriendRequest withdraws a request the session user sent to
// receiverID.
func (h *Hub) CancelFriendRequest(ctx context.Context, receiverID string) error {
	me, other, err := h.pair(receiverID)
	if err != nil {
		return err
	}
	return h.deleteRequest(ctx, me.ID, other)
}

// IgnoreFriendRequest declines a request senderID sent to the session user.
func (h *Hub) IgnoreFriendRequest(ctx context.Context, senderID string) error {
	me, other, err := h.pair(senderID)
	if err != nil {
		return err
	}
	return h.deleteRequest(ctx, other, me.ID)
}

func (h *Hub) deleteRequest(ctx context.Context, sender, receiver string) error {
	payload := map[string]string{"sender_id": sender, "receiver_id": receiver}
	if _, err := h.remote.Call(ctx, ActionDeleteFriendRequest, payload, SizeSmall); err != nil {
		return fmt.Errorf("delete friend request: %w", err)
	}
	h.cache.invalidateSocial(sender)
	h.cache.invalidateSocial(receiver)
	return nil
}

// AcceptFriendRequest accepts the request friendID sent to the session user
// and refreshes the session profile so the new friend shows up.
func (h *Hub) AcceptFriendRequest(ctx context.Context, friendID string) error {
	return h.friendship(ctx, ActionAcceptFriendRequest, friendID)
}

// RemoveFriend ends a friendship on both sides.
func (h *Hub) RemoveFriend(ctx context.Context, friendID string) error {
	return h.friendship(ctx, ActionRemoveFriend, friendID)
}

func (h *Hub) friendship(ctx context.Context, action Action, friendID string) error {
	me, other, err := h.pair(friendID)
	if err != nil {
		return err
	}
	payload := map[string]string{"user_id": me.ID, "friend_id": other}
	if _, err := h.remote.Call(ctx, action, payload, SizeSmall); err != nil {
		return fmt.Errorf("%s: %w", strings.ToLower(string(action)), err)
	}
	h.cache.invalidateSocial(me.ID)
	h.cache.invalidateSocial(other)
	h.cache.dropProfile(other)
	if err := h.RefreshSession(ctx); err != nil {
		h.logger.Warn("session refresh after friendship change failed", "action", action, "err", err)
	}
	return nil
}

// pair resolves the session user and a trimmed counterpart id.
func (h *Hub) pair(otherID string) (*User, string, error) {
	me := h.CurrentUser()
	if me == nil {
		return nil, "", ErrNoSession
	}
	otherID = strings.TrimSpace(otherID)
	if otherID == "" || SameID(otherID, me.ID) {
		return nil, "", ErrInvalidID
	}
	return me, otherID, nil
}

// ── Posts ────────────────────────────────────────────────

// AddPost publishes a post by the session user and puts it at the top of the
// cached feed.
func (h *Hub) AddPost(ctx context.Context, np NewPost) (Post, error) {
	me := h.CurrentUser()
	if me == nil {
		return Post{}, ErrNoSession
	}
	vis := np.Visibility
	if vis != VisibilityPrivate {
		vis = VisibilityPublic
	}
	post := Post{
		ID:         "p_" + uuid.NewString(),
		UserID:     me.ID,
		Username:   me.Username,
		Avatar:     me.Avatar,
		Image:      np.Image,
		Caption:    np.Caption,
		Visibility: vis,
		Likes:      0,
		LikedBy:    []string{},
		CreatedAt:  h.now().UTC().Format(time.RFC3339Nano),
	}
	gen := h.cache.epoch()
	if _, err := h.remote.Call(ctx, ActionAddPost, post, SizeLarge); err != nil {
		return Post{}, fmt.Errorf("add post: %w", err)
	}
	h.cache.prependPost(gen, post)
	return clonePost(post), nil
}

// UpdatePost edits a post's caption or visibility. Likes go through Like.
func (h *Hub) UpdatePost(ctx context.Context, postID string, upd PostUpdate) error {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return ErrInvalidID
	}
	if upd.Caption == nil && upd.Visibility == nil {
		return nil
	}
	payload := map[string]any{"id": postID}
	if upd.Caption != nil {
		payload["caption"] = *upd.Caption
	}
	if upd.Visibility != nil {
		payload["visibility"] = *upd.Visibility
	}
	if _, err := h.remote.Call(ctx, ActionUpdatePost, payload, SizeSmall); err != nil {
		return fmt.Errorf("update post %s: %w", postID, err)
	}
	h.cache.patchPost(postID, func(p *Post) {
		if upd.Caption != nil {
			p.Caption = *upd.Caption
		}
		if upd.Visibility != nil {
			p.Visibility = *upd.Visibility
		}
	})
	return nil
}

// DeletePost removes a post remotely, from the cached feed and from the guard.
func (h *Hub) DeletePost(ctx context.Context, postID string) error {
	postID = strings.TrimSpace(postID)
	if postID == "" {
		return ErrInvalidID
	}
	if _, err := h.remote.Call(ctx, ActionDeletePost, map[string]string{"id": postID}, SizeSmall); err != nil {
		return fmt.Errorf("delete post %s: %w", postID, err)
	}
	h.cache.removePost(postID)
	h.guard.Clear(postID)
	return nil
}
