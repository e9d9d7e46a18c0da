package socialhub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// CurrentUser returns the logged-in user, or nil for an anonymous session. A
// stored identity without a usable id is discarded.
func (h *Hub) CurrentUser() *User {
	raw, ok := h.cache.session()
	if !ok {
		return nil
	}
	u := NormalizeUser(raw)
	if u == nil {
		h.logger.Warn("discarding malformed session")
		h.cache.dropSession()
		return nil
	}
	return u
}

// SetCurrentUser stores u as the session identity. A nil user or one without
// an id is rejected.
func (h *Hub) SetCurrentUser(u *User) error {
	if u == nil || u.ID == "" {
		return ErrInvalidID
	}
	h.cache.setSession(h.cache.epoch(), *u)
	return nil
}

// ClearCurrentUser logs out: every cached kind, memory snapshot and pending
// like is dropped.
func (h *Hub) ClearCurrentUser() {
	h.cache.clearAll()
	h.guard.Reset()
}

// RefreshSession re-reads the session user's profile so friend lists and
// avatars changed elsewhere show up. It returns ErrStaleSession when the
// service no longer knows the user. Without a session it does nothing.
func (h *Hub) RefreshSession(ctx context.Context) error {
	me := h.CurrentUser()
	if me == nil {
		return nil
	}
	gen := h.cache.epoch()
	raw, err := h.remote.Call(ctx, ActionGetProfile, map[string]string{"id": me.ID}, SizeSmall)
	if err != nil {
		if errors.Is(err, ErrStaleSession) {
			h.emit(EventSessionStale, map[string]any{"userId": me.ID})
			return ErrStaleSession
		}
		h.logger.Warn("session refresh failed", "action", ActionGetProfile, "user_id", me.ID, "err", err)
		return fmt.Errorf("refresh session: %w", err)
	}
	fresh := NormalizeUser(raw)
	if fresh == nil {
		h.logger.Warn("session user no longer exists", "user_id", me.ID)
		h.emit(EventSessionStale, map[string]any{"userId": me.ID})
		return ErrStaleSession
	}
	if !h.cache.setSession(gen, *fresh) {
		h.logger.Debug("session refresh discarded, logged out meanwhile", "user_id", me.ID)
	}
	return nil
}

// ============================================================================
// Account
// ============================================================================

// UpdateProfile merges upd into the session user and sends the whole record
// with UPDATE_USER. On success the session and its cached profile take the
// service's copy, or the merged record when the service echoes nothing.
func (h *Hub) UpdateProfile(ctx context.Context, upd ProfileUpdate) (*User, error) {
	me := h.CurrentUser()
	if me == nil {
		return nil, ErrNoSession
	}
	merged := upd.apply(*me)
	if merged.Username == "" {
		return nil, fmt.Errorf("update profile: %w", ErrInvalidUsername)
	}
	if merged.Friends == nil {
		merged.Friends = []string{}
	}
	friends, err := json.Marshal(merged.Friends)
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	payload := map[string]any{
		"id":       merged.ID,
		"username": merged.Username,
		"email":    merged.Email,
		"name":     merged.Name,
		"bio":      merged.Bio,
		"avatar":   merged.Avatar,
		"friends":  string(friends),
	}
	if merged.CreatedAt != "" {
		payload["created_at"] = merged.CreatedAt
	}

	gen := h.cache.epoch()
	raw, err := h.remote.Call(ctx, ActionUpdateUser, payload, SizeLarge)
	if err != nil {
		h.logger.Warn("profile update failed", "action", ActionUpdateUser, "user_id", me.ID, "err", err)
		return nil, fmt.Errorf("update profile: %w", err)
	}
	updated := NormalizeUser(raw)
	if updated == nil || !SameID(updated.ID, me.ID) {
		updated = &merged
	}
	if !h.cache.setSession(gen, *updated) {
		h.logger.Debug("profile update not cached, logged out meanwhile", "user_id", me.ID)
	}
	return updated, nil
}

// DeleteAccount deletes the session user with DELETE_USER and logs out. A
// failed call keeps the session.
func (h *Hub) DeleteAccount(ctx context.Context) error {
	me := h.CurrentUser()
	if me == nil {
		return ErrNoSession
	}
	if _, err := h.remote.Call(ctx, ActionDeleteUser, map[string]string{"id": me.ID}, SizeSmall); err != nil {
		h.logger.Warn("account deletion failed", "action", ActionDeleteUser, "user_id", me.ID, "err", err)
		return fmt.Errorf("delete account: %w", err)
	}
	h.logger.Info("account deleted", "user_id", me.ID)
	h.ClearCurrentUser()
	return nil
}
