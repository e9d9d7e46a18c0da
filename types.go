package socialhub

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
// Errors
// ============================================================================

var (
	// ErrNoResult is the uniform "no result" signal of the remote gateway.
	// Timeouts, transport failures, non-success statuses and non-success
	// envelopes all match it via errors.Is.
	ErrNoResult = errors.New("socialhub: no result")

	// ErrStaleSession reports that the session identity can no longer be
	// resolved by the remote service. Callers should force a logout.
	ErrStaleSession = errors.New("socialhub: stale session")

	// ErrNoSession reports that an operation needs a logged-in user.
	ErrNoSession = errors.New("socialhub: no session")

	// ErrInvalidID reports a blank or unusable identifier.
	ErrInvalidID = errors.New("socialhub: invalid id")

	// ErrUnknownPost reports a post id that is not in the cached feed.
	ErrUnknownPost = errors.New("socialhub: unknown post")

	// ErrInvalidUsername reports a profile update that blanks the username.
	ErrInvalidUsername = errors.New("socialhub: invalid username")
)

// CodeStaleSession is the envelope code the service uses for a session
// identity it no longer knows.
const CodeStaleSession = "STALE_SESSION"

// APIError represents a non-success response envelope.
type APIError struct {
	Action  Action `json:"-"`
	Code    string `json:"code"`
	Message string `json:"msg"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Action != "" {
		return fmt.Sprintf("%s: %s", e.Action, msg)
	}
	return msg
}

// Is lets callers treat every API error as "no result", and STALE_SESSION
// codes as ErrStaleSession.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNoResult:
		return true
	case ErrStaleSession:
		return e.Code == CodeStaleSession
	}
	return false
}

// ============================================================================
// Wire envelope
// ============================================================================

// envelope is the response shape of every remote action.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// request is the body of a large-payload call.
type request struct {
	Action  Action `json:"action"`
	Payload any    `json:"payload,omitempty"`
}

// ============================================================================
// Domain Types
// ============================================================================

// Visibility controls who can see a post.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// ProfileRef is the joined author/sender profile the service embeds in posts,
// requests and notifications.
type ProfileRef struct {
	Username string `json:"username,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// User is a normalized user profile.
type User struct {
	ID        string   `json:"id"`
	Username  string   `json:"username,omitempty"`
	Email     string   `json:"email,omitempty"`
	Name      string   `json:"name,omitempty"`
	Avatar    string   `json:"avatar,omitempty"`
	Bio       string   `json:"bio,omitempty"`
	Friends   []string `json:"friends"`
	CreatedAt string   `json:"created_at,omitempty"`
}

// IsFriend reports whether id is in the user's friend list.
func (u *User) IsFriend(id string) bool {
	return u != nil && containsID(u.Friends, id)
}

// ProfileUpdate lists the profile fields to change. Nil fields keep their
// current value.
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Name     *string `json:"name,omitempty"`
	Bio      *string `json:"bio,omitempty"`
	Avatar   *string `json:"avatar,omitempty"`
}

// apply returns u with the update merged in. Usernames are stored lowercase.
func (p ProfileUpdate) apply(u User) User {
	if p.Username != nil {
		u.Username = strings.ToLower(strings.TrimSpace(*p.Username))
	}
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	return u
}

// handle is how u is named in messages to other users.
func handle(u *User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

// Post is a normalized feed post.
type Post struct {
	ID         string      `json:"id"`
	UserID     string      `json:"user_id"`
	Username   string      `json:"username,omitempty"`
	Avatar     string      `json:"avatar,omitempty"`
	Author     *ProfileRef `json:"profiles,omitempty"`
	Image      string      `json:"image,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Visibility Visibility  `json:"visibility"`
	Likes      int         `json:"likes"`
	LikedBy    []string    `json:"liked_by"`
	CreatedAt  string      `json:"created_at,omitempty"`
}

// AuthorName prefers the joined profile over the denormalized username.
func (p Post) AuthorName() string {
	if p.Author != nil && p.Author.Username != "" {
		return p.Author.Username
	}
	return p.Username
}

// AuthorAvatar prefers the joined profile over the denormalized avatar.
func (p Post) AuthorAvatar() string {
	if p.Author != nil && p.Author.Avatar != "" {
		return p.Author.Avatar
	}
	return p.Avatar
}

// LikedByUser reports whether id is in the post's liker set.
func (p Post) LikedByUser(id string) bool {
	return containsID(p.LikedBy, id)
}

// FriendRequest is a pending or accepted friend request.
type FriendRequest struct {
	ID         string      `json:"id,omitempty"`
	SenderID   string      `json:"sender_id"`
	ReceiverID string      `json:"receiver_id"`
	Status     string      `json:"status"`
	CreatedAt  string      `json:"created_at,omitempty"`
	Sender     *ProfileRef `json:"sender_profile,omitempty"`
}

// Notification is a read-only notice created by a mutation side effect.
type Notification struct {
	ID        string      `json:"id,omitempty"`
	UserID    string      `json:"user_id"`
	SenderID  string      `json:"sender_id"`
	Type      string      `json:"type"`
	PostID    string      `json:"post_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	CreatedAt string      `json:"created_at,omitempty"`
	Sender    *ProfileRef `json:"sender_profile,omitempty"`
}

// NewPost describes a post to create.
type NewPost struct {
	Image      string
	Caption    string
	Visibility Visibility
}

// PostUpdate carries the editable non-like fields of a post. Nil fields are
// left untouched.
type PostUpdate struct {
	Caption    *string     `json:"caption,omitempty"`
	Visibility *Visibility `json:"visibility,omitempty"`
}
