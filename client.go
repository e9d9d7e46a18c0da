// Package socialhub is the Go SDK for the SocialHub data service.
//
// It keeps a locally persisted, instantly readable copy of the feed (users,
// posts, friend requests, notifications) and reconciles it with a slow and
// occasionally unreachable remote service.
//
// Example:
//
//	store, _ := socialhub.OpenSQLiteStorage("cache.db", nil)
//	client := socialhub.NewClient("https://api.socialhub.example")
//	hub := socialhub.NewHub(client, store, nil)
//	hub.Start()
//	defer hub.Close()
//
//	posts, _ := hub.GetPosts(ctx, false)
//	hub.Like(ctx, posts[0].ID)
package socialhub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Actions
// ============================================================================

// Action names one remote operation.
type Action string

const (
	ActionMegaSync            Action = "MEGA_SYNC"
	ActionGetProfile          Action = "GET_PROFILE"
	ActionGetUsers            Action = "GET_USERS"
	ActionUpdateUser          Action = "UPDATE_USER"
	ActionDeleteUser          Action = "DELETE_USER"
	ActionGetAllPosts         Action = "GET_ALL_POSTS"
	ActionGetUserPosts        Action = "GET_USER_POSTS"
	ActionAddPost             Action = "ADD_POST"
	ActionUpdatePost          Action = "UPDATE_POST"
	ActionDeletePost          Action = "DELETE_POST"
	ActionGetFriendRequests   Action = "GET_FRIEND_REQUESTS"
	ActionGetSentRequests     Action = "GET_SENT_REQUESTS"
	ActionAddFriendRequest    Action = "ADD_FRIEND_REQUEST"
	ActionDeleteFriendRequest Action = "DELETE_FRIEND_REQUEST"
	ActionAcceptFriendRequest Action = "ACCEPT_FRIEND_REQUEST"
	ActionRemoveFriend        Action = "REMOVE_FRIEND"
	ActionGetNotifications    Action = "GET_NOTIFICATIONS"
	ActionAddNotification     Action = "ADD_NOTIFICATION"
)

// SizeClass tells the gateway how large a call's payload or result is.
type SizeClass int

const (
	// SizeSmall is for metadata calls (profiles, request lists). They travel
	// as query-style GET requests.
	SizeSmall SizeClass = iota
	// SizeLarge is for calls carrying posts and images. They travel as
	// JSON POST bodies.
	SizeLarge
)

// Remote is the single contract the SDK consumes from the data service.
//
// Call never panics. Any failure (timeout, transport, non-success status or
// envelope) returns an error matching ErrNoResult; a successful call that
// found nothing returns an empty collection and a nil error.
type Remote interface {
	Call(ctx context.Context, action Action, payload any, size SizeClass) (json.RawMessage, error)
}

// ============================================================================
// Client
// ============================================================================

const (
	DefaultBaseURL = "http://localhost:8080"
	DefaultTimeout = 12 * time.Second

	maxErrorBody = 4 << 10
)

// Client is the HTTP implementation of Remote. It is stateless: it caches
// nothing and every Call is a fresh request.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout bounds every call. Exceeding it yields the same failure as a
// network error.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithToken sets the bearer token sent with every call.
func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// NewClient creates a gateway for the service at baseURL. An empty baseURL
// uses DefaultBaseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		timeout:    DefaultTimeout,
		httpClient: &http.Client{},
	}
	if baseURL != "" {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the bearer token.
func (c *Client) SetToken(token string) {
	c.token = token
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call issues one request for action and returns the envelope's data.
func (c *Client) Call(ctx context.Context, action Action, payload any, size SizeClass) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, action, payload, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", action, ErrNoResult, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: request failed: %w", action, ErrNoResult, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%s: %w: status %d: %s", action, ErrNoResult, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: read response: %w", action, ErrNoResult, err)
	}
	env, err := decodeJSON[envelope](data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", action, ErrNoResult, err)
	}
	if !env.Success {
		return nil, &APIError{Action: action, Code: env.Code, Message: env.Msg}
	}
	return env.Data, nil
}

func (c *Client) newRequest(ctx context.Context, action Action, payload any, size SizeClass) (*http.Request, error) {
	endpoint := c.baseURL + "/api"

	var req *http.Request
	switch size {
	case SizeLarge:
		b, err := json.Marshal(request{Action: action, Payload: payload})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
	default:
		params := url.Values{}
		params.Set("action", string(action))
		if payload != nil {
			b, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal request: %w", err)
			}
			params.Set("payload", string(b))
		}
		var err error
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
