package socialhub

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ============================================================================
// Normalizer
//
// Everything the remote service returns passes through here before it reaches
// the cache. The service drifts: ids arrive as numbers or strings, liker sets
// and friend lists arrive as JSON arrays or as strings holding JSON arrays,
// like counts arrive as numbers, numeric strings or garbage. None of that
// leaks past this file and nothing here returns an error.
// ============================================================================

// NormalizeUser repairs one raw user record. It returns nil when the record
// has no stable identifier.
func NormalizeUser(raw json.RawMessage) *User {
	r, ok := parseRecord(raw)
	if !ok {
		return nil
	}
	return userFrom(r)
}

// NormalizeUsers repairs a raw user collection, dropping records without an id.
func NormalizeUsers(raw json.RawMessage) []User {
	return usersFrom(parseCollection(raw))
}

// NormalizePosts repairs a raw post collection. Posts without an id are dropped.
func NormalizePosts(raw json.RawMessage) []Post {
	return postsFrom(parseCollection(raw))
}

// NormalizeRequests repairs a raw friend request collection.
func NormalizeRequests(raw json.RawMessage) []FriendRequest {
	return requestsFrom(parseCollection(raw))
}

// NormalizeNotifications repairs a raw notification collection.
func NormalizeNotifications(raw json.RawMessage) []Notification {
	return notificationsFrom(parseCollection(raw))
}

// ── Records ──────────────────────────────────────────────

func userFrom(r gjson.Result) *User {
	if !r.IsObject() {
		return nil
	}
	id := canonicalID(r.Get("id"))
	if id == "" {
		return nil
	}
	return &User{
		ID:        id,
		Username:  text(r.Get("username")),
		Email:     text(r.Get("email")),
		Name:      text(r.Get("name")),
		Avatar:    text(r.Get("avatar")),
		Bio:       text(r.Get("bio")),
		Friends:   idList(r.Get("friends")),
		CreatedAt: text(r.Get("created_at")),
	}
}

func usersFrom(items []gjson.Result) []User {
	users := make([]User, 0, len(items))
	for _, item := range items {
		if u := userFrom(item); u != nil {
			users = append(users, *u)
		}
	}
	return users
}

func postFrom(r gjson.Result) (Post, bool) {
	if !r.IsObject() {
		return Post{}, false
	}
	id := canonicalID(r.Get("id"))
	if id == "" {
		return Post{}, false
	}
	return Post{
		ID:         id,
		UserID:     canonicalID(r.Get("user_id")),
		Username:   text(r.Get("username")),
		Avatar:     text(r.Get("avatar")),
		Author:     profileRef(r.Get("profiles")),
		Image:      text(r.Get("image")),
		Caption:    text(r.Get("caption")),
		Visibility: visibility(r.Get("visibility")),
		Likes:      likeCount(r.Get("likes")),
		LikedBy:    idList(r.Get("liked_by")),
		CreatedAt:  text(r.Get("created_at")),
	}, true
}

func postsFrom(items []gjson.Result) []Post {
	posts := make([]Post, 0, len(items))
	for _, item := range items {
		if p, ok := postFrom(item); ok {
			posts = append(posts, p)
		}
	}
	return posts
}

func requestsFrom(items []gjson.Result) []FriendRequest {
	reqs := make([]FriendRequest, 0, len(items))
	for _, r := range items {
		if !r.IsObject() {
			continue
		}
		sender := canonicalID(r.Get("sender_id"))
		receiver := canonicalID(r.Get("receiver_id"))
		if sender == "" || receiver == "" {
			continue
		}
		status := text(r.Get("status"))
		if status == "" {
			status = "pending"
		}
		ref := profileRef(r.Get("sender_profile"))
		if ref == nil {
			ref = profileRef(r.Get("profiles"))
		}
		reqs = append(reqs, FriendRequest{
			ID:         canonicalID(r.Get("id")),
			SenderID:   sender,
			ReceiverID: receiver,
			Status:     status,
			CreatedAt:  text(r.Get("created_at")),
			Sender:     ref,
		})
	}
	return reqs
}

func notificationsFrom(items []gjson.Result) []Notification {
	notifs := make([]Notification, 0, len(items))
	for _, r := range items {
		if !r.IsObject() {
			continue
		}
		recipient := canonicalID(r.Get("user_id"))
		if recipient == "" {
			recipient = canonicalID(r.Get("receiver_id"))
		}
		notifs = append(notifs, Notification{
			ID:        canonicalID(r.Get("id")),
			UserID:    recipient,
			SenderID:  canonicalID(r.Get("sender_id")),
			Type:      text(r.Get("type")),
			PostID:    canonicalID(r.Get("post_id")),
			Message:   text(r.Get("message")),
			CreatedAt: text(r.Get("created_at")),
			Sender:    profileRef(r.Get("sender_profile")),
		})
	}
	return notifs
}

func profileRef(r gjson.Result) *ProfileRef {
	if r.IsArray() {
		r = r.Get("0")
	}
	if !r.IsObject() {
		return nil
	}
	ref := &ProfileRef{
		Username: text(r.Get("username")),
		Avatar:   text(r.Get("avatar")),
	}
	if ref.Username == "" && ref.Avatar == "" {
		return nil
	}
	return ref
}

// ── Scalars ──────────────────────────────────────────────

func parseRecord(raw []byte) (gjson.Result, bool) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return gjson.Result{}, false
	}
	r := gjson.ParseBytes(raw)
	return r, r.IsObject()
}

// parseCollection accepts a JSON array or a string holding one.
func parseCollection(raw []byte) []gjson.Result {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return nil
	}
	return collection(gjson.ParseBytes(raw))
}

func collection(r gjson.Result) []gjson.Result {
	r = decodeEncoded(r)
	if !r.IsArray() {
		return nil
	}
	return r.Array()
}

// decodeEncoded unwraps a string that itself holds JSON.
func decodeEncoded(r gjson.Result) gjson.Result {
	if r.Type != gjson.String {
		return r
	}
	s := strings.TrimSpace(r.Str)
	if s == "" || !gjson.Valid(s) {
		return gjson.Result{}
	}
	return gjson.Parse(s)
}

// idList decodes a friend list or liker set. Anything that is not an array
// (after unwrapping an encoded string) becomes an empty, non-nil slice.
// Duplicates are dropped; order is kept.
func idList(r gjson.Result) []string {
	ids := []string{}
	r = decodeEncoded(r)
	if !r.IsArray() {
		return ids
	}
	r.ForEach(func(_, v gjson.Result) bool {
		id := canonicalID(v)
		if id != "" && !containsID(ids, id) {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// canonicalID renders numeric and string ids the same way: 7, 7.0 and "7"
// all become "7".
func canonicalID(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return strings.TrimSpace(r.Str)
	case gjson.Number:
		if r.Num == math.Trunc(r.Num) && math.Abs(r.Num) < 1e15 {
			return strconv.FormatInt(int64(r.Num), 10)
		}
		return r.Raw
	}
	return ""
}

func likeCount(r gjson.Result) int {
	var n float64
	switch r.Type {
	case gjson.Number:
		n = r.Num
	case gjson.String:
		s := strings.TrimSpace(r.Str)
		if i, err := strconv.Atoi(s); err == nil {
			n = float64(i)
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			n = f
		}
	}
	if math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(math.Floor(n))
}

func visibility(r gjson.Result) Visibility {
	if strings.EqualFold(strings.TrimSpace(r.String()), string(VisibilityPrivate)) {
		return VisibilityPrivate
	}
	return VisibilityPublic
}

func text(r gjson.Result) string {
	switch r.Type {
	case gjson.String, gjson.Number:
		return r.String()
	}
	return ""
}

// ── Identity comparison ──────────────────────────────────

// SameID compares two identifiers tolerating numeric vs string renderings
// ("7" and "7.0"). Numeric ids are compared digit by digit, so ids beyond
// float64 precision stay distinct.
func SameID(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	na, okA := decimalKey(a)
	nb, okB := decimalKey(b)
	return okA && okB && na == nb
}

// decimalKey reduces an unsigned decimal to a canonical form: no leading
// zeros in the integer part, no trailing zeros in the fraction.
func decimalKey(s string) (string, bool) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" || !allDigits(whole) || !allDigits(frac) {
		return "", false
	}
	whole = strings.TrimLeft(whole, "0")
	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole, true
	}
	return whole + "." + frac, true
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if SameID(v, id) {
			return true
		}
	}
	return false
}
