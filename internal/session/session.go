// Package session provides durable, TTL-expiring feed sessions. A session
// records which post IDs a browsing session has already been shown so
// ranked (non-chronological) pagination can exclude them without carrying
// an ever-growing list in the cursor.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Common errors for session operations.
var (
	// ErrNotFound is returned when a session does not exist or has
	// expired. Callers treat it as "start a fresh session".
	ErrNotFound = errors.New("session not found")
)

// DefaultTTL is the fixed session lifetime. Sessions are deleted by TTL
// expiry; there is no explicit delete path.
const DefaultTTL = 24 * time.Hour

// Filters captures the feed filter set a session was created with, so
// later pages keep querying the same slice of the candidate store.
type Filters struct {
	Languages []string `json:"languages,omitempty" cbor:"1,keyasint,omitempty"`
	PostTypes []string `json:"post_types,omitempty" cbor:"2,keyasint,omitempty"`
}

// Session is the server-side record of one browsing session over a ranked
// feed.
type Session struct {
	ID         string    `json:"id" cbor:"1,keyasint"`
	ViewerID   string    `json:"viewer_id,omitempty" cbor:"2,keyasint,omitempty"`
	FeedType   string    `json:"feed_type" cbor:"3,keyasint"`
	Filters    Filters   `json:"filters" cbor:"4,keyasint"`
	SeenIDs    []string  `json:"seen_ids" cbor:"5,keyasint"`
	LastCursor string    `json:"last_cursor,omitempty" cbor:"6,keyasint,omitempty"`
	CreatedAt  time.Time `json:"created_at" cbor:"7,keyasint"`
	ExpiresAt  time.Time `json:"expires_at" cbor:"8,keyasint"`
}

// New creates a session with a fresh UUID and the given TTL. A zero ttl
// uses DefaultTTL.
func New(viewerID, feedType string, filters Filters, ttl time.Duration) *Session {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now := time.Now()
	return &Session{
		ID:        uuid.New().String(),
		ViewerID:  viewerID,
		FeedType:  feedType,
		Filters:   filters,
		SeenIDs:   []string{},
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the session has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SeenSet returns the seen post IDs as a set for query exclusion.
func (s *Session) SeenSet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.SeenIDs))
	for _, id := range s.SeenIDs {
		set[id] = struct{}{}
	}
	return set
}

// ViewerFeed is one (viewer, feed type) pair with recent activity, used
// to target cache warming.
type ViewerFeed struct {
	ViewerID string
	FeedType string
}

// Store persists feed sessions. Implementations enforce TTL expiry: a Get
// on an expired session returns ErrNotFound.
type Store interface {
	// Get retrieves a live session by ID.
	Get(ctx context.Context, id string) (*Session, error)

	// Save persists a new or updated session, retaining its TTL.
	Save(ctx context.Context, s *Session) error

	// AppendSeen appends post IDs to the session's seen-set and records
	// the latest cursor position.
	AppendSeen(ctx context.Context, id string, postIDs []string, lastCursor string) error
}
