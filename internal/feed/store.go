package feed

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// VisibilityPublic is the only visibility this subsystem serves; private
// and follower-scoped posts are filtered upstream by the social graph.
const VisibilityPublic = "public"

// Query describes a candidate retrieval request against the external post
// store: simple filters, reverse-chronological sort, and a limit.
type Query struct {
	// Visibility restricts candidates to the given visibility. Empty
	// means public.
	Visibility string

	// Authors restricts candidates to posts by these authors. Empty
	// means any author.
	Authors []string

	// Languages restricts candidates to the given languages. Empty
	// means any language.
	Languages []string

	// PostTypes restricts candidates to the given post types. Empty
	// means any type.
	PostTypes []string

	// Before excludes posts at or newer than the cursor boundary. Only
	// honored when the cursor carries a timestamp (chronological feeds).
	Before *Cursor

	// ExcludeIDs excludes specific post IDs, typically a ranked-feed
	// session's seen-set.
	ExcludeIDs map[string]struct{}

	// Limit caps the number of returned candidates. Callers fetch
	// limit+1 to detect whether more pages exist.
	Limit int
}

// CandidateStore is the read-only query capability over the external post
// store. Implementations must return candidates in reverse-chronological
// order with a stable ID tie-break.
type CandidateStore interface {
	// ListCandidates returns up to q.Limit posts matching the query,
	// newest first.
	ListCandidates(ctx context.Context, q Query) ([]CandidatePost, error)

	// CountHashtags aggregates hashtag occurrence counts over posts
	// created at or after since. Topics are lowercased.
	CountHashtags(ctx context.Context, since time.Time) (map[string]int64, error)
}

// InMemoryCandidateStore is an in-memory CandidateStore for tests and
// local development. Thread-safe via RWMutex.
type InMemoryCandidateStore struct {
	mu    sync.RWMutex
	posts map[string]*CandidatePost
}

// NewInMemoryCandidateStore creates an empty in-memory candidate store.
func NewInMemoryCandidateStore() *InMemoryCandidateStore {
	return &InMemoryCandidateStore{
		posts: make(map[string]*CandidatePost),
	}
}

// Add inserts or replaces a post.
func (s *InMemoryCandidateStore) Add(post CandidatePost) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := post
	s.posts[post.ID] = &copied
}

// Remove deletes a post by ID. Unknown IDs are ignored.
func (s *InMemoryCandidateStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.posts, id)
}

// Len returns the number of stored posts.
func (s *InMemoryCandidateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}

// ListCandidates returns posts matching the query, newest first with ID
// ascending as tie-break for stable pagination.
func (s *InMemoryCandidateStore) ListCandidates(ctx context.Context, q Query) ([]CandidatePost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	visibility := q.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}

	var authorSet map[string]struct{}
	if len(q.Authors) > 0 {
		authorSet = make(map[string]struct{}, len(q.Authors))
		for _, a := range q.Authors {
			authorSet[a] = struct{}{}
		}
	}

	var candidates []CandidatePost
	for _, post := range s.posts {
		if post.Visibility != visibility {
			continue
		}
		if authorSet != nil {
			if _, ok := authorSet[post.AuthorID]; !ok {
				continue
			}
		}
		if len(q.Languages) > 0 && !containsFold(q.Languages, post.Language) {
			continue
		}
		if len(q.PostTypes) > 0 && !containsFold(q.PostTypes, post.PostType) {
			continue
		}
		if _, ok := q.ExcludeIDs[post.ID]; ok {
			continue
		}

		// Cursor boundary: only posts strictly after the boundary in
		// (created_at DESC, id ASC) order qualify for the next page.
		if q.Before != nil && q.Before.Timestamp != nil {
			if post.CreatedAt.After(*q.Before.Timestamp) {
				continue
			}
			if post.CreatedAt.Equal(*q.Before.Timestamp) && post.ID <= q.Before.LastID {
				continue
			}
		}

		candidates = append(candidates, *post)
	}

	sortCandidatesByCreatedDesc(candidates)

	if q.Limit > 0 && len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}

	return candidates, nil
}

// CountHashtags aggregates hashtag counts over posts created at or after
// since. Topics are lowercased so #Music and #music count together.
func (s *InMemoryCandidateStore) CountHashtags(ctx context.Context, since time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, post := range s.posts {
		if post.CreatedAt.Before(since) {
			continue
		}
		for _, tag := range post.Hashtags {
			topic := strings.ToLower(strings.TrimPrefix(tag, "#"))
			if topic == "" {
				continue
			}
			counts[topic]++
		}
	}

	return counts, nil
}

// containsFold reports whether values contains v, case-insensitively.
func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, v) {
			return true
		}
	}
	return false
}

// sortCandidatesByCreatedDesc sorts posts by created_at DESC, then by ID
// ASC for tie-breaking, matching the retrieval order the ranker assumes.
func sortCandidatesByCreatedDesc(posts []CandidatePost) {
	sort.Slice(posts, func(i, j int) bool {
		if posts[i].CreatedAt.After(posts[j].CreatedAt) {
			return true
		}
		if posts[i].CreatedAt.Before(posts[j].CreatedAt) {
			return false
		}
		return posts[i].ID < posts[j].ID
	})
}
