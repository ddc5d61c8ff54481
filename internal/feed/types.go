// Package feed provides the domain model, candidate retrieval, and
// page assembly for personalized content feeds.
package feed

import (
	"errors"
	"time"
)

// Common errors for feed operations.
var (
	ErrPostNotFound = errors.New("post not found")
	ErrInvalidLimit = errors.New("limit must be > 0")
)

// Type identifies a feed variant. Ranked feeds are ordered by relevance
// score; chronological feeds are ordered strictly by recency.
type Type string

// Supported feed types.
const (
	TypeForYou    Type = "for_you"
	TypeFollowing Type = "following"
	TypeExplore   Type = "explore"
)

// Ranked reports whether this feed type is score-ordered. Ranked feeds
// need a server-side session to avoid repeats across pages because score
// order is not monotonic with post ID.
func (t Type) Ranked() bool {
	return t == TypeForYou || t == TypeExplore
}

// Valid reports whether t is a known feed type.
func (t Type) Valid() bool {
	switch t {
	case TypeForYou, TypeFollowing, TypeExplore:
		return true
	}
	return false
}

// Engagement holds the interaction counters for a post. Missing counters
// are zero values.
type Engagement struct {
	Likes    int64 `json:"likes"`
	Reposts  int64 `json:"reposts"`
	Comments int64 `json:"comments"`
	Saves    int64 `json:"saves"`
	Views    int64 `json:"views"`
	Shares   int64 `json:"shares"`
}

// Total returns the sum of all engagement counters excluding views.
func (e Engagement) Total() int64 {
	return e.Likes + e.Reposts + e.Comments + e.Saves + e.Shares
}

// CandidatePost is a post eligible for inclusion in a feed before ranking.
// Candidates are read-only snapshots for the duration of a ranking pass;
// the external store owns the authoritative record.
type CandidatePost struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"author_id"`
	CreatedAt  time.Time  `json:"created_at"`
	Visibility string     `json:"visibility"`
	Engagement Engagement `json:"engagement"`
	Hashtags   []string   `json:"hashtags,omitempty"`
	Language   string     `json:"language,omitempty"`
	PostType   string     `json:"post_type,omitempty"`

	// Thread and repost linkage
	ParentID *string `json:"parent_id,omitempty"`
	RepostOf *string `json:"repost_of,omitempty"`
}

// BehaviorProfile captures a viewer's learned preferences. It is produced
// and mutated elsewhere; this subsystem only reads it. A nil profile means
// no personalization signals are available.
type BehaviorProfile struct {
	// AuthorWeights maps author IDs to relationship strength in [0, 1],
	// decaying with recency of interaction.
	AuthorWeights map[string]float64 `json:"author_weights,omitempty"`

	// TopicWeights maps lowercase hashtag topics to preference weight.
	TopicWeights map[string]float64 `json:"topic_weights,omitempty"`

	// TypeAffinity counts interactions per post type.
	TypeAffinity map[string]int64 `json:"type_affinity,omitempty"`

	// ActiveHours is a histogram of activity by hour of day (0-23).
	ActiveHours [24]int64 `json:"active_hours"`

	// Language is the viewer's preferred language.
	Language string `json:"language,omitempty"`

	// Negative signal sets. Authors in any of the first three sets are
	// fully suppressed; hidden topics halve a post's score.
	HiddenAuthors  map[string]struct{} `json:"hidden_authors,omitempty"`
	MutedAuthors   map[string]struct{} `json:"muted_authors,omitempty"`
	BlockedAuthors map[string]struct{} `json:"blocked_authors,omitempty"`
	HiddenTopics   map[string]struct{} `json:"hidden_topics,omitempty"`
}

// SuppressesAuthor reports whether the profile fully suppresses posts by
// the given author (hidden, muted, or blocked).
func (p *BehaviorProfile) SuppressesAuthor(authorID string) bool {
	if p == nil {
		return false
	}
	if _, ok := p.HiddenAuthors[authorID]; ok {
		return true
	}
	if _, ok := p.MutedAuthors[authorID]; ok {
		return true
	}
	_, ok := p.BlockedAuthors[authorID]
	return ok
}

// HidesTopic reports whether the given topic is on the viewer's
// hidden-topics list.
func (p *BehaviorProfile) HidesTopic(topic string) bool {
	if p == nil {
		return false
	}
	_, ok := p.HiddenTopics[topic]
	return ok
}

// ViewerContext bundles everything the ranking pass needs to know about
// the requesting viewer. A zero ViewerID marks an anonymous viewer, which
// receives neutral personalization and bypasses caching.
type ViewerContext struct {
	ViewerID  string
	Following map[string]struct{}
	Profile   *BehaviorProfile
}

// Anonymous reports whether the viewer is unauthenticated.
func (v ViewerContext) Anonymous() bool {
	return v.ViewerID == ""
}

// Follows reports whether the viewer follows the given author.
func (v ViewerContext) Follows(authorID string) bool {
	_, ok := v.Following[authorID]
	return ok
}

// ScoredPost pairs a candidate with its computed relevance score and the
// original retrieval rank used for deterministic tie-breaking.
type ScoredPost struct {
	Post  CandidatePost `json:"post"`
	Score float64       `json:"score"`

	// RetrievalRank is the candidate's position in the original
	// reverse-chronological retrieval order.
	RetrievalRank int `json:"retrieval_rank"`
}
