package ranking

import (
	"strings"

	"github.com/OxyHQ/mention-feed/internal/feed"
)

// DiversityState is the per-pass accumulator of authors and topics already
// placed earlier in the same ranking pass. It is threaded through the pass
// as an explicit fold value: the scorer reads it to compute the diversity
// penalty, then the ranker folds the scored post back in with Observe.
// Penalties therefore reflect only earlier-ranked items, which makes the
// dependency on pass order explicit and testable in isolation.
type DiversityState struct {
	authors map[string]int
	topics  map[string]int
}

// NewDiversityState returns an empty accumulator for a fresh ranking pass.
func NewDiversityState() DiversityState {
	return DiversityState{
		authors: make(map[string]int),
		topics:  make(map[string]int),
	}
}

// AuthorCount returns how many earlier posts in this pass were authored by
// the given author.
func (d DiversityState) AuthorCount(authorID string) int {
	return d.authors[authorID]
}

// TopicCount returns how many earlier posts in this pass carried the given
// topic.
func (d DiversityState) TopicCount(topic string) int {
	return d.topics[normalizeTopic(topic)]
}

// Penalty computes the multiplicative diversity factor for a post given
// what has been placed earlier in the pass. Each earlier post by the same
// author compounds the author penalty; each earlier occurrence of a shared
// topic compounds the topic penalty.
func (d DiversityState) Penalty(post feed.CandidatePost, w DiversityWeights) float64 {
	factor := 1.0

	for i := 0; i < d.authors[post.AuthorID]; i++ {
		factor *= w.AuthorPenalty
	}

	for _, tag := range post.Hashtags {
		topic := normalizeTopic(tag)
		if topic == "" {
			continue
		}
		for i := 0; i < d.topics[topic]; i++ {
			factor *= w.TopicPenalty
		}
	}

	return factor
}

// Observe folds a placed post into the accumulator and returns the updated
// state for the next scoring step.
func (d DiversityState) Observe(post feed.CandidatePost) DiversityState {
	d.authors[post.AuthorID]++
	for _, tag := range post.Hashtags {
		topic := normalizeTopic(tag)
		if topic == "" {
			continue
		}
		d.topics[topic]++
	}
	return d
}

// normalizeTopic lowercases a hashtag and strips the leading '#'.
func normalizeTopic(tag string) string {
	return strings.ToLower(strings.TrimPrefix(tag, "#"))
}
