// Package trending computes trending topics over sliding time windows.
// Each aggregation cycle wholesale-replaces the stored entries per window
// (delete-then-insert, not merge) so stale ranks never linger, and
// concurrent runs across instances stay idempotent: last writer wins.
package trending

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Window tags a sliding aggregation window.
type Window string

// Supported windows: topics are aggregated over a long window with a
// short window detecting acceleration.
const (
	WindowLong  Window = "24h"
	WindowShort Window = "6h"
)

// Window durations.
const (
	LongWindowSpan  = 24 * time.Hour
	ShortWindowSpan = 6 * time.Hour
)

// Valid reports whether w is a known window tag.
func (w Window) Valid() bool {
	return w == WindowLong || w == WindowShort
}

// Span returns the window's duration.
func (w Window) Span() time.Duration {
	if w == WindowShort {
		return ShortWindowSpan
	}
	return LongWindowSpan
}

// Entry is one trending topic within a window.
type Entry struct {
	Topic    string  `json:"topic" cbor:"1,keyasint"`
	Window   Window  `json:"window" cbor:"2,keyasint"`
	Volume   int64   `json:"volume" cbor:"3,keyasint"`
	Momentum float64 `json:"momentum" cbor:"4,keyasint"`
	Score    float64 `json:"score" cbor:"5,keyasint"`
	Rank     int     `json:"rank" cbor:"6,keyasint"`
}

// HashtagSource aggregates hashtag occurrence counts from the candidate
// store.
type HashtagSource interface {
	CountHashtags(ctx context.Context, since time.Time) (map[string]int64, error)
}

// Store persists computed trending entries per window.
type Store interface {
	// Replace wholesale-replaces the entries for a window. The cached
	// copy carries the given TTL; the persisted copy does not expire.
	Replace(ctx context.Context, window Window, entries []Entry, ttl time.Duration) error

	// Get returns up to limit entries for a window, serving the cached
	// copy when live and falling back to the last persisted aggregation
	// otherwise. It never triggers a fresh computation.
	Get(ctx context.Context, window Window, limit int) ([]Entry, error)
}

// DefaultInterval is the default aggregation cadence; the read cache TTL
// matches it.
const DefaultInterval = time.Hour

// Aggregator computes trending topics and serves cached reads.
type Aggregator struct {
	source   HashtagSource
	store    Store
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewAggregator creates an aggregator. A zero interval uses
// DefaultInterval.
func NewAggregator(source HashtagSource, store Store, interval time.Duration, logger *slog.Logger) *Aggregator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		source:   source,
		store:    store,
		interval: interval,
		logger:   logger.With("component", "trending"),
		now:      time.Now,
	}
}

// Calculate aggregates hashtag counts over both windows and replaces the
// stored entries for each. Running it twice over identical input data
// produces identical rank assignments.
func (a *Aggregator) Calculate(ctx context.Context) error {
	now := a.now()

	longCounts, err := a.source.CountHashtags(ctx, now.Add(-LongWindowSpan))
	if err != nil {
		return fmt.Errorf("count long window hashtags: %w", err)
	}
	shortCounts, err := a.source.CountHashtags(ctx, now.Add(-ShortWindowSpan))
	if err != nil {
		return fmt.Errorf("count short window hashtags: %w", err)
	}

	longEntries := buildEntries(WindowLong, longCounts, longCounts, shortCounts)
	shortEntries := buildEntries(WindowShort, shortCounts, longCounts, shortCounts)

	if err := a.store.Replace(ctx, WindowLong, longEntries, a.interval); err != nil {
		return fmt.Errorf("replace %s entries: %w", WindowLong, err)
	}
	if err := a.store.Replace(ctx, WindowShort, shortEntries, a.interval); err != nil {
		return fmt.Errorf("replace %s entries: %w", WindowShort, err)
	}

	a.logger.Info("trending aggregation completed",
		"long_topics", len(longEntries),
		"short_topics", len(shortEntries))
	return nil
}

// GetTrending returns up to limit trending entries for a window.
func (a *Aggregator) GetTrending(ctx context.Context, window Window, limit int) ([]Entry, error) {
	if !window.Valid() {
		return nil, fmt.Errorf("unknown trending window %q", window)
	}
	return a.store.Get(ctx, window, limit)
}

// Momentum computes the short-window share of long-window volume, scaled
// by the window-span ratio and clamped to [0, 1]. A topic whose entire
// volume arrived within the short window has momentum 1.
func Momentum(shortCount, longCount int64) float64 {
	if longCount <= 0 {
		return 0
	}

	ratio := float64(LongWindowSpan) / float64(ShortWindowSpan)
	momentum := (float64(shortCount) * ratio) / float64(longCount)
	if momentum < 0 {
		return 0
	}
	if momentum > 1 {
		return 1
	}
	return momentum
}

// CompositeScore combines a window's volume with momentum so accelerating
// topics outrank steady ones of equal volume.
func CompositeScore(volume int64, momentum float64) float64 {
	return float64(volume) * (1 + momentum*0.5)
}

// buildEntries scores and dense-ranks the topics of one window.
func buildEntries(window Window, volumes, longCounts, shortCounts map[string]int64) []Entry {
	entries := make([]Entry, 0, len(volumes))
	for topic, volume := range volumes {
		// Each window scores on its own volume: the 6h list ranks by
		// recent activity rather than echoing the 24h ordering. Momentum
		// always compares the short window against the long one.
		momentum := Momentum(shortCounts[topic], longCounts[topic])
		entries = append(entries, Entry{
			Topic:    topic,
			Window:   window,
			Volume:   volume,
			Momentum: momentum,
			Score:    CompositeScore(volume, momentum),
		})
	}

	// Deterministic order: score DESC, topic ASC as tie-break, so
	// identical input always yields identical ranks.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Topic < entries[j].Topic
	})

	// Dense ranks: equal scores share a rank, the next distinct score
	// takes the next consecutive rank.
	rank := 0
	var prevScore float64
	for i := range entries {
		if i == 0 || entries[i].Score != prevScore {
			rank++
			prevScore = entries[i].Score
		}
		entries[i].Rank = rank
	}

	return entries
}
