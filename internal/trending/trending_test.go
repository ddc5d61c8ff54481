package trending

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/OxyHQ/mention-feed/internal/feed"
)

func TestWindow(t *testing.T) {
	if !WindowLong.Valid() || !WindowShort.Valid() {
		t.Error("expected both windows to be valid")
	}
	if Window("12h").Valid() {
		t.Error("12h should not be a valid window")
	}
	if WindowLong.Span() != LongWindowSpan {
		t.Errorf("long span = %v, want %v", WindowLong.Span(), LongWindowSpan)
	}
	if WindowShort.Span() != ShortWindowSpan {
		t.Errorf("short span = %v, want %v", WindowShort.Span(), ShortWindowSpan)
	}
}

func TestMomentum(t *testing.T) {
	tests := []struct {
		name       string
		shortCount int64
		longCount  int64
		want       float64
	}{
		{"no long volume", 5, 0, 0},
		{"no short volume", 0, 100, 0},
		{"steady rate clamps below one", 25, 100, 1},
		{"all volume in short window clamps to one", 100, 100, 1},
		{"slow topic", 10, 400, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Momentum(tt.shortCount, tt.longCount); got != tt.want {
				t.Errorf("Momentum(%d, %d) = %v, want %v", tt.shortCount, tt.longCount, got, tt.want)
			}
		})
	}
}

func TestCompositeScore(t *testing.T) {
	// Momentum at most halves again on top of volume.
	if got := CompositeScore(100, 0); got != 100 {
		t.Errorf("score with no momentum = %v, want 100", got)
	}
	if got := CompositeScore(100, 1); got != 150 {
		t.Errorf("score with full momentum = %v, want 150", got)
	}

	// Accelerating topics outrank steady ones of equal volume.
	if CompositeScore(100, 0.8) <= CompositeScore(100, 0.1) {
		t.Error("expected momentum to break the volume tie")
	}
}

func seedHashtagSource(now time.Time) *feed.InMemoryCandidateStore {
	store := feed.NewInMemoryCandidateStore()
	add := func(id, tag string, age time.Duration) {
		store.Add(feed.CandidatePost{
			ID:         id,
			AuthorID:   "author-1",
			CreatedAt:  now.Add(-age),
			Visibility: feed.VisibilityPublic,
			Hashtags:   []string{tag},
		})
	}

	// "steady" has volume spread over the long window; "surging" arrived
	// entirely within the short window.
	for i := 0; i < 8; i++ {
		add(fmt.Sprintf("steady-%d", i), "#steady", time.Duration(i+7)*time.Hour)
	}
	for i := 0; i < 8; i++ {
		add(fmt.Sprintf("surging-%d", i), "#surging", time.Duration(i)*20*time.Minute)
	}
	add("old", "#steady", 30*time.Hour)

	return store
}

func TestAggregator_Calculate(t *testing.T) {
	now := time.Now()
	store := NewInMemoryStore()
	agg := NewAggregator(seedHashtagSource(now), store, time.Hour, nil)
	ctx := context.Background()

	if err := agg.Calculate(ctx); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	long, err := agg.GetTrending(ctx, WindowLong, 10)
	if err != nil {
		t.Fatalf("GetTrending: %v", err)
	}
	if len(long) != 2 {
		t.Fatalf("expected 2 long-window topics, got %d", len(long))
	}

	// Equal volume in the long window, but the surging topic's momentum
	// puts it on top.
	if long[0].Topic != "surging" {
		t.Errorf("top topic = %s, want surging", long[0].Topic)
	}
	if long[0].Rank != 1 || long[1].Rank != 2 {
		t.Errorf("ranks = %d, %d, want 1, 2", long[0].Rank, long[1].Rank)
	}
	if long[0].Momentum != 1 {
		t.Errorf("surging momentum = %v, want 1", long[0].Momentum)
	}

	short, err := agg.GetTrending(ctx, WindowShort, 10)
	if err != nil {
		t.Fatalf("GetTrending: %v", err)
	}
	// Only the surging topic has short-window volume.
	if len(short) != 1 || short[0].Topic != "surging" {
		t.Errorf("short window = %+v, want only surging", short)
	}
}

func TestAggregator_CalculateIdempotent(t *testing.T) {
	now := time.Now()
	store := NewInMemoryStore()
	agg := NewAggregator(seedHashtagSource(now), store, time.Hour, nil)
	ctx := context.Background()

	if err := agg.Calculate(ctx); err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	first, _ := agg.GetTrending(ctx, WindowLong, 10)

	if err := agg.Calculate(ctx); err != nil {
		t.Fatalf("second Calculate: %v", err)
	}
	second, _ := agg.GetTrending(ctx, WindowLong, 10)

	if len(first) != len(second) {
		t.Fatalf("entry count changed across runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Topic != second[i].Topic || first[i].Rank != second[i].Rank {
			t.Errorf("position %d changed across runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestAggregator_CalculateReplacesStale(t *testing.T) {
	now := time.Now()
	source := seedHashtagSource(now)
	store := NewInMemoryStore()
	agg := NewAggregator(source, store, time.Hour, nil)
	ctx := context.Background()

	if err := agg.Calculate(ctx); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	// Remove every surging post; the next cycle must drop the topic
	// entirely rather than merge with the previous run.
	for i := 0; i < 8; i++ {
		source.Remove(fmt.Sprintf("surging-%d", i))
	}
	if err := agg.Calculate(ctx); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	long, _ := agg.GetTrending(ctx, WindowLong, 10)
	for _, e := range long {
		if e.Topic == "surging" {
			t.Error("stale topic survived wholesale replacement")
		}
	}
}

func TestAggregator_GetTrendingUnknownWindow(t *testing.T) {
	agg := NewAggregator(feed.NewInMemoryCandidateStore(), NewInMemoryStore(), time.Hour, nil)

	if _, err := agg.GetTrending(context.Background(), Window("12h"), 10); err == nil {
		t.Error("expected an error for an unknown window")
	}
}

func TestAggregator_SourceFailure(t *testing.T) {
	agg := NewAggregator(&failingSource{}, NewInMemoryStore(), time.Hour, nil)

	if err := agg.Calculate(context.Background()); err == nil {
		t.Error("expected source failure to surface")
	}
}

type failingSource struct{}

func (f *failingSource) CountHashtags(ctx context.Context, since time.Time) (map[string]int64, error) {
	return nil, errors.New("source unavailable")
}

func TestInMemoryStore_Limit(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	entries := []Entry{
		{Topic: "a", Rank: 1},
		{Topic: "b", Rank: 2},
		{Topic: "c", Rank: 3},
	}
	if err := store.Replace(ctx, WindowLong, entries, time.Hour); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	got, err := store.Get(ctx, WindowLong, 2)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 2 || got[0].Topic != "a" {
		t.Errorf("got %+v, want first 2 entries", got)
	}

	got, err = store.Get(ctx, WindowShort, 10)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no entries for an unaggregated window, got %d", len(got))
	}
}

func TestBuildEntries_DenseRanks(t *testing.T) {
	volumes := map[string]int64{"a": 10, "b": 10, "c": 5}
	entries := buildEntries(WindowLong, volumes, volumes, map[string]int64{})

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// a and b tie on score and share rank 1; c takes rank 2.
	if entries[0].Rank != 1 || entries[1].Rank != 1 {
		t.Errorf("tied ranks = %d, %d, want 1, 1", entries[0].Rank, entries[1].Rank)
	}
	if entries[2].Rank != 2 {
		t.Errorf("next rank = %d, want 2", entries[2].Rank)
	}
	// Tie-break by topic name keeps output deterministic.
	if entries[0].Topic != "a" || entries[1].Topic != "b" {
		t.Errorf("tie order = %s, %s, want a, b", entries[0].Topic, entries[1].Topic)
	}
}

// Short-window entries score on the short window's own volume, so a topic
// surging in the last 6h can lead that list while still trailing on 24h
// volume. Momentum is shared: it always relates the two windows.
func TestBuildEntries_ShortWindowScoresOwnVolume(t *testing.T) {
	longCounts := map[string]int64{"steady": 100, "surge": 40}
	shortCounts := map[string]int64{"steady": 10, "surge": 35}

	short := buildEntries(WindowShort, shortCounts, longCounts, shortCounts)
	if short[0].Topic != "surge" {
		t.Errorf("short-window leader = %s, want surge", short[0].Topic)
	}
	for _, e := range short {
		want := CompositeScore(shortCounts[e.Topic], Momentum(shortCounts[e.Topic], longCounts[e.Topic]))
		if e.Score != want {
			t.Errorf("%s short score = %v, want %v", e.Topic, e.Score, want)
		}
	}

	long := buildEntries(WindowLong, longCounts, longCounts, shortCounts)
	if long[0].Topic != "steady" {
		t.Errorf("long-window leader = %s, want steady", long[0].Topic)
	}
}
