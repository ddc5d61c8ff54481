package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OxyHQ/mention-feed/internal/engine"
	"github.com/OxyHQ/mention-feed/internal/feed"
	"github.com/OxyHQ/mention-feed/internal/feedcache"
	"github.com/OxyHQ/mention-feed/internal/ranking"
	"github.com/OxyHQ/mention-feed/internal/session"
)

// staticGraph is a fixed follow graph for handler tests.
type staticGraph struct {
	following map[string]map[string]struct{}
}

func (g *staticGraph) Following(ctx context.Context, viewerID string) (map[string]struct{}, error) {
	return g.following[viewerID], nil
}

// newTestEngine builds an engine over an in-memory candidate store seeded
// with recent public posts. The cache runs tier-1 only (no Redis).
func newTestEngine(t *testing.T) (*engine.Engine, *feed.InMemoryCandidateStore) {
	t.Helper()

	store := feed.NewInMemoryCandidateStore()
	now := time.Now()
	for i := 0; i < 30; i++ {
		store.Add(feed.CandidatePost{
			ID:         fmt.Sprintf("post-%03d", i),
			AuthorID:   fmt.Sprintf("author-%d", i%5),
			CreatedAt:  now.Add(-time.Duration(i) * time.Minute),
			Visibility: feed.VisibilityPublic,
			Language:   "en",
			PostType:   "text",
			Engagement: feed.Engagement{Likes: int64(i), Views: int64(i * 10)},
		})
	}

	graph := &staticGraph{following: map[string]map[string]struct{}{
		"viewer-1": {"author-0": {}, "author-1": {}},
	}}

	eng := engine.New(engine.Config{
		Store:    store,
		Ranker:   ranking.NewRanker(ranking.NewScorer(nil), graph, nil, nil),
		Cache:    feedcache.New(nil, feedcache.Config{}),
		Sessions: session.NewInMemoryStore(),
		Graph:    graph,
	})
	return eng, store
}

func TestGetFeed_ForYou(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	req := httptest.NewRequest(http.MethodGet, "/feeds/for_you?viewer_id=viewer-1&limit=10", nil)
	w := httptest.NewRecorder()

	h.GetFeed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var page feed.Page
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(page.Items) != 10 {
		t.Errorf("expected 10 items, got %d", len(page.Items))
	}
	if !page.HasMore {
		t.Error("expected has_more to be true")
	}
	if page.NextCursor == "" {
		t.Error("expected a next_cursor for a partial page")
	}
}

func TestGetFeed_PaginationNoDuplicates(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	seen := make(map[string]bool)
	cursor := ""
	for page := 0; page < 3; page++ {
		url := "/feeds/for_you?viewer_id=viewer-1&limit=10"
		if cursor != "" {
			url += "&cursor=" + cursor
		}
		req := httptest.NewRequest(http.MethodGet, url, nil)
		w := httptest.NewRecorder()

		h.GetFeed(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("page %d: expected status 200, got %d", page, w.Code)
		}

		var resp feed.Page
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("page %d: failed to parse response: %v", page, err)
		}
		for _, item := range resp.Items {
			if seen[item.Post.ID] {
				t.Errorf("page %d: post %s already served on an earlier page", page, item.Post.ID)
			}
			seen[item.Post.ID] = true
		}
		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	if len(seen) != 30 {
		t.Errorf("expected all 30 posts across pages, got %d", len(seen))
	}
}

func TestGetFeed_Following(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	req := httptest.NewRequest(http.MethodGet, "/feeds/following?viewer_id=viewer-1", nil)
	w := httptest.NewRecorder()

	h.GetFeed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var page feed.Page
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatal("expected items from followed authors")
	}
	for i, item := range page.Items {
		if item.Post.AuthorID != "author-0" && item.Post.AuthorID != "author-1" {
			t.Errorf("item %d: author %s is not followed", i, item.Post.AuthorID)
		}
		if i > 0 && item.Post.CreatedAt.After(page.Items[i-1].Post.CreatedAt) {
			t.Errorf("item %d: following feed not in reverse-chronological order", i)
		}
	}
}

func TestGetFeed_UnknownFeedType(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	req := httptest.NewRequest(http.MethodGet, "/feeds/bogus?viewer_id=viewer-1", nil)
	w := httptest.NewRecorder()

	h.GetFeed(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	if resp.Error.Code != ErrCodeUnknownFeedType {
		t.Errorf("expected code %s, got %s", ErrCodeUnknownFeedType, resp.Error.Code)
	}
}

func TestGetFeed_InvalidLimit(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	for _, limit := range []string{"abc", "-5"} {
		req := httptest.NewRequest(http.MethodGet, "/feeds/for_you?viewer_id=viewer-1&limit="+limit, nil)
		w := httptest.NewRecorder()

		h.GetFeed(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected status 400, got %d", limit, w.Code)
		}
	}
}

func TestGetFeed_AnonymousViewer(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	req := httptest.NewRequest(http.MethodGet, "/feeds/explore?limit=5", nil)
	w := httptest.NewRecorder()

	h.GetFeed(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200 for anonymous viewer, got %d: %s", w.Code, w.Body.String())
	}

	var page feed.Page
	if err := json.Unmarshal(w.Body.Bytes(), &page); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(page.Items) != 5 {
		t.Errorf("expected 5 items, got %d", len(page.Items))
	}
}

func TestGetFeed_MethodNotAllowed(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	req := httptest.NewRequest(http.MethodDelete, "/feeds/for_you", nil)
	w := httptest.NewRecorder()

	h.GetFeed(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestWarmFeed(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	body := strings.NewReader(`{"viewer_id": "viewer-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/feeds/for_you/warm", body)
	w := httptest.NewRecorder()

	h.WarmFeed(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}
}

func TestWarmFeed_MissingViewerID(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	body := strings.NewReader(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/feeds/for_you/warm", body)
	w := httptest.NewRecorder()

	h.WarmFeed(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	if resp.Error.Code != ErrCodeValidation {
		t.Errorf("expected code %s, got %s", ErrCodeValidation, resp.Error.Code)
	}
}

func TestWarmFeed_ChronologicalRejected(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	body := strings.NewReader(`{"viewer_id": "viewer-1"}`)
	req := httptest.NewRequest(http.MethodPost, "/feeds/following/warm", body)
	w := httptest.NewRecorder()

	h.WarmFeed(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestInvalidate(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	body := strings.NewReader(`{"feed_types": ["for_you"]}`)
	req := httptest.NewRequest(http.MethodPost, "/viewers/viewer-1/invalidate", body)
	w := httptest.NewRecorder()

	h.Invalidate(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInvalidate_EmptyBody(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	req := httptest.NewRequest(http.MethodPost, "/viewers/viewer-1/invalidate", nil)
	w := httptest.NewRecorder()

	h.Invalidate(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for empty body, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInvalidate_UnknownFeedType(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	body := strings.NewReader(`{"feed_types": ["bogus"]}`)
	req := httptest.NewRequest(http.MethodPost, "/viewers/viewer-1/invalidate", body)
	w := httptest.NewRecorder()

	h.Invalidate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse error response: %v", err)
	}
	if resp.Error.Code != ErrCodeUnknownFeedType {
		t.Errorf("expected code %s, got %s", ErrCodeUnknownFeedType, resp.Error.Code)
	}
}

func TestInvalidate_MissingViewerID(t *testing.T) {
	eng, _ := newTestEngine(t)
	h := NewFeedHandlers(eng)

	req := httptest.NewRequest(http.MethodPost, "/viewers//invalidate", nil)
	w := httptest.NewRecorder()

	h.Invalidate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}
