// Package engine wires candidate retrieval, ranking, caching, and
// pagination into the feed serving path. It is the composition root for
// the core components: constructed once at process start with explicit
// collaborators, torn down at shutdown.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/OxyHQ/mention-feed/internal/feed"
	"github.com/OxyHQ/mention-feed/internal/feedcache"
	"github.com/OxyHQ/mention-feed/internal/ranking"
	"github.com/OxyHQ/mention-feed/internal/session"
	"github.com/OxyHQ/mention-feed/internal/tracing"
)

// Request parameters and bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ErrUnknownFeedType is returned for feed types outside the supported set.
var ErrUnknownFeedType = errors.New("unknown feed type")

// Request is one feed page request.
type Request struct {
	ViewerID string
	FeedType feed.Type
	Cursor   string
	Limit    int
	Filters  session.Filters
}

// Engine serves feed pages.
type Engine struct {
	store      feed.CandidateStore
	ranker     *ranking.Ranker
	cache      *feedcache.Cache
	sessions   session.Store
	paginator  *feed.Paginator
	graph      ranking.GraphLookup
	sessionTTL time.Duration
	logger     *slog.Logger
}

// Config holds engine construction parameters.
type Config struct {
	Store      feed.CandidateStore
	Ranker     *ranking.Ranker
	Cache      *feedcache.Cache
	Sessions   session.Store
	Graph      ranking.GraphLookup
	SessionTTL time.Duration
	Logger     *slog.Logger
}

// New creates a feed engine from its collaborators.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	return &Engine{
		store:      cfg.Store,
		ranker:     cfg.Ranker,
		cache:      cfg.Cache,
		sessions:   cfg.Sessions,
		paginator:  feed.NewPaginator(cfg.Sessions, cfg.Logger),
		graph:      cfg.Graph,
		sessionTTL: cfg.SessionTTL,
		logger:     cfg.Logger.With("component", "engine"),
	}
}

// GetFeed serves one page of the requested feed. Ranked feeds (for-you,
// explore) are score-ordered with session-based duplicate exclusion and
// first-page caching; the following feed is chronological with a plain
// boundary cursor. Cache, session, and social-graph trouble degrade the
// result rather than failing it; only candidate-store errors and ranking
// invariant violations propagate.
func (e *Engine) GetFeed(ctx context.Context, req Request) (feed.Page, error) {
	if !req.FeedType.Valid() {
		return feed.Page{}, fmt.Errorf("%w: %q", ErrUnknownFeedType, req.FeedType)
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	cursor := feed.DecodeCursor(req.Cursor)
	viewer := feed.ViewerContext{ViewerID: req.ViewerID}

	if req.FeedType.Ranked() {
		return e.rankedPage(ctx, req, viewer, cursor, limit)
	}
	return e.chronologicalPage(ctx, req, viewer, cursor, limit)
}

// rankedPage serves a page of a score-ordered feed.
func (e *Engine) rankedPage(ctx context.Context, req Request, viewer feed.ViewerContext, cursor *feed.Cursor, limit int) (feed.Page, error) {
	sess := e.resolveSession(ctx, req, cursor)

	compute := func(ctx context.Context) (_ []feed.ScoredPost, err error) {
		ctx, endSpan := tracing.StartSpan(ctx, "rank_candidates")
		defer func() { endSpan(err) }()

		candidates, err := e.store.ListCandidates(ctx, feed.Query{
			Languages:  sess.Filters.Languages,
			PostTypes:  sess.Filters.PostTypes,
			ExcludeIDs: sess.SeenSet(),
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		return e.ranker.Rank(ctx, candidates, viewer)
	}

	var (
		ranked []feed.ScoredPost
		err    error
	)
	if cursor == nil && len(sess.SeenIDs) == 0 {
		// Only the cursorless first page is cacheable: later pages
		// depend on the session's seen-set.
		ranked, err = e.cache.GetOrCompute(ctx, req.ViewerID, string(req.FeedType), compute)
	} else {
		ranked, err = compute(ctx)
	}
	if err != nil {
		return feed.Page{}, err
	}

	return e.paginator.BuildPage(ctx, ranked, limit, sess)
}

// chronologicalPage serves a page of the following feed, ordered strictly
// by recency. The boundary cursor alone excludes already-seen posts, so
// no session is involved.
func (e *Engine) chronologicalPage(ctx context.Context, req Request, viewer feed.ViewerContext, cursor *feed.Cursor, limit int) (feed.Page, error) {
	authors := e.following(ctx, req.ViewerID)
	if len(authors) == 0 {
		return feed.Page{}, nil
	}

	candidates, err := e.store.ListCandidates(ctx, feed.Query{
		Authors:   authors,
		Languages: req.Filters.Languages,
		PostTypes: req.Filters.PostTypes,
		Before:    cursor,
		Limit:     limit + 1,
	})
	if err != nil {
		return feed.Page{}, fmt.Errorf("list candidates: %w", err)
	}

	items := make([]feed.ScoredPost, len(candidates))
	for i, post := range candidates {
		items[i] = feed.ScoredPost{Post: post, RetrievalRank: i}
	}

	return e.paginator.BuildPage(ctx, items, limit, nil)
}

// resolveSession resumes the cursor's session or starts a fresh one.
// Store failures and expired sessions both degrade to a fresh session:
// the viewer may see repeats, never an error.
func (e *Engine) resolveSession(ctx context.Context, req Request, cursor *feed.Cursor) *session.Session {
	if cursor != nil && cursor.SessionID != "" {
		sess, err := e.sessions.Get(ctx, cursor.SessionID)
		if err == nil {
			return sess
		}
		if !errors.Is(err, session.ErrNotFound) {
			e.logger.Warn("session store unavailable, starting fresh session",
				"session_id", cursor.SessionID,
				"error", err)
		}
	}

	sess := session.New(req.ViewerID, string(req.FeedType), req.Filters, e.sessionTTL)
	if err := e.sessions.Save(ctx, sess); err != nil {
		e.logger.Warn("failed to persist new feed session",
			"session_id", sess.ID,
			"error", err)
	}
	return sess
}

// following resolves the viewer's follow list, tolerating graph failure
// with an empty list.
func (e *Engine) following(ctx context.Context, viewerID string) []string {
	if viewerID == "" || e.graph == nil {
		return nil
	}

	set, err := e.graph.Following(ctx, viewerID)
	if err != nil {
		e.logger.Warn("social graph lookup failed for following feed",
			"viewer_id", viewerID,
			"error", err)
		return nil
	}

	authors := make([]string, 0, len(set))
	for id := range set {
		authors = append(authors, id)
	}
	return authors
}

// Invalidate clears the viewer's cached feed pages across instances.
func (e *Engine) Invalidate(ctx context.Context, viewerID string, feedTypes ...feed.Type) {
	names := make([]string, len(feedTypes))
	for i, ft := range feedTypes {
		names[i] = string(ft)
	}
	e.cache.Invalidate(ctx, viewerID, names...)
}

// WarmFeed precomputes and caches a viewer's first page outside the
// request path, for background refresh jobs.
func (e *Engine) WarmFeed(ctx context.Context, viewerID string, feedType feed.Type) error {
	if !feedType.Ranked() {
		return fmt.Errorf("%w: only ranked feeds are warmed", ErrUnknownFeedType)
	}

	viewer := feed.ViewerContext{ViewerID: viewerID}
	return e.cache.Warm(ctx, viewerID, string(feedType), func(ctx context.Context) ([]feed.ScoredPost, error) {
		candidates, err := e.store.ListCandidates(ctx, feed.Query{Limit: DefaultPageSize + 1})
		if err != nil {
			return nil, fmt.Errorf("list candidates: %w", err)
		}
		return e.ranker.Rank(ctx, candidates, viewer)
	})
}
