package feed

import (
	"context"
	"errors"
	"log/slog"

	"github.com/OxyHQ/mention-feed/internal/session"
)

// Page is one assembled feed page.
type Page struct {
	Items      []ScoredPost `json:"items"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor,omitempty"`
	SessionID  string       `json:"session_id,omitempty"`
}

// Paginator assembles pages from ranked or chronological candidate lists
// and maintains ranked-feed sessions.
type Paginator struct {
	sessions session.Store
	logger   *slog.Logger
}

// NewPaginator creates a paginator on the given session store.
func NewPaginator(sessions session.Store, logger *slog.Logger) *Paginator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Paginator{
		sessions: sessions,
		logger:   logger,
	}
}

// BuildPage assembles a page from candidates fetched with the N+1 trick:
// callers fetch limit+1 so the presence of an extra item signals another
// page. The extra item is dropped and not recorded as seen. Results are
// deduplicated by post ID as a final safety net, independent of the
// session's seen-set exclusion.
//
// With a session (ranked feeds) the returned page's IDs are appended to
// the session's seen-set and the next cursor carries the session ID.
// Without one (chronological feeds) the next cursor is the strictly
// decreasing (created_at, id) boundary of the last item. Session store
// failures degrade to a session-less page; they never fail the request.
func (p *Paginator) BuildPage(ctx context.Context, candidates []ScoredPost, limit int, sess *session.Session) (Page, error) {
	if limit <= 0 {
		return Page{}, ErrInvalidLimit
	}

	items := dedupeByID(candidates)

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	page := Page{
		Items:   items,
		HasMore: hasMore,
	}
	if sess != nil {
		page.SessionID = sess.ID
	}
	if len(items) == 0 {
		return page, nil
	}

	last := items[len(items)-1]
	if hasMore {
		cursor := Cursor{LastID: last.Post.ID}
		if sess != nil {
			cursor.SessionID = sess.ID
		} else {
			ts := last.Post.CreatedAt
			cursor.Timestamp = &ts
		}
		page.NextCursor = EncodeCursor(cursor)
	}

	if sess != nil {
		shown := make([]string, len(items))
		for i, item := range items {
			shown[i] = item.Post.ID
		}
		if err := p.appendSeen(ctx, sess, shown, page.NextCursor); err != nil {
			// Session store trouble costs dedupe quality on later
			// pages, never the page itself.
			p.logger.Warn("failed to record seen posts on session",
				"session_id", sess.ID,
				"error", err)
		}
	}

	return page, nil
}

// appendSeen records the shown IDs on the session, recreating the session
// if it expired between fetch and append.
func (p *Paginator) appendSeen(ctx context.Context, sess *session.Session, shown []string, lastCursor string) error {
	err := p.sessions.AppendSeen(ctx, sess.ID, shown, lastCursor)
	if errors.Is(err, session.ErrNotFound) {
		sess.SeenIDs = append(sess.SeenIDs, shown...)
		sess.LastCursor = lastCursor
		return p.sessions.Save(ctx, sess)
	}
	return err
}

// dedupeByID removes duplicate post IDs, keeping the first occurrence.
func dedupeByID(posts []ScoredPost) []ScoredPost {
	seen := make(map[string]struct{}, len(posts))
	out := make([]ScoredPost, 0, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.Post.ID]; ok {
			continue
		}
		seen[p.Post.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}
