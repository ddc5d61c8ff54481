package feed

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/OxyHQ/mention-feed/internal/tracing"
)

// PostgresCandidateStore implements CandidateStore against the external
// post document store's Postgres projection. It issues only simple
// filter/sort/limit queries; it never writes.
type PostgresCandidateStore struct {
	db *sql.DB
}

// NewPostgresCandidateStore creates a candidate store backed by the given
// database handle.
func NewPostgresCandidateStore(db *sql.DB) *PostgresCandidateStore {
	return &PostgresCandidateStore{db: db}
}

// ListCandidates returns posts matching the query, newest first with ID
// ascending as tie-break.
func (s *PostgresCandidateStore) ListCandidates(ctx context.Context, q Query) (_ []CandidatePost, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	visibility := q.Visibility
	if visibility == "" {
		visibility = VisibilityPublic
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where = append(where, "visibility = "+arg(visibility))
	where = append(where, "deleted_at IS NULL")

	if len(q.Authors) > 0 {
		where = append(where, "author_id = ANY("+arg(pq.Array(q.Authors))+")")
	}
	if len(q.Languages) > 0 {
		where = append(where, "language = ANY("+arg(pq.Array(lowerAll(q.Languages)))+")")
	}
	if len(q.PostTypes) > 0 {
		where = append(where, "post_type = ANY("+arg(pq.Array(lowerAll(q.PostTypes)))+")")
	}
	if q.Before != nil && q.Before.Timestamp != nil {
		ts := arg(*q.Before.Timestamp)
		id := arg(q.Before.LastID)
		where = append(where, "(created_at < "+ts+" OR (created_at = "+ts+" AND id > "+id+"))")
	}
	if len(q.ExcludeIDs) > 0 {
		ids := make([]string, 0, len(q.ExcludeIDs))
		for id := range q.ExcludeIDs {
			ids = append(ids, id)
		}
		where = append(where, "NOT (id = ANY("+arg(pq.Array(ids))+"))")
	}

	query := `
		SELECT id, author_id, created_at, visibility,
		       likes, reposts, comments, saves, views, shares,
		       hashtags, language, post_type, parent_id, repost_of
		FROM posts
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id ASC`
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	var posts []CandidatePost
	for rows.Next() {
		var (
			p        CandidatePost
			hashtags pq.StringArray
			language sql.NullString
			postType sql.NullString
			parentID sql.NullString
			repostOf sql.NullString
		)
		if err := rows.Scan(
			&p.ID, &p.AuthorID, &p.CreatedAt, &p.Visibility,
			&p.Engagement.Likes, &p.Engagement.Reposts, &p.Engagement.Comments,
			&p.Engagement.Saves, &p.Engagement.Views, &p.Engagement.Shares,
			&hashtags, &language, &postType, &parentID, &repostOf,
		); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		p.Hashtags = []string(hashtags)
		p.Language = language.String
		p.PostType = postType.String
		if parentID.Valid {
			p.ParentID = &parentID.String
		}
		if repostOf.Valid {
			p.RepostOf = &repostOf.String
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	return posts, nil
}

// CountHashtags aggregates hashtag counts over posts created at or after
// since, lowercased.
func (s *PostgresCandidateStore) CountHashtags(ctx context.Context, since time.Time) (_ map[string]int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "posts", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT lower(ltrim(tag, '#')) AS topic, count(*)
		FROM posts, unnest(hashtags) AS tag
		WHERE created_at >= $1 AND deleted_at IS NULL AND visibility = $2
		GROUP BY topic`, since, VisibilityPublic)
	if err != nil {
		return nil, fmt.Errorf("count hashtags: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			topic string
			count int64
		)
		if err := rows.Scan(&topic, &count); err != nil {
			return nil, fmt.Errorf("scan hashtag count: %w", err)
		}
		if topic == "" {
			continue
		}
		counts[topic] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hashtag counts: %w", err)
	}

	return counts, nil
}

// lowerAll returns a lowercased copy of values.
func lowerAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
