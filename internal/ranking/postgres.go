package ranking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OxyHQ/mention-feed/internal/feed"
	"github.com/OxyHQ/mention-feed/internal/tracing"
)

// PostgresGraphStore implements GraphLookup against the social graph's
// Postgres projection. Read-only.
type PostgresGraphStore struct {
	db *sql.DB
}

// NewPostgresGraphStore creates a graph lookup backed by the given
// database handle.
func NewPostgresGraphStore(db *sql.DB) *PostgresGraphStore {
	return &PostgresGraphStore{db: db}
}

// Following returns the set of author IDs the viewer follows.
func (s *PostgresGraphStore) Following(ctx context.Context, viewerID string) (_ map[string]struct{}, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "follows", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx,
		`SELECT followee_id FROM follows WHERE follower_id = $1`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("query following for %s: %w", viewerID, err)
	}
	defer rows.Close()

	following := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan followee: %w", err)
		}
		following[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate following for %s: %w", viewerID, err)
	}
	return following, nil
}

// PostgresProfileStore implements ProfileLookup against the behavior
// profile projection. Profiles are written by the interaction pipeline
// elsewhere; this store only reads the JSON document.
type PostgresProfileStore struct {
	db *sql.DB
}

// NewPostgresProfileStore creates a profile lookup backed by the given
// database handle.
func NewPostgresProfileStore(db *sql.DB) *PostgresProfileStore {
	return &PostgresProfileStore{db: db}
}

// Profile returns the viewer's behavior profile, or nil when none exists.
func (s *PostgresProfileStore) Profile(ctx context.Context, viewerID string) (_ *feed.BehaviorProfile, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "viewer_profiles", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT profile FROM viewer_profiles WHERE viewer_id = $1`, viewerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile for %s: %w", viewerID, err)
	}

	var profile feed.BehaviorProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		return nil, fmt.Errorf("decode profile for %s: %w", viewerID, err)
	}
	return &profile, nil
}
