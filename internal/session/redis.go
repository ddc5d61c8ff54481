package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces session keys in the shared Redis instance.
const keyPrefix = "feedsess:"

// RedisStore is the production Store backed by the shared Redis tier.
// Sessions are CBOR-encoded and expiry is enforced by Redis TTL, so no
// sweep job is needed.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a session store on the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get retrieves a live session by ID.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var sess Session
	if err := cbor.Unmarshal(data, &sess); err != nil {
		// A corrupt session record is unrecoverable; treat it like an
		// expired one so the caller starts fresh.
		return nil, ErrNotFound
	}
	if sess.Expired(time.Now()) {
		return nil, ErrNotFound
	}

	return &sess, nil
}

// Save persists a session with a TTL matching its expiry.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	data, err := cbor.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, keyPrefix+sess.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// ActiveViewers returns up to max distinct (viewer, feed type) pairs with
// a live session, discovered by scanning the session keyspace. Anonymous
// and undecodable sessions are skipped.
func (s *RedisStore) ActiveViewers(ctx context.Context, max int) ([]ViewerFeed, error) {
	seen := make(map[ViewerFeed]struct{})
	var out []ViewerFeed

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if max > 0 && len(out) >= max {
			break
		}

		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Expired between scan and get, or transient trouble.
			continue
		}

		var sess Session
		if err := cbor.Unmarshal(data, &sess); err != nil {
			continue
		}
		if sess.ViewerID == "" {
			continue
		}

		vf := ViewerFeed{ViewerID: sess.ViewerID, FeedType: sess.FeedType}
		if _, dup := seen[vf]; dup {
			continue
		}
		seen[vf] = struct{}{}
		out = append(out, vf)
	}
	if err := iter.Err(); err != nil {
		return out, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

// AppendSeen appends post IDs to the session's seen-set and records the
// latest cursor, keeping the session's remaining TTL.
func (s *RedisStore) AppendSeen(ctx context.Context, id string, postIDs []string, lastCursor string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	sess.SeenIDs = append(sess.SeenIDs, postIDs...)
	sess.LastCursor = lastCursor

	data, err := cbor.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", id, err)
	}

	if err := s.client.Set(ctx, keyPrefix+id, data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	return nil
}
