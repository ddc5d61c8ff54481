package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// InMemoryStore is an in-memory Store for tests and single-instance
// deployments. Thread-safe via RWMutex. Expired sessions are dropped
// lazily on Get and eagerly by Sweep.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryStore creates an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
	}
}

// Get retrieves a live session by ID.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if sess.Expired(time.Now()) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	copied := *sess
	copied.SeenIDs = append([]string(nil), sess.SeenIDs...)
	return &copied, nil
}

// Save persists a session.
func (s *InMemoryStore) Save(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *sess
	copied.SeenIDs = append([]string(nil), sess.SeenIDs...)
	s.sessions[sess.ID] = &copied
	return nil
}

// AppendSeen appends post IDs to the session's seen-set and records the
// latest cursor. Missing or expired sessions return ErrNotFound.
func (s *InMemoryStore) AppendSeen(ctx context.Context, id string, postIDs []string, lastCursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Expired(time.Now()) {
		delete(s.sessions, id)
		return ErrNotFound
	}

	sess.SeenIDs = append(sess.SeenIDs, postIDs...)
	sess.LastCursor = lastCursor
	return nil
}

// ActiveViewers returns up to max distinct (viewer, feed type) pairs with
// a live session. Anonymous sessions are skipped.
func (s *InMemoryStore) ActiveViewers(ctx context.Context, max int) ([]ViewerFeed, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	seen := make(map[ViewerFeed]struct{})
	var out []ViewerFeed
	for _, sess := range s.sessions {
		if max > 0 && len(out) >= max {
			break
		}
		if sess.ViewerID == "" || sess.Expired(now) {
			continue
		}
		vf := ViewerFeed{ViewerID: sess.ViewerID, FeedType: sess.FeedType}
		if _, dup := seen[vf]; dup {
			continue
		}
		seen[vf] = struct{}{}
		out = append(out, vf)
	}
	return out, nil
}

// Len returns the number of stored sessions, including not-yet-swept
// expired ones.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes expired sessions to prevent unbounded growth. Returns the
// number of sessions removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// RunPeriodicSweep sweeps expired sessions at the given interval until the
// stop channel is closed. Blocks; run in a goroutine.
func (s *InMemoryStore) RunPeriodicSweep(interval time.Duration, logger *slog.Logger, stop <-chan struct{}) {
	if logger == nil {
		logger = slog.Default()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				logger.Info("swept expired feed sessions", "removed", removed)
			}
		}
	}
}
