package ranking

import (
	"context"
	"log/slog"
	"sort"

	"github.com/OxyHQ/mention-feed/internal/feed"
)

// GraphLookup resolves a viewer's following list from the social graph.
type GraphLookup interface {
	// Following returns the set of author IDs the viewer follows.
	Following(ctx context.Context, viewerID string) (map[string]struct{}, error)
}

// ProfileLookup resolves a viewer's behavior profile. A nil profile with a
// nil error means no profile exists yet.
type ProfileLookup interface {
	Profile(ctx context.Context, viewerID string) (*feed.BehaviorProfile, error)
}

// Ranker orchestrates the scorer over a candidate set and produces a
// stably ordered result. Candidates are scored sequentially in retrieval
// order so the diversity accumulator reflects earlier-ranked items only.
type Ranker struct {
	scorer   *Scorer
	graph    GraphLookup
	profiles ProfileLookup
	logger   *slog.Logger
}

// NewRanker creates a ranker. graph and profiles may be nil when callers
// always supply a fully resolved ViewerContext.
func NewRanker(scorer *Scorer, graph GraphLookup, profiles ProfileLookup, logger *slog.Logger) *Ranker {
	if scorer == nil {
		scorer = NewScorer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ranker{
		scorer:   scorer,
		graph:    graph,
		profiles: profiles,
		logger:   logger,
	}
}

// Rank scores every candidate and returns them ordered by descending
// score. The output is always a permutation of the input. Scores within
// the configured epsilon keep their original retrieval order, which is
// assumed to be reverse-chronological, so near-equal scores produce
// deterministic output. Scores are attached to the results so downstream
// pagination does not re-score.
func (r *Ranker) Rank(ctx context.Context, candidates []feed.CandidatePost, viewer feed.ViewerContext) ([]feed.ScoredPost, error) {
	viewer = r.resolveViewer(ctx, viewer)

	scored := make([]feed.ScoredPost, 0, len(candidates))
	div := NewDiversityState()
	for i, post := range candidates {
		score, err := r.scorer.Score(post, viewer, div)
		if err != nil {
			// Invariant violations fail the pass; recoverable upstream
			// failures were already degraded in resolveViewer.
			return nil, err
		}
		scored = append(scored, feed.ScoredPost{
			Post:          post,
			Score:         score,
			RetrievalRank: i,
		})
		div = div.Observe(post)
	}

	epsilon := r.scorer.Weights().Epsilon
	sort.SliceStable(scored, func(i, j int) bool {
		// Treat near-equal scores as ties; stable sort then preserves
		// the retrieval order.
		return scored[i].Score-scored[j].Score > epsilon
	})

	return scored, nil
}

// resolveViewer fills in the following list and behavior profile when the
// caller did not supply them. Lookup failures degrade to empty or neutral
// values so a graph or profile outage costs personalization, never the
// feed itself.
func (r *Ranker) resolveViewer(ctx context.Context, viewer feed.ViewerContext) feed.ViewerContext {
	if viewer.Anonymous() {
		return viewer
	}

	if viewer.Following == nil && r.graph != nil {
		following, err := r.graph.Following(ctx, viewer.ViewerID)
		if err != nil {
			r.logger.Warn("social graph lookup failed, ranking without follow boosts",
				"viewer_id", viewer.ViewerID,
				"error", err)
			following = map[string]struct{}{}
		}
		viewer.Following = following
	}

	if viewer.Profile == nil && r.profiles != nil {
		profile, err := r.profiles.Profile(ctx, viewer.ViewerID)
		if err != nil {
			r.logger.Warn("behavior profile lookup failed, ranking without personalization",
				"viewer_id", viewer.ViewerID,
				"error", err)
			profile = nil
		}
		viewer.Profile = profile
	}

	return viewer
}
