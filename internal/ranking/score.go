package ranking

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/OxyHQ/mention-feed/internal/feed"
)

// ErrMissingCreatedAt marks a candidate without a creation timestamp.
// Silently defaulting the timestamp would corrupt the ordering guarantees
// of recency decay, so the ranking pass fails loudly instead.
var ErrMissingCreatedAt = errors.New("candidate post missing created_at")

// EngagementFactor computes the log-compressed weighted engagement sum.
// Reposts, shares, and comments weigh roughly double a like; views barely
// count. The ln(1 + sum/10) compression stops outlier virality from
// dominating the feed.
func EngagementFactor(e feed.Engagement, w EngagementWeights) float64 {
	sum := float64(e.Likes)*w.Likes +
		float64(e.Reposts)*w.Reposts +
		float64(e.Comments)*w.Comments +
		float64(e.Saves)*w.Saves +
		float64(e.Views)*w.Views +
		float64(e.Shares)*w.Shares

	if sum <= 0 {
		return 0
	}

	return math.Log1p(sum / 10)
}

// RecencyFactor computes the exponential half-life age decay. Posts under
// FreshHours old get exactly 1.0; the decay is floored at Floor until the
// hard max age, beyond which the factor is exactly 0.
func RecencyFactor(createdAt, now time.Time, w RecencyWeights) float64 {
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}

	if ageHours > w.MaxAgeHours {
		return 0
	}
	if ageHours < w.FreshHours {
		return 1.0
	}

	factor := math.Pow(0.5, ageHours/w.HalfLifeHours)
	if factor < w.Floor {
		return w.Floor
	}
	return factor
}

// RelationshipFactor computes the author-relationship boost. Followed
// authors get the strongest boost; otherwise the behavior profile's
// decayed relationship weight decides. Unknown authors get a mild penalty
// and anonymous viewers are neutral.
func RelationshipFactor(authorID string, viewer feed.ViewerContext, w RelationshipWeights) float64 {
	if viewer.Anonymous() {
		return 1.0
	}
	if viewer.Follows(authorID) {
		return w.Followed
	}

	var weight float64
	if viewer.Profile != nil {
		weight = viewer.Profile.AuthorWeights[authorID]
	}
	switch {
	case weight > w.StrongThreshold:
		return w.Strong
	case weight > w.KnownThreshold:
		return w.Known
	default:
		return w.Stranger
	}
}

// PersonalizationFactor computes topic, post-type, and language affinity
// boosts from the behavior profile, capped so personalization can never
// more than double a score.
func PersonalizationFactor(post feed.CandidatePost, profile *feed.BehaviorProfile, w PersonalizationWeights) float64 {
	if profile == nil {
		return 1.0
	}

	factor := 1.0

	for _, tag := range post.Hashtags {
		topic := normalizeTopic(tag)
		if topic == "" {
			continue
		}
		if profile.TopicWeights[topic] > w.TopicThreshold {
			factor += w.TopicBoost
		}
	}

	if post.PostType != "" && profile.TypeAffinity[post.PostType] > 0 {
		factor += w.TypeBoost
	}

	if post.Language != "" && profile.Language != "" &&
		strings.EqualFold(post.Language, profile.Language) {
		factor += w.LanguageBoost
	}

	if factor > w.Cap {
		return w.Cap
	}
	return factor
}

// QualityFactor computes the engagement-rate signal. A high engagement
// rate boosts the post, with a kicker when the post is young enough that
// the engagement is recent. A low rate only penalizes once the view count
// is statistically meaningful.
func QualityFactor(post feed.CandidatePost, now time.Time, w QualityWeights) float64 {
	views := post.Engagement.Views
	if views <= 0 {
		return 1.0
	}

	rate := float64(post.Engagement.Total()) / float64(views)
	switch {
	case rate >= w.HighRate:
		factor := w.Boost
		if now.Sub(post.CreatedAt).Hours() < w.KickerHours {
			factor += w.RecencyKicker
		}
		return factor
	case rate < w.LowRate && views >= w.MinViews:
		return w.Penalty
	default:
		return 1.0
	}
}

// TrendingFactor boosts young posts accumulating engagement quickly,
// measured as engagement per hour since posting. Posts older than the
// trending window are neutral.
func TrendingFactor(post feed.CandidatePost, now time.Time, w TrendingWeights) float64 {
	ageHours := now.Sub(post.CreatedAt).Hours()
	if ageHours < 0 || ageHours >= w.WindowHours {
		return 1.0
	}

	if ageHours < w.MinAgeHours {
		ageHours = w.MinAgeHours
	}
	if ageHours <= 0 {
		return 1.0
	}

	perHour := float64(post.Engagement.Total()) / ageHours
	switch {
	case perHour > w.HotRate:
		return w.HotBoost
	case perHour > w.WarmRate:
		return w.WarmBoost
	case perHour > w.MildRate:
		return w.MildBoost
	default:
		return 1.0
	}
}

// TimeOfDayFactor boosts posts created during the viewer's historically
// active hours, with a smaller boost for adjacent hours.
func TimeOfDayFactor(createdAt time.Time, profile *feed.BehaviorProfile, w TimeOfDayWeights) float64 {
	if profile == nil {
		return 1.0
	}

	hour := createdAt.UTC().Hour()
	if profile.ActiveHours[hour] > 0 {
		return w.MatchBoost
	}
	if profile.ActiveHours[(hour+1)%24] > 0 || profile.ActiveHours[(hour+23)%24] > 0 {
		return w.AdjacentBoost
	}
	return 1.0
}

// NegativeSignalFactor applies the viewer's negative signals: posts by
// hidden, muted, or blocked authors are fully suppressed; posts carrying a
// hidden topic are halved.
func NegativeSignalFactor(post feed.CandidatePost, profile *feed.BehaviorProfile, hiddenTopicPenalty float64) float64 {
	if profile == nil {
		return 1.0
	}

	if profile.SuppressesAuthor(post.AuthorID) {
		return 0
	}

	for _, tag := range post.Hashtags {
		if profile.HidesTopic(normalizeTopic(tag)) {
			return hiddenTopicPenalty
		}
	}

	return 1.0
}

// Scorer computes relevance scores for candidate posts. It holds no
// per-request state; the per-pass diversity accumulator is passed in
// explicitly.
type Scorer struct {
	weights *Weights
	now     func() time.Time
}

// NewScorer creates a scorer with the given weights. Nil weights fall
// back to the defaults.
func NewScorer(weights *Weights) *Scorer {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Scorer{
		weights: weights,
		now:     time.Now,
	}
}

// Weights returns the scorer's weight configuration.
func (s *Scorer) Weights() *Weights {
	return s.weights
}

// Score computes the relevance score for one candidate as the product of
// all factors. Any factor reaching zero fully suppresses the post. The
// diversity accumulator reflects posts placed earlier in the same pass.
func (s *Scorer) Score(post feed.CandidatePost, viewer feed.ViewerContext, div DiversityState) (float64, error) {
	if post.CreatedAt.IsZero() {
		return 0, fmt.Errorf("%w: post %s", ErrMissingCreatedAt, post.ID)
	}

	now := s.now()
	w := s.weights

	// Negative signals first: a hard block makes the rest moot.
	negative := NegativeSignalFactor(post, viewer.Profile, w.HiddenTopicPenalty)
	if negative == 0 {
		return 0, nil
	}

	score := EngagementFactor(post.Engagement, w.Engagement) *
		RecencyFactor(post.CreatedAt, now, w.Recency) *
		RelationshipFactor(post.AuthorID, viewer, w.Relationship) *
		PersonalizationFactor(post, viewer.Profile, w.Personalization) *
		QualityFactor(post, now, w.Quality) *
		TrendingFactor(post, now, w.Trending) *
		TimeOfDayFactor(post.CreatedAt, viewer.Profile, w.TimeOfDay) *
		div.Penalty(post, w.Diversity) *
		negative

	return score, nil
}
