package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// EngagementWeights defines the per-counter weights for the engagement
// factor. The weighted sum is log-compressed so outlier virality cannot
// dominate the score.
type EngagementWeights struct {
	Likes    float64 `json:"likes"`    // Weight per like (default: 1.0)
	Reposts  float64 `json:"reposts"`  // Weight per repost (default: 2.0)
	Comments float64 `json:"comments"` // Weight per comment (default: 2.0)
	Saves    float64 `json:"saves"`    // Weight per save (default: 1.5)
	Views    float64 `json:"views"`    // Weight per view (default: 0.1)
	Shares   float64 `json:"shares"`   // Weight per share (default: 2.0)
}

// RecencyWeights defines the exponential age-decay parameters.
type RecencyWeights struct {
	HalfLifeHours float64 `json:"half_life_hours"` // Score halves every this many hours (default: 24)
	Floor         float64 `json:"floor"`           // Minimum factor before max age (default: 0.05)
	MaxAgeHours   float64 `json:"max_age_hours"`   // Hard zero beyond this age (default: 168)
	FreshHours    float64 `json:"fresh_hours"`     // Full factor under this age (default: 1)
}

// RelationshipWeights defines the author-relationship factor boosts.
type RelationshipWeights struct {
	Followed       float64 `json:"followed"`        // Boost when viewer follows author (default: 1.8)
	Strong         float64 `json:"strong"`          // Boost for profile weight > StrongThreshold (default: 1.5)
	Known          float64 `json:"known"`           // Boost for profile weight > KnownThreshold (default: 1.2)
	Stranger       float64 `json:"stranger"`        // Mild penalty for unknown authors (default: 0.9)
	StrongThreshold float64 `json:"strong_threshold"` // default: 0.7
	KnownThreshold  float64 `json:"known_threshold"`  // default: 0.3
}

// PersonalizationWeights defines topic/type/language affinity boosts.
type PersonalizationWeights struct {
	TopicBoost     float64 `json:"topic_boost"`     // Per matching preferred topic (default: 0.3)
	TopicThreshold float64 `json:"topic_threshold"` // Minimum topic weight to count (default: 0.3)
	TypeBoost      float64 `json:"type_boost"`      // For post-type affinity (default: 0.2)
	LanguageBoost  float64 `json:"language_boost"`  // For language match (default: 0.1)
	Cap            float64 `json:"cap"`             // Maximum total factor (default: 2.0)
}

// QualityWeights defines the engagement-rate quality factor.
type QualityWeights struct {
	HighRate      float64 `json:"high_rate"`       // Rate above which to boost (default: 0.1)
	LowRate       float64 `json:"low_rate"`        // Rate below which to penalize (default: 0.01)
	MinViews      int64   `json:"min_views"`       // Views needed for the penalty to be meaningful (default: 100)
	Boost         float64 `json:"boost"`           // Factor for high rate (default: 1.3)
	Penalty       float64 `json:"penalty"`         // Factor for low rate (default: 0.8)
	RecencyKicker float64 `json:"recency_kicker"`  // Extra boost when high rate is recent (default: 0.1)
	KickerHours   float64 `json:"kicker_hours"`    // Age under which the kicker applies (default: 6)
}

// TrendingWeights defines engagement-velocity thresholds for young posts.
type TrendingWeights struct {
	WindowHours float64 `json:"window_hours"` // Only posts younger than this qualify (default: 24)

	// MinAgeHours floors the per-hour divisor. The default of 1 keeps a
	// minutes-old post from being declared viral on a handful of
	// interactions; calibrate it down for the raw engagement-per-hour
	// reading on sub-hour posts.
	MinAgeHours float64 `json:"min_age_hours"`

	HotRate     float64 `json:"hot_rate"`     // Engagement/hour for the top boost (default: 50)
	HotBoost    float64 `json:"hot_boost"`    // default: 1.5
	WarmRate    float64 `json:"warm_rate"`    // default: 20
	WarmBoost   float64 `json:"warm_boost"`   // default: 1.3
	MildRate    float64 `json:"mild_rate"`    // default: 10
	MildBoost   float64 `json:"mild_boost"`   // default: 1.15
}

// TimeOfDayWeights defines the active-hour match boosts.
type TimeOfDayWeights struct {
	MatchBoost    float64 `json:"match_boost"`    // Post hour in viewer's active hours (default: 1.2)
	AdjacentBoost float64 `json:"adjacent_boost"` // Post hour adjacent to an active hour (default: 1.1)
}

// DiversityWeights defines the same-pass repetition penalties.
type DiversityWeights struct {
	AuthorPenalty float64 `json:"author_penalty"` // Per earlier post by the same author (default: 0.95)
	TopicPenalty  float64 `json:"topic_penalty"`  // Per earlier post sharing a topic (default: 0.92)
}

// Weights holds the full ranking weight configuration.
type Weights struct {
	Engagement      EngagementWeights      `json:"engagement"`
	Recency         RecencyWeights         `json:"recency"`
	Relationship    RelationshipWeights    `json:"relationship"`
	Personalization PersonalizationWeights `json:"personalization"`
	Quality         QualityWeights         `json:"quality"`
	Trending        TrendingWeights        `json:"trending"`
	TimeOfDay       TimeOfDayWeights       `json:"time_of_day"`
	Diversity       DiversityWeights       `json:"diversity"`

	// HiddenTopicPenalty is applied when a post carries a hashtag on the
	// viewer's hidden-topics list (default: 0.5).
	HiddenTopicPenalty float64 `json:"hidden_topic_penalty"`

	// Epsilon is the score difference under which two posts are
	// considered tied and keep their retrieval order (default: 0.001).
	Epsilon float64 `json:"epsilon"`
}

// CalibrationConfig is the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string  `json:"version"` // Config version for future compatibility
	Weights Weights `json:"weights"` // Weight overrides
}

// DefaultWeights returns the default ranking weight configuration.
func DefaultWeights() *Weights {
	return &Weights{
		Engagement: EngagementWeights{
			Likes:    1.0,
			Reposts:  2.0,
			Comments: 2.0,
			Saves:    1.5,
			Views:    0.1,
			Shares:   2.0,
		},
		Recency: RecencyWeights{
			HalfLifeHours: 24,
			Floor:         0.05,
			MaxAgeHours:   168,
			FreshHours:    1,
		},
		Relationship: RelationshipWeights{
			Followed:        1.8,
			Strong:          1.5,
			Known:           1.2,
			Stranger:        0.9,
			StrongThreshold: 0.7,
			KnownThreshold:  0.3,
		},
		Personalization: PersonalizationWeights{
			TopicBoost:     0.3,
			TopicThreshold: 0.3,
			TypeBoost:      0.2,
			LanguageBoost:  0.1,
			Cap:            2.0,
		},
		Quality: QualityWeights{
			HighRate:      0.1,
			LowRate:       0.01,
			MinViews:      100,
			Boost:         1.3,
			Penalty:       0.8,
			RecencyKicker: 0.1,
			KickerHours:   6,
		},
		Trending: TrendingWeights{
			WindowHours: 24,
			MinAgeHours: 1,
			HotRate:     50,
			HotBoost:    1.5,
			WarmRate:    20,
			WarmBoost:   1.3,
			MildRate:    10,
			MildBoost:   1.15,
		},
		TimeOfDay: TimeOfDayWeights{
			MatchBoost:    1.2,
			AdjacentBoost: 1.1,
		},
		Diversity: DiversityWeights{
			AuthorPenalty: 0.95,
			TopicPenalty:  0.92,
		},
		HiddenTopicPenalty: 0.5,
		Epsilon:            0.001,
	}
}

// LoadCalibration loads ranking weights from a JSON calibration file.
// Partial configurations are merged with defaults for graceful
// degradation; on any error the defaults are returned alongside the error
// so ranking always has a usable weight set.
func LoadCalibration(filePath string) (*Weights, error) {
	if filePath == "" {
		return DefaultWeights(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read ranking calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse ranking calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultWeights(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	merged := MergeCalibration(DefaultWeights(), &config.Weights)
	slog.Info("loaded ranking calibration", "path", filePath)

	return merged, nil
}

// MergeCalibration merges override weights with base weights. Only
// non-zero values from the override are applied, allowing partial
// overrides in the calibration file.
func MergeCalibration(base *Weights, override *Weights) *Weights {
	if base == nil {
		return DefaultWeights()
	}
	if override == nil {
		result := *base
		return &result
	}

	result := *base

	mergeFloat(&result.Engagement.Likes, override.Engagement.Likes)
	mergeFloat(&result.Engagement.Reposts, override.Engagement.Reposts)
	mergeFloat(&result.Engagement.Comments, override.Engagement.Comments)
	mergeFloat(&result.Engagement.Saves, override.Engagement.Saves)
	mergeFloat(&result.Engagement.Views, override.Engagement.Views)
	mergeFloat(&result.Engagement.Shares, override.Engagement.Shares)

	mergeFloat(&result.Recency.HalfLifeHours, override.Recency.HalfLifeHours)
	mergeFloat(&result.Recency.Floor, override.Recency.Floor)
	mergeFloat(&result.Recency.MaxAgeHours, override.Recency.MaxAgeHours)
	mergeFloat(&result.Recency.FreshHours, override.Recency.FreshHours)

	mergeFloat(&result.Relationship.Followed, override.Relationship.Followed)
	mergeFloat(&result.Relationship.Strong, override.Relationship.Strong)
	mergeFloat(&result.Relationship.Known, override.Relationship.Known)
	mergeFloat(&result.Relationship.Stranger, override.Relationship.Stranger)
	mergeFloat(&result.Relationship.StrongThreshold, override.Relationship.StrongThreshold)
	mergeFloat(&result.Relationship.KnownThreshold, override.Relationship.KnownThreshold)

	mergeFloat(&result.Personalization.TopicBoost, override.Personalization.TopicBoost)
	mergeFloat(&result.Personalization.TopicThreshold, override.Personalization.TopicThreshold)
	mergeFloat(&result.Personalization.TypeBoost, override.Personalization.TypeBoost)
	mergeFloat(&result.Personalization.LanguageBoost, override.Personalization.LanguageBoost)
	mergeFloat(&result.Personalization.Cap, override.Personalization.Cap)

	mergeFloat(&result.Quality.HighRate, override.Quality.HighRate)
	mergeFloat(&result.Quality.LowRate, override.Quality.LowRate)
	if override.Quality.MinViews != 0 {
		result.Quality.MinViews = override.Quality.MinViews
	}
	mergeFloat(&result.Quality.Boost, override.Quality.Boost)
	mergeFloat(&result.Quality.Penalty, override.Quality.Penalty)
	mergeFloat(&result.Quality.RecencyKicker, override.Quality.RecencyKicker)
	mergeFloat(&result.Quality.KickerHours, override.Quality.KickerHours)

	mergeFloat(&result.Trending.WindowHours, override.Trending.WindowHours)
	mergeFloat(&result.Trending.MinAgeHours, override.Trending.MinAgeHours)
	mergeFloat(&result.Trending.HotRate, override.Trending.HotRate)
	mergeFloat(&result.Trending.HotBoost, override.Trending.HotBoost)
	mergeFloat(&result.Trending.WarmRate, override.Trending.WarmRate)
	mergeFloat(&result.Trending.WarmBoost, override.Trending.WarmBoost)
	mergeFloat(&result.Trending.MildRate, override.Trending.MildRate)
	mergeFloat(&result.Trending.MildBoost, override.Trending.MildBoost)

	mergeFloat(&result.TimeOfDay.MatchBoost, override.TimeOfDay.MatchBoost)
	mergeFloat(&result.TimeOfDay.AdjacentBoost, override.TimeOfDay.AdjacentBoost)

	mergeFloat(&result.Diversity.AuthorPenalty, override.Diversity.AuthorPenalty)
	mergeFloat(&result.Diversity.TopicPenalty, override.Diversity.TopicPenalty)

	mergeFloat(&result.HiddenTopicPenalty, override.HiddenTopicPenalty)
	mergeFloat(&result.Epsilon, override.Epsilon)

	return &result
}

// mergeFloat applies a non-zero override in place.
func mergeFloat(dst *float64, override float64) {
	if override != 0 {
		*dst = override
	}
}
