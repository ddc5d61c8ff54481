// Package ranking assigns relevance scores to candidate posts and orders
// them into a feed. Scores are a product of independent multiplicative
// factors, so a single zero factor (a hard block) fully suppresses a post.
// Weights are calibrated via an optional JSON file merged over defaults.
package ranking
