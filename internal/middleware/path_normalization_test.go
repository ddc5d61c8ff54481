package middleware

import (
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		// Static routes - no normalization
		{
			name:     "root path",
			path:     "/",
			expected: "/",
		},
		{
			name:     "feeds collection",
			path:     "/feeds",
			expected: "/feeds",
		},
		{
			name:     "trending collection",
			path:     "/trending",
			expected: "/trending",
		},
		{
			name:     "health endpoint",
			path:     "/health",
			expected: "/health",
		},
		{
			name:     "ready endpoint",
			path:     "/ready",
			expected: "/ready",
		},
		{
			name:     "metrics endpoint",
			path:     "/metrics",
			expected: "/metrics",
		},

		// Feed patterns
		{
			name:     "feed by type",
			path:     "/feeds/for_you",
			expected: "/feeds/{type}",
		},
		{
			name:     "following feed",
			path:     "/feeds/following",
			expected: "/feeds/{type}",
		},
		{
			name:     "unrecognized feed type still collapses",
			path:     "/feeds/garbage-value",
			expected: "/feeds/{type}",
		},
		{
			name:     "feed warm",
			path:     "/feeds/for_you/warm",
			expected: "/feeds/{type}/warm",
		},

		// Viewer patterns
		{
			name:     "viewer by id",
			path:     "/viewers/viewer-123",
			expected: "/viewers/{id}",
		},
		{
			name:     "viewer by uuid",
			path:     "/viewers/550e8400-e29b-41d4-a716-446655440000",
			expected: "/viewers/{id}",
		},
		{
			name:     "viewer invalidate",
			path:     "/viewers/viewer-456/invalidate",
			expected: "/viewers/{id}/invalidate",
		},
		{
			name:     "viewer feed",
			path:     "/viewers/viewer-789/feed",
			expected: "/viewers/{id}/feed",
		},

		// Trending patterns
		{
			name:     "trending by window",
			path:     "/trending/24h",
			expected: "/trending/{window}",
		},
		{
			name:     "trending short window",
			path:     "/trending/6h",
			expected: "/trending/{window}",
		},

		// Edge cases
		{
			name:     "trailing slash on collection",
			path:     "/feeds/",
			expected: "/feeds/",
		},
		{
			name:     "unknown route",
			path:     "/unknown/path",
			expected: "/unknown/path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizePath(tt.path)
			if result != tt.expected {
				t.Errorf("normalizePath(%q) = %q, want %q", tt.path, result, tt.expected)
			}
		})
	}
}

func TestNormalizePath_CardinalityControl(t *testing.T) {
	// Test that different IDs normalize to the same pattern
	paths := []string{
		"/viewers/1",
		"/viewers/2",
		"/viewers/999",
		"/viewers/550e8400-e29b-41d4-a716-446655440000",
		"/viewers/abc-def-ghi",
	}

	expected := "/viewers/{id}"
	seen := make(map[string]bool)

	for _, path := range paths {
		result := normalizePath(path)
		if result != expected {
			t.Errorf("normalizePath(%q) = %q, want %q", path, result, expected)
		}
		seen[result] = true
	}

	// Should all normalize to the same pattern (low cardinality)
	if len(seen) != 1 {
		t.Errorf("Expected all paths to normalize to single pattern, got %d patterns: %v", len(seen), seen)
	}
}
