package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/OxyHQ/mention-feed/internal/middleware"
	"github.com/OxyHQ/mention-feed/internal/trending"
)

const (
	defaultTrendingLimit = 20
	maxTrendingLimit     = 100
)

// TrendingResponse wraps the trending entries for one window.
type TrendingResponse struct {
	Window  trending.Window  `json:"window"`
	Entries []trending.Entry `json:"entries"`
}

// TrendingHandlers holds dependencies for trending HTTP handlers.
type TrendingHandlers struct {
	aggregator *trending.Aggregator
}

// NewTrendingHandlers creates a new TrendingHandlers instance.
func NewTrendingHandlers(agg *trending.Aggregator) *TrendingHandlers {
	return &TrendingHandlers{
		aggregator: agg,
	}
}

// GetTrending handles GET /trending and GET /trending/{window}.
//
// The window comes from the path segment when present, otherwise from the
// "window" query parameter, defaulting to the long window. The "limit"
// query parameter caps the number of entries returned.
func (h *TrendingHandlers) GetTrending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	rawWindow := strings.Trim(strings.TrimPrefix(r.URL.Path, "/trending"), "/")
	if rawWindow == "" {
		rawWindow = r.URL.Query().Get("window")
	}

	window := trending.WindowLong
	if rawWindow != "" {
		window = trending.Window(rawWindow)
		if !window.Valid() {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownWindow)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownWindow, "Unknown trending window: "+rawWindow)
			return
		}
	}

	limit := defaultTrendingLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed <= 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxTrendingLimit {
		limit = maxTrendingLimit
	}

	entries, err := h.aggregator.GetTrending(r.Context(), window, limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to fetch trending topics",
			"window", window,
			"error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to fetch trending topics")
		return
	}
	if entries == nil {
		entries = []trending.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(TrendingResponse{Window: window, Entries: entries}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode trending response", "error", err)
	}
}
