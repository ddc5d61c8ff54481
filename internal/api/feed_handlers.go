package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/OxyHQ/mention-feed/internal/engine"
	"github.com/OxyHQ/mention-feed/internal/feed"
	"github.com/OxyHQ/mention-feed/internal/middleware"
	"github.com/OxyHQ/mention-feed/internal/session"
)

// InvalidateRequest represents the request body for targeted invalidation.
// An empty feed type list invalidates every feed for the viewer.
type InvalidateRequest struct {
	FeedTypes []string `json:"feed_types,omitempty"`
}

// WarmRequest represents the request body for pre-warming a viewer's feed.
type WarmRequest struct {
	ViewerID string `json:"viewer_id"`
}

// FeedHandlers holds dependencies for feed HTTP handlers.
type FeedHandlers struct {
	engine *engine.Engine
}

// NewFeedHandlers creates a new FeedHandlers instance.
func NewFeedHandlers(eng *engine.Engine) *FeedHandlers {
	return &FeedHandlers{
		engine: eng,
	}
}

// extractFeedType extracts the feed type from a /feeds/{type}[/...] path.
func extractFeedType(r *http.Request) (feed.Type, error) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/feeds/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		return "", fmt.Errorf("feed type is required")
	}
	return feed.Type(pathParts[0]), nil
}

// extractViewerID extracts the viewer ID from a /viewers/{id}[/...] path.
func extractViewerID(r *http.Request) (string, error) {
	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/viewers/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		return "", fmt.Errorf("viewer ID is required")
	}
	return pathParts[0], nil
}

// splitCSV splits a comma-separated query value, dropping empty segments.
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetFeed handles GET /feeds/{type} - serves one page of a feed.
//
// Query parameters:
//   - viewer_id: the requesting viewer (empty serves an anonymous feed)
//   - cursor:    opaque pagination cursor from a previous page
//   - limit:     page size (clamped server-side)
//   - languages: comma-separated language filter
//   - post_types: comma-separated post type filter
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	feedType, err := extractFeedType(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Feed type is required")
		return
	}

	q := r.URL.Query()

	limit := 0
	if rawLimit := q.Get("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a non-negative integer")
			return
		}
	}

	viewerID := q.Get("viewer_id")
	if viewerID != "" {
		ctx := middleware.SetViewerID(r.Context(), viewerID)
		*r = *r.WithContext(ctx)
	}

	req := engine.Request{
		ViewerID: viewerID,
		FeedType: feedType,
		Cursor:   q.Get("cursor"),
		Limit:    limit,
		Filters: session.Filters{
			Languages: splitCSV(q.Get("languages")),
			PostTypes: splitCSV(q.Get("post_types")),
		},
	}

	page, err := h.engine.GetFeed(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownFeedType) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownFeedType)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownFeedType, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to serve feed",
			"feed_type", feedType,
			"viewer_id", viewerID,
			"error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to serve feed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(page); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode feed response", "error", err)
	}
}

// WarmFeed handles POST /feeds/{type}/warm - pre-computes a viewer's first
// page so their next request is a cache hit.
func (h *FeedHandlers) WarmFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	feedType, err := extractFeedType(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Feed type is required")
		return
	}

	var req WarmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if req.ViewerID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "viewer_id is required")
		return
	}

	ctx := middleware.SetViewerID(r.Context(), req.ViewerID)
	*r = *r.WithContext(ctx)

	if err := h.engine.WarmFeed(r.Context(), req.ViewerID, feedType); err != nil {
		if errors.Is(err, engine.ErrUnknownFeedType) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownFeedType)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownFeedType, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "failed to warm feed",
			"feed_type", feedType,
			"viewer_id", req.ViewerID,
			"error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to warm feed")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// Invalidate handles POST /viewers/{id}/invalidate - drops cached feeds for
// a viewer. The body may carry a feed type subset; an empty list clears all
// of the viewer's feeds.
func (h *FeedHandlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	viewerID, err := extractViewerID(r)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Viewer ID is required")
		return
	}

	var req InvalidateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
			return
		}
	}

	feedTypes := make([]feed.Type, 0, len(req.FeedTypes))
	for _, raw := range req.FeedTypes {
		ft := feed.Type(raw)
		if !ft.Valid() {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUnknownFeedType)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeUnknownFeedType, "Unknown feed type: "+raw)
			return
		}
		feedTypes = append(feedTypes, ft)
	}

	ctx := middleware.SetViewerID(r.Context(), viewerID)
	*r = *r.WithContext(ctx)

	h.engine.Invalidate(r.Context(), viewerID, feedTypes...)

	w.WriteHeader(http.StatusNoContent)
}
