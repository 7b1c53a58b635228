package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/nearby/internal/cache"
	"github.com/onnwee/nearby/internal/feed"
	"github.com/onnwee/nearby/internal/middleware"
	"github.com/onnwee/nearby/internal/pipeline"
)

// FeedService builds feed pages.
type FeedService interface {
	Feed(ctx context.Context, req feed.Request) (*feed.Response, error)
}

// FeedHandlers serves the ranked home feed.
type FeedHandlers struct {
	service FeedService
	responder
}

// NewFeedHandlers creates FeedHandlers. c and metrics may be nil.
func NewFeedHandlers(service FeedService, c *cache.ResponseCache, metrics *pipeline.Metrics, logger *slog.Logger, requestTimeout time.Duration) *FeedHandlers {
	return &FeedHandlers{
		service:   service,
		responder: newResponder(c, metrics, logger, requestTimeout),
	}
}

// GetFeed handles GET /feed and GET /api/mobile/posts/feed.
func (h *FeedHandlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	req, err := feed.ParseRequest(r.URL.Query())
	if err != nil {
		WriteError(w, r.Context(), http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return
	}
	req.ViewerID = middleware.GetViewerID(r.Context())

	h.serve(w, r, feed.Endpoint, req.ViewerID, req.CacheKey(), "Feed is temporarily unavailable",
		func() any { return feed.Fallback(req) },
		func(ctx context.Context) (payload, error) {
			resp, err := h.service.Feed(ctx, req)
			if err != nil || resp == nil {
				return nil, err
			}
			return resp, nil
		},
	)
}
