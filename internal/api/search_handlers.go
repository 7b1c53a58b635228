package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/nearby/internal/cache"
	"github.com/onnwee/nearby/internal/middleware"
	"github.com/onnwee/nearby/internal/pipeline"
	"github.com/onnwee/nearby/internal/search"
)

// maxSearchBody caps the search request body.
const maxSearchBody = 16 << 10

// SearchService runs searches.
type SearchService interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// SearchHandlers serves natural-language search.
type SearchHandlers struct {
	service SearchService
	responder
}

// NewSearchHandlers creates SearchHandlers. c and metrics may be nil.
func NewSearchHandlers(service SearchService, c *cache.ResponseCache, metrics *pipeline.Metrics, logger *slog.Logger, requestTimeout time.Duration) *SearchHandlers {
	return &SearchHandlers{
		service:   service,
		responder: newResponder(c, metrics, logger, requestTimeout),
	}
}

// Search handles POST /search and POST /api/mobile/search.
//
// Body: {"query": "...", "type": "all|locations|guides|users", "coordinates": {"latitude": 0, "longitude": 0}}
func (h *SearchHandlers) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req search.Request
	if err := decodeBody(w, r, &req); err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		return
	}
	if err := req.Validate(); err != nil {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error(), nil)
		return
	}
	req.ViewerID = middleware.GetViewerID(ctx)

	h.serve(w, r, search.Endpoint, req.ViewerID, req.CacheKey(), "Search is temporarily unavailable",
		func() any { return search.Fallback() },
		func(ctx context.Context) (payload, error) {
			resp, err := h.service.Search(ctx, req)
			if err != nil || resp == nil {
				return nil, err
			}
			return resp, nil
		},
	)
}

var (
	errEmptyBody     = errors.New("request body is required")
	errMalformedBody = errors.New("request body must be a JSON object")
	errBodyTooLarge  = errors.New("request body is too large")
)

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSearchBody))
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return errEmptyBody
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		default:
			return errMalformedBody
		}
	}
	return nil
}
