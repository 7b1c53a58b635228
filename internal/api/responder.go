package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/nearby/internal/cache"
	"github.com/onnwee/nearby/internal/pipeline"
)

// DefaultRequestTimeout bounds one feed or search request. Sources still
// running at the deadline contribute nothing.
const DefaultRequestTimeout = 8 * time.Second

// payload is a feed or search response.
type payload interface {
	Degraded() bool
}

// responder runs a pipeline under the request deadline and writes the
// envelope. Complete responses are cached per viewer.
type responder struct {
	cache   *cache.ResponseCache
	metrics *pipeline.Metrics
	logger  *slog.Logger
	timeout time.Duration
}

func newResponder(c *cache.ResponseCache, metrics *pipeline.Metrics, logger *slog.Logger, timeout time.Duration) responder {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return responder{cache: c, metrics: metrics, logger: logger, timeout: timeout}
}

// serve answers from the cache when it can, otherwise runs build. A build
// error or panic becomes a 500 carrying fallback().
func (p responder) serve(w http.ResponseWriter, r *http.Request, endpoint, viewerID, cacheKey, failMessage string, fallback func() any, build func(context.Context) (payload, error)) {
	ctx := r.Context()

	if entry, ok := p.cache.Get(ctx, endpoint, viewerID, cacheKey); ok {
		w.Header().Set("X-Cache", "HIT")
		writeRaw(w, ctx, entry.Status, entry.Body)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	data, err := p.run(runCtx, build)
	var body []byte
	if err == nil {
		body, err = MarshalSuccess(data)
	}
	if err != nil {
		p.logger.ErrorContext(ctx, "pipeline failed, serving fallback", "endpoint", endpoint, "error", err)
		if p.metrics != nil {
			p.metrics.IncFallback(endpoint)
		}
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, failMessage, fallback())
		return
	}

	if p.cache.Enabled() {
		w.Header().Set("X-Cache", "MISS")
	}
	writeRaw(w, ctx, http.StatusOK, body)

	if !data.Degraded() {
		p.cache.Set(ctx, endpoint, viewerID, cacheKey, http.StatusOK, body)
	}
}

func (p responder) run(ctx context.Context, build func(context.Context) (payload, error)) (data payload, err error) {
	defer func() {
		if v := recover(); v != nil {
			data, err = nil, fmt.Errorf("panic: %v", v)
		}
	}()
	data, err = build(ctx)
	if err == nil && data == nil {
		err = fmt.Errorf("pipeline returned no response")
	}
	return data, err
}
