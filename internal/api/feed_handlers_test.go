package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/nearby/internal/cache"
	"github.com/onnwee/nearby/internal/feed"
	"github.com/onnwee/nearby/internal/middleware"
	"github.com/onnwee/nearby/internal/pipeline"
)

// testEnvelope mirrors Envelope with the payload left undecoded.
type testEnvelope struct {
	Success bool            `json:"success"`
	Error   *ErrorDetail    `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) testEnvelope {
	t.Helper()
	var env testEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode envelope %q: %v", w.Body.String(), err)
	}
	return env
}

// memoryRedis is an in-memory cache.Client.
type memoryRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryRedis() *memoryRedis {
	return &memoryRedis{data: map[string]string{}}
}

func (m *memoryRedis) Get(_ context.Context, key string) *redis.StringCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryRedis) Set(_ context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := value.([]byte); ok {
		m.data[key] = string(b)
	}
	return redis.NewStatusResult("OK", nil)
}

// fakeFeedService returns a canned response and records calls.
type fakeFeedService struct {
	mu      sync.Mutex
	resp    *feed.Response
	err     error
	panics  bool
	block   bool
	calls   int
	lastReq feed.Request
}

func (f *fakeFeedService) Feed(ctx context.Context, req feed.Request) (*feed.Response, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	f.mu.Unlock()

	if f.panics {
		panic("normalizer exploded")
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.resp != nil {
		return f.resp, nil
	}
	resp := feed.Fallback(req)
	resp.Posts = feed.Items{&feed.PostItem{ID: "p1", Caption: "Sunday brunch", CreatedAt: time.Now()}}
	resp.Meta.Sources["posts"] = feed.SourceMeta{Count: 1}
	return resp, nil
}

func (f *fakeFeedService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// metricValue reads a counter with the given labels from a fresh registry.
func metricValue(t *testing.T, m *pipeline.Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, metric := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range metric.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metrics
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func getFeed(h *FeedHandlers, target, viewerID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if viewerID != "" {
		req = req.WithContext(middleware.SetViewerID(req.Context(), viewerID))
	}
	w := httptest.NewRecorder()
	h.GetFeed(w, req)
	return w
}

func TestGetFeed_Success(t *testing.T) {
	svc := &fakeFeedService{}
	h := NewFeedHandlers(svc, nil, nil, nil, 0)

	w := getFeed(h, "/feed?page=2&limit=5&feedType=popular", "viewer-1")

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Header().Get("X-Cache") != "" {
		t.Error("X-Cache set with caching disabled")
	}

	env := decodeEnvelope(t, w)
	if !env.Success || env.Error != nil {
		t.Fatalf("expected success envelope, got %s", w.Body.String())
	}
	var data struct {
		Posts []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"posts"`
		Pagination feed.Pagination `json:"pagination"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("failed to decode data: %v", err)
	}
	if len(data.Posts) != 1 || data.Posts[0].Type != "post" || data.Posts[0].ID != "p1" {
		t.Errorf("posts = %+v", data.Posts)
	}
	if data.Pagination.Page != 2 || data.Pagination.Limit != 5 {
		t.Errorf("pagination = %+v", data.Pagination)
	}

	if svc.lastReq.ViewerID != "viewer-1" {
		t.Errorf("viewer id = %q, want viewer-1", svc.lastReq.ViewerID)
	}
	if svc.lastReq.SortBy != feed.SortPopularity {
		t.Errorf("popular feed sort = %q", svc.lastReq.SortBy)
	}
}

func TestGetFeed_ValidationError(t *testing.T) {
	tests := []struct {
		name   string
		target string
	}{
		{"limit too large", "/feed?limit=51"},
		{"limit zero", "/feed?limit=0"},
		{"page negative", "/feed?page=-1"},
		{"unknown feed type", "/feed?feedType=chronological"},
		{"unknown sort", "/feed?sortBy=random"},
		{"unknown include type", "/feed?includeTypes=post,video"},
		{"bad lastSeen", "/feed?lastSeen=yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeFeedService{}
			w := getFeed(NewFeedHandlers(svc, nil, nil, nil, 0), tt.target, "")

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
			env := decodeEnvelope(t, w)
			if env.Success || env.Error == nil || env.Error.Code != ErrCodeValidation {
				t.Errorf("unexpected envelope: %s", w.Body.String())
			}
			if env.Data != nil {
				t.Errorf("validation errors must not carry data, got %s", env.Data)
			}
			if svc.callCount() != 0 {
				t.Error("service called for invalid request")
			}
		})
	}
}

func TestGetFeed_FallbackOnFailure(t *testing.T) {
	tests := []struct {
		name string
		svc  *fakeFeedService
	}{
		{"service error", &fakeFeedService{err: errors.New("store unavailable")}},
		{"service panic", &fakeFeedService{panics: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := pipeline.NewMetrics()
			h := NewFeedHandlers(tt.svc, nil, metrics, nil, 0)

			w := getFeed(h, "/feed?page=3&limit=10", "")

			if w.Code != http.StatusInternalServerError {
				t.Fatalf("expected status 500, got %d", w.Code)
			}
			env := decodeEnvelope(t, w)
			if env.Success || env.Error == nil || env.Error.Code != ErrCodeInternal {
				t.Fatalf("unexpected envelope: %s", w.Body.String())
			}
			var raw struct {
				Posts      []json.RawMessage `json:"posts"`
				Pagination feed.Pagination   `json:"pagination"`
			}
			if err := json.Unmarshal(env.Data, &raw); err != nil {
				t.Fatalf("failed to decode fallback data: %v", err)
			}
			if raw.Posts == nil || len(raw.Posts) != 0 {
				t.Errorf("fallback posts = %v, want empty array", raw.Posts)
			}
			if raw.Pagination.Page != 3 || raw.Pagination.Limit != 10 || !raw.Pagination.HasPrev {
				t.Errorf("fallback pagination = %+v", raw.Pagination)
			}

			if got := metricValue(t, metrics, pipeline.MetricPipelineFallbackTotal, map[string]string{"endpoint": feed.Endpoint}); got != 1 {
				t.Errorf("fallback count = %v, want 1", got)
			}
		})
	}
}

func TestGetFeed_RequestDeadline(t *testing.T) {
	svc := &fakeFeedService{block: true}
	h := NewFeedHandlers(svc, nil, nil, nil, 20*time.Millisecond)

	start := time.Now()
	w := getFeed(h, "/feed", "")

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", w.Code)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("request deadline not applied, took %v", elapsed)
	}
}

func TestGetFeed_CachesCompleteResponses(t *testing.T) {
	svc := &fakeFeedService{}
	metrics := pipeline.NewMetrics()
	c := cache.New(newMemoryRedis(), time.Minute, metrics, nil)
	h := NewFeedHandlers(svc, c, metrics, nil, 0)

	first := getFeed(h, "/feed?limit=5", "viewer-1")
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first request: status %d, X-Cache %q", first.Code, first.Header().Get("X-Cache"))
	}

	second := getFeed(h, "/feed?limit=5", "viewer-1")
	if second.Code != http.StatusOK || second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second request: status %d, X-Cache %q", second.Code, second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Error("cached body differs from original")
	}
	if svc.callCount() != 1 {
		t.Errorf("service calls = %d, want 1", svc.callCount())
	}

	// Another viewer never sees the first viewer's page.
	other := getFeed(h, "/feed?limit=5", "viewer-2")
	if other.Header().Get("X-Cache") != "MISS" {
		t.Error("cache entry shared across viewers")
	}
	anon := getFeed(h, "/feed?limit=5", "")
	if anon.Header().Get("X-Cache") != "MISS" {
		t.Error("cache entry shared with anonymous requests")
	}
	if svc.callCount() != 3 {
		t.Errorf("service calls = %d, want 3", svc.callCount())
	}

	if got := metricValue(t, metrics, pipeline.MetricResponseCacheRequests, map[string]string{"endpoint": feed.Endpoint, "outcome": cache.OutcomeHit}); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
}

func TestGetFeed_DoesNotCacheDegradedResponses(t *testing.T) {
	degraded := feed.Fallback(feed.Request{Page: 1, Limit: 20})
	degraded.Meta.Sources["posts"] = feed.SourceMeta{Count: 0, Error: "context deadline exceeded"}
	svc := &fakeFeedService{resp: degraded}
	h := NewFeedHandlers(svc, cache.New(newMemoryRedis(), time.Minute, nil, nil), nil, nil, 0)

	for i := 0; i < 2; i++ {
		w := getFeed(h, "/feed", "viewer-1")
		if w.Code != http.StatusOK {
			t.Fatalf("expected degraded page to be served with 200, got %d", w.Code)
		}
		if w.Header().Get("X-Cache") != "MISS" {
			t.Errorf("request %d: X-Cache = %q", i, w.Header().Get("X-Cache"))
		}
	}
	if svc.callCount() != 2 {
		t.Errorf("service calls = %d, want 2", svc.callCount())
	}
}

func TestGetFeed_FailuresAreNotCached(t *testing.T) {
	svc := &fakeFeedService{err: errors.New("boom")}
	h := NewFeedHandlers(svc, cache.New(newMemoryRedis(), time.Minute, nil, nil), nil, nil, 0)

	getFeed(h, "/feed", "")
	svc.err = nil
	w := getFeed(h, "/feed", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected recovery after failure, got %d", w.Code)
	}
	if w.Header().Get("X-Cache") != "MISS" {
		t.Error("fallback response was cached")
	}
}
