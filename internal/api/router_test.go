package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/onnwee/nearby/internal/middleware"
)

type staticResolver map[string]string

func (s staticResolver) ViewerID(h http.Header) string {
	return s[h.Get("Authorization")]
}

type testRouter struct {
	handler http.Handler
	feed    *fakeFeedService
	search  *fakeSearchService
}

func newTestRouter(t *testing.T, searchLimit int) testRouter {
	t.Helper()
	feedSvc := &fakeFeedService{}
	searchSvc := &fakeSearchService{}

	reg := prometheus.NewRegistry()
	metrics := middleware.NewMetrics()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register metrics: %v", err)
	}

	handler := NewRouter(RouterConfig{
		Feed:           NewFeedHandlers(feedSvc, nil, nil, nil, 0),
		Search:         NewSearchHandlers(searchSvc, nil, nil, nil, 0),
		Health:         NewHealthHandlers(HealthHandlersConfig{}),
		Metrics:        metrics,
		Gatherer:       reg,
		CORS:           middleware.CORSConfig{AllowedOrigins: []string{"https://app.example.com"}},
		Resolver:       staticResolver{"Bearer good": "viewer-1"},
		RateLimitStore: middleware.NewInMemoryRateLimitStore(),
		SearchLimit:    middleware.RateLimitConfig{RequestsPerWindow: searchLimit, WindowDuration: time.Minute},
	})
	return testRouter{handler: handler, feed: feedSvc, search: searchSvc}
}

func (tr testRouter) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)
	return w
}

func TestRouter_FeedRoutes(t *testing.T) {
	tr := newTestRouter(t, 10)

	for _, path := range []string{"/feed", "/api/mobile/posts/feed"} {
		t.Run(path, func(t *testing.T) {
			w := tr.do(http.MethodGet, path+"?limit=5", "", map[string]string{"Authorization": "Bearer good"})
			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Error("missing X-Request-ID")
			}
			if w.Header().Get("X-RateLimit-Limit") != "100" {
				t.Errorf("global limit header = %q", w.Header().Get("X-RateLimit-Limit"))
			}
			if tr.feed.lastReq.ViewerID != "viewer-1" {
				t.Errorf("viewer = %q, want viewer-1", tr.feed.lastReq.ViewerID)
			}
		})
	}
}

func TestRouter_SearchRoutes(t *testing.T) {
	tr := newTestRouter(t, 10)

	for _, path := range []string{"/search", "/api/mobile/search"} {
		t.Run(path, func(t *testing.T) {
			w := tr.do(http.MethodPost, path, `{"query":"tacos"}`, nil)
			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}
			if w.Header().Get("X-RateLimit-Limit") != "10" {
				t.Errorf("search limit header = %q", w.Header().Get("X-RateLimit-Limit"))
			}
			if tr.search.lastReq.ViewerID != "" {
				t.Errorf("anonymous request resolved to %q", tr.search.lastReq.ViewerID)
			}
		})
	}
}

func TestRouter_SearchRateLimited(t *testing.T) {
	tr := newTestRouter(t, 2)

	for i := 0; i < 2; i++ {
		if w := tr.do(http.MethodPost, "/search", `{"query":"tacos"}`, nil); w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}

	w := tr.do(http.MethodPost, "/search", `{"query":"tacos"}`, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	env := decodeEnvelope(t, w)
	if env.Success || env.Error == nil || env.Error.Code != ErrCodeRateLimited {
		t.Errorf("unexpected envelope: %s", w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if tr.search.calls != 2 {
		t.Errorf("service calls = %d, want 2", tr.search.calls)
	}

	// The feed has its own budget.
	if w := tr.do(http.MethodGet, "/feed", "", nil); w.Code != http.StatusOK {
		t.Errorf("feed blocked by the search limit: %d", w.Code)
	}
}

func TestRouter_NotFoundAndMethodNotAllowed(t *testing.T) {
	tr := newTestRouter(t, 10)

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantCode   string
	}{
		{http.MethodGet, "/nope", http.StatusNotFound, ErrCodeNotFound},
		{http.MethodGet, "/search", http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
		{http.MethodPost, "/feed", http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := tr.do(tt.method, tt.path, "", nil)
			if w.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, w.Code)
			}
			env := decodeEnvelope(t, w)
			if env.Success || env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("unexpected envelope: %s", w.Body.String())
			}
		})
	}
}

func TestRouter_CORS(t *testing.T) {
	tr := newTestRouter(t, 10)

	preflight := tr.do(http.MethodOptions, "/search", "", map[string]string{
		"Origin":                        "https://app.example.com",
		"Access-Control-Request-Method": http.MethodPost,
	})
	if preflight.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", preflight.Code)
	}
	if preflight.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Error("preflight missing Allow-Origin")
	}

	rejected := tr.do(http.MethodGet, "/feed", "", map[string]string{"Origin": "https://evil.example.com"})
	if rejected.Code != http.StatusForbidden {
		t.Errorf("foreign origin status = %d, want 403", rejected.Code)
	}
}

func TestRouter_HealthChecksAndMetrics(t *testing.T) {
	tr := newTestRouter(t, 10)

	for _, path := range []string{"/health", "/ready"} {
		if w := tr.do(http.MethodGet, path, "", nil); w.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, w.Code)
		}
	}

	tr.do(http.MethodGet, "/feed", "", nil)
	w := tr.do(http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, `http_requests_total{method="GET",route="/feed",status="200"} 1`) {
		t.Errorf("feed request not recorded by route pattern:\n%s", body)
	}
	if strings.Contains(body, `route="/health"`) {
		t.Error("health check requests should not be metered")
	}
}
