package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type headerResolver struct{}

func (headerResolver) ViewerID(h http.Header) string {
	return h.Get("X-Test-Viewer")
}

func TestViewer_SetsContext(t *testing.T) {
	var got string
	handler := Viewer(headerResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetViewerID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set("X-Test-Viewer", "user-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "user-1" {
		t.Errorf("viewer id = %q, want user-1", got)
	}
}

func TestViewer_Anonymous(t *testing.T) {
	called := false
	handler := Viewer(headerResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		if id := GetViewerID(r.Context()); id != "" {
			t.Errorf("expected anonymous request, got %q", id)
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/feed", nil))
	if !called {
		t.Error("handler not called")
	}
}

func TestViewer_VisibleToLogging(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newTestLogger(buf)

	handler := Logging(logger)(Viewer(headerResolver{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/feed", nil)
	req.Header.Set("X-Test-Viewer", "user-9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !strings.Contains(buf.String(), `"viewer_id":"user-9"`) {
		t.Errorf("log line missing viewer id: %s", buf.String())
	}
}
