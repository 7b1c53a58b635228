package auth

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/onnwee/nearby/internal/store"
)

func TestTokenResolver_ViewerID(t *testing.T) {
	svc := NewJWTService(testSecret)
	token, err := svc.GenerateAccessToken("viewer-1")
	if err != nil {
		t.Fatal(err)
	}
	r := NewTokenResolver(svc, nil)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token", "Bearer " + token, "viewer-1"},
		{"no header", "", ""},
		{"invalid token", "Bearer nope", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			if got := r.ViewerID(h); got != tt.want {
				t.Errorf("ViewerID() = %q, want %q", got, tt.want)
			}
		})
	}

	var nilResolver *TokenResolver
	if nilResolver.ViewerID(http.Header{"Authorization": {"Bearer " + token}}) != "" {
		t.Error("nil resolver should be anonymous")
	}
}

type failingStore struct{ store.DocumentStore }

func (failingStore) FindByID(context.Context, string, string) (store.Document, error) {
	return nil, errors.New("connection refused")
}

func TestProfileLoader_Load(t *testing.T) {
	s := store.NewInMemoryStore()
	s.Put(store.CollectionUsers, store.Document{
		"id":        "viewer-1",
		"following": []any{"u1", map[string]any{"id": "u2"}},
		"location":  map[string]any{"coordinates": map[string]any{"latitude": 42.25, "longitude": -71.0}},
	})
	loader := NewProfileLoader(s)
	ctx := context.Background()

	anon, err := loader.Load(ctx, "")
	if err != nil || anon != nil {
		t.Errorf("anonymous Load = %v, %v", anon, err)
	}

	v, err := loader.Load(ctx, "viewer-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !v.Follows("u1") || !v.Follows("u2") || v.Follows("u3") {
		t.Errorf("Following = %v", v.Following)
	}
	if v.Coordinates == nil || v.Coordinates.Latitude != 42.25 {
		t.Errorf("Coordinates = %v", v.Coordinates)
	}

	ghost, err := loader.Load(ctx, "ghost")
	if err != nil || ghost == nil || ghost.ID != "ghost" || len(ghost.Following) != 0 {
		t.Errorf("missing profile Load = %+v, %v", ghost, err)
	}

	degraded, err := NewProfileLoader(failingStore{}).Load(ctx, "viewer-1")
	if err == nil {
		t.Error("expected error from failing store")
	}
	if degraded == nil || degraded.ID != "viewer-1" {
		t.Errorf("degraded viewer = %+v", degraded)
	}

	var nilViewer *Viewer
	if nilViewer.Follows("u1") {
		t.Error("nil viewer follows nobody")
	}
}
