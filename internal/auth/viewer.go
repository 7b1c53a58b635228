package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/nearby/internal/geo"
	"github.com/onnwee/nearby/internal/store"
)

// Viewer is the authenticated user making a request.
type Viewer struct {
	ID          string
	Following   []string
	Coordinates *geo.Coordinates
}

// Follows reports whether the viewer follows userID.
func (v *Viewer) Follows(userID string) bool {
	if v == nil {
		return false
	}
	for _, id := range v.Following {
		if id == userID {
			return true
		}
	}
	return false
}

// ViewerResolver maps request headers to a viewer id. An empty id means
// the request is anonymous; invalid credentials are treated the same way.
type ViewerResolver interface {
	ViewerID(h http.Header) string
}

// TokenResolver resolves viewers from bearer tokens.
type TokenResolver struct {
	jwt    *JWTService
	logger *slog.Logger
}

// NewTokenResolver creates a TokenResolver. A nil service makes every
// request anonymous.
func NewTokenResolver(svc *JWTService, logger *slog.Logger) *TokenResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenResolver{jwt: svc, logger: logger}
}

// ViewerID implements ViewerResolver.
func (r *TokenResolver) ViewerID(h http.Header) string {
	if r == nil || r.jwt == nil {
		return ""
	}
	token := BearerToken(h.Get("Authorization"))
	if token == "" {
		return ""
	}
	claims, err := r.jwt.ValidateToken(token)
	if err != nil {
		r.logger.Debug("ignoring invalid bearer token", "error", err)
		return ""
	}
	return claims.Subject
}

// ProfileLoader loads the viewer's profile from the users collection.
type ProfileLoader struct {
	store store.DocumentStore
}

// NewProfileLoader creates a ProfileLoader backed by s.
func NewProfileLoader(s store.DocumentStore) *ProfileLoader {
	return &ProfileLoader{store: s}
}

// Load returns the viewer for id, or nil for anonymous requests. A viewer
// whose profile is missing is returned with only the id set.
func (l *ProfileLoader) Load(ctx context.Context, id string) (*Viewer, error) {
	if id == "" {
		return nil, nil
	}
	v := &Viewer{ID: id}

	doc, err := l.store.FindByID(ctx, store.CollectionUsers, id)
	if errors.Is(err, store.ErrNotFound) {
		return v, nil
	}
	if err != nil {
		return v, fmt.Errorf("failed to load viewer profile: %w", err)
	}

	v.Following = doc.RefIDs("following")
	v.Coordinates = UserCoordinates(doc)
	return v, nil
}

// UserCoordinates reads a user's home coordinates.
func UserCoordinates(doc store.Document) *geo.Coordinates {
	for _, path := range []string{"location.coordinates", "location", "coordinates"} {
		if c := doc.Coordinates(path); c != nil {
			return c
		}
	}
	return nil
}

// LoadContext loads the viewer profile and block sets concurrently. A
// profile failure leaves an id-only viewer; a block failure is returned so
// callers can withhold people results.
func LoadContext(ctx context.Context, profiles *ProfileLoader, blocks store.BlockLookup, viewerID string, logger *slog.Logger) (*Viewer, store.BlockSets, error) {
	var (
		viewer    *Viewer
		sets      store.BlockSets
		blocksErr error
	)
	if viewerID == "" {
		return nil, sets, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var g errgroup.Group
	g.Go(func() error {
		v, err := profiles.Load(ctx, viewerID)
		if err != nil {
			logger.WarnContext(ctx, "viewer profile unavailable", "viewer_id", viewerID, "error", err)
		}
		viewer = v
		return nil
	})
	g.Go(func() error {
		if blocks == nil {
			return nil
		}
		b, err := blocks.Blocks(ctx, viewerID)
		if err != nil {
			logger.WarnContext(ctx, "block lookup failed", "viewer_id", viewerID, "error", err)
			blocksErr = err
		}
		sets = b
		return nil
	})
	_ = g.Wait()
	return viewer, sets, blocksErr
}
