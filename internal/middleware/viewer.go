package middleware

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/nearby/internal/auth"
)

// Viewer resolves the requesting viewer from the request headers and stores
// the id in the request context. Anonymous requests pass through with no id.
// The id is also made visible to the Logging middleware and the active span.
func Viewer(resolver auth.ViewerResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := resolver.ViewerID(r.Header)
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := SetViewerID(r.Context(), id)
			UpdateResponseContext(w, ctx)
			trace.SpanFromContext(ctx).SetAttributes(attribute.String("viewer.id", id))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
