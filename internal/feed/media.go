package feed

import (
	"net/url"
	"strings"
)

// MediaResolver turns the URL forms found in stored records into absolute
// URLs on the canonical media host. It does no I/O.
type MediaResolver struct {
	// BaseURL prefixes bare filenames and relative paths, e.g.
	// "https://cdn.example.com". A trailing slash is ignored.
	BaseURL string
	// CanonicalHost replaces any of AlternateHosts in absolute URLs.
	CanonicalHost  string
	AlternateHosts []string
}

// Resolve returns the absolute URL for raw, or "" when raw is empty.
//
//	"photo.jpg"                     -> {base}/media/photo.jpg
//	"/api/media/file/photo.jpg"     -> {base}/api/media/file/photo.jpg
//	"https://{alternate}/x.jpg"     -> https://{canonical}/x.jpg
func (r MediaResolver) Resolve(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	base := strings.TrimRight(r.BaseURL, "/")

	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return r.canonicalize(raw)
	}
	if strings.HasPrefix(raw, "data:") || strings.HasPrefix(raw, "blob:") {
		return raw
	}
	if strings.HasPrefix(raw, "/") {
		return base + raw
	}
	if !strings.Contains(raw, "/") {
		return base + "/media/" + url.PathEscape(raw)
	}
	return base + "/" + raw
}

func (r MediaResolver) canonicalize(raw string) string {
	if r.CanonicalHost == "" || len(r.AlternateHosts) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	for _, alt := range r.AlternateHosts {
		if strings.EqualFold(u.Host, alt) {
			u.Host = r.CanonicalHost
			u.Scheme = "https"
			return u.String()
		}
	}
	return raw
}
