package feed

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/onnwee/nearby/internal/auth"
	"github.com/onnwee/nearby/internal/geo"
	"github.com/onnwee/nearby/internal/pipeline"
	"github.com/onnwee/nearby/internal/ranking"
	"github.com/onnwee/nearby/internal/store"
)

// Relations are the related records resolved for a batch of raw records.
// Lookups that miss degrade to defaults.
type Relations struct {
	Users     map[string]store.Document
	Locations map[string]store.Document
}

// Normalizer maps raw store documents onto feed items.
type Normalizer struct {
	media   MediaResolver
	weights *ranking.Weights
	logger  *slog.Logger
	metrics *pipeline.Metrics
	now     func() time.Time
}

// NewNormalizer creates a Normalizer. Nil weights use the defaults; nil
// logger uses slog.Default(); metrics are optional.
func NewNormalizer(media MediaResolver, weights *ranking.Weights, logger *slog.Logger, metrics *pipeline.Metrics) *Normalizer {
	if weights == nil {
		weights = ranking.DefaultWeights()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{media: media, weights: weights, logger: logger, metrics: metrics, now: time.Now}
}

// Post normalizes one post record.
func (n *Normalizer) Post(doc store.Document, rel Relations, viewer *auth.Viewer) (*PostItem, error) {
	id := doc.ID()
	if id == "" {
		return nil, &pipeline.NormalizationError{Type: string(TypePost), Reason: "record has no id"}
	}

	item := &PostItem{
		ID:         id,
		CreatedAt:  doc.CreatedAt(),
		Caption:    doc.FirstString("caption", "content", "title", "description"),
		Author:     n.Author(doc, "author", rel),
		Media:      n.postMedia(doc),
		Engagement: engagementOf(doc, viewer),
		Categories: StringList(doc, "categories"),
		Tags:       StringList(doc, "tags"),
	}
	if r, ok := doc.Float("rating"); ok {
		item.Rating = &r
	}

	if locID, embedded := doc.Ref("location"); locID != "" || embedded != nil {
		loc := resolve(locID, embedded, rel.Locations)
		if loc != nil {
			item.Location = n.locationSummary(loc)
			item.Private = IsPrivate(loc)
		}
	}

	item.EngagementScore = ranking.EngagementScore(item.Engagement.LikeCount, item.Engagement.CommentCount, item.Engagement.SaveCount, n.weights.Engagement)
	item.TrendingScore = ranking.TrendingScore(item.EngagementScore, item.CreatedAt, n.now(), n.weights.Engagement)
	return item, nil
}

// Place normalizes one location record.
func (n *Normalizer) Place(doc store.Document, rel Relations, viewer *auth.Viewer) (*PlaceItem, error) {
	id := doc.ID()
	if id == "" {
		return nil, &pipeline.NormalizationError{Type: string(TypePlace), Reason: "record has no id"}
	}

	item := &PlaceItem{
		ID:          id,
		CreatedAt:   doc.CreatedAt(),
		Name:        doc.FirstString("name", "title"),
		Description: doc.FirstString("description", "shortDescription", "summary"),
		Address:     FormatAddress(doc),
		Media:       n.placeMedia(doc),
		Engagement:  engagementOf(doc, viewer),
		Categories:  StringList(doc, "categories"),
		Tags:        StringList(doc, "tags"),
		ReviewCount: doc.Int("reviewCount"),
		PriceRange:  doc.String("priceRange"),
		IsVerified:  doc.Bool("isVerified"),
		IsFeatured:  doc.Bool("isFeatured"),
		Private:     IsPrivate(doc),
	}
	if r, ok := doc.Float("averageRating"); ok {
		item.Rating = &r
	} else if r, ok := doc.Float("rating"); ok {
		item.Rating = &r
	}
	if _, present := doc.Lookup("createdBy"); present {
		owner := n.Author(doc, "createdBy", rel)
		item.Owner = &owner
	}

	coords := PlaceCoordinates(doc)
	item.Geohash = geo.Coarse(coords)
	if viewer != nil {
		if miles, ok := geo.DistanceBetween(viewer.Coordinates, coords); ok {
			item.DistanceMiles = &miles
		}
	}

	item.EngagementScore = ranking.EngagementScore(item.Engagement.LikeCount, item.Engagement.CommentCount, item.Engagement.SaveCount, n.weights.Engagement)
	item.TrendingScore = ranking.TrendingScore(item.EngagementScore, item.CreatedAt, n.now(), n.weights.Engagement)
	return item, nil
}

// Person normalizes one user record into a suggestion. Scoring happens
// later, once mutual followers are known.
func (n *Normalizer) Person(doc store.Document, viewer *auth.Viewer) (PersonSuggestion, error) {
	id := doc.ID()
	if id == "" {
		return PersonSuggestion{}, &pipeline.NormalizationError{Type: string(TypePeople), Reason: "record has no id"}
	}

	p := PersonSuggestion{
		ID:         id,
		Name:       doc.FirstString("name", "displayName", "username"),
		Username:   doc.String("username"),
		Avatar:     n.avatar(doc),
		Bio:        doc.String("bio"),
		IsVerified: doc.Bool("isVerified"),
		CreatedAt:  doc.CreatedAt(),
	}
	if p.Name == "" {
		p.Name = "Anonymous"
	}
	if t, ok := doc.Time("lastLogin"); ok {
		p.lastLogin = t
	}

	coords := auth.UserCoordinates(doc)
	p.Geohash = geo.Coarse(coords)
	if viewer != nil {
		if miles, ok := geo.DistanceBetween(viewer.Coordinates, coords); ok {
			p.DistanceMiles = &miles
		}
	}
	return p, nil
}

// Posts normalizes a batch, skipping records that fail hard checks.
func (n *Normalizer) Posts(ctx context.Context, docs []store.Document, rel Relations, viewer *auth.Viewer) []*PostItem {
	out := make([]*PostItem, 0, len(docs))
	for _, d := range docs {
		item, err := n.Post(d, rel, viewer)
		if err != nil {
			n.Skip(ctx, err)
			continue
		}
		out = append(out, item)
	}
	return out
}

// Places normalizes a batch, skipping records that fail hard checks.
func (n *Normalizer) Places(ctx context.Context, docs []store.Document, rel Relations, viewer *auth.Viewer) []*PlaceItem {
	out := make([]*PlaceItem, 0, len(docs))
	for _, d := range docs {
		item, err := n.Place(d, rel, viewer)
		if err != nil {
			n.Skip(ctx, err)
			continue
		}
		out = append(out, item)
	}
	return out
}

// People normalizes a batch of user records.
func (n *Normalizer) People(ctx context.Context, docs []store.Document, viewer *auth.Viewer) []PersonSuggestion {
	out := make([]PersonSuggestion, 0, len(docs))
	for _, d := range docs {
		p, err := n.Person(d, viewer)
		if err != nil {
			n.Skip(ctx, err)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Skip logs and counts a record dropped during normalization.
func (n *Normalizer) Skip(ctx context.Context, err error) {
	typ := "unknown"
	var ne *pipeline.NormalizationError
	if errors.As(err, &ne) {
		typ = ne.Type
	}
	n.logger.WarnContext(ctx, "skipping record", "type", typ, "error", err)
	if n.metrics != nil {
		n.metrics.IncNormalizationSkipped(typ)
	}
}

// Author resolves a user relation into a summary, or Anonymous.
func (n *Normalizer) Author(doc store.Document, path string, rel Relations) AuthorSummary {
	id, embedded := doc.Ref(path)
	user := resolve(id, embedded, rel.Users)
	if user == nil {
		return Anonymous()
	}
	name := user.FirstString("name", "displayName", "username")
	if name == "" {
		name = "Anonymous"
	}
	return AuthorSummary{ID: user.ID(), Name: name, Avatar: n.avatar(user)}
}

func (n *Normalizer) avatar(user store.Document) *string {
	if u := n.UploadURL(user, "profileImage", "avatar", "image"); u != "" {
		return &u
	}
	return nil
}

func (n *Normalizer) locationSummary(loc store.Document) *LocationSummary {
	id := loc.ID()
	if id == "" {
		return nil
	}
	return &LocationSummary{
		ID:         id,
		Name:       loc.FirstString("name", "title"),
		Address:    FormatAddress(loc),
		Geohash:    geo.Coarse(PlaceCoordinates(loc)),
		Categories: StringList(loc, "categories"),
	}
}

// UploadURL returns the resolved URL of the first upload field present.
// Upload fields hold a URL string or an upload document.
func (n *Normalizer) UploadURL(doc store.Document, paths ...string) string {
	for _, p := range paths {
		v, ok := doc.Lookup(p)
		if !ok {
			continue
		}
		switch u := v.(type) {
		case string:
			if r := n.media.Resolve(u); r != "" {
				return r
			}
		case map[string]any:
			if r := n.media.Resolve(store.Document(u).FirstString("url", "filename")); r != "" {
				return r
			}
		}
	}
	return ""
}

func (n *Normalizer) postMedia(doc store.Document) []Media {
	var media []Media
	if v := n.uploadMedia(doc, "video", MediaVideo); v != nil {
		if thumb := n.UploadURL(doc, "videoThumbnail", "thumbnail"); thumb != "" && v.Thumbnail == "" {
			v.Thumbnail = thumb
		}
		media = append(media, *v)
	}
	if img := n.uploadMedia(doc, "image", MediaImage); img != nil {
		media = append(media, *img)
	}
	media = append(media, n.mediaList(doc, "media", "photos")...)
	return videosFirst(dedupeMedia(media))
}

func (n *Normalizer) placeMedia(doc store.Document) []Media {
	var media []Media
	if img := n.uploadMedia(doc, "featuredImage", MediaImage); img != nil {
		media = append(media, *img)
	}
	media = append(media, n.mediaList(doc, "gallery", "media", "photos")...)
	return videosFirst(dedupeMedia(media))
}

// uploadMedia reads a single upload field as an attachment of the given
// default type. The upload's mimeType overrides the default.
func (n *Normalizer) uploadMedia(doc store.Document, path string, def MediaType) *Media {
	v, ok := doc.Lookup(path)
	if !ok {
		return nil
	}
	switch u := v.(type) {
	case string:
		if r := n.media.Resolve(u); r != "" {
			return &Media{Type: def, URL: r}
		}
	case map[string]any:
		return n.mediaFromUpload(store.Document(u), def)
	}
	return nil
}

func (n *Normalizer) mediaFromUpload(u store.Document, def MediaType) *Media {
	// Gallery rows wrap the upload: {"image": {...}, "caption": "..."}.
	for _, inner := range []string{"image", "media", "file"} {
		if nested, ok := u.Doc(inner); ok {
			m := n.mediaFromUpload(nested, def)
			if m != nil && m.Alt == "" {
				m.Alt = u.FirstString("alt", "caption")
			}
			return m
		}
	}

	url := n.media.Resolve(u.FirstString("url", "filename"))
	if url == "" {
		return nil
	}
	m := &Media{
		Type: def,
		URL:  url,
		Alt:  u.FirstString("alt", "caption"),
	}
	mime := strings.ToLower(u.FirstString("mimeType", "type"))
	switch {
	case strings.HasPrefix(mime, "video"):
		m.Type = MediaVideo
	case strings.HasPrefix(mime, "image"):
		m.Type = MediaImage
	}
	m.Thumbnail = n.media.Resolve(u.FirstString("thumbnailURL", "thumbnailUrl", "thumbnail", "sizes.thumbnail.url"))
	if d, ok := u.Float("duration"); ok && d > 0 {
		m.Duration = d
	}
	return m
}

func (n *Normalizer) mediaList(doc store.Document, paths ...string) []Media {
	var out []Media
	for _, p := range paths {
		for _, entry := range doc.Slice(p) {
			switch e := entry.(type) {
			case string:
				if r := n.media.Resolve(e); r != "" {
					out = append(out, Media{Type: guessType(r), URL: r})
				}
			case map[string]any:
				if m := n.mediaFromUpload(store.Document(e), MediaImage); m != nil {
					out = append(out, *m)
				}
			}
		}
	}
	return out
}

func guessType(u string) MediaType {
	lower := strings.ToLower(u)
	if i := strings.IndexAny(lower, "?#"); i >= 0 {
		lower = lower[:i]
	}
	for _, ext := range []string{".mp4", ".mov", ".webm", ".m4v", ".m3u8"} {
		if strings.HasSuffix(lower, ext) {
			return MediaVideo
		}
	}
	return MediaImage
}

func dedupeMedia(media []Media) []Media {
	seen := make(map[string]struct{}, len(media))
	out := make([]Media, 0, len(media))
	for _, m := range media {
		if _, dup := seen[m.URL]; dup {
			continue
		}
		seen[m.URL] = struct{}{}
		out = append(out, m)
	}
	return out
}

// videosFirst moves videos ahead of images, keeping relative order.
func videosFirst(media []Media) []Media {
	sort.SliceStable(media, func(i, j int) bool {
		return media[i].Type == MediaVideo && media[j].Type != MediaVideo
	})
	return media
}

// engagementOf reads counts from interaction arrays when present, falling
// back to numeric counters.
func engagementOf(doc store.Document, viewer *auth.Viewer) Engagement {
	var e Engagement
	viewerID := ""
	if viewer != nil {
		viewerID = viewer.ID
	}

	e.LikeCount, e.IsLiked = interactions(doc, viewerID, "likes", "likeCount")
	e.CommentCount, _ = interactions(doc, "", "comments", "commentCount")
	e.SaveCount, e.IsSaved = interactions(doc, viewerID, "savedBy", "saveCount")
	if e.SaveCount == 0 {
		e.SaveCount, e.IsSaved = interactions(doc, viewerID, "saves", "saveCount")
	}
	return e
}

func interactions(doc store.Document, viewerID, arrayField, countField string) (int, bool) {
	if items := doc.Slice(arrayField); items != nil {
		count := len(items)
		if viewerID == "" {
			return count, false
		}
		for _, id := range doc.RefIDs(arrayField) {
			if id == viewerID {
				return count, true
			}
		}
		return count, false
	}
	if c := doc.Int(countField); c > 0 {
		return c, false
	}
	if c := doc.Int(arrayField); c > 0 {
		return c, false
	}
	return 0, false
}

// StringList coerces a category or tag field to plain strings. Entries may
// be strings, ids, or embedded documents carrying a display field.
func StringList(doc store.Document, path string) []string {
	out := []string{}
	v, ok := doc.Lookup(path)
	if !ok {
		return out
	}
	if s, isString := v.(string); isString {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		return out
	}
	for _, entry := range doc.Slice(path) {
		var s string
		switch e := entry.(type) {
		case map[string]any:
			d := store.Document(e)
			s = d.FirstString("name", "title", "slug", "label", "tag", "value")
			if s == "" {
				s = d.ID()
			}
		default:
			s = store.Scalar(e)
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FormatAddress renders a place address stored either as a string or as
// a structured object.
func FormatAddress(doc store.Document) string {
	if s := doc.String("address"); s != "" {
		return s
	}
	addr, ok := doc.Doc("address")
	if !ok {
		return ""
	}
	if s := addr.FirstString("formatted", "full"); s != "" {
		return s
	}
	var parts []string
	for _, k := range []string{"street", "city", "state", "zip"} {
		if s := strings.TrimSpace(addr.String(k)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// PlaceCoordinates reads a location's coordinates.
func PlaceCoordinates(doc store.Document) *geo.Coordinates {
	if c := doc.Coordinates("coordinates"); c != nil {
		return c
	}
	return doc.Coordinates("address.coordinates")
}

// IsPrivate reports whether a location record is marked private. The check
// is case-insensitive.
func IsPrivate(loc store.Document) bool {
	return strings.EqualFold(strings.TrimSpace(loc.String("privacy")), "private")
}

// resolve prefers an embedded document carrying more than an id, then the
// looked-up record, then nothing.
func resolve(id string, embedded store.Document, lookup map[string]store.Document) store.Document {
	if len(embedded) > 1 {
		return embedded
	}
	if id == "" {
		return nil
	}
	if d, ok := lookup[id]; ok {
		return d
	}
	return nil
}
