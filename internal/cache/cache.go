// Package cache stores rendered feed and search responses in Redis for a
// short time. Entries are scoped to one viewer and never shared across
// identities.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/nearby/internal/pipeline"
)

// Cache outcomes recorded in pipeline.Metrics.
const (
	OutcomeHit   = "hit"
	OutcomeMiss  = "miss"
	OutcomeError = "error"
)

// DefaultTTL is how long a response stays cached.
const DefaultTTL = 30 * time.Second

const keyPrefix = "nearby:resp:"

// ErrInvalidEntry is returned when a cached value cannot be decoded.
var ErrInvalidEntry = errors.New("invalid cache entry")

// Client is the subset of the Redis client the cache needs.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Entry is one cached response body.
type Entry struct {
	Status   int       `cbor:"status"`
	Body     []byte    `cbor:"body"`
	StoredAt time.Time `cbor:"stored_at"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	if encMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(fmt.Sprintf("cache: cbor enc mode: %v", err))
	}
	if decMode, err = (cbor.DecOptions{MaxArrayElements: 16, MaxMapPairs: 16}).DecMode(); err != nil {
		panic(fmt.Sprintf("cache: cbor dec mode: %v", err))
	}
}

// ResponseCache is a Redis-backed response cache. A nil *ResponseCache, a
// nil client or a non-positive TTL disables caching.
type ResponseCache struct {
	client  Client
	ttl     time.Duration
	metrics *pipeline.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a ResponseCache. metrics may be nil.
func New(client Client, ttl time.Duration, metrics *pipeline.Metrics, logger *slog.Logger) *ResponseCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResponseCache{client: client, ttl: ttl, metrics: metrics, logger: logger, now: time.Now}
}

// Enabled reports whether lookups can hit.
func (c *ResponseCache) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Key builds the cache key for endpoint, viewer and canonical request
// parameters. Anonymous requests share the "anon" scope.
func Key(endpoint, viewerID, params string) string {
	if viewerID == "" {
		viewerID = "anon"
	}
	sum := sha256.Sum256([]byte(params))
	return keyPrefix + endpoint + ":" + viewerID + ":" + hex.EncodeToString(sum[:16])
}

// Get returns the cached entry for the key, if any. Redis failures and
// undecodable entries count as misses.
func (c *ResponseCache) Get(ctx context.Context, endpoint, viewerID, params string) (*Entry, bool) {
	if !c.Enabled() {
		return nil, false
	}

	raw, err := c.client.Get(ctx, Key(endpoint, viewerID, params)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		c.record(endpoint, OutcomeMiss)
		return nil, false
	case err != nil:
		c.record(endpoint, OutcomeError)
		c.logger.WarnContext(ctx, "response cache read failed", "endpoint", endpoint, "error", err)
		return nil, false
	}

	entry, err := decode(raw)
	if err != nil {
		c.record(endpoint, OutcomeError)
		c.logger.WarnContext(ctx, "discarding cache entry", "endpoint", endpoint, "error", err)
		return nil, false
	}
	c.record(endpoint, OutcomeHit)
	return entry, true
}

// Set stores a response body. Failures are logged and otherwise ignored.
func (c *ResponseCache) Set(ctx context.Context, endpoint, viewerID, params string, status int, body []byte) {
	if !c.Enabled() {
		return
	}

	data, err := encMode.Marshal(Entry{Status: status, Body: body, StoredAt: c.now().UTC()})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to encode cache entry", "endpoint", endpoint, "error", err)
		return
	}
	if err := c.client.Set(ctx, Key(endpoint, viewerID, params), data, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "response cache write failed", "endpoint", endpoint, "error", err)
	}
}

func (c *ResponseCache) record(endpoint, outcome string) {
	if c.metrics != nil {
		c.metrics.IncCacheRequest(endpoint, outcome)
	}
}

func decode(raw []byte) (*Entry, error) {
	var e Entry
	if err := decMode.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if e.Status == 0 || len(e.Body) == 0 {
		return nil, ErrInvalidEntry
	}
	return &e, nil
}
