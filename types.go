package jlhttp

import (
	"context"
	"net/http"
	"time"
)

// RetryCondition determines whether a request should be retried
type RetryCondition func(resp *http.Response, err error) bool

// Middleware wraps the transport call. It is the injection point for
// external interceptors; the engine ships none of its own.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper represents the HTTP transport interface
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to the RoundTripper interface
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// CacheCondition determines whether a request may be served from or fill the cache
type CacheCondition func(req *http.Request) bool

// CacheKeyFunc derives the cache URL key for a request
type CacheKeyFunc func(req *http.Request) string

// CacheParamsFunc derives the parameters value matched deep-equal on cache
// lookups. The default returns nil: the key already carries the identity.
type CacheParamsFunc func(req *http.Request) any

// DeduplicationKeyFunc derives the coalescing key for a request
type DeduplicationKeyFunc func(req *http.Request) string

// DeduplicationCondition determines whether a request participates in
// in-flight coalescing
type DeduplicationCondition func(req *http.Request) bool

// Option represents a configuration option
type Option func(*Client)

// contextKey keeps per-request overrides collision-free.
type contextKey string

const cacheControlKey contextKey = "jlhttp_cache_control"

// CacheControl holds per-request cache overrides carried in the context.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheEnabled forces caching for the request carrying this context.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, CacheControl{Enabled: true})
}

// WithContextCacheDisabled bypasses the cache for the request carrying this context.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey, CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching with a per-request TTL override.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey, CacheControl{Enabled: true, TTL: ttl})
}

func getCacheControl(ctx context.Context) (CacheControl, bool) {
	cc, ok := ctx.Value(cacheControlKey).(CacheControl)
	return cc, ok
}
