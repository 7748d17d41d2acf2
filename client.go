package jlhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beixiyo/jl-http-sub000/internal/backoff"
)

// Engine defaults applied by New.
const (
	defaultMaxRetries        = 3
	defaultInitialBackoff    = 100 * time.Millisecond
	defaultMaxBackoff        = 10 * time.Second
	defaultBackoffMultiplier = 2.0
	defaultJitter            = 0.1
	defaultTimeout           = 30 * time.Second
)

// DebugConfig controls which request lifecycle events are logged when debug
// mode is on. RequestIDGen tags every request so concurrent lifecycles can be
// told apart in the logs.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogRetries   bool
	LogCache     bool
	LogRateLimit bool
	LogCircuit   bool
	LogStream    bool
	RequestIDGen func() string
}

// DefaultDebugConfig logs everything and derives request IDs from UUIDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		LogRequests:  true,
		LogRetries:   true,
		LogCache:     true,
		LogRateLimit: true,
		LogCircuit:   true,
		LogStream:    true,
		RequestIDGen: uuid.NewString,
	}
}

// cachedResponse is what the engine memoizes for a successful exchange: just
// enough to replay an equivalent *http.Response to later callers.
type cachedResponse struct {
	statusCode int
	header     http.Header
	body       []byte
}

// Client is a request execution engine that layers retries, circuit
// breaking, rate limiting, response caching, request de-duplication,
// middleware and metrics around the standard net/http client, plus streamed
// (SSE-style) response consumption. It is safe for concurrent use.
type Client struct {
	httpClient        *http.Client
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	jitter            float64
	timeout           time.Duration
	retryCondition    RetryCondition
	retryPolicy       RetryPolicy
	retryBudget       *RetryBudget
	calculator        *backoff.Calculator
	circuitBreaker    *CircuitBreaker
	middleware        []Middleware
	rateLimiter       *RateLimiter
	cache             *ResponseCache
	cacheKeyFunc      CacheKeyFunc
	cacheCondition    CacheCondition
	cacheParamsFunc   CacheParamsFunc
	metrics           *MetricsCollector
	debug             *DebugConfig
	logger            Logger
	deduplication     *DeduplicationTracker
	dedupKeyFunc      DeduplicationKeyFunc
	dedupCondition    DeduplicationCondition
	streamBufferSize  int
	validationError   error
}

// New constructs a Client using the provided functional options. A best
// effort validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxRetries:        defaultMaxRetries,
		initialBackoff:    defaultInitialBackoff,
		maxBackoff:        defaultMaxBackoff,
		backoffMultiplier: defaultBackoffMultiplier,
		jitter:            defaultJitter,
		timeout:           defaultTimeout,
		retryCondition:    DefaultRetryCondition,
		calculator:        backoff.ExponentialJitterCalculator(),
		circuitBreaker:    NewCircuitBreaker(CircuitBreakerConfig{}),
		middleware:        []Middleware{},
		cacheKeyFunc:      DefaultCacheKeyFunc,
		cacheCondition:    DefaultCacheCondition,
		cacheParamsFunc:   DefaultCacheParamsFunc,
		debug:             DefaultDebugConfig(),
		logger:            NewNopLogger(),
		dedupKeyFunc:      DefaultDeduplicationKeyFunc,
		dedupCondition:    DefaultDeduplicationCondition,
		streamBufferSize:  DefaultStreamBufferSize,
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Do executes a prepared *http.Request applying all configured reliability
// layers: de-duplication, response cache, retries behind the rate limiter
// and circuit breaker, then cache fill on success.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	start := time.Now()
	endpoint := getEndpointFromRequest(req)

	var requestID string
	if c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	if c.debug.Enabled && c.debug.LogRequests {
		c.logger.Debug("Starting request", "requestID", requestID, "method", req.Method, "url", req.URL.String(), "endpoint", endpoint)
	}

	c.metrics.RecordRequestStart(req.Method, endpoint)

	dedupEnabled := c.deduplication != nil && c.dedupCondition(req)

	var dedupKey string
	var dedupEntry *DeduplicationEntry
	var isDedupOwner bool
	if dedupEnabled {
		dedupKey = c.dedupKeyFunc(req)
		dedupEntry, isDedupOwner = c.deduplication.Join(dedupKey)

		if !isDedupOwner {
			resp, err := dedupEntry.Wait(req.Context())
			duration := time.Since(start)
			statusCode := 0
			if resp != nil {
				statusCode = resp.StatusCode
			}
			c.metrics.RecordRequestEnd(req.Method, endpoint)
			c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)
			c.metrics.RecordDeduplicationHit(req.Method, endpoint)

			if c.debug.Enabled {
				c.logger.Debug("Deduplication hit", "requestID", requestID, "dedupKey", dedupKey)
			}

			return resp, err
		}

		if c.debug.Enabled {
			c.logger.Debug("Deduplication miss, proceeding with request", "requestID", requestID, "dedupKey", dedupKey)
		}
	}

	cacheEnabled := c.shouldCacheRequest(req)

	if cacheEnabled {
		cacheKey := c.cacheKeyFunc(req)
		cacheParams := c.cacheParamsFunc(req)
		if value, cachedErr, found := c.cache.Get(cacheKey, cacheParams); found {
			if c.debug.Enabled && c.debug.LogCache {
				c.logger.Debug("Cache hit", "requestID", requestID, "cacheKey", cacheKey)
			}
			c.metrics.RecordCacheHit(req.Method, endpoint)
			c.metrics.RecordRequestEnd(req.Method, endpoint)

			resp, err := c.replayCached(value, cachedErr)
			statusCode := 0
			if resp != nil {
				statusCode = resp.StatusCode
			}
			c.metrics.RecordRequest(req.Method, endpoint, statusCode, time.Since(start))

			if dedupEnabled && isDedupOwner {
				c.deduplication.Complete(dedupKey, resp, err)
			}
			return resp, err
		}

		c.metrics.RecordCacheMiss(req.Method, endpoint)
		if c.debug.Enabled && c.debug.LogCache {
			c.logger.Debug("Cache miss", "requestID", requestID, "cacheKey", cacheKey)
		}
	}

	resp, err := c.doWithRetry(req, 0, requestID, start)

	c.metrics.RecordRequestEnd(req.Method, endpoint)

	duration := time.Since(start)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordRequest(req.Method, endpoint, statusCode, duration)

	if cacheEnabled && err == nil && resp.StatusCode < 400 {
		cacheKey := c.cacheKeyFunc(req)
		cacheParams := c.cacheParamsFunc(req)
		entry, captureErr := captureResponse(resp)
		if captureErr != nil {
			c.logger.Warn("Skipping cache fill, response body unreadable", "requestID", requestID, "error", captureErr.Error())
		} else {
			if ttl, overridden := cacheTTLOverride(req.Context()); overridden {
				c.cache.SetWithTTL(cacheKey, cacheParams, entry, ttl)
			} else {
				c.cache.Set(cacheKey, cacheParams, entry)
			}
			c.metrics.RecordCacheSize("default", c.cache.Len())

			if c.debug.Enabled && c.debug.LogCache {
				c.logger.Debug("Response cached", "requestID", requestID, "cacheKey", cacheKey)
			}
		}
	}

	if dedupEnabled && isDedupOwner {
		c.deduplication.Complete(dedupKey, resp, err)
	}

	return resp, err
}

func (c *Client) doWithRetry(req *http.Request, attempt int, requestID string, startTime time.Time) (*http.Response, error) {
	endpoint := getEndpointFromRequest(req)

	if c.rateLimiter != nil {
		if !c.rateLimiter.Allow() {
			if c.debug.Enabled && c.debug.LogRateLimit {
				c.logger.Warn("Rate limit exceeded", "requestID", requestID, "endpoint", endpoint)
			}
			c.metrics.RecordError(string(ErrorTypeRateLimit), req.Method, endpoint)
			return nil, c.newRequestError(ErrorTypeRateLimit, "rate limit exceeded", ErrRateLimited, requestID, req, attempt, time.Since(startTime))
		}
		c.metrics.RecordRateLimiterTokens("default", int(c.rateLimiter.Tokens()))
	}

	if !c.circuitBreaker.Allow() {
		if c.debug.Enabled && c.debug.LogCircuit {
			c.logger.Warn("Circuit breaker open", "requestID", requestID, "endpoint", endpoint, "state", c.circuitBreaker.State().String())
		}
		c.metrics.RecordError(string(ErrorTypeCircuitOpen), req.Method, endpoint)
		return nil, c.newRequestError(ErrorTypeCircuitOpen, "circuit breaker is open", ErrCircuitOpen, requestID, req, attempt, time.Since(startTime))
	}

	if attempt > 0 {
		if c.debug.Enabled && c.debug.LogRetries {
			c.logger.Info("Retry attempt", "requestID", requestID, "attempt", attempt, "maxRetries", c.maxRetries, "endpoint", endpoint)
		}
		c.metrics.RecordRetry(req.Method, endpoint, attempt)
	}

	resp, err := c.executeMiddleware(req)

	if err != nil || (resp != nil && resp.StatusCode >= 500) {
		c.circuitBreaker.RecordFailure()
		c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())

		if err != nil {
			c.metrics.RecordError(string(ErrorTypeNetwork), req.Method, endpoint)
		} else {
			c.metrics.RecordError(string(ErrorTypeServer), req.Method, endpoint)
		}
	} else {
		c.circuitBreaker.RecordSuccess()
		c.metrics.RecordCircuitBreakerState("default", c.circuitBreaker.State())
	}

	// Retry eligibility comes from the HTTP-aware policy when one is set,
	// otherwise from the legacy condition plus backoff calculation.
	var shouldRetry bool
	var delay time.Duration

	if c.retryPolicy != nil {
		delay, shouldRetry = c.retryPolicy.ShouldRetry(resp, err, attempt)
	} else {
		shouldRetry = attempt < c.maxRetries && c.retryCondition(resp, err)
		if shouldRetry {
			delay = c.calculateBackoff(attempt)
		}
	}

	if shouldRetry {
		if c.retryBudget != nil && !c.retryBudget.Allow() {
			if resp != nil {
				drainAndClose(resp.Body)
			}
			c.metrics.RecordRetryBudgetExceeded(endpoint)
			if c.debug.Enabled && c.debug.LogRetries {
				c.logger.Warn("Retry budget exceeded", "requestID", requestID, "endpoint", endpoint)
			}
			return nil, c.newRequestError(ErrorTypeRetryBudget, "retry budget exceeded", ErrRetryBudgetExceeded, requestID, req, attempt, time.Since(startTime))
		}

		if c.debug.Enabled && c.debug.LogRetries {
			c.logger.Info("Scheduling retry", "requestID", requestID, "attempt", attempt+1, "backoff", delay, "endpoint", endpoint)
		}

		if resp != nil {
			drainAndClose(resp.Body)
		}
		if sleepErr := sleepContext(req.Context(), delay); sleepErr != nil {
			ce := newContextError(sleepErr)
			ce.RequestID = requestID
			ce.Method = req.Method
			ce.URL = req.URL.String()
			ce.Endpoint = endpoint
			return nil, ce
		}
		return c.doWithRetry(req, attempt+1, requestID, startTime)
	}

	if err != nil {
		return nil, c.classifyTransportError(err, requestID, req, attempt, time.Since(startTime))
	}

	return resp, nil
}

// executeMiddleware runs the request through the middleware chain with the
// transport call at the bottom.
func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) calculateBackoff(attempt int) time.Duration {
	return c.calculator.Calculate(attempt, c.initialBackoff, c.maxBackoff, c.backoffMultiplier, c.jitter)
}

// DefaultRetryCondition retries transport errors and 5xx responses.
func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

// DefaultCacheKeyFunc derives the cache key from the request method and URL.
func DefaultCacheKeyFunc(req *http.Request) string {
	return fmt.Sprintf("%s:%s", req.Method, req.URL.String())
}

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

// DefaultCacheParamsFunc returns nil: by default the cache key alone carries
// the request identity, so every lookup with the same key matches.
func DefaultCacheParamsFunc(req *http.Request) any {
	return nil
}

// shouldCacheRequest checks cache enablement, honoring a per-request context
// override before the configured condition.
func (c *Client) shouldCacheRequest(req *http.Request) bool {
	if c.cache == nil {
		return false
	}
	if cc, ok := getCacheControl(req.Context()); ok {
		return cc.Enabled
	}
	return c.cacheCondition(req)
}

// cacheTTLOverride reports a positive per-request TTL carried in the context.
func cacheTTLOverride(ctx context.Context) (time.Duration, bool) {
	if cc, ok := getCacheControl(ctx); ok && cc.TTL > 0 {
		return cc.TTL, true
	}
	return 0, false
}

// captureResponse drains the response body into a cache entry and restores
// it so the caller can still read the response.
func captureResponse(resp *http.Response) (*cachedResponse, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &cachedResponse{
		statusCode: resp.StatusCode,
		header:     resp.Header.Clone(),
		body:       body,
	}, nil
}

// replayCached turns a memoized settled result back into the caller-facing
// response or error.
func (c *Client) replayCached(value any, cachedErr error) (*http.Response, error) {
	if cachedErr != nil {
		return nil, cachedErr
	}
	entry, ok := value.(*cachedResponse)
	if !ok {
		return nil, &ClientError{
			Type:      ErrorTypeCache,
			Message:   fmt.Sprintf("unexpected cached value of type %T", value),
			Timestamp: time.Now(),
		}
	}
	return &http.Response{
		StatusCode: entry.statusCode,
		Header:     entry.header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(entry.body)),
	}, nil
}

// classifyTransportError maps a transport failure onto the error taxonomy:
// context expiry and cancellation get their own types, everything else is a
// network failure.
func (c *Client) classifyTransportError(err error, requestID string, req *http.Request, attempt int, duration time.Duration) *ClientError {
	errorType := ErrorTypeNetwork
	message := "network request failed"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		errorType = ErrorTypeTimeout
		message = "request deadline exceeded"
	case errors.Is(err, context.Canceled):
		errorType = ErrorTypeCanceled
		message = "request canceled"
	}
	return c.newRequestError(errorType, message, err, requestID, req, attempt, duration)
}

func (c *Client) newRequestError(errorType ErrorType, message string, cause error, requestID string, req *http.Request, attempt int, duration time.Duration) *ClientError {
	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Endpoint:   getEndpointFromRequest(req),
		Attempt:    attempt,
		MaxRetries: c.maxRetries,
		Timestamp:  time.Now(),
		Duration:   duration,
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// Cache exposes the response cache so callers can seed, inspect or close it.
// It is nil unless caching was enabled.
func (c *Client) Cache() *ResponseCache {
	return c.cache
}

// Close releases resources owned by the client, currently the response
// cache's sweep goroutine.
func (c *Client) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}

// drainAndClose discards a body that will not be handed to the caller so the
// underlying connection can be reused.
func drainAndClose(body io.ReadCloser) {
	if body == nil {
		return
	}
	io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}

func getEndpointFromRequest(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}

	host := req.URL.Host
	path := req.URL.Path

	var builder strings.Builder
	builder.WriteString(host)

	if path != "" && path != "/" {
		builder.WriteString(path)
	} else {
		builder.WriteByte('/')
	}

	return builder.String()
}
