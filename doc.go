// Package jlhttp is a client-side request execution engine: it issues HTTP
// requests and consumes incrementally-delivered SSE-style streamed
// responses, layering composable reliability primitives around the
// transport:
//
//   - Streamed response parsing (StreamProcessor): chunked text to logical
//     frames with optional JSON decoding, tolerant of frames split across
//     arbitrary chunk boundaries
//   - Response caching (ResponseCache): TTL-bound memoization keyed by URL
//     plus deep-equal parameters, with a background expiry sweep
//   - Bounded-concurrency scheduling (RunTasks): N tasks, at most K in
//     flight, index-stable settled results
//   - Retry wrapping (RetryTask and the engine's retry loop) with
//     exponential backoff + jitter
//   - Rate limiting (token bucket), circuit breaking, request
//     de-duplication, middleware and Prometheus metrics
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via user-supplied middleware and pluggable logger /
//     metrics
//
// Typical usage:
//
//	client := jlhttp.New(
//	    jlhttp.WithMaxRetries(3),
//	    jlhttp.WithRateLimiter(10, time.Second),
//	    jlhttp.WithCache(5*time.Minute),
//	    jlhttp.WithDeduplication(),
//	)
//	defer client.Close()
//	resp, err := client.Do(req)
//
// Streamed responses are consumed through Stream, which pumps the body into
// a per-call StreamProcessor and drives the caller's OnMessage callback once
// per frame:
//
//	state, err := client.Stream(req, jlhttp.StreamOptions{
//	    OnMessage: func(msg jlhttp.StreamMessage) { /* one frame */ },
//	})
//
// The library avoids opinionated logging: provide a Logger (for example via
// WithSimpleLogger or NewZapLogger) and enable debug flags selectively for
// insight without noise.
package jlhttp
