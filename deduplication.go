package jlhttp

import (
	"context"
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"

	"github.com/beixiyo/jl-http-sub000/internal/singleflight"
)

// DeduplicationTracker coalesces identical in-flight requests: the first
// caller for a key owns the network exchange, later callers block until the
// owner settles and share its outcome. This is the engine's answer to the
// cache's documented miss race; it is opt-in via WithDeduplication.
type DeduplicationTracker struct {
	group *singleflight.Group
}

// NewDeduplicationTracker returns an in-memory de-duplication tracker.
func NewDeduplicationTracker() *DeduplicationTracker {
	return &DeduplicationTracker{group: singleflight.New()}
}

// Join returns the in-flight entry for key, creating one when absent. The
// boolean reports ownership: the owner must call Complete for the same key
// exactly once.
func (dt *DeduplicationTracker) Join(key string) (*DeduplicationEntry, bool) {
	call, owner := dt.group.Join(key)
	return &DeduplicationEntry{call: call}, owner
}

// Complete settles the in-flight entry under key and wakes every waiter.
func (dt *DeduplicationTracker) Complete(key string, resp *http.Response, err error) {
	dt.group.Complete(key, resp, err)
}

// DeduplicationEntry is a handle on one in-flight request shared between the
// owner and its waiters.
type DeduplicationEntry struct {
	call *singleflight.Call
}

// Wait blocks until the owning request settles or the waiter's context
// finishes, whichever comes first. A context abort surfaces as a
// cancellation-typed error, not as the owner's outcome.
func (e *DeduplicationEntry) Wait(ctx context.Context) (*http.Response, error) {
	select {
	case <-e.call.Done():
		val, err := e.call.Result()
		resp, _ := val.(*http.Response)
		return resp, err
	case <-ctx.Done():
		return nil, newContextError(ctx.Err())
	}
}

// DefaultDeduplicationKeyFunc builds a key from method + URL, mixing in a
// body hash for mutating verbs so distinct payloads never coalesce.
func DefaultDeduplicationKeyFunc(req *http.Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Method))
	h.Write([]byte(req.URL.String()))

	if req.Body != nil && (req.Method == http.MethodPost || req.Method == http.MethodPut || req.Method == http.MethodPatch) {
		bodyHash := sha256.New()
		if req.GetBody != nil {
			if body, err := req.GetBody(); err == nil {
				io.Copy(bodyHash, body)
				body.Close()
			}
		}
		h.Write(bodyHash.Sum(nil))
	}

	return fmt.Sprintf("%x", h.Sum64())
}

// DefaultDeduplicationCondition coalesces safe idempotent methods only.
func DefaultDeduplicationCondition(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead || req.Method == http.MethodOptions
}
