package singleflight

import (
	"sync"
	"time"
)

// Group suppresses duplicate concurrent work keyed by string. The first
// caller for a key becomes the owner and must settle the call; everyone else
// observes the owner's outcome through the call's done channel, which keeps
// waiting compatible with context cancellation.
type Group struct {
	mu sync.Mutex
	m  map[string]*Call
}

// Call is one in-flight or settled unit of work.
type Call struct {
	val  any
	err  error
	done chan struct{}
}

// Done is closed once the owner settles the call.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the settled outcome. It is only meaningful after Done is
// closed.
func (c *Call) Result() (any, error) {
	return c.val, c.err
}

// New creates an empty Group.
func New() *Group {
	return &Group{m: make(map[string]*Call)}
}

// Join returns the call registered under key, creating it when absent. The
// boolean reports ownership: an owner must eventually invoke Complete for
// the same key exactly once.
func (g *Group) Join(key string) (*Call, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.m[key]; ok {
		return c, false
	}
	c := &Call{done: make(chan struct{})}
	g.m[key] = c
	return c, true
}

// Complete settles the call under key and wakes every waiter. The entry is
// kept briefly so stragglers arriving right after settlement still share the
// outcome instead of re-executing.
func (g *Group) Complete(key string, val any, err error) {
	g.mu.Lock()
	c, ok := g.m[key]
	g.mu.Unlock()
	if !ok {
		return
	}

	c.val = val
	c.err = err
	close(c.done)

	go func() {
		time.Sleep(100 * time.Millisecond)
		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
	}()
}

// Do executes fn under key, making sure only one execution is in flight at a
// time. Duplicate callers block until the owner settles and receive the same
// results.
func (g *Group) Do(key string, fn func() (any, error)) (any, error) {
	c, owner := g.Join(key)
	if !owner {
		<-c.done
		return c.val, c.err
	}

	val, err := fn()
	g.Complete(key, val, err)
	return val, err
}

// Forget drops the key so the next Join starts a fresh call even if an
// earlier one is still running. Use with care: in-flight waiters keep their
// original call.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.m, key)
	g.mu.Unlock()
}
