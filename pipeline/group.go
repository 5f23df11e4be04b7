package pipeline

import (
	"context"
	"sync"
)

// slot tracks one in-flight run so release can tell whether the registry
// entry still belongs to it.
type slot struct {
	cancel context.CancelFunc
}

// Groups enforces the concurrency-group policy: at most one run in flight
// per group key. Starting a run for a key cancels any run already in
// flight for that key, coarsely — the cancelled run stops wherever it is,
// mid-upload included, with no compensating rollback.
type Groups struct {
	mu       sync.Mutex
	inflight map[string]*slot
}

// NewGroups creates an empty group registry.
func NewGroups() *Groups {
	return &Groups{
		inflight: make(map[string]*slot),
	}
}

// Begin registers a run for the group key and returns its context.
// Any in-flight run for the same key is cancelled first. The returned
// release function must be called when the run ends.
func (g *Groups) Begin(ctx context.Context, key string) (context.Context, func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.inflight[key]; ok {
		prev.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s := &slot{cancel: cancel}
	g.inflight[key] = s

	release := func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		cancel()
		// Only clear the slot if a newer run has not replaced it.
		if g.inflight[key] == s {
			delete(g.inflight, key)
		}
	}
	return runCtx, release
}
