package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryProvider is an in-memory Exchanger for tests and local use.
// Tokens are minted from a static map of target name to token value.
type MemoryProvider struct {
	tokens map[string]string
	ttl    time.Duration

	mu sync.RWMutex
}

// NewMemoryProvider creates a MemoryProvider minting tokens with the
// given time-to-live.
func NewMemoryProvider(ttl time.Duration) *MemoryProvider {
	return &MemoryProvider{
		tokens: make(map[string]string),
		ttl:    ttl,
	}
}

// Store registers a token value for a target.
func (p *MemoryProvider) Store(target, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[target] = value
}

// Name implements Provider.Name.
func (p *MemoryProvider) Name() string {
	return "memory"
}

// Close implements Provider.Close.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens = make(map[string]string)
	return nil
}

// Exchange implements Exchanger.Exchange.
func (p *MemoryProvider) Exchange(_ context.Context, req Request) (*Token, error) {
	p.mu.RLock()
	value, ok := p.tokens[req.Target]
	p.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("no token registered for target %q", req.Target)
	}
	return &Token{
		Value:     []byte(value),
		Target:    req.Target,
		ExpiresAt: time.Now().Add(p.ttl),
	}, nil
}
