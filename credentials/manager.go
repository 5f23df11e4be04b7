package credentials

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Exchanger defines the core interface for credential exchange.
// Implementations trade an ambient identity for a scoped upload token.
type Exchanger interface {
	// Exchange resolves a short-lived upload token for the request.
	Exchange(ctx context.Context, req Request) (*Token, error)
}

// Provider extends Exchanger with provider management capabilities.
type Provider interface {
	Exchanger

	// Name returns the provider's identifier (e.g., "oidc", "memory").
	Name() string

	// Close releases any resources the provider holds.
	Close() error
}

// AuditLogger receives a record of every credential resolution.
type AuditLogger interface {
	// LogExchange is called after each exchange attempt, successful or not.
	LogExchange(ctx context.Context, req Request, success bool, err error)
}

// Config holds the configuration for the Manager.
type Config struct {
	// DefaultProvider is the name of the default provider to use.
	DefaultProvider string

	// AutoClear controls whether resolved tokens zero their memory after use.
	AutoClear bool

	// AuditLogger receives exchange records. Can be nil.
	AuditLogger AuditLogger
}

// Manager orchestrates credential exchange across registered providers.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	autoClear       bool
	auditLogger     AuditLogger

	mu sync.RWMutex
}

// NewManager creates a new Manager with the provided configuration.
func NewManager(config *Config) *Manager {
	if config == nil {
		config = &Config{}
	}
	return &Manager{
		providers:       make(map[string]Provider),
		defaultProvider: config.DefaultProvider,
		autoClear:       config.AutoClear,
		auditLogger:     config.AuditLogger,
	}
}

// RegisterProvider adds a provider to the manager's registry.
// Returns an error if a provider with the same name already exists.
func (m *Manager) RegisterProvider(name string, provider Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if provider == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.providers[name]; exists {
		return fmt.Errorf("provider with name %q already registered", name)
	}
	m.providers[name] = provider
	return nil
}

// Exchange resolves a token using the default provider.
func (m *Manager) Exchange(ctx context.Context, req Request) (*Token, error) {
	if m.defaultProvider == "" {
		return nil, fmt.Errorf("no default provider configured")
	}
	return m.ExchangeFrom(ctx, m.defaultProvider, req)
}

// ExchangeFrom resolves a token using a specific provider. The exchange is
// audit-logged when an AuditLogger is configured, and the manager's
// AutoClear policy is applied to the resolved token.
func (m *Manager) ExchangeFrom(ctx context.Context, providerName string, req Request) (*Token, error) {
	if providerName == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}

	m.mu.RLock()
	provider, exists := m.providers[providerName]
	m.mu.RUnlock()

	if !exists {
		err := fmt.Errorf("provider %q not found", providerName)
		if m.auditLogger != nil {
			m.auditLogger.LogExchange(ctx, req, false, err)
		}
		return nil, err
	}

	token, err := provider.Exchange(ctx, req)

	if m.auditLogger != nil {
		m.auditLogger.LogExchange(ctx, req, err == nil, err)
	}

	if err != nil {
		return nil, fmt.Errorf("provider %q failed to exchange credentials for %q: %w",
			providerName, req.Target, err)
	}

	if token.Expired() {
		return nil, fmt.Errorf("provider %q returned an already-expired token", providerName)
	}
	token.AutoClear = m.autoClear
	return token, nil
}

// Close gracefully shuts down all registered providers.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, provider := range m.providers {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close provider %q: %w", name, err))
		}
	}
	m.providers = make(map[string]Provider)

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("errors during shutdown: %v", errs)
}

// AuditEntry is one record of a credential exchange.
type AuditEntry struct {
	// Timestamp is when the exchange was attempted.
	Timestamp time.Time

	// Target is the registry target the exchange was scoped to.
	Target string

	// RunID is the pipeline run the exchange was bound to.
	RunID string

	// Success reports whether the exchange produced a token.
	Success bool

	// Error holds the failure message, empty on success.
	Error string
}

// NewAuditEntry builds an entry for one exchange attempt.
func NewAuditEntry(req Request, success bool, err error) *AuditEntry {
	entry := &AuditEntry{
		Timestamp: time.Now().UTC(),
		Target:    req.Target,
		RunID:     req.RunID,
		Success:   success,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}
