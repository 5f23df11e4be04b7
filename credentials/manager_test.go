package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingAuditLogger captures audit entries for assertions.
type recordingAuditLogger struct {
	entries []*AuditEntry
}

func (l *recordingAuditLogger) LogExchange(_ context.Context, req Request, success bool, err error) {
	l.entries = append(l.entries, NewAuditEntry(req, success, err))
}

func TestManager_Exchange(t *testing.T) {
	t.Run("resolves via default provider", func(t *testing.T) {
		provider := NewMemoryProvider(time.Minute)
		provider.Store("staging", "upload-token")

		manager := NewManager(&Config{DefaultProvider: "memory"})
		require.NoError(t, manager.RegisterProvider("memory", provider))
		defer manager.Close()

		token, err := manager.Exchange(context.Background(), Request{Target: "staging", RunID: "run-1"})
		require.NoError(t, err)
		assert.Equal(t, "upload-token", token.String())
		assert.Equal(t, "staging", token.Target)
		assert.False(t, token.Expired())
	})

	t.Run("no default provider", func(t *testing.T) {
		manager := NewManager(nil)
		_, err := manager.Exchange(context.Background(), Request{Target: "staging"})
		require.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		manager := NewManager(&Config{DefaultProvider: "missing"})
		_, err := manager.Exchange(context.Background(), Request{Target: "staging"})
		require.Error(t, err)
	})

	t.Run("auto-clear zeroes token after read", func(t *testing.T) {
		provider := NewMemoryProvider(time.Minute)
		provider.Store("production", "secret")

		manager := NewManager(&Config{DefaultProvider: "memory", AutoClear: true})
		require.NoError(t, manager.RegisterProvider("memory", provider))

		token, err := manager.Exchange(context.Background(), Request{Target: "production"})
		require.NoError(t, err)
		assert.Equal(t, "secret", token.String())
		assert.Nil(t, token.Value)
	})

	t.Run("expired token rejected", func(t *testing.T) {
		provider := NewMemoryProvider(-time.Minute)
		provider.Store("staging", "stale")

		manager := NewManager(&Config{DefaultProvider: "memory"})
		require.NoError(t, manager.RegisterProvider("memory", provider))

		_, err := manager.Exchange(context.Background(), Request{Target: "staging"})
		require.Error(t, err)
	})
}

func TestManager_RegisterProvider(t *testing.T) {
	manager := NewManager(nil)

	t.Run("empty name refused", func(t *testing.T) {
		require.Error(t, manager.RegisterProvider("", NewMemoryProvider(time.Minute)))
	})

	t.Run("nil provider refused", func(t *testing.T) {
		require.Error(t, manager.RegisterProvider("memory", nil))
	})

	t.Run("duplicate refused", func(t *testing.T) {
		require.NoError(t, manager.RegisterProvider("memory", NewMemoryProvider(time.Minute)))
		require.Error(t, manager.RegisterProvider("memory", NewMemoryProvider(time.Minute)))
	})
}

func TestManager_AuditLogging(t *testing.T) {
	audit := &recordingAuditLogger{}
	provider := NewMemoryProvider(time.Minute)
	provider.Store("staging", "tok")

	manager := NewManager(&Config{DefaultProvider: "memory", AuditLogger: audit})
	require.NoError(t, manager.RegisterProvider("memory", provider))

	_, err := manager.Exchange(context.Background(), Request{Target: "staging", RunID: "run-9"})
	require.NoError(t, err)

	_, err = manager.Exchange(context.Background(), Request{Target: "unknown-target", RunID: "run-9"})
	require.Error(t, err)

	require.Len(t, audit.entries, 2)
	assert.True(t, audit.entries[0].Success)
	assert.Equal(t, "run-9", audit.entries[0].RunID)
	assert.False(t, audit.entries[1].Success)
	assert.NotEmpty(t, audit.entries[1].Error)
}
