package credentials

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOIDCProvider_Exchange(t *testing.T) {
	t.Run("two-step exchange", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/identity", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "testpypi", r.URL.Query().Get("audience"))
			_, _ = w.Write([]byte(`{"value": "id-token"}`))
		})
		mux.HandleFunc("/mint", func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "id-token", r.Form.Get("token"))
			assert.Equal(t, "run-1", r.Form.Get("run_id"))
			_, _ = w.Write([]byte(`{"token": "pypi-ephemeral", "expires_in": 900}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		provider, err := NewOIDCProvider(srv.URL+"/identity", srv.URL+"/mint")
		require.NoError(t, err)

		token, err := provider.Exchange(context.Background(), Request{
			Target:   "staging",
			Audience: "testpypi",
			RunID:    "run-1",
		})
		require.NoError(t, err)
		assert.Equal(t, "pypi-ephemeral", string(token.Value))
		assert.False(t, token.Expired())
	})

	t.Run("exchange rejection", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/identity", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"value": "id-token"}`))
		})
		mux.HandleFunc("/mint", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "untrusted publisher", http.StatusForbidden)
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		provider, err := NewOIDCProvider(srv.URL+"/identity", srv.URL+"/mint")
		require.NoError(t, err)

		_, err = provider.Exchange(context.Background(), Request{Target: "production"})
		require.Error(t, err)
	})

	t.Run("empty identity token", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/identity", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"value": ""}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		provider, err := NewOIDCProvider(srv.URL+"/identity", srv.URL+"/mint")
		require.NoError(t, err)

		_, err = provider.Exchange(context.Background(), Request{Target: "staging"})
		require.Error(t, err)
	})

	t.Run("missing urls refused", func(t *testing.T) {
		_, err := NewOIDCProvider("", "")
		require.Error(t, err)
	})
}
