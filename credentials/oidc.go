package credentials

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/packforge/packforge/errors"
)

// OIDCProvider exchanges an ambient identity token for a short-lived
// upload token at a registry's token-exchange endpoint (trusted-publishing
// flow). The identity token is fetched fresh per exchange; nothing is
// cached between runs.
type OIDCProvider struct {
	// identityURL serves the ambient identity token (the CI identity
	// endpoint). An audience query parameter is appended per request.
	identityURL string

	// exchangeURL is the registry's mint-token endpoint.
	exchangeURL string

	client *http.Client
	logger *slog.Logger
}

// OIDCOption configures an OIDCProvider.
type OIDCOption func(*OIDCProvider)

// WithOIDCHTTPClient sets a custom HTTP client.
func WithOIDCHTTPClient(client *http.Client) OIDCOption {
	return func(p *OIDCProvider) {
		p.client = client
	}
}

// WithOIDCLogger sets the logger used for exchange diagnostics.
func WithOIDCLogger(logger *slog.Logger) OIDCOption {
	return func(p *OIDCProvider) {
		p.logger = logger
	}
}

// NewOIDCProvider creates a provider that fetches identity tokens from
// identityURL and exchanges them at exchangeURL.
func NewOIDCProvider(identityURL, exchangeURL string, opts ...OIDCOption) (*OIDCProvider, error) {
	if identityURL == "" || exchangeURL == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "identity and exchange URLs are required")
	}

	p := &OIDCProvider{
		identityURL: identityURL,
		exchangeURL: exchangeURL,
		client:      &http.Client{Timeout: 30 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements Provider.Name.
func (p *OIDCProvider) Name() string {
	return "oidc"
}

// Close implements Provider.Close.
func (p *OIDCProvider) Close() error {
	return nil
}

type identityResponse struct {
	Value string `json:"value"`
}

type mintResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// Exchange implements Exchanger.Exchange. It performs the two-step
// trusted-publishing flow: fetch the ambient identity token for the
// requested audience, then trade it for a scoped upload token.
func (p *OIDCProvider) Exchange(ctx context.Context, req Request) (*Token, error) {
	if req.Target == "" {
		return nil, errors.New(errors.CodeInvalidInput, "target cannot be empty")
	}

	identity, err := p.fetchIdentity(ctx, req.Audience)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"token":  {identity},
		"run_id": {req.RunID},
	}
	mintReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.exchangeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build mint request")
	}
	mintReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(mintReq)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "token exchange failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf(errors.CodeUnauthorized,
			"token exchange for %q returned status %d: %s", req.Target, resp.StatusCode, string(body))
	}

	var mint mintResponse
	if err := json.NewDecoder(resp.Body).Decode(&mint); err != nil {
		return nil, errors.Wrap(err, errors.CodeUnauthorized, "failed to decode mint response")
	}
	if mint.Token == "" {
		return nil, errors.New(errors.CodeUnauthorized, "mint response contained no token")
	}

	expiresIn := mint.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = 900
	}
	token := &Token{
		Value:     []byte(mint.Token),
		Target:    req.Target,
		ExpiresAt: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}

	p.logger.Info("exchanged upload credentials",
		"target", req.Target,
		"run_id", req.RunID,
		"expires_in", expiresIn,
	)
	return token, nil
}

// fetchIdentity retrieves the ambient identity token for an audience.
func (p *OIDCProvider) fetchIdentity(ctx context.Context, audience string) (string, error) {
	endpoint := p.identityURL
	if audience != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + "audience=" + url.QueryEscape(audience)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeInternal, "failed to build identity request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, errors.CodeNetwork, "identity token fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf(errors.CodeUnauthorized, "identity endpoint returned status %d", resp.StatusCode)
	}

	var identity identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		return "", errors.Wrap(err, errors.CodeUnauthorized, "failed to decode identity response")
	}
	if identity.Value == "" {
		return "", errors.New(errors.CodeUnauthorized, "identity endpoint returned an empty token")
	}
	return identity.Value, nil
}
