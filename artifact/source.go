package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/runs"
)

// HTTPSource reads artifact listings and archives from a build system's
// REST API (GitHub-Actions-shaped).
type HTTPSource struct {
	baseURL string
	repo    string
	token   string
	client  *http.Client
}

// SourceOption configures an HTTPSource.
type SourceOption func(*HTTPSource)

// WithSourceBaseURL overrides the artifact API endpoint.
func WithSourceBaseURL(baseURL string) SourceOption {
	return func(s *HTTPSource) {
		s.baseURL = baseURL
	}
}

// WithSourceToken sets the bearer token used for listing and download.
func WithSourceToken(token string) SourceOption {
	return func(s *HTTPSource) {
		s.token = token
	}
}

// WithSourceHTTPClient sets a custom HTTP client.
func WithSourceHTTPClient(client *http.Client) SourceOption {
	return func(s *HTTPSource) {
		s.client = client
	}
}

// NewHTTPSource creates a Source for the given repository ("owner/name").
func NewHTTPSource(repo string, opts ...SourceOption) (*HTTPSource, error) {
	if repo == "" {
		return nil, errors.New(errors.CodeInvalidInput, "repository cannot be empty")
	}

	s := &HTTPSource{
		baseURL: runs.DefaultBaseURL,
		repo:    repo,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// artifactsResponse mirrors the service's list-artifacts payload.
type artifactsResponse struct {
	TotalCount int    `json:"total_count"`
	Artifacts  []Meta `json:"artifacts"`
}

// List implements Source.List.
func (s *HTTPSource) List(ctx context.Context, ref *runs.RunRef) ([]Meta, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/actions/runs/%d/artifacts", s.baseURL, s.repo, ref.ID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build artifact listing request")
	}
	req.Header.Set("Accept", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNetwork, "artifact listing failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.CodeFetchFailed,
			"artifact listing for run %d returned status %d", ref.ID, resp.StatusCode)
	}

	var payload artifactsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, errors.CodeFetchFailed, "failed to decode artifact listing")
	}
	return payload.Artifacts, nil
}

// Download implements Source.Download. The caller owns the returned reader.
func (s *HTTPSource) Download(ctx context.Context, meta Meta) (io.ReadCloser, error) {
	if meta.ArchiveDownloadURL == "" {
		return nil, errors.Newf(errors.CodeInvalidInput, "artifact %q has no download URL", meta.Name)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.ArchiveDownloadURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build artifact download request")
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeNetwork, "artifact download failed",
			map[string]interface{}{"artifact": meta.Name})
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Newf(errors.CodeFetchFailed,
			"artifact %q download returned status %d", meta.Name, resp.StatusCode)
	}
	return resp.Body, nil
}
