// Package runs implements the run locator: a read-only client for a
// build-run history service (GitHub-Actions-shaped API). Given a workflow
// name it returns the most recent completed build run, whose artifacts the
// publisher will fetch. Lookup failures are fatal to the whole pipeline;
// there is deliberately no retry and no fallback.
package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/packforge/packforge/errors"
)

// DefaultBaseURL is the default build-run history endpoint.
const DefaultBaseURL = "https://api.github.com"

// RunRef is an opaque reference to a single completed build run.
// It is looked up fresh per invocation and never cached between runs.
type RunRef struct {
	// ID is the run identifier in the external build system.
	ID int64 `json:"id"`

	// Workflow is the name of the build workflow that produced the run.
	Workflow string `json:"workflow"`

	// HeadSHA is the commit the run built.
	HeadSHA string `json:"head_sha"`

	// HeadBranch is the branch the run built.
	HeadBranch string `json:"head_branch"`

	// CreatedAt is when the run was created, used for newest-first ordering.
	CreatedAt time.Time `json:"created_at"`
}

// Locator queries the build-run history service.
type Locator struct {
	baseURL string
	repo    string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Option configures a Locator.
type Option func(*Locator)

// WithBaseURL overrides the build-run history endpoint.
func WithBaseURL(baseURL string) Option {
	return func(l *Locator) {
		l.baseURL = baseURL
	}
}

// WithToken sets the bearer token used to authenticate run queries.
func WithToken(token string) Option {
	return func(l *Locator) {
		l.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(l *Locator) {
		l.client = client
	}
}

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locator) {
		l.logger = logger
	}
}

// NewLocator creates a Locator for the given repository ("owner/name").
func NewLocator(repo string, opts ...Option) (*Locator, error) {
	if repo == "" {
		return nil, errors.New(errors.CodeInvalidInput, "repository cannot be empty")
	}

	l := &Locator{
		baseURL: DefaultBaseURL,
		repo:    repo,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// workflowRunsResponse mirrors the service's list-runs payload.
type workflowRunsResponse struct {
	TotalCount   int           `json:"total_count"`
	WorkflowRuns []workflowRun `json:"workflow_runs"`
}

type workflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	HeadSHA    string    `json:"head_sha"`
	HeadBranch string    `json:"head_branch"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	CreatedAt  time.Time `json:"created_at"`
}

// Latest returns the most recent completed run of the named build
// workflow. The service returns runs newest-first; index 0 is selected.
// Fails with CodeLocateFailed if the query fails or the list is empty.
func (l *Locator) Latest(ctx context.Context, workflow string) (*RunRef, error) {
	if workflow == "" {
		return nil, errors.New(errors.CodeInvalidInput, "workflow cannot be empty")
	}

	endpoint := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/runs?%s",
		l.baseURL, l.repo, url.PathEscape(workflow),
		url.Values{"status": {"completed"}, "per_page": {"1"}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to build run query")
	}
	req.Header.Set("Accept", "application/json")
	if l.token != "" {
		req.Header.Set("Authorization", "Bearer "+l.token)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeNetwork, "run query failed",
			map[string]interface{}{"workflow": workflow})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.Newf(errors.CodeLocateFailed,
			"run query for workflow %q returned status %d: %s", workflow, resp.StatusCode, string(body))
	}

	var payload workflowRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.Wrap(err, errors.CodeLocateFailed, "failed to decode run list")
	}

	if len(payload.WorkflowRuns) == 0 {
		return nil, errors.Newf(errors.CodeLocateFailed, "no completed runs for workflow %q", workflow)
	}

	run := payload.WorkflowRuns[0]
	l.logger.Info("located build run",
		"workflow", workflow,
		"run_id", run.ID,
		"head_sha", run.HeadSHA,
		"conclusion", run.Conclusion,
	)

	return &RunRef{
		ID:         run.ID,
		Workflow:   workflow,
		HeadSHA:    run.HeadSHA,
		HeadBranch: run.HeadBranch,
		CreatedAt:  run.CreatedAt,
	}, nil
}
