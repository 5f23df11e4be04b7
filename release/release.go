// Package release automates the mechanical parts of the release
// checklist: deciding the next version from conventional commits,
// rendering release notes, and tagging the repository. The approval
// decisions stay human; this package only removes the typing.
package release

import (
	"context"
	"log/slog"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/packforge/packforge/errors"
)

// Commit is one repository commit considered for the release.
type Commit struct {
	// Hash is the full commit hash.
	Hash string

	// Subject is the first line of the commit message.
	Subject string

	// Author is the commit author's name.
	Author string

	// When is the author timestamp.
	When time.Time
}

// Repository is the slice of git the preparer needs. *Repo satisfies it;
// tests substitute fakes.
type Repository interface {
	// LatestVersion returns the highest semver tag, or nil when the
	// repository has no version tags yet.
	LatestVersion(ctx context.Context) (*semver.Version, error)

	// CommitsSince returns commits reachable from HEAD but not from the
	// given tag, newest first. An empty tag means the full history.
	CommitsSince(ctx context.Context, tag string) ([]Commit, error)

	// CreateTag creates an annotated tag at HEAD.
	CreateTag(ctx context.Context, name, message string) error
}

// Plan is the computed release: what the next version is and why.
type Plan struct {
	// Previous is the version being released from, nil for a first
	// release.
	Previous *semver.Version

	// Next is the version the release will carry.
	Next *semver.Version

	// Bump is the level the commit history justified.
	Bump Bump

	// Commits are the commits included in the release, newest first.
	Commits []Commit

	// Notes is the rendered release-notes document.
	Notes string
}

// TagName returns the tag the plan would create, "v" prefixed.
func (p *Plan) TagName() string {
	return "v" + p.Next.String()
}

// Preparer computes release plans and applies them.
type Preparer struct {
	repo   Repository
	logger *slog.Logger
}

// PreparerOption configures a Preparer.
type PreparerOption func(*Preparer)

// WithLogger sets the logger used during preparation.
func WithLogger(logger *slog.Logger) PreparerOption {
	return func(p *Preparer) {
		p.logger = logger
	}
}

// NewPreparer creates a preparer over the given repository.
func NewPreparer(repo Repository, options ...PreparerOption) (*Preparer, error) {
	if repo == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "repository cannot be nil")
	}
	p := &Preparer{
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	return p, nil
}

// Plan inspects the history since the last version tag and computes the
// next version and release notes. It does not modify the repository.
func (p *Preparer) Plan(ctx context.Context) (*Plan, error) {
	previous, err := p.repo.LatestVersion(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to determine current version")
	}

	sinceTag := ""
	if previous != nil {
		sinceTag = "v" + previous.String()
	}

	commits, err := p.repo.CommitsSince(ctx, sinceTag)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read commit history")
	}
	if len(commits) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "no commits since last release")
	}

	bump := BumpFromCommits(commits)
	next := NextVersion(previous, bump)

	plan := &Plan{
		Previous: previous,
		Next:     next,
		Bump:     bump,
		Commits:  commits,
	}
	plan.Notes = RenderNotes(plan)

	p.logger.Info("release planned",
		"next", next.String(),
		"bump", bump.String(),
		"commits", len(commits))
	return plan, nil
}

// Apply tags the repository with the plan's version. The tag message is
// the rendered release notes.
func (p *Preparer) Apply(ctx context.Context, plan *Plan) error {
	if plan == nil || plan.Next == nil {
		return errors.New(errors.CodeInvalidInput, "plan is empty")
	}

	if err := p.repo.CreateTag(ctx, plan.TagName(), plan.Notes); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create release tag")
	}

	p.logger.Info("release tagged", "tag", plan.TagName())
	return nil
}
