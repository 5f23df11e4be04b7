package release

import (
	"context"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/packforge/packforge/errors"
)

// Tagger identifies the author of release tags.
type Tagger struct {
	Name  string
	Email string
}

// Repo adapts a go-git repository to the Repository interface.
type Repo struct {
	repo   *gogit.Repository
	tagger Tagger
	now    func() time.Time
}

// NewRepo wraps an already opened go-git repository. Tests typically pass
// a repository initialized over in-memory storage.
func NewRepo(repo *gogit.Repository, tagger Tagger) (*Repo, error) {
	if repo == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "repository cannot be nil")
	}
	if tagger.Name == "" || tagger.Email == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "tagger name and email are required")
	}
	return &Repo{repo: repo, tagger: tagger, now: time.Now}, nil
}

// OpenRepo opens the repository at path on the local filesystem.
func OpenRepo(path string, tagger Tagger) (*Repo, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeNotFound, "failed to open repository")
	}
	return NewRepo(repo, tagger)
}

// LatestVersion scans version tags ("v" prefixed semver) and returns the
// highest one, or nil when none exist.
func (r *Repo) LatestVersion(_ context.Context) (*semver.Version, error) {
	refs, err := r.repo.References()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to list references")
	}

	var latest *semver.Version
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !ref.Name().IsTag() {
			return nil
		}
		name := ref.Name().Short()
		if !strings.HasPrefix(name, "v") {
			return nil
		}
		v, parseErr := semver.NewVersion(strings.TrimPrefix(name, "v"))
		if parseErr != nil {
			return nil
		}
		if latest == nil || v.GreaterThan(latest) {
			latest = v
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to iterate references")
	}
	return latest, nil
}

// CommitsSince walks HEAD's history, newest first, stopping at the commit
// the given tag points to. An empty tag yields the full history.
func (r *Repo) CommitsSince(_ context.Context, tag string) ([]Commit, error) {
	var stop plumbing.Hash
	if tag != "" {
		hash, err := r.repo.ResolveRevision(plumbing.Revision(tag))
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeNotFound, "failed to resolve tag "+tag)
		}
		stop = *hash
	}

	iter, err := r.repo.Log(&gogit.LogOptions{})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read log")
	}
	defer iter.Close()

	var commits []Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if tag != "" && c.Hash == stop {
			return storer.ErrStop
		}
		subject := c.Message
		if i := strings.IndexByte(subject, '\n'); i >= 0 {
			subject = subject[:i]
		}
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Subject: strings.TrimSpace(subject),
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to iterate commits")
	}
	return commits, nil
}

// CreateTag creates an annotated tag at HEAD. Tagging over an existing
// name is refused; releases are immutable once cut.
func (r *Repo) CreateTag(_ context.Context, name, message string) error {
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "tag name cannot be empty")
	}

	refName := plumbing.NewTagReferenceName(name)
	if _, err := r.repo.Reference(refName, true); err == nil {
		return errors.Newf(errors.CodeAlreadyExists, "tag %q already exists", name)
	}

	head, err := r.repo.Head()
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to resolve HEAD")
	}

	_, err = r.repo.CreateTag(name, head.Hash(), &gogit.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  r.tagger.Name,
			Email: r.tagger.Email,
			When:  r.now(),
		},
		Message: message,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create tag")
	}
	return nil
}
