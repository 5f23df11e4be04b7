// Package registry implements the publisher: it uploads a merged artifact
// collection to a selected package registry using short-lived exchanged
// credentials. Semantics are all-or-fail: the first rejection fails the
// step with no retry, and files already accepted are not rolled back since
// the registries in scope are append-only per version.
package registry

import (
	"context"
	"time"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/credentials"
	"github.com/packforge/packforge/errors"
)

// Kind selects the upload protocol a target speaks.
type Kind string

const (
	// KindHTTP is a PyPI-style HTTP upload endpoint.
	KindHTTP Kind = "http"

	// KindOCI is an OCI registry reached via ORAS.
	KindOCI Kind = "oci"
)

// Target is one registry identity a publish branch uploads to.
type Target struct {
	// Name is the target's identifier ("staging" or "production").
	Name string `json:"name"`

	// URL is the upload endpoint. For KindOCI this is an OCI reference
	// prefix (e.g. "registry.example.com/org/dists").
	URL string `json:"url"`

	// Kind selects the upload protocol. Defaults to KindHTTP.
	Kind Kind `json:"kind"`

	// Audience is the token audience for credential exchange.
	Audience string `json:"audience"`

	// Environment names the approval environment gating this target.
	Environment string `json:"environment"`
}

// Validate checks the target for completeness.
func (t *Target) Validate() error {
	if t.Name == "" {
		return errors.New(errors.CodeInvalidConfig, "target name cannot be empty")
	}
	if t.URL == "" {
		return errors.Newf(errors.CodeInvalidConfig, "target %q has no URL", t.Name)
	}
	switch t.Kind {
	case KindHTTP, KindOCI, "":
	default:
		return errors.Newf(errors.CodeInvalidConfig, "target %q has unknown kind %q", t.Name, t.Kind)
	}
	return nil
}

// Result summarizes one completed upload.
type Result struct {
	// Target is the registry target that accepted the collection.
	Target string `json:"target"`

	// Uploaded is the number of files accepted.
	Uploaded int `json:"uploaded"`

	// Bytes is the total payload size accepted.
	Bytes int64 `json:"bytes"`

	// Duration is how long the upload took.
	Duration time.Duration `json:"duration"`
}

// Uploader uploads a full artifact collection to one registry target.
type Uploader interface {
	// Upload sends every file in the collection to the target, using the
	// given short-lived token. Either the whole set is accepted or an
	// error is returned; there are no partial-success semantics.
	Upload(ctx context.Context, target Target, coll *artifact.Collection, token *credentials.Token) (*Result, error)
}
