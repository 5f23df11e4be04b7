// Package ocidist publishes artifact collections to OCI registries via
// ORAS, for registry targets that speak the OCI distribution protocol
// instead of a PyPI-style upload endpoint. Each distribution file becomes
// one layer of an OCI 1.1 artifact manifest.
package ocidist

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	orasv2 "oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/credentials"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
	"github.com/packforge/packforge/registry"
)

const (
	// ArtifactType identifies the packed distribution bundle manifest.
	ArtifactType = "application/vnd.packforge.dists.v1"

	// LayerMediaType is the media type of each distribution layer.
	LayerMediaType = "application/octet-stream"
)

// TargetFactory opens an ORAS push target for a registry reference using
// the exchanged token. Injected so tests can push into a memory store.
type TargetFactory func(ctx context.Context, reference, token string) (orasv2.Target, error)

// Publisher implements registry.Uploader against OCI registries.
type Publisher struct {
	fsys      fs.Filesystem
	logger    *slog.Logger
	tag       string
	newTarget TargetFactory
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithFilesystem sets the filesystem the collection is read from.
func WithFilesystem(fsys fs.Filesystem) Option {
	return func(p *Publisher) {
		p.fsys = fsys
	}
}

// WithLogger sets the logger used for push progress.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithTag sets the tag the packed manifest is published under.
func WithTag(tag string) Option {
	return func(p *Publisher) {
		p.tag = tag
	}
}

// WithTargetFactory overrides how push targets are opened.
func WithTargetFactory(factory TargetFactory) Option {
	return func(p *Publisher) {
		p.newTarget = factory
	}
}

// NewPublisher creates a Publisher. By default it pushes to remote
// repositories authenticated with the exchanged token.
func NewPublisher(opts ...Option) *Publisher {
	p := &Publisher{
		fsys:      fs.NewOSFS("/"),
		logger:    slog.Default(),
		tag:       "latest",
		newTarget: remoteTarget,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// remoteTarget opens a remote repository with token authentication.
func remoteTarget(_ context.Context, reference, token string) (orasv2.Target, error) {
	repo, err := remote.NewRepository(reference)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "invalid OCI reference")
	}

	host := reference
	if idx := strings.Index(reference, "/"); idx > 0 {
		host = reference[:idx]
	}
	repo.Client = &auth.Client{
		Client:     &http.Client{Timeout: 10 * time.Minute},
		Credential: auth.StaticCredential(host, auth.Credential{AccessToken: token}),
	}
	return repo, nil
}

// Upload implements registry.Uploader.Upload. Every file is pushed as a
// blob, one OCI 1.1 manifest is packed referencing all of them, and the
// manifest is tagged. The first push failure fails the whole step.
func (p *Publisher) Upload(
	ctx context.Context,
	target registry.Target,
	coll *artifact.Collection,
	token *credentials.Token,
) (*registry.Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if target.Kind != registry.KindOCI {
		return nil, errors.Newf(errors.CodeInvalidConfig, "target %q is not an OCI target", target.Name)
	}
	if coll == nil || coll.Count() == 0 {
		return nil, errors.New(errors.CodePublishFailed, "cannot publish an empty artifact collection")
	}
	if token == nil || token.Expired() {
		return nil, errors.Newf(errors.CodeUnauthorized, "no valid upload token for target %q", target.Name)
	}

	start := time.Now()

	dst, err := p.newTarget(ctx, target.URL, token.String())
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodePublishFailed, "failed to open push target",
			map[string]interface{}{"target": target.Name})
	}

	var total int64
	layers := make([]ocispec.Descriptor, 0, coll.Count())
	for _, name := range coll.Names() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeCancelled, "upload cancelled")
		}

		content, err := p.fsys.ReadFile(coll.Path(name))
		if err != nil {
			return nil, errors.WrapWithContext(err, errors.CodePublishFailed, "failed to read dist",
				map[string]interface{}{"name": name})
		}

		desc, err := orasv2.PushBytes(ctx, dst, LayerMediaType, content)
		if err != nil {
			return nil, errors.WrapWithContext(err, errors.CodePublishFailed, "blob push rejected",
				map[string]interface{}{"target": target.Name, "name": name})
		}
		desc.Annotations = map[string]string{ocispec.AnnotationTitle: name}
		layers = append(layers, desc)
		total += int64(len(content))

		p.logger.Info("pushed dist layer",
			"target", target.Name,
			"name", name,
			"digest", desc.Digest.String(),
		)
	}

	manifestDesc, err := orasv2.PackManifest(ctx, dst, orasv2.PackManifestVersion1_1, ArtifactType,
		orasv2.PackManifestOptions{
			Layers: layers,
			ManifestAnnotations: map[string]string{
				"org.packforge.dists": digest.FromString(strings.Join(coll.Names(), "\n")).String(),
			},
		})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodePublishFailed, "failed to pack manifest")
	}

	if _, err := orasv2.Tag(ctx, dst, manifestDesc.Digest.String(), p.tag); err != nil {
		return nil, errors.WrapWithContext(err, errors.CodePublishFailed, "failed to tag manifest",
			map[string]interface{}{"tag": p.tag})
	}

	p.logger.Info("published dist bundle",
		"target", target.Name,
		"tag", p.tag,
		"manifest", manifestDesc.Digest.String(),
		"layers", len(layers),
	)

	return &registry.Result{
		Target:   target.Name,
		Uploaded: coll.Count(),
		Bytes:    total,
		Duration: time.Since(start),
	}, nil
}
