package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/attest"
	"github.com/packforge/packforge/credentials"
	"github.com/packforge/packforge/dispatch"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/gate"
	"github.com/packforge/packforge/registry"
	"github.com/packforge/packforge/runs"
)

// Locator finds the most recent completed build run for a workflow.
type Locator interface {
	Latest(ctx context.Context, workflow string) (*runs.RunRef, error)
}

// Fetcher downloads and merges the run's artifacts.
type Fetcher interface {
	Fetch(ctx context.Context, ref *runs.RunRef, req artifact.Request) (*artifact.Collection, error)
}

// Attester generates the provenance attestation.
type Attester interface {
	Attest(ctx context.Context, coll *artifact.Collection, prov attest.Provenance) (*attest.Envelope, error)
}

// Archiver retains the published collection and its attestation.
// Archival happens after publish; its failure does not un-publish.
type Archiver interface {
	Store(ctx context.Context, coll *artifact.Collection, env *attest.Envelope) error
}

// Options carries the fetch parameters shared by every run.
type Options struct {
	// Pattern is the artifact name glob ("dist-*" style).
	Pattern string

	// DestRoot is the directory runs stage their collections under.
	DestRoot string

	// ExpectedCount is the dist count invariant; zero disables the check.
	ExpectedCount int

	// Builder is the identity recorded in attestations.
	Builder string
}

// Result summarizes one publish run.
type Result struct {
	// Event is the dispatch that drove the run.
	Event *dispatch.Event

	// State is the terminal state the run reached.
	State State

	// RunRef is the located build run, nil if location failed.
	RunRef *runs.RunRef

	// Dists is the merged collection size, zero before fetch.
	Dists int

	// Envelope is the generated attestation, nil before attest.
	Envelope *attest.Envelope

	// Upload summarizes the registry upload, nil before publish.
	Upload *registry.Result

	// ArchiveErr records a failed post-publish archival. The publish
	// itself already succeeded when this is set.
	ArchiveErr error
}

// Publisher runs the release pipeline end to end for dispatch events.
type Publisher struct {
	locator   Locator
	fetcher   Fetcher
	attester  Attester
	approval  gate.Gate
	exchanger credentials.Exchanger
	uploaders map[registry.Kind]registry.Uploader
	archiver  Archiver
	targets   map[string]registry.Target
	opts      Options
	groups    *Groups
	logger    *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithArchiver enables post-publish archival.
func WithArchiver(archiver Archiver) Option {
	return func(p *Publisher) {
		p.archiver = archiver
	}
}

// WithLogger sets the logger used for run progress.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithUploader registers the uploader for a registry kind.
func WithUploader(kind registry.Kind, uploader registry.Uploader) Option {
	return func(p *Publisher) {
		p.uploaders[kind] = uploader
	}
}

// NewPublisher wires the pipeline steps together. Every step dependency
// is required; targets must contain an entry for each branch the
// dispatcher can select.
func NewPublisher(
	locator Locator,
	fetcher Fetcher,
	attester Attester,
	approval gate.Gate,
	exchanger credentials.Exchanger,
	targets map[string]registry.Target,
	opts Options,
	options ...Option,
) (*Publisher, error) {
	if locator == nil || fetcher == nil || attester == nil || approval == nil || exchanger == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "pipeline steps cannot be nil")
	}
	if opts.Pattern == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "artifact pattern cannot be empty")
	}
	if opts.DestRoot == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "destination root cannot be empty")
	}
	for name, target := range targets {
		if err := target.Validate(); err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, fmt.Sprintf("target %q invalid", name))
		}
	}

	p := &Publisher{
		locator:   locator,
		fetcher:   fetcher,
		attester:  attester,
		approval:  approval,
		exchanger: exchanger,
		uploaders: make(map[registry.Kind]registry.Uploader),
		targets:   targets,
		opts:      opts,
		groups:    NewGroups(),
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(p)
	}
	if len(p.uploaders) == 0 {
		return nil, errors.New(errors.CodeInvalidConfig, "at least one uploader is required")
	}
	return p, nil
}

// Run executes the pipeline for one dispatch event. Steps are strictly
// sequential; the first failure is terminal for the run. A newer dispatch
// for the same group key cancels this run wherever it is.
func (p *Publisher) Run(ctx context.Context, event *dispatch.Event) (*Result, error) {
	if event == nil {
		return nil, errors.New(errors.CodeInvalidInput, "event cannot be nil")
	}

	target, ok := p.targets[event.TargetName()]
	if !ok {
		return nil, errors.Newf(errors.CodeInvalidConfig, "no target configured for branch %q", event.TargetName())
	}

	runCtx, release := p.groups.Begin(ctx, event.GroupKey())
	defer release()

	result := &Result{Event: event, State: StateIdle}
	logger := p.logger.With("event_id", event.ID, "action", event.Action.String(), "target", target.Name)

	err := p.run(runCtx, event, target, result, logger)
	if err != nil {
		result.State = StateFailed
		logger.Error("publish run failed", "state", StateFailed.String(), "error", err)
		return result, err
	}

	logger.Info("publish run complete", "state", result.State.String(), "dists", result.Dists)
	return result, nil
}

// run walks the state machine. It mutates result as states are reached so
// the caller sees how far a failed run progressed.
func (p *Publisher) run(
	ctx context.Context,
	event *dispatch.Event,
	target registry.Target,
	result *Result,
	logger *slog.Logger,
) error {
	// Locate.
	ref, err := p.locator.Latest(ctx, event.Workflow)
	if err != nil {
		return err
	}
	result.RunRef = ref
	result.State = StateLocated
	logger.Info("state transition", "state", StateLocated.String(), "run_id", ref.ID)

	// Fetch.
	coll, err := p.fetcher.Fetch(ctx, ref, artifact.Request{
		Pattern:       p.opts.Pattern,
		Dest:          fmt.Sprintf("%s/%s", p.opts.DestRoot, event.ID),
		ExpectedCount: p.opts.ExpectedCount,
	})
	if err != nil {
		return err
	}
	result.Dists = coll.Count()
	result.State = StateFetched
	logger.Info("state transition", "state", StateFetched.String(), "dists", coll.Count())
	logger.Info(fmt.Sprintf("Number of dists: %d", coll.Count()))

	// Attest.
	envelope, err := p.attester.Attest(ctx, coll, attest.Provenance{
		Builder:      p.opts.Builder,
		Workflow:     event.Workflow,
		RunID:        ref.ID,
		SourceCommit: ref.HeadSHA,
	})
	if err != nil {
		return err
	}
	result.Envelope = envelope
	result.State = StateAttested
	logger.Info("state transition", "state", StateAttested.String())

	// Approval gate guards the only step that mutates shared state.
	if err := p.approval.Wait(ctx, target.Environment); err != nil {
		return err
	}

	// Exchange credentials just in time; the token is scoped to this run.
	token, err := p.exchanger.Exchange(ctx, credentials.Request{
		Target:   target.Name,
		Audience: target.Audience,
		RunID:    event.ID,
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeUnauthorized, "credential exchange failed")
	}

	// Publish.
	kind := target.Kind
	if kind == "" {
		kind = registry.KindHTTP
	}
	uploader, ok := p.uploaders[kind]
	if !ok {
		return errors.Newf(errors.CodeInvalidConfig, "no uploader registered for kind %q", kind)
	}

	upload, err := uploader.Upload(ctx, target, coll, token)
	if err != nil {
		return err
	}
	result.Upload = upload
	result.State = StatePublished

	// Retention is best-effort: the publish already happened and the
	// registry is append-only, so an archive failure is reported but does
	// not fail the run.
	if p.archiver != nil {
		if archiveErr := p.archiver.Store(ctx, coll, envelope); archiveErr != nil {
			result.ArchiveErr = archiveErr
			logger.Warn("post-publish archival failed", "error", archiveErr)
		}
	}
	return nil
}
