package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/attest"
	"github.com/packforge/packforge/credentials"
	"github.com/packforge/packforge/dispatch"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/gate"
	"github.com/packforge/packforge/registry"
	"github.com/packforge/packforge/runs"
)

// fakeLocator returns a fixed run reference.
type fakeLocator struct {
	ref *runs.RunRef
	err error
}

func (l *fakeLocator) Latest(_ context.Context, workflow string) (*runs.RunRef, error) {
	if l.err != nil {
		return nil, l.err
	}
	ref := *l.ref
	ref.Workflow = workflow
	return &ref, nil
}

// fakeFetcher returns a fixed collection and records invocations.
type fakeFetcher struct {
	coll  *artifact.Collection
	err   error
	calls atomic.Int32
	block chan struct{} // when non-nil, Fetch blocks until closed or ctx done
}

func (f *fakeFetcher) Fetch(ctx context.Context, _ *runs.RunRef, _ artifact.Request) (*artifact.Collection, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.CodeCancelled, "fetch cancelled")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.coll, nil
}

// fakeAttester records whether it ran.
type fakeAttester struct {
	err   error
	calls atomic.Int32
}

func (a *fakeAttester) Attest(_ context.Context, _ *artifact.Collection, prov attest.Provenance) (*attest.Envelope, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	return &attest.Envelope{
		PayloadType: attest.PayloadType,
		Payload:     "cGF5bG9hZA==",
		Signatures:  []attest.Signature{{KeyID: "test", Sig: "c2ln"}},
	}, nil
}

// fakeExchanger mints tokens for any target.
type fakeExchanger struct {
	err error
}

func (e *fakeExchanger) Exchange(_ context.Context, req credentials.Request) (*credentials.Token, error) {
	if e.err != nil {
		return nil, e.err
	}
	return &credentials.Token{
		Value:     []byte("tok"),
		Target:    req.Target,
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil
}

// fakeUploader records which targets received uploads.
type fakeUploader struct {
	err error

	mu      sync.Mutex
	targets []string
}

func (u *fakeUploader) Upload(
	_ context.Context,
	target registry.Target,
	coll *artifact.Collection,
	_ *credentials.Token,
) (*registry.Result, error) {
	if u.err != nil {
		return nil, u.err
	}
	u.mu.Lock()
	u.targets = append(u.targets, target.Name)
	u.mu.Unlock()
	return &registry.Result{Target: target.Name, Uploaded: coll.Count()}, nil
}

func (u *fakeUploader) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.targets...)
}

func testTargets() map[string]registry.Target {
	return map[string]registry.Target{
		"staging": {
			Name:        "staging",
			URL:         "https://test.pypi.org/legacy/",
			Kind:        registry.KindHTTP,
			Audience:    "testpypi",
			Environment: "testpypi",
		},
		"production": {
			Name:        "production",
			URL:         "https://upload.pypi.org/legacy/",
			Kind:        registry.KindHTTP,
			Audience:    "pypi",
			Environment: "pypi",
		},
	}
}

func testCollection(n int) *artifact.Collection {
	entries := make([]artifact.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, artifact.Entry{Name: string(rune('a'+i)) + ".whl", Size: 1})
	}
	return &artifact.Collection{Dir: "dist", Entries: entries}
}

func testOptions() Options {
	return Options{
		Pattern:       "dist-*",
		DestRoot:      "work",
		ExpectedCount: 0,
		Builder:       "ci/release-publisher",
	}
}

func newTestPublisher(
	t *testing.T,
	locator Locator,
	fetcher Fetcher,
	attester Attester,
	approval gate.Gate,
	uploader registry.Uploader,
	options ...Option,
) *Publisher {
	t.Helper()
	options = append([]Option{WithUploader(registry.KindHTTP, uploader)}, options...)
	p, err := NewPublisher(locator, fetcher, attester, approval, &fakeExchanger{},
		testTargets(), testOptions(), options...)
	require.NoError(t, err)
	return p
}

func stagingEvent(t *testing.T) *dispatch.Event {
	t.Helper()
	ev, err := dispatch.NewEvent("publish-testpypi", "build", "refs/heads/main", "bot")
	require.NoError(t, err)
	return ev
}

func TestPublisher_Run_HappyPath(t *testing.T) {
	// Dispatch publish-testpypi, run #500 is located, 72 dists are fetched,
	// attestation succeeds, the staging registry accepts the upload.
	uploader := &fakeUploader{}
	attester := &fakeAttester{}
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500, HeadSHA: "abc123"}},
		&fakeFetcher{coll: testCollection(72)},
		attester,
		gate.AutoApprove{},
		uploader,
	)

	result, err := publisher.Run(context.Background(), stagingEvent(t))
	require.NoError(t, err)

	assert.Equal(t, StatePublished, result.State)
	assert.Equal(t, int64(500), result.RunRef.ID)
	assert.Equal(t, 72, result.Dists)
	assert.NotNil(t, result.Envelope)
	assert.Equal(t, []string{"staging"}, uploader.uploaded())
	assert.Equal(t, int32(1), attester.calls.Load())
}

func TestPublisher_Run_BranchesMutuallyExclusive(t *testing.T) {
	uploader := &fakeUploader{}
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500}},
		&fakeFetcher{coll: testCollection(3)},
		&fakeAttester{},
		gate.AutoApprove{},
		uploader,
	)

	ev, err := dispatch.NewEvent("publish-pypi", "build", "refs/heads/main", "bot")
	require.NoError(t, err)

	_, err = publisher.Run(context.Background(), ev)
	require.NoError(t, err)

	// Exactly one branch executed: production only.
	assert.Equal(t, []string{"production"}, uploader.uploaded())
}

func TestPublisher_Run_LocateFailureIsFatal(t *testing.T) {
	fetcher := &fakeFetcher{coll: testCollection(3)}
	publisher := newTestPublisher(t,
		&fakeLocator{err: errors.New(errors.CodeLocateFailed, "no completed runs")},
		fetcher,
		&fakeAttester{},
		gate.AutoApprove{},
		&fakeUploader{},
	)

	result, err := publisher.Run(context.Background(), stagingEvent(t))
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, errors.IsCode(err, errors.CodeLocateFailed))
	assert.Equal(t, int32(0), fetcher.calls.Load(), "no artifact is touched after a lookup failure")
}

func TestPublisher_Run_CountMismatchAbortsBeforeAttestation(t *testing.T) {
	attester := &fakeAttester{}
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500}},
		&fakeFetcher{err: errors.Newf(errors.CodeCountMismatch, "expected 72 dists, fetched 70")},
		attester,
		gate.AutoApprove{},
		&fakeUploader{},
	)

	result, err := publisher.Run(context.Background(), stagingEvent(t))
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, errors.IsCode(err, errors.CodeCountMismatch))
	assert.NotNil(t, result.RunRef, "location succeeded before the mismatch")
	assert.Equal(t, int32(0), attester.calls.Load(), "attestation must not run after a count mismatch")
}

func TestPublisher_Run_AttestFailureAbortsBeforePublish(t *testing.T) {
	uploader := &fakeUploader{}
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500}},
		&fakeFetcher{coll: testCollection(3)},
		&fakeAttester{err: errors.New(errors.CodeAttestFailed, "signing failure")},
		gate.AutoApprove{},
		uploader,
	)

	result, err := publisher.Run(context.Background(), stagingEvent(t))
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, uploader.uploaded(), "nothing may be published without an attestation")
}

func TestPublisher_Run_GateRejectionBlocksPublish(t *testing.T) {
	g := gate.NewApprovalGate(nil)
	go func() {
		for !g.Pending("testpypi") {
			time.Sleep(time.Millisecond)
		}
		g.Reject("testpypi", "release-manager", "not ready")
	}()

	uploader := &fakeUploader{}
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500}},
		&fakeFetcher{coll: testCollection(3)},
		&fakeAttester{},
		g,
		uploader,
	)

	result, err := publisher.Run(context.Background(), stagingEvent(t))
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.True(t, errors.IsCode(err, errors.CodeApprovalDenied))
	assert.Empty(t, uploader.uploaded())
}

func TestPublisher_Run_UploadRejectionIsFatal(t *testing.T) {
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500}},
		&fakeFetcher{coll: testCollection(3)},
		&fakeAttester{},
		gate.AutoApprove{},
		&fakeUploader{err: errors.New(errors.CodeAlreadyExists, "duplicate version")},
	)

	result, err := publisher.Run(context.Background(), stagingEvent(t))
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.NotNil(t, result.Envelope, "attestation completed before the rejection")
	assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))
}

func TestPublisher_Run_SecondDispatchCancelsFirst(t *testing.T) {
	block := make(chan struct{})
	fetcher := &fakeFetcher{coll: testCollection(3), block: block}
	uploader := &fakeUploader{}
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500}},
		fetcher,
		&fakeAttester{},
		gate.AutoApprove{},
		uploader,
	)

	first := stagingEvent(t)
	firstDone := make(chan error, 1)
	go func() {
		_, err := publisher.Run(context.Background(), first)
		firstDone <- err
	}()

	// Wait for the first run to enter fetch, then dispatch again for the
	// same group key.
	require.Eventually(t, func() bool { return fetcher.calls.Load() == 1 },
		time.Second, 5*time.Millisecond)

	second := stagingEvent(t)
	close(block)
	result, err := publisher.Run(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, StatePublished, result.State)

	select {
	case err := <-firstDone:
		// The first run either lost the race before publishing or was
		// cancelled mid-flight; only the second's side effects remain
		// guaranteed observable.
		_ = err
	case <-time.After(time.Second):
		t.Fatal("first run never returned")
	}
}

func TestPublisher_Run_ArchiveFailureDoesNotFailRun(t *testing.T) {
	archiver := &failingArchiver{}
	publisher := newTestPublisher(t,
		&fakeLocator{ref: &runs.RunRef{ID: 500}},
		&fakeFetcher{coll: testCollection(3)},
		&fakeAttester{},
		gate.AutoApprove{},
		&fakeUploader{},
		WithArchiver(archiver),
	)

	result, err := publisher.Run(context.Background(), stagingEvent(t))
	require.NoError(t, err)
	assert.Equal(t, StatePublished, result.State)
	assert.Error(t, result.ArchiveErr)
}

type failingArchiver struct{}

func (failingArchiver) Store(_ context.Context, _ *artifact.Collection, _ *attest.Envelope) error {
	return errors.New(errors.CodeNetwork, "bucket unreachable")
}

func TestNewPublisher_Validation(t *testing.T) {
	t.Run("nil step refused", func(t *testing.T) {
		_, err := NewPublisher(nil, &fakeFetcher{}, &fakeAttester{}, gate.AutoApprove{},
			&fakeExchanger{}, testTargets(), testOptions(),
			WithUploader(registry.KindHTTP, &fakeUploader{}))
		require.Error(t, err)
	})

	t.Run("no uploader refused", func(t *testing.T) {
		_, err := NewPublisher(&fakeLocator{ref: &runs.RunRef{ID: 1}}, &fakeFetcher{},
			&fakeAttester{}, gate.AutoApprove{}, &fakeExchanger{}, testTargets(), testOptions())
		require.Error(t, err)
	})

	t.Run("invalid target refused", func(t *testing.T) {
		targets := map[string]registry.Target{"staging": {Name: "staging"}}
		_, err := NewPublisher(&fakeLocator{ref: &runs.RunRef{ID: 1}}, &fakeFetcher{},
			&fakeAttester{}, gate.AutoApprove{}, &fakeExchanger{}, targets, testOptions(),
			WithUploader(registry.KindHTTP, &fakeUploader{}))
		require.Error(t, err)
	})
}
