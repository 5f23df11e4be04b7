package attest

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
)

// Attester generates signed provenance attestations over artifact
// collections. It is safe for concurrent use.
type Attester struct {
	key     ed25519.PrivateKey
	keyID   string
	fsys    fs.Filesystem
	builder string
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Attester.
type Option func(*Attester)

// WithFilesystem sets the filesystem the collection is read from.
func WithFilesystem(fsys fs.Filesystem) Option {
	return func(a *Attester) {
		a.fsys = fsys
	}
}

// WithBuilder sets the builder identity recorded in the predicate.
func WithBuilder(builder string) Option {
	return func(a *Attester) {
		a.builder = builder
	}
}

// WithLogger sets the logger used for attestation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Attester) {
		a.logger = logger
	}
}

// withClock overrides the timestamp source. Used in tests.
func withClock(now func() time.Time) Option {
	return func(a *Attester) {
		a.now = now
	}
}

// NewAttester creates an Attester signing with the given ed25519 key.
// The key ID is derived from the public key so verifiers can locate it.
func NewAttester(key ed25519.PrivateKey, opts ...Option) (*Attester, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, errors.New(errors.CodeInvalidInput, "invalid ed25519 signing key")
	}

	pub := key.Public().(ed25519.PublicKey)
	sum := sha256.Sum256(pub)

	a := &Attester{
		key:     key,
		keyID:   hex.EncodeToString(sum[:8]),
		fsys:    fs.NewOSFS("/"),
		builder: "packforge",
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Attest produces one signed attestation covering every file in the
// collection. It fails if the collection is empty or any subject cannot
// be read; a failed attestation is fatal to the publish.
func (a *Attester) Attest(ctx context.Context, coll *artifact.Collection, prov Provenance) (*Envelope, error) {
	if coll == nil || coll.Count() == 0 {
		return nil, errors.New(errors.CodeAttestFailed, "cannot attest an empty artifact collection")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeCancelled, "attestation cancelled")
	}

	subjects := make([]Subject, 0, coll.Count())
	for _, name := range coll.Names() {
		content, err := a.fsys.ReadFile(coll.Path(name))
		if err != nil {
			return nil, errors.WrapWithContext(err, errors.CodeAttestFailed, "failed to read subject",
				map[string]interface{}{"name": name})
		}
		sum := sha256.Sum256(content)
		subjects = append(subjects, Subject{
			Name:   name,
			Digest: map[string]string{"sha256": hex.EncodeToString(sum[:])},
		})
	}

	stmt := Statement{
		Type:          StatementType,
		Subject:       subjects,
		PredicateType: PredicateType,
		Predicate:     prov,
	}
	if stmt.Predicate.Builder == "" {
		stmt.Predicate.Builder = a.builder
	}
	if stmt.Predicate.InvokedAt.IsZero() {
		stmt.Predicate.InvokedAt = a.now().UTC()
	}

	payload, err := json.Marshal(stmt)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeAttestFailed, "failed to serialize statement")
	}

	sig := ed25519.Sign(a.key, payload)

	env := &Envelope{
		PayloadType: PayloadType,
		Payload:     base64.StdEncoding.EncodeToString(payload),
		Signatures: []Signature{{
			KeyID: a.keyID,
			Sig:   base64.StdEncoding.EncodeToString(sig),
		}},
	}

	a.logger.Info("generated attestation",
		"subjects", len(subjects),
		"key_id", a.keyID,
		"run_id", prov.RunID,
	)
	return env, nil
}

// Verify checks an envelope's first signature against the given public
// key and returns the decoded statement on success.
func Verify(env *Envelope, pub ed25519.PublicKey) (*Statement, error) {
	if env == nil || len(env.Signatures) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "envelope has no signatures")
	}

	payload, err := base64.StdEncoding.DecodeString(env.Payload)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "malformed envelope payload")
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signatures[0].Sig)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "malformed signature")
	}

	if !ed25519.Verify(pub, payload, sig) {
		return nil, errors.New(errors.CodeForbidden, "signature verification failed")
	}

	var stmt Statement
	if err := json.Unmarshal(payload, &stmt); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidInput, "malformed statement")
	}
	return &stmt, nil
}
