// Package archive retains published release material in S3. After a
// successful publish the merged artifact set and its attestation are
// uploaded to a bucket for later audit. Archival failure never undoes a
// publish; registries are append-only, so retention is strictly
// best-effort bookkeeping.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/attest"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
)

// attestationKey is the object name the attestation is stored under,
// next to the artifact files.
const attestationKey = "attestation.json"

// s3API is the slice of the S3 client the store uses. Narrowed for
// mocking in tests.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Store uploads release material to an S3 bucket.
type Store struct {
	client s3API
	bucket string
	prefix string
	fsys   fs.Filesystem
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithFilesystem sets the filesystem artifact files are read from.
func WithFilesystem(fsys fs.Filesystem) Option {
	return func(s *Store) {
		s.fsys = fsys
	}
}

// WithLogger sets the logger used during archival.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClient replaces the S3 client. Used by tests.
func WithClient(client s3API) Option {
	return func(s *Store) {
		s.client = client
	}
}

// New creates a store for the given bucket and key prefix. Credentials
// come from the default AWS chain unless a client is injected.
func New(ctx context.Context, bucket, prefix string, options ...Option) (*Store, error) {
	if bucket == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "bucket cannot be empty")
	}

	s := &Store{
		bucket: bucket,
		prefix: prefix,
		fsys:   fs.NewOSFS("/"),
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}

	if s.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to load AWS configuration")
		}
		s.client = s3.NewFromConfig(cfg)
	}
	return s, nil
}

// Store uploads every file in the collection plus the attestation
// envelope. Objects land under <prefix>/<collection name>. The first
// upload failure aborts; partially archived sets are acceptable, the
// registries hold the authoritative copy.
func (s *Store) Store(ctx context.Context, coll *artifact.Collection, env *attest.Envelope) error {
	if coll == nil || coll.Count() == 0 {
		return errors.New(errors.CodeInvalidInput, "collection is empty")
	}

	base := path.Join(s.prefix, path.Base(coll.Dir))

	for _, entry := range coll.Entries {
		data, err := s.fsys.ReadFile(coll.Path(entry.Name))
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal,
				fmt.Sprintf("failed to read %s", entry.Name))
		}
		if err := s.put(ctx, path.Join(base, entry.Name), data); err != nil {
			return err
		}
	}

	if env != nil {
		data, err := json.Marshal(env)
		if err != nil {
			return errors.Wrap(err, errors.CodeInternal, "failed to encode attestation")
		}
		if err := s.put(ctx, path.Join(base, attestationKey), data); err != nil {
			return err
		}
	}

	s.logger.Info("release archived",
		"bucket", s.bucket,
		"prefix", base,
		"objects", coll.Count())
	return nil
}

func (s *Store) put(ctx context.Context, key string, data []byte) error {
	contentType := mimetype.Detect(data).String()

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return errors.Wrap(err, errors.CodeNetwork,
			fmt.Sprintf("failed to upload %s", key))
	}
	return nil
}
