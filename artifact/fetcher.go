package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
	"github.com/packforge/packforge/runs"
)

// Source lists and downloads artifact archives for a build run.
// Implementations must treat upstream artifacts as immutable.
type Source interface {
	// List returns the artifact sets attached to the given run.
	List(ctx context.Context, ref *runs.RunRef) ([]Meta, error)

	// Download fetches one artifact archive (a zip stream).
	Download(ctx context.Context, meta Meta) (io.ReadCloser, error)
}

// Request describes one fetch operation.
type Request struct {
	// Pattern is the glob matched against artifact set names.
	Pattern string

	// Dest is the directory the merged collection is written to.
	Dest string

	// ExpectedCount is the number of distribution files the merged
	// collection must contain. Zero disables the check. A non-zero
	// mismatch aborts the pipeline before attestation.
	ExpectedCount int
}

// Fetcher downloads and merges artifact sets from a Source.
type Fetcher struct {
	source Source
	fsys   fs.Filesystem
	logger *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFilesystem sets the filesystem the merged collection is written to.
func WithFilesystem(fsys fs.Filesystem) FetcherOption {
	return func(f *Fetcher) {
		f.fsys = fsys
	}
}

// WithLogger sets the logger used for the artifact listing.
func WithLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a Fetcher reading from the given source.
func NewFetcher(source Source, opts ...FetcherOption) (*Fetcher, error) {
	if source == nil {
		return nil, errors.New(errors.CodeInvalidInput, "source cannot be nil")
	}

	f := &Fetcher{
		source: source,
		fsys:   fs.NewOSFS("/"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Fetch downloads every artifact set matching req.Pattern from the run,
// merges the archives into req.Dest flattening directory structure, and
// deduplicates by file name. The merged collection is the union of all
// matching sets.
//
// A collection with zero files always fails. When req.ExpectedCount is
// non-zero, a count mismatch fails with CodeCountMismatch so the pipeline
// aborts before attestation.
func (f *Fetcher) Fetch(ctx context.Context, ref *runs.RunRef, req Request) (*Collection, error) {
	if ref == nil {
		return nil, errors.New(errors.CodeInvalidInput, "run reference cannot be nil")
	}
	if req.Pattern == "" {
		return nil, errors.New(errors.CodeInvalidInput, "pattern cannot be empty")
	}
	if req.Dest == "" {
		return nil, errors.New(errors.CodeInvalidInput, "destination cannot be empty")
	}

	metas, err := f.source.List(ctx, ref)
	if err != nil {
		return nil, errors.WrapWithContext(err, errors.CodeFetchFailed, "failed to list artifacts",
			map[string]interface{}{"run_id": ref.ID})
	}

	matched := make([]Meta, 0, len(metas))
	for _, meta := range metas {
		ok, matchErr := path.Match(req.Pattern, meta.Name)
		if matchErr != nil {
			return nil, errors.Wrap(matchErr, errors.CodeInvalidInput, "invalid artifact pattern")
		}
		if !ok {
			continue
		}
		if meta.Expired {
			return nil, errors.Newf(errors.CodeFetchFailed, "artifact %q on run %d has expired", meta.Name, ref.ID)
		}
		matched = append(matched, meta)
	}
	if len(matched) == 0 {
		return nil, errors.Newf(errors.CodeFetchFailed,
			"no artifacts matching %q on run %d", req.Pattern, ref.ID)
	}

	if err := f.fsys.MkdirAll(req.Dest, 0o755); err != nil {
		return nil, errors.Wrap(err, errors.CodeFetchFailed, "failed to create destination")
	}

	// Merge all matching archives into one flat set, deduplicating by file
	// name. Later archives win on a name collision, matching merge-multiple
	// semantics.
	merged := make(map[string]int64)
	for _, meta := range matched {
		if err := f.extract(ctx, meta, req.Dest, merged); err != nil {
			f.cleanup(req.Dest)
			return nil, err
		}
	}

	entries := make([]Entry, 0, len(merged))
	for name, size := range merged {
		entries = append(entries, Entry{Name: name, Size: size})
	}
	sortEntries(entries)

	coll := &Collection{Dir: req.Dest, Entries: entries}

	// Human-auditable listing of the merged set.
	for _, e := range coll.Entries {
		f.logger.Info("dist", "name", e.Name, "size", e.Size)
	}
	f.logger.Info("merged artifact collection",
		"run_id", ref.ID,
		"pattern", req.Pattern,
		"dists", coll.Count(),
	)

	if coll.Count() == 0 {
		f.cleanup(req.Dest)
		return nil, errors.Newf(errors.CodeFetchFailed, "run %d produced an empty artifact collection", ref.ID)
	}
	if req.ExpectedCount > 0 && coll.Count() != req.ExpectedCount {
		f.cleanup(req.Dest)
		return nil, errors.Newf(errors.CodeCountMismatch,
			"expected %d dists, fetched %d", req.ExpectedCount, coll.Count())
	}

	return coll, nil
}

// cleanup removes a partially merged destination so a failed fetch does
// not leave stray dists on disk. Removal failures are logged, never
// surfaced, so the fetch error stays the one the caller sees.
func (f *Fetcher) cleanup(dest string) {
	exists, err := f.fsys.Exists(dest)
	if err != nil || !exists {
		return
	}

	var paths []string
	err = f.fsys.Walk(dest, func(path string, _ os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		f.logger.Warn("failed to list merged files for cleanup", "dest", dest, "error", err)
		return
	}

	// Children before parents.
	for i := len(paths) - 1; i >= 0; i-- {
		if err := f.fsys.Remove(paths[i]); err != nil {
			f.logger.Warn("failed to remove merged file", "path", paths[i], "error", err)
		}
	}
}

// extract unpacks one downloaded archive into dest, flattening paths.
func (f *Fetcher) extract(ctx context.Context, meta Meta, dest string, merged map[string]int64) error {
	rc, err := f.source.Download(ctx, meta)
	if err != nil {
		return errors.WrapWithContext(err, errors.CodeFetchFailed, "artifact download failed",
			map[string]interface{}{"artifact": meta.Name})
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return errors.Wrap(err, errors.CodeFetchFailed, "failed to read artifact archive")
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return errors.WrapWithContext(err, errors.CodeFetchFailed, "artifact archive is not a valid zip",
			map[string]interface{}{"artifact": meta.Name})
	}

	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}

		// Flatten directory structure: only the base name survives the merge.
		name := filepath.Base(zf.Name)

		src, err := zf.Open()
		if err != nil {
			return errors.Wrap(err, errors.CodeFetchFailed, "failed to open archived file")
		}
		content, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			return errors.Wrap(err, errors.CodeFetchFailed, "failed to read archived file")
		}

		if err := f.fsys.WriteFile(filepath.Join(dest, name), content, 0o644); err != nil {
			return errors.Wrap(err, errors.CodeFetchFailed, "failed to write merged file")
		}
		merged[name] = int64(len(content))
	}

	return nil
}
