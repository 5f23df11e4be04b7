package registry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/credentials"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
)

// HTTPUploader publishes collections to PyPI-style upload endpoints:
// one multipart POST per file, authenticated with the exchanged token.
type HTTPUploader struct {
	fsys   fs.Filesystem
	client *http.Client
	logger *slog.Logger
}

// HTTPOption configures an HTTPUploader.
type HTTPOption func(*HTTPUploader)

// WithHTTPFilesystem sets the filesystem the collection is read from.
func WithHTTPFilesystem(fsys fs.Filesystem) HTTPOption {
	return func(u *HTTPUploader) {
		u.fsys = fsys
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(u *HTTPUploader) {
		u.client = client
	}
}

// WithHTTPLogger sets the logger used for upload progress.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(u *HTTPUploader) {
		u.logger = logger
	}
}

// NewHTTPUploader creates an HTTPUploader.
func NewHTTPUploader(opts ...HTTPOption) *HTTPUploader {
	u := &HTTPUploader{
		fsys:   fs.NewOSFS("/"),
		client: &http.Client{Timeout: 10 * time.Minute},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload implements Uploader.Upload. Files are sent in collection order;
// the first rejection fails the whole step with no retry. Files the
// registry accepted before the rejection stay published — the registry is
// append-only per version, so there is no rollback.
func (u *HTTPUploader) Upload(
	ctx context.Context,
	target Target,
	coll *artifact.Collection,
	token *credentials.Token,
) (*Result, error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}
	if coll == nil || coll.Count() == 0 {
		return nil, errors.New(errors.CodePublishFailed, "cannot publish an empty artifact collection")
	}
	if token == nil || token.Expired() {
		return nil, errors.Newf(errors.CodeUnauthorized, "no valid upload token for target %q", target.Name)
	}

	start := time.Now()
	bearer := token.String()

	var total int64
	for _, name := range coll.Names() {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.CodeCancelled, "upload cancelled")
		}

		n, err := u.uploadFile(ctx, target, coll.Path(name), name, bearer)
		if err != nil {
			return nil, err
		}
		total += n

		u.logger.Info("uploaded dist", "target", target.Name, "name", name, "bytes", n)
	}

	return &Result{
		Target:   target.Name,
		Uploaded: coll.Count(),
		Bytes:    total,
		Duration: time.Since(start),
	}, nil
}

// uploadFile sends one distribution file as a multipart POST.
func (u *HTTPUploader) uploadFile(ctx context.Context, target Target, path, name, bearer string) (int64, error) {
	content, err := u.fsys.ReadFile(path)
	if err != nil {
		return 0, errors.WrapWithContext(err, errors.CodePublishFailed, "failed to read dist",
			map[string]interface{}{"name": name})
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField(":action", "file_upload"); err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to build upload form")
	}
	part, err := mw.CreateFormFile("content", name)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to build upload form")
	}
	if _, err := part.Write(content); err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to build upload form")
	}
	if err := mw.Close(); err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to build upload form")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, &body)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeInternal, "failed to build upload request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, errors.WrapWithContext(err, errors.CodeNetwork, "upload failed",
			map[string]interface{}{"target": target.Name, "name": name})
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return int64(len(content)), nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusBadRequest:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, errors.Newf(errors.CodeAlreadyExists,
			"registry %q rejected %q (status %d): %s", target.Name, name, resp.StatusCode, string(msg))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, errors.Newf(errors.CodeUnauthorized,
			"registry %q refused credentials for %q (status %d)", target.Name, name, resp.StatusCode)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, errors.Newf(errors.CodePublishFailed,
			"registry %q rejected %q (status %d): %s", target.Name, name, resp.StatusCode, string(msg))
	}
}
