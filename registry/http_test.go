package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/credentials"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
)

func testToken() *credentials.Token {
	return &credentials.Token{
		Value:     []byte("ephemeral"),
		Target:    "staging",
		ExpiresAt: time.Now().Add(time.Minute),
	}
}

func testCollection(t *testing.T) (fs.Filesystem, *artifact.Collection) {
	t.Helper()
	fsys := fs.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("dist/pkg-1.0.tar.gz", []byte("sdist"), 0o644))
	require.NoError(t, fsys.WriteFile("dist/pkg-1.0-py3.whl", []byte("wheel"), 0o644))
	return fsys, &artifact.Collection{
		Dir: "dist",
		Entries: []artifact.Entry{
			{Name: "pkg-1.0-py3.whl", Size: 5},
			{Name: "pkg-1.0.tar.gz", Size: 5},
		},
	}
}

func TestHTTPUploader_Upload(t *testing.T) {
	t.Run("uploads every file", func(t *testing.T) {
		var uploads atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer ephemeral", r.Header.Get("Authorization"))
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "file_upload", r.FormValue(":action"))
			uploads.Add(1)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		fsys, coll := testCollection(t)
		uploader := NewHTTPUploader(WithHTTPFilesystem(fsys))

		result, err := uploader.Upload(context.Background(),
			Target{Name: "staging", URL: srv.URL, Kind: KindHTTP}, coll, testToken())
		require.NoError(t, err)

		assert.Equal(t, 2, result.Uploaded)
		assert.Equal(t, int64(10), result.Bytes)
		assert.Equal(t, int32(2), uploads.Load())
	})

	t.Run("duplicate version fails fast with no retry", func(t *testing.T) {
		var requests atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			requests.Add(1)
			http.Error(w, "File already exists", http.StatusConflict)
		}))
		defer srv.Close()

		fsys, coll := testCollection(t)
		uploader := NewHTTPUploader(WithHTTPFilesystem(fsys))

		_, err := uploader.Upload(context.Background(),
			Target{Name: "production", URL: srv.URL}, coll, testToken())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))
		assert.Equal(t, int32(1), requests.Load(), "first rejection must stop the upload")
	})

	t.Run("auth rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "invalid token", http.StatusForbidden)
		}))
		defer srv.Close()

		fsys, coll := testCollection(t)
		uploader := NewHTTPUploader(WithHTTPFilesystem(fsys))

		_, err := uploader.Upload(context.Background(),
			Target{Name: "staging", URL: srv.URL}, coll, testToken())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeUnauthorized))
	})

	t.Run("empty collection refused", func(t *testing.T) {
		uploader := NewHTTPUploader(WithHTTPFilesystem(fs.NewInMemoryFS()))
		_, err := uploader.Upload(context.Background(),
			Target{Name: "staging", URL: "http://registry.invalid"},
			&artifact.Collection{Dir: "dist"}, testToken())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodePublishFailed))
	})

	t.Run("expired token refused", func(t *testing.T) {
		fsys, coll := testCollection(t)
		uploader := NewHTTPUploader(WithHTTPFilesystem(fsys))

		stale := &credentials.Token{Value: []byte("x"), ExpiresAt: time.Now().Add(-time.Minute)}
		_, err := uploader.Upload(context.Background(),
			Target{Name: "staging", URL: "http://registry.invalid"}, coll, stale)
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeUnauthorized))
	})

	t.Run("cancelled context", func(t *testing.T) {
		fsys, coll := testCollection(t)
		uploader := NewHTTPUploader(WithHTTPFilesystem(fsys))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := uploader.Upload(ctx,
			Target{Name: "staging", URL: "http://registry.invalid"}, coll, testToken())
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeCancelled))
	})
}

func TestTarget_Validate(t *testing.T) {
	tests := []struct {
		name    string
		target  Target
		wantErr bool
	}{
		{"valid http", Target{Name: "staging", URL: "https://test.pypi.org/legacy/", Kind: KindHTTP}, false},
		{"valid oci", Target{Name: "staging", URL: "registry.example.com/org/dists", Kind: KindOCI}, false},
		{"default kind", Target{Name: "production", URL: "https://upload.pypi.org/legacy/"}, false},
		{"missing name", Target{URL: "https://upload.pypi.org/legacy/"}, true},
		{"missing url", Target{Name: "staging"}, true},
		{"unknown kind", Target{Name: "staging", URL: "x", Kind: "ftp"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
