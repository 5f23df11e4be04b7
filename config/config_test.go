package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
	"github.com/packforge/packforge/registry"
)

const validConfig = `
repository:     "example/widgets"
workflow:       "build.yml"
distPattern:    "dist-*"
expectedCount:  72
signingKeyPath: "/etc/packforge/signing.key"
builder:        "ci/release-publisher"

targets: {
	staging: {
		url:         "https://test.pypi.org/legacy/"
		kind:        "http"
		audience:    "testpypi"
		environment: "testpypi"
	}
	production: {
		url:         "https://upload.pypi.org/legacy/"
		kind:        "http"
		audience:    "pypi"
		environment: "pypi"
	}
}

oidc: {
	identityURL: "https://ci.example.com/oidc/identity"
	exchangeURL: "https://pypi.org/_/oidc/mint-token"
}

archive: {
	bucket: "example-releases"
	prefix: "archive"
}
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	assert.Equal(t, "example/widgets", cfg.Repository)
	assert.Equal(t, "build.yml", cfg.Workflow)
	assert.Equal(t, 72, cfg.ExpectedCount)
	assert.Len(t, cfg.Targets, 2)
	assert.Equal(t, "testpypi", cfg.Targets["staging"].Environment)
	assert.Equal(t, "example-releases", cfg.Archive.Bucket)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		cue  string
	}{
		{name: "not cue", cue: `repository: {{{`},
		{name: "missing repository", cue: `workflow: "build.yml"`},
		{
			name: "negative count",
			cue: `
repository: "a/b", workflow: "w.yml", distPattern: "dist-*"
expectedCount: -1, signingKeyPath: "/k"
targets: staging: {url: "https://x", audience: "a", environment: "e"}
oidc: {identityURL: "https://i", exchangeURL: "https://e"}
`,
		},
		{
			name: "unknown registry kind",
			cue: `
repository: "a/b", workflow: "w.yml", distPattern: "dist-*"
expectedCount: 0, signingKeyPath: "/k"
targets: staging: {url: "https://x", kind: "ftp", audience: "a", environment: "e"}
oidc: {identityURL: "https://i", exchangeURL: "https://e"}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.cue))
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
		})
	}
}

func TestLoad(t *testing.T) {
	fsys := fs.NewInMemoryFS()
	require.NoError(t, fsys.WriteFile("etc/config.cue", []byte(validConfig), 0o644))

	cfg, err := Load(fsys, "etc/config.cue")
	require.NoError(t, err)
	assert.Equal(t, "example/widgets", cfg.Repository)

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(fsys, "etc/absent.cue")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.CodeInvalidConfig))
	})
}

func TestConfig_RegistryTargets(t *testing.T) {
	cfg, err := Parse([]byte(validConfig))
	require.NoError(t, err)

	targets, err := cfg.RegistryTargets()
	require.NoError(t, err)
	require.Len(t, targets, 2)

	staging := targets["staging"]
	assert.Equal(t, "staging", staging.Name)
	assert.Equal(t, registry.KindHTTP, staging.Kind)
	require.NoError(t, staging.Validate())
}
