package config

import (
	"cuelang.org/go/cue/cuecontext"

	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
)

// Load reads, compiles, and validates the CUE configuration at path.
func Load(fsys fs.Filesystem, path string) (*Config, error) {
	if fsys == nil {
		fsys = fs.NewOSFS("/")
	}

	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithContext(
			err,
			errors.CodeInvalidConfig,
			"failed to read configuration",
			map[string]interface{}{
				"path": path,
			},
		)
	}
	return Parse(data)
}

// Parse compiles CUE source and decodes it into a validated Config.
func Parse(data []byte) (*Config, error) {
	ctx := cuecontext.New()

	value := ctx.CompileBytes(data)
	if value.Err() != nil {
		return nil, errors.Wrap(value.Err(), errors.CodeInvalidConfig, "failed to compile configuration")
	}
	if err := value.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "configuration is invalid")
	}

	var cfg Config
	if err := value.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
