// Package config loads and validates the publisher configuration. The
// configuration is written in CUE and decoded into Go types; schema-level
// constraints live in the CUE file itself, this package validates only
// what CUE cannot express.
package config

import (
	"path/filepath"

	"github.com/adrg/xdg"

	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/registry"
)

// DefaultFileName is the configuration file name looked up under the
// XDG config directory.
const DefaultFileName = "packforge/config.cue"

// Config is the decoded publisher configuration.
type Config struct {
	// Repository is the "owner/name" slug artifacts are fetched from.
	Repository string `json:"repository"`

	// Workflow is the file name of the build workflow whose runs are
	// located.
	Workflow string `json:"workflow"`

	// DistPattern is the artifact name glob selecting dist artifacts.
	DistPattern string `json:"distPattern"`

	// ExpectedCount is the exact number of dist files a release must
	// carry. Zero disables the check.
	ExpectedCount int `json:"expectedCount"`

	// SigningKeyPath is the path to the ed25519 attestation signing key.
	SigningKeyPath string `json:"signingKeyPath"`

	// Builder identifies this pipeline in attestation provenance.
	Builder string `json:"builder"`

	// Targets maps branch names ("staging", "production") to registry
	// targets.
	Targets map[string]Target `json:"targets"`

	// OIDC configures the trusted-publishing token exchange.
	OIDC OIDC `json:"oidc"`

	// Archive configures post-publish retention. Empty bucket disables
	// archival.
	Archive Archive `json:"archive"`

	// RunsAPI overrides the workflow-runs API endpoint, empty for the
	// public default.
	RunsAPI string `json:"runsAPI"`
}

// Target is one registry target as configured.
type Target struct {
	URL         string `json:"url"`
	Kind        string `json:"kind"`
	Audience    string `json:"audience"`
	Environment string `json:"environment"`

	// Tag is the OCI reference tag, used only by "oci" targets.
	Tag string `json:"tag"`
}

// OIDC holds the trusted-publishing endpoints.
type OIDC struct {
	IdentityURL string `json:"identityURL"`
	ExchangeURL string `json:"exchangeURL"`
}

// Archive holds the retention settings.
type Archive struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix"`
}

// DefaultPath returns the configuration path under the user's XDG config
// directory.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, DefaultFileName)
}

// RegistryTargets converts the configured targets into registry.Target
// values keyed by branch name.
func (c *Config) RegistryTargets() (map[string]registry.Target, error) {
	targets := make(map[string]registry.Target, len(c.Targets))
	for name, t := range c.Targets {
		kind, err := parseKind(t.Kind)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeInvalidConfig, "target "+name)
		}
		targets[name] = registry.Target{
			Name:        name,
			URL:         t.URL,
			Kind:        kind,
			Audience:    t.Audience,
			Environment: t.Environment,
		}
	}
	return targets, nil
}

func parseKind(kind string) (registry.Kind, error) {
	switch kind {
	case "", "http":
		return registry.KindHTTP, nil
	case "oci":
		return registry.KindOCI, nil
	default:
		return "", errors.Newf(errors.CodeInvalidConfig, "unknown registry kind %q", kind)
	}
}

// Validate checks cross-field constraints CUE cannot express.
func (c *Config) Validate() error {
	if c.Repository == "" {
		return errors.New(errors.CodeInvalidConfig, "repository is required")
	}
	if c.Workflow == "" {
		return errors.New(errors.CodeInvalidConfig, "workflow is required")
	}
	if c.DistPattern == "" {
		return errors.New(errors.CodeInvalidConfig, "distPattern is required")
	}
	if c.ExpectedCount < 0 {
		return errors.New(errors.CodeInvalidConfig, "expectedCount cannot be negative")
	}
	if c.SigningKeyPath == "" {
		return errors.New(errors.CodeInvalidConfig, "signingKeyPath is required")
	}
	if len(c.Targets) == 0 {
		return errors.New(errors.CodeInvalidConfig, "at least one target is required")
	}
	for name, t := range c.Targets {
		if t.URL == "" {
			return errors.Newf(errors.CodeInvalidConfig, "target %q is missing a URL", name)
		}
		if t.Audience == "" {
			return errors.Newf(errors.CodeInvalidConfig, "target %q is missing an audience", name)
		}
		if t.Environment == "" {
			return errors.Newf(errors.CodeInvalidConfig, "target %q is missing an environment", name)
		}
		if _, err := parseKind(t.Kind); err != nil {
			return err
		}
	}
	if c.OIDC.IdentityURL == "" || c.OIDC.ExchangeURL == "" {
		return errors.New(errors.CodeInvalidConfig, "oidc identityURL and exchangeURL are required")
	}
	return nil
}
