package commands

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/packforge/packforge/archive"
	"github.com/packforge/packforge/artifact"
	"github.com/packforge/packforge/attest"
	"github.com/packforge/packforge/config"
	"github.com/packforge/packforge/credentials"
	"github.com/packforge/packforge/dispatch"
	"github.com/packforge/packforge/errors"
	"github.com/packforge/packforge/fs"
	"github.com/packforge/packforge/gate"
	"github.com/packforge/packforge/pipeline"
	"github.com/packforge/packforge/registry"
	"github.com/packforge/packforge/registry/ocidist"
	"github.com/packforge/packforge/runs"
)

var (
	publishAction string
	publishRef    string
	publishDest   string
	autoApprove   bool
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish build artifacts to a package registry",
	Long: `Publish runs the release pipeline for one dispatch: locate the latest
completed build run, fetch its dist artifacts, attest them, and upload to
the registry the action selects. Unknown actions are refused.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishAction, "action", "",
		"publish action (publish-testpypi or publish-pypi)")
	publishCmd.Flags().StringVar(&publishRef, "ref", "refs/heads/main",
		"git ref the dispatch is for")
	publishCmd.Flags().StringVar(&publishDest, "dest", "work",
		"directory artifacts are staged under")
	publishCmd.Flags().BoolVar(&autoApprove, "auto-approve", false,
		"skip the interactive approval prompt")
	_ = publishCmd.MarkFlagRequired("action")
}

func runPublish(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	publisher, err := buildPublisher(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	actor := os.Getenv("USER")
	if actor == "" {
		actor = "packforge"
	}
	event, err := dispatch.NewEvent(publishAction, cfg.Workflow, publishRef, actor)
	if err != nil {
		return err
	}

	result, err := publisher.Run(cmd.Context(), event)
	if err != nil {
		return err
	}

	fmt.Printf("Published %d dists to %s (run #%d)\n",
		result.Dists, result.Upload.Target, result.RunRef.ID)
	if result.ArchiveErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: archival failed: %v\n", result.ArchiveErr)
	}
	return nil
}

// buildPublisher wires the pipeline from configuration.
func buildPublisher(ctx context.Context, cfg *config.Config) (*pipeline.Publisher, error) {
	fsys := fs.NewOSFS("/")
	token := os.Getenv("PACKFORGE_TOKEN")

	locatorOpts := []runs.Option{}
	sourceOpts := []artifact.SourceOption{}
	if cfg.RunsAPI != "" {
		locatorOpts = append(locatorOpts, runs.WithBaseURL(cfg.RunsAPI))
		sourceOpts = append(sourceOpts, artifact.WithSourceBaseURL(cfg.RunsAPI))
	}
	if token != "" {
		locatorOpts = append(locatorOpts, runs.WithToken(token))
		sourceOpts = append(sourceOpts, artifact.WithSourceToken(token))
	}

	locator, err := runs.NewLocator(cfg.Repository, locatorOpts...)
	if err != nil {
		return nil, err
	}

	source, err := artifact.NewHTTPSource(cfg.Repository, sourceOpts...)
	if err != nil {
		return nil, err
	}
	fetcher, err := artifact.NewFetcher(source, artifact.WithFilesystem(fsys))
	if err != nil {
		return nil, err
	}

	key, err := loadSigningKey(fsys, cfg.SigningKeyPath)
	if err != nil {
		return nil, err
	}
	builder := cfg.Builder
	if builder == "" {
		builder = "packforge"
	}
	attester, err := attest.NewAttester(key,
		attest.WithFilesystem(fsys),
		attest.WithBuilder(builder))
	if err != nil {
		return nil, err
	}

	oidc, err := credentials.NewOIDCProvider(cfg.OIDC.IdentityURL, cfg.OIDC.ExchangeURL)
	if err != nil {
		return nil, err
	}
	manager := credentials.NewManager(&credentials.Config{
		DefaultProvider: "oidc",
		AutoClear:       true,
	})
	if err := manager.RegisterProvider("oidc", oidc); err != nil {
		return nil, err
	}

	targets, err := cfg.RegistryTargets()
	if err != nil {
		return nil, err
	}

	var approval gate.Gate
	if autoApprove {
		approval = gate.AutoApprove{}
	} else {
		approval = newPromptGate(os.Stdin)
	}

	options := []pipeline.Option{
		pipeline.WithUploader(registry.KindHTTP, registry.NewHTTPUploader(
			registry.WithHTTPFilesystem(fsys))),
	}
	for _, t := range cfg.Targets {
		if t.Kind != "oci" {
			continue
		}
		ociOpts := []ocidist.Option{ocidist.WithFilesystem(fsys)}
		if t.Tag != "" {
			ociOpts = append(ociOpts, ocidist.WithTag(t.Tag))
		}
		options = append(options,
			pipeline.WithUploader(registry.KindOCI, ocidist.NewPublisher(ociOpts...)))
		break
	}

	if cfg.Archive.Bucket != "" {
		store, err := archive.New(ctx, cfg.Archive.Bucket, cfg.Archive.Prefix,
			archive.WithFilesystem(fsys))
		if err != nil {
			return nil, err
		}
		options = append(options, pipeline.WithArchiver(store))
	}

	return pipeline.NewPublisher(
		locator,
		fetcher,
		attester,
		approval,
		manager,
		targets,
		pipeline.Options{
			Pattern:       cfg.DistPattern,
			DestRoot:      publishDest,
			ExpectedCount: cfg.ExpectedCount,
			Builder:       builder,
		},
		options...,
	)
}

// loadSigningKey reads an ed25519 key from disk. The file holds either a
// hex-encoded or raw seed (32 bytes), or a raw private key (64 bytes).
func loadSigningKey(fsys fs.Filesystem, path string) (ed25519.PrivateKey, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "failed to read signing key")
	}

	trimmed := strings.TrimSpace(string(data))
	if decoded, decErr := hex.DecodeString(trimmed); decErr == nil {
		data = decoded
	}

	switch len(data) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(data), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(data), nil
	default:
		return nil, errors.Newf(errors.CodeInvalidConfig,
			"signing key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(data))
	}
}

// promptGate asks for approval on its input stream. One reader goroutine
// serves the gate for the life of the process, so a Wait abandoned on
// context cancellation does not leak a blocked reader; the next Wait
// consumes whatever line arrives.
type promptGate struct {
	in    io.Reader
	once  sync.Once
	lines chan string
}

func newPromptGate(in io.Reader) *promptGate {
	return &promptGate{in: in, lines: make(chan string)}
}

func (g *promptGate) start() {
	g.once.Do(func() {
		go func() {
			reader := bufio.NewReader(g.in)
			for {
				line, err := reader.ReadString('\n')
				if trimmed := strings.ToLower(strings.TrimSpace(line)); trimmed != "" {
					g.lines <- trimmed
				}
				if err != nil {
					close(g.lines)
					return
				}
			}
		}()
	})
}

func (g *promptGate) Wait(ctx context.Context, environment string) error {
	g.start()
	fmt.Printf("Approve publish to environment %q? [y/N]: ", environment)

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.CodeApprovalDenied, "approval interrupted")
	case line, ok := <-g.lines:
		if !ok {
			return errors.Newf(errors.CodeApprovalDenied,
				"input closed before publish to %q was approved", environment)
		}
		if line == "y" || line == "yes" {
			return nil
		}
		return errors.Newf(errors.CodeApprovalDenied,
			"publish to %q was not approved", environment)
	}
}
