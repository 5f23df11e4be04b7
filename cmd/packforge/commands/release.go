package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/packforge/packforge/release"
)

var (
	releaseRepoPath string
	releaseApply    bool
	releaseDocsCmd  string
	taggerName      string
	taggerEmail     string
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Automate the release checklist",
}

var releasePrepareCmd = &cobra.Command{
	Use:   "prepare",
	Short: "Compute the next version and release notes",
	Long: `Prepare inspects the commits since the last version tag, decides the
semver bump from their conventional-commit subjects, and renders release
notes. With --apply it also regenerates documentation and creates the
annotated tag.`,
	RunE: runReleasePrepare,
}

func init() {
	releasePrepareCmd.Flags().StringVar(&releaseRepoPath, "repo", ".",
		"path to the repository to release")
	releasePrepareCmd.Flags().BoolVar(&releaseApply, "apply", false,
		"create the release tag (default: print the plan only)")
	releasePrepareCmd.Flags().StringVar(&releaseDocsCmd, "docs-cmd", "",
		"documentation command to run before tagging (e.g. \"make docs\")")
	releasePrepareCmd.Flags().StringVar(&taggerName, "tagger-name", "packforge",
		"name recorded on the release tag")
	releasePrepareCmd.Flags().StringVar(&taggerEmail, "tagger-email", "release@packforge.dev",
		"email recorded on the release tag")

	releaseCmd.AddCommand(releasePrepareCmd)
}

func runReleasePrepare(cmd *cobra.Command, _ []string) error {
	repo, err := release.OpenRepo(releaseRepoPath, release.Tagger{
		Name:  taggerName,
		Email: taggerEmail,
	})
	if err != nil {
		return err
	}

	preparer, err := release.NewPreparer(repo)
	if err != nil {
		return err
	}

	plan, err := preparer.Plan(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Next version: %s (%s bump, %d commits)\n",
		plan.TagName(), plan.Bump, len(plan.Commits))
	fmt.Println()
	fmt.Println(plan.Notes)

	if !releaseApply {
		fmt.Println("Run again with --apply to create the tag.")
		return nil
	}

	if releaseDocsCmd != "" {
		fields := strings.Fields(releaseDocsCmd)
		runner := &release.CommandRunner{Dir: releaseRepoPath}
		if _, err := release.RegenerateDocs(cmd.Context(), runner, fields[0], fields[1:]...); err != nil {
			return err
		}
		fmt.Printf("Documentation regenerated (%s)\n", releaseDocsCmd)
	}

	if err := preparer.Apply(cmd.Context(), plan); err != nil {
		return err
	}
	fmt.Printf("Created tag %s\n", plan.TagName())
	return nil
}
