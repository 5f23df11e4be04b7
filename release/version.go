package release

import (
	"github.com/Masterminds/semver/v3"
	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"
)

// Bump is the semver level a set of commits justifies.
type Bump int

const (
	// BumpPatch covers fixes and anything that is not a feature.
	BumpPatch Bump = iota

	// BumpMinor covers new features.
	BumpMinor

	// BumpMajor covers breaking changes.
	BumpMajor
)

// String returns the bump level name.
func (b Bump) String() string {
	switch b {
	case BumpMajor:
		return "major"
	case BumpMinor:
		return "minor"
	default:
		return "patch"
	}
}

// parseSubject parses a commit subject as a conventional commit. The
// second return is false for commits that do not follow the convention;
// those still ship in a release but only ever justify a patch bump.
func parseSubject(subject string) (*conventionalcommits.ConventionalCommit, bool) {
	machine := parser.NewMachine(
		conventionalcommits.WithTypes(conventionalcommits.TypesConventional),
	)
	msg, err := machine.Parse([]byte(subject))
	if err != nil {
		return nil, false
	}
	cc, ok := msg.(*conventionalcommits.ConventionalCommit)
	if !ok || !cc.Ok() {
		return nil, false
	}
	return cc, true
}

// BumpFromCommits inspects commit subjects and returns the highest bump
// level the history justifies. Breaking changes win over features, which
// win over everything else.
func BumpFromCommits(commits []Commit) Bump {
	bump := BumpPatch
	for _, commit := range commits {
		cc, ok := parseSubject(commit.Subject)
		if !ok {
			continue
		}
		switch {
		case cc.IsBreakingChange():
			return BumpMajor
		case cc.Type == "feat":
			bump = BumpMinor
		}
	}
	return bump
}

// NextVersion applies the bump to the previous version. A nil previous
// version starts the line at 0.1.0, the conventional first release.
func NextVersion(previous *semver.Version, bump Bump) *semver.Version {
	if previous == nil {
		return semver.MustParse("0.1.0")
	}
	var next semver.Version
	switch bump {
	case BumpMajor:
		next = previous.IncMajor()
	case BumpMinor:
		next = previous.IncMinor()
	default:
		next = previous.IncPatch()
	}
	return &next
}
