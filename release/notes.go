package release

import (
	"fmt"
	"strings"
)

// RenderNotes renders a markdown release-notes document for the plan.
// Commits are grouped into breaking changes, features, fixes, and the
// rest, in that order; empty sections are omitted.
func RenderNotes(plan *Plan) string {
	var breaking, features, fixes, other []string

	for _, commit := range plan.Commits {
		line := noteLine(commit)
		cc, ok := parseSubject(commit.Subject)
		switch {
		case ok && cc.IsBreakingChange():
			breaking = append(breaking, line)
		case ok && cc.Type == "feat":
			features = append(features, line)
		case ok && cc.Type == "fix":
			fixes = append(fixes, line)
		default:
			other = append(other, line)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", plan.TagName())
	if plan.Previous != nil {
		fmt.Fprintf(&b, "\nChanges since v%s.\n", plan.Previous.String())
	}
	section(&b, "Breaking Changes", breaking)
	section(&b, "Features", features)
	section(&b, "Fixes", fixes)
	section(&b, "Other", other)
	return b.String()
}

func section(b *strings.Builder, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n", title)
	for _, line := range lines {
		fmt.Fprintf(b, "- %s\n", line)
	}
}

func noteLine(commit Commit) string {
	subject := commit.Subject
	if cc, ok := parseSubject(subject); ok {
		if cc.Scope != nil && *cc.Scope != "" {
			subject = fmt.Sprintf("**%s**: %s", *cc.Scope, cc.Description)
		} else {
			subject = cc.Description
		}
	}
	short := commit.Hash
	if len(short) > 7 {
		short = short[:7]
	}
	if short == "" {
		return subject
	}
	return fmt.Sprintf("%s (%s)", subject, short)
}
