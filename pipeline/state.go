// Package pipeline orchestrates the release publisher: one dispatch event
// drives a strictly linear run through locate, fetch, attest, approve,
// and publish. Any step failure moves the run to a terminal Failed state;
// there is no resume-from-middle. Concurrent dispatches for the same
// (workflow, ref) group key serialize by cancelling the in-flight run.
package pipeline

// State is the lifecycle position of a publish run.
type State string

const (
	// StateIdle is the initial state before any step has run.
	StateIdle State = "IDLE"

	// StateLocated means the build run has been identified.
	StateLocated State = "LOCATED"

	// StateFetched means the artifact collection has been merged and counted.
	StateFetched State = "FETCHED"

	// StateAttested means the provenance attestation has been generated.
	StateAttested State = "ATTESTED"

	// StatePublished is the terminal success state.
	StatePublished State = "PUBLISHED"

	// StateFailed is the terminal failure state.
	StateFailed State = "FAILED"
)

// String returns the string representation of the State.
func (s State) String() string {
	return string(s)
}

// Terminal reports whether the state ends the run.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateFailed
}
