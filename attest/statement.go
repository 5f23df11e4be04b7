// Package attest implements the provenance attester: it produces one
// signed attestation binding the merged artifact collection to its build
// provenance. The attestation is an in-toto statement wrapped in a
// DSSE-style envelope, produced once per publish and immutable thereafter.
package attest

import (
	"time"
)

const (
	// StatementType is the in-toto statement type produced by this package.
	StatementType = "https://in-toto.io/Statement/v1"

	// PredicateType identifies the provenance predicate.
	PredicateType = "https://slsa.dev/provenance/v1"

	// PayloadType is the DSSE payload type for in-toto statements.
	PayloadType = "application/vnd.in-toto+json"
)

// Subject identifies one attested file by name and content digest.
type Subject struct {
	// Name is the file name within the artifact collection.
	Name string `json:"name"`

	// Digest maps algorithm to hex digest. SHA-256 is always present.
	Digest map[string]string `json:"digest"`
}

// Provenance is the predicate describing how the subjects were built.
type Provenance struct {
	// Builder identifies the system that produced the artifacts.
	Builder string `json:"builder"`

	// Workflow is the build workflow name.
	Workflow string `json:"workflow"`

	// RunID is the build run the artifacts were fetched from.
	RunID int64 `json:"run_id"`

	// SourceCommit is the commit the run built.
	SourceCommit string `json:"source_commit,omitempty"`

	// InvokedAt is when the publish pipeline generated the attestation.
	InvokedAt time.Time `json:"invoked_at"`
}

// Statement is the in-toto statement binding subjects to provenance.
type Statement struct {
	Type          string     `json:"_type"`
	Subject       []Subject  `json:"subject"`
	PredicateType string     `json:"predicateType"`
	Predicate     Provenance `json:"predicate"`
}

// Signature carries one signature over the envelope payload.
type Signature struct {
	// KeyID identifies the signing key.
	KeyID string `json:"keyid"`

	// Sig is the base64-encoded signature.
	Sig string `json:"sig"`
}

// Envelope is the signed attestation in DSSE form. Once produced it must
// be treated as immutable.
type Envelope struct {
	// PayloadType describes the payload encoding.
	PayloadType string `json:"payloadType"`

	// Payload is the base64-encoded serialized Statement.
	Payload string `json:"payload"`

	// Signatures holds at least one signature over the payload.
	Signatures []Signature `json:"signatures"`
}
