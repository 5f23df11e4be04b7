// Package credentials provides short-lived, registry-scoped upload
// credentials via identity-token exchange. No static secrets are held:
// each publish resolves a fresh token scoped to one registry target and
// one run, which expires automatically and is never persisted. Token
// memory is zeroed after use.
package credentials

import (
	"time"
)

// Request describes the token being exchanged for: one registry target,
// one run.
type Request struct {
	// Target is the registry target name the token is scoped to.
	Target string

	// Audience is the token audience expected by the registry.
	Audience string

	// RunID binds the credential to a single pipeline run.
	RunID string
}

// Token is a resolved short-lived upload credential.
// The Value must never be logged or persisted.
type Token struct {
	// Value contains the credential bytes.
	Value []byte

	// Target is the registry target the token is scoped to.
	Target string

	// ExpiresAt is when the token stops being accepted.
	ExpiresAt time.Time

	// AutoClear controls whether String() zeroes the value after reading.
	AutoClear bool
}

// String returns the token value as a string. When AutoClear is set the
// underlying bytes are zeroed afterwards, so the value can be read once.
func (t *Token) String() string {
	s := string(t.Value)
	if t.AutoClear {
		t.Clear()
	}
	return s
}

// Clear zeroes the token bytes.
func (t *Token) Clear() {
	for i := range t.Value {
		t.Value[i] = 0
	}
	t.Value = nil
}

// Expired reports whether the token is past its expiry.
func (t *Token) Expired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}
