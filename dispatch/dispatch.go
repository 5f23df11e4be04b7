// Package dispatch implements the trigger listener for the release
// publisher. A dispatch event carries exactly one recognized action kind;
// each kind selects exactly one downstream publish branch. Unrecognized
// action kinds are refused with a typed error rather than silently ignored.
package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/packforge/packforge/errors"
)

// ActionKind identifies which publish branch a dispatch event selects.
// The set of kinds is closed; see ParseActionKind.
type ActionKind string

const (
	// ActionPublishStaging selects the staging registry branch (TestPyPI).
	ActionPublishStaging ActionKind = "publish-testpypi"

	// ActionPublishProduction selects the production registry branch (PyPI).
	ActionPublishProduction ActionKind = "publish-pypi"
)

// String returns the string representation of the ActionKind.
func (k ActionKind) String() string {
	return string(k)
}

// ErrUnknownAction is returned when a dispatch carries an action kind
// outside the two recognized values.
var ErrUnknownAction = errors.New(errors.CodeInvalidInput, "unrecognized action kind")

// ParseActionKind validates a raw action string against the closed enum.
// Returns ErrUnknownAction (wrapped with the offending value) for anything
// other than the two recognized kinds.
func ParseActionKind(raw string) (ActionKind, error) {
	switch ActionKind(raw) {
	case ActionPublishStaging:
		return ActionPublishStaging, nil
	case ActionPublishProduction:
		return ActionPublishProduction, nil
	default:
		return "", errors.WrapWithContext(
			ErrUnknownAction,
			errors.CodeInvalidInput,
			"dispatch refused",
			map[string]interface{}{"action": raw},
		)
	}
}

// Event represents a single dispatch of the release publisher.
// Events are created by an external caller and consumed exactly once.
type Event struct {
	// ID uniquely identifies this delivery.
	ID string `json:"id"`

	// Action selects the publish branch.
	Action ActionKind `json:"action"`

	// Workflow names the build workflow whose artifacts will be published.
	Workflow string `json:"workflow"`

	// Ref is the git ref the dispatch applies to. Together with Workflow it
	// forms the concurrency-group key.
	Ref string `json:"ref"`

	// Actor identifies who or what requested the publish.
	Actor string `json:"actor,omitempty"`

	// ReceivedAt is when the event was accepted.
	ReceivedAt time.Time `json:"received_at"`
}

// NewEvent builds a validated Event for the given raw action. The action
// string is parsed against the closed enum; invalid actions are refused.
func NewEvent(rawAction, workflow, ref, actor string) (*Event, error) {
	kind, err := ParseActionKind(rawAction)
	if err != nil {
		return nil, err
	}
	if workflow == "" {
		return nil, errors.New(errors.CodeInvalidInput, "workflow cannot be empty")
	}
	if ref == "" {
		return nil, errors.New(errors.CodeInvalidInput, "ref cannot be empty")
	}

	return &Event{
		ID:         uuid.NewString(),
		Action:     kind,
		Workflow:   workflow,
		Ref:        ref,
		Actor:      actor,
		ReceivedAt: time.Now().UTC(),
	}, nil
}

// GroupKey returns the concurrency-group key for this event. At most one
// run may be in flight per key; a newer dispatch cancels the older one.
func (e *Event) GroupKey() string {
	return e.Workflow + "@" + e.Ref
}

// TargetName maps the event's action kind to the registry target name the
// branch publishes to. The two branches are mutually exclusive: one event
// maps to exactly one target.
func (e *Event) TargetName() string {
	if e.Action == ActionPublishProduction {
		return "production"
	}
	return "staging"
}
