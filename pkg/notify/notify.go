// Package notify contains progress and notification sinks for the
// provisioning engine: a terminal Console and an in-memory Recorder.
package notify

import (
	"errors"
	"fmt"
)

// ErrNoActions is returned by Confirm when it is given nothing to choose.
var ErrNoActions = errors.New("confirm requires at least one action")

// Action is one choice offered by Confirm. Exactly one action's Do is
// invoked per Confirm call.
type Action struct {
	// Label is shown to the user.
	Label string

	// Cancel marks the action picked when no answer can be obtained.
	Cancel bool

	// Do runs when the action is chosen. It may be nil.
	Do func()
}

// Invoke runs the action's callback.
func (a Action) Invoke() {
	if a.Do != nil {
		a.Do()
	}
}

// cancelIndex returns the action marked Cancel, or the last action.
func cancelIndex(actions []Action) int {
	for i, a := range actions {
		if a.Cancel {
			return i
		}
	}
	return len(actions) - 1
}

// indexOf returns the position of the action labeled label.
func indexOf(actions []Action, label string) (int, error) {
	for i, a := range actions {
		if a.Label == label {
			return i, nil
		}
	}
	return -1, fmt.Errorf("no action labeled %q", label)
}
