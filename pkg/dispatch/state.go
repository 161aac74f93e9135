// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package dispatch

import (
	"errors"
	"fmt"
)

// State of a Delegation.
type State int

const (
	Received State = iota
	Matched
	Forwarded
	Acknowledged
	Completed
	TimedOut
	NoMatch
	Cancelled
)

var stateNames = map[State]string{
	Received:     "received",
	Matched:      "matched",
	Forwarded:    "forwarded",
	Acknowledged: "acknowledged",
	Completed:    "completed",
	TimedOut:     "timed_out",
	NoMatch:      "no_match",
	Cancelled:    "cancelled",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal states are final.
func (s State) Terminal() bool {
	switch s {
	case Completed, TimedOut, NoMatch, Cancelled:
		return true
	default:
		return false
	}
}

// MarshalText encodes a State by its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a State from its name.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", string(text))
}

var (
	// ErrNoAgentFound reports a request no agent can handle. It is never retried.
	ErrNoAgentFound = errors.New("no agent can handle this request")

	// ErrDelegationTimeout reports a Delegation without a reply after all retries.
	ErrDelegationTimeout = errors.New("delegation timed out")

	// ErrCancelled reports a cancelled Delegation.
	ErrCancelled = errors.New("delegation was cancelled")

	// ErrAgentFailed wraps an error reported by the agent.
	ErrAgentFailed = errors.New("agent failed")

	// ErrUnknownDelegation is returned for unknown or already collected Delegation IDs.
	ErrUnknownDelegation = errors.New("unknown delegation")

	// ErrAlreadyTerminal is returned when cancelling a finished Delegation.
	ErrAlreadyTerminal = errors.New("delegation is already terminal")
)
