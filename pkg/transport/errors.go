// SPDX-FileCopyrightText: 2026 agentboard contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTransportAvailable is returned after every configured Adapter failed. Since the StoreAdapter cannot fail to
	// connect, this indicates a misconfiguration.
	ErrNoTransportAvailable = errors.New("no transport available")

	// ErrNotConnected is returned by Adapters used without a connection.
	ErrNotConnected = errors.New("adapter is not connected")

	// ErrAckTimeout is returned if no acknowledgement arrived in time.
	ErrAckTimeout = errors.New("acknowledgement timed out")
)

// Error is a failure of a single Adapter operation, which is recovered by failing over.
type Error struct {
	Kind    Kind
	Address string
	Op      string
	Err     error
}

func newError(kind Kind, address, op string, err error) *Error {
	return &Error{
		Kind:    kind,
		Address: address,
		Op:      op,
		Err:     err,
	}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v transport %s: %s failed: %v", e.Kind, e.Address, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportError checks if an error is caused by an Adapter.
func IsTransportError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
