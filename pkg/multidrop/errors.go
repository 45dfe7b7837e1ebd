// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Disco Floor Project

package multidrop

import (
	"errors"
	"fmt"
)

// Usage errors. These indicate a caller bug, not a bus condition.
var (
	// ErrTransactionOpen is returned when a message is started while
	// another transaction (or an addressing session) is still live.
	ErrTransactionOpen = errors.New("multidrop: transaction already open")

	// ErrNoTransaction is returned when payload is sent or a message
	// ended without an open transaction.
	ErrNoTransaction = errors.New("multidrop: no open transaction")

	// ErrAddressingActive is returned when a second addressing session
	// is started before the first completes.
	ErrAddressingActive = errors.New("multidrop: addressing already in progress")
)

// ConnectionError reports that the underlying link failed or went
// away. It is fatal to the current transaction; the caller recovers by
// reconnecting and creating a new bus session.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("multidrop: link %s failed", e.Op)
	}
	return fmt.Sprintf("multidrop: link %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// OverflowError reports payload sent beyond the length declared in the
// message header. It is terminal for the transaction and never retried.
type OverflowError struct {
	Declared  int
	Attempted int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("multidrop: payload overflow: %d bytes sent against declared length %d",
		e.Attempted, e.Declared)
}

// AddressingError reports a failed addressing session: a node kept
// echoing an invalid address after every correction attempt. The
// caller may retry the whole session.
type AddressingError struct {
	Confirmed int // highest address confirmed before the failure
	Attempts  int // address sends for the failing node, corrections included
}

func (e *AddressingError) Error() string {
	return fmt.Sprintf("multidrop: addressing failed after node %d (%d attempts)",
		e.Confirmed, e.Attempts)
}
