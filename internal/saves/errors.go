// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package saves

import (
	"errors"
	"fmt"
)

// Code classifies a save-system failure. Codes are stable and machine
// readable; they drive both the retry classification and the user-facing
// message selection.
type Code string

const (
	// CodeDataInvalid marks malformed caller input: bad slot index,
	// empty save name, oversized payload. Never retried.
	CodeDataInvalid Code = "DATA_INVALID"

	// CodeSaveValidationFailed marks a pre-write integrity failure with
	// no recovery. Never retried; it is a caller-data problem, not a
	// transient fault.
	CodeSaveValidationFailed Code = "SAVE_VALIDATION_FAILED"

	// CodeStorageNotFound marks a load or delete targeting an absent slot.
	CodeStorageNotFound Code = "STORAGE_NOT_FOUND"

	// CodeDataCorrupted marks a post-download integrity failure with no
	// recoverable data.
	CodeDataCorrupted Code = "DATA_CORRUPTED"

	// CodeOperationFailed marks a generic remote-operation failure,
	// retried per the operation's classification.
	CodeOperationFailed Code = "OPERATION_FAILED"

	// CodeOperationTimeout marks a remote operation that ran out of time.
	// Distinct from generic failure so callers can surface a different
	// message and stretch the next backoff.
	CodeOperationTimeout Code = "OPERATION_TIMEOUT"
)

// Retryable reports whether operations failing with this code may be
// attempted again. Input and integrity problems are terminal; only remote
// operation failures are transient.
func (c Code) Retryable() bool {
	switch c {
	case CodeOperationFailed, CodeOperationTimeout:
		return true
	default:
		return false
	}
}

// Error is the typed error of the save system. It wraps an optional cause
// and always carries a Code.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a typed error without a cause.
func E(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs a typed error around a cause.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code from an error chain. Unclassified errors map
// to CodeOperationFailed.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeOperationFailed
}

// AsError converts any error into a *saves.Error, preserving an existing
// classification and wrapping everything else as OPERATION_FAILED.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: CodeOperationFailed, Message: err.Error(), Err: err}
}
