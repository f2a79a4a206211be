// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

package saves

import (
	"time"

	"github.com/google/uuid"
)

// Result is the discriminated envelope returned by every gateway
// operation. Gateway methods never return bare errors to their caller:
// the envelope carries either Data or Error, plus operation metadata
// regardless of outcome.
type Result[T any] struct {
	Success bool `json:"success"`

	// Data is the operation payload; zero on failure.
	Data T `json:"data,omitempty"`

	// Error is populated on failure.
	Error *Error `json:"error,omitempty"`

	// Warnings carries non-fatal notes, e.g. a load that succeeded only
	// through integrity recovery.
	Warnings []string `json:"warnings,omitempty"`

	// OperationID uniquely identifies this gateway call for correlation.
	OperationID string `json:"operationId"`

	// Timestamp is when the operation completed.
	Timestamp time.Time `json:"timestamp"`

	// ExecutionTime is the wall-clock duration of the operation.
	ExecutionTime time.Duration `json:"executionTime"`
}

// NewOperationID mints the correlation ID stamped on a gateway call.
func NewOperationID() string {
	return uuid.New().String()
}

// OK builds a successful result.
func OK[T any](opID string, started time.Time, data T) Result[T] {
	return Result[T]{
		Success:       true,
		Data:          data,
		OperationID:   opID,
		Timestamp:     time.Now().UTC(),
		ExecutionTime: time.Since(started),
	}
}

// Fail builds a failed result from any error, classifying it if needed.
func Fail[T any](opID string, started time.Time, err error) Result[T] {
	return Result[T]{
		Success:       false,
		Error:         AsError(err),
		OperationID:   opID,
		Timestamp:     time.Now().UTC(),
		ExecutionTime: time.Since(started),
	}
}

// BatchResult reports the outcome of a multi-slot save. The batch
// succeeds only when every item succeeds; items are independent and
// reported individually.
type BatchResult struct {
	Success bool                     `json:"success"`
	Items   []Result[*SaveMetadata]  `json:"items"`

	OperationID   string        `json:"operationId"`
	Timestamp     time.Time     `json:"timestamp"`
	ExecutionTime time.Duration `json:"executionTime"`
}
