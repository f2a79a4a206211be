// Sawyer's RPG - Cloud Save Gateway
// Copyright 2026 cplax14
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cplax14/sawyers-rpg-game-sub008

// Package api exposes the gateway operations over HTTP with a
// standardized response envelope.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/cplax14/sawyers-rpg-game-sub008/internal/logging"
	"github.com/cplax14/sawyers-rpg-game-sub008/internal/saves"
)

// APIResponse is the wrapper every endpoint responds with.
type APIResponse struct {
	// Success indicates whether the request was successful
	Success bool `json:"success"`

	// Data contains the response payload (null on error)
	Data any `json:"data,omitempty"`

	// Error contains error details (null on success)
	Error *APIError `json:"error,omitempty"`

	// Meta contains optional metadata about the response
	Meta *APIMeta `json:"meta,omitempty"`
}

// APIError represents an error response.
type APIError struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Details contains additional error details (optional)
	Details any `json:"details,omitempty"`

	// RequestID is the request ID for tracing
	RequestID string `json:"request_id,omitempty"`
}

// APIMeta contains optional response metadata.
type APIMeta struct {
	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`

	// OperationID is the gateway operation identifier, when the response
	// came out of a gateway pipeline
	OperationID string `json:"operation_id,omitempty"`

	// Timestamp is when the response was generated
	Timestamp time.Time `json:"timestamp"`

	// DurationMs is the request processing time in milliseconds
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Warnings carries non-fatal notes from the operation (repaired
	// state, pending sync status, failed attachment upload)
	Warnings []string `json:"warnings,omitempty"`
}

// Error codes for transport-level failures. Gateway failures keep their
// own codes from the saves taxonomy.
const (
	ErrCodeBadRequest       = "BAD_REQUEST"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeTooManyRequests  = "TOO_MANY_REQUESTS"
	ErrCodeInternalError    = "INTERNAL_ERROR"
	ErrCodeValidationFailed = "VALIDATION_FAILED"
)

// ResponseWriter provides methods for writing standardized responses.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter creates a response writer for one request.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

// Success writes a 200 response with data.
func (rw *ResponseWriter) Success(data any) {
	rw.write(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    rw.meta(),
	})
}

// Error writes an error response with the given status code.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.ErrorWithDetails(statusCode, code, message, nil)
}

// ErrorWithDetails writes an error response with additional details.
func (rw *ResponseWriter) ErrorWithDetails(statusCode int, code, message string, details any) {
	rw.write(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: logging.RequestIDFromContext(rw.r.Context()),
		},
		Meta: rw.meta(),
	})
}

// BadRequest writes a 400 Bad Request error.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Error(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized writes a 401 Unauthorized error.
func (rw *ResponseWriter) Unauthorized(message string) {
	rw.Error(http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// NotFound writes a 404 Not Found error.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError writes a 500 Internal Server Error.
func (rw *ResponseWriter) InternalError(message string) {
	rw.Error(http.StatusInternalServerError, ErrCodeInternalError, message)
}

// ValidationError writes a 400 error with validation details.
func (rw *ResponseWriter) ValidationError(message string, validationErrors any) {
	rw.ErrorWithDetails(http.StatusBadRequest, ErrCodeValidationFailed, message, validationErrors)
}

func (rw *ResponseWriter) meta() *APIMeta {
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		Timestamp:  time.Now().UTC(),
		DurationMs: time.Since(rw.startTime).Milliseconds(),
	}
}

func (rw *ResponseWriter) write(statusCode int, response APIResponse) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(statusCode)
	if err := json.NewEncoder(rw.w).Encode(response); err != nil {
		logging.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// statusForCode maps gateway error codes to HTTP status codes.
func statusForCode(code saves.Code) int {
	switch code {
	case saves.CodeDataInvalid:
		return http.StatusBadRequest
	case saves.CodeSaveValidationFailed:
		return http.StatusUnprocessableEntity
	case saves.CodeStorageNotFound:
		return http.StatusNotFound
	case saves.CodeOperationTimeout:
		return http.StatusGatewayTimeout
	default: // DATA_CORRUPTED, OPERATION_FAILED
		return http.StatusInternalServerError
	}
}

// writeResult translates a gateway Result into the HTTP envelope. The
// gateway's operation identity and warnings travel in Meta; its error
// code passes through unchanged so clients see one taxonomy everywhere.
func writeResult[T any](w http.ResponseWriter, r *http.Request, res saves.Result[T]) {
	rw := NewResponseWriter(w, r)
	meta := rw.meta()
	meta.OperationID = res.OperationID
	meta.Warnings = res.Warnings

	if res.Success {
		rw.write(http.StatusOK, APIResponse{Success: true, Data: res.Data, Meta: meta})
		return
	}

	apiErr := &APIError{
		Code:      ErrCodeInternalError,
		Message:   "operation failed",
		RequestID: logging.RequestIDFromContext(r.Context()),
	}
	status := http.StatusInternalServerError
	if res.Error != nil {
		apiErr.Code = string(res.Error.Code)
		apiErr.Message = res.Error.Message
		status = statusForCode(res.Error.Code)
	}
	rw.write(status, APIResponse{Success: false, Error: apiErr, Meta: meta})
}
