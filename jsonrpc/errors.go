// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC and LSP error codes.
const (
	// CodeParseError indicates the payload was not valid JSON.
	CodeParseError = -32700

	// CodeInvalidRequest indicates the payload was not a valid request object.
	CodeInvalidRequest = -32600

	// CodeMethodNotFound indicates no handler is registered for the method.
	CodeMethodNotFound = -32601

	// CodeInvalidParams indicates the method parameters were invalid.
	CodeInvalidParams = -32602

	// CodeInternalError indicates the handler failed unexpectedly.
	CodeInternalError = -32603

	// CodeServerNotInitialized indicates a request arrived before initialize.
	CodeServerNotInitialized = -32002

	// CodeUnknownError is the reserved LSP unknown error code.
	CodeUnknownError = -32001

	// CodeRequestCancelled indicates the request was cancelled before completion.
	CodeRequestCancelled = -32800

	// CodeContentModified indicates the result would be computed from stale content.
	CodeContentModified = -32801
)

// ResponseError is the structured error carried by an error response.
// It implements the error interface so handlers can return it directly to
// have its code, message, and data propagated verbatim on the wire.
type ResponseError struct {
	// Code is the JSON-RPC error code.
	Code int `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data contains optional additional error information.
	Data json.RawMessage `json:"data,omitempty"`
}

// NewError returns a ResponseError with the given code and message.
func NewError(code int, message string) *ResponseError {
	return &ResponseError{Code: code, Message: message}
}

// Errorf returns a ResponseError with a formatted message.
func Errorf(code int, format string, args ...any) *ResponseError {
	return &ResponseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("jsonrpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsParseError returns true if this is a JSON-RPC parse error.
func (e *ResponseError) IsParseError() bool {
	return e.Code == CodeParseError
}

// IsMethodNotFound returns true if the method is not supported by the peer.
func (e *ResponseError) IsMethodNotFound() bool {
	return e.Code == CodeMethodNotFound
}

// IsRequestCancelled returns true if the request was cancelled.
func (e *ResponseError) IsRequestCancelled() bool {
	return e.Code == CodeRequestCancelled
}

// IsServerNotInitialized returns true if the server is not initialized.
func (e *ResponseError) IsServerNotInitialized() bool {
	return e.Code == CodeServerNotInitialized
}
