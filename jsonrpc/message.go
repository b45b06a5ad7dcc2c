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
	"strconv"
)

// Version is the JSON-RPC protocol version carried by every message.
const Version = "2.0"

// =============================================================================
// MESSAGE UNION
// =============================================================================

// Message is the discriminated union over the four JSON-RPC message kinds:
// *Request, *Notification, and *Response (success or error).
//
// A decoded object is classified by shape: a method with an id is a Request,
// a method without an id is a Notification, and an id with a result or error
// is a Response. Anything else is invalid and reported as a parse error.
type Message interface {
	isMessage()
}

// Request is a call that expects a correlated Response carrying the same ID.
type Request struct {
	// ID is the request identifier. Must be valid.
	ID ID

	// Method is the method to invoke. Must be non-empty.
	Method string

	// Params contains the raw method parameters, or nil when absent.
	Params json.RawMessage
}

// Notification is a fire-and-forget call. It carries no ID and receives no
// response.
type Notification struct {
	// Method is the method to invoke. Must be non-empty.
	Method string

	// Params contains the raw method parameters, or nil when absent.
	Params json.RawMessage
}

// Response answers a prior Request. Exactly one of Result and Error is set;
// a success result may be JSON null.
type Response struct {
	// ID matches the Request this responds to. An invalid (null) ID is only
	// legal on parse-error responses, where the request id was never known.
	ID ID

	// Result is the raw success payload (possibly the literal "null").
	Result json.RawMessage

	// Error is the failure payload, mutually exclusive with Result.
	Error *ResponseError
}

func (*Request) isMessage()      {}
func (*Notification) isMessage() {}
func (*Response) isMessage()     {}

// =============================================================================
// REQUEST ID
// =============================================================================

// ID is a request identifier: an integer or a string. The two constructors
// are distinct namespaces, so NumberID(1) never equals StringID("1"). The
// zero value is invalid and marshals as JSON null.
//
// ID is comparable and safe to use as a map key.
type ID struct {
	num   int64
	str   string
	isStr bool
	valid bool
}

// NumberID returns an integer request identifier.
func NumberID(n int64) ID {
	return ID{num: n, valid: true}
}

// StringID returns a string request identifier.
func StringID(s string) ID {
	return ID{str: s, isStr: true, valid: true}
}

// IsValid reports whether the ID carries a value. Responses to unparseable
// requests are the only messages that legally carry an invalid (null) ID.
func (id ID) IsValid() bool {
	return id.valid
}

// String renders the ID for logs and error messages.
func (id ID) String() string {
	switch {
	case !id.valid:
		return "<null>"
	case id.isStr:
		return strconv.Quote(id.str)
	default:
		return strconv.FormatInt(id.num, 10)
	}
}

// MarshalJSON encodes the ID as a JSON number, string, or null.
func (id ID) MarshalJSON() ([]byte, error) {
	switch {
	case !id.valid:
		return []byte("null"), nil
	case id.isStr:
		return json.Marshal(id.str)
	default:
		return strconv.AppendInt(nil, id.num, 10), nil
	}
}

// UnmarshalJSON decodes a JSON number, string, or null into the ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ID{}
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = StringID(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("request id must be an integer, string, or null: %w", err)
	}
	*id = NumberID(n)
	return nil
}

// =============================================================================
// WIRE ENCODING
// =============================================================================

// wireCombined is the superset of envelope fields used for decoding.
// Unknown top-level fields are ignored.
type wireCombined struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

// MarshalJSON encodes the request with its envelope fields.
func (r *Request) MarshalJSON() ([]byte, error) {
	if !r.ID.IsValid() {
		return nil, fmt.Errorf("request %q has no id", r.Method)
	}
	if r.Method == "" {
		return nil, fmt.Errorf("request %s has no method", r.ID)
	}
	id := r.ID
	return json.Marshal(&wireCombined{
		JSONRPC: Version,
		ID:      &id,
		Method:  r.Method,
		Params:  r.Params,
	})
}

// MarshalJSON encodes the notification with its envelope fields.
func (n *Notification) MarshalJSON() ([]byte, error) {
	if n.Method == "" {
		return nil, fmt.Errorf("notification has no method")
	}
	return json.Marshal(&wireCombined{
		JSONRPC: Version,
		Method:  n.Method,
		Params:  n.Params,
	})
}

// MarshalJSON encodes the response. The id field is always present, emitted
// as null when the ID is invalid. A success response always carries a result
// field, emitted as null when the payload is empty.
func (r *Response) MarshalJSON() ([]byte, error) {
	type wireResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      ID              `json:"id"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *ResponseError  `json:"error,omitempty"`
	}
	w := wireResponse{JSONRPC: Version, ID: r.ID, Result: r.Result, Error: r.Error}
	if w.Error != nil && w.Result != nil {
		return nil, fmt.Errorf("response %s has both result and error", r.ID)
	}
	if w.Error == nil && len(w.Result) == 0 {
		w.Result = json.RawMessage("null")
	}
	return json.Marshal(&w)
}

// DecodeMessage classifies raw JSON as a Request, Notification, or Response.
//
// Description:
//
//	Parses the envelope and applies the shape rules: method with id is a
//	Request, method without id is a Notification, id with result or error
//	is a Response. An object matching none of these is invalid.
//
// Inputs:
//
//	data - One complete JSON payload (the body of a single frame)
//
// Outputs:
//
//	Message - The classified message
//	error - A *ResponseError with CodeParseError
func DecodeMessage(data []byte) (Message, error) {
	var w wireCombined
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, NewError(CodeParseError, fmt.Sprintf("invalid JSON payload: %v", err))
	}
	switch {
	case w.Method != "" && w.ID != nil:
		return &Request{ID: *w.ID, Method: w.Method, Params: w.Params}, nil
	case w.Method != "":
		return &Notification{Method: w.Method, Params: w.Params}, nil
	case w.ID != nil || w.Result != nil || w.Error != nil:
		if w.Result == nil && w.Error == nil {
			return nil, NewError(CodeParseError, "response carries neither result nor error")
		}
		var id ID
		if w.ID != nil {
			id = *w.ID
		}
		return &Response{ID: id, Result: w.Result, Error: w.Error}, nil
	default:
		return nil, NewError(CodeParseError, "message is neither request, notification, nor response")
	}
}
