// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/lsprpc/jsonrpc"
)

// Call issues a typed outbound request.
//
// Description:
//
//	The typed wrapper around the raw JSON round trip: params are marshaled
//	before send, the raw result is unmarshaled into R afterwards, and
//	serialization faults surface as local errors rather than wire errors.
//	A null result yields R's zero value.
//
// Example:
//
//	hover, err := lsp.Call[protocol.HoverParams, *protocol.Hover](
//	    ctx, conn, "textDocument/hover", params)
func Call[P, R any](ctx context.Context, conn *Conn, method string, params P) (R, error) {
	var result R
	raw, err := conn.Call(ctx, method, params)
	if err != nil {
		return result, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return result, nil
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("unmarshal %q result: %w", method, err)
	}
	return result, nil
}

// HandleRequest registers a typed request handler on the connection.
// Params that fail to unmarshal produce an InvalidParams response.
func HandleRequest[P, R any](conn *Conn, method string, fn func(ctx context.Context, params P) (R, error)) {
	conn.OnRequest(method, func(ctx context.Context, raw json.RawMessage) (any, error) {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, jsonrpc.Errorf(jsonrpc.CodeInvalidParams, "invalid params for %q: %v", method, err)
			}
		}
		return fn(ctx, params)
	})
}

// HandleNotification registers a typed notification handler on the
// connection. Params that fail to unmarshal are logged and dropped.
func HandleNotification[P any](conn *Conn, method string, fn func(ctx context.Context, params P) error) {
	conn.OnNotification(method, func(ctx context.Context, raw json.RawMessage) error {
		var params P
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &params); err != nil {
				return fmt.Errorf("unmarshal %q params: %w", method, err)
			}
		}
		return fn(ctx, params)
	})
}
