// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lsp implements the bidirectional LSP connection: request and
// notification dispatch, outbound request correlation, the lifecycle gate,
// and cooperative cancellation.
//
// # Architecture
//
//	transport bytes ──► decoder ──► lifecycle gate ──► handler registry
//	                                     │                    │
//	                                     │              handler goroutine
//	                                     ▼                    │
//	      Call() ──► pending table ◄── responses        response ──► send
//
// Inbound requests each run on their own goroutine, so responses may leave
// out of arrival order while each carries its original id. Notifications
// run on the pump goroutine to preserve receive order per method. Outbound
// sends are serialized so frames never interleave.
//
// # Lifecycle
//
// A RoleServer connection enforces the LSP state machine: before the
// initialized notification only initialize is admitted (rejections carry
// ServerNotInitialized); after shutdown completes every request is rejected
// with InvalidRequest; after exit everything is dropped and the connection
// closes. RoleClient connections track state advisorily without enforcing.
//
// # Cancellation
//
// $/cancelRequest cancels the named in-flight handler's context. A handler
// that observes the cancellation and returns ctx.Err() produces a
// RequestCancelled response; one that completes anyway has its result sent.
// Cancelling the context of an outbound Call sends $/cancelRequest to the
// peer best-effort.
//
// # Usage
//
//	conn := lsp.NewConn(lsp.Config{Role: lsp.RoleServer})
//	lsp.HandleRequest(conn, "textDocument/hover", hoverHandler)
//	err := conn.Run(ctx, transport.NewStdio())
package lsp
