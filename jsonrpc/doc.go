// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jsonrpc implements the JSON-RPC 2.0 message model and the LSP
// base-protocol framing.
//
// # Wire format
//
// Each message travels as one frame: an ASCII header block terminated by a
// blank line, then exactly Content-Length bytes of UTF-8 JSON:
//
//	Content-Length: 52\r\n
//	\r\n
//	{"jsonrpc":"2.0","id":1,"method":"initialize", ...}
//
// Only Content-Length is required. Other headers (Content-Type in
// particular) are accepted and ignored.
//
// # Components
//
//   - Message / Request / Notification / Response: the four-variant union
//   - ID: integer-or-string request identifier
//   - ResponseError: structured error with the standard JSON-RPC/LSP codes
//   - Encode: message to framed bytes
//   - Decoder: streaming framed bytes to messages, chunking-independent
//
// # Chunking
//
// The Decoder operates on raw bytes and defers UTF-8 validation to JSON
// parsing, so frames may be split anywhere: mid-header, mid-body, or in the
// middle of a multibyte sequence. Feeding a byte stream in any partition
// yields the same message list.
package jsonrpc
