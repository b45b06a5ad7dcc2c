// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transport abstracts the byte streams LSP connections run over.
//
// # Variants
//
//   - NewStdio: process stdin/stdout, the editor-spawned server deployment
//   - Dial / Listen: TCP sockets
//   - Pipe: connected in-memory pair for tests and loopback fixtures
//   - DialWebSocket / NewWebSocket: LSP over a websocket
//
// # Contract
//
// Incoming is a lazy, single-consumer chunk sequence that terminates on EOF
// or error. Send has write-all semantics and serializes concurrent callers,
// so a frame handed to one Send call is never interleaved with another.
// Close is idempotent and unblocks the Incoming consumer. EOF is normal
// termination, not an error; Err distinguishes faults from clean shutdown.
package transport
