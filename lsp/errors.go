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

import "errors"

// Sentinel errors for connection operations.
var (
	// ErrClosed indicates the connection has shut down. Outstanding
	// outbound requests complete with this error when the transport
	// terminates before their responses arrive.
	ErrClosed = errors.New("lsp connection closed")

	// ErrCancelled indicates an outbound request was abandoned because its
	// context was cancelled before the response arrived.
	ErrCancelled = errors.New("lsp request cancelled")

	// ErrNotRunning names a connection with no attached transport and no
	// emitter consumer. Conn's own methods do not return it: frames sent
	// before Run attaches a transport queue on Outgoing instead.
	ErrNotRunning = errors.New("lsp connection not running")
)
