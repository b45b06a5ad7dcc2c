// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package protocol holds the LSP data types consumed by the glue layers:
// the initialize handshake, text synchronization, diagnostics, completion,
// and hover.
//
// The connection core never depends on these shapes; it moves opaque JSON
// and the typed wrappers marshal at the boundary. The catalog is therefore
// intentionally partial — embedders with richer needs define their own
// parameter structs and pass them through the same opaque-value surface.
//
// Wire unions (boolean-or-options, the hover contents family) carry no tag
// field; their codecs discriminate on JSON shape instead. See unions.go.
package protocol
