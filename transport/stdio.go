// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transport

import (
	"io"
	"os"
)

// NewStdio returns a transport over the process's stdin and stdout.
//
// Description:
//
//	The standard deployment for editor-spawned servers. Stdout carries
//	frames exclusively; embedders must route all logging to stderr or a
//	file, since anything else on stdout corrupts the frame stream. The
//	logging package here defaults to stderr for exactly this reason.
//
// Outputs:
//
//	Transport - The running transport. Close closes stdin, which unblocks
//	the reader; stdout is left open for the process runtime.
func NewStdio() Transport {
	return NewStream(os.Stdin, os.Stdout, stdinCloser{})
}

// stdinCloser closes stdin only. Closing stdout would race the final
// flushed frame on some platforms.
type stdinCloser struct{}

func (stdinCloser) Close() error {
	return os.Stdin.Close()
}

var _ io.Closer = stdinCloser{}
