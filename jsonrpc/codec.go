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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// headerSeparator terminates the header block of a frame.
var headerSeparator = []byte("\r\n\r\n")

// =============================================================================
// ENCODER
// =============================================================================

// Encode serializes a message and wraps it in a Content-Length frame.
//
// Description:
//
//	Marshals the message body as UTF-8 JSON and prepends the LSP base
//	protocol header. The length is the body's byte count, not its rune
//	count. No BOM is emitted.
//
// Inputs:
//
//	msg - The message to encode
//
// Outputs:
//
//	[]byte - The complete frame, ready for a single transport send
//	error - Non-nil if the message cannot be marshaled
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	return buf.Bytes(), nil
}

// =============================================================================
// STREAMING DECODER
// =============================================================================

// ProtocolError describes a framing or payload fault seen by the decoder.
//
// A recoverable fault consumed a complete, well-delimited frame whose body
// could not be used; decoding may continue with the next frame. A fatal
// fault means the frame boundary itself is lost and Reset (typically
// followed by closing the connection) is the only recovery.
type ProtocolError struct {
	msg   string
	fatal bool
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return e.msg
}

// Fatal reports whether framing is lost.
func (e *ProtocolError) Fatal() bool {
	return e.fatal
}

type decodeState int

const (
	stateHeaders decodeState = iota
	stateBody
)

// Decoder reassembles framed messages from arbitrarily chunked byte input.
//
// Description:
//
//	A stateful streaming decoder. Feed it whatever chunks the transport
//	delivers; it buffers partial frames internally and yields each message
//	exactly once, regardless of how the byte stream was split. One byte at
//	a time works; so do many concatenated frames in a single chunk.
//
// Thread Safety:
//
//	Not safe for concurrent use. A decoder belongs to the single goroutine
//	pumping its transport.
type Decoder struct {
	buf   []byte
	state decodeState
	need  int
}

// NewDecoder returns a decoder awaiting the first header block.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset clears all buffered input and returns to the await-headers state.
func (d *Decoder) Reset() {
	d.buf = nil
	d.state = stateHeaders
	d.need = 0
}

// Feed appends a chunk and returns all messages completed by it.
//
// Description:
//
//	Consumes as many complete frames as the buffer now holds. On a
//	recoverable fault the offending frame has been consumed; call Feed
//	again (an empty chunk is fine) to continue with the bytes already
//	buffered. On a fatal fault the stream position is unrecoverable and
//	the caller should Reset and close the connection.
//
// Inputs:
//
//	chunk - The next bytes from the transport; may be empty
//
// Outputs:
//
//	[]Message - Messages completed by this feed, in wire order
//	error - Nil, or a *ProtocolError describing the first fault hit
func (d *Decoder) Feed(chunk []byte) ([]Message, error) {
	d.buf = append(d.buf, chunk...)

	var msgs []Message
	for {
		switch d.state {
		case stateHeaders:
			sep := bytes.Index(d.buf, headerSeparator)
			if sep < 0 {
				return msgs, nil
			}
			length, err := parseHeaders(d.buf[:sep])
			d.buf = d.buf[sep+len(headerSeparator):]
			if err != nil {
				return msgs, err
			}
			d.state = stateBody
			d.need = length

		case stateBody:
			if len(d.buf) < d.need {
				return msgs, nil
			}
			body := d.buf[:d.need:d.need]
			d.buf = d.buf[d.need:]
			d.state = stateHeaders
			d.need = 0

			msg, err := DecodeMessage(body)
			if err != nil {
				// Frame boundary held; only the payload is bad.
				return msgs, &ProtocolError{msg: err.Error()}
			}
			msgs = append(msgs, msg)
		}
	}
}

// parseHeaders extracts the Content-Length value from a header block.
//
// Header names are matched case-insensitively; unknown headers are ignored.
// Leading zeros in the value are accepted. A missing or malformed
// Content-Length is fatal: without it the body boundary is unknowable.
// A zero length is recoverable (the empty body is skipped) since the
// boundary is still known.
func parseHeaders(block []byte) (int, error) {
	var length = -1
	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return 0, &ProtocolError{msg: fmt.Sprintf("malformed header line %q", line), fatal: true}
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		value = strings.TrimSpace(value)
		n, err := strconv.ParseUint(value, 10, 31)
		if err != nil {
			return 0, &ProtocolError{msg: fmt.Sprintf("invalid Content-Length %q", value), fatal: true}
		}
		length = int(n)
	}
	switch {
	case length < 0:
		return 0, &ProtocolError{msg: "missing Content-Length header", fatal: true}
	case length == 0:
		return 0, &ProtocolError{msg: "Content-Length is zero"}
	}
	return length, nil
}
