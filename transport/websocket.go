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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeDeadline bounds the best-effort close handshake.
func closeDeadline() time.Time {
	return time.Now().Add(time.Second)
}

// WebSocket wraps a websocket connection as a Transport. Each websocket
// message carries one chunk of the frame stream; the codec layer reassembles
// frames, so message boundaries need not align with frame boundaries.
type WebSocket struct {
	conn *websocket.Conn

	incoming chan []byte
	closedCh chan struct{}
	writeMu  sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// DialWebSocket connects to an LSP endpoint served over a websocket.
//
// Inputs:
//
//	ctx - Governs the handshake only
//	url - Endpoint URL, e.g. "ws://localhost:8900/lsp"
//
// Outputs:
//
//	Transport - The running transport
//	error - Non-nil if the handshake failed
func DialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", url, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established websocket connection, typically one
// accepted by an HTTP upgrade handler on the serving side.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	w := &WebSocket{
		conn:     conn,
		incoming: make(chan []byte),
		closedCh: make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *WebSocket) readLoop() {
	defer close(w.incoming)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if !w.closed.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.setErr(fmt.Errorf("websocket read: %w", err))
			}
			w.closed.Store(true)
			return
		}
		if len(data) > 0 {
			select {
			case w.incoming <- data:
			case <-w.closedCh:
				return
			}
		}
	}
}

// Incoming implements Transport.
func (w *WebSocket) Incoming() <-chan []byte {
	return w.incoming
}

// Send implements Transport.
func (w *WebSocket) Send(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.closed.Load() {
		return ErrClosed
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		w.setErr(fmt.Errorf("websocket write: %w", err))
		_ = w.Close()
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close implements Transport.
func (w *WebSocket) Close() error {
	w.closed.Store(true)
	var err error
	w.closeOnce.Do(func() {
		close(w.closedCh)
		w.writeMu.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), closeDeadline())
		w.writeMu.Unlock()
		err = w.conn.Close()
	})
	return err
}

// Connected implements Transport.
func (w *WebSocket) Connected() bool {
	return !w.closed.Load()
}

// Err implements Transport.
func (w *WebSocket) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *WebSocket) setErr(err error) {
	w.errMu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.errMu.Unlock()
}
