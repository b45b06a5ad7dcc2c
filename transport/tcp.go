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
	"net"
	"strconv"
	"sync/atomic"
)

// Dial connects to an LSP endpoint over TCP.
//
// Description:
//
//	Resolves the host through the OS resolver and establishes a TCP
//	connection. The returned transport owns the connection and closes it
//	on Close.
//
// Inputs:
//
//	ctx - Governs the connection attempt only
//	host - Hostname or address
//	port - TCP port
//
// Outputs:
//
//	Transport - The running transport
//	error - Non-nil if resolution or connection failed
func Dial(ctx context.Context, host string, port int) (Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("dial %s:%d: %w", host, port, err)
	}
	return NewStream(conn, conn, conn), nil
}

// Listener accepts inbound LSP connections over TCP.
type Listener struct {
	ln     net.Listener
	closed atomic.Bool
}

// Listen binds a TCP listener for serving LSP over sockets.
//
// Inputs:
//
//	addr - Listen address, e.g. "127.0.0.1:8900"
//
// Outputs:
//
//	*Listener - The bound listener
//	error - Non-nil if binding failed
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks until the next client connects and wraps the connection in
// a transport. Accept unblocks with ErrListenerClosed after Close.
func (l *Listener) Accept(ctx context.Context) (Transport, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- result{conn, err}
	}()

	select {
	case <-ctx.Done():
		_ = l.Close()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			if l.closed.Load() {
				return nil, ErrListenerClosed
			}
			return nil, fmt.Errorf("accept: %w", r.err)
		}
		return NewStream(r.conn, r.conn, r.conn), nil
	}
}

// Addr returns the bound address, useful when listening on port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Close stops the listener. Idempotent.
func (l *Listener) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	return l.ln.Close()
}
