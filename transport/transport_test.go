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
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect drains one chunk from the transport or fails the test.
func collect(t *testing.T, tr Transport) []byte {
	t.Helper()
	select {
	case chunk, ok := <-tr.Incoming():
		require.True(t, ok, "incoming closed early")
		return chunk
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for chunk")
		return nil
	}
}

func TestPipe(t *testing.T) {
	t.Run("loopback round trip", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()
		defer b.Close()

		go func() {
			_ = a.Send(context.Background(), []byte("hello"))
		}()

		chunk := collect(t, b)
		assert.Equal(t, "hello", string(chunk))
	})

	t.Run("close unblocks peer consumer", func(t *testing.T) {
		a, b := Pipe()
		require.NoError(t, a.Close())

		select {
		case _, ok := <-b.Incoming():
			assert.False(t, ok, "expected closed channel")
		case <-time.After(2 * time.Second):
			t.Fatal("peer consumer still blocked after close")
		}
		assert.False(t, b.Connected())
		assert.NoError(t, b.Err(), "peer close is termination, not a fault")
	})

	t.Run("close is idempotent", func(t *testing.T) {
		a, _ := Pipe()
		require.NoError(t, a.Close())
		require.NoError(t, a.Close())
		assert.False(t, a.Connected())
	})

	t.Run("send after close fails", func(t *testing.T) {
		a, _ := Pipe()
		require.NoError(t, a.Close())
		err := a.Send(context.Background(), []byte("x"))
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("concurrent sends do not interleave", func(t *testing.T) {
		a, b := Pipe()
		defer a.Close()
		defer b.Close()

		const workers = 8
		payload := strings.Repeat("x", 1024)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, a.Send(context.Background(), []byte(payload+"\n")))
			}()
		}

		var stream []byte
		for len(stream) < workers*(len(payload)+1) {
			stream = append(stream, collect(t, b)...)
		}
		wg.Wait()
		assert.Equal(t, workers*(len(payload)+1), len(stream))
		// Interleaved writes would split a payload across lines.
		for _, line := range strings.Split(strings.TrimSuffix(string(stream), "\n"), "\n") {
			assert.Equal(t, payload, line)
		}
	})
}

func TestTCP(t *testing.T) {
	t.Run("dial and serve", func(t *testing.T) {
		ln, err := Listen("127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		type accepted struct {
			tr  Transport
			err error
		}
		acceptCh := make(chan accepted, 1)
		go func() {
			tr, err := ln.Accept(ctx)
			acceptCh <- accepted{tr, err}
		}()

		host, port := splitHostPort(t, ln.Addr().String())
		client, err := Dial(ctx, host, port)
		require.NoError(t, err)
		defer client.Close()

		srv := <-acceptCh
		require.NoError(t, srv.err)
		defer srv.tr.Close()

		require.NoError(t, client.Send(ctx, []byte("ping")))
		assert.Equal(t, "ping", string(collect(t, srv.tr)))

		require.NoError(t, srv.tr.Send(ctx, []byte("pong")))
		assert.Equal(t, "pong", string(collect(t, client)))
	})

	t.Run("accept after close returns sentinel", func(t *testing.T) {
		ln, err := Listen("127.0.0.1:0")
		require.NoError(t, err)
		require.NoError(t, ln.Close())

		_, err = ln.Accept(context.Background())
		assert.ErrorIs(t, err, ErrListenerClosed)
	})

	t.Run("dial failure", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := Dial(ctx, "127.0.0.1", 1) // nothing listens on port 1
		assert.Error(t, err)
	})
}

func TestWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{}

	t.Run("round trip through upgrade handler", func(t *testing.T) {
		serverSide := make(chan Transport, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			serverSide <- NewWebSocket(conn)
		}))
		defer srv.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		url := "ws" + strings.TrimPrefix(srv.URL, "http")
		client, err := DialWebSocket(ctx, url)
		require.NoError(t, err)
		defer client.Close()

		peer := <-serverSide
		defer peer.Close()

		require.NoError(t, client.Send(ctx, []byte("over websocket")))
		assert.Equal(t, "over websocket", string(collect(t, peer)))
	})

	t.Run("close terminates peer incoming", func(t *testing.T) {
		serverSide := make(chan Transport, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			serverSide <- NewWebSocket(conn)
		}))
		defer srv.Close()

		ctx := context.Background()
		client, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
		require.NoError(t, err)

		peer := <-serverSide
		require.NoError(t, client.Close())

		select {
		case _, ok := <-peer.Incoming():
			assert.False(t, ok)
		case <-time.After(2 * time.Second):
			t.Fatal("peer incoming still open")
		}
		assert.NoError(t, peer.Err(), "normal close is not a fault")
	})
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}
