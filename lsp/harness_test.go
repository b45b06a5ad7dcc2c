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

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/lsprpc/jsonrpc"
)

// emitterServer builds a server connection driven directly through Receive
// and observed through Outgoing, with no transport.
func emitterServer(t *testing.T) *Conn {
	t.Helper()
	server := NewConn(Config{Role: RoleServer})
	t.Cleanup(func() { _ = server.Close() })

	server.OnRequest(MethodInitialize, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return map[string]any{"capabilities": map[string]any{}}, nil
	})
	server.OnRequest(MethodShutdown, func(ctx context.Context, _ json.RawMessage) (any, error) {
		return nil, nil
	})
	return server
}

// feed frames a message and hands it to Receive.
func feed(t *testing.T, c *Conn, msg jsonrpc.Message) {
	t.Helper()
	frame, err := jsonrpc.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := c.Receive(frame); err != nil {
		t.Fatalf("Receive: %v", err)
	}
}

// nextMessage decodes the next outbound frame.
func nextMessage(t *testing.T, c *Conn) jsonrpc.Message {
	t.Helper()
	select {
	case frame := <-c.Outgoing():
		dec := jsonrpc.NewDecoder()
		msgs, err := dec.Feed(frame)
		if err != nil {
			t.Fatalf("decode outgoing: %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("outgoing frame held %d messages", len(msgs))
		}
		return msgs[0]
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound frame")
		return nil
	}
}

func advanceToInitialized(t *testing.T, server *Conn) {
	t.Helper()
	feed(t, server, &jsonrpc.Request{ID: jsonrpc.NumberID(1), Method: MethodInitialize})
	resp := nextMessage(t, server).(*jsonrpc.Response)
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}
	feed(t, server, &jsonrpc.Notification{Method: MethodInitialized})
	waitForState(t, server, StateInitialized)
}

func TestConn_Harness(t *testing.T) {
	t.Run("duplicate inbound request id rejected", func(t *testing.T) {
		server := emitterServer(t)
		advanceToInitialized(t, server)

		release := make(chan struct{})
		server.OnRequest("custom/hold", func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-release
			return "held", nil
		})

		id := jsonrpc.NumberID(7)
		feed(t, server, &jsonrpc.Request{ID: id, Method: "custom/hold"})
		feed(t, server, &jsonrpc.Request{ID: id, Method: "custom/hold"})

		// The duplicate is answered first: the original is still parked.
		resp := nextMessage(t, server).(*jsonrpc.Response)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeInvalidRequest {
			t.Fatalf("duplicate response = %+v", resp)
		}
		if resp.ID != id {
			t.Errorf("duplicate response id = %s", resp.ID)
		}

		close(release)
		resp = nextMessage(t, server).(*jsonrpc.Response)
		if resp.Error != nil || string(resp.Result) != `"held"` {
			t.Fatalf("original response = %+v", resp)
		}
	})

	t.Run("malformed payload yields ParseError with null id", func(t *testing.T) {
		server := emitterServer(t)
		advanceToInitialized(t, server)

		bad := "{broken"
		if err := server.Receive([]byte("Content-Length: " + itoa(len(bad)) + "\r\n\r\n" + bad)); err != nil {
			t.Fatalf("Receive: %v", err)
		}

		resp := nextMessage(t, server).(*jsonrpc.Response)
		if resp.Error == nil || resp.Error.Code != jsonrpc.CodeParseError {
			t.Fatalf("response = %+v", resp)
		}
		if resp.ID.IsValid() {
			t.Errorf("parse error response id = %s, want null", resp.ID)
		}

		// The pump survives the parse error.
		feed(t, server, &jsonrpc.Request{ID: jsonrpc.NumberID(9), Method: MethodShutdown})
		resp = nextMessage(t, server).(*jsonrpc.Response)
		if resp.Error != nil {
			t.Fatalf("shutdown after parse error: %+v", resp.Error)
		}
	})

	t.Run("fatal framing error is surfaced", func(t *testing.T) {
		server := emitterServer(t)
		err := server.Receive([]byte("Content-Length: banana\r\n\r\n"))
		if err == nil {
			t.Fatal("expected fatal framing error")
		}
	})

	t.Run("unknown notification silently dropped", func(t *testing.T) {
		server := emitterServer(t)
		advanceToInitialized(t, server)

		feed(t, server, &jsonrpc.Notification{Method: "custom/nobody-home"})

		// Nothing must appear on the wire; prove the pump still answers.
		feed(t, server, &jsonrpc.Request{ID: jsonrpc.NumberID(2), Method: MethodShutdown})
		resp := nextMessage(t, server).(*jsonrpc.Response)
		if resp.ID != jsonrpc.NumberID(2) {
			t.Fatalf("got id %s, want 2 (a stray frame preceded it?)", resp.ID)
		}
	})

	t.Run("late response dropped", func(t *testing.T) {
		server := emitterServer(t)
		advanceToInitialized(t, server)

		// No outbound request with id 99 exists.
		feed(t, server, &jsonrpc.Response{ID: jsonrpc.NumberID(99), Result: json.RawMessage(`"stale"`)})

		feed(t, server, &jsonrpc.Request{ID: jsonrpc.NumberID(3), Method: MethodShutdown})
		resp := nextMessage(t, server).(*jsonrpc.Response)
		if resp.ID != jsonrpc.NumberID(3) {
			t.Fatalf("got id %s, want 3", resp.ID)
		}
	})

	t.Run("messages after exit dropped", func(t *testing.T) {
		server := emitterServer(t)
		advanceToInitialized(t, server)

		feed(t, server, &jsonrpc.Request{ID: jsonrpc.NumberID(4), Method: MethodShutdown})
		if resp := nextMessage(t, server).(*jsonrpc.Response); resp.Error != nil {
			t.Fatalf("shutdown: %+v", resp.Error)
		}
		feed(t, server, &jsonrpc.Notification{Method: MethodExit})
		waitForState(t, server, StateExited)

		// Receive after close: frames are ignored without replies.
		frame, _ := jsonrpc.Encode(&jsonrpc.Request{ID: jsonrpc.NumberID(5), Method: "custom/ghost"})
		_ = server.Receive(frame)

		select {
		case extra := <-server.Outgoing():
			t.Fatalf("unexpected frame after exit: %s", extra)
		case <-time.After(100 * time.Millisecond):
		}
	})
}

func TestConn_FrameAtomicity(t *testing.T) {
	// Concurrent notifies through one connection must produce a byte stream
	// that reparses into exactly the sent messages.
	server := emitterServer(t)
	advanceToInitialized(t, server)

	const senders = 8
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = server.Notify(ctx, "custom/burst", map[string]int{"n": n})
		}(i)
	}

	dec := jsonrpc.NewDecoder()
	var got int
	deadline := time.After(2 * time.Second)
	for got < senders {
		select {
		case frame := <-server.Outgoing():
			msgs, err := dec.Feed(frame)
			if err != nil {
				t.Fatalf("interleaved frames: %v", err)
			}
			got += len(msgs)
		case <-deadline:
			t.Fatalf("received %d of %d messages", got, senders)
		}
	}
	wg.Wait()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
