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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/lsprpc/jsonrpc"
	"github.com/AleutianAI/lsprpc/transport"
)

// pipePair wires a client and a server connection over an in-memory
// transport pair and runs both pumps.
func pipePair(t *testing.T) (*Conn, *Conn) {
	t.Helper()

	ta, tb := transport.Pipe()
	client := NewConn(Config{Role: RoleClient})
	server := NewConn(Config{Role: RoleServer})

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = client.Run(ctx, ta) }()
	go func() { _ = server.Run(ctx, tb) }()

	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

// initializeServer registers the minimal lifecycle handlers a real server
// would carry.
func initializeServer(t *testing.T, server *Conn) {
	t.Helper()
	server.OnRequest(MethodInitialize, func(ctx context.Context, params json.RawMessage) (any, error) {
		return map[string]any{
			"capabilities": map[string]any{
				"textDocumentSync": map[string]any{"openClose": true, "change": 1},
				"hoverProvider":    true,
			},
			"serverInfo": map[string]any{"name": "TestServer", "version": "1.0.0"},
		}, nil
	})
	server.OnRequest(MethodShutdown, func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, nil
	})
}

// handshake drives initialize + initialized from the client side.
func handshake(t *testing.T, client, server *Conn) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := client.Call(ctx, MethodInitialize, map[string]any{
		"processId":    1234,
		"rootUri":      "file:///test",
		"capabilities": map[string]any{},
	})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !strings.Contains(string(result), `"name":"TestServer"`) {
		t.Fatalf("initialize result = %s", result)
	}
	if err := client.Notify(ctx, MethodInitialized, struct{}{}); err != nil {
		t.Fatalf("initialized: %v", err)
	}
	waitForState(t, server, StateInitialized)
}

func waitForState(t *testing.T, c *Conn, want ConnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", c.State(), want)
}

func TestConn_InitializeHandshake(t *testing.T) {
	client, server := pipePair(t)
	initializeServer(t, server)

	if server.State() != StateUninitialized {
		t.Fatalf("initial state = %s", server.State())
	}
	handshake(t, client, server)
}

func TestConn_LifecycleGate(t *testing.T) {
	t.Run("request before initialize rejected", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		server.OnRequest("textDocument/hover", func(ctx context.Context, _ json.RawMessage) (any, error) {
			return nil, nil
		})

		ctx := context.Background()
		_, err := client.Call(ctx, "textDocument/hover", nil)
		var respErr *jsonrpc.ResponseError
		if !errors.As(err, &respErr) || respErr.Code != jsonrpc.CodeServerNotInitialized {
			t.Fatalf("got %v, want ServerNotInitialized", err)
		}
	})

	t.Run("duplicate initialize rejected", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)

		ctx := context.Background()
		if _, err := client.Call(ctx, MethodInitialize, map[string]any{}); err != nil {
			t.Fatalf("first initialize: %v", err)
		}
		_, err := client.Call(ctx, MethodInitialize, map[string]any{})
		var respErr *jsonrpc.ResponseError
		if !errors.As(err, &respErr) || respErr.Code != jsonrpc.CodeInvalidRequest {
			t.Fatalf("got %v, want InvalidRequest", err)
		}
	})

	t.Run("shutdown then request then exit", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		ctx := context.Background()
		result, err := client.Call(ctx, MethodShutdown, nil)
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
		if string(result) != "null" {
			t.Errorf("shutdown result = %s, want null", result)
		}
		waitForState(t, server, StateShuttingDown)

		_, err = client.Call(ctx, "textDocument/completion", map[string]any{})
		var respErr *jsonrpc.ResponseError
		if !errors.As(err, &respErr) || respErr.Code != jsonrpc.CodeInvalidRequest {
			t.Fatalf("got %v, want InvalidRequest while shutting down", err)
		}
		if !strings.Contains(respErr.Message, "shutting down") {
			t.Errorf("message = %q", respErr.Message)
		}

		if err := client.Notify(ctx, MethodExit, nil); err != nil {
			t.Fatalf("exit: %v", err)
		}
		waitForState(t, server, StateExited)

		select {
		case <-server.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("server connection still open after exit")
		}
		if !server.ShutdownRequested() {
			t.Error("shutdown-before-exit not recorded")
		}
	})

	t.Run("permissive mode admits requests after initialize response", func(t *testing.T) {
		ta, tb := transport.Pipe()
		client := NewConn(Config{Role: RoleClient})
		server := NewConn(Config{Role: RoleServer, PermissiveInitialization: true})
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() { _ = client.Run(ctx, ta) }()
		go func() { _ = server.Run(ctx, tb) }()
		t.Cleanup(func() { client.Close(); server.Close() })

		initializeServer(t, server)
		server.OnRequest("textDocument/hover", func(ctx context.Context, _ json.RawMessage) (any, error) {
			return "early", nil
		})

		if _, err := client.Call(ctx, MethodInitialize, map[string]any{}); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		// No initialized notification yet.
		result, err := client.Call(ctx, "textDocument/hover", nil)
		if err != nil {
			t.Fatalf("hover in window: %v", err)
		}
		if string(result) != `"early"` {
			t.Errorf("result = %s", result)
		}
	})
}

func TestConn_Dispatch(t *testing.T) {
	t.Run("unknown method", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		_, err := client.Call(context.Background(), "textDocument/unknownMethod", nil)
		var respErr *jsonrpc.ResponseError
		if !errors.As(err, &respErr) || respErr.Code != jsonrpc.CodeMethodNotFound {
			t.Fatalf("got %v, want MethodNotFound", err)
		}
	})

	t.Run("handler lsp error propagates verbatim", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		server.OnRequest("custom/fail", func(ctx context.Context, _ json.RawMessage) (any, error) {
			return nil, &jsonrpc.ResponseError{
				Code:    jsonrpc.CodeInvalidParams,
				Message: "missing uri",
				Data:    json.RawMessage(`{"hint":"add textDocument"}`),
			}
		})

		_, err := client.Call(context.Background(), "custom/fail", nil)
		var respErr *jsonrpc.ResponseError
		if !errors.As(err, &respErr) {
			t.Fatalf("got %v", err)
		}
		if respErr.Code != jsonrpc.CodeInvalidParams || respErr.Message != "missing uri" {
			t.Errorf("error = %+v", respErr)
		}
		if !strings.Contains(string(respErr.Data), "add textDocument") {
			t.Errorf("data = %s", respErr.Data)
		}
	})

	t.Run("handler panic becomes internal error", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		server.OnRequest("custom/panic", func(ctx context.Context, _ json.RawMessage) (any, error) {
			panic("boom")
		})

		_, err := client.Call(context.Background(), "custom/panic", nil)
		var respErr *jsonrpc.ResponseError
		if !errors.As(err, &respErr) || respErr.Code != jsonrpc.CodeInternalError {
			t.Fatalf("got %v, want InternalError", err)
		}
	})

	t.Run("responses leave out of arrival order with correct ids", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		release := make(chan struct{})
		server.OnRequest("custom/slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-release
			return "slow", nil
		})
		server.OnRequest("custom/fast", func(ctx context.Context, _ json.RawMessage) (any, error) {
			return "fast", nil
		})

		ctx := context.Background()
		slowDone := make(chan string, 1)
		go func() {
			result, err := client.Call(ctx, "custom/slow", nil)
			if err != nil {
				slowDone <- err.Error()
				return
			}
			slowDone <- string(result)
		}()

		// The fast request completes while the slow one is in flight.
		result, err := client.Call(ctx, "custom/fast", nil)
		if err != nil {
			t.Fatalf("fast: %v", err)
		}
		if string(result) != `"fast"` {
			t.Errorf("fast result = %s", result)
		}

		close(release)
		if got := <-slowDone; got != `"slow"` {
			t.Errorf("slow result = %s", got)
		}
	})

	t.Run("notifications for one method keep receive order", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		var mu sync.Mutex
		var got []int
		server.OnNotification("custom/seq", func(ctx context.Context, params json.RawMessage) error {
			var p struct {
				N int `json:"n"`
			}
			if err := json.Unmarshal(params, &p); err != nil {
				return err
			}
			mu.Lock()
			got = append(got, p.N)
			mu.Unlock()
			return nil
		})

		ctx := context.Background()
		const count = 20
		for i := 0; i < count; i++ {
			if err := client.Notify(ctx, "custom/seq", map[string]int{"n": i}); err != nil {
				t.Fatalf("notify %d: %v", i, err)
			}
		}

		deadline := time.Now().Add(2 * time.Second)
		for {
			mu.Lock()
			n := len(got)
			mu.Unlock()
			if n == count {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("received %d notifications, want %d", n, count)
			}
			time.Sleep(5 * time.Millisecond)
		}

		mu.Lock()
		defer mu.Unlock()
		for i, n := range got {
			if n != i {
				t.Fatalf("order broken at %d: %v", i, got)
			}
		}
	})

	t.Run("notification handler error is swallowed", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		server.OnNotification("custom/bad", func(ctx context.Context, _ json.RawMessage) error {
			return errors.New("handler exploded")
		})
		server.OnRequest("custom/ping", func(ctx context.Context, _ json.RawMessage) (any, error) {
			return "pong", nil
		})

		ctx := context.Background()
		if err := client.Notify(ctx, "custom/bad", nil); err != nil {
			t.Fatalf("notify: %v", err)
		}
		// The connection keeps serving.
		result, err := client.Call(ctx, "custom/ping", nil)
		if err != nil {
			t.Fatalf("ping after bad notification: %v", err)
		}
		if string(result) != `"pong"` {
			t.Errorf("result = %s", result)
		}
	})
}

func TestConn_Cancellation(t *testing.T) {
	t.Run("cancelled caller context cancels server handler", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		observed := make(chan struct{})
		server.OnRequest("custom/hang", func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			close(observed)
			return nil, ctx.Err()
		})

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			_, err := client.Call(ctx, "custom/hang", nil)
			errCh <- err
		}()

		time.Sleep(50 * time.Millisecond) // let the request reach the handler
		cancel()

		if err := <-errCh; !errors.Is(err, ErrCancelled) {
			t.Fatalf("caller got %v, want ErrCancelled", err)
		}
		select {
		case <-observed:
		case <-time.After(2 * time.Second):
			t.Fatal("server handler never observed cancellation")
		}
	})

	t.Run("handler completing before cancellation sends its result", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		server.OnRequest("custom/quick", func(ctx context.Context, _ json.RawMessage) (any, error) {
			return 42, nil
		})

		result, err := client.Call(context.Background(), "custom/quick", nil)
		if err != nil {
			t.Fatalf("quick: %v", err)
		}
		if string(result) != "42" {
			t.Errorf("result = %s", result)
		}
	})
}

func TestConn_Close(t *testing.T) {
	t.Run("pending requests fail on close", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		server.OnRequest("custom/never", func(ctx context.Context, _ json.RawMessage) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

		errCh := make(chan error, 1)
		go func() {
			_, err := client.Call(context.Background(), "custom/never", nil)
			errCh <- err
		}()

		time.Sleep(50 * time.Millisecond)
		_ = client.Close()

		select {
		case err := <-errCh:
			if !errors.Is(err, ErrClosed) {
				t.Fatalf("got %v, want ErrClosed", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("pending request never failed")
		}
	})

	t.Run("peer transport close terminates the connection", func(t *testing.T) {
		client, server := pipePair(t)
		initializeServer(t, server)
		handshake(t, client, server)

		_ = server.Close()

		select {
		case <-client.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("client never observed peer close")
		}
		if client.State() != StateExited {
			t.Errorf("state = %s, want exited", client.State())
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		client, _ := pipePair(t)
		if err := client.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		if err := client.Close(); err != nil {
			t.Fatalf("second Close: %v", err)
		}
	})

	t.Run("call after close fails fast", func(t *testing.T) {
		client, _ := pipePair(t)
		_ = client.Close()
		if _, err := client.Call(context.Background(), "x", nil); !errors.Is(err, ErrClosed) {
			t.Fatalf("got %v, want ErrClosed", err)
		}
	})
}

func TestConn_TypedHelpers(t *testing.T) {
	client, server := pipePair(t)
	initializeServer(t, server)
	handshake(t, client, server)

	type echoParams struct {
		Text string `json:"text"`
	}
	type echoResult struct {
		Echoed string `json:"echoed"`
	}

	HandleRequest(server, "custom/echo", func(ctx context.Context, p echoParams) (echoResult, error) {
		return echoResult{Echoed: p.Text}, nil
	})

	result, err := Call[echoParams, echoResult](context.Background(), client, "custom/echo", echoParams{Text: "hi"})
	if err != nil {
		t.Fatalf("typed call: %v", err)
	}
	if result.Echoed != "hi" {
		t.Errorf("echoed = %q", result.Echoed)
	}

	t.Run("invalid params produce InvalidParams", func(t *testing.T) {
		_, err := client.Call(context.Background(), "custom/echo", json.RawMessage(`{"text":123}`))
		var respErr *jsonrpc.ResponseError
		if !errors.As(err, &respErr) || respErr.Code != jsonrpc.CodeInvalidParams {
			t.Fatalf("got %v, want InvalidParams", err)
		}
	})
}
