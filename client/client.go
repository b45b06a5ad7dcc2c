// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package client is the client-side glue over a connection: the initialize
// handshake, lifecycle helpers, and typed feature calls. Editor
// integrations register notification handlers (diagnostics in particular)
// and drive requests through Call.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/AleutianAI/lsprpc/lsp"
	"github.com/AleutianAI/lsprpc/protocol"
	"github.com/AleutianAI/lsprpc/transport"
)

// Config configures a client endpoint.
type Config struct {
	// Name identifies the client in logs. Version is neither logged nor
	// sent to the server.
	Name    string
	Version string

	// Capabilities is sent in the initialize request.
	Capabilities protocol.ClientCapabilities

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "lsprpc-client"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Client wraps a client-role connection.
//
// Thread Safety:
//
//	Safe for concurrent use once Run has been started.
type Client struct {
	config Config
	logger *slog.Logger
	conn   *lsp.Conn
}

// New creates a client endpoint, not yet attached to a transport.
func New(config Config) *Client {
	config.ApplyDefaults()
	return &Client{
		config: config,
		logger: config.Logger.With(slog.String("component", "lsp_client"), slog.String("client", config.Name)),
		conn:   lsp.NewConn(lsp.Config{Role: lsp.RoleClient, Logger: config.Logger}),
	}
}

// Conn exposes the underlying connection.
func (c *Client) Conn() *lsp.Conn {
	return c.conn
}

// Run pumps the transport; call it in a goroutine before Initialize.
func (c *Client) Run(ctx context.Context, tr transport.Transport) error {
	return c.conn.Run(ctx, tr)
}

// Close shuts the connection down without the shutdown/exit exchange.
func (c *Client) Close() error {
	return c.conn.Close()
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Initialize performs the initialize handshake.
//
// Description:
//
//	Sends the initialize request with this client's capabilities and, on
//	success, the initialized notification. The server's reported
//	capabilities are returned for feature gating.
//
// Inputs:
//
//	ctx - Context for cancellation and timeout
//	rootURI - Workspace root, e.g. "file:///work/project"
//
// Outputs:
//
//	*protocol.InitializeResult - The server's capabilities and info
//	error - Non-nil if the handshake failed
func (c *Client) Initialize(ctx context.Context, rootURI protocol.DocumentURI) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProcessID:    os.Getpid(),
		RootURI:      rootURI,
		Capabilities: c.config.Capabilities,
	}
	result, err := lsp.Call[protocol.InitializeParams, protocol.InitializeResult](
		ctx, c.conn, lsp.MethodInitialize, params)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	if err := c.conn.Notify(ctx, lsp.MethodInitialized, struct{}{}); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	if result.ServerInfo != nil {
		c.logger.Info("initialized against server",
			slog.String("server", result.ServerInfo.Name),
			slog.String("version", result.ServerInfo.Version),
		)
	}
	return &result, nil
}

// Shutdown requests an orderly server shutdown.
func (c *Client) Shutdown(ctx context.Context) error {
	if _, err := c.conn.Call(ctx, lsp.MethodShutdown, nil); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Exit sends the exit notification. The server closes its end afterwards.
func (c *Client) Exit(ctx context.Context) error {
	return c.conn.Notify(ctx, lsp.MethodExit, nil)
}

// =============================================================================
// TEXT SYNCHRONIZATION
// =============================================================================

// DidOpen announces an opened document.
func (c *Client) DidOpen(ctx context.Context, item protocol.TextDocumentItem) error {
	return c.conn.Notify(ctx, "textDocument/didOpen", protocol.DidOpenTextDocumentParams{TextDocument: item})
}

// DidChange announces a full-text document change.
func (c *Client) DidChange(ctx context.Context, uri protocol.DocumentURI, version int, text string) error {
	return c.conn.Notify(ctx, "textDocument/didChange", protocol.DidChangeTextDocumentParams{
		TextDocument:   protocol.VersionedTextDocumentIdentifier{URI: uri, Version: version},
		ContentChanges: []protocol.TextDocumentContentChangeEvent{{Text: text}},
	})
}

// DidClose announces a closed document.
func (c *Client) DidClose(ctx context.Context, uri protocol.DocumentURI) error {
	return c.conn.Notify(ctx, "textDocument/didClose", protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	})
}

// =============================================================================
// FEATURES
// =============================================================================

// Completion requests completions at a position.
func (c *Client) Completion(ctx context.Context, uri protocol.DocumentURI, pos protocol.Position) (protocol.CompletionList, error) {
	return lsp.Call[protocol.CompletionParams, protocol.CompletionList](
		ctx, c.conn, "textDocument/completion", protocol.CompletionParams{
			TextDocumentPositionParams: protocol.TextDocumentPositionParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: uri},
				Position:     pos,
			},
		})
}

// Hover requests hover information at a position.
func (c *Client) Hover(ctx context.Context, uri protocol.DocumentURI, pos protocol.Position) (*protocol.Hover, error) {
	return lsp.Call[protocol.HoverParams, *protocol.Hover](
		ctx, c.conn, "textDocument/hover", protocol.HoverParams{
			TextDocumentPositionParams: protocol.TextDocumentPositionParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: uri},
				Position:     pos,
			},
		})
}

// OnPublishDiagnostics registers the diagnostics handler.
func (c *Client) OnPublishDiagnostics(fn func(ctx context.Context, params protocol.PublishDiagnosticsParams)) {
	lsp.HandleNotification(c.conn, "textDocument/publishDiagnostics",
		func(ctx context.Context, params protocol.PublishDiagnosticsParams) error {
			fn(ctx, params)
			return nil
		})
}
