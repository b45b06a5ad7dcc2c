// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/lsprpc/lsp"
	"github.com/AleutianAI/lsprpc/protocol"
	"github.com/AleutianAI/lsprpc/transport"
)

// =============================================================================
// CONFIG
// =============================================================================

// Config configures a language server.
type Config struct {
	// Name and Version identify the server in the initialize response.
	Name    string
	Version string

	// Capabilities is advertised verbatim in the initialize response.
	// The zero value advertises full-text document sync with open/close
	// notifications.
	Capabilities protocol.ServerCapabilities

	// PermissiveInitialization admits requests arriving between the
	// initialize response and the initialized notification.
	PermissiveInitialization bool

	// Logger defaults to slog.Default(). On stdio deployments it must not
	// write to stdout.
	Logger *slog.Logger

	// OnInitialized, if set, runs when the client confirms initialization.
	OnInitialized func(ctx context.Context)

	// OnDocumentChange, if set, runs after didOpen and didChange have
	// updated the document store, with the document's new state. Feature
	// embedders use it to recompute diagnostics.
	OnDocumentChange func(ctx context.Context, doc Document)
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "lsprpc"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Capabilities == (protocol.ServerCapabilities{}) {
		c.Capabilities = protocol.ServerCapabilities{
			TextDocumentSync: protocol.SyncOptions(protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.SyncFull,
			}),
		}
	}
}

// Validate rejects unusable configurations.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("server name must not be empty")
	}
	return nil
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the server-side builder glue over a connection: it wires the
// lifecycle handlers, keeps the open-document store, and exposes typed
// handler registration.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Server struct {
	config Config
	logger *slog.Logger
	conn   *lsp.Conn
	docs   *DocumentStore
}

// New creates a server and registers its lifecycle and text-sync handlers.
//
// Description:
//
//	The initialize handler answers with the configured capabilities and
//	server info; shutdown answers null; didOpen/didChange/didClose keep
//	the document store current. Feature handlers are registered afterwards
//	with Handle / HandleNotification / OnRequest.
//
// Inputs:
//
//	config - Server configuration. Zero values use defaults.
//
// Outputs:
//
//	*Server - The configured server, not yet attached to a transport
//	error - Non-nil if the configuration is invalid
func New(config Config) (*Server, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		config: config,
		logger: config.Logger.With(slog.String("component", "lsp_server"), slog.String("server", config.Name)),
		conn: lsp.NewConn(lsp.Config{
			Role:                     lsp.RoleServer,
			PermissiveInitialization: config.PermissiveInitialization,
			Logger:                   config.Logger,
		}),
		docs: NewDocumentStore(),
	}
	s.registerLifecycle()
	s.registerTextSync()
	return s, nil
}

func (s *Server) registerLifecycle() {
	lsp.HandleRequest(s.conn, lsp.MethodInitialize,
		func(ctx context.Context, params protocol.InitializeParams) (protocol.InitializeResult, error) {
			s.logger.Info("initialize",
				slog.Int("process_id", params.ProcessID),
				slog.String("root_uri", string(params.RootURI)),
			)
			return protocol.InitializeResult{
				Capabilities: s.config.Capabilities,
				ServerInfo:   &protocol.ServerInfo{Name: s.config.Name, Version: s.config.Version},
			}, nil
		})

	s.conn.OnNotification(lsp.MethodInitialized, func(ctx context.Context, _ json.RawMessage) error {
		if s.config.OnInitialized != nil {
			s.config.OnInitialized(ctx)
		}
		return nil
	})

	s.conn.OnRequest(lsp.MethodShutdown, func(ctx context.Context, _ json.RawMessage) (any, error) {
		s.logger.Info("shutdown requested")
		return nil, nil
	})
}

func (s *Server) registerTextSync() {
	lsp.HandleNotification(s.conn, "textDocument/didOpen",
		func(ctx context.Context, params protocol.DidOpenTextDocumentParams) error {
			s.docs.Open(params.TextDocument)
			s.documentChanged(ctx, params.TextDocument.URI)
			return nil
		})

	lsp.HandleNotification(s.conn, "textDocument/didChange",
		func(ctx context.Context, params protocol.DidChangeTextDocumentParams) error {
			if err := s.docs.Apply(params.TextDocument, params.ContentChanges); err != nil {
				return err
			}
			s.documentChanged(ctx, params.TextDocument.URI)
			return nil
		})

	lsp.HandleNotification(s.conn, "textDocument/didClose",
		func(ctx context.Context, params protocol.DidCloseTextDocumentParams) error {
			s.docs.Close(params.TextDocument.URI)
			return nil
		})
}

func (s *Server) documentChanged(ctx context.Context, uri protocol.DocumentURI) {
	if s.config.OnDocumentChange == nil {
		return
	}
	if doc, ok := s.docs.Get(uri); ok {
		s.config.OnDocumentChange(ctx, doc)
	}
}

// Conn exposes the underlying connection.
func (s *Server) Conn() *lsp.Conn {
	return s.conn
}

// Documents exposes the open-document store.
func (s *Server) Documents() *DocumentStore {
	return s.docs
}

// OnRequest registers a raw request handler.
func (s *Server) OnRequest(method string, handler lsp.Handler) {
	s.conn.OnRequest(method, handler)
}

// OnNotification registers a raw notification handler.
func (s *Server) OnNotification(method string, handler lsp.NotificationHandler) {
	s.conn.OnNotification(method, handler)
}

// PublishDiagnostics pushes diagnostics to the client.
func (s *Server) PublishDiagnostics(ctx context.Context, params protocol.PublishDiagnosticsParams) error {
	return s.conn.Notify(ctx, "textDocument/publishDiagnostics", params)
}

// Run serves the connection over the given transport until it terminates.
func (s *Server) Run(ctx context.Context, tr transport.Transport) error {
	return s.conn.Run(ctx, tr)
}

// RunStdio serves over stdin/stdout, the editor-spawned deployment.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.Run(ctx, transport.NewStdio())
}

// ExitCode implements the LSP exit discipline: 0 when shutdown preceded
// exit, 1 otherwise. Meaningful after Run returns.
func (s *Server) ExitCode() int {
	if s.conn.ShutdownRequested() {
		return 0
	}
	return 1
}

// =============================================================================
// TYPED REGISTRATION
// =============================================================================

// Handle registers a typed request handler on the server.
func Handle[P, R any](s *Server, method string, fn func(ctx context.Context, params P) (R, error)) {
	lsp.HandleRequest(s.conn, method, fn)
}

// HandleNotification registers a typed notification handler on the server.
func HandleNotification[P any](s *Server, method string, fn func(ctx context.Context, params P) error) {
	lsp.HandleNotification(s.conn, method, fn)
}
