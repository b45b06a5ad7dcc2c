// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command notelsp is an example language server for plain-text note files.
// It demonstrates the library end to end: lifecycle, text synchronization,
// keyword completion, hover, and pushed diagnostics, over stdio or TCP.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/lsprpc/pkg/logging"
	"github.com/AleutianAI/lsprpc/protocol"
	"github.com/AleutianAI/lsprpc/server"
	"github.com/AleutianAI/lsprpc/transport"
)

var (
	flagConfig string
	flagListen string
)

var rootCmd = &cobra.Command{
	Use:   "notelsp",
	Short: "Language server for note files",
	Long: `notelsp serves note documents over the Language Server Protocol.

By default it speaks LSP over stdio, the deployment editors expect when
they spawn a server themselves. With --listen it accepts a single TCP
connection instead and exits when that connection ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "path to YAML config")
	rootCmd.Flags().StringVar(&flagListen, "listen", "", "serve over TCP on this address instead of stdio")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	config, err := loadConfig(flagConfig)
	if err != nil {
		return err
	}

	level := logging.LevelInfo
	if config.Debug {
		level = logging.LevelDebug
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		LogFile: config.LogFile,
		Service: "notelsp",
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	var srv *server.Server
	srv, err = server.New(server.Config{
		Name:    config.Name,
		Version: config.Version,
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: protocol.SyncOptions(protocol.TextDocumentSyncOptions{
				OpenClose: true,
				Change:    protocol.SyncFull,
			}),
			HoverProvider:      true,
			CompletionProvider: &protocol.CompletionOptions{TriggerCharacters: []string{"@"}},
		},
		Logger: logger.Logger,
		OnDocumentChange: func(ctx context.Context, doc server.Document) {
			publishFor(ctx, srv, doc.URI, doc.Text)
		},
	})
	if err != nil {
		return err
	}

	features := &noteFeatures{keywords: config.Keywords, srv: srv}
	features.register()

	tr, err := openTransport(ctx, logger.Logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, tr)
	})
	if config.WatchDir != "" {
		g.Go(func() error {
			return watchNotes(ctx, srv, config.WatchDir, logger.Logger)
		})
	}

	err = g.Wait()
	if code := srv.ExitCode(); code != 0 {
		logger.Warn("exiting abnormally", slog.Int("code", code))
		os.Exit(code)
	}
	return err
}

// openTransport picks stdio or TCP per flags.
func openTransport(ctx context.Context, logger *slog.Logger) (transport.Transport, error) {
	if flagListen == "" {
		logger.Info("serving over stdio")
		return transport.NewStdio(), nil
	}

	ln, err := transport.Listen(flagListen)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	logger.Info("waiting for client", slog.String("addr", ln.Addr().String()))
	return ln.Accept(ctx)
}

// watchNotes pushes diagnostics for note files modified outside the editor.
func watchNotes(ctx context.Context, srv *server.Server, dir string, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Info("watching notes", slog.String("dir", dir))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-srv.Conn().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) || !isNoteFile(event.Name) {
				continue
			}
			data, err := os.ReadFile(event.Name)
			if err != nil {
				logger.Warn("read changed note", slog.String("path", event.Name), slog.String("error", err.Error()))
				continue
			}
			uri := protocol.DocumentURI("file://" + event.Name)
			publishFor(ctx, srv, uri, string(data))
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.String("error", werr.Error()))
		}
	}
}

func isNoteFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".note" || ext == ".txt" || ext == ".md"
}
