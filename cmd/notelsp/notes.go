// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/lsprpc/protocol"
	"github.com/AleutianAI/lsprpc/server"
)

// noteFeatures implements the note-language handlers: keyword completion,
// hover, and unresolved-TODO diagnostics.
type noteFeatures struct {
	keywords []string
	srv      *server.Server
}

// register wires the feature handlers onto the server.
func (f *noteFeatures) register() {
	server.Handle(f.srv, "textDocument/completion", f.completion)
	server.Handle(f.srv, "textDocument/hover", f.hover)
}

// completion offers the configured note keywords.
func (f *noteFeatures) completion(ctx context.Context, params protocol.CompletionParams) (protocol.CompletionList, error) {
	items := make([]protocol.CompletionItem, 0, len(f.keywords))
	for _, kw := range f.keywords {
		items = append(items, protocol.CompletionItem{
			Label:      kw,
			Kind:       protocol.KindKeyword,
			Detail:     "note keyword",
			InsertText: kw + ": ",
		})
	}
	return protocol.CompletionList{IsIncomplete: false, Items: items}, nil
}

// hover summarizes the note line under the cursor.
func (f *noteFeatures) hover(ctx context.Context, params protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := f.srv.Documents().Get(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	lines := strings.Split(doc.Text, "\n")
	if params.Position.Line >= len(lines) {
		return nil, nil
	}
	line := lines[params.Position.Line]
	for _, kw := range f.keywords {
		if strings.Contains(line, kw) {
			return &protocol.Hover{
				Contents: protocol.MarkupHover("markdown",
					fmt.Sprintf("**%s** item\n\n%s", kw, strings.TrimSpace(line))),
			}, nil
		}
	}
	return nil, nil
}

// diagnose reports every unresolved TODO and FIXME line in a document.
func diagnose(text string) []protocol.Diagnostic {
	markers := []struct {
		word     string
		severity protocol.DiagnosticSeverity
	}{
		{"FIXME", protocol.SeverityError},
		{"TODO", protocol.SeverityWarning},
	}

	var diags []protocol.Diagnostic
	for i, line := range strings.Split(text, "\n") {
		for _, m := range markers {
			col := strings.Index(line, m.word)
			if col < 0 {
				continue
			}
			diags = append(diags, protocol.Diagnostic{
				Range: protocol.Range{
					Start: protocol.Position{Line: i, Character: col},
					End:   protocol.Position{Line: i, Character: col + len(m.word)},
				},
				Severity: m.severity,
				Source:   "notelsp",
				Message:  fmt.Sprintf("unresolved %s item", m.word),
			})
		}
	}
	return diags
}

// publishFor pushes fresh diagnostics for a document state.
func publishFor(ctx context.Context, srv *server.Server, uri protocol.DocumentURI, text string) {
	_ = srv.PublishDiagnostics(ctx, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnose(text),
	})
}
