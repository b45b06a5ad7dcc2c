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
	"fmt"
	"sync"

	"github.com/AleutianAI/lsprpc/protocol"
)

// Document is one open document held by the server.
type Document struct {
	URI        protocol.DocumentURI
	LanguageID string
	Version    int
	Text       string
}

// DocumentStore tracks the documents the client has opened. It is explicit
// per-server state; nothing here is global.
//
// Thread Safety:
//
//	Safe for concurrent use.
type DocumentStore struct {
	mu   sync.RWMutex
	docs map[protocol.DocumentURI]*Document
}

// NewDocumentStore returns an empty store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{docs: make(map[protocol.DocumentURI]*Document)}
}

// Open records a newly opened document, replacing any stale entry.
func (s *DocumentStore) Open(item protocol.TextDocumentItem) {
	s.mu.Lock()
	s.docs[item.URI] = &Document{
		URI:        item.URI,
		LanguageID: item.LanguageID,
		Version:    item.Version,
		Text:       item.Text,
	}
	s.mu.Unlock()
}

// Apply applies a didChange to an open document. Only full-document
// replacement is supported (the sync capability advertises SyncFull);
// a ranged change on this store is a client defect.
func (s *DocumentStore) Apply(id protocol.VersionedTextDocumentIdentifier, changes []protocol.TextDocumentContentChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id.URI]
	if !ok {
		return fmt.Errorf("change for unopened document %s", id.URI)
	}
	for _, change := range changes {
		if change.Range != nil {
			return fmt.Errorf("ranged change for %s but only full sync is advertised", id.URI)
		}
		doc.Text = change.Text
	}
	doc.Version = id.Version
	return nil
}

// Close removes a document. Closing an unopened document is a no-op.
func (s *DocumentStore) Close(uri protocol.DocumentURI) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
}

// Get returns a snapshot of one document.
func (s *DocumentStore) Get(uri protocol.DocumentURI) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[uri]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Len returns the number of open documents.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// URIs returns the open document URIs in unspecified order.
func (s *DocumentStore) URIs() []protocol.DocumentURI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]protocol.DocumentURI, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	return uris
}
