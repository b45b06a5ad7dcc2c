// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package protocol

import (
	"encoding/json"
	"fmt"
)

// LSP wire unions carry no tag field; the variant is discriminated by JSON
// shape (primitive, array, or object-with-key). The types here hold exactly
// one variant and implement that discrimination in their codecs.

// =============================================================================
// TextDocumentSync: boolean | TextDocumentSyncOptions
// =============================================================================

// TextDocumentSync is the sync capability union: a bare boolean enables or
// disables sync wholesale, an options object configures it.
type TextDocumentSync struct {
	Enabled *bool
	Options *TextDocumentSyncOptions
}

// SyncOptions returns a sync capability with the structured variant.
func SyncOptions(opts TextDocumentSyncOptions) *TextDocumentSync {
	return &TextDocumentSync{Options: &opts}
}

// MarshalJSON emits whichever variant is held.
func (s TextDocumentSync) MarshalJSON() ([]byte, error) {
	switch {
	case s.Options != nil:
		return json.Marshal(s.Options)
	case s.Enabled != nil:
		return json.Marshal(*s.Enabled)
	default:
		return []byte("false"), nil
	}
}

// UnmarshalJSON discriminates on shape: object means options, anything else
// must be a boolean.
func (s *TextDocumentSync) UnmarshalJSON(data []byte) error {
	*s = TextDocumentSync{}
	if len(data) == 0 {
		return nil
	}
	if data[0] == '{' {
		var opts TextDocumentSyncOptions
		if err := json.Unmarshal(data, &opts); err != nil {
			return err
		}
		s.Options = &opts
		return nil
	}
	var enabled bool
	if err := json.Unmarshal(data, &enabled); err != nil {
		return fmt.Errorf("textDocumentSync is neither boolean nor options: %w", err)
	}
	s.Enabled = &enabled
	return nil
}

// =============================================================================
// HoverContents: string | MarkedString | MarkedString[] | MarkupContent
// =============================================================================

// MarkedString is the deprecated fenced-code hover block.
type MarkedString struct {
	Language string `json:"language"`
	Value    string `json:"value"`
}

// HoverContents is the hover payload union. Exactly one field is set.
type HoverContents struct {
	// Plain holds the bare-string variant.
	Plain *string

	// Marked holds the single MarkedString variant.
	Marked *MarkedString

	// MarkedList holds the MarkedString[] variant.
	MarkedList []MarkedString

	// Markup holds the MarkupContent variant.
	Markup *MarkupContent
}

// PlainHover returns hover contents holding a bare string.
func PlainHover(s string) HoverContents {
	return HoverContents{Plain: &s}
}

// MarkupHover returns hover contents holding a MarkupContent block.
func MarkupHover(kind, value string) HoverContents {
	return HoverContents{Markup: &MarkupContent{Kind: kind, Value: value}}
}

// MarshalJSON emits whichever variant is held.
func (h HoverContents) MarshalJSON() ([]byte, error) {
	switch {
	case h.Plain != nil:
		return json.Marshal(*h.Plain)
	case h.Marked != nil:
		return json.Marshal(h.Marked)
	case h.MarkedList != nil:
		return json.Marshal(h.MarkedList)
	case h.Markup != nil:
		return json.Marshal(h.Markup)
	default:
		return []byte(`""`), nil
	}
}

// UnmarshalJSON discriminates on shape: a string is the plain variant, an
// array is MarkedString[], an object with a "kind" key is MarkupContent,
// any other object is a single MarkedString.
func (h *HoverContents) UnmarshalJSON(data []byte) error {
	*h = HoverContents{}
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		h.Plain = &s
		return nil
	case '[':
		return json.Unmarshal(data, &h.MarkedList)
	case '{':
		var probe struct {
			Kind *string `json:"kind"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		if probe.Kind != nil {
			h.Markup = &MarkupContent{}
			return json.Unmarshal(data, h.Markup)
		}
		h.Marked = &MarkedString{}
		return json.Unmarshal(data, h.Marked)
	default:
		return fmt.Errorf("hover contents has unrecognized shape: %s", data)
	}
}
