// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package vcon defines the vCon document: the JSON record that the
// pipeline routes, caches, and persists. The core only interprets UUID,
// creation timestamp, parties, and tags; everything else is preserved as
// opaque JSON so stages remain free to evolve the schema underneath us.
package vcon

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Party is one participant in the conversation. Unknown fields (role,
// validation, etc.) round-trip through Extra without the core needing to
// understand them.
type Party struct {
	Tel    string                     `json:"tel,omitempty"`
	Mailto string                     `json:"mailto,omitempty"`
	Name   string                     `json:"name,omitempty"`
	Extra  map[string]json.RawMessage `json:"-"`
}

// MarshalJSON flattens Extra alongside the known fields so round-tripped
// documents don't lose vendor-specific party metadata.
func (p Party) MarshalJSON() ([]byte, error) {
	m := map[string]json.RawMessage{}
	for k, v := range p.Extra {
		m[k] = v
	}
	setIfNonEmpty := func(key, val string) {
		if val == "" {
			return
		}
		b, _ := json.Marshal(val)
		m[key] = b
	}
	setIfNonEmpty("tel", p.Tel)
	setIfNonEmpty("mailto", p.Mailto)
	setIfNonEmpty("name", p.Name)
	return json.Marshal(m)
}

// UnmarshalJSON extracts the known fields and preserves the rest in Extra.
func (p *Party) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	extract := func(key string) string {
		raw, ok := m[key]
		if !ok {
			return ""
		}
		var s string
		_ = json.Unmarshal(raw, &s)
		delete(m, key)
		return s
	}
	p.Tel = extract("tel")
	p.Mailto = extract("mailto")
	p.Name = extract("name")
	p.Extra = m
	return nil
}

// Attachment is an ordered, typed blob appended by stages. The tags
// attachment (Type == TagsAttachmentType) carries routing metadata as
// "name:value" strings in Body.
type Attachment struct {
	Type     string          `json:"type"`
	Body     json.RawMessage `json:"body,omitempty"`
	Encoding string          `json:"encoding,omitempty"`
}

// TagsAttachmentType is the distinguished attachment type used for tags.
const TagsAttachmentType = "tags"

// Document is the vCon itself. Dialog and Analysis stay as raw JSON slices:
// the core never reads into them beyond counting/appending.
type Document struct {
	UUID        string            `json:"uuid"`
	Version     string            `json:"vcon"`
	CreatedAt   time.Time         `json:"created_at"`
	Parties     []Party           `json:"parties,omitempty"`
	Dialog      []json.RawMessage `json:"dialog,omitempty"`
	Analysis    []json.RawMessage `json:"analysis,omitempty"`
	Attachments []Attachment      `json:"attachments,omitempty"`
}

// Clone returns a deep-enough copy for safe concurrent mutation by a single
// stage invocation. Slices are re-sliced into fresh backing arrays.
func (d *Document) Clone() *Document {
	out := *d
	out.Parties = append([]Party(nil), d.Parties...)
	out.Dialog = append([]json.RawMessage(nil), d.Dialog...)
	out.Analysis = append([]json.RawMessage(nil), d.Analysis...)
	out.Attachments = append([]Attachment(nil), d.Attachments...)
	return &out
}

// Marshal serializes the document for storage in the cache or a backend.
func Marshal(d *Document) ([]byte, error) { return json.Marshal(d) }

// Unmarshal parses a cached or stored document.
func Unmarshal(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("vcon: unmarshal: %w", err)
	}
	return &d, nil
}

// Tags returns the name->value pairs carried in the tags attachment, or an
// empty map if none exists yet.
func Tags(d *Document) map[string]string {
	out := map[string]string{}
	for _, a := range d.Attachments {
		if a.Type != TagsAttachmentType {
			continue
		}
		var entries []string
		if err := json.Unmarshal(a.Body, &entries); err != nil {
			continue
		}
		for _, e := range entries {
			k, v, ok := strings.Cut(e, ":")
			if !ok {
				continue
			}
			out[k] = v
		}
	}
	return out
}

// SetTag appends (or, if one already exists, extends) the tags attachment
// with a new name:value pair. Per §3's append-only invariant this never
// removes an existing attachment; it adds a new tags entry if none exists,
// or rewrites the most recent one's body in place.
func SetTag(d *Document, key, value string) {
	entry := fmt.Sprintf("%s:%s", key, value)
	for i := len(d.Attachments) - 1; i >= 0; i-- {
		if d.Attachments[i].Type != TagsAttachmentType {
			continue
		}
		var entries []string
		_ = json.Unmarshal(d.Attachments[i].Body, &entries)
		entries = append(entries, entry)
		body, _ := json.Marshal(entries)
		d.Attachments[i].Body = body
		return
	}
	body, _ := json.Marshal([]string{entry})
	d.Attachments = append(d.Attachments, Attachment{Type: TagsAttachmentType, Body: body})
}

// NormalizeTel strips every non-digit character, per §4.2's secondary-index
// policy.
func NormalizeTel(tel string) string {
	var b strings.Builder
	for _, r := range tel {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeMailto lowercases the address.
func NormalizeMailto(mailto string) string { return strings.ToLower(strings.TrimSpace(mailto)) }

// NormalizeName lowercases and trims the name.
func NormalizeName(name string) string { return strings.ToLower(strings.TrimSpace(name)) }
