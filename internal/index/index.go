// Copyright 2026 The ePADD Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package index defines the full-text index capability the archive
// consumes, and a bleve-backed implementation of it. The archive core
// never depends on the implementation type.
package index

// Message is the indexable unit for a primary document.
type Message struct {
	DocID   string
	Subject string
	Body    string
}

// Attachment is the indexable unit for an attachment's extracted
// text. EmailDocID links it back to its owning message.
type Attachment struct {
	Name       string
	EmailDocID string
	Content    string
}

// MessageFilter decides, during a filtered copy, whether a message is
// carried over and in what (possibly redacted) form. Returning false
// drops the message.
type MessageFilter func(m *Message) (*Message, bool)

// AttachmentFilter decides whether an attachment document is carried
// over in a filtered copy.
type AttachmentFilter func(a *Attachment) bool

// Index is the document index capability.
type Index interface {
	// AddMessage indexes a primary document.
	AddMessage(m *Message) error

	// AddAttachment indexes an attachment's extracted text.
	AddAttachment(a *Attachment) error

	// UpdateMessage replaces the stored message for m.DocID.
	UpdateMessage(m *Message) error

	// Contents returns the stored body for a document id, "" if the
	// document is not indexed.
	Contents(docID string) (string, error)

	// CountMessages returns the number of primary documents indexed,
	// excluding attachment documents.
	CountMessages() (int, error)

	// DocIDsForTerm returns the ids of primary documents matching
	// the given query term.
	DocIDsForTerm(term string) ([]string, error)

	// FilteredCopy materializes a new index at outDir containing the
	// messages accepted (and possibly rewritten) by msgFn and the
	// attachments accepted by attFn.
	FilteredCopy(outDir string, msgFn MessageFilter, attFn AttachmentFilter) error

	// Close releases the index.
	Close() error
}
