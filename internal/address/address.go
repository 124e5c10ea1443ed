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

// Package address maintains the archive's contact book: one contact
// per correspondent, folded together by email address across all
// ingested documents.
package address

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/harvard-lts/epadd/internal/document"

	"github.com/pkg/errors"
)

// Contact is one correspondent. Addresses are stored lowercased.
type Contact struct {
	Addresses []string `json:"addresses"`
	// MessageCount is the number of documents this contact appears
	// on, as sender or recipient.
	MessageCount int `json:"messageCount"`
	// Self marks the archive owner's contact.
	Self bool `json:"self,omitempty"`
}

// Book holds contacts for an archive. Safe for concurrent callers.
type Book struct {
	mu        sync.Mutex
	ownAddrs  map[string]bool
	contacts  map[string]*Contact // address -> contact (shared per contact)
	organized bool
}

// MergeResult reports the outcome of folding one book into another.
type MergeResult struct {
	NContactsInCollection int
	NContactsInAccession  int
	NNewContacts          int
	NMergedContacts       int
}

// NewBook creates a book. ownAddrs identifies the archive owner; the
// owner's contact is created eagerly so SelfContact always resolves.
func NewBook(ownAddrs []string) *Book {
	b := &Book{
		ownAddrs: make(map[string]bool),
		contacts: make(map[string]*Contact),
	}
	var self *Contact
	for _, a := range ownAddrs {
		a = normalize(a)
		if a == "" {
			continue
		}
		b.ownAddrs[a] = true
		if self == nil {
			self = &Contact{Self: true}
		}
		self.Addresses = append(self.Addresses, a)
		b.contacts[a] = self
	}
	return b
}

// ProcessContactsFromMessage folds the document's correspondents into
// the book.
func (b *Book) ProcessContactsFromMessage(d document.Document) {
	ed, ok := d.(*document.EmailDocument)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	seen := make(map[*Contact]bool)
	for _, addr := range append(append([]string(nil), ed.From...), ed.To...) {
		addr = normalize(addr)
		if addr == "" {
			continue
		}
		c := b.contacts[addr]
		if c == nil {
			c = &Contact{Addresses: []string{addr}, Self: b.ownAddrs[addr]}
			b.contacts[addr] = c
		}
		if !seen[c] {
			seen[c] = true
			c.MessageCount++
		}
	}
	b.organized = false
}

// OrganizeContacts normalizes the book after a batch of updates:
// address lists are sorted and deduplicated. Idempotent.
func (b *Book) OrganizeContacts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.organized {
		return
	}
	for _, c := range b.uniqueContactsLocked() {
		sort.Strings(c.Addresses)
		c.Addresses = dedupSorted(c.Addresses)
	}
	b.organized = true
}

// SelfContact returns the owner's contact, or nil when the book was
// built without owner addresses.
func (b *Book) SelfContact() *Contact {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.contacts {
		if c.Self {
			return c
		}
	}
	return nil
}

// ContactForAddress returns the contact holding addr, or nil.
func (b *Book) ContactForAddress(addr string) *Contact {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.contacts[normalize(addr)]
}

// NContacts returns the number of distinct contacts.
func (b *Book) NContacts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.uniqueContactsLocked())
}

// Merge folds other's contacts into b. A contact sharing an address
// with an existing one merges into it (message counts added); a
// contact with no address overlap is copied in as new.
func (b *Book) Merge(other *Book) MergeResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	result := MergeResult{
		NContactsInCollection: len(b.uniqueContactsLocked()),
		NContactsInAccession:  len(other.uniqueContactsLocked()),
	}
	for _, oc := range other.uniqueContactsLocked() {
		var target *Contact
		for _, addr := range oc.Addresses {
			if c, ok := b.contacts[addr]; ok {
				target = c
				break
			}
		}
		if target == nil {
			cp := &Contact{
				Addresses:    append([]string(nil), oc.Addresses...),
				MessageCount: oc.MessageCount,
			}
			for _, addr := range cp.Addresses {
				b.contacts[addr] = cp
			}
			result.NNewContacts++
			continue
		}
		target.MessageCount += oc.MessageCount
		for _, addr := range oc.Addresses {
			if _, ok := b.contacts[addr]; !ok {
				target.Addresses = append(target.Addresses, addr)
				b.contacts[addr] = target
			}
		}
		result.NMergedContacts++
	}
	b.organized = false
	return result
}

// Save writes the book to its fixed-name file.
func (b *Book) Save(path string) error {
	b.mu.Lock()
	contacts := b.uniqueContactsLocked()
	state := make([]*Contact, len(contacts))
	copy(state, contacts)
	b.mu.Unlock()

	sort.Slice(state, func(i, j int) bool {
		return strings.Join(state[i].Addresses, ",") < strings.Join(state[j].Addresses, ",")
	})
	data, err := json.MarshalIndent(state, "", " ")
	if err != nil {
		return errors.Wrap(err, "unable to encode address book")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "unable to write address book")
	}
	return nil
}

// LoadBook reads a book saved by Save. A missing file yields an
// empty book.
func LoadBook(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewBook(nil), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read address book")
	}
	var contacts []*Contact
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, errors.Wrap(err, "unable to decode address book")
	}
	b := NewBook(nil)
	for _, c := range contacts {
		for _, addr := range c.Addresses {
			b.contacts[addr] = c
			if c.Self {
				b.ownAddrs[addr] = true
			}
		}
	}
	return b, nil
}

func (b *Book) uniqueContactsLocked() []*Contact {
	seen := make(map[*Contact]bool)
	var out []*Contact
	for _, c := range b.contacts {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

func dedupSorted(s []string) []string {
	out := s[:0]
	for i, v := range s {
		if i == 0 || v != s[i-1] {
			out = append(out, v)
		}
	}
	return out
}
