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

// Package entity holds the display-name book and the name
// recognition seam used by redacted export. The recognition model
// itself lives outside this repository; Recognizer is the capability
// the export pipeline consumes.
package entity

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Recognizer extracts person/place/organization names from free
// text.
type Recognizer interface {
	Names(text string) []string
}

// Book maps recognized names to curated display names. Lookups for
// unmapped names return the name unchanged.
type Book struct {
	mu      sync.Mutex
	display map[string]string // lowercased name -> display name
}

func NewBook() *Book {
	return &Book{display: make(map[string]string)}
}

// DisplayName resolves name through the book.
func (b *Book) DisplayName(name string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.display[strings.ToLower(name)]; ok {
		return d
	}
	return name
}

// SetDisplayName records a curated display name.
func (b *Book) SetDisplayName(name, display string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.display[strings.ToLower(name)] = display
}

// Save writes the book to its fixed-name file.
func (b *Book) Save(path string) error {
	b.mu.Lock()
	data, err := json.MarshalIndent(b.display, "", " ")
	b.mu.Unlock()
	if err != nil {
		return errors.Wrap(err, "unable to encode entity book")
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "unable to write entity book")
	}
	return nil
}

// LoadBook reads a book saved by Save. A missing file yields an
// empty book.
func LoadBook(path string) (*Book, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewBook(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read entity book")
	}
	b := NewBook()
	if err := json.Unmarshal(data, &b.display); err != nil {
		return nil, errors.Wrap(err, "unable to decode entity book")
	}
	return b, nil
}

// capitalizedRun matches runs of capitalized words. This fallback
// stands in for the external recognition model in tests and in
// archives processed without one; it is deliberately over-eager
// rather than under-eager, since redaction keeps only what it
// matches.
var capitalizedRun = regexp.MustCompile(`\b[A-Z][a-z]+(?:[ \t][A-Z][a-z]+)*\b`)

// CapitalizedRecognizer is the built-in fallback Recognizer.
type CapitalizedRecognizer struct{}

func (CapitalizedRecognizer) Names(text string) []string {
	return capitalizedRun.FindAllString(text, -1)
}

// RetainOnlyNames reduces text to its recognized names, resolved
// through book, joined by "; ". Duplicate names are kept once, in
// first-appearance order. This is the redaction residue substituted
// for free-text fields in discovery exports.
func RetainOnlyNames(text string, rec Recognizer, book *Book) string {
	if text == "" {
		return ""
	}
	seen := make(map[string]bool)
	var kept []string
	for _, name := range rec.Names(text) {
		display := name
		if book != nil {
			display = book.DisplayName(name)
		}
		key := strings.ToLower(display)
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, display)
	}
	return strings.Join(kept, "; ")
}
