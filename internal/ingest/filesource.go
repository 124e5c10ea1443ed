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

package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/harvard-lts/epadd/internal/document"
)

// fileMessage is one message in a drop file.
type fileMessage struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	From        []string     `json:"from"`
	To          []string     `json:"to"`
	Date        time.Time    `json:"date"`
	Folder      string       `json:"folder"`
	Seq         int64        `json:"seq"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// FileSource serves messages from a JSON drop file, the interchange
// format produced by external extraction tools. The whole drop is
// read at open time.
type FileSource struct {
	name string
	msgs map[string]*fileMessage
	ids  []string
}

// OpenFileSource reads the drop file at path.
func OpenFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read drop file %q", path)
	}
	var msgs []*fileMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, errors.Wrapf(err, "unable to parse drop file %q", path)
	}
	s := &FileSource{
		name: filepath.Base(path),
		msgs: make(map[string]*fileMessage, len(msgs)),
	}
	for _, m := range msgs {
		if m.ID == "" {
			return nil, errors.Errorf("drop file %q: message without id", path)
		}
		if _, ok := s.msgs[m.ID]; ok {
			return nil, errors.Errorf("drop file %q: duplicate id %q", path, m.ID)
		}
		s.msgs[m.ID] = m
		s.ids = append(s.ids, m.ID)
	}
	return s, nil
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) ListAll(ctx context.Context, fn func(e Entry) error) error {
	for _, id := range s.ids {
		m := s.msgs[id]
		if err := fn(Entry{ID: m.ID, Folder: m.Folder, Seq: m.Seq}); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileSource) Fetch(ctx context.Context, id string) (*Raw, error) {
	m, ok := s.msgs[id]
	if !ok {
		return nil, errors.Errorf("no such message %q", id)
	}
	doc := document.NewEmailDocument(m.ID, m.Subject, m.From, m.To, m.Date, m.Folder, s.name)
	return &Raw{Doc: doc, Body: m.Body, Attachments: m.Attachments}, nil
}
