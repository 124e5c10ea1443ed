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

package index

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/pkg/errors"
)

const (
	kindMessage    = "message"
	kindAttachment = "attachment"

	// attachment doc ids are namespaced so they can never collide
	// with message doc ids.
	attIDPrefix = "att\x00"
)

// indexed is the stored shape of both document kinds. All fields are
// stored so a filtered copy can reconstruct them.
type indexed struct {
	Kind       string `json:"kind"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Name       string `json:"name"`
	EmailDocID string `json:"emailDocId"`
}

// BleveIndex implements Index on a bleve full-text index.
type BleveIndex struct {
	idx bleve.Index
}

var _ Index = (*BleveIndex)(nil)

func buildIndexMapping() mapping.IndexMapping {
	textField := bleve.NewTextFieldMapping()
	keywordField := bleve.NewKeywordFieldMapping()

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("kind", keywordField)
	docMapping.AddFieldMappingsAt("subject", textField)
	docMapping.AddFieldMappingsAt("body", textField)
	docMapping.AddFieldMappingsAt("name", keywordField)
	docMapping.AddFieldMappingsAt("emailDocId", keywordField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// OpenBleve opens or creates the bleve index at path.
func OpenBleve(path string) (*BleveIndex, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, errors.Wrap(err, "unable to create index")
		}
	} else if err != nil {
		return nil, errors.Wrap(err, "unable to open index")
	}
	return &BleveIndex{idx: idx}, nil
}

// OpenBleveMem creates an in-memory index, for tests and scratch
// work.
func OpenBleveMem() (*BleveIndex, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, errors.Wrap(err, "unable to create in-memory index")
	}
	return &BleveIndex{idx: idx}, nil
}

func (b *BleveIndex) Close() error {
	return b.idx.Close()
}

func (b *BleveIndex) AddMessage(m *Message) error {
	doc := indexed{Kind: kindMessage, Subject: m.Subject, Body: m.Body}
	return errors.Wrapf(b.idx.Index(m.DocID, doc), "unable to index message %q", m.DocID)
}

func (b *BleveIndex) AddAttachment(a *Attachment) error {
	doc := indexed{Kind: kindAttachment, Name: a.Name, Body: a.Content, EmailDocID: a.EmailDocID}
	id := attIDPrefix + a.EmailDocID + "\x00" + a.Name
	return errors.Wrapf(b.idx.Index(id, doc), "unable to index attachment %q", a.Name)
}

func (b *BleveIndex) UpdateMessage(m *Message) error {
	return b.AddMessage(m)
}

func (b *BleveIndex) Contents(docID string) (string, error) {
	req := bleve.NewSearchRequest(bleve.NewDocIDQuery([]string{docID}))
	req.Fields = []string{"body"}
	res, err := b.idx.Search(req)
	if err != nil {
		return "", errors.Wrapf(err, "unable to look up doc %q", docID)
	}
	if len(res.Hits) == 0 {
		return "", nil
	}
	body, _ := res.Hits[0].Fields["body"].(string)
	return body, nil
}

func (b *BleveIndex) CountMessages() (int, error) {
	q := bleve.NewTermQuery(kindMessage)
	q.SetField("kind")
	req := bleve.NewSearchRequestOptions(q, 0, 0, false)
	res, err := b.idx.Search(req)
	if err != nil {
		return 0, errors.Wrap(err, "unable to count messages")
	}
	return int(res.Total), nil
}

func (b *BleveIndex) DocIDsForTerm(term string) ([]string, error) {
	q := bleve.NewQueryStringQuery(term)
	var ids []string
	err := b.walk(q, func(id string, doc *indexed) error {
		if doc.Kind == kindMessage {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "term query %q failed", term)
	}
	return ids, nil
}

func (b *BleveIndex) FilteredCopy(outDir string, msgFn MessageFilter, attFn AttachmentFilter) error {
	out, err := bleve.New(outDir, buildIndexMapping())
	if err != nil {
		return errors.Wrapf(err, "unable to create index copy at %q", outDir)
	}
	defer out.Close()

	batch := out.NewBatch()
	err = b.walk(bleve.NewMatchAllQuery(), func(id string, doc *indexed) error {
		switch doc.Kind {
		case kindMessage:
			m := &Message{DocID: id, Subject: doc.Subject, Body: doc.Body}
			kept, ok := msgFn(m)
			if !ok {
				return nil
			}
			return batch.Index(kept.DocID, indexed{Kind: kindMessage, Subject: kept.Subject, Body: kept.Body})
		case kindAttachment:
			a := &Attachment{Name: doc.Name, EmailDocID: doc.EmailDocID, Content: doc.Body}
			if !attFn(a) {
				return nil
			}
			return batch.Index(id, *doc)
		default:
			// Unknown kinds are dropped; an old index may carry
			// records this version no longer writes.
			return nil
		}
	})
	if err != nil {
		return errors.Wrap(err, "filtered copy failed")
	}
	return errors.Wrap(out.Batch(batch), "unable to commit filtered copy")
}

// walk streams every document matching q to fn with its stored
// fields, paging through the index.
func (b *BleveIndex) walk(q query.Query, fn func(id string, doc *indexed) error) error {
	const page = 250
	from := 0
	for {
		req := bleve.NewSearchRequestOptions(q, page, from, false)
		req.Fields = []string{"kind", "subject", "body", "name", "emailDocId"}
		res, err := b.idx.Search(req)
		if err != nil {
			return err
		}
		for _, hit := range res.Hits {
			doc := &indexed{
				Kind:       stringField(hit.Fields, "kind"),
				Subject:    stringField(hit.Fields, "subject"),
				Body:       stringField(hit.Fields, "body"),
				Name:       stringField(hit.Fields, "name"),
				EmailDocID: stringField(hit.Fields, "emailDocId"),
			}
			if err := fn(hit.ID, doc); err != nil {
				return err
			}
		}
		from += len(res.Hits)
		if len(res.Hits) < page || uint64(from) >= res.Total {
			return nil
		}
	}
}

func stringField(fields map[string]interface{}, name string) string {
	s, _ := fields[name].(string)
	return s
}
