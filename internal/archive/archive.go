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

// Package archive holds the aggregate root: the ordered document
// collection, the blob store, the label manager, the address and
// entity books, and the derived caches computed from them. All
// mutation goes through the archive so the caches can be invalidated
// as a group.
package archive

import (
	"context"
	"log"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/harvard-lts/epadd/internal/address"
	"github.com/harvard-lts/epadd/internal/blob"
	"github.com/harvard-lts/epadd/internal/document"
	"github.com/harvard-lts/epadd/internal/entity"
	"github.com/harvard-lts/epadd/internal/index"
	"github.com/harvard-lts/epadd/internal/label"
	"github.com/harvard-lts/epadd/internal/lexicon"
	"github.com/harvard-lts/epadd/internal/persist"
)

// Fixed names under an archive's base directory. The layout is part
// of the interchange contract with existing archives.
const (
	BlobsDir    = "blobs"
	TmpDir      = "tmp"
	IndexesDir  = "indexes"
	SessionsDir = "sessions"
	LexiconsDir = "lexicons"
	MixturesDir = "mixtures"
	ImagesDir   = "images"

	AddressBookFile = "AddressBook"
	EntityBookFile  = "EntityBook"
	AuthoritiesFile = "CorrespondentAuthorities"
	LabelMapperDir  = "LabelMapper"

	dbFile = "archive.db"
)

// Threader groups documents into conversation threads.
type Threader interface {
	Thread(docs []document.Document) [][]document.Document
}

// SubjectThreader is the built-in Threader. It groups by subject with
// reply and forward prefixes stripped.
type SubjectThreader struct{}

func (SubjectThreader) Thread(docs []document.Document) [][]document.Document {
	order := make([]string, 0)
	groups := make(map[string][]document.Document)
	for _, d := range docs {
		key := normalizeSubject(d.Subject())
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], d)
	}
	out := make([][]document.Document, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

func normalizeSubject(s string) string {
	s = strings.TrimSpace(s)
	for {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "re:"):
			s = strings.TrimSpace(s[3:])
		case strings.HasPrefix(lower, "fwd:"):
			s = strings.TrimSpace(s[4:])
		case strings.HasPrefix(lower, "fw:"):
			s = strings.TrimSpace(s[3:])
		default:
			return lower
		}
	}
}

// ProcessingMetadata carries descriptive fields and counts for a
// collection. It is mergeable so an accession's metadata can be
// folded into the collection's.
type ProcessingMetadata struct {
	Title          string   `json:"title,omitempty"`
	OwnerName      string   `json:"ownerName,omitempty"`
	OwnerAddresses []string `json:"ownerAddresses,omitempty"`
	NDocs          int      `json:"nDocs"`
	NBlobs         int      `json:"nBlobs"`
	AccessionIDs   []string `json:"accessionIds,omitempty"`
}

// Merge folds other into m. Descriptive fields keep m's value when
// set; counts add; accession ids union.
func (m *ProcessingMetadata) Merge(other ProcessingMetadata) {
	if m.Title == "" {
		m.Title = other.Title
	}
	if m.OwnerName == "" {
		m.OwnerName = other.OwnerName
	}
	m.NDocs += other.NDocs
	m.NBlobs += other.NBlobs
	seen := make(map[string]bool)
	for _, id := range m.AccessionIDs {
		seen[id] = true
	}
	for _, id := range other.AccessionIDs {
		if !seen[id] {
			m.AccessionIDs = append(m.AccessionIDs, id)
			seen[id] = true
		}
	}
	sort.Strings(m.AccessionIDs)
}

// Config holds archive-creation inputs that the original kept in
// global mutable state.
type Config struct {
	Title          string
	OwnerName      string
	OwnerAddresses []string

	// LexiconSeeds maps lexicon name to content; seeded into the
	// lexicons directory on open, never overwriting existing files.
	LexiconSeeds map[string]string

	// BaseAccessionID is the default provenance for documents with
	// no explicit accession entry.
	BaseAccessionID string

	// Index overrides the on-disk index, for tests. When nil a bleve
	// index is opened under the base directory.
	Index index.Index

	Recognizer entity.Recognizer
	Threader   Threader
}

// Archive is the aggregate root. Safe for concurrent callers; the
// document list is append-only once the signature check passes.
type Archive struct {
	mu      sync.Mutex
	baseDir string

	docs []document.Document
	sigs map[string]bool

	blobs       *blob.Store
	idx         index.Index
	labels      *label.Manager
	addressBook *address.Book
	entityBook  *entity.Book
	recognizer  entity.Recognizer
	threader    Threader
	db          *persist.DB

	meta            ProcessingMetadata
	baseAccessionID string
	lastMerge       *MergeResult

	caches caches

	// warnf is the soft-assertion channel: consistency divergences
	// are logged through it and never fail the operation.
	warnf func(format string, v ...interface{})
}

// caches are the derived views over the document list. They are
// recomputed together on demand and invalidated together on any
// document-set mutation.
type caches struct {
	valid bool

	docSet       map[string]document.Document // signature -> doc
	entities     []string
	blobNames    []string
	annotations  []string
	folders      []string
	emailSources []string
	entityDocs   map[string][]document.Document
}

// Open opens or creates the archive rooted at baseDir, composing the
// independently persisted sub-stores.
func Open(ctx context.Context, baseDir string, cfg Config) (*Archive, error) {
	// The indexes dir is bleve's to create; pre-creating it breaks
	// index creation.
	for _, dir := range []string{
		BlobsDir, TmpDir, SessionsDir, LexiconsDir, MixturesDir, ImagesDir, LabelMapperDir,
	} {
		if err := mkdir(filepath.Join(baseDir, dir)); err != nil {
			return nil, err
		}
	}

	blobs, err := blob.Open(filepath.Join(baseDir, BlobsDir))
	if err != nil {
		return nil, errors.Wrap(err, "unable to open blob store")
	}
	db, err := persist.Open(ctx, filepath.Join(baseDir, dbFile))
	if err != nil {
		return nil, errors.Wrap(err, "unable to open archive database")
	}
	labels, err := label.Load(filepath.Join(baseDir, LabelMapperDir))
	if err != nil {
		return nil, err
	}
	book, err := address.LoadBook(filepath.Join(baseDir, AddressBookFile))
	if err != nil {
		return nil, err
	}
	if book.NContacts() == 0 && len(cfg.OwnerAddresses) > 0 {
		book = address.NewBook(cfg.OwnerAddresses)
	}
	entityBook, err := entity.LoadBook(filepath.Join(baseDir, EntityBookFile))
	if err != nil {
		return nil, err
	}
	if err := lexicon.Seed(filepath.Join(baseDir, LexiconsDir), cfg.LexiconSeeds); err != nil {
		return nil, err
	}

	idx := cfg.Index
	if idx == nil {
		idx, err = index.OpenBleve(filepath.Join(baseDir, IndexesDir))
		if err != nil {
			return nil, err
		}
	}
	rec := cfg.Recognizer
	if rec == nil {
		rec = entity.CapitalizedRecognizer{}
	}
	threader := cfg.Threader
	if threader == nil {
		threader = SubjectThreader{}
	}

	a := &Archive{
		baseDir:     baseDir,
		sigs:        make(map[string]bool),
		blobs:       blobs,
		idx:         idx,
		labels:      labels,
		addressBook: book,
		entityBook:  entityBook,
		recognizer:  rec,
		threader:    threader,
		db:          db,
		meta: ProcessingMetadata{
			Title:          cfg.Title,
			OwnerName:      cfg.OwnerName,
			OwnerAddresses: cfg.OwnerAddresses,
		},
		baseAccessionID: cfg.BaseAccessionID,
		warnf: func(format string, v ...interface{}) {
			log.Printf("warning: "+format, v...)
		},
	}
	if err := a.loadDefaultSession(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// BaseDir returns the archive's filesystem root.
func (a *Archive) BaseDir() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseDir
}

// BlobStore returns the archive's live blob store. The pointer
// changes during export; callers must not retain it across calls.
func (a *Archive) BlobStore() *blob.Store {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blobs
}

// Labels returns the archive's label manager. The pointer changes
// during export; callers must not retain it across calls.
func (a *Archive) Labels() *label.Manager {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.labels
}

// AddressBook returns the archive's address book.
func (a *Archive) AddressBook() *address.Book { return a.addressBook }

// EntityBook returns the archive's entity display-name book.
func (a *Archive) EntityBook() *entity.Book { return a.entityBook }

// Metadata returns a copy of the archive's processing metadata with
// live counts filled in.
func (a *Archive) Metadata() ProcessingMetadata {
	a.mu.Lock()
	defer a.mu.Unlock()
	meta := a.meta
	meta.NDocs = len(a.docs)
	meta.NBlobs = a.blobs.UniqueBlobs()
	return meta
}

// AddDocument appends d unless a document with the same signature is
// already present, in which case it reports false with no mutation.
// body is the document's extracted text, handed to the index; the
// document's attachment refs must already be stored in the blob
// store. Duplicate insertion is a routine outcome, not an error.
func (a *Archive) AddDocument(d document.Document, body string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sig := d.Signature()
	if a.sigs[sig] {
		return false, nil
	}

	id := d.UniqueID()
	if err := a.idx.AddMessage(&index.Message{DocID: id, Subject: d.Subject(), Body: body}); err != nil {
		return false, errors.Wrapf(err, "unable to index document %q", id)
	}
	for _, ref := range d.Attachments() {
		// Attachment text extraction is an external concern; the
		// name is indexed so attachments are findable by filename.
		att := &index.Attachment{Name: ref.Name, EmailDocID: id, Content: ref.Name}
		if err := a.idx.AddAttachment(att); err != nil {
			return false, errors.Wrapf(err, "unable to index attachment %q of %q", ref.Name, id)
		}
	}

	a.docs = append(a.docs, d)
	a.sigs[sig] = true
	a.addressBook.ProcessContactsFromMessage(d)
	a.invalidateCachesLocked()
	return true, nil
}

// AllDocuments returns the documents in insertion order.
func (a *Archive) AllDocuments() []document.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]document.Document(nil), a.docs...)
}

// NDocuments returns the number of documents in the archive.
func (a *Archive) NDocuments() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.docs)
}

// AllDocumentsAsSet returns the documents keyed by signature. A size
// divergence from the ordered list indicates a duplicate-detection
// bug; it is logged, never fatal.
func (a *Archive) AllDocumentsAsSet() map[string]document.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeCachesLocked()
	if len(a.caches.docSet) != len(a.docs) {
		a.warnf("document set size %d != list size %d", len(a.caches.docSet), len(a.docs))
	}
	out := make(map[string]document.Document, len(a.caches.docSet))
	for sig, d := range a.caches.docSet {
		out[sig] = d
	}
	return out
}

// AllEntities returns the distinct entity names recognized across
// document subjects and comments, sorted.
func (a *Archive) AllEntities() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeCachesLocked()
	return append([]string(nil), a.caches.entities...)
}

// AllBlobNames returns the distinct attachment names referenced by
// documents, sorted.
func (a *Archive) AllBlobNames() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeCachesLocked()
	return append([]string(nil), a.caches.blobNames...)
}

// AllAnnotations returns the distinct non-empty document comments,
// sorted.
func (a *Archive) AllAnnotations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeCachesLocked()
	return append([]string(nil), a.caches.annotations...)
}

// AllFolders returns the distinct folder names, sorted.
func (a *Archive) AllFolders() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeCachesLocked()
	return append([]string(nil), a.caches.folders...)
}

// AllEmailSources returns the distinct email source tags, sorted.
func (a *Archive) AllEmailSources() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeCachesLocked()
	return append([]string(nil), a.caches.emailSources...)
}

// DocsForEntity returns the documents whose subject or comment
// mentions the recognized entity, in insertion order.
func (a *Archive) DocsForEntity(name string) []document.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeCachesLocked()
	return append([]document.Document(nil), a.caches.entityDocs[strings.ToLower(name)]...)
}

func (a *Archive) invalidateCachesLocked() {
	// All-or-nothing: no cache in the group is ever partially stale.
	a.caches = caches{}
}

func (a *Archive) computeCachesLocked() {
	if a.caches.valid {
		return
	}
	c := caches{
		valid:      true,
		docSet:     make(map[string]document.Document, len(a.docs)),
		entityDocs: make(map[string][]document.Document),
	}
	entities := make(map[string]string) // lowercased -> display
	blobNames := make(map[string]bool)
	annotations := make(map[string]bool)
	folders := make(map[string]bool)
	sources := make(map[string]bool)

	for _, d := range a.docs {
		c.docSet[d.Signature()] = d
		for _, ref := range d.Attachments() {
			blobNames[ref.Name] = true
		}
		if note := d.Comment(); note != "" {
			annotations[note] = true
		}
		if f := d.Folder(); f != "" {
			folders[f] = true
		}
		if s := d.EmailSource(); s != "" {
			sources[s] = true
		}
		for _, name := range a.recognizer.Names(d.Subject() + "\n" + d.Comment()) {
			display := a.entityBook.DisplayName(name)
			key := strings.ToLower(display)
			entities[key] = display
			c.entityDocs[key] = append(c.entityDocs[key], d)
		}
	}

	for _, display := range entities {
		c.entities = append(c.entities, display)
	}
	sort.Strings(c.entities)
	c.blobNames = sortedKeys(blobNames)
	c.annotations = sortedKeys(annotations)
	c.folders = sortedKeys(folders)
	c.emailSources = sortedKeys(sources)
	a.caches = c
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Annotate sets the free-text comment on the document with the given
// id and reports whether it was found. The derived caches are
// refreshed on next read.
func (a *Archive) Annotate(docID, note string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, d := range a.docs {
		if d.UniqueID() == docID {
			d.SetComment(note)
			a.invalidateCachesLocked()
			return true
		}
	}
	return false
}

// AssignThreadIDs groups the documents into conversation threads and
// assigns thread ids starting at 1, 0 meaning unassigned. It returns
// the next available id.
func (a *Archive) AssignThreadIDs() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := 1
	for _, group := range a.threader.Thread(a.docs) {
		for _, d := range group {
			d.SetThreadID(next)
		}
		next++
	}
	return next
}

// DocsInDateRange returns the documents dated within [start, end],
// inclusive at both endpoints. Documents without a usable date are
// skipped.
func (a *Archive) DocsInDateRange(start, end time.Time) []document.Document {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []document.Document
	for _, d := range a.docs {
		when, ok := d.Date()
		if !ok {
			continue
		}
		if when.Before(start) || when.After(end) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// DocsForExport returns the subset of documents releasable in mode,
// in original relative order.
func (a *Archive) DocsForExport(mode label.ExportMode) []document.Document {
	a.mu.Lock()
	docs := append([]document.Document(nil), a.docs...)
	labels := a.labels
	a.mu.Unlock()
	return labels.ExportableDocuments(docs, mode)
}

// UpsertFolderBookmark advances the per-folder fetch bookmark, never
// decreasing it.
func (a *Archive) UpsertFolderBookmark(ctx context.Context, accountKey, folderName string, seenSeq int64) error {
	return a.inTx(ctx, func(tx *persist.Tx) error {
		return tx.UpsertFolderBookmark(ctx, accountKey, folderName, seenSeq)
	})
}

// FolderBookmark returns the highest sequence number already fetched
// for the folder, -1 when it has never been fetched.
func (a *Archive) FolderBookmark(ctx context.Context, accountKey, folderName string) (int64, error) {
	var seq int64
	err := a.inTx(ctx, func(tx *persist.Tx) error {
		var err error
		seq, err = tx.FolderBookmark(ctx, accountKey, folderName)
		return err
	})
	return seq, err
}

// ListFolderBookmarks streams every folder bookmark to handler.
func (a *Archive) ListFolderBookmarks(ctx context.Context, handler func(accountKey, folderName string, seenSeq int64) error) error {
	return a.inTx(ctx, func(tx *persist.Tx) error {
		return tx.ListFolderBookmarks(ctx, handler)
	})
}

// RecordFetchStats appends one ingestion run's stats.
func (a *Archive) RecordFetchStats(ctx context.Context, fs persist.FetchStats) error {
	return a.inTx(ctx, func(tx *persist.Tx) error {
		return tx.InsertFetchStats(ctx, fs)
	})
}

// FetchStats returns the stats of all ingestion runs, oldest first.
func (a *Archive) FetchStats(ctx context.Context) ([]persist.FetchStats, error) {
	var out []persist.FetchStats
	err := a.inTx(ctx, func(tx *persist.Tx) error {
		var err error
		out, err = tx.ListFetchStats(ctx)
		return err
	})
	return out, err
}

// BaseAccessionID returns the default accession id for documents with
// no explicit provenance entry.
func (a *Archive) BaseAccessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.baseAccessionID
}

// AccessionID returns the accession that introduced the document,
// falling back to the base accession id when no explicit entry
// exists.
func (a *Archive) AccessionID(ctx context.Context, docID string) (string, error) {
	var acc string
	err := a.inTx(ctx, func(tx *persist.Tx) error {
		var err error
		acc, err = tx.DocAccession(ctx, docID)
		return err
	})
	if err != nil {
		return "", err
	}
	if acc == "" {
		a.mu.Lock()
		acc = a.baseAccessionID
		a.mu.Unlock()
	}
	return acc, nil
}

func (a *Archive) setDocAccession(ctx context.Context, docID, accessionID string) error {
	return a.inTx(ctx, func(tx *persist.Tx) error {
		return tx.SetDocAccession(ctx, docID, accessionID)
	})
}

func (a *Archive) inTx(ctx context.Context, fn func(tx *persist.Tx) error) error {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close saves the default session, releases the index, best-effort
// packs the blob store, and clears the derived caches. A failed pack
// leaves the store usable but not compacted.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.saveSessionLocked(defaultSessionName)
	if cerr := a.idx.Close(); err == nil {
		err = cerr
	}
	if perr := a.blobs.Pack(); perr != nil {
		a.warnf("pack failed, store left uncompacted: %v", perr)
	}
	if cerr := a.db.Close(); err == nil {
		err = cerr
	}
	a.invalidateCachesLocked()
	return err
}
