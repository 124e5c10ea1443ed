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

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/harvard-lts/epadd/internal/document"
	"github.com/harvard-lts/epadd/internal/index"
	"github.com/harvard-lts/epadd/internal/label"
)

func testArchive(t *testing.T) *Archive {
	t.Helper()
	return testArchiveAt(t, t.TempDir())
}

func testArchiveAt(t *testing.T, dir string) *Archive {
	t.Helper()
	idx, err := index.OpenBleveMem()
	if err != nil {
		t.Fatalf("OpenBleveMem: %v", err)
	}
	a, err := Open(context.Background(), dir, Config{
		Title:           "test collection",
		OwnerName:       "Robert Creeley",
		OwnerAddresses:  []string{"creeley@example.org"},
		BaseAccessionID: "base",
		Index:           idx,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func testDoc(id, subject, folder string, when time.Time) *document.EmailDocument {
	return document.NewEmailDocument(id, subject,
		[]string{"sender@example.org"}, []string{"creeley@example.org"},
		when, folder, "mbox")
}

func mustAdd(t *testing.T, a *Archive, d document.Document, body string) {
	t.Helper()
	added, err := a.AddDocument(d, body)
	if err != nil {
		t.Fatalf("AddDocument(%q): %v", d.UniqueID(), err)
	}
	if !added {
		t.Fatalf("AddDocument(%q) = false, want true", d.UniqueID())
	}
}

func date(s string) time.Time {
	when, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return when
}

func TestAddDocumentIdempotent(t *testing.T) {
	a := testArchive(t)
	d := testDoc("d1", "poetry reading", "inbox", date("1995-04-01"))
	mustAdd(t, a, d, "a reading at the bookstore")

	// Same signature from a different folder: still a duplicate.
	dup := testDoc("d1-again", "poetry reading", "sent", date("1995-04-01"))
	added, err := a.AddDocument(dup, "a reading at the bookstore")
	if err != nil {
		t.Fatalf("AddDocument(dup): %v", err)
	}
	if added {
		t.Error("AddDocument(dup) = true, want false")
	}
	if got, want := a.NDocuments(), 1; got != want {
		t.Errorf("NDocuments = %d, want %d", got, want)
	}
}

func TestCacheCoherenceAfterAdd(t *testing.T) {
	a := testArchive(t)
	mustAdd(t, a, testDoc("d1", "notes from Granary Books", "inbox", date("1995-04-01")), "body one")

	if got, want := a.AllFolders(), []string{"inbox"}; !cmp.Equal(got, want) {
		t.Fatalf("AllFolders = %v, want %v", got, want)
	}
	if got, want := a.AllEntities(), []string{"Granary Books"}; !cmp.Equal(got, want) {
		t.Fatalf("AllEntities = %v, want %v", got, want)
	}

	// A subsequent add must be visible; no stale cache served.
	ref, err := a.BlobStore().Put("draft.txt", []byte("draft contents"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	d2 := testDoc("d2", "letter from Anne Waldman", "drafts", date("1996-02-01"))
	d2.Attach = append(d2.Attach, ref)
	mustAdd(t, a, d2, "body two")

	if got, want := a.AllFolders(), []string{"drafts", "inbox"}; !cmp.Equal(got, want) {
		t.Errorf("AllFolders = %v, want %v", got, want)
	}
	if got, want := a.AllBlobNames(), []string{"draft.txt"}; !cmp.Equal(got, want) {
		t.Errorf("AllBlobNames = %v, want %v", got, want)
	}
	if got, want := a.AllEntities(), []string{"Anne Waldman", "Granary Books"}; !cmp.Equal(got, want) {
		t.Errorf("AllEntities = %v, want %v", got, want)
	}
	if got := a.DocsForEntity("anne waldman"); len(got) != 1 || got[0].UniqueID() != "d2" {
		t.Errorf("DocsForEntity(anne waldman) = %v, want [d2]", got)
	}
}

func TestAllDocumentsAsSet(t *testing.T) {
	a := testArchive(t)
	mustAdd(t, a, testDoc("d1", "one", "inbox", date("1995-04-01")), "")
	mustAdd(t, a, testDoc("d2", "two", "inbox", date("1995-04-02")), "")

	set := a.AllDocumentsAsSet()
	if got, want := len(set), 2; got != want {
		t.Errorf("len(set) = %d, want %d", got, want)
	}
}

func TestAnnotateInvalidatesCaches(t *testing.T) {
	a := testArchive(t)
	mustAdd(t, a, testDoc("d1", "one", "inbox", date("1995-04-01")), "")

	if got := a.AllAnnotations(); len(got) != 0 {
		t.Fatalf("AllAnnotations = %v, want none", got)
	}
	if !a.Annotate("d1", "duplicate of box 12 letter") {
		t.Fatal("Annotate(d1) = false, want true")
	}
	if got, want := a.AllAnnotations(), []string{"duplicate of box 12 letter"}; !cmp.Equal(got, want) {
		t.Errorf("AllAnnotations = %v, want %v", got, want)
	}
	if a.Annotate("absent", "x") {
		t.Error("Annotate(absent) = true, want false")
	}
}

func TestDocsInDateRange(t *testing.T) {
	a := testArchive(t)
	mustAdd(t, a, testDoc("early", "one", "inbox", date("1995-01-01")), "")
	mustAdd(t, a, testDoc("mid", "two", "inbox", date("1995-06-15")), "")
	mustAdd(t, a, testDoc("late", "three", "inbox", date("1995-12-31")), "")
	mustAdd(t, a, testDoc("dateless", "four", "inbox", time.Time{}), "")

	var ids []string
	for _, d := range a.DocsInDateRange(date("1995-01-01"), date("1995-06-15")) {
		ids = append(ids, d.UniqueID())
	}
	// Inclusive at both endpoints; the dateless document is skipped.
	if want := []string{"early", "mid"}; !cmp.Equal(ids, want) {
		t.Errorf("DocsInDateRange = %v, want %v", ids, want)
	}
}

func TestAssignThreadIDs(t *testing.T) {
	a := testArchive(t)
	mustAdd(t, a, testDoc("d1", "lunch", "inbox", date("1995-04-01")), "")
	mustAdd(t, a, testDoc("d2", "Re: lunch", "inbox", date("1995-04-02")), "")
	mustAdd(t, a, testDoc("d3", "galley proofs", "inbox", date("1995-04-03")), "")

	next := a.AssignThreadIDs()
	if want := 3; next != want {
		t.Errorf("AssignThreadIDs = %d, want %d", next, want)
	}
	docs := a.AllDocuments()
	if docs[0].ThreadID() != 1 || docs[1].ThreadID() != 1 {
		t.Errorf("lunch thread ids = %d, %d, want 1, 1", docs[0].ThreadID(), docs[1].ThreadID())
	}
	if got, want := docs[2].ThreadID(), 2; got != want {
		t.Errorf("galley thread id = %d, want %d", got, want)
	}
}

func TestAppraisalExportSubset(t *testing.T) {
	a := testArchive(t)
	mustAdd(t, a, testDoc("d1", "one", "inbox", date("1995-04-01")), "")
	mustAdd(t, a, testDoc("d2", "two", "inbox", date("1995-04-02")), "")
	mustAdd(t, a, testDoc("d3", "three", "inbox", date("1995-04-03")), "")
	a.Labels().SetLabels("d2", []string{label.IDDoNotTransfer})

	var ids []string
	for _, d := range a.DocsForExport(label.AppraisalToProcessing) {
		ids = append(ids, d.UniqueID())
	}
	if want := []string{"d1", "d3"}; !cmp.Equal(ids, want) {
		t.Errorf("DocsForExport = %v, want %v", ids, want)
	}
}

func TestFolderBookmarkAccessors(t *testing.T) {
	ctx := context.Background()
	a := testArchive(t)

	seq, err := a.FolderBookmark(ctx, "acct", "INBOX")
	if err != nil {
		t.Fatalf("FolderBookmark: %v", err)
	}
	if want := int64(-1); seq != want {
		t.Errorf("FolderBookmark(never fetched) = %d, want %d", seq, want)
	}

	if err := a.UpsertFolderBookmark(ctx, "acct", "INBOX", 7); err != nil {
		t.Fatalf("UpsertFolderBookmark: %v", err)
	}
	if err := a.UpsertFolderBookmark(ctx, "acct", "INBOX", 4); err != nil {
		t.Fatalf("UpsertFolderBookmark: %v", err)
	}
	seq, err = a.FolderBookmark(ctx, "acct", "INBOX")
	if err != nil {
		t.Fatalf("FolderBookmark: %v", err)
	}
	if want := int64(7); seq != want {
		t.Errorf("FolderBookmark = %d, want %d", seq, want)
	}
}

func TestSessionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := testArchiveAt(t, dir)
	mustAdd(t, a, testDoc("d1", "one", "inbox", date("1995-04-01")), "")
	mustAdd(t, a, testDoc("d2", "two", "sent", date("1995-04-02")), "")
	a.Labels().SetLabels("d1", []string{label.IDDoNotTransfer})
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b := testArchiveAt(t, dir)
	var ids []string
	for _, d := range b.AllDocuments() {
		ids = append(ids, d.UniqueID())
	}
	if want := []string{"d1", "d2"}; !cmp.Equal(ids, want) {
		t.Errorf("reloaded ids = %v, want %v", ids, want)
	}
	if !b.Labels().HasLabel("d1", label.IDDoNotTransfer) {
		t.Error("label assignment lost across sessions")
	}
	if got, want := b.BaseAccessionID(), "base"; got != want {
		t.Errorf("BaseAccessionID = %q, want %q", got, want)
	}
}

func TestAccessionDefaultsToBase(t *testing.T) {
	ctx := context.Background()
	a := testArchive(t)
	mustAdd(t, a, testDoc("d1", "one", "inbox", date("1995-04-01")), "")

	acc, err := a.AccessionID(ctx, "d1")
	if err != nil {
		t.Fatalf("AccessionID: %v", err)
	}
	if want := "base"; acc != want {
		t.Errorf("AccessionID = %q, want %q", acc, want)
	}
}
