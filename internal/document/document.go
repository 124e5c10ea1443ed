package document

// This file provides the common document objects used by the rest of
// the program.

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harvard-lts/epadd/internal/blob"

	"github.com/zeebo/blake3"
)

// Document is the capability the archive requires from anything it
// stores. Documents are append-only once added: the archive never
// deletes them, only excludes them from export subsets. The only
// in-place mutations after ingestion are label assignment (held
// outside the document), thread-id assignment, and annotation.
type Document interface {
	// UniqueID is the stable identifier used to key the text index,
	// label sets, and accession provenance.
	UniqueID() string

	// Signature is the content-derived identity used for duplicate
	// detection across ingestion runs and merges. Two documents with
	// equal signatures are the same document, regardless of id.
	Signature() string

	Subject() string

	// Date returns the document's date and whether it is usable.
	// Documents with unusable dates are skipped by date-range queries
	// and conservatively excluded from timed-restriction release.
	Date() (time.Time, bool)

	Folder() string
	EmailSource() string
	Comment() string
	Attachments() []blob.Ref

	ThreadID() int
	SetThreadID(int)

	// CopyMutable returns a copy sharing nothing mutable with the
	// receiver, for export-time redaction. The original is never
	// modified during export.
	CopyMutable() Document

	SetSubject(string)
	SetComment(string)
}

// EmailDocument is the concrete email-like document variant.
type EmailDocument struct {
	ID     string
	Title  string // subject line
	From   []string
	To     []string
	Time   time.Time // zero means date unknown
	Fold   string    // long folder name
	Source string    // e.g. account the message came from
	Attach []blob.Ref
	Note   string // free-text annotation
	Thread int    // 0 means unassigned

	sig string
}

var _ Document = (*EmailDocument)(nil)

// NewEmailDocument builds a document and assigns its id from the
// content signature when none is given.
func NewEmailDocument(id, subject string, from, to []string, date time.Time, folder, source string) *EmailDocument {
	d := &EmailDocument{
		ID:     id,
		Title:  subject,
		From:   from,
		To:     to,
		Time:   date,
		Fold:   folder,
		Source: source,
	}
	if d.ID == "" {
		d.ID = d.Signature()
	}
	return d
}

func (d *EmailDocument) UniqueID() string    { return d.ID }
func (d *EmailDocument) Subject() string     { return d.Title }
func (d *EmailDocument) Folder() string      { return d.Fold }
func (d *EmailDocument) EmailSource() string { return d.Source }
func (d *EmailDocument) Comment() string     { return d.Note }
func (d *EmailDocument) ThreadID() int       { return d.Thread }
func (d *EmailDocument) SetThreadID(id int)  { d.Thread = id }
func (d *EmailDocument) SetSubject(s string) { d.Title = s }
func (d *EmailDocument) SetComment(c string) { d.Note = c }

func (d *EmailDocument) Date() (time.Time, bool) {
	return d.Time, !d.Time.IsZero()
}

func (d *EmailDocument) Attachments() []blob.Ref { return d.Attach }

// Signature hashes the fields that identify a message across fetches:
// subject, date, sender and recipients. Folder is deliberately left
// out so the same message fetched into two folders deduplicates.
func (d *EmailDocument) Signature() string {
	if d.sig != "" {
		return d.sig
	}
	var sb strings.Builder
	sb.WriteString(d.Title)
	sb.WriteByte(0)
	if !d.Time.IsZero() {
		sb.WriteString(d.Time.UTC().Format(time.RFC3339))
	}
	sb.WriteByte(0)
	sb.WriteString(strings.Join(normalizeAddrs(d.From), ","))
	sb.WriteByte(0)
	sb.WriteString(strings.Join(normalizeAddrs(d.To), ","))
	sum := blake3.Sum256([]byte(sb.String()))
	d.sig = fmt.Sprintf("%x", sum[:16])
	return d.sig
}

// CopyMutable returns a copy whose subject, comment and attachment
// list may be modified without affecting the receiver.
func (d *EmailDocument) CopyMutable() Document {
	c := *d
	c.From = append([]string(nil), d.From...)
	c.To = append([]string(nil), d.To...)
	c.Attach = append([]blob.Ref(nil), d.Attach...)
	return &c
}

func (d *EmailDocument) String() string {
	return fmt.Sprintf("EmailDocument{id=%s subject=%q folder=%q}", d.ID, d.Title, d.Fold)
}

func normalizeAddrs(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		a = strings.ToLower(strings.TrimSpace(a))
		if a != "" {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// RemoveDupsAndSort drops signature duplicates, keeping the first
// occurrence, and sorts the survivors by date (dateless documents
// sort first, in their original relative order).
func RemoveDupsAndSort(docs []Document) []Document {
	seen := make(map[string]bool, len(docs))
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		sig := d.Signature()
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		di, iok := out[i].Date()
		dj, jok := out[j].Date()
		if !iok || !jok {
			return !iok && jok
		}
		return di.Before(dj)
	})
	return out
}
