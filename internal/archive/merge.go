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
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/harvard-lts/epadd/internal/address"
	"github.com/harvard-lts/epadd/internal/index"
	"github.com/harvard-lts/epadd/internal/label"
	"github.com/harvard-lts/epadd/internal/lexicon"
)

// MergeResult reports one merge call. It is retained on the target
// archive until the next merge overwrites it.
type MergeResult struct {
	NMessagesInCollection    int
	NMessagesInAccession     int
	NCommonMessages          int
	NFinalMessages           int
	NAttachmentsInCollection int
	NAttachmentsInAccession  int

	AddressBook address.MergeResult
	Labels      label.MergeResult

	NewLexicons     []string
	ClashedLexicons []string
}

// Merge folds other's documents, blobs, labels, contacts, and
// lexicons into a. Documents already present by signature are counted
// as common and left untouched: the target's copy, labels, and
// metadata win. New documents are recorded in the provenance side
// table under accessionID unless it equals the base accession id.
//
// Merge is append-only and partial-failure tolerant: a document whose
// blobs cannot be moved is logged and skipped, and the merge
// continues.
func (a *Archive) Merge(ctx context.Context, other *Archive, accessionID string) (*MergeResult, error) {
	if other == a {
		return nil, errors.New("cannot merge an archive into itself")
	}
	// Both archives are locked in base-dir order so that concurrent
	// merges in opposite directions cannot deadlock.
	first, second := a, other
	if second.baseDir < first.baseDir {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	result := &MergeResult{
		NMessagesInCollection: len(a.docs),
		NMessagesInAccession:  len(other.docs),
	}
	for _, d := range a.docs {
		result.NAttachmentsInCollection += len(d.Attachments())
	}
	for _, d := range other.docs {
		result.NAttachmentsInAccession += len(d.Attachments())
	}

	for _, d := range other.docs {
		sig := d.Signature()
		if a.sigs[sig] {
			result.NCommonMessages++
			continue
		}

		moved := true
		for _, ref := range d.Attachments() {
			if err := a.blobs.MoveFrom(other.blobs, ref); err != nil {
				a.warnf("merge: skipping document %q, unable to move blob %q: %v", d.UniqueID(), ref.Name, err)
				moved = false
				break
			}
		}
		if !moved {
			continue
		}

		id := d.UniqueID()
		body, err := other.idx.Contents(id)
		if err != nil {
			a.warnf("merge: no indexed body for %q: %v", id, err)
			body = ""
		}
		if err := a.idx.AddMessage(&index.Message{DocID: id, Subject: d.Subject(), Body: body}); err != nil {
			a.warnf("merge: skipping document %q, unable to index: %v", id, err)
			continue
		}
		for _, ref := range d.Attachments() {
			att := &index.Attachment{Name: ref.Name, EmailDocID: id, Content: ref.Name}
			if err := a.idx.AddAttachment(att); err != nil {
				a.warnf("merge: unable to index attachment %q of %q: %v", ref.Name, id, err)
			}
		}

		a.docs = append(a.docs, d)
		a.sigs[sig] = true
		if accessionID != a.baseAccessionID {
			if err := a.setDocAccession(ctx, id, accessionID); err != nil {
				a.warnf("merge: unable to record provenance for %q: %v", id, err)
			}
		}
	}
	result.NFinalMessages = len(a.docs)

	if err := a.blobs.Pack(); err != nil {
		a.warnf("merge: pack failed, store left uncompacted: %v", err)
	}

	result.AddressBook = a.addressBook.Merge(other.addressBook)
	result.Labels = a.labels.Merge(other.labels)

	newNames, clashed, err := lexicon.Merge(
		filepath.Join(a.baseDir, LexiconsDir),
		filepath.Join(other.baseDir, LexiconsDir),
	)
	if err != nil {
		a.warnf("merge: lexicon merge failed: %v", err)
	}
	result.NewLexicons = newNames
	result.ClashedLexicons = clashed

	otherMeta := other.meta
	otherMeta.NDocs = result.NMessagesInAccession
	otherMeta.NBlobs = other.blobs.UniqueBlobs()
	if accessionID != "" {
		otherMeta.AccessionIDs = append(otherMeta.AccessionIDs, accessionID)
	}
	a.meta.Merge(otherMeta)

	a.invalidateCachesLocked()
	a.lastMerge = result
	return result, nil
}

// LastMergeResult returns the result of the most recent merge into
// this archive, nil if none has run.
func (a *Archive) LastMergeResult() *MergeResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastMerge
}
