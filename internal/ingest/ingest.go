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

// Package ingest pulls messages from a fetch source into an archive.
// The source protocol (IMAP, mbox drops, vendor APIs) is behind the
// Source interface; this package owns the pipeline: listing, folder
// bookmark skipping, throttled fetching, and stats accounting.
package ingest

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/harvard-lts/epadd/internal/archive"
	"github.com/harvard-lts/epadd/internal/document"
	"github.com/harvard-lts/epadd/internal/persist"
)

// Entry identifies one fetchable message at the source.
type Entry struct {
	ID     string
	Folder string
	// Seq is the source's sequence number within the folder,
	// compared against the folder bookmark to skip already-fetched
	// messages.
	Seq int64
}

// Attachment is one raw attachment as delivered by the source.
type Attachment struct {
	Name    string
	Content []byte
}

// Raw is one fetched message before it enters the archive.
type Raw struct {
	Doc         *document.EmailDocument
	Body        string
	Attachments []Attachment
}

// Source lists and fetches messages. Implementations must be safe
// for concurrent Fetch calls.
type Source interface {
	// Name tags the source in fetch stats.
	Name() string

	// ListAll streams every available entry to fn. A fn error stops
	// the listing and is returned.
	ListAll(ctx context.Context, fn func(e Entry) error) error

	// Fetch retrieves one message by id.
	Fetch(ctx context.Context, id string) (*Raw, error)
}

const defaultConcurrency = 4

// Fetcher runs one ingestion pass from a source into an archive.
type Fetcher struct {
	Archive    *archive.Archive
	Source     Source
	AccountKey string

	// Limit throttles Fetch calls. Nil means unthrottled.
	Limit *rate.Limiter

	// Concurrency is the number of fetch workers; 0 means the
	// default.
	Concurrency int
}

// Run lists the source, fetches every entry past its folder's
// bookmark, and adds the results to the archive. Fetch failures are
// counted and skipped, not fatal. On return the folder bookmarks are
// advanced and one FetchStats row is recorded.
func (f *Fetcher) Run(ctx context.Context) (persist.FetchStats, error) {
	stats := persist.FetchStats{
		Started: time.Now(),
		Source:  f.Source.Name(),
	}

	workers := f.Concurrency
	if workers <= 0 {
		workers = defaultConcurrency
	}

	var mu sync.Mutex
	bookmarks := make(map[string]int64) // folder -> bookmark at start
	highWater := make(map[string]int64) // folder -> highest seq fetched

	bookmark := func(folder string) (int64, error) {
		mu.Lock()
		defer mu.Unlock()
		if seq, ok := bookmarks[folder]; ok {
			return seq, nil
		}
		seq, err := f.Archive.FolderBookmark(ctx, f.AccountKey, folder)
		if err != nil {
			return 0, err
		}
		bookmarks[folder] = seq
		return seq, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	entries := make(chan Entry, workers)

	g.Go(func() error {
		defer close(entries)
		return f.Source.ListAll(ctx, func(e Entry) error {
			seen, err := bookmark(e.Folder)
			if err != nil {
				return err
			}
			if e.Seq <= seen {
				return nil
			}
			select {
			case entries <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for e := range entries {
				if f.Limit != nil {
					if err := f.Limit.Wait(ctx); err != nil {
						return err
					}
				}
				if err := f.ingestOne(ctx, e); err != nil {
					log.Printf("ingest: %q: %v", e.ID, err)
					mu.Lock()
					stats.NErrors++
					mu.Unlock()
					continue
				}
				mu.Lock()
				stats.NMessages++
				// An explicit presence check: a folder whose
				// sequence numbers are all <= 0 still gets its
				// bookmark advanced past the never-fetched
				// sentinel.
				if cur, ok := highWater[e.Folder]; !ok || e.Seq > cur {
					highWater[e.Folder] = e.Seq
				}
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	stats.Ended = time.Now()

	// Bookmarks advance for whatever was fetched, even on a partial
	// run; the upsert never decreases them.
	for folder, seq := range highWater {
		if berr := f.Archive.UpsertFolderBookmark(ctx, f.AccountKey, folder, seq); berr != nil && err == nil {
			err = berr
		}
	}
	if serr := f.Archive.RecordFetchStats(ctx, stats); serr != nil && err == nil {
		err = serr
	}
	return stats, err
}

func (f *Fetcher) ingestOne(ctx context.Context, e Entry) error {
	raw, err := f.Source.Fetch(ctx, e.ID)
	if err != nil {
		return errors.Wrap(err, "fetch failed")
	}
	doc := raw.Doc
	for _, att := range raw.Attachments {
		ref, err := f.Archive.BlobStore().Put(att.Name, att.Content)
		if err != nil {
			return errors.Wrapf(err, "unable to store attachment %q", att.Name)
		}
		doc.Attach = append(doc.Attach, ref)
	}
	if _, err := f.Archive.AddDocument(doc, raw.Body); err != nil {
		return err
	}
	return nil
}
