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

// The epadd command manages an email archive: ingesting message
// drops, exporting curated subsets, merging accessions, and
// reporting ingestion stats.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/harvard-lts/epadd/internal/archive"
	"github.com/harvard-lts/epadd/internal/config"
	"github.com/harvard-lts/epadd/internal/ingest"
	"github.com/harvard-lts/epadd/internal/label"

	_ "github.com/mattn/go-sqlite3"
)

const usage = `usage: epadd <command> [flags]

commands:
  ingest   fetch a message drop into the archive
  export   produce a curated archive for a release mode
  merge    fold another archive into this one
  stats    report ingestion runs
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "ingest":
		err = runIngest(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "merge":
		err = runMerge(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("Failed: %v", err)
	}
}

func openArchive(ctx context.Context, dir, configPath string) (*archive.Archive, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return archive.Open(ctx, dir, cfg.ArchiveConfig())
}

func runIngest(args []string) error {
	flags := pflag.NewFlagSet("ingest", pflag.ExitOnError)
	dir := flags.String("archive", ".", "archive base directory")
	configPath := flags.String("config", "epadd.yaml", "configuration file")
	from := flags.String("from", "", "message drop file to ingest")
	account := flags.String("account", "default", "account key for folder bookmarks")
	perSec := flags.Float64("rate", 0, "max fetches per second, 0 for unthrottled")
	flags.Parse(args)

	if *from == "" {
		return errors.New("ingest: --from is required")
	}
	ctx := context.Background()
	a, err := openArchive(ctx, *dir, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := ingest.OpenFileSource(*from)
	if err != nil {
		return err
	}
	f := &ingest.Fetcher{Archive: a, Source: src, AccountKey: *account}
	if *perSec > 0 {
		f.Limit = rate.NewLimiter(rate.Limit(*perSec), 1)
	}
	stats, err := f.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("ingested %d messages, %d errors\n", stats.NMessages, stats.NErrors)
	return nil
}

func parseMode(s string) (label.ExportMode, error) {
	switch s {
	case "appraisal":
		return label.AppraisalToProcessing, nil
	case "delivery":
		return label.ProcessingToDelivery, nil
	case "discovery":
		return label.ProcessingToDiscovery, nil
	}
	return 0, errors.Errorf("unknown export mode %q", s)
}

func runExport(args []string) error {
	flags := pflag.NewFlagSet("export", pflag.ExitOnError)
	dir := flags.String("archive", ".", "archive base directory")
	configPath := flags.String("config", "epadd.yaml", "configuration file")
	modeName := flags.String("mode", "", "release mode: appraisal, delivery, or discovery")
	out := flags.String("out", "", "output directory (destroyed if present)")
	name := flags.String("name", "default", "session name for the exported archive")
	flags.Parse(args)

	mode, err := parseMode(*modeName)
	if err != nil {
		return err
	}
	if *out == "" {
		return errors.New("export: --out is required")
	}
	ctx := context.Background()
	a, err := openArchive(ctx, *dir, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	retained := a.DocsForExport(mode)
	path, err := a.Export(retained, mode, *out, *name)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d of %d documents to %s\n", len(retained), a.NDocuments(), path)
	return nil
}

func runMerge(args []string) error {
	flags := pflag.NewFlagSet("merge", pflag.ExitOnError)
	dir := flags.String("archive", ".", "target archive base directory")
	configPath := flags.String("config", "epadd.yaml", "configuration file")
	otherDir := flags.String("other", "", "archive to fold in")
	accession := flags.String("accession", "", "accession id for newly introduced documents")
	flags.Parse(args)

	if *otherDir == "" {
		return errors.New("merge: --other is required")
	}
	ctx := context.Background()
	a, err := openArchive(ctx, *dir, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := openArchive(ctx, *otherDir, *configPath)
	if err != nil {
		return err
	}
	defer b.Close()

	result, err := a.Merge(ctx, b, *accession)
	if err != nil {
		return err
	}
	fmt.Printf("merged: %d + %d messages, %d common, %d final\n",
		result.NMessagesInCollection, result.NMessagesInAccession,
		result.NCommonMessages, result.NFinalMessages)
	fmt.Printf("contacts: %d new, %d merged; labels: %d new, %d clashed; lexicons: %d new, %d clashed\n",
		result.AddressBook.NNewContacts, result.AddressBook.NMergedContacts,
		len(result.Labels.NewLabels), len(result.Labels.ClashedLabels),
		len(result.NewLexicons), len(result.ClashedLexicons))
	return nil
}

func runStats(args []string) error {
	flags := pflag.NewFlagSet("stats", pflag.ExitOnError)
	dir := flags.String("archive", ".", "archive base directory")
	configPath := flags.String("config", "epadd.yaml", "configuration file")
	flags.Parse(args)

	ctx := context.Background()
	a, err := openArchive(ctx, *dir, *configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.FetchStats(ctx)
	if err != nil {
		return err
	}
	meta := a.Metadata()
	fmt.Printf("%s: %d documents, %d unique blobs\n", meta.Title, meta.NDocs, meta.NBlobs)
	for _, fs := range runs {
		fmt.Printf("%s  %s  %d messages, %d errors (%s)\n",
			fs.Started.Format("2006-01-02 15:04:05"), fs.Source,
			fs.NMessages, fs.NErrors, fs.Ended.Sub(fs.Started).Round(time.Millisecond))
	}
	return a.ListFolderBookmarks(ctx, func(accountKey, folderName string, seenSeq int64) error {
		fmt.Printf("bookmark %s/%s at %d\n", accountKey, folderName, seenSeq)
		return nil
	})
}
