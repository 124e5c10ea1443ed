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

package persist

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	createTableSql = []string{
		// The folder_bookmarks table holds the incremental fetch
		// high-water mark for each (account, folder) pair.
		//
		// Field: account_key
		//
		//   Opaque key identifying the account a folder was fetched
		//   from. The pair (account_key, folder_name) is the bookmark
		//   key.
		//
		// Field: folder_name
		//
		//   The long (fully qualified) folder name as reported by the
		//   fetch source.
		//
		// Field: last_seen_seq
		//
		//   Highest message sequence number already fetched from this
		//   folder. Only ever advanced, never decreased: concurrent
		//   updates for the same key take the maximum. A missing row
		//   means the folder has never been fetched.
		`
CREATE TABLE IF NOT EXISTS folder_bookmarks (
account_key TEXT NOT NULL,
folder_name TEXT NOT NULL,
last_seen_seq INTEGER NOT NULL,
PRIMARY KEY (account_key, folder_name)
);`,
		// The doc_accessions table is the provenance side table
		// mapping a document id to the accession that introduced it.
		//
		// Notes:
		//
		// Documents introduced by the archive's base accession have no
		// row here; the base accession id is the default. This keeps
		// the table sparse for the common single-accession case.
		`
CREATE TABLE IF NOT EXISTS doc_accessions (
doc_id TEXT NOT NULL PRIMARY KEY,
accession_id TEXT NOT NULL
);`,
		// The fetch_stats table records one row per ingestion run.
		`
CREATE TABLE IF NOT EXISTS fetch_stats (
started INTEGER NOT NULL,
ended INTEGER NOT NULL,
source TEXT NOT NULL,
n_messages INTEGER NOT NULL,
n_errors INTEGER NOT NULL
);`,
	}
)

// DB wraps the archive's sqlite database holding folder bookmarks,
// accession provenance and per-run fetch statistics. The tables are
// derived, rebuildable indexes over the archive's durable state; it
// is always safe to re-run inserts with the same values.
type DB struct {
	db *sql.DB
}

type Tx struct {
	tx *sql.Tx
}

// FetchStats summarizes one ingestion run.
type FetchStats struct {
	Started   time.Time
	Ended     time.Time
	Source    string
	NMessages int
	NErrors   int
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func Open(ctx context.Context, path string) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up. The default of 5
	// seconds is too short when an export and an ingestion overlap;
	// go with 5 minutes.
	var busyTimeout = int(5*time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, sql := range createTableSql {
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}

	return nil
}

// UpsertFolderBookmark inserts or advances the bookmark for the given
// (account, folder) pair. A bookmark never decreases: when a row
// exists the stored value becomes max(existing, seenSeq).
func (tx *Tx) UpsertFolderBookmark(ctx context.Context, accountKey, folderName string, seenSeq int64) error {
	sql := `INSERT INTO folder_bookmarks
		(account_key, folder_name, last_seen_seq) values ($1, $2, $3)
		ON CONFLICT (account_key, folder_name)
		DO UPDATE SET last_seen_seq = MAX(last_seen_seq, excluded.last_seen_seq)`
	if _, err := tx.tx.ExecContext(ctx, sql, accountKey, folderName, seenSeq); err != nil {
		return errors.Wrap(err, "db upsert failed for folder bookmark")
	}
	return nil
}

// FolderBookmark returns the last seen sequence number for the given
// (account, folder) pair, or -1 if the folder has never been fetched.
func (tx *Tx) FolderBookmark(ctx context.Context, accountKey, folderName string) (int64, error) {
	const q = `SELECT last_seen_seq FROM folder_bookmarks
WHERE account_key = $1 AND folder_name = $2`
	row := tx.tx.QueryRowContext(ctx, q, accountKey, folderName)
	var seq int64
	if err := row.Scan(&seq); err != nil {
		if err == sql.ErrNoRows {
			return -1, nil
		}
		return -1, errors.Wrap(err, "db scan failed for folder bookmark")
	}
	return seq, nil
}

// ListFolderBookmarks streams every bookmark to handler.
func (tx *Tx) ListFolderBookmarks(ctx context.Context, handler func(accountKey, folderName string, seenSeq int64) error) error {
	const q = `SELECT account_key, folder_name, last_seen_seq FROM folder_bookmarks`
	rows, err := tx.tx.QueryContext(ctx, q)
	if err != nil {
		return errors.Wrap(err, "db query failed in ListFolderBookmarks")
	}
	defer rows.Close()

	for rows.Next() {
		var account, folder string
		var seq int64
		if err := rows.Scan(&account, &folder, &seq); err != nil {
			return errors.Wrap(err, "db scan failed in ListFolderBookmarks")
		}
		if err := handler(account, folder, seq); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SetDocAccession records the accession that introduced a document.
func (tx *Tx) SetDocAccession(ctx context.Context, docID, accessionID string) error {
	sql := `INSERT OR REPLACE INTO doc_accessions (doc_id, accession_id) values ($1, $2)`
	if _, err := tx.tx.ExecContext(ctx, sql, docID, accessionID); err != nil {
		return errors.Wrap(err, "db insert failed for doc accession")
	}
	return nil
}

// DocAccession returns the accession id recorded for docID, or ""
// when the document belongs to the base accession.
func (tx *Tx) DocAccession(ctx context.Context, docID string) (string, error) {
	const q = `SELECT accession_id FROM doc_accessions WHERE doc_id = $1`
	row := tx.tx.QueryRowContext(ctx, q, docID)
	var id string
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", errors.Wrap(err, "db scan failed for doc accession")
	}
	return id, nil
}

// InsertFetchStats appends one ingestion run record.
func (tx *Tx) InsertFetchStats(ctx context.Context, fs FetchStats) error {
	sql := `INSERT INTO fetch_stats (started, ended, source, n_messages, n_errors)
		values ($1, $2, $3, $4, $5)`
	_, err := tx.tx.ExecContext(ctx, sql,
		fs.Started.Unix(), fs.Ended.Unix(), fs.Source, fs.NMessages, fs.NErrors)
	if err != nil {
		return errors.Wrap(err, "db insert failed for fetch stats")
	}
	return nil
}

// ListFetchStats returns all ingestion run records in insertion
// order.
func (tx *Tx) ListFetchStats(ctx context.Context) ([]FetchStats, error) {
	const q = `SELECT started, ended, source, n_messages, n_errors FROM fetch_stats`
	rows, err := tx.tx.QueryContext(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in ListFetchStats")
	}
	defer rows.Close()

	var all []FetchStats
	for rows.Next() {
		var fs FetchStats
		var started, ended int64
		if err := rows.Scan(&started, &ended, &fs.Source, &fs.NMessages, &fs.NErrors); err != nil {
			return nil, errors.Wrap(err, "db scan failed in ListFetchStats")
		}
		fs.Started = time.Unix(started, 0).UTC()
		fs.Ended = time.Unix(ended, 0).UTC()
		all = append(all, fs)
	}
	return all, rows.Err()
}
