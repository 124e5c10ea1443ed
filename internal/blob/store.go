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

package blob

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

const (
	dirFileMode  = 0700
	blobFileMode = 0600

	indexFileName = "index.json"
	blobSuffix    = ".zst"

	pathFarm16 = "abcdefghijklmnop"
)

// Blobs are stored zstd-compressed. A single encoder/decoder pair is
// shared by all stores; EncodeAll/DecodeAll are safe for concurrent
// use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// entry is the persisted record for one unique content hash.
type entry struct {
	Names []string `json:"names"`
	Size  int64    `json:"size"`
}

// Store is a content-addressable attachment store rooted at a single
// directory. Content is deduplicated by hash; the same bytes stored
// under two names occupy one file. Mutating methods are safe for
// concurrent callers.
type Store struct {
	mu      sync.Mutex
	dir     string
	entries map[Hash]*entry
}

// Open opens the store in dir, creating the directory farm and an
// empty index if none exists.
func Open(dir string) (*Store, error) {
	if err := mkdirfarm(dir, 2); err != nil {
		return nil, errors.Wrapf(err, "unable to prepare blob directory %q", dir)
	}
	s := &Store{dir: dir, entries: make(map[Hash]*entry)}
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read blob index")
	}
	raw := make(map[string]*entry)
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "unable to decode blob index")
	}
	for k, v := range raw {
		h, err := ParseHash(k)
		if err != nil {
			return nil, errors.Wrapf(err, "bad hash %q in blob index", k)
		}
		s.entries[h] = v
	}
	return s, nil
}

// Dir returns the directory the store is rooted at.
func (s *Store) Dir() string { return s.dir }

// UniqueBlobs returns the number of distinct contents stored.
func (s *Store) UniqueBlobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Put stores content under name and returns its ref. If identical
// content is already present the existing blob is reused and only the
// name list is extended.
func (s *Store) Put(name string, content []byte) (Ref, error) {
	h := HashContent(content)
	ref := Ref{Name: name, Hash: h, Size: int64(len(content))}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[h]; ok {
		addName(e, name)
		return ref, s.saveIndexLocked()
	}

	path := s.blobPath(h)
	compressed := zstdEncoder.EncodeAll(content, nil)
	if err := os.WriteFile(path, compressed, blobFileMode); err != nil {
		return Ref{}, errors.Wrapf(err, "unable to write blob %v", h)
	}
	s.entries[h] = &entry{Names: []string{name}, Size: int64(len(content))}
	return ref, s.saveIndexLocked()
}

// Get returns the uncompressed content for the given hash.
func (s *Store) Get(h Hash) ([]byte, error) {
	s.mu.Lock()
	_, ok := s.entries[h]
	s.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("blob %v not in store", h)
	}
	compressed, err := os.ReadFile(s.blobPath(h))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read blob %v", h)
	}
	data, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decompress blob %v", h)
	}
	return data, nil
}

// Contains reports whether content with the given hash is stored.
func (s *Store) Contains(h Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[h]
	return ok
}

// Names returns all names ever recorded for stored blobs, in sorted
// order.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for _, e := range s.entries {
		for _, n := range e.Names {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return names
}

// CreateCopy materializes a new store in dir containing only the
// blobs whose hashes appear in keep. Returned refs from the old store
// are not valid against the copy; callers must re-resolve.
func (s *Store) CreateCopy(dir string, keep map[Hash]bool) (*Store, error) {
	out, err := Open(dir)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, e := range s.entries {
		if !keep[h] {
			continue
		}
		data, err := os.ReadFile(s.blobPath(h))
		if err != nil {
			return nil, errors.Wrapf(err, "unable to copy blob %v", h)
		}
		if err := os.WriteFile(out.blobPath(h), data, blobFileMode); err != nil {
			return nil, errors.Wrapf(err, "unable to copy blob %v", h)
		}
		out.entries[h] = &entry{Names: append([]string(nil), e.Names...), Size: e.Size}
	}
	if err := out.saveIndexLocked(); err != nil {
		return nil, err
	}
	return out, nil
}

// MoveFrom copies the blob with the given hash out of src into this
// store. Content already present is not duplicated; the name list is
// merged.
func (s *Store) MoveFrom(src *Store, ref Ref) error {
	src.mu.Lock()
	se, ok := src.entries[ref.Hash]
	src.mu.Unlock()
	if !ok {
		return errors.Errorf("blob %v not in source store", ref.Hash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[ref.Hash]; ok {
		for _, n := range se.Names {
			addName(e, n)
		}
		return s.saveIndexLocked()
	}
	data, err := os.ReadFile(src.blobPath(ref.Hash))
	if err != nil {
		return errors.Wrapf(err, "unable to read source blob %v", ref.Hash)
	}
	if err := os.WriteFile(s.blobPath(ref.Hash), data, blobFileMode); err != nil {
		return errors.Wrapf(err, "unable to write blob %v", ref.Hash)
	}
	s.entries[ref.Hash] = &entry{Names: append([]string(nil), se.Names...), Size: se.Size}
	return s.saveIndexLocked()
}

// Pack compacts the on-disk representation: blob files not reachable
// from the index are removed. Pack is idempotent and a no-op on an
// already packed store.
func (s *Store) Pack() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := make(map[string]bool, len(s.entries))
	for h := range s.entries {
		live[s.blobPath(h)] = true
	}
	var firstErr error
	err := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Base(path) == indexFileName {
			return nil
		}
		if live[path] {
			return nil
		}
		if err := os.Remove(path); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "unable to remove orphaned blob %q", path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "pack failed walking blob directory")
	}
	if firstErr != nil {
		return firstErr
	}
	return s.saveIndexLocked()
}

func (s *Store) saveIndexLocked() error {
	raw := make(map[string]*entry, len(s.entries))
	for h, e := range s.entries {
		raw[h.String()] = e
	}
	data, err := json.MarshalIndent(raw, "", " ")
	if err != nil {
		return errors.Wrap(err, "unable to encode blob index")
	}
	if err := os.WriteFile(filepath.Join(s.dir, indexFileName), data, blobFileMode); err != nil {
		return errors.Wrap(err, "unable to write blob index")
	}
	return nil
}

// blobPath returns the on-disk path for a hash: two fan-out levels
// derived from the leading hash nibbles, then the full hex name.
func (s *Store) blobPath(h Hash) string {
	n1 := h[0] & 0xf
	n2 := (h[0] >> 4) & 0xf
	return filepath.Join(s.dir, pathFarm16[n1:n1+1], pathFarm16[n2:n2+1], h.String()+blobSuffix)
}

func addName(e *entry, name string) {
	for _, n := range e.Names {
		if n == name {
			return
		}
	}
	e.Names = append(e.Names, name)
}

func mkdir(dir string) error {
	if err := os.Mkdir(dir, dirFileMode); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func mkdirfarm(path string, depth int) error {
	if err := os.MkdirAll(path, dirFileMode); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}
	for i := 0; i < len(pathFarm16); i++ {
		sub := filepath.Join(path, pathFarm16[i:i+1])
		if err := mkdir(sub); err != nil {
			return err
		}
		if err := mkdirfarm(sub, depth-1); err != nil {
			return err
		}
	}
	return nil
}
