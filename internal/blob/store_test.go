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
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPutDedupesByContent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("Open() = %v, want nil", err)
	}
	content := []byte("the same attachment bytes")
	r1, err := s.Put("report.pdf", content)
	if err != nil {
		t.Fatalf("Put(report.pdf) = %v, want nil", err)
	}
	r2, err := s.Put("copy-of-report.pdf", content)
	if err != nil {
		t.Fatalf("Put(copy-of-report.pdf) = %v, want nil", err)
	}
	if r1.Hash != r2.Hash {
		t.Errorf("hashes differ for identical content: %v vs %v", r1.Hash, r2.Hash)
	}
	if got, want := s.UniqueBlobs(), 1; got != want {
		t.Errorf("UniqueBlobs() = %d, want %d", got, want)
	}
	if err := s.Pack(); err != nil {
		t.Fatalf("Pack() = %v, want nil", err)
	}
	if got, want := s.UniqueBlobs(), 1; got != want {
		t.Errorf("UniqueBlobs() after Pack() = %d, want %d", got, want)
	}
}

func TestGetRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "blobs"))
	if err != nil {
		t.Fatalf("Open() = %v, want nil", err)
	}
	content := []byte("some binary\x00content")
	ref, err := s.Put("a.bin", content)
	if err != nil {
		t.Fatalf("Put() = %v, want nil", err)
	}
	got, err := s.Get(ref.Hash)
	if err != nil {
		t.Fatalf("Get() = %v, want nil", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("Get() = %q, want %q", got, content)
	}
}

func TestOpenReloadsIndex(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() = %v, want nil", err)
	}
	ref, err := s.Put("a.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Put() = %v, want nil", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("re-Open() = %v, want nil", err)
	}
	if !reopened.Contains(ref.Hash) {
		t.Errorf("reopened store does not contain %v", ref.Hash)
	}
	got, err := reopened.Get(ref.Hash)
	if err != nil {
		t.Fatalf("Get() after reopen = %v, want nil", err)
	}
	if string(got) != "hello" {
		t.Errorf("Get() after reopen = %q, want %q", got, "hello")
	}
}

func TestCreateCopyKeepsOnlySubset(t *testing.T) {
	tmp := t.TempDir()
	s, err := Open(filepath.Join(tmp, "blobs"))
	if err != nil {
		t.Fatalf("Open() = %v, want nil", err)
	}
	keepRef, err := s.Put("keep.txt", []byte("keep me"))
	if err != nil {
		t.Fatalf("Put(keep) = %v, want nil", err)
	}
	dropRef, err := s.Put("drop.txt", []byte("drop me"))
	if err != nil {
		t.Fatalf("Put(drop) = %v, want nil", err)
	}

	out, err := s.CreateCopy(filepath.Join(tmp, "out"), map[Hash]bool{keepRef.Hash: true})
	if err != nil {
		t.Fatalf("CreateCopy() = %v, want nil", err)
	}
	if !out.Contains(keepRef.Hash) {
		t.Errorf("copy is missing kept blob %v", keepRef.Hash)
	}
	if out.Contains(dropRef.Hash) {
		t.Errorf("copy contains dropped blob %v", dropRef.Hash)
	}
	// The source is untouched.
	if !s.Contains(dropRef.Hash) {
		t.Errorf("source lost blob %v after CreateCopy", dropRef.Hash)
	}
}

func TestPackRemovesOrphans(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blobs")
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() = %v, want nil", err)
	}
	if _, err := s.Put("a.txt", []byte("live")); err != nil {
		t.Fatalf("Put() = %v, want nil", err)
	}
	// Simulate an orphan left behind by an interrupted copy.
	orphan := filepath.Join(dir, "a", "a", "deadbeef"+blobSuffix)
	if err := os.WriteFile(orphan, []byte("junk"), 0600); err != nil {
		t.Fatalf("writing orphan: %v", err)
	}

	if err := s.Pack(); err != nil {
		t.Fatalf("Pack() = %v, want nil", err)
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Errorf("orphan %q still present after Pack()", orphan)
	}
	// Idempotent: a second pack changes nothing and succeeds.
	if err := s.Pack(); err != nil {
		t.Errorf("second Pack() = %v, want nil", err)
	}
	if got, want := s.UniqueBlobs(), 1; got != want {
		t.Errorf("UniqueBlobs() = %d, want %d", got, want)
	}
}

func TestMoveFromDedupes(t *testing.T) {
	tmp := t.TempDir()
	src, err := Open(filepath.Join(tmp, "src"))
	if err != nil {
		t.Fatalf("Open(src) = %v, want nil", err)
	}
	dst, err := Open(filepath.Join(tmp, "dst"))
	if err != nil {
		t.Fatalf("Open(dst) = %v, want nil", err)
	}
	ref, err := src.Put("shared.txt", []byte("shared content"))
	if err != nil {
		t.Fatalf("Put() = %v, want nil", err)
	}
	if _, err := dst.Put("already-here.txt", []byte("shared content")); err != nil {
		t.Fatalf("Put() = %v, want nil", err)
	}

	if err := dst.MoveFrom(src, ref); err != nil {
		t.Fatalf("MoveFrom() = %v, want nil", err)
	}
	if got, want := dst.UniqueBlobs(), 1; got != want {
		t.Errorf("UniqueBlobs() = %d, want %d", got, want)
	}
}
