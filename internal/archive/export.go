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
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/harvard-lts/epadd/internal/blob"
	"github.com/harvard-lts/epadd/internal/document"
	"github.com/harvard-lts/epadd/internal/entity"
	"github.com/harvard-lts/epadd/internal/index"
	"github.com/harvard-lts/epadd/internal/label"
)

// Export materializes a new self-contained archive directory at
// outDir holding only the retained documents, with mode's redaction
// rules applied. Any pre-existing directory at outDir is destroyed.
// The source archive is left unchanged, in memory and on disk outside
// outDir. The exported session is saved under name.
func (a *Archive) Export(retained []document.Document, mode label.ExportMode, outDir, name string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	discovery := mode == label.ProcessingToDiscovery

	if err := os.RemoveAll(outDir); err != nil {
		return "", errors.Wrapf(err, "unable to clear output directory %q", outDir)
	}
	for _, dir := range []string{
		BlobsDir, TmpDir, SessionsDir, MixturesDir, ImagesDir, LabelMapperDir,
	} {
		if err := mkdir(filepath.Join(outDir, dir)); err != nil {
			return "", err
		}
	}

	// Auxiliary directories are optional; a failed copy is logged
	// and skipped. Discovery exports carry no lexicons.
	var g errgroup.Group
	aux := []string{MixturesDir, ImagesDir}
	if !discovery {
		aux = append(aux, LexiconsDir)
	}
	for _, dir := range aux {
		dir := dir
		g.Go(func() error {
			src := filepath.Join(a.baseDir, dir)
			if _, err := os.Stat(src); os.IsNotExist(err) {
				return nil
			}
			if err := copyDir(src, filepath.Join(outDir, dir)); err != nil {
				a.warnf("export: unable to copy %s: %v", dir, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		src := filepath.Join(a.baseDir, AuthoritiesFile)
		if _, err := os.Stat(src); os.IsNotExist(err) {
			return nil
		}
		if err := copyFile(src, filepath.Join(outDir, AuthoritiesFile)); err != nil {
			a.warnf("export: unable to copy authorities file: %v", err)
		}
		return nil
	})
	g.Wait()

	retainedIDs := make(map[string]bool, len(retained))
	for _, d := range retained {
		retainedIDs[d.UniqueID()] = true
	}

	// Swap in the working state; everything below operates on it, and
	// the source state is restored before returning.
	origDocs, origLabels, origBlobs, origBaseDir := a.docs, a.labels, a.blobs, a.baseDir
	defer func() {
		a.docs, a.labels, a.blobs, a.baseDir = origDocs, origLabels, origBlobs, origBaseDir
		a.invalidateCachesLocked()
	}()

	exportDocs := make([]document.Document, 0, len(retained))
	for _, d := range retained {
		cp := d.CopyMutable()
		if discovery {
			cp.SetSubject(entity.RetainOnlyNames(cp.Subject(), a.recognizer, a.entityBook))
			cp.SetComment(entity.RetainOnlyNames(cp.Comment(), a.recognizer, a.entityBook))
		}
		exportDocs = append(exportDocs, cp)
	}
	a.docs = exportDocs
	a.labels = origLabels.ForExport(retainedIDs, mode)
	a.baseDir = outDir

	msgFn := func(m *index.Message) (*index.Message, bool) {
		if !retainedIDs[m.DocID] {
			return nil, false
		}
		if discovery {
			kept := *m
			kept.Subject = entity.RetainOnlyNames(m.Subject, a.recognizer, a.entityBook)
			kept.Body = entity.RetainOnlyNames(m.Body, a.recognizer, a.entityBook)
			return &kept, true
		}
		return m, true
	}
	attFn := func(att *index.Attachment) bool {
		if discovery {
			return false
		}
		return retainedIDs[att.EmailDocID]
	}
	if err := a.idx.FilteredCopy(filepath.Join(outDir, IndexesDir), msgFn, attFn); err != nil {
		return "", errors.Wrap(err, "unable to copy index")
	}

	if discovery {
		// Discovery exports carry no attachments at all.
		empty, err := blob.Open(filepath.Join(outDir, BlobsDir))
		if err != nil {
			return "", errors.Wrap(err, "unable to create blob store")
		}
		a.blobs = empty
	} else {
		keep := make(map[blob.Hash]bool)
		for _, d := range exportDocs {
			for _, ref := range d.Attachments() {
				keep[ref.Hash] = true
			}
		}
		copied, err := origBlobs.CreateCopy(filepath.Join(outDir, BlobsDir), keep)
		if err != nil {
			return "", errors.Wrap(err, "unable to copy blob store")
		}
		a.blobs = copied
	}

	if err := a.saveSessionLocked(name); err != nil {
		return "", errors.Wrap(err, "unable to save exported session")
	}
	return outDir, nil
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return mkdir(target)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "unable to open %q", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "unable to create %q", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "unable to copy to %q", dst)
	}
	return errors.Wrapf(out.Close(), "unable to close %q", dst)
}
