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
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/harvard-lts/epadd/internal/document"
)

const (
	defaultSessionName = "default"
	sessionSuffix      = ".session.json"
)

// sessionManifest is the serialized shape of the archive's durable
// in-memory state. The derived caches are never serialized; they are
// recomputed from the document list. The address book, entity book,
// and label manager are independently persisted sub-stores saved at
// their own fixed names, not embedded here.
type sessionManifest struct {
	Name            string                    `json:"name"`
	SavedAt         time.Time                 `json:"savedAt"`
	BaseAccessionID string                    `json:"baseAccessionId,omitempty"`
	Metadata        ProcessingMetadata        `json:"metadata"`
	Documents       []*document.EmailDocument `json:"documents"`
}

// SaveSession persists the archive's state under its base directory:
// the manifest under sessions/, and each sub-store at its fixed name.
func (a *Archive) SaveSession(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveSessionLocked(name)
}

func (a *Archive) saveSessionLocked(name string) error {
	manifest := sessionManifest{
		Name:            name,
		SavedAt:         time.Now(),
		BaseAccessionID: a.baseAccessionID,
		Metadata:        a.meta,
	}
	manifest.Metadata.NDocs = len(a.docs)
	manifest.Metadata.NBlobs = a.blobs.UniqueBlobs()
	for _, d := range a.docs {
		ed, ok := d.(*document.EmailDocument)
		if !ok {
			a.warnf("session %q: skipping non-email document %q", name, d.UniqueID())
			continue
		}
		manifest.Documents = append(manifest.Documents, ed)
	}

	data, err := json.MarshalIndent(manifest, "", " ")
	if err != nil {
		return errors.Wrap(err, "unable to encode session")
	}
	path := filepath.Join(a.baseDir, SessionsDir, name+sessionSuffix)
	if err := mkdir(filepath.Dir(path)); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrapf(err, "unable to write session %q", name)
	}

	a.addressBook.OrganizeContacts()
	if err := a.addressBook.Save(filepath.Join(a.baseDir, AddressBookFile)); err != nil {
		return err
	}
	if err := a.entityBook.Save(filepath.Join(a.baseDir, EntityBookFile)); err != nil {
		return err
	}
	return a.labels.Save(filepath.Join(a.baseDir, LabelMapperDir))
}

// loadDefaultSession restores the document list from the default
// session manifest, if one exists. Sub-stores are loaded separately
// at open time.
func (a *Archive) loadDefaultSession() error {
	path := filepath.Join(a.baseDir, SessionsDir, defaultSessionName+sessionSuffix)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "unable to read session")
	}
	var manifest sessionManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return errors.Wrap(err, "unable to decode session")
	}

	if manifest.BaseAccessionID != "" {
		a.baseAccessionID = manifest.BaseAccessionID
	}
	// The manifest is the durable metadata record; configuration
	// overrides only the descriptive fields it actually sets.
	// Accumulated state such as accession ids always comes from the
	// manifest.
	cfgMeta := a.meta
	a.meta = manifest.Metadata
	if cfgMeta.Title != "" {
		a.meta.Title = cfgMeta.Title
	}
	if cfgMeta.OwnerName != "" {
		a.meta.OwnerName = cfgMeta.OwnerName
	}
	if len(cfgMeta.OwnerAddresses) > 0 {
		a.meta.OwnerAddresses = cfgMeta.OwnerAddresses
	}
	for _, ed := range manifest.Documents {
		sig := ed.Signature()
		if a.sigs[sig] {
			a.warnf("session %q: duplicate document %q", manifest.Name, ed.UniqueID())
			continue
		}
		a.docs = append(a.docs, ed)
		a.sigs[sig] = true
	}
	return nil
}

func mkdir(dir string) error {
	return errors.Wrapf(os.MkdirAll(dir, 0700), "unable to create directory %q", dir)
}
