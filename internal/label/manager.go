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

package label

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harvard-lts/epadd/internal/document"

	"github.com/pkg/errors"
)

// ExportMode names the target stage of an export. Each mode has its
// own inclusion and redaction rules.
type ExportMode int

const (
	AppraisalToProcessing ExportMode = iota
	ProcessingToDelivery
	ProcessingToDiscovery
)

func (m ExportMode) String() string {
	switch m {
	case AppraisalToProcessing:
		return "appraisal-to-processing"
	case ProcessingToDelivery:
		return "processing-to-delivery"
	case ProcessingToDiscovery:
		return "processing-to-discovery"
	default:
		return "unknown"
	}
}

const saveFileName = "labels.json"

// Manager assigns label sets to documents. Assignment is pure set
// manipulation with no history. Safe for concurrent callers.
type Manager struct {
	mu        sync.Mutex
	labels    map[string]Label
	docLabels map[string]map[string]bool

	// now is the clock used to resolve timed restrictions.
	// Replaceable in tests.
	now func() time.Time
}

// MergeResult reports the outcome of folding one manager's state
// into another.
type MergeResult struct {
	NLabelsInCollection int
	NLabelsInAccession  int
	NewLabels           []string // label ids copied in
	ClashedLabels       []string // ids present on both sides; existing definition kept
}

// NewManager returns a manager pre-seeded with the reserved
// do-not-transfer system label.
func NewManager() *Manager {
	m := &Manager{
		labels:    make(map[string]Label),
		docLabels: make(map[string]map[string]bool),
		now:       time.Now,
	}
	m.labels[IDDoNotTransfer] = Label{
		ID:          IDDoNotTransfer,
		Name:        "Do not transfer",
		Description: "Excluded from transfer out of appraisal",
		Type:        Restriction,
		SysLabel:    true,
		Restriction: Other,
	}
	return m
}

// DefineLabel adds or replaces a label definition.
func (m *Manager) DefineLabel(l Label) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[l.ID] = l
}

// Label returns the definition for id.
func (m *Manager) Label(id string) (Label, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.labels[id]
	return l, ok
}

// AllLabels returns every defined label, sorted by id.
func (m *Manager) AllLabels() []Label {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Label, 0, len(m.labels))
	for _, l := range m.labels {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetLabels adds the given label ids to the document's set.
func (m *Manager) SetLabels(docID string, labelIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.docLabels[docID]
	if set == nil {
		set = make(map[string]bool)
		m.docLabels[docID] = set
	}
	for _, id := range labelIDs {
		set[id] = true
	}
}

// UnsetLabels removes the given label ids from the document's set.
func (m *Manager) UnsetLabels(docID string, labelIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.docLabels[docID]
	for _, id := range labelIDs {
		delete(set, id)
	}
}

// ReplaceLabels makes the document's set exactly labelIDs.
func (m *Manager) ReplaceLabels(docID string, labelIDs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(labelIDs))
	for _, id := range labelIDs {
		set[id] = true
	}
	m.docLabels[docID] = set
}

// LabelIDs returns the document's label ids, sorted.
func (m *Manager) LabelIDs(docID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.labelIDsLocked(docID)
}

func (m *Manager) labelIDsLocked(docID string) []string {
	set := m.docLabels[docID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasLabel reports whether the document carries the given label.
func (m *Manager) HasLabel(docID, labelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docLabels[docID][labelID]
}

// ExportableDocuments computes the subset of docs releasable under
// mode, preserving the input order.
//
// Appraisal-to-processing excludes only documents carrying the
// reserved do-not-transfer label. Delivery and discovery exclude any
// document with a general (non-timed) restriction, and release a
// document with timed restrictions only when every one of them has
// individually expired: a single live timed restriction holds the
// document back. A document whose date cannot be resolved is
// conservatively excluded whenever a timed restriction applies to it.
func (m *Manager) ExportableDocuments(docs []document.Document, mode ExportMode) []document.Document {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var out []document.Document
	for _, d := range docs {
		if m.exportableLocked(d, mode, now) {
			out = append(out, d)
		}
	}
	return out
}

func (m *Manager) exportableLocked(d document.Document, mode ExportMode, now time.Time) bool {
	ids := m.docLabels[d.UniqueID()]
	if mode == AppraisalToProcessing {
		return !ids[IDDoNotTransfer]
	}

	// Delivery and discovery share the restriction partition: any
	// general restriction excludes; timed restrictions must all have
	// expired.
	docDate, dateOK := d.Date()
	for id := range ids {
		l, ok := m.labels[id]
		if !ok || l.Type != Restriction {
			continue
		}
		if !l.Timed() {
			return false
		}
		if !l.Expired(docDate, dateOK, now) {
			return false
		}
	}
	return true
}

// ForExport returns a new manager restricted to the retained document
// ids, so an exported archive's label table matches exactly the
// documents it contains. Label definitions carry over unchanged; in
// appraisal-to-processing mode the do-not-transfer assignments are
// dropped as well, since no exported document may carry it.
func (m *Manager) ForExport(retainedDocIDs map[string]bool, mode ExportMode) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &Manager{
		labels:    make(map[string]Label, len(m.labels)),
		docLabels: make(map[string]map[string]bool),
		now:       m.now,
	}
	for id, l := range m.labels {
		out.labels[id] = l
	}
	for docID, set := range m.docLabels {
		if !retainedDocIDs[docID] {
			continue
		}
		cp := make(map[string]bool, len(set))
		for id := range set {
			if mode == AppraisalToProcessing && id == IDDoNotTransfer {
				continue
			}
			cp[id] = true
		}
		out.docLabels[docID] = cp
	}
	return out
}

// Merge folds other's label definitions and assignments into m. A
// label id defined on both sides keeps this manager's definition and
// is reported as a clash. Document assignments are unioned.
func (m *Manager) Merge(other *Manager) MergeResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()

	result := MergeResult{
		NLabelsInCollection: len(m.labels),
		NLabelsInAccession:  len(other.labels),
	}
	for id, l := range other.labels {
		if _, ok := m.labels[id]; ok {
			result.ClashedLabels = append(result.ClashedLabels, id)
			continue
		}
		m.labels[id] = l
		result.NewLabels = append(result.NewLabels, id)
	}
	sort.Strings(result.NewLabels)
	sort.Strings(result.ClashedLabels)

	for docID, set := range other.docLabels {
		dst := m.docLabels[docID]
		if dst == nil {
			dst = make(map[string]bool, len(set))
			m.docLabels[docID] = dst
		}
		for id := range set {
			dst[id] = true
		}
	}
	return result
}

// savedState is the on-disk shape under LabelMapper/labels.json.
type savedState struct {
	Labels    []Label             `json:"labels"`
	DocLabels map[string][]string `json:"docLabels"`
}

// Save writes the manager to dir as its own independently persisted
// sub-store.
func (m *Manager) Save(dir string) error {
	m.mu.Lock()
	state := savedState{DocLabels: make(map[string][]string, len(m.docLabels))}
	for _, l := range m.labels {
		state.Labels = append(state.Labels, l)
	}
	sort.Slice(state.Labels, func(i, j int) bool { return state.Labels[i].ID < state.Labels[j].ID })
	for docID := range m.docLabels {
		state.DocLabels[docID] = m.labelIDsLocked(docID)
	}
	m.mu.Unlock()

	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrapf(err, "unable to create label dir %q", dir)
	}
	data, err := json.MarshalIndent(state, "", " ")
	if err != nil {
		return errors.Wrap(err, "unable to encode label manager")
	}
	if err := os.WriteFile(filepath.Join(dir, saveFileName), data, 0600); err != nil {
		return errors.Wrap(err, "unable to write label manager")
	}
	return nil
}

// Load reads a manager saved by Save. A missing file yields a fresh
// manager.
func Load(dir string) (*Manager, error) {
	data, err := os.ReadFile(filepath.Join(dir, saveFileName))
	if os.IsNotExist(err) {
		return NewManager(), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read label manager")
	}
	var state savedState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, errors.Wrap(err, "unable to decode label manager")
	}
	m := NewManager()
	for _, l := range state.Labels {
		m.labels[l.ID] = l
	}
	for docID, ids := range state.DocLabels {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		m.docLabels[docID] = set
	}
	return m, nil
}
