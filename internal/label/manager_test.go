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
	"testing"
	"time"

	"github.com/harvard-lts/epadd/internal/document"

	"github.com/google/go-cmp/cmp"
)

var testNow = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func testManager() *Manager {
	m := NewManager()
	m.now = func() time.Time { return testNow }
	m.DefineLabel(Label{ID: "topic", Name: "Topic", Type: General})
	m.DefineLabel(Label{ID: "restricted", Name: "Restricted", Type: Restriction, Restriction: Other})
	// Expired relative to a 1990s document date.
	m.DefineLabel(Label{ID: "r10y", Name: "Restricted 10 years", Type: Restriction, Restriction: ForYears, RestrictedForYears: 10})
	// Not expired for any plausible document date in these tests.
	m.DefineLabel(Label{ID: "r100y", Name: "Restricted 100 years", Type: Restriction, Restriction: ForYears, RestrictedForYears: 100})
	m.DefineLabel(Label{ID: "until-past", Type: Restriction, Restriction: Until, RestrictedUntil: testNow.AddDate(-1, 0, 0)})
	m.DefineLabel(Label{ID: "until-future", Type: Restriction, Restriction: Until, RestrictedUntil: testNow.AddDate(5, 0, 0)})
	return m
}

func doc(id string, date time.Time) document.Document {
	return &document.EmailDocument{ID: id, Title: "subject " + id, Time: date}
}

var docDate = time.Date(1995, 4, 1, 0, 0, 0, 0, time.UTC)

func exportableIDs(m *Manager, docs []document.Document, mode ExportMode) []string {
	ids := []string{}
	for _, d := range m.ExportableDocuments(docs, mode) {
		ids = append(ids, d.UniqueID())
	}
	return ids
}

func TestSetUnsetReplaceLabels(t *testing.T) {
	m := testManager()
	m.SetLabels("d1", []string{"topic", "restricted"})
	m.SetLabels("d1", []string{"topic"}) // idempotent
	if diff := cmp.Diff([]string{"restricted", "topic"}, m.LabelIDs("d1")); diff != "" {
		t.Errorf("LabelIDs mismatch after SetLabels (-want +got):\n%s", diff)
	}
	m.UnsetLabels("d1", []string{"restricted"})
	if diff := cmp.Diff([]string{"topic"}, m.LabelIDs("d1")); diff != "" {
		t.Errorf("LabelIDs mismatch after UnsetLabels (-want +got):\n%s", diff)
	}
	m.ReplaceLabels("d1", []string{"r10y"})
	if diff := cmp.Diff([]string{"r10y"}, m.LabelIDs("d1")); diff != "" {
		t.Errorf("LabelIDs mismatch after ReplaceLabels (-want +got):\n%s", diff)
	}
}

func TestAppraisalExcludesOnlyDoNotTransfer(t *testing.T) {
	m := testManager()
	docs := []document.Document{doc("d1", docDate), doc("d2", docDate), doc("d3", docDate)}
	m.SetLabels("d2", []string{IDDoNotTransfer})
	m.SetLabels("d3", []string{"restricted", "r100y"}) // restrictions don't matter at this stage

	got := exportableIDs(m, docs, AppraisalToProcessing)
	if diff := cmp.Diff([]string{"d1", "d3"}, got); diff != "" {
		t.Errorf("appraisal export mismatch (-want +got):\n%s", diff)
	}
}

func TestDeliveryExcludesGeneralRestriction(t *testing.T) {
	m := testManager()
	docs := []document.Document{doc("d1", docDate), doc("d2", docDate)}
	m.SetLabels("d1", []string{"restricted"})
	m.SetLabels("d2", []string{"topic"}) // general non-restriction label is fine

	got := exportableIDs(m, docs, ProcessingToDelivery)
	if diff := cmp.Diff([]string{"d2"}, got); diff != "" {
		t.Errorf("delivery export mismatch (-want +got):\n%s", diff)
	}
}

func TestGeneralRestrictionBeatsExpiredTimed(t *testing.T) {
	m := testManager()
	docs := []document.Document{doc("d1", docDate)}
	// r10y expired long ago for a 1995 document, but the general
	// restriction still excludes.
	m.SetLabels("d1", []string{"restricted", "r10y"})

	if got := exportableIDs(m, docs, ProcessingToDelivery); len(got) != 0 {
		t.Errorf("export = %v, want empty", got)
	}
}

func TestExportConjunctiveTimedRestrictions(t *testing.T) {
	m := testManager()
	docs := []document.Document{doc("d1", docDate)}
	// One expired, one live: conjunctive release keeps the document
	// back until every timed restriction has expired.
	m.SetLabels("d1", []string{"r10y", "r100y"})
	if got := exportableIDs(m, docs, ProcessingToDelivery); len(got) != 0 {
		t.Errorf("export with one live timed restriction = %v, want empty", got)
	}
	m.UnsetLabels("d1", []string{"r100y"})
	m.SetLabels("d1", []string{"until-past"})
	got := exportableIDs(m, docs, ProcessingToDiscovery)
	if diff := cmp.Diff([]string{"d1"}, got); diff != "" {
		t.Errorf("export with all timed restrictions expired (-want +got):\n%s", diff)
	}
}

func TestUnresolvableDateExcludedUnderTimedRestriction(t *testing.T) {
	m := testManager()
	dateless := doc("d1", time.Time{})
	m.SetLabels("d1", []string{"r10y"})
	if got := exportableIDs(m, []document.Document{dateless}, ProcessingToDelivery); len(got) != 0 {
		t.Errorf("dateless doc with timed restriction exported: %v", got)
	}

	// An Until restriction resolves from the wall clock alone, so a
	// dateless document can still be released by it.
	m.ReplaceLabels("d1", []string{"until-past"})
	got := exportableIDs(m, []document.Document{dateless}, ProcessingToDelivery)
	if diff := cmp.Diff([]string{"d1"}, got); diff != "" {
		t.Errorf("dateless doc with expired until-restriction (-want +got):\n%s", diff)
	}
}

func TestNoRestrictionLabelsIncluded(t *testing.T) {
	m := testManager()
	docs := []document.Document{doc("d1", docDate)}
	got := exportableIDs(m, docs, ProcessingToDiscovery)
	if diff := cmp.Diff([]string{"d1"}, got); diff != "" {
		t.Errorf("unlabeled doc export (-want +got):\n%s", diff)
	}
}

func TestForExportScopesToRetainedDocs(t *testing.T) {
	m := testManager()
	m.SetLabels("keep", []string{"topic", IDDoNotTransfer})
	m.SetLabels("drop", []string{"restricted"})

	scoped := m.ForExport(map[string]bool{"keep": true}, AppraisalToProcessing)
	if got := scoped.LabelIDs("drop"); len(got) != 0 {
		t.Errorf("scoped manager has labels for dropped doc: %v", got)
	}
	// The DNT assignment itself does not travel to the processing
	// stage, but the definition does.
	if diff := cmp.Diff([]string{"topic"}, scoped.LabelIDs("keep")); diff != "" {
		t.Errorf("scoped LabelIDs(keep) mismatch (-want +got):\n%s", diff)
	}
	if _, ok := scoped.Label(IDDoNotTransfer); !ok {
		t.Errorf("scoped manager lost the %q definition", IDDoNotTransfer)
	}
}

func TestMerge(t *testing.T) {
	m := testManager()
	m.SetLabels("d1", []string{"topic"})

	other := NewManager()
	other.DefineLabel(Label{ID: "topic", Name: "Different definition", Type: General})
	other.DefineLabel(Label{ID: "incoming", Name: "Incoming", Type: General})
	other.SetLabels("d1", []string{"incoming"})
	other.SetLabels("d9", []string{"topic"})

	result := m.Merge(other)
	if diff := cmp.Diff([]string{"incoming"}, result.NewLabels); diff != "" {
		t.Errorf("NewLabels mismatch (-want +got):\n%s", diff)
	}
	wantClash := []string{IDDoNotTransfer, "topic"}
	if diff := cmp.Diff(wantClash, result.ClashedLabels); diff != "" {
		t.Errorf("ClashedLabels mismatch (-want +got):\n%s", diff)
	}
	// Existing definition wins the clash.
	if l, _ := m.Label("topic"); l.Name != "Topic" {
		t.Errorf("clashing label overwritten: Name = %q, want %q", l.Name, "Topic")
	}
	if diff := cmp.Diff([]string{"incoming", "topic"}, m.LabelIDs("d1")); diff != "" {
		t.Errorf("merged LabelIDs(d1) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"topic"}, m.LabelIDs("d9")); diff != "" {
		t.Errorf("merged LabelIDs(d9) mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := testManager()
	m.SetLabels("d1", []string{"topic", "r10y"})
	if err := m.Save(dir); err != nil {
		t.Fatalf("Save() = %v, want nil", err)
	}
	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if diff := cmp.Diff(m.AllLabels(), loaded.AllLabels()); diff != "" {
		t.Errorf("AllLabels mismatch after round trip (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(m.LabelIDs("d1"), loaded.LabelIDs("d1")); diff != "" {
		t.Errorf("LabelIDs mismatch after round trip (-want +got):\n%s", diff)
	}
}
