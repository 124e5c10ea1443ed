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
	"time"
)

// Type classifies a label.
type Type int

const (
	// General labels are descriptive and never gate export.
	General Type = iota

	// Restriction labels encode an access policy that gates
	// inclusion in downstream exports.
	Restriction
)

// RestrictionKind refines a Restriction label.
type RestrictionKind int

const (
	// Other is any restriction that is not time-bounded. A document
	// carrying one is excluded from delivery and discovery exports
	// unconditionally.
	Other RestrictionKind = iota

	// ForYears restricts a document for N years counted from the
	// document's own date, not from ingestion or labeling time. For
	// old material the restriction may therefore already be expired
	// when the label is applied.
	ForYears

	// Until restricts a document until an absolute timestamp,
	// compared against the current wall clock.
	Until
)

// IDDoNotTransfer is the reserved system label excluding a document
// from the appraisal-to-processing transfer.
const IDDoNotTransfer = "dnt"

// Label describes one assignable label. Labels are identified by ID;
// documents hold sets of label ids, not Label values.
type Label struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Type        Type            `json:"type"`
	SysLabel    bool            `json:"sysLabel"`
	Restriction RestrictionKind `json:"restriction,omitempty"`

	// RestrictedForYears is meaningful only when Restriction is
	// ForYears.
	RestrictedForYears int `json:"restrictedForYears,omitempty"`

	// RestrictedUntil is meaningful only when Restriction is Until.
	RestrictedUntil time.Time `json:"restrictedUntil,omitempty"`
}

// Timed reports whether the label is a time-bounded restriction.
func (l Label) Timed() bool {
	return l.Type == Restriction && (l.Restriction == ForYears || l.Restriction == Until)
}

// Expired reports whether a timed restriction has run out. The
// predicate is a pure function of (label, document date, now) and is
// monotonic in now: once expired, it stays expired.
//
// The two kinds resolve differently, preserved as observed in the
// archives this store interoperates with: ForYears counts from the
// document's own date while Until ignores the document entirely.
// A document without a usable date can never satisfy a ForYears
// restriction.
func (l Label) Expired(docDate time.Time, docDateOK bool, now time.Time) bool {
	switch l.Restriction {
	case ForYears:
		if !docDateOK {
			return false
		}
		return docDate.AddDate(l.RestrictedForYears, 0, 0).Before(now)
	case Until:
		return l.RestrictedUntil.Before(now)
	default:
		return false
	}
}
