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
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// Hash is the 32-byte BLAKE3 digest of a blob's uncompressed content.
// Blobs are addressed, and deduplicated, by this value alone; names
// are advisory.
type Hash [32]byte

// HashContent computes the content hash for the given bytes.
func HashContent(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// String returns the canonical lowercase hex form of the hash. This
// form appears in the store index, on-disk file names, and logs.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.Wrap(err, "parsing blob hash")
	}
	if len(b) != len(h) {
		return h, errors.Errorf("blob hash is %d bytes, want %d", len(b), len(h))
	}
	copy(h[:], b)
	return h, nil
}

// Ref identifies one stored blob. A Ref is only meaningful against
// the store that issued it: CreateCopy re-keys blobs for the target
// directory, so refs must be re-resolved after a copy.
type Ref struct {
	// Name is the attachment file name as seen in the source
	// message. Multiple names may map to the same content.
	Name string

	// Hash is the content identity used for deduplication.
	Hash Hash

	// Size is the uncompressed content size in bytes.
	Size int64
}
