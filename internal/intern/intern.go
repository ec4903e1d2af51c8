// Package intern implements the hash→string table used to deduplicate
// repeated identifiers (process names, query texts, wait events) across
// snapshots. Hashes are 64-bit xxhash values of the strings themselves; a
// hash resolves only through the table stored with its WAL entry or chunk,
// because the live table is cleared on chunk flush.
package intern

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the 64-bit hash used as interner key for s.
func Hash(s string) uint64 {
	return xxhash.Sum64String(s)
}

// Interner maps 64-bit string hashes back to the original strings.
// The zero value is not usable; call New.
type Interner struct {
	strings map[uint64]string
}

// New creates an empty interner.
func New() *Interner {
	return &Interner{strings: make(map[uint64]string)}
}

// Intern stores s and returns its hash. Interning is idempotent: equal
// strings always produce equal hashes.
func (i *Interner) Intern(s string) uint64 {
	h := xxhash.Sum64String(s)
	if _, ok := i.strings[h]; !ok {
		i.strings[h] = s
	}
	return h
}

// Resolve returns the string for hash h. The second value is false when the
// hash is unknown to this interner.
func (i *Interner) Resolve(h uint64) (string, bool) {
	s, ok := i.strings[h]
	return s, ok
}

// Len returns the number of interned strings.
func (i *Interner) Len() int {
	return len(i.strings)
}

// Merge unions entries of other into i. Duplicate hashes must carry
// identical strings; a mismatch means hash collision or data corruption.
func (i *Interner) Merge(other *Interner) error {
	if other == nil {
		return nil
	}
	for h, s := range other.strings {
		if existing, ok := i.strings[h]; ok {
			if existing != s {
				return fmt.Errorf("interner merge conflict: hash %d maps to %q and %q", h, existing, s)
			}
			continue
		}
		i.strings[h] = s
	}
	return nil
}

// Filter returns a new interner containing exactly the entries whose hashes
// are present in keep. Used to shrink WAL entries to the hashes actually
// referenced by one snapshot.
func (i *Interner) Filter(keep map[uint64]struct{}) *Interner {
	out := New()
	for h := range keep {
		if s, ok := i.strings[h]; ok {
			out.strings[h] = s
		}
	}
	return out
}

// Clear drops all entries. Called after a chunk flush to bound memory.
func (i *Interner) Clear() {
	i.strings = make(map[uint64]string)
}

// Hashes returns all hashes in ascending order. Deterministic ordering is
// required by the on-disk codec.
func (i *Interner) Hashes() []uint64 {
	out := make([]uint64, 0, len(i.strings))
	for h := range i.strings {
		out = append(out, h)
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}
