package weave

import (
	"sort"

	"github.com/causalverse/weave/atom"
)

// Import accepts a flat-ordered sequence of atoms — typically another
// weave's Flat() or the atom list from a StoredCausalTree — and returns
// only those that were newly inserted.
//
// The sequence need not be complete: atoms whose cause is absent from
// both the sequence and the target weave are silently discarded. Atoms
// already present are silently skipped (idempotent). An atom whose
// stored checksum doesn't match its own fields is discarded and reported
// through OnWarning rather than inserted.
//
// After import, two weaves that received the same union of atoms in any
// order converge to byte-identical flat order, yarns, version and hash.
// This holds because every candidate is replayed through the single-atom
// Insert algorithm in ascending-timestamp order, which is always a valid
// topological order: a cause's timestamp is always strictly less than
// its child's, so causes are always inserted before their children
// regardless of where in the input sequence they appear.
// Insert's placement of a new atom depends only on the atoms already
// present, so the final structure depends only on the atom set, not on
// insertion order — the convergence property.
func (w *Weave) Import(atoms []atom.Atom) []Reference {
	candidates := make([]atom.Atom, 0, len(atoms))
	for _, a := range atoms {
		if !a.VerifyChecksum() {
			w.warn(a.ID, "checksum mismatch")
			continue
		}
		if _, ok := w.byID[a.ID]; ok {
			continue
		}
		candidates = append(candidates, a)
	}
	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].ID.Timestamp, candidates[j].ID.Timestamp
		if ti != tj {
			return ti < tj
		}
		return candidates[i].ID.Site < candidates[j].ID.Site
	})

	var inserted []Reference
	for _, a := range candidates {
		if _, dup := w.byID[a.ID]; dup {
			// Repeated within this batch and already inserted above.
			continue
		}
		ref, ok := w.Insert(a)
		if !ok {
			// Cause absent from both the target and the rest of this
			// batch: discard silently.
			continue
		}
		inserted = append(inserted, ref)
	}
	return inserted
}
