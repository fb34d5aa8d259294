// Package weave implements the causal tree itself: an ordered sequence of
// atoms (the "flat weave"), grouped per-site into yarns, with a version
// vector and content hash, plus insertion, import and merge.
//
// The insertion and causal-block-scanning algorithm is adapted from
// brunokim/causal-tree's CausalTree.insertAtomAtCursor and
// walkCausalBlock (crdt/ctree.go), generalized from "insert at the
// editing cursor" to "insert as a child of an arbitrary, already-present
// cause", and from an ascending tie-break rule to a newest-sibling-first
// rule.
package weave

import (
	"fmt"

	"github.com/causalverse/weave/atom"
)

// Reference addresses a stored atom by its position within its own
// site's yarn, so that downstream projections can address atoms
// independently of the flat weave's indices, which shift on every
// insertion. IndexInYarn itself shifts only when an older atom of the
// same site arrives after a newer one.
type Reference struct {
	Atom        atom.Atom
	IndexInYarn uint32
}

// Yarn is a site's timestamp-increasing sequence of references. Atoms
// are never removed from it; an atom older than the yarn's newest is
// placed at its timestamp position rather than appended.
type Yarn struct {
	Site uint32
	Refs []Reference
}

// Warning describes a recoverable condition surfaced out-of-band during
// import, such as a checksum mismatch on an otherwise insertable atom.
type Warning struct {
	AtomID atom.ID
	Reason string
}

// Weave is the core replicated data structure: an ordered sequence of
// atoms plus the per-site yarns, version and hash derived from it.
//
// A Weave is owned by exactly one logical task; concurrent mutation from
// multiple goroutines is a programming error.
type Weave struct {
	flat  []Reference
	yarns map[uint32]*Yarn
	byID  map[atom.ID]int // atom ID -> index in flat

	onWarning func(Warning)
}

// New creates an empty weave.
func New() *Weave {
	return &Weave{
		yarns: make(map[uint32]*Yarn),
		byID:  make(map[atom.ID]int),
	}
}

// OnWarning installs a callback invoked for every recoverable warning
// raised during Import (e.g. a checksum mismatch). It is nil by default,
// in which case warnings are simply dropped: every other rejection in
// this package is already silent, and this is the one out-of-band
// exception.
func (w *Weave) OnWarning(f func(Warning)) {
	w.onWarning = f
}

func (w *Weave) warn(id atom.ID, reason string) {
	if w.onWarning != nil {
		w.onWarning(Warning{AtomID: id, Reason: reason})
	}
}

// Len returns the number of atoms in the weave.
func (w *Weave) Len() int { return len(w.flat) }

// Flat returns the canonical, depth-first pre-order sequence of atoms.
// The returned slice must not be mutated.
func (w *Weave) Flat() []atom.Atom {
	atoms := make([]atom.Atom, len(w.flat))
	for i, ref := range w.flat {
		atoms[i] = ref.Atom
	}
	return atoms
}

// GetSite returns the yarn for the given site, and whether it exists.
func (w *Weave) GetSite(site uint32) ([]Reference, bool) {
	y, ok := w.yarns[site]
	if !ok {
		return nil, false
	}
	refs := make([]Reference, len(y.Refs))
	copy(refs, y.Refs)
	return refs, true
}

// Root returns the weave's single root atom, if any has been inserted.
func (w *Weave) Root() (atom.Atom, bool) {
	if len(w.flat) == 0 {
		return atom.Atom{}, false
	}
	return w.flat[0].Atom, true
}

// indexOf returns the flat index of the atom with the given id, or -1.
func (w *Weave) indexOf(id atom.ID) int {
	if i, ok := w.byID[id]; ok {
		return i
	}
	return -1
}

// causalBlockEnd returns the exclusive upper bound of headIdx's causal
// block: the contiguous range in the flat weave containing headIdx and
// all its descendants.
//
// This relies only on the invariant that an atom's timestamp is strictly
// greater than its cause's, which holds regardless of the sibling
// tie-break rule in effect, so the same scan works for any total order
// over siblings.
func (w *Weave) causalBlockEnd(headIdx int) int {
	head := w.flat[headIdx].Atom
	for i := headIdx + 1; i < len(w.flat); i++ {
		if w.flat[i].Atom.Cause.Timestamp < head.ID.Timestamp {
			return i
		}
	}
	return len(w.flat)
}

// insertAt splices ref into the flat weave at position i, shifting
// later entries right and fixing up the byID index.
//
// Time complexity: O(atoms).
func (w *Weave) insertAt(ref Reference, i int) {
	w.flat = append(w.flat, Reference{})
	copy(w.flat[i+1:], w.flat[i:])
	w.flat[i] = ref
	for id, j := range w.byID {
		if j >= i {
			w.byID[id] = j + 1
		}
	}
	w.byID[ref.Atom.ID] = i
}

// appendToYarn adds a to its site's yarn at the position that keeps the
// yarn timestamp-increasing (the end, unless a newer atom of the same
// site is already present), renumbering the IndexInYarn of every later
// reference both in the yarn and in the flat weave. It must run before a
// itself is spliced into the flat weave.
func (w *Weave) appendToYarn(a atom.Atom) Reference {
	y, ok := w.yarns[a.ID.Site]
	if !ok {
		y = &Yarn{Site: a.ID.Site}
		w.yarns[a.ID.Site] = y
	}
	pos := len(y.Refs)
	for pos > 0 && y.Refs[pos-1].Atom.ID.Timestamp > a.ID.Timestamp {
		pos--
	}
	ref := Reference{Atom: a, IndexInYarn: uint32(pos)}
	y.Refs = append(y.Refs, Reference{})
	copy(y.Refs[pos+1:], y.Refs[pos:])
	y.Refs[pos] = ref
	for j := pos + 1; j < len(y.Refs); j++ {
		y.Refs[j].IndexInYarn = uint32(j)
		if fi, ok := w.byID[y.Refs[j].Atom.ID]; ok {
			w.flat[fi].IndexInYarn = uint32(j)
		}
	}
	return ref
}

// Insert inserts a single atom into the weave and returns the reference
// to the stored atom, or ok=false if it was rejected:
//
//   - no cause, and a different root is already present: rejected;
//   - a cause that is not yet present: rejected;
//   - no cause, and its id equals the present root: idempotent, returns
//     the existing reference;
//   - an id that already exists anywhere: idempotent, returns the
//     existing reference.
//
// The atom's yarn entry is placed by timestamp, so an atom that arrives
// after a newer atom of the same site (for example from a later Import
// batch) still leaves the yarn timestamp-increasing.
func (w *Weave) Insert(a atom.Atom) (Reference, bool) {
	if i, ok := w.byID[a.ID]; ok {
		return w.flat[i], true
	}
	if a.IsRoot() {
		if len(w.flat) > 0 {
			return Reference{}, false
		}
		ref := w.appendToYarn(a)
		w.insertAt(ref, 0)
		return ref, true
	}
	causeIdx, ok := w.byID[a.Cause]
	if !ok {
		return Reference{}, false
	}
	blockEnd := w.causalBlockEnd(causeIdx)
	pos := blockEnd
	for i := causeIdx + 1; i < blockEnd; i++ {
		child := w.flat[i].Atom
		if child.Cause != a.Cause {
			continue
		}
		if a.ID.Precedes(child.ID) {
			pos = i
			break
		}
	}
	ref := w.appendToYarn(a)
	w.insertAt(ref, pos)
	return ref, true
}

func (w *Weave) String() string {
	return fmt.Sprintf("Weave(%d atoms, %d sites)", len(w.flat), len(w.yarns))
}
