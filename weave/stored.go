package weave

import (
	"encoding/json"
	"fmt"

	"github.com/causalverse/weave/atom"
)

// FormatVersion is the wire/persistence format version written by Store.
const FormatVersion uint32 = 1

// SiteInfo identifies a single known site: "{ id: <u32> }" on the wire.
type SiteInfo struct {
	ID uint32 `json:"id"`
}

// StoredAtomID is the wire representation of an atom.ID.
type StoredAtomID struct {
	Site      uint32 `json:"site"`
	Timestamp uint64 `json:"timestamp"`
	Priority  uint8  `json:"priority"`
}

// StoredAtom is the wire representation of a single atom.
type StoredAtom struct {
	ID       StoredAtomID    `json:"id"`
	Cause    *StoredAtomID   `json:"cause"`
	Value    json.RawMessage `json:"value"`
	Checksum uint32          `json:"checksum"`
}

// StoredVersion is the wire representation of a Version.
type StoredVersion struct {
	Sites map[string]uint64 `json:"sites"`
	Hash  string            `json:"hash"`
}

// StoredCausalTree is the serializable bundle exchanged over the wire and
// used for persistence: version plus the ordered (flat, canonical) list
// of atoms.
type StoredCausalTree struct {
	FormatVersion uint32         `json:"formatVersion"`
	Site          *SiteInfo      `json:"site"`
	KnownSites    []SiteInfo     `json:"knownSites"`
	Weave         []StoredAtom   `json:"weave"`
	Version       *StoredVersion `json:"version"`
}

func toStoredID(id atom.ID) StoredAtomID {
	return StoredAtomID{Site: id.Site, Timestamp: id.Timestamp, Priority: id.Priority}
}

func fromStoredID(id StoredAtomID) atom.ID {
	return atom.ID{Site: id.Site, Timestamp: id.Timestamp, Priority: id.Priority}
}

// rawOp wraps an already-marshaled JSON value so it satisfies atom.Op
// without the caller's concrete operation type, used when atoms are
// rehydrated from the wire (the core never needs to interpret Op).
type rawOp struct {
	raw json.RawMessage
}

func (v rawOp) MarshalJSON() ([]byte, error) { return v.raw, nil }

// Store serializes the weave into a StoredCausalTree for a given local
// site identity and its known-sites list. The exact wire encoding
// (JSON here) is implementation-defined; only the hash must be
// reproducible given the same flat-order atom list.
func (w *Weave) Store(localSite uint32, knownSites []SiteInfo) (StoredCausalTree, error) {
	version, err := w.GetVersion()
	if err != nil {
		return StoredCausalTree{}, err
	}
	storedAtoms := make([]StoredAtom, len(w.flat))
	for i, ref := range w.flat {
		a := ref.Atom
		valueJSON, err := a.Value.MarshalJSON()
		if err != nil {
			return StoredCausalTree{}, fmt.Errorf("marshaling atom %v: %w", a.ID, err)
		}
		var cause *StoredAtomID
		if !a.IsRoot() {
			c := toStoredID(a.Cause)
			cause = &c
		}
		storedAtoms[i] = StoredAtom{
			ID:       toStoredID(a.ID),
			Cause:    cause,
			Value:    valueJSON,
			Checksum: a.Checksum,
		}
	}
	sites := make(map[string]uint64, len(version.Sites))
	for site, ts := range version.Sites {
		sites[fmt.Sprintf("%d", site)] = ts
	}
	var site *SiteInfo
	if localSite != 0 {
		site = &SiteInfo{ID: localSite}
	}
	return StoredCausalTree{
		FormatVersion: FormatVersion,
		Site:          site,
		KnownSites:    knownSites,
		Weave:         storedAtoms,
		Version: &StoredVersion{
			Sites: sites,
			Hash:  version.Hash,
		},
	}, nil
}

// Atoms decodes the StoredCausalTree's flat atom list back into
// atom.Atom values, suitable for feeding into Weave.Import. Decoded
// atoms carry a rawOp Value, since the core treats Op as opaque; callers
// needing a concrete Op type should re-marshal/unmarshal Value
// themselves against their own application type.
func (t StoredCausalTree) Atoms() ([]atom.Atom, error) {
	atoms := make([]atom.Atom, len(t.Weave))
	for i, sa := range t.Weave {
		var cause atom.ID
		if sa.Cause != nil {
			cause = fromStoredID(*sa.Cause)
		}
		atoms[i] = atom.Atom{
			ID:       fromStoredID(sa.ID),
			Cause:    cause,
			Value:    rawOp{raw: append([]byte(nil), sa.Value...)},
			Checksum: sa.Checksum,
		}
	}
	return atoms, nil
}

// FromStored builds a fresh weave by importing every atom from a stored
// causal tree. Round-tripping a weave through Store and FromStored yields
// an identical flat weave and identical hash.
func FromStored(t StoredCausalTree) (*Weave, error) {
	atoms, err := t.Atoms()
	if err != nil {
		return nil, err
	}
	w := New()
	w.Import(atoms)
	return w, nil
}
