// Package atom defines the immutable unit of history exchanged between
// peers of a causal tree: an identity, a cause pointer, and an opaque
// operation payload.
//
// Based on http://archagon.net/blog/2018/03/24/data-laced-with-history/,
// adapted so that an atom's site is the peer's own identifier rather than
// an index into a locally-negotiated sitemap.
package atom

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// Op is an opaque, serializable payload supplied by the caller. The core
// never interprets it; only MarshalJSON is needed to compute checksums
// and to serialize atoms onto the wire.
type Op interface {
	json.Marshaler
}

// ID is the unique identifier of an atom: (site, timestamp, priority).
//
// Site is a non-zero peer identifier. Timestamp is the Lamport time at
// which the atom was created. Priority is a small integer used only for
// deterministic tie-breaking among siblings; it is not a separate
// category of operation.
type ID struct {
	Site      uint32
	Timestamp uint64
	Priority  uint8
}

// IsZero reports whether id is the zero value, used to represent "no
// cause" (i.e. this atom is the tree's root).
func (id ID) IsZero() bool {
	return id == ID{}
}

func (id ID) String() string {
	return fmt.Sprintf("S%d@T%d/%d", id.Site, id.Timestamp, id.Priority)
}

// Compare returns the relative weave order between two sibling IDs:
//
//  1. higher priority sorts first;
//  2. else later timestamp sorts first ("newest-first");
//  3. else lower site sorts first.
//
// It returns -1 if id sorts before other, +1 if it sorts after, and 0 if
// they are equal.
func (id ID) Compare(other ID) int {
	if id.Priority != other.Priority {
		if id.Priority > other.Priority {
			return -1
		}
		return +1
	}
	if id.Timestamp != other.Timestamp {
		if id.Timestamp > other.Timestamp {
			return -1
		}
		return +1
	}
	if id.Site != other.Site {
		if id.Site < other.Site {
			return -1
		}
		return +1
	}
	return 0
}

// Precedes reports whether id must be placed before other in a weave,
// were they siblings sharing the same cause.
func (id ID) Precedes(other ID) bool {
	return id.Compare(other) < 0
}

// Atom is the immutable unit of edit history: an identity, a cause
// pointer (the zero ID iff this is the root), a typed payload, and a
// checksum used for integrity checks during import.
type Atom struct {
	ID       ID
	Cause    ID
	Value    Op
	Checksum uint32
}

// IsRoot reports whether a has no cause.
func (a Atom) IsRoot() bool {
	return a.Cause.IsZero()
}

func (a Atom) String() string {
	return fmt.Sprintf("Atom(%v,%v,%v)", a.ID, a.Cause, a.Value)
}

// canonicalID appends a deterministic byte encoding of an ID to buf, used as
// input to both the checksum and the weave content hash.
func canonicalID(buf []byte, id ID) []byte {
	var tmp [13]byte
	binary.BigEndian.PutUint32(tmp[0:4], id.Site)
	binary.BigEndian.PutUint64(tmp[4:12], id.Timestamp)
	tmp[12] = id.Priority
	return append(buf, tmp[:]...)
}

// CanonicalBytes returns the deterministic byte encoding of the atom used
// to derive its checksum and to feed the weave's content hash. It is
// empty-input-safe: concatenating the CanonicalBytes of zero atoms yields
// a zero-length slice, as required by the weave's empty-input hash
// constant.
func (a Atom) CanonicalBytes() ([]byte, error) {
	valueJSON, err := a.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshaling atom value: %w", err)
	}
	buf := make([]byte, 0, 13+13+4+len(valueJSON))
	buf = canonicalID(buf, a.ID)
	buf = canonicalID(buf, a.Cause)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(valueJSON)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, valueJSON...)
	return buf, nil
}

// Checksum derives the atom's 32-bit checksum from its id, cause and
// canonical value bytes. It is a weak, non-cryptographic integrity check
// used during import; it must never be relied upon for security.
func Checksum(id, cause ID, value Op) (uint32, error) {
	a := Atom{ID: id, Cause: cause, Value: value}
	bs, err := a.CanonicalBytes()
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(bs), nil
}

// New builds an atom with its checksum already computed. It does not
// validate ordering invariants; that's the weave's responsibility at
// insertion time.
func New(id, cause ID, value Op) (Atom, error) {
	checksum, err := Checksum(id, cause, value)
	if err != nil {
		return Atom{}, err
	}
	return Atom{ID: id, Cause: cause, Value: value, Checksum: checksum}, nil
}

// VerifyChecksum reports whether a's stored checksum matches one derived
// fresh from its own fields.
func (a Atom) VerifyChecksum() bool {
	want, err := Checksum(a.ID, a.Cause, a.Value)
	if err != nil {
		return false
	}
	return want == a.Checksum
}
