package weave

import (
	"crypto/sha256"
	"encoding/hex"
)

// Version is the weave's version vector plus its content hash: the
// greatest timestamp observed per site, and a hex-encoded SHA-256 digest
// over the flat weave's canonical bytes.
type Version struct {
	Sites map[uint32]uint64
	Hash  string
}

// GetVersion returns the weave's current version vector and content
// hash. The hash depends only on the atom set, never on insertion order,
// because the flat order itself is canonical: atoms with the same set
// always converge to the same flat order, which is hashed byte-for-byte
// here.
//
// The empty weave hashes to the SHA-256 of the empty input,
// e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855, since
// its canonical serialization is the empty byte string.
func (w *Weave) GetVersion() (Version, error) {
	sites := make(map[uint32]uint64, len(w.yarns))
	for site, y := range w.yarns {
		if len(y.Refs) == 0 {
			continue
		}
		sites[site] = y.Refs[len(y.Refs)-1].Atom.ID.Timestamp
	}
	h := sha256.New()
	for _, ref := range w.flat {
		bs, err := ref.Atom.CanonicalBytes()
		if err != nil {
			return Version{}, err
		}
		h.Write(bs)
	}
	return Version{
		Sites: sites,
		Hash:  hex.EncodeToString(h.Sum(nil)),
	}, nil
}
