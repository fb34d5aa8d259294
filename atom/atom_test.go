package atom_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/causalverse/weave/atom"
)

// intOp is a minimal Op implementation used across the test suite: these
// scenarios treat Op values as opaque integers.
type intOp int

func (v intOp) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(v))
}

func TestIDCompare_PriorityBeatsTimestamp(t *testing.T) {
	// D's priority 1 ranks above both B and C, then C by later timestamp,
	// then B.
	b := atom.ID{Site: 1, Timestamp: 3, Priority: 0}
	c := atom.ID{Site: 2, Timestamp: 4, Priority: 0}
	d := atom.ID{Site: 3, Timestamp: 2, Priority: 1}

	if !d.Precedes(c) || !d.Precedes(b) {
		t.Fatalf("expected D to precede both B and C, got d=%v b=%v c=%v", d, b, c)
	}
	if !c.Precedes(b) {
		t.Fatalf("expected C to precede B (later timestamp sorts first)")
	}
}

func TestIDCompare_SiteTiebreak(t *testing.T) {
	// Scenario 4: equal timestamps tie-break on lower site first.
	b := atom.ID{Site: 1, Timestamp: 2}
	c := atom.ID{Site: 2, Timestamp: 2}
	if !b.Precedes(c) {
		t.Fatalf("expected lower site to precede, got b=%v c=%v", b, c)
	}
}

func TestChecksum_Deterministic(t *testing.T) {
	id := atom.ID{Site: 1, Timestamp: 1}
	cause := atom.ID{}
	cs1, err := atom.Checksum(id, cause, intOp(42))
	if err != nil {
		t.Fatal(err)
	}
	cs2, err := atom.Checksum(id, cause, intOp(42))
	if err != nil {
		t.Fatal(err)
	}
	if cs1 != cs2 {
		t.Fatalf("checksum not deterministic: %d != %d", cs1, cs2)
	}

	other, err := atom.Checksum(id, cause, intOp(43))
	if err != nil {
		t.Fatal(err)
	}
	if cs1 == other {
		t.Fatalf("expected different values to produce different checksums")
	}
}

func TestAtom_VerifyChecksum(t *testing.T) {
	a, err := atom.New(atom.ID{Site: 1, Timestamp: 1}, atom.ID{}, intOp(1))
	if err != nil {
		t.Fatal(err)
	}
	if !a.VerifyChecksum() {
		t.Fatalf("expected freshly built atom to verify")
	}
	a.Checksum++
	if a.VerifyChecksum() {
		t.Fatalf("expected tampered checksum to fail verification")
	}
}

func TestCanonicalBytes_Deterministic(t *testing.T) {
	a, err := atom.New(atom.ID{}, atom.ID{}, intOp(0))
	if err != nil {
		t.Fatal(err)
	}
	bs1, err := a.CanonicalBytes()
	if err != nil {
		t.Fatal(err)
	}
	bs2, err := a.CanonicalBytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bs1, bs2) {
		t.Fatalf("expected repeated calls to produce identical bytes, got %x != %x", bs1, bs2)
	}
	// 13 bytes for ID + 13 bytes for Cause + 4-byte length prefix + the
	// single-byte JSON encoding of intOp(0) ("0").
	if len(bs1) != 31 {
		t.Fatalf("expected 31 bytes for a zero ID/Cause atom with a 1-byte value, got %d", len(bs1))
	}
}
