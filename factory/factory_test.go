package factory_test

import (
	"encoding/json"
	"testing"

	"github.com/causalverse/weave/atom"
	"github.com/causalverse/weave/factory"
)

type intOp int

func (v intOp) MarshalJSON() ([]byte, error) { return json.Marshal(int(v)) }

func TestNew_RejectsZeroSite(t *testing.T) {
	if _, err := factory.New(0); err != factory.ErrZeroSite {
		t.Fatalf("New(0) = _, %v, want ErrZeroSite", err)
	}
}

func TestCreate_MonotonicClock(t *testing.T) {
	f, err := factory.New(1)
	if err != nil {
		t.Fatal(err)
	}
	a1, err := f.Create(intOp(1), atom.ID{})
	if err != nil {
		t.Fatal(err)
	}
	a2, err := f.Create(intOp(2), a1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if a2.ID.Timestamp <= a1.ID.Timestamp {
		t.Fatalf("expected strictly increasing timestamps, got %d then %d", a1.ID.Timestamp, a2.ID.Timestamp)
	}
}

func TestUpdateTime_RemoteAtomTicksForward(t *testing.T) {
	f, err := factory.New(1)
	if err != nil {
		t.Fatal(err)
	}
	remote := atom.Atom{ID: atom.ID{Site: 2, Timestamp: 10}}
	localTimeBefore := f.Time()

	f.UpdateTime(remote)

	next, err := f.Create(intOp(0), atom.ID{})
	if err != nil {
		t.Fatal(err)
	}
	if next.ID.Timestamp <= localTimeBefore {
		t.Fatalf("expected time to advance past prior local time %d, got %d", localTimeBefore, next.ID.Timestamp)
	}
	if next.ID.Timestamp <= remote.ID.Timestamp {
		t.Fatalf("expected next local creation to strictly dominate observed remote time %d, got %d", remote.ID.Timestamp, next.ID.Timestamp)
	}
}

func TestUpdateTime_LocalAtomDoesNotExtraTick(t *testing.T) {
	f, err := factory.New(1)
	if err != nil {
		t.Fatal(err)
	}
	// A locally-originated atom observed out of band (e.g. replayed from
	// storage) should not force an extra tick beyond its own timestamp.
	local := atom.Atom{ID: atom.ID{Site: 1, Timestamp: 5}}
	f.UpdateTime(local)
	if f.Time() != 5 {
		t.Fatalf("Time() = %d, want 5", f.Time())
	}
}

func TestCreate_WithPriority(t *testing.T) {
	f, err := factory.New(1)
	if err != nil {
		t.Fatal(err)
	}
	a, err := f.Create(intOp(0), atom.ID{}, factory.WithPriority(7))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID.Priority != 7 {
		t.Fatalf("Priority = %d, want 7", a.ID.Priority)
	}
}
