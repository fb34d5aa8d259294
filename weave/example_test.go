package weave_test

import (
	"encoding/json"
	"fmt"

	"github.com/causalverse/weave/atom"
	"github.com/causalverse/weave/factory"
	"github.com/causalverse/weave/weave"
)

// charOp carries a single rune, the payload used throughout this example.
type charOp rune

func (c charOp) MarshalJSON() ([]byte, error) { return json.Marshal(rune(c)) }

// chars renders a weave's flat order as a plain string, reading each
// atom's charOp value in turn.
func chars(w *weave.Weave) string {
	var sb []rune
	for _, a := range w.Flat() {
		var r rune
		if err := json.Unmarshal(mustRaw(a.Value), &r); err != nil {
			continue
		}
		sb = append(sb, r)
	}
	return string(sb)
}

func mustRaw(v atom.Op) json.RawMessage {
	bs, err := v.MarshalJSON()
	if err != nil {
		panic(err)
	}
	return bs
}

// Showcasing the main operations: two sites independently append atoms to
// a shared weave, then exchange and import each other's atoms to converge.
func Example() {
	f1, _ := factory.New(1)
	f2, _ := factory.New(2)

	w1 := weave.New()
	var cause atom.ID
	for _, ch := range "hi" {
		a, _ := f1.Create(charOp(ch), cause)
		w1.Insert(a)
		cause = a.ID
	}

	w2 := weave.New()
	for _, a := range w1.Flat() {
		w2.Insert(a)
		f2.UpdateTime(a)
	}
	cause2 := w2.Flat()[len(w2.Flat())-1].ID
	for _, ch := range "!" {
		a, _ := f2.Create(charOp(ch), cause2)
		w2.Insert(a)
	}

	fmt.Println("site 1:", chars(w1))
	fmt.Println("site 2:", chars(w2))

	w1.Import(w2.Flat())
	fmt.Println("converged:", chars(w1))
	// Output:
	// site 1: hi
	// site 2: hi!
	// converged: hi!
}

// A checksum failure on one atom is dropped silently from import but
// reported through the Weave's warning callback, rather than aborting the
// whole batch.
func ExampleWeave_OnWarning() {
	f, _ := factory.New(1)
	root, _ := f.Create(charOp('a'), atom.ID{})
	bad, _ := f.Create(charOp('b'), root.ID)
	bad.Checksum ^= 0xff // corrupt the checksum after the fact

	w := weave.New()
	w.OnWarning(func(warn weave.Warning) {
		fmt.Println("warning:", warn.Reason)
	})
	w.Import([]atom.Atom{root, bad})
	fmt.Println("weave:", chars(w))
	// Output:
	// warning: checksum mismatch
	// weave: a
}
