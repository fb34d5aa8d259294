// Package factory allocates atoms for a single local site and maintains
// that site's Lamport clock, advancing it correctly in the presence of
// remote atoms.
//
// A Factory is owned by exactly one logical task; it is not safe for
// concurrent use.
package factory

import (
	"errors"

	"github.com/causalverse/weave/atom"
)

// ErrZeroSite is returned by New when asked to mint a factory for the
// reserved zero site id.
var ErrZeroSite = errors.New("factory: site id must be non-zero")

// ErrTimeOverflow is returned by Create when the Lamport clock would wrap
// around past its maximum representable value.
var ErrTimeOverflow = errors.New("factory: timestamp limit exceeded")

// Factory issues new atoms for a single local site.
type Factory struct {
	site uint32
	time uint64
}

// New creates a Factory for the given non-zero site id, with its Lamport
// clock initialized to 0 (timestamp 0 is reserved to mean "no cause").
func New(site uint32) (*Factory, error) {
	if site == 0 {
		return nil, ErrZeroSite
	}
	return &Factory{site: site}, nil
}

// Site returns the factory's own site id.
func (f *Factory) Site() uint32 { return f.site }

// Time returns the factory's current Lamport time.
func (f *Factory) Time() uint64 { return f.time }

// UpdateTime advances the local Lamport clock upon observing atom.
//
// If the atom originated at a different site, the clock is set to
// max(time, atom.ID.Timestamp) + 1, so that the next locally-created atom
// strictly dominates any observed external time. If the atom originated
// locally (e.g. it's being replayed from storage), the clock is merely
// set to max(time, atom.ID.Timestamp), since no extra tick is needed to
// keep the invariant.
func (f *Factory) UpdateTime(a atom.Atom) {
	t := a.ID.Timestamp
	max := f.time
	if t > max {
		max = t
	}
	if a.ID.Site != f.site {
		f.time = max + 1
		return
	}
	f.time = max
}

// Option configures a single Create call.
type Option func(*createOptions)

type createOptions struct {
	priority uint8
}

// WithPriority requests that the created atom tie-break ahead of (or
// behind) its siblings according to the given priority, instead of the
// default of 0. Priority carries no semantics beyond this tiebreak.
func WithPriority(p uint8) Option {
	return func(o *createOptions) { o.priority = p }
}

// Create allocates a fresh atom for the local site, stamping it with the
// next Lamport time and the given cause (the zero ID for a root atom).
func (f *Factory) Create(value atom.Op, cause atom.ID, opts ...Option) (atom.Atom, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	next := f.time + 1
	if next == 0 {
		return atom.Atom{}, ErrTimeOverflow
	}
	f.time = next
	id := atom.ID{Site: f.site, Timestamp: f.time, Priority: o.priority}
	return atom.New(id, cause, value)
}
