// Package clock implements the vector clocks used to order collaborative
// playlist operations. A clock maps a collaborator id to the number of
// operations that collaborator has submitted; comparing two clocks tells
// whether one edit causally precedes the other or whether they raced.
package clock

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Ordering is the result of comparing two vector clocks.
type Ordering int

const (
	Equal Ordering = iota
	Before
	After
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

var ErrBadActor = errors.New("clock: empty actor id")

// VectorClock maps actor id -> number of operations seen from that actor.
// The zero value (nil map) is a valid empty clock for reads; use New or
// Increment to obtain a writable one.
type VectorClock map[string]uint64

func New() VectorClock {
	return make(VectorClock)
}

// Clone returns an independent copy.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for actor, n := range vc {
		out[actor] = n
	}
	return out
}

// Counter returns the entry for actor, zero if absent.
func (vc VectorClock) Counter(actor string) uint64 {
	return vc[actor]
}

// Increment returns a new clock with actor's entry advanced by one. The
// receiver is not modified.
func (vc VectorClock) Increment(actor string) (VectorClock, error) {
	if actor == "" {
		return nil, ErrBadActor
	}
	out := vc.Clone()
	out[actor]++
	return out, nil
}

// Merge returns the entrywise maximum of the two clocks.
func Merge(a, b VectorClock) VectorClock {
	out := a.Clone()
	for actor, n := range b {
		if n > out[actor] {
			out[actor] = n
		}
	}
	return out
}

// Compare reports how a relates to b: Before means a happens-before b,
// After the reverse, Concurrent that neither dominates.
func Compare(a, b VectorClock) Ordering {
	aLess, bLess := false, false
	for actor, an := range a {
		bn := b[actor]
		if an < bn {
			aLess = true
		} else if an > bn {
			bLess = true
		}
	}
	for actor, bn := range b {
		if _, ok := a[actor]; ok {
			continue
		}
		if bn > 0 {
			aLess = true
		}
	}
	switch {
	case aLess && bLess:
		return Concurrent
	case aLess:
		return Before
	case bLess:
		return After
	default:
		return Equal
	}
}

// Dominates reports whether every entry of other is <= the matching entry
// of vc, i.e. vc has already seen everything other has.
func (vc VectorClock) Dominates(other VectorClock) bool {
	ord := Compare(vc, other)
	return ord == After || ord == Equal
}

// Sum is the total number of operations the clock has witnessed. It is
// strictly monotone under happens-before, which makes (Sum, operation id)
// a causality-respecting total order on stamped operations.
func (vc VectorClock) Sum() uint64 {
	var total uint64
	for _, n := range vc {
		total += n
	}
	return total
}

// Validate rejects clocks that could not have been produced by Increment:
// empty actor ids or zero entries smuggled in by a hand-built payload.
func (vc VectorClock) Validate() error {
	for actor, n := range vc {
		if actor == "" {
			return ErrBadActor
		}
		if n == 0 {
			return fmt.Errorf("clock: zero counter for actor %q", actor)
		}
	}
	return nil
}

// String renders entries sorted by actor, e.g. {alice:2 bob:1}.
func (vc VectorClock) String() string {
	actors := make([]string, 0, len(vc))
	for actor := range vc {
		actors = append(actors, actor)
	}
	sort.Strings(actors)

	var b strings.Builder
	b.WriteByte('{')
	for i, actor := range actors {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%d", actor, vc[actor])
	}
	b.WriteByte('}')
	return b.String()
}
