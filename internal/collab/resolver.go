package collab

import (
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

// Decision is the resolver's verdict on one operation.
type Decision int

const (
	// DecisionApplied: folded at the projection's tail.
	DecisionApplied Decision = iota
	// DecisionRebased: the operation lands before the tail; the projection
	// was rebuilt from history around it.
	DecisionRebased
	// DecisionBuffered: dependencies missing; retried as operations land.
	DecisionBuffered
	// DecisionSkipped: already reflected in state; no-op.
	DecisionSkipped
	// DecisionRejected: the operation cannot be applied at all.
	DecisionRejected
)

func (d Decision) String() string {
	switch d {
	case DecisionApplied:
		return "applied"
	case DecisionRebased:
		return "rebased"
	case DecisionBuffered:
		return "buffered"
	case DecisionSkipped:
		return "skipped"
	case DecisionRejected:
		return "rejected"
	}
	return "unknown"
}

// DefaultRetryCeiling bounds how many resolution passes a buffered
// operation may sit through before it is declared stale.
const DefaultRetryCeiling = 16

type pendingOp struct {
	op      model.Operation
	retries int
}

// resolver owns the dependency buffer for one playlist. It is driven by
// the session goroutine and is not safe for concurrent use.
type resolver struct {
	ceiling int
	pending []pendingOp
}

func newResolver(ceiling int) *resolver {
	if ceiling <= 0 {
		ceiling = DefaultRetryCeiling
	}
	return &resolver{ceiling: ceiling}
}

func depsMet(proj *Projection, op *model.Operation) bool {
	for _, dep := range op.Deps {
		if !proj.Applied[dep] {
			return false
		}
	}
	return true
}

// resolve runs one operation against the projection. DecisionRebased means
// the caller must refold history and try again; the projection is untouched
// in that case.
func (r *resolver) resolve(proj *Projection, op *model.Operation) (Decision, error) {
	if !depsMet(proj, op) {
		r.enqueue(*op)
		return DecisionBuffered, errf(KindDependencyPending, "operation %s waits for dependencies", op.ID)
	}
	outcome, err := proj.Fold(op)
	if err != nil {
		return DecisionRejected, wrapErr(KindInvalid, err, "apply operation %s", op.ID)
	}
	switch outcome {
	case FoldApplied:
		return DecisionApplied, nil
	case FoldSkipped:
		return DecisionSkipped, nil
	default:
		return DecisionRebased, nil
	}
}

func (r *resolver) enqueue(op model.Operation) {
	for i := range r.pending {
		if r.pending[i].op.ID == op.ID {
			return
		}
	}
	r.pending = append(r.pending, pendingOp{op: op})
}

// drain retries buffered operations until a pass makes no progress.
// Operations that sat through too many passes come back as stale; the
// caller decides how to report them. needRefold is set when a buffered
// operation's slot has already been passed in canonical order.
func (r *resolver) drain(proj *Projection) (applied []model.Operation, stale []model.Operation, needRefold bool) {
	for {
		progressed := false
		keep := r.pending[:0]
		for _, pend := range r.pending {
			if !depsMet(proj, &pend.op) {
				pend.retries++
				if pend.retries > r.ceiling {
					stale = append(stale, pend.op)
				} else {
					keep = append(keep, pend)
				}
				continue
			}
			outcome, err := proj.Fold(&pend.op)
			if err != nil {
				// Validated at ingress; a fold error here means a corrupt
				// payload, which retrying cannot fix.
				stale = append(stale, pend.op)
				continue
			}
			switch outcome {
			case FoldApplied:
				applied = append(applied, pend.op)
				progressed = true
			case FoldOutOfOrder:
				keep = append(keep, pend)
				needRefold = true
			}
		}
		r.pending = keep
		if !progressed || needRefold {
			return applied, stale, needRefold
		}
	}
}

// refoldWithDeps rebuilds a projection from the full history, honoring
// dependency declarations: an operation whose dependencies are not folded
// by the time its canonical slot comes up is left out and returned for
// buffering.
func refoldWithDeps(seed model.Playlist, ops []model.Operation) (*Projection, []model.Operation, error) {
	sorted := append([]model.Operation(nil), ops...)
	sortCanonical(sorted)
	proj := NewProjection(seed)
	var leftover []model.Operation
	for i := range sorted {
		if !depsMet(proj, &sorted[i]) {
			leftover = append(leftover, sorted[i])
			continue
		}
		if _, err := proj.Fold(&sorted[i]); err != nil {
			return nil, nil, wrapErr(KindSyncError, err, "refold operation %s", sorted[i].ID)
		}
	}
	return proj, leftover, nil
}

// reset drops the buffer, keeping entries the projection still has not
// folded. Used after a refold, which may have absorbed buffered entries.
func (r *resolver) reset(proj *Projection) {
	keep := r.pending[:0]
	for _, pend := range r.pending {
		if !proj.Applied[pend.op.ID] {
			keep = append(keep, pend)
		}
	}
	r.pending = keep
}
