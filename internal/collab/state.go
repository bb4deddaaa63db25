package collab

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/clock"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

// Operations fold in a canonical total order: ascending clock sum, then
// operation id. Sums strictly increase along any happens-before chain, so
// the canonical order linearizes causality, and concurrent operations land
// in the same deterministic slot on every replica. An operation whose
// canonical position precedes one already folded cannot be applied in
// place; the caller rebuilds the projection from history instead.

type foldKey struct {
	Sum uint64 `json:"sum"`
	ID  string `json:"id"`
}

func keyOf(op *model.Operation) foldKey {
	return foldKey{Sum: op.ClockSum(), ID: op.ID}
}

func (k foldKey) less(o foldKey) bool {
	if k.Sum != o.Sum {
		return k.Sum < o.Sum
	}
	return k.ID < o.ID
}

func (k foldKey) zero() bool {
	return k.Sum == 0 && k.ID == ""
}

// register records the write currently owning one field.
type register struct {
	Clock   clock.VectorClock `json:"clock"`
	Actor   string            `json:"actor"`
	Counter uint64            `json:"counter"`
	OpID    string            `json:"opId"`
}

func registerFor(op *model.Operation) register {
	return register{
		Clock:   op.Clock.Clone(),
		Actor:   op.Actor,
		Counter: op.ActorCounter(),
		OpID:    op.ID,
	}
}

// yieldsTo reports whether a new write beats the recorded one. A causally
// later write always wins; a concurrent write wins on the highest
// (actor id, counter, op id). Causally earlier or duplicate writes lose.
func (r register) yieldsTo(op *model.Operation) bool {
	if r.OpID == "" {
		return true
	}
	switch clock.Compare(r.Clock, op.Clock) {
	case clock.Before:
		return true
	case clock.Concurrent:
		if op.Actor != r.Actor {
			return op.Actor > r.Actor
		}
		if c := op.ActorCounter(); c != r.Counter {
			return c > r.Counter
		}
		return op.ID > r.OpID
	default:
		return false
	}
}

// FoldOutcome is what became of one operation handed to Fold.
type FoldOutcome int

const (
	// FoldApplied: the operation mutated the projection.
	FoldApplied FoldOutcome = iota
	// FoldSkipped: the operation was already reflected; state untouched.
	FoldSkipped
	// FoldOutOfOrder: the operation's canonical position lies before the
	// projection's current position; refold from history.
	FoldOutOfOrder
)

// Projection is one playlist's folded state plus the bookkeeping that keeps
// the fold convergent. It is a plain value: no locks, no IO. The session
// goroutine owning the playlist is the only writer.
type Projection struct {
	Playlist   model.Playlist      `json:"playlist"`
	Registers  map[string]register `json:"registers"`
	Tombstones map[string]register `json:"tombstones"`
	Applied    map[string]bool     `json:"applied"`
	Folded     map[string]uint64   `json:"folded"`
	LastKey    foldKey             `json:"lastKey"`
}

// NewProjection starts a projection from a playlist's identity seed: id,
// owner, invite code, creation name and the current collaborator table,
// with no operations folded yet.
func NewProjection(seed model.Playlist) *Projection {
	return &Projection{
		Playlist:   seed.Clone(),
		Registers:  make(map[string]register),
		Tombstones: make(map[string]register),
		Applied:    make(map[string]bool),
		Folded:     make(map[string]uint64),
	}
}

// DecodeProjection restores a projection from an opaque snapshot body.
func DecodeProjection(raw json.RawMessage) (*Projection, error) {
	var p Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, wrapErr(KindSnapshotUnavailable, err, "decode snapshot")
	}
	if p.Registers == nil {
		p.Registers = make(map[string]register)
	}
	if p.Tombstones == nil {
		p.Tombstones = make(map[string]register)
	}
	if p.Applied == nil {
		p.Applied = make(map[string]bool)
	}
	if p.Folded == nil {
		p.Folded = make(map[string]uint64)
	}
	if p.Playlist.Collaborators == nil {
		p.Playlist.Collaborators = make(map[string]model.Collaborator)
	}
	if p.Playlist.Clips == nil {
		p.Playlist.Clips = make([]model.Clip, 0)
	}
	return &p, nil
}

// Encode serializes the projection for snapshot storage.
func (p *Projection) Encode() (json.RawMessage, error) {
	return json.Marshal(p)
}

// Clone copies the projection deeply enough for rollback: registers and
// tombstones are replaced whole on write, never mutated in place, so entry
// copies suffice.
func (p *Projection) Clone() *Projection {
	out := &Projection{
		Playlist:   p.Playlist.Clone(),
		Registers:  make(map[string]register, len(p.Registers)),
		Tombstones: make(map[string]register, len(p.Tombstones)),
		Applied:    make(map[string]bool, len(p.Applied)),
		Folded:     make(map[string]uint64, len(p.Folded)),
		LastKey:    p.LastKey,
	}
	for k, v := range p.Registers {
		out.Registers[k] = v
	}
	for k, v := range p.Tombstones {
		out.Tombstones[k] = v
	}
	for k, v := range p.Applied {
		out.Applied[k] = v
	}
	for k, v := range p.Folded {
		out.Folded[k] = v
	}
	return out
}

// State returns a detached copy of the folded playlist for readers.
func (p *Projection) State() model.Playlist {
	return p.Playlist.Clone()
}

// Fold applies one operation at the projection's tail. Operations already
// reflected are skipped; operations landing before the current canonical
// position are reported FoldOutOfOrder and leave the projection untouched.
func (p *Projection) Fold(op *model.Operation) (FoldOutcome, error) {
	if p.Applied[op.ID] {
		return FoldSkipped, nil
	}
	if op.ActorCounter() <= p.Folded[op.Actor] {
		return FoldSkipped, nil
	}
	k := keyOf(op)
	if !p.LastKey.zero() && k.less(p.LastKey) {
		return FoldOutOfOrder, nil
	}
	if err := p.apply(op); err != nil {
		return FoldSkipped, err
	}
	p.mark(op, k)
	return FoldApplied, nil
}

// Refold rebuilds a projection from the identity seed by folding ops in
// canonical order. ops may arrive in any order and may contain duplicates.
func Refold(seed model.Playlist, ops []model.Operation) (*Projection, error) {
	sorted := append([]model.Operation(nil), ops...)
	sortCanonical(sorted)
	p := NewProjection(seed)
	for i := range sorted {
		if _, err := p.Fold(&sorted[i]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func sortCanonical(ops []model.Operation) {
	sort.Slice(ops, func(i, j int) bool {
		return keyOf(&ops[i]).less(keyOf(&ops[j]))
	})
}

func (p *Projection) mark(op *model.Operation, k foldKey) {
	p.Applied[op.ID] = true
	if c := op.ActorCounter(); c > p.Folded[op.Actor] {
		p.Folded[op.Actor] = c
	}
	p.Playlist.Clock = clock.Merge(p.Playlist.Clock, op.Clock)
	if op.SubmittedAt.After(p.Playlist.UpdatedAt) {
		p.Playlist.UpdatedAt = op.SubmittedAt
	}
	p.LastKey = k
}

func (p *Projection) apply(op *model.Operation) error {
	switch op.Type {
	case model.OpAddClip:
		pay, err := op.AddClip()
		if err != nil {
			return err
		}
		clip := pay.Clip
		if ts, ok := p.Tombstones[clip.ID]; ok {
			// Deletion dominates: a removed id only comes back when the
			// add causally follows the removal.
			if clock.Compare(ts.Clock, op.Clock) != clock.Before {
				return nil
			}
			delete(p.Tombstones, clip.ID)
			p.dropClipRegisters(clip.ID)
		}
		if p.Playlist.ClipIndex(clip.ID) >= 0 {
			return nil
		}
		p.Playlist.Clips = append(p.Playlist.Clips, clip)

	case model.OpRemoveClip:
		pay, err := op.RemoveClip()
		if err != nil {
			return err
		}
		if idx := p.Playlist.ClipIndex(pay.ClipID); idx >= 0 {
			p.Playlist.Clips = append(p.Playlist.Clips[:idx], p.Playlist.Clips[idx+1:]...)
		}
		if ts := p.Tombstones[pay.ClipID]; ts.yieldsTo(op) {
			p.Tombstones[pay.ClipID] = registerFor(op)
		}
		p.dropClipRegisters(pay.ClipID)

	case model.OpReorderClips:
		pay, err := op.ReorderClips()
		if err != nil {
			return err
		}
		from := p.Playlist.ClipIndex(pay.ClipID)
		if from < 0 {
			// The moved clip is gone; the move dissolves.
			return nil
		}
		to := pay.ToIndex
		if last := len(p.Playlist.Clips) - 1; to > last {
			to = last
		}
		moveClip(p.Playlist.Clips, from, to)

	case model.OpUpdateClip:
		pay, err := op.UpdateClip()
		if err != nil {
			return err
		}
		if _, gone := p.Tombstones[pay.ClipID]; gone {
			return nil
		}
		idx := p.Playlist.ClipIndex(pay.ClipID)
		if idx < 0 {
			return nil
		}
		clip := &p.Playlist.Clips[idx]
		prefix := "clip." + pay.ClipID + "."
		p.setField(prefix+"title", op, pay.Title != nil, func() { clip.Title = *pay.Title })
		p.setField(prefix+"artist", op, pay.Artist != nil, func() { clip.Artist = *pay.Artist })
		p.setField(prefix+"startSec", op, pay.StartSec != nil, func() { clip.StartSec = *pay.StartSec })
		p.setField(prefix+"durationSec", op, pay.DurationSec != nil, func() { clip.DurationSec = *pay.DurationSec })
		p.setField(prefix+"thumbnailUrl", op, pay.ThumbnailURL != nil, func() { clip.ThumbnailURL = *pay.ThumbnailURL })

	case model.OpUpdateMetadata:
		pay, err := op.UpdateMetadata()
		if err != nil {
			return err
		}
		p.setField("meta.name", op, pay.Name != nil, func() { p.Playlist.Name = *pay.Name })
		p.setField("meta.description", op, pay.Description != nil, func() { p.Playlist.Description = *pay.Description })

	case model.OpUpdateDrinkingSound:
		pay, err := op.UpdateDrinkingSound()
		if err != nil {
			return err
		}
		p.setField("meta.drinkingSound", op, true, func() { p.Playlist.DrinkingSoundURL = pay.URL })
	}
	return nil
}

// setField applies one field write if it beats the field's register.
// Fields conflict independently: concurrent updates to different fields of
// the same record both land.
func (p *Projection) setField(key string, op *model.Operation, present bool, write func()) {
	if !present {
		return
	}
	if p.Registers[key].yieldsTo(op) {
		write()
		p.Registers[key] = registerFor(op)
	}
}

func (p *Projection) dropClipRegisters(clipID string) {
	prefix := "clip." + clipID + "."
	for key := range p.Registers {
		if strings.HasPrefix(key, prefix) {
			delete(p.Registers, key)
		}
	}
}

func moveClip(clips []model.Clip, from, to int) {
	if from == to {
		return
	}
	c := clips[from]
	if from < to {
		copy(clips[from:to], clips[from+1:to+1])
	} else {
		copy(clips[to+1:from+1], clips[to:from])
	}
	clips[to] = c
}
