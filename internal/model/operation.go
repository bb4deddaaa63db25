package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/clock"
)

// OpType enumerates the mutations a collaborator can submit.
type OpType string

const (
	OpAddClip             OpType = "add_clip"
	OpRemoveClip          OpType = "remove_clip"
	OpReorderClips        OpType = "reorder_clips"
	OpUpdateClip          OpType = "update_clip"
	OpUpdateMetadata      OpType = "update_metadata"
	OpUpdateDrinkingSound OpType = "update_drinking_sound"
)

func (t OpType) Valid() bool {
	switch t {
	case OpAddClip, OpRemoveClip, OpReorderClips, OpUpdateClip, OpUpdateMetadata, OpUpdateDrinkingSound:
		return true
	}
	return false
}

// Operation is one immutable entry of a playlist's history. It is stamped
// with the submitter's vector clock at submission time and retained in the
// log forever; replicas fold the same set of operations into the same state.
type Operation struct {
	ID          string            `json:"id"`
	PlaylistID  string            `json:"playlistId"`
	Type        OpType            `json:"type"`
	Actor       string            `json:"actor"`
	Payload     json.RawMessage   `json:"payload"`
	Clock       clock.VectorClock `json:"clock"`
	Deps        []string          `json:"deps,omitempty"`
	SubmittedAt time.Time         `json:"submittedAt"`
}

// ActorCounter is the submitter's own entry in the operation's clock stamp,
// used as the deterministic tie-break between concurrent writes.
func (o *Operation) ActorCounter() uint64 {
	return o.Clock.Counter(o.Actor)
}

// ClockSum orders operations causally: sums are strictly increasing along
// any happens-before chain, so (ClockSum, ID) is a convergent total order.
func (o *Operation) ClockSum() uint64 {
	return o.Clock.Sum()
}

type AddClipPayload struct {
	Clip Clip `json:"clip"`
}

type RemoveClipPayload struct {
	ClipID string `json:"clipId"`
}

// ReorderClipsPayload moves one clip to a target index. The move is relative
// to whatever list the receiving replica holds: the index is clamped, and the
// move dissolves if the clip was removed concurrently.
type ReorderClipsPayload struct {
	ClipID  string `json:"clipId"`
	ToIndex int    `json:"toIndex"`
}

type UpdateClipPayload struct {
	ClipID       string   `json:"clipId"`
	Title        *string  `json:"title,omitempty"`
	Artist       *string  `json:"artist,omitempty"`
	StartSec     *float64 `json:"startSec,omitempty"`
	DurationSec  *float64 `json:"durationSec,omitempty"`
	ThumbnailURL *string  `json:"thumbnailUrl,omitempty"`
}

func (p *UpdateClipPayload) Empty() bool {
	return p.Title == nil && p.Artist == nil && p.StartSec == nil &&
		p.DurationSec == nil && p.ThumbnailURL == nil
}

type UpdateMetadataPayload struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

func (p *UpdateMetadataPayload) Empty() bool {
	return p.Name == nil && p.Description == nil
}

// UpdateDrinkingSoundPayload replaces the sound played between clips.
// An empty URL clears it.
type UpdateDrinkingSoundPayload struct {
	URL string `json:"url"`
}

// NewOperation stamps and serializes a mutation. The caller supplies the
// clock already incremented for the actor.
func NewOperation(playlistID, actor string, typ OpType, payload any, stamp clock.VectorClock, deps []string) (Operation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Operation{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	op := Operation{
		ID:          uuid.NewString(),
		PlaylistID:  playlistID,
		Type:        typ,
		Actor:       actor,
		Payload:     raw,
		Clock:       stamp.Clone(),
		Deps:        append([]string(nil), deps...),
		SubmittedAt: time.Now().UTC(),
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}

func (o *Operation) AddClip() (AddClipPayload, error) {
	var p AddClipPayload
	err := o.decode(OpAddClip, &p)
	return p, err
}

func (o *Operation) RemoveClip() (RemoveClipPayload, error) {
	var p RemoveClipPayload
	err := o.decode(OpRemoveClip, &p)
	return p, err
}

func (o *Operation) ReorderClips() (ReorderClipsPayload, error) {
	var p ReorderClipsPayload
	err := o.decode(OpReorderClips, &p)
	return p, err
}

func (o *Operation) UpdateClip() (UpdateClipPayload, error) {
	var p UpdateClipPayload
	err := o.decode(OpUpdateClip, &p)
	return p, err
}

func (o *Operation) UpdateMetadata() (UpdateMetadataPayload, error) {
	var p UpdateMetadataPayload
	err := o.decode(OpUpdateMetadata, &p)
	return p, err
}

func (o *Operation) UpdateDrinkingSound() (UpdateDrinkingSoundPayload, error) {
	var p UpdateDrinkingSoundPayload
	err := o.decode(OpUpdateDrinkingSound, &p)
	return p, err
}

func (o *Operation) decode(want OpType, dst any) error {
	if o.Type != want {
		return fmt.Errorf("operation %s is %s, not %s", o.ID, o.Type, want)
	}
	if err := json.Unmarshal(o.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", o.Type, err)
	}
	return nil
}

// Validate checks the envelope and the type-specific payload. Operations
// arriving off the wire are validated before they reach the resolver.
func (o *Operation) Validate() error {
	switch {
	case o.ID == "":
		return errors.New("operation: missing id")
	case o.PlaylistID == "":
		return errors.New("operation: missing playlist id")
	case o.Actor == "":
		return errors.New("operation: missing actor")
	case !o.Type.Valid():
		return fmt.Errorf("operation: unknown type %q", o.Type)
	case len(o.Payload) == 0:
		return errors.New("operation: missing payload")
	}
	if err := o.Clock.Validate(); err != nil {
		return err
	}
	if o.Clock.Counter(o.Actor) == 0 {
		return fmt.Errorf("operation: clock has no entry for actor %s", o.Actor)
	}
	for _, dep := range o.Deps {
		if dep == "" {
			return errors.New("operation: empty dependency id")
		}
	}
	return o.validatePayload()
}

func (o *Operation) validatePayload() error {
	switch o.Type {
	case OpAddClip:
		p, err := o.AddClip()
		if err != nil {
			return err
		}
		if p.Clip.ID == "" {
			return errors.New("add_clip: missing clip id")
		}
		if strings.TrimSpace(p.Clip.Title) == "" {
			return errors.New("add_clip: missing clip title")
		}
		if p.Clip.StartSec < 0 || p.Clip.DurationSec < 0 {
			return errors.New("add_clip: negative offset or duration")
		}
	case OpRemoveClip:
		p, err := o.RemoveClip()
		if err != nil {
			return err
		}
		if p.ClipID == "" {
			return errors.New("remove_clip: missing clip id")
		}
	case OpReorderClips:
		p, err := o.ReorderClips()
		if err != nil {
			return err
		}
		if p.ClipID == "" {
			return errors.New("reorder_clips: missing clip id")
		}
		if p.ToIndex < 0 {
			return errors.New("reorder_clips: toIndex must be >= 0")
		}
	case OpUpdateClip:
		p, err := o.UpdateClip()
		if err != nil {
			return err
		}
		if p.ClipID == "" {
			return errors.New("update_clip: missing clip id")
		}
		if p.Empty() {
			return errors.New("update_clip: no fields to update")
		}
		if p.StartSec != nil && *p.StartSec < 0 {
			return errors.New("update_clip: negative start offset")
		}
		if p.DurationSec != nil && *p.DurationSec <= 0 {
			return errors.New("update_clip: duration must be positive")
		}
	case OpUpdateMetadata:
		p, err := o.UpdateMetadata()
		if err != nil {
			return err
		}
		if p.Empty() {
			return errors.New("update_metadata: no fields to update")
		}
		if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
			return errors.New("update_metadata: name must not be blank")
		}
	case OpUpdateDrinkingSound:
		p, err := o.UpdateDrinkingSound()
		if err != nil {
			return err
		}
		if p.URL != "" && !strings.HasPrefix(p.URL, "http://") && !strings.HasPrefix(p.URL, "https://") {
			return errors.New("update_drinking_sound: url must be http(s)")
		}
	}
	return nil
}
