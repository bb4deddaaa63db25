// Package oplog is the client of the durable store backing collaborative
// playlists: an append-only per-playlist operation log, periodic state
// snapshots, and the real-time change feed that fans appended operations out
// to every engine node. The engine treats all of it as an opaque
// collaborator; any store honoring these interfaces will do.
package oplog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

var (
	// ErrNotFound signals a missing playlist, snapshot or invitation.
	ErrNotFound = errors.New("oplog: not found")
)

// Logged is an operation together with the position the store assigned to
// it. Seq starts at 1 and increases densely within one playlist's log.
type Logged struct {
	model.Operation
	Seq int64 `json:"seq"`
}

// Snapshot is a serialized projection of a playlist at LastSeq. The store
// never looks inside State; the engine folds operations after LastSeq on
// top of it when bootstrapping.
type Snapshot struct {
	PlaylistID string          `json:"playlistId"`
	State      json.RawMessage `json:"state"`
	LastSeq    int64           `json:"lastSeq"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// PlaylistMeta is the identity record of a playlist: everything that exists
// before (and independent of) the operation log.
type PlaylistMeta struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"ownerId"`
	Name       string    `json:"name"`
	InviteCode string    `json:"inviteCode"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store is the durable side of the collaborator boundary.
type Store interface {
	CreatePlaylist(ctx context.Context, meta PlaylistMeta) error
	PlaylistMeta(ctx context.Context, playlistID string) (PlaylistMeta, error)
	FindPlaylistByInviteCode(ctx context.Context, code string) (string, error)

	// AppendOperation durably appends op to its playlist's log and returns
	// the assigned sequence. Appending an operation id that is already in
	// the log returns the existing sequence; the log never holds an
	// operation twice.
	AppendOperation(ctx context.Context, op model.Operation) (int64, error)
	// ReadOperations returns all logged operations with seq > afterSeq in
	// append order.
	ReadOperations(ctx context.Context, playlistID string, afterSeq int64) ([]Logged, error)

	ReadSnapshot(ctx context.Context, playlistID string) (Snapshot, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	ListCollaborators(ctx context.Context, playlistID string) ([]model.Collaborator, error)
	UpsertCollaborator(ctx context.Context, playlistID string, c model.Collaborator) error
	// RemoveCollaborator reports whether a collaborator row was removed.
	RemoveCollaborator(ctx context.Context, playlistID, userID string) (bool, error)

	CreateInvitation(ctx context.Context, inv model.Invitation) error
	GetInvitation(ctx context.Context, code string) (model.Invitation, error)
	// ConsumeInvitation atomically marks an open, unexpired invitation as
	// accepted by userID. It reports false when the code was already
	// consumed or has expired; the row is never half-written.
	ConsumeInvitation(ctx context.Context, code, userID string, at time.Time) (bool, error)
}

// Feed event types.
const (
	EventOpAppended         = "op.appended"
	EventCollaboratorUpsert = "collaborator.updated"
	EventCollaboratorRemove = "collaborator.removed"
	EventPresence           = "presence.updated"
)

// Event is one change-feed message. Op is set for op.appended; Payload
// carries the event-specific body for everything else.
type Event struct {
	Type       string          `json:"type"`
	PlaylistID string          `json:"playlistId"`
	Op         *Logged         `json:"op,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// CollaboratorPayload is the body of collaborator.* events. Upserts carry
// the full collaborator; removals carry the user id.
type CollaboratorPayload struct {
	Collaborator *model.Collaborator `json:"collaborator,omitempty"`
	UserID       string              `json:"userId,omitempty"`
}

// PresencePayload is the body of presence.updated events.
type PresencePayload struct {
	UserID    string  `json:"userId"`
	ClipIndex *int    `json:"clipIndex,omitempty"`
	Status    *string `json:"status,omitempty"`
	Gone      bool    `json:"gone,omitempty"`
}

// Subscription delivers the events of one playlist until closed. Delivery
// is at-least-once and may drop under backpressure; consumers reconcile
// against the log by sequence.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Feed is the real-time side of the collaborator boundary.
type Feed interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context, playlistID string) (Subscription, error)
}
