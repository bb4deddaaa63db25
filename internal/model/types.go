// Package model holds the data types shared between the sync engine, the
// operation log store and the HTTP surface.
package model

import (
	"time"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/clock"
)

// Role is a collaborator's permission level on a playlist.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleEditor, RoleViewer:
		return true
	}
	return false
}

// Collaborator is a user with access to a playlist.
type Collaborator struct {
	UserID   string    `json:"userId"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// UserCursor is a collaborator's ephemeral position inside a playlist:
// which clip slot they are focused on, plus a short free-form status line.
// Cursors are broadcast to subscribers and never persisted.
type UserCursor struct {
	UserID     string    `json:"userId"`
	ClipIndex  *int      `json:"clipIndex,omitempty"`
	Status     string    `json:"status,omitempty"`
	LastActive time.Time `json:"lastActive"`
}

// Clip is one segment of a power-hour mix. Clips belong to exactly one
// playlist; importing a clip elsewhere copies it under a fresh id.
type Clip struct {
	ID           string  `json:"id"`
	Provider     string  `json:"provider,omitempty"` // "youtube"
	ProviderRef  string  `json:"providerRef,omitempty"`
	Title        string  `json:"title"`
	Artist       string  `json:"artist,omitempty"`
	StartSec     float64 `json:"startSec"`
	DurationSec  float64 `json:"durationSec"`
	ThumbnailURL string  `json:"thumbnailUrl,omitempty"`
}

// Playlist is the user-facing projection of one collaborative playlist:
// the converged result of folding its operation log.
type Playlist struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Description      string                  `json:"description,omitempty"`
	OwnerID          string                  `json:"ownerId"`
	DrinkingSoundURL string                  `json:"drinkingSoundUrl,omitempty"`
	Clips            []Clip                  `json:"clips"`
	Collaborators    map[string]Collaborator `json:"collaborators"`
	InviteCode       string                  `json:"inviteCode,omitempty"`
	Clock            clock.VectorClock       `json:"clock"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (p Playlist) Clone() Playlist {
	out := p
	out.Clips = append(make([]Clip, 0, len(p.Clips)), p.Clips...)
	out.Collaborators = make(map[string]Collaborator, len(p.Collaborators))
	for k, v := range p.Collaborators {
		out.Collaborators[k] = v
	}
	out.Clock = p.Clock.Clone()
	return out
}

// ClipIndex returns the position of the clip with the given id, or -1.
func (p *Playlist) ClipIndex(clipID string) int {
	for i := range p.Clips {
		if p.Clips[i].ID == clipID {
			return i
		}
	}
	return -1
}

// Collaborator looks up a collaborator; the owner is always one.
func (p *Playlist) Collaborator(userID string) (Collaborator, bool) {
	c, ok := p.Collaborators[userID]
	return c, ok
}

// RoleOf returns the user's role, or "" when the user has no access.
func (p *Playlist) RoleOf(userID string) Role {
	if c, ok := p.Collaborators[userID]; ok {
		return c.Role
	}
	return ""
}

// Invitation grants one contact the right to join a playlist at a given
// role. A code is consumed exactly once or expires.
type Invitation struct {
	Code       string     `json:"code"`
	PlaylistID string     `json:"playlistId"`
	InviterID  string     `json:"inviterId"`
	Email      string     `json:"email"`
	Role       Role       `json:"role"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	AcceptedBy *string    `json:"acceptedBy,omitempty"`
	AcceptedAt *time.Time `json:"acceptedAt,omitempty"`
}

func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

func (i *Invitation) Accepted() bool {
	return i.AcceptedBy != nil
}
