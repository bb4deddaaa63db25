// Package invite manages collaborator access to playlists: emailed
// invitations with expiring codes, the playlist's standing share code,
// revocation and self-leave. Membership changes are written to the store
// and announced on the change feed so live sessions re-gate immediately.
package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
)

var (
	ErrNotOwner         = errors.New("invite: only the playlist owner may manage collaborators")
	ErrUnknownCode      = errors.New("invite: unknown code")
	ErrCodeConsumed     = errors.New("invite: code already accepted")
	ErrCodeExpired      = errors.New("invite: code expired")
	ErrOwnerCannotLeave = errors.New("invite: the owner cannot leave or be removed")
	ErrInvalidRole      = errors.New("invite: role must be editor or viewer")
	ErrInvalidEmail     = errors.New("invite: invitee email is required")
)

const (
	// DefaultTTL is how long an emailed invitation stays acceptable.
	DefaultTTL = 7 * 24 * time.Hour

	// Standing share codes never change once a playlist is created, so a
	// small cache skips the store lookup on the hot join path.
	codeCacheSize = 1024
)

type Manager struct {
	store oplog.Store
	feed  oplog.Feed
	email EmailSender
	ttl   time.Duration
	now   func() time.Time

	codes *lru.Cache[string, string]
}

func NewManager(store oplog.Store, feed oplog.Feed, email EmailSender) *Manager {
	if email == nil {
		email = LogEmailSender{}
	}
	codes, _ := lru.New[string, string](codeCacheSize)
	return &Manager{
		store: store,
		feed:  feed,
		email: email,
		ttl:   DefaultTTL,
		now:   time.Now,
		codes: codes,
	}
}

// Invite creates an invitation for the given contact and emails the code.
// Only the playlist owner may invite; the requested role must be editor or
// viewer. The invitation expires after the manager's TTL.
func (m *Manager) Invite(ctx context.Context, playlistID, inviterID, email string, role model.Role) (model.Invitation, error) {
	meta, err := m.store.PlaylistMeta(ctx, playlistID)
	if err != nil {
		return model.Invitation{}, err
	}
	if meta.OwnerID != inviterID {
		return model.Invitation{}, ErrNotOwner
	}

	if role == "" {
		role = model.RoleEditor
	}
	if role != model.RoleEditor && role != model.RoleViewer {
		return model.Invitation{}, ErrInvalidRole
	}

	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return model.Invitation{}, ErrInvalidEmail
	}

	now := m.now().UTC()
	inv := model.Invitation{
		Code:       uuid.NewString(),
		PlaylistID: playlistID,
		InviterID:  inviterID,
		Email:      email,
		Role:       role,
		CreatedAt:  now,
		ExpiresAt:  now.Add(m.ttl),
	}
	if err := m.store.CreateInvitation(ctx, inv); err != nil {
		return model.Invitation{}, fmt.Errorf("create invitation: %w", err)
	}

	subject := fmt.Sprintf("You're invited to %q", meta.Name)
	body := fmt.Sprintf(
		"You've been invited to collaborate on the playlist %q as %s.\n\n"+
			"Join with code: %s\n\n"+
			"The code expires on %s.",
		meta.Name, role, inv.Code, inv.ExpiresAt.Format(time.RFC1123),
	)
	if err := m.email.Send(email, subject, body); err != nil {
		// The invitation is already durable; the code can still be shared
		// out of band.
		log.Printf("collab-service: invite email to %s: %v", email, err)
	}

	return inv, nil
}

// Accept redeems a code for userID and returns the playlist joined and the
// collaborator row created. Both code kinds work here: an emailed
// invitation code (consumed exactly once, role from the invitation) and a
// playlist's standing share code (reusable, joins as editor). Re-accepting
// a code the same user already redeemed succeeds and changes nothing.
func (m *Manager) Accept(ctx context.Context, code, userID string) (string, model.Collaborator, error) {
	code = strings.TrimSpace(code)
	if code == "" || userID == "" {
		return "", model.Collaborator{}, ErrUnknownCode
	}

	// Emailed invitation codes are always uuids; any other shape can only
	// be a playlist share code.
	if uuid.Validate(code) != nil {
		return m.joinByShareCode(ctx, code, userID)
	}

	inv, err := m.store.GetInvitation(ctx, code)
	switch {
	case err == nil:
		return m.acceptInvitation(ctx, inv, userID)
	case errors.Is(err, oplog.ErrNotFound):
		return m.joinByShareCode(ctx, code, userID)
	default:
		return "", model.Collaborator{}, fmt.Errorf("get invitation: %w", err)
	}
}

func (m *Manager) acceptInvitation(ctx context.Context, inv model.Invitation, userID string) (string, model.Collaborator, error) {
	now := m.now().UTC()

	// The owner redeeming their own playlist's code keeps their role and
	// leaves the code open for the actual invitee.
	if meta, err := m.store.PlaylistMeta(ctx, inv.PlaylistID); err == nil && meta.OwnerID == userID {
		return m.existingCollaborator(ctx, inv.PlaylistID, userID)
	}

	if inv.AcceptedBy != nil {
		if *inv.AcceptedBy == userID {
			return m.existingCollaborator(ctx, inv.PlaylistID, userID)
		}
		return "", model.Collaborator{}, ErrCodeConsumed
	}
	if inv.Expired(now) {
		return "", model.Collaborator{}, ErrCodeExpired
	}

	ok, err := m.store.ConsumeInvitation(ctx, inv.Code, userID, now)
	if err != nil {
		return "", model.Collaborator{}, fmt.Errorf("consume invitation: %w", err)
	}
	if !ok {
		// Lost the race: someone consumed it, or it expired between the
		// read and the consume.
		fresh, err := m.store.GetInvitation(ctx, inv.Code)
		if err != nil {
			return "", model.Collaborator{}, ErrCodeConsumed
		}
		if fresh.AcceptedBy != nil && *fresh.AcceptedBy == userID {
			return m.existingCollaborator(ctx, inv.PlaylistID, userID)
		}
		if fresh.Expired(now) {
			return "", model.Collaborator{}, ErrCodeExpired
		}
		return "", model.Collaborator{}, ErrCodeConsumed
	}

	return m.addCollaborator(ctx, inv.PlaylistID, userID, inv.Role, now)
}

func (m *Manager) joinByShareCode(ctx context.Context, code, userID string) (string, model.Collaborator, error) {
	playlistID, ok := m.codes.Get(code)
	if !ok {
		var err error
		playlistID, err = m.store.FindPlaylistByInviteCode(ctx, code)
		if errors.Is(err, oplog.ErrNotFound) {
			return "", model.Collaborator{}, ErrUnknownCode
		}
		if err != nil {
			return "", model.Collaborator{}, fmt.Errorf("find playlist by code: %w", err)
		}
		m.codes.Add(code, playlistID)
	}

	// Joining twice is a no-op; an existing role is never downgraded.
	if pid, c, err := m.existingCollaborator(ctx, playlistID, userID); err == nil {
		return pid, c, nil
	}

	return m.addCollaborator(ctx, playlistID, userID, model.RoleEditor, m.now().UTC())
}

func (m *Manager) existingCollaborator(ctx context.Context, playlistID, userID string) (string, model.Collaborator, error) {
	collabs, err := m.store.ListCollaborators(ctx, playlistID)
	if err != nil {
		return "", model.Collaborator{}, fmt.Errorf("list collaborators: %w", err)
	}
	for _, c := range collabs {
		if c.UserID == userID {
			return playlistID, c, nil
		}
	}
	return "", model.Collaborator{}, ErrCodeConsumed
}

func (m *Manager) addCollaborator(ctx context.Context, playlistID, userID string, role model.Role, now time.Time) (string, model.Collaborator, error) {
	c := model.Collaborator{UserID: userID, Role: role, JoinedAt: now}
	if err := m.store.UpsertCollaborator(ctx, playlistID, c); err != nil {
		return "", model.Collaborator{}, fmt.Errorf("upsert collaborator: %w", err)
	}
	m.publishCollaborator(ctx, oplog.EventCollaboratorUpsert, playlistID, oplog.CollaboratorPayload{Collaborator: &c})
	return playlistID, c, nil
}

// Revoke removes a collaborator. Only the owner may revoke, and the owner's
// own access cannot be revoked. It reports whether a collaborator row was
// actually removed.
func (m *Manager) Revoke(ctx context.Context, playlistID, ownerID, userID string) (bool, error) {
	meta, err := m.store.PlaylistMeta(ctx, playlistID)
	if err != nil {
		return false, err
	}
	if meta.OwnerID != ownerID {
		return false, ErrNotOwner
	}
	if userID == meta.OwnerID {
		return false, ErrOwnerCannotLeave
	}

	removed, err := m.store.RemoveCollaborator(ctx, playlistID, userID)
	if err != nil {
		return false, fmt.Errorf("remove collaborator: %w", err)
	}
	if removed {
		m.publishCollaborator(ctx, oplog.EventCollaboratorRemove, playlistID, oplog.CollaboratorPayload{UserID: userID})
	}
	return removed, nil
}

// Leave removes the caller's own access. The owner cannot leave.
func (m *Manager) Leave(ctx context.Context, playlistID, userID string) error {
	meta, err := m.store.PlaylistMeta(ctx, playlistID)
	if err != nil {
		return err
	}
	if userID == meta.OwnerID {
		return ErrOwnerCannotLeave
	}

	removed, err := m.store.RemoveCollaborator(ctx, playlistID, userID)
	if err != nil {
		return fmt.Errorf("remove collaborator: %w", err)
	}
	if !removed {
		return oplog.ErrNotFound
	}
	m.publishCollaborator(ctx, oplog.EventCollaboratorRemove, playlistID, oplog.CollaboratorPayload{UserID: userID})
	return nil
}

// publishCollaborator announces a membership change on the feed. Best
// effort: the store row is already written, and sessions re-seed membership
// from the store on their next bootstrap anyway.
func (m *Manager) publishCollaborator(ctx context.Context, typ, playlistID string, pay oplog.CollaboratorPayload) {
	raw, err := json.Marshal(pay)
	if err != nil {
		log.Printf("collab-service: marshal collaborator event: %v", err)
		return
	}
	evt := oplog.Event{Type: typ, PlaylistID: playlistID, Payload: raw}
	if err := m.feed.Publish(ctx, evt); err != nil {
		log.Printf("collab-service: publish collaborator event: %v", err)
	}
}
