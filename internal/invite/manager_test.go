package invite

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
)

type capturedMail struct {
	to, subject, body string
}

type captureSender struct {
	mu    sync.Mutex
	mails []capturedMail
}

func (c *captureSender) Send(to, subject, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mails = append(c.mails, capturedMail{to: to, subject: subject, body: body})
	return nil
}

func (c *captureSender) sent() []capturedMail {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capturedMail(nil), c.mails...)
}

type failingSender struct{}

func (failingSender) Send(string, string, string) error {
	return errors.New("smtp down")
}

func newTestManager(t *testing.T) (*Manager, *oplog.MemoryStore, *oplog.MemoryFeed, *captureSender) {
	t.Helper()
	store := oplog.NewMemoryStore()
	feed := oplog.NewMemoryFeed()
	mail := &captureSender{}
	return NewManager(store, feed, mail), store, feed, mail
}

func seedPlaylist(t *testing.T, store *oplog.MemoryStore) oplog.PlaylistMeta {
	t.Helper()
	ctx := context.Background()
	meta := oplog.PlaylistMeta{
		ID:         "pl-1",
		OwnerID:    "alice",
		Name:       "Friday Mix",
		InviteCode: "share-1",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, store.CreatePlaylist(ctx, meta))
	require.NoError(t, store.UpsertCollaborator(ctx, meta.ID, model.Collaborator{
		UserID: "alice", Role: model.RoleOwner, JoinedAt: meta.CreatedAt,
	}))
	return meta
}

func nextEvent(t *testing.T, sub oplog.Subscription) oplog.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "feed closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("no feed event within 2s")
		return oplog.Event{}
	}
}

func TestInvite(t *testing.T) {
	mgr, store, _, mail := newTestManager(t)
	meta := seedPlaylist(t, store)
	ctx := context.Background()

	inv, err := mgr.Invite(ctx, meta.ID, "alice", "bob@example.com", model.RoleViewer)
	require.NoError(t, err)
	assert.NotEmpty(t, inv.Code)
	assert.Equal(t, model.RoleViewer, inv.Role)
	assert.Equal(t, "alice", inv.InviterID)
	assert.WithinDuration(t, inv.CreatedAt.Add(DefaultTTL), inv.ExpiresAt, time.Second)

	stored, err := store.GetInvitation(ctx, inv.Code)
	require.NoError(t, err)
	assert.Nil(t, stored.AcceptedBy)

	mails := mail.sent()
	require.Len(t, mails, 1)
	assert.Equal(t, "bob@example.com", mails[0].to)
	assert.Contains(t, mails[0].body, inv.Code)
	assert.Contains(t, mails[0].subject, "Friday Mix")

	t.Run("default role is editor", func(t *testing.T) {
		inv, err := mgr.Invite(ctx, meta.ID, "alice", "carol@example.com", "")
		require.NoError(t, err)
		assert.Equal(t, model.RoleEditor, inv.Role)
	})

	t.Run("owner role cannot be invited", func(t *testing.T) {
		_, err := mgr.Invite(ctx, meta.ID, "alice", "dave@example.com", model.RoleOwner)
		assert.ErrorIs(t, err, ErrInvalidRole)
	})

	t.Run("only the owner invites", func(t *testing.T) {
		_, err := mgr.Invite(ctx, meta.ID, "bob", "eve@example.com", model.RoleEditor)
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := mgr.Invite(ctx, meta.ID, "alice", "   ", model.RoleEditor)
		assert.ErrorIs(t, err, ErrInvalidEmail)
	})

	t.Run("unknown playlist", func(t *testing.T) {
		_, err := mgr.Invite(ctx, "nope", "alice", "bob@example.com", model.RoleEditor)
		assert.ErrorIs(t, err, oplog.ErrNotFound)
	})

	t.Run("mail failure does not lose the invitation", func(t *testing.T) {
		mgr := NewManager(store, oplog.NewMemoryFeed(), failingSender{})
		inv, err := mgr.Invite(ctx, meta.ID, "alice", "frank@example.com", model.RoleEditor)
		require.NoError(t, err)
		_, err = store.GetInvitation(ctx, inv.Code)
		assert.NoError(t, err)
	})
}

func TestAcceptInvitation(t *testing.T) {
	mgr, store, feed, _ := newTestManager(t)
	meta := seedPlaylist(t, store)
	ctx := context.Background()

	sub, err := feed.Subscribe(ctx, meta.ID)
	require.NoError(t, err)
	defer sub.Close()

	inv, err := mgr.Invite(ctx, meta.ID, "alice", "bob@example.com", model.RoleViewer)
	require.NoError(t, err)

	playlistID, c, err := mgr.Accept(ctx, inv.Code, "bob")
	require.NoError(t, err)
	assert.Equal(t, meta.ID, playlistID)
	assert.Equal(t, "bob", c.UserID)
	assert.Equal(t, model.RoleViewer, c.Role)

	evt := nextEvent(t, sub)
	assert.Equal(t, oplog.EventCollaboratorUpsert, evt.Type)
	var pay oplog.CollaboratorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &pay))
	require.NotNil(t, pay.Collaborator)
	assert.Equal(t, "bob", pay.Collaborator.UserID)

	collabs, err := store.ListCollaborators(ctx, meta.ID)
	require.NoError(t, err)
	assert.Len(t, collabs, 2)

	t.Run("same user re-accepts cleanly", func(t *testing.T) {
		pid, again, err := mgr.Accept(ctx, inv.Code, "bob")
		require.NoError(t, err)
		assert.Equal(t, meta.ID, pid)
		assert.Equal(t, c.Role, again.Role)

		collabs, err := store.ListCollaborators(ctx, meta.ID)
		require.NoError(t, err)
		assert.Len(t, collabs, 2, "no duplicate rows")
	})

	t.Run("different user finds it consumed", func(t *testing.T) {
		_, _, err := mgr.Accept(ctx, inv.Code, "eve")
		assert.ErrorIs(t, err, ErrCodeConsumed)
	})

	t.Run("owner keeps role on own code", func(t *testing.T) {
		inv, err := mgr.Invite(ctx, meta.ID, "alice", "self@example.com", model.RoleViewer)
		require.NoError(t, err)

		_, c, err := mgr.Accept(ctx, inv.Code, "alice")
		require.NoError(t, err)
		assert.Equal(t, model.RoleOwner, c.Role)

		// The code stays open for the actual invitee.
		_, c, err = mgr.Accept(ctx, inv.Code, "frank")
		require.NoError(t, err)
		assert.Equal(t, model.RoleViewer, c.Role)
	})
}

func TestAcceptExpiredInvitation(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	meta := seedPlaylist(t, store)
	ctx := context.Background()

	inv, err := mgr.Invite(ctx, meta.ID, "alice", "bob@example.com", model.RoleEditor)
	require.NoError(t, err)

	// Jump the manager's clock past the TTL.
	mgr.now = func() time.Time { return time.Now().Add(DefaultTTL + time.Hour) }

	_, _, err = mgr.Accept(ctx, inv.Code, "bob")
	assert.ErrorIs(t, err, ErrCodeExpired)

	collabs, err := store.ListCollaborators(ctx, meta.ID)
	require.NoError(t, err)
	assert.Len(t, collabs, 1, "no partial state on expired accept")
}

func TestJoinByShareCode(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	meta := seedPlaylist(t, store)
	ctx := context.Background()

	playlistID, c, err := mgr.Accept(ctx, meta.InviteCode, "bob")
	require.NoError(t, err)
	assert.Equal(t, meta.ID, playlistID)
	assert.Equal(t, model.RoleEditor, c.Role)
	assert.True(t, mgr.codes.Contains(meta.InviteCode), "share code cached after lookup")

	t.Run("repeat join keeps the row", func(t *testing.T) {
		_, again, err := mgr.Accept(ctx, meta.InviteCode, "bob")
		require.NoError(t, err)
		assert.Equal(t, c.JoinedAt, again.JoinedAt)
	})

	t.Run("owner is not downgraded", func(t *testing.T) {
		_, c, err := mgr.Accept(ctx, meta.InviteCode, "alice")
		require.NoError(t, err)
		assert.Equal(t, model.RoleOwner, c.Role)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, _, err := mgr.Accept(ctx, "bogus", "bob")
		assert.ErrorIs(t, err, ErrUnknownCode)
	})

	t.Run("blank code", func(t *testing.T) {
		_, _, err := mgr.Accept(ctx, "   ", "bob")
		assert.ErrorIs(t, err, ErrUnknownCode)
	})
}

func TestRevoke(t *testing.T) {
	mgr, store, feed, _ := newTestManager(t)
	meta := seedPlaylist(t, store)
	ctx := context.Background()

	_, _, err := mgr.Accept(ctx, meta.InviteCode, "bob")
	require.NoError(t, err)

	sub, err := feed.Subscribe(ctx, meta.ID)
	require.NoError(t, err)
	defer sub.Close()

	removed, err := mgr.Revoke(ctx, meta.ID, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	evt := nextEvent(t, sub)
	assert.Equal(t, oplog.EventCollaboratorRemove, evt.Type)
	var pay oplog.CollaboratorPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &pay))
	assert.Equal(t, "bob", pay.UserID)

	t.Run("second revoke removes nothing", func(t *testing.T) {
		removed, err := mgr.Revoke(ctx, meta.ID, "alice", "bob")
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("non-owner denied", func(t *testing.T) {
		_, err := mgr.Revoke(ctx, meta.ID, "bob", "alice")
		assert.ErrorIs(t, err, ErrNotOwner)
	})

	t.Run("owner cannot revoke self", func(t *testing.T) {
		_, err := mgr.Revoke(ctx, meta.ID, "alice", "alice")
		assert.ErrorIs(t, err, ErrOwnerCannotLeave)
	})
}

func TestLeave(t *testing.T) {
	mgr, store, _, _ := newTestManager(t)
	meta := seedPlaylist(t, store)
	ctx := context.Background()

	_, _, err := mgr.Accept(ctx, meta.InviteCode, "bob")
	require.NoError(t, err)

	require.NoError(t, mgr.Leave(ctx, meta.ID, "bob"))

	collabs, err := store.ListCollaborators(ctx, meta.ID)
	require.NoError(t, err)
	require.Len(t, collabs, 1)
	assert.Equal(t, "alice", collabs[0].UserID)

	t.Run("leaving twice reports not found", func(t *testing.T) {
		assert.ErrorIs(t, mgr.Leave(ctx, meta.ID, "bob"), oplog.ErrNotFound)
	})

	t.Run("owner cannot leave", func(t *testing.T) {
		assert.ErrorIs(t, mgr.Leave(ctx, meta.ID, "alice"), ErrOwnerCannotLeave)
	})
}
