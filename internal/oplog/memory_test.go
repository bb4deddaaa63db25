package oplog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/clock"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

func testPlaylist(t *testing.T, s Store, id string) PlaylistMeta {
	t.Helper()
	meta := PlaylistMeta{
		ID:         id,
		OwnerID:    "owner",
		Name:       "Friday Hour",
		InviteCode: "code-" + id,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, s.CreatePlaylist(context.Background(), meta))
	return meta
}

func testOp(t *testing.T, playlistID, actor string, counter uint64) model.Operation {
	t.Helper()
	stamp := clock.VectorClock{actor: counter}
	op, err := model.NewOperation(playlistID, actor, model.OpAddClip, model.AddClipPayload{
		Clip: model.Clip{ID: "clip-" + actor, Provider: "youtube", ProviderRef: "yt1", Title: "Song"},
	}, stamp, nil)
	require.NoError(t, err)
	return op
}

func TestMemoryStoreAppendIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	testPlaylist(t, s, "pl-1")

	op := testOp(t, "pl-1", "alice", 1)
	seq, err := s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	// Replaying the same operation id lands on the recorded position.
	seq, err = s.AppendOperation(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	other := testOp(t, "pl-1", "bob", 1)
	seq, err = s.AppendOperation(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	_, err = s.AppendOperation(ctx, testOp(t, "pl-missing", "alice", 2))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreReadOperations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	testPlaylist(t, s, "pl-1")

	var ids []string
	for i := uint64(1); i <= 4; i++ {
		op := testOp(t, "pl-1", "alice", i)
		ids = append(ids, op.ID)
		_, err := s.AppendOperation(ctx, op)
		require.NoError(t, err)
	}

	all, err := s.ReadOperations(ctx, "pl-1", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, lg := range all {
		assert.Equal(t, int64(i+1), lg.Seq)
		assert.Equal(t, ids[i], lg.ID)
	}

	tail, err := s.ReadOperations(ctx, "pl-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Seq)
}

func TestMemoryStoreSnapshotNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	testPlaylist(t, s, "pl-1")

	require.NoError(t, s.SaveSnapshot(ctx, Snapshot{PlaylistID: "pl-1", State: []byte(`{"v":10}`), LastSeq: 10}))
	require.NoError(t, s.SaveSnapshot(ctx, Snapshot{PlaylistID: "pl-1", State: []byte(`{"v":5}`), LastSeq: 5}))

	snap, err := s.ReadSnapshot(ctx, "pl-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.LastSeq)
	assert.JSONEq(t, `{"v":10}`, string(snap.State))

	// Same seq overwrites: a rebuilt projection may correct the state
	// without advancing the log.
	require.NoError(t, s.SaveSnapshot(ctx, Snapshot{PlaylistID: "pl-1", State: []byte(`{"v":11}`), LastSeq: 10}))
	snap, err = s.ReadSnapshot(ctx, "pl-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":11}`, string(snap.State))

	_, err = s.ReadSnapshot(ctx, "pl-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreConsumeInvitation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	testPlaylist(t, s, "pl-1")

	now := time.Now().UTC()
	inv := model.Invitation{
		Code:       "inv-1",
		PlaylistID: "pl-1",
		InviterID:  "owner",
		Email:      "bob@example.com",
		Role:       model.RoleEditor,
		CreatedAt:  now,
		ExpiresAt:  now.Add(time.Hour),
	}
	require.NoError(t, s.CreateInvitation(ctx, inv))

	ok, err := s.ConsumeInvitation(ctx, "inv-1", "bob", now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetInvitation(ctx, "inv-1")
	require.NoError(t, err)
	require.NotNil(t, got.AcceptedBy)
	assert.Equal(t, "bob", *got.AcceptedBy)

	// Second consumption loses, whoever it is.
	ok, err = s.ConsumeInvitation(ctx, "inv-1", "carol", now)
	require.NoError(t, err)
	assert.False(t, ok)

	expired := inv
	expired.Code = "inv-2"
	expired.ExpiresAt = now.Add(-time.Minute)
	require.NoError(t, s.CreateInvitation(ctx, expired))
	ok, err = s.ConsumeInvitation(ctx, "inv-2", "bob", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryFeed(t *testing.T) {
	ctx := context.Background()
	feed := NewMemoryFeed()

	sub, err := feed.Subscribe(ctx, "pl-1")
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, Event{Type: EventPresence, PlaylistID: "pl-2"}))
	require.NoError(t, feed.Publish(ctx, Event{Type: EventOpAppended, PlaylistID: "pl-1"}))

	select {
	case evt := <-sub.Events():
		assert.Equal(t, EventOpAppended, evt.Type)
		assert.Equal(t, "pl-1", evt.PlaylistID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())

	_, open := <-sub.Events()
	assert.False(t, open)
}
