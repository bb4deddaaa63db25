// Package collab is the synchronization engine for collaborative
// playlists: an operation log folded through vector-clock ordering into
// convergent playlist state, one serialized session per playlist.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/clock"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/presence"
)

// Service is the engine's front door. It owns one session per active
// playlist, creating them lazily and dropping them when they detach.
type Service struct {
	store   oplog.Store
	feed    oplog.Feed
	tracker *presence.Tracker
	cfg     SessionConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func NewService(store oplog.Store, feed oplog.Feed, tracker *presence.Tracker, cfg SessionConfig) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    store,
		feed:     feed,
		tracker:  tracker,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Tracker exposes the presence tracker for lifecycle wiring.
func (s *Service) Tracker() *presence.Tracker {
	return s.tracker
}

// CreatePlaylist registers a new playlist with its owner as the first
// collaborator and a fresh share code.
func (s *Service) CreatePlaylist(ctx context.Context, ownerID, name string) (model.Playlist, error) {
	if ownerID == "" {
		return model.Playlist{}, errf(KindInvalid, "missing owner id")
	}
	if strings.TrimSpace(name) == "" {
		return model.Playlist{}, errf(KindInvalid, "missing playlist name")
	}
	meta := oplog.PlaylistMeta{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Name:       strings.TrimSpace(name),
		InviteCode: uuid.NewString(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreatePlaylist(ctx, meta); err != nil {
		return model.Playlist{}, wrapErr(KindSyncError, err, "create playlist")
	}
	owner := model.Collaborator{UserID: ownerID, Role: model.RoleOwner, JoinedAt: meta.CreatedAt}
	if err := s.store.UpsertCollaborator(ctx, meta.ID, owner); err != nil {
		return model.Playlist{}, wrapErr(KindSyncError, err, "add owner to playlist %s", meta.ID)
	}
	return seedFromMeta(meta, []model.Collaborator{owner}), nil
}

// Playlist returns the folded state, gated on collaborator access.
func (s *Service) Playlist(ctx context.Context, playlistID, userID string) (model.Playlist, error) {
	sess, err := s.session(ctx, playlistID)
	if err != nil {
		return model.Playlist{}, err
	}
	st, err := sess.CurrentState(ctx)
	if err != nil {
		return model.Playlist{}, err
	}
	if err := AuthorizeRead(&st, userID); err != nil {
		return model.Playlist{}, err
	}
	return st, nil
}

// Operations returns the durable log after a sequence number, for clients
// reconciling a gap.
func (s *Service) Operations(ctx context.Context, playlistID, userID string, afterSeq int64) ([]oplog.Logged, error) {
	if _, err := s.Playlist(ctx, playlistID, userID); err != nil {
		return nil, err
	}
	logged, err := s.store.ReadOperations(ctx, playlistID, afterSeq)
	if err != nil {
		return nil, wrapErr(KindSyncError, err, "read operations for %s", playlistID)
	}
	return logged, nil
}

// Subscribe attaches userID to the playlist's update stream and returns
// the state the stream starts from.
func (s *Service) Subscribe(ctx context.Context, playlistID, userID string) (*Subscription, model.Playlist, error) {
	sess, err := s.session(ctx, playlistID)
	if err != nil {
		return nil, model.Playlist{}, err
	}
	return sess.Subscribe(ctx, userID)
}

// SessionStatus reports the lifecycle state of a playlist's session.
// Playlists nobody is touching have no session and report uninitialized.
func (s *Service) SessionStatus(playlistID string) (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[playlistID]; ok {
		return sess.Status()
	}
	return StateUninitialized, ""
}

func (s *Service) AddClip(ctx context.Context, playlistID, userID string, clip model.Clip, deps []string) (model.Operation, model.Playlist, error) {
	return s.submit(ctx, playlistID, userID, model.OpAddClip, model.AddClipPayload{Clip: clip}, deps)
}

func (s *Service) RemoveClip(ctx context.Context, playlistID, userID, clipID string, deps []string) (model.Operation, model.Playlist, error) {
	return s.submit(ctx, playlistID, userID, model.OpRemoveClip, model.RemoveClipPayload{ClipID: clipID}, deps)
}

func (s *Service) ReorderClips(ctx context.Context, playlistID, userID, clipID string, toIndex int, deps []string) (model.Operation, model.Playlist, error) {
	return s.submit(ctx, playlistID, userID, model.OpReorderClips, model.ReorderClipsPayload{ClipID: clipID, ToIndex: toIndex}, deps)
}

func (s *Service) UpdateClip(ctx context.Context, playlistID, userID string, patch model.UpdateClipPayload, deps []string) (model.Operation, model.Playlist, error) {
	if patch.Empty() {
		return model.Operation{}, model.Playlist{}, errf(KindInvalid, "update_clip patch is empty")
	}
	return s.submit(ctx, playlistID, userID, model.OpUpdateClip, patch, deps)
}

func (s *Service) UpdateMetadata(ctx context.Context, playlistID, userID string, patch model.UpdateMetadataPayload, deps []string) (model.Operation, model.Playlist, error) {
	if patch.Empty() {
		return model.Operation{}, model.Playlist{}, errf(KindInvalid, "update_metadata patch is empty")
	}
	return s.submit(ctx, playlistID, userID, model.OpUpdateMetadata, patch, deps)
}

func (s *Service) UpdateDrinkingSound(ctx context.Context, playlistID, userID, url string, deps []string) (model.Operation, model.Playlist, error) {
	return s.submit(ctx, playlistID, userID, model.OpUpdateDrinkingSound, model.UpdateDrinkingSoundPayload{URL: url}, deps)
}

func (s *Service) submit(ctx context.Context, playlistID, userID string, typ model.OpType, payload any, deps []string) (model.Operation, model.Playlist, error) {
	sess, err := s.session(ctx, playlistID)
	if err != nil {
		return model.Operation{}, model.Playlist{}, err
	}
	return sess.Submit(ctx, userID, typ, payload, deps)
}

// UpdatePresence publishes a cursor update. It flows through the change
// feed so every replica's tracker and subscribers see it, including ours.
func (s *Service) UpdatePresence(ctx context.Context, playlistID, userID string, upd presence.Update) error {
	if err := s.gate(ctx, playlistID, userID); err != nil {
		return err
	}
	return s.publishPresence(ctx, playlistID, oplog.PresencePayload{
		UserID:    userID,
		ClipIndex: upd.ClipIndex,
		Status:    upd.Status,
	})
}

// LeavePresence drops userID's cursor everywhere.
func (s *Service) LeavePresence(ctx context.Context, playlistID, userID string) error {
	if err := s.gate(ctx, playlistID, userID); err != nil {
		return err
	}
	return s.publishPresence(ctx, playlistID, oplog.PresencePayload{UserID: userID, Gone: true})
}

// Presence lists the active cursors on a playlist.
func (s *Service) Presence(ctx context.Context, playlistID, userID string) ([]model.UserCursor, error) {
	if err := s.gate(ctx, playlistID, userID); err != nil {
		return nil, err
	}
	return s.tracker.Active(playlistID), nil
}

func (s *Service) publishPresence(ctx context.Context, playlistID string, pay oplog.PresencePayload) error {
	raw, err := json.Marshal(pay)
	if err != nil {
		return wrapErr(KindInvalid, err, "encode presence")
	}
	err = s.feed.Publish(ctx, oplog.Event{Type: oplog.EventPresence, PlaylistID: playlistID, Payload: raw})
	if err != nil {
		return wrapErr(KindSyncError, err, "publish presence for %s", playlistID)
	}
	return nil
}

// gate checks collaborator access against the session's live state.
func (s *Service) gate(ctx context.Context, playlistID, userID string) error {
	sess, err := s.session(ctx, playlistID)
	if err != nil {
		return err
	}
	st, err := sess.CurrentState(ctx)
	if err != nil {
		return err
	}
	return AuthorizeRead(&st, userID)
}

// session returns the playlist's live session, creating one on first
// touch. The store is consulted outside the registry lock; a losing racer
// reuses the winner's session.
func (s *Service) session(ctx context.Context, playlistID string) (*Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errf(KindSyncError, "service closed")
	}
	if sess, ok := s.sessions[playlistID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	meta, err := s.store.PlaylistMeta(ctx, playlistID)
	if errors.Is(err, oplog.ErrNotFound) {
		return nil, errf(KindNotFound, "playlist %s not found", playlistID)
	}
	if err != nil {
		return nil, wrapErr(KindSyncError, err, "load playlist %s", playlistID)
	}
	collabs, err := s.store.ListCollaborators(ctx, playlistID)
	if err != nil {
		return nil, wrapErr(KindSyncError, err, "load collaborators for %s", playlistID)
	}
	seed := seedFromMeta(meta, collabs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errf(KindSyncError, "service closed")
	}
	if sess, ok := s.sessions[playlistID]; ok {
		return sess, nil
	}
	sess := NewSession(s.ctx, playlistID, seed,
		SessionDeps{Store: s.store, Feed: s.feed, Tracker: s.tracker}, s.cfg, s.dropSession)
	s.sessions[playlistID] = sess
	sess.Start()
	return sess, nil
}

// dropSession is the session's detach callback. It runs on the session
// goroutine, so the stop must not be synchronous.
func (s *Service) dropSession(playlistID string) {
	s.mu.Lock()
	sess := s.sessions[playlistID]
	delete(s.sessions, playlistID)
	s.mu.Unlock()
	if sess != nil {
		go sess.Stop()
	}
}

// Close stops every session and refuses further work.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	open := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	s.cancel()
	for _, sess := range open {
		sess.Stop()
	}
}

func seedFromMeta(meta oplog.PlaylistMeta, collabs []model.Collaborator) model.Playlist {
	table := make(map[string]model.Collaborator, len(collabs))
	for _, c := range collabs {
		table[c.UserID] = c
	}
	return model.Playlist{
		ID:            meta.ID,
		Name:          meta.Name,
		OwnerID:       meta.OwnerID,
		InviteCode:    meta.InviteCode,
		Clips:         []model.Clip{},
		Collaborators: table,
		Clock:         clock.New(),
		CreatedAt:     meta.CreatedAt,
		UpdatedAt:     meta.CreatedAt,
	}
}
