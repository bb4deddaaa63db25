package oplog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

// MemoryStore keeps everything in process memory. It backs single-node dev
// runs and the engine's own tests; semantics match PostgresStore, including
// idempotent appends.
type MemoryStore struct {
	mu        sync.Mutex
	playlists map[string]PlaylistMeta
	byInvite  map[string]string
	ops       map[string][]Logged
	opSeq     map[string]int64
	snapshots map[string]Snapshot
	collabs   map[string]map[string]model.Collaborator
	invites   map[string]model.Invitation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		playlists: make(map[string]PlaylistMeta),
		byInvite:  make(map[string]string),
		ops:       make(map[string][]Logged),
		opSeq:     make(map[string]int64),
		snapshots: make(map[string]Snapshot),
		collabs:   make(map[string]map[string]model.Collaborator),
		invites:   make(map[string]model.Invitation),
	}
}

func (s *MemoryStore) CreatePlaylist(ctx context.Context, meta PlaylistMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playlists[meta.ID] = meta
	s.byInvite[meta.InviteCode] = meta.ID
	return nil
}

func (s *MemoryStore) PlaylistMeta(ctx context.Context, playlistID string) (PlaylistMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta, ok := s.playlists[playlistID]
	if !ok {
		return PlaylistMeta{}, ErrNotFound
	}
	return meta, nil
}

func (s *MemoryStore) FindPlaylistByInviteCode(ctx context.Context, code string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byInvite[code]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (s *MemoryStore) AppendOperation(ctx context.Context, op model.Operation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.playlists[op.PlaylistID]; !ok {
		return 0, ErrNotFound
	}
	if seq, ok := s.opSeq[op.ID]; ok {
		return seq, nil
	}
	seq := int64(len(s.ops[op.PlaylistID])) + 1
	s.ops[op.PlaylistID] = append(s.ops[op.PlaylistID], Logged{Operation: op, Seq: seq})
	s.opSeq[op.ID] = seq
	return seq, nil
}

func (s *MemoryStore) ReadOperations(ctx context.Context, playlistID string, afterSeq int64) ([]Logged, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.ops[playlistID]
	out := make([]Logged, 0)
	for _, lg := range log {
		if lg.Seq > afterSeq {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (s *MemoryStore) ReadSnapshot(ctx context.Context, playlistID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[playlistID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (s *MemoryStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.snapshots[snap.PlaylistID]; ok && prev.LastSeq > snap.LastSeq {
		return nil
	}
	snap.UpdatedAt = time.Now().UTC()
	s.snapshots[snap.PlaylistID] = snap
	return nil
}

func (s *MemoryStore) ListCollaborators(ctx context.Context, playlistID string) ([]model.Collaborator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Collaborator, 0, len(s.collabs[playlistID]))
	for _, c := range s.collabs[playlistID] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertCollaborator(ctx context.Context, playlistID string, c model.Collaborator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collabs[playlistID] == nil {
		s.collabs[playlistID] = make(map[string]model.Collaborator)
	}
	if prev, ok := s.collabs[playlistID][c.UserID]; ok {
		prev.Role = c.Role
		s.collabs[playlistID][c.UserID] = prev
		return nil
	}
	s.collabs[playlistID][c.UserID] = c
	return nil
}

func (s *MemoryStore) RemoveCollaborator(ctx context.Context, playlistID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collabs[playlistID][userID]; !ok {
		return false, nil
	}
	delete(s.collabs[playlistID], userID)
	return true, nil
}

func (s *MemoryStore) CreateInvitation(ctx context.Context, inv model.Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.playlists[inv.PlaylistID]; !ok {
		return ErrNotFound
	}
	s.invites[inv.Code] = inv
	return nil
}

func (s *MemoryStore) GetInvitation(ctx context.Context, code string) (model.Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	if !ok {
		return model.Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (s *MemoryStore) ConsumeInvitation(ctx context.Context, code, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[code]
	if !ok || inv.AcceptedBy != nil || !at.Before(inv.ExpiresAt) {
		return false, nil
	}
	inv.AcceptedBy = &userID
	acceptedAt := at
	inv.AcceptedAt = &acceptedAt
	s.invites[code] = inv
	return true, nil
}

// MemoryFeed is the in-process counterpart of RedisFeed.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[string]map[*memorySubscription]bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[string]map[*memorySubscription]bool)}
}

func (f *MemoryFeed) Publish(ctx context.Context, evt Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub := range f.subs[evt.PlaylistID] {
		select {
		case sub.events <- evt:
		default:
		}
	}
	return nil
}

func (f *MemoryFeed) Subscribe(ctx context.Context, playlistID string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &memorySubscription{feed: f, playlistID: playlistID, events: make(chan Event, 64)}
	if f.subs[playlistID] == nil {
		f.subs[playlistID] = make(map[*memorySubscription]bool)
	}
	f.subs[playlistID][sub] = true
	return sub, nil
}

type memorySubscription struct {
	feed       *MemoryFeed
	playlistID string
	events     chan Event
	once       sync.Once
}

func (s *memorySubscription) Events() <-chan Event {
	return s.events
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs[s.playlistID], s)
		s.feed.mu.Unlock()
		close(s.events)
	})
	return nil
}
