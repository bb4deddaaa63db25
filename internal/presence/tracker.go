// Package presence tracks who is currently looking at each playlist. The
// table lives in process memory only: cursors are refreshed by heartbeats,
// fanned out to subscribers and forgotten after a TTL. Nothing here touches
// the operation log.
package presence

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

// Update is a partial cursor report. Nil fields keep their last known
// value, so a bare heartbeat only bumps the activity time.
type Update struct {
	ClipIndex *int    `json:"clipIndex,omitempty"`
	Status    *string `json:"status,omitempty"`
}

type Tracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	rooms map[string]map[string]model.UserCursor
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		ttl:   ttl,
		now:   time.Now,
		rooms: make(map[string]map[string]model.UserCursor),
	}
}

// Touch records activity for userID on a playlist, merging upd into the
// stored cursor, and returns the cursor as it now stands.
func (t *Tracker) Touch(playlistID, userID string, upd Update) model.UserCursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[playlistID]
	if room == nil {
		room = make(map[string]model.UserCursor)
		t.rooms[playlistID] = room
	}
	cur, ok := room[userID]
	if !ok {
		cur = model.UserCursor{UserID: userID}
	}
	if upd.ClipIndex != nil {
		idx := *upd.ClipIndex
		if idx < 0 {
			cur.ClipIndex = nil
		} else {
			cur.ClipIndex = &idx
		}
	}
	if upd.Status != nil {
		cur.Status = *upd.Status
	}
	cur.LastActive = t.now().UTC()
	room[userID] = cur
	return cur
}

// Leave drops userID's cursor immediately and reports whether one existed.
func (t *Tracker) Leave(playlistID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[playlistID]
	if _, ok := room[userID]; !ok {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(t.rooms, playlistID)
	}
	return true
}

// Active returns the live cursors of one playlist, stale entries evicted,
// ordered by user id.
func (t *Tracker) Active(playlistID string) []model.UserCursor {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictRoom(playlistID, t.now())
	room := t.rooms[playlistID]
	out := make([]model.UserCursor, 0, len(room))
	for _, cur := range room {
		out = append(out, cur)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Sweep evicts stale cursors across all playlists and returns how many
// were dropped.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	dropped := 0
	for id := range t.rooms {
		dropped += t.evictRoom(id, now)
	}
	return dropped
}

func (t *Tracker) evictRoom(playlistID string, now time.Time) int {
	room := t.rooms[playlistID]
	dropped := 0
	for userID, cur := range room {
		if now.Sub(cur.LastActive) > t.ttl {
			delete(room, userID)
			dropped++
		}
	}
	if len(room) == 0 {
		delete(t.rooms, playlistID)
	}
	return dropped
}

// StartSweeper runs a background eviction loop until ctx is done.
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				if n := t.Sweep(); n > 0 {
					log.Printf("collab-service: presence sweep dropped %d stale cursors", n)
				}
			}
		}
	}()
}
