package collab

import (
	"sync"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

// UpdateType tags the messages on a subscriber's stream.
type UpdateType string

const (
	// UpdateState carries a full state snapshot after a confirmed change.
	UpdateState UpdateType = "state"
	// UpdatePresence carries the playlist's active cursor table.
	UpdatePresence UpdateType = "presence"
	// UpdateDetached is terminal: the session hit an unrecoverable error
	// and the subscriber must resubscribe.
	UpdateDetached UpdateType = "detached"
)

// Update is one message on a subscription stream.
type Update struct {
	Type       UpdateType         `json:"type"`
	PlaylistID string             `json:"playlistId"`
	State      *model.Playlist    `json:"state,omitempty"`
	Presence   []model.UserCursor `json:"presence,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// Subscription is one consumer's handle on a playlist's update stream.
// Delivery is at-least-once with coalescing: a slow consumer sees the
// latest state, not necessarily every intermediate one.
type Subscription struct {
	PlaylistID string
	UserID     string

	ch     chan Update
	broker *broker
	once   sync.Once
}

// Updates is closed when the subscription ends, by Close or by detach.
func (s *Subscription) Updates() <-chan Update {
	return s.ch
}

// Close stops delivery. Safe to call twice; never retracts durable state.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// broker fans updates out to the local subscribers of one playlist.
type broker struct {
	mu     sync.Mutex
	subs   map[*Subscription]bool
	closed bool
}

func newBroker() *broker {
	return &broker{subs: make(map[*Subscription]bool)}
}

func (b *broker) subscribe(playlistID, userID string) *Subscription {
	sub := &Subscription{
		PlaylistID: playlistID,
		UserID:     userID,
		ch:         make(chan Update, 16),
		broker:     b,
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs[sub] = true
	return sub
}

func (b *broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[sub] {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (b *broker) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		select {
		case sub.ch <- u:
		default:
			// Full buffer: evict the oldest queued update and coalesce.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- u:
			default:
			}
		}
	}
}

// shutdown sends a terminal notice to everyone and closes their streams.
func (b *broker) shutdown(playlistID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	notice := Update{Type: UpdateDetached, PlaylistID: playlistID, Reason: reason}
	for sub := range b.subs {
		select {
		case sub.ch <- notice:
		default:
		}
		close(sub.ch)
		delete(b.subs, sub)
	}
}

func (b *broker) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
