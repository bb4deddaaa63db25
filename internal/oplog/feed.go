package oplog

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisFeed carries the change feed over one redis pub/sub channel per
// playlist.
type RedisFeed struct {
	rdb *redis.Client
}

func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

func feedChannel(playlistID string) string {
	return "collab.playlist." + playlistID
}

func (f *RedisFeed) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.rdb.Publish(ctx, feedChannel(evt.PlaylistID), data).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, playlistID string) (Subscription, error) {
	sub := f.rdb.Subscribe(ctx, feedChannel(playlistID))
	// Wait for the subscribe handshake so the caller knows exactly which
	// events it can still miss (everything before this returns).
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	rs := &redisSubscription{sub: sub, events: make(chan Event, 64)}
	go rs.pump()
	return rs, nil
}

type redisSubscription struct {
	sub    *redis.PubSub
	events chan Event
}

func (rs *redisSubscription) pump() {
	defer close(rs.events)
	for msg := range rs.sub.Channel() {
		var evt Event
		if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
			log.Printf("collab-service: feed decode: %v", err)
			continue
		}
		select {
		case rs.events <- evt:
		default:
			// Slow consumer. Operation gaps are recovered from the log by
			// sequence; presence is ephemeral anyway.
		}
	}
}

func (rs *redisSubscription) Events() <-chan Event {
	return rs.events
}

func (rs *redisSubscription) Close() error {
	return rs.sub.Close()
}
