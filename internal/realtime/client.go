package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/collab"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/presence"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket consumer of a playlist: confirmed state and
// presence flow out through its session subscription, presence intents
// flow in from the socket.
type Client struct {
	playlistID string
	userID     string

	conn *websocket.Conn
	svc  *collab.Service
	sub  *collab.Subscription

	once sync.Once
}

// inboundMessage is what clients may send over the socket. Mutations go
// through the REST surface; the socket only carries advisory presence.
type inboundMessage struct {
	Type      string  `json:"type"`
	ClipIndex *int    `json:"clipIndex,omitempty"`
	Status    *string `json:"status,omitempty"`
}

func (c *Client) close() {
	c.once.Do(func() {
		c.sub.Close()
		_ = c.conn.Close()
	})
}

// readPump consumes inbound frames until the peer goes away. Closing the
// socket ends delivery only; nothing durable is retracted.
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("collab-service: ws read from %s: %v", c.userID, err)
			}
			return
		}
		c.handleMessage(raw)
	}
}

func (c *Client) handleMessage(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("collab-service: ws bad frame from %s: %v", c.userID, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch msg.Type {
	case "presence":
		upd := presence.Update{ClipIndex: msg.ClipIndex, Status: msg.Status}
		if err := c.svc.UpdatePresence(ctx, c.playlistID, c.userID, upd); err != nil {
			log.Printf("collab-service: ws presence from %s: %v", c.userID, err)
		}
	case "presence_leave":
		if err := c.svc.LeavePresence(ctx, c.playlistID, c.userID); err != nil {
			log.Printf("collab-service: ws presence leave from %s: %v", c.userID, err)
		}
	default:
		// Unknown frame types are dropped; the protocol may grow.
	}
}

// writePump streams subscription updates to the socket and keeps the
// connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case upd, ok := <-c.sub.Updates():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Session stopped or detached after its final notice.
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream closed"))
				return
			}
			if err := c.conn.WriteJSON(upd); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
