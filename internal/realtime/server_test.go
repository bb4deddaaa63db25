package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/collab"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/presence"
)

// frame is the union of everything the socket may deliver.
type frame struct {
	Type     string             `json:"type"`
	Playlist *model.Playlist    `json:"playlist,omitempty"`
	State    *model.Playlist    `json:"state,omitempty"`
	Presence []model.UserCursor `json:"presence,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

type wsFixture struct {
	svc *collab.Service
	ts  *httptest.Server
	pl  model.Playlist
}

func newWSFixture(t *testing.T, jwtSecret []byte, allowedOrigin string) *wsFixture {
	t.Helper()
	store := oplog.NewMemoryStore()
	feed := oplog.NewMemoryFeed()
	svc := collab.NewService(store, feed, presence.NewTracker(time.Minute), collab.SessionConfig{})
	t.Cleanup(svc.Close)

	pl, err := svc.CreatePlaylist(context.Background(), "alice", "Friday Mix")
	require.NoError(t, err)

	srv := NewServer(svc, jwtSecret, allowedOrigin)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &wsFixture{svc: svc, ts: ts, pl: pl}
}

func (fx *wsFixture) wsURL(query string) string {
	return "ws" + strings.TrimPrefix(fx.ts.URL, "http") + "/ws?" + query
}

func dialAs(t *testing.T, fx *wsFixture, userID, query string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-Id", userID)
	}
	conn, _, err := websocket.DefaultDialer.Dial(fx.wsURL(query), header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil keeps reading until pred matches. Broadcasts coalesce, so
// intermediate states may be skipped; tests match on the final shape.
func readUntil(t *testing.T, conn *websocket.Conn, pred func(frame) bool) frame {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		f := readFrame(t, conn)
		if pred(f) {
			return f
		}
	}
	t.Fatal("no matching frame before deadline")
	return frame{}
}

func TestWSWelcomeAndStateStream(t *testing.T) {
	fx := newWSFixture(t, nil, "")
	conn := dialAs(t, fx, "alice", "playlistId="+fx.pl.ID)

	welcome := readFrame(t, conn)
	require.Equal(t, "welcome", welcome.Type)
	require.NotNil(t, welcome.Playlist)
	assert.Equal(t, fx.pl.ID, welcome.Playlist.ID)
	assert.Empty(t, welcome.Playlist.Clips)

	_, _, err := fx.svc.AddClip(context.Background(), fx.pl.ID, "alice", model.Clip{
		ID: "c1", Title: "Opener", DurationSec: 60,
	}, nil)
	require.NoError(t, err)

	f := readUntil(t, conn, func(f frame) bool {
		return f.Type == string(collab.UpdateState) && f.State != nil && len(f.State.Clips) == 1
	})
	assert.Equal(t, "Opener", f.State.Clips[0].Title)
}

func TestWSPresenceRoundTrip(t *testing.T) {
	fx := newWSFixture(t, nil, "")
	conn := dialAs(t, fx, "alice", "playlistId="+fx.pl.ID)

	welcome := readFrame(t, conn)
	require.Equal(t, "welcome", welcome.Type)

	idx := 2
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      "presence",
		"clipIndex": idx,
		"status":    "queueing",
	}))

	f := readUntil(t, conn, func(f frame) bool {
		return f.Type == string(collab.UpdatePresence) && len(f.Presence) == 1
	})
	require.NotNil(t, f.Presence[0].ClipIndex)
	assert.Equal(t, idx, *f.Presence[0].ClipIndex)
	assert.Equal(t, "queueing", f.Presence[0].Status)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "presence_leave"}))
	readUntil(t, conn, func(f frame) bool {
		return f.Type == string(collab.UpdatePresence) && len(f.Presence) == 0
	})
}

func TestWSRejectsBeforeUpgrade(t *testing.T) {
	fx := newWSFixture(t, nil, "")

	dialExpectingStatus := func(t *testing.T, userID, query string, want int) {
		t.Helper()
		header := http.Header{}
		if userID != "" {
			header.Set("X-User-Id", userID)
		}
		conn, resp, err := websocket.DefaultDialer.Dial(fx.wsURL(query), header)
		require.Error(t, err)
		if conn != nil {
			conn.Close()
		}
		require.NotNil(t, resp)
		assert.Equal(t, want, resp.StatusCode)
	}

	t.Run("missing playlistId", func(t *testing.T) {
		dialExpectingStatus(t, "alice", "", http.StatusBadRequest)
	})

	t.Run("missing identity", func(t *testing.T) {
		dialExpectingStatus(t, "", "playlistId="+fx.pl.ID, http.StatusUnauthorized)
	})

	t.Run("stranger denied", func(t *testing.T) {
		dialExpectingStatus(t, "mallory", "playlistId="+fx.pl.ID, http.StatusForbidden)
	})

	t.Run("unknown playlist", func(t *testing.T) {
		dialExpectingStatus(t, "alice", "playlistId=nope", http.StatusNotFound)
	})
}

func TestWSTokenIdentity(t *testing.T) {
	secret := []byte("ws-secret")
	fx := newWSFixture(t, secret, "")

	claims := &collab.TokenClaims{
		UserID:    "alice",
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)

	conn := dialAs(t, fx, "", "playlistId="+fx.pl.ID+"&token="+token)
	welcome := readFrame(t, conn)
	assert.Equal(t, "welcome", welcome.Type)

	t.Run("garbage token rejected", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(fx.wsURL("playlistId="+fx.pl.ID+"&token=garbage"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestWSForbiddenOrigin(t *testing.T) {
	fx := newWSFixture(t, nil, "http://app.example.com")

	header := http.Header{}
	header.Set("X-User-Id", "alice")
	header.Set("Origin", "http://evil.example.com")

	_, resp, err := websocket.DefaultDialer.Dial(fx.wsURL("playlistId="+fx.pl.ID), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	t.Run("allowed origin connects", func(t *testing.T) {
		header := http.Header{}
		header.Set("X-User-Id", "alice")
		header.Set("Origin", "http://app.example.com")
		conn, _, err := websocket.DefaultDialer.Dial(fx.wsURL("playlistId="+fx.pl.ID), header)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, "welcome", readFrame(t, conn).Type)
	})
}

func TestWSDetachNotice(t *testing.T) {
	fx := newWSFixture(t, nil, "")
	conn := dialAs(t, fx, "alice", "playlistId="+fx.pl.ID)
	require.Equal(t, "welcome", readFrame(t, conn).Type)

	fx.svc.Close()

	f := readUntil(t, conn, func(f frame) bool {
		return f.Type == string(collab.UpdateDetached)
	})
	assert.NotEmpty(t, f.Reason)
}

func TestHandleHealth(t *testing.T) {
	fx := newWSFixture(t, nil, "")
	resp, err := http.Get(fx.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
