package collab

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

func TestHandlePresenceRoundTrip(t *testing.T) {
	fx := newTestServer(t)
	pl := createPlaylistHTTP(t, fx, "alice", "Friday Mix")

	idx := 3
	rr := doRequest(t, fx.router, http.MethodPut, "/playlists/"+pl.ID+"/presence", "alice", map[string]any{
		"clipIndex": idx,
		"status":    "picking the next banger",
	})
	require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

	// Presence flows through the change feed, so the tracker catches up
	// asynchronously.
	require.Eventually(t, func() bool {
		rr := doRequest(t, fx.router, http.MethodGet, "/playlists/"+pl.ID+"/presence", "alice", nil)
		if rr.Code != http.StatusOK {
			return false
		}
		cursors := decodeBody[[]model.UserCursor](t, rr)
		return len(cursors) == 1 &&
			cursors[0].UserID == "alice" &&
			cursors[0].ClipIndex != nil && *cursors[0].ClipIndex == idx &&
			cursors[0].Status == "picking the next banger"
	}, 2*time.Second, 10*time.Millisecond)

	t.Run("leave clears the cursor", func(t *testing.T) {
		rr := doRequest(t, fx.router, http.MethodDelete, "/playlists/"+pl.ID+"/presence", "alice", nil)
		require.Equal(t, http.StatusNoContent, rr.Code)

		require.Eventually(t, func() bool {
			rr := doRequest(t, fx.router, http.MethodGet, "/playlists/"+pl.ID+"/presence", "alice", nil)
			if rr.Code != http.StatusOK {
				return false
			}
			return len(decodeBody[[]model.UserCursor](t, rr)) == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("stranger denied", func(t *testing.T) {
		rr := doRequest(t, fx.router, http.MethodPut, "/playlists/"+pl.ID+"/presence", "mallory", map[string]any{"status": "lurking"})
		assert.Equal(t, http.StatusForbidden, rr.Code)

		rr = doRequest(t, fx.router, http.MethodGet, "/playlists/"+pl.ID+"/presence", "mallory", nil)
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("missing user", func(t *testing.T) {
		rr := doRequest(t, fx.router, http.MethodPut, "/playlists/"+pl.ID+"/presence", "", map[string]any{"status": "ghost"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}
