package collab

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/invite"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/presence"
)

type serverFixture struct {
	router http.Handler
	store  *oplog.MemoryStore
	feed   *oplog.MemoryFeed
	svc    *Service
}

func newTestServer(t *testing.T) *serverFixture {
	t.Helper()
	store := oplog.NewMemoryStore()
	feed := oplog.NewMemoryFeed()
	svc := NewService(store, feed, presence.NewTracker(time.Minute), SessionConfig{})
	t.Cleanup(svc.Close)
	srv := NewServer(svc, invite.NewManager(store, feed, nil))
	return &serverFixture{router: srv.Router(), store: store, feed: feed, svc: svc}
}

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if userID != "" {
		req.Header.Set("X-User-Id", userID)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&out))
	return out
}

// createPlaylistHTTP drives the real create endpoint and returns the minted
// playlist.
func createPlaylistHTTP(t *testing.T, fx *serverFixture, ownerID, name string) model.Playlist {
	t.Helper()
	rr := doRequest(t, fx.router, http.MethodPost, "/playlists", ownerID, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeBody[model.Playlist](t, rr)
}
