// Package realtime bridges playlist sessions onto websockets: one socket
// per (playlist, user), streaming confirmed state and presence out and
// accepting presence intents in.
package realtime

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/collab"
)

type Server struct {
	svc           *collab.Service
	jwtSecret     []byte
	allowedOrigin string
}

// NewServer wires the bridge. jwtSecret may be nil when a gateway in front
// resolves identity into X-User-Id; allowedOrigin may be empty to accept
// any origin (dev).
func NewServer(svc *collab.Service, jwtSecret []byte, allowedOrigin string) *Server {
	return &Server{
		svc:           svc,
		jwtSecret:     jwtSecret,
		allowedOrigin: allowedOrigin,
	}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "collab-service",
	})
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if s.allowedOrigin == "" {
				return true
			}
			return r.Header.Get("Origin") == s.allowedOrigin
		},
	}
}

// handleWS subscribes the caller to a playlist and upgrades the connection.
// Authorization happens before the upgrade so denied callers get a plain
// HTTP status.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	playlistID := r.URL.Query().Get("playlistId")
	if playlistID == "" {
		writeError(w, http.StatusBadRequest, "missing playlistId")
		return
	}

	userID := s.identify(r)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	sub, state, err := s.svc.Subscribe(r.Context(), playlistID, userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		log.Printf("collab-service: ws upgrade: %v", err)
		return
	}

	client := &Client{
		playlistID: playlistID,
		userID:     userID,
		conn:       conn,
		svc:        s.svc,
		sub:        sub,
	}

	// The welcome frame carries the initial snapshot; everything after
	// rides the subscription stream.
	welcome := map[string]any{
		"type":     "welcome",
		"now":      time.Now().UTC().Format(time.RFC3339Nano),
		"playlist": state,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(welcome); err != nil {
		client.close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// identify resolves the caller: the gateway's X-User-Id header when
// present, otherwise a token query parameter (browsers cannot set headers
// on websocket dials).
func (s *Server) identify(r *http.Request) string {
	if uid := r.Header.Get("X-User-Id"); uid != "" {
		return uid
	}
	if len(s.jwtSecret) == 0 {
		return ""
	}
	raw := r.URL.Query().Get("token")
	if raw == "" {
		return ""
	}

	claims := &collab.TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid || claims.TokenType != "access" {
		return ""
	}
	return claims.UserID
}
