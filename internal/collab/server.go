package collab

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/invite"
)

// Server is the REST surface of the sync engine. Live subscriptions ride
// the websocket bridge instead; everything request/response shaped lands
// here.
type Server struct {
	svc     *Service
	invites *invite.Manager
}

func NewServer(svc *Service, invites *invite.Manager) *Server {
	return &Server{
		svc:     svc,
		invites: invites,
	}
}

func (s *Server) Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Post("/playlists", s.handleCreatePlaylist)
		r.Post("/playlists/join", s.handleJoin)
		r.Get("/playlists/{id}", s.handleGetPlaylist)
		r.Patch("/playlists/{id}", s.handleUpdateMetadata)
		r.Get("/playlists/{id}/operations", s.handleListOperations)
		r.Put("/playlists/{id}/drinking-sound", s.handleUpdateDrinkingSound)

		r.Post("/playlists/{id}/clips", s.handleAddClip)
		r.Patch("/playlists/{id}/clips/{clipId}", s.handleUpdateClip)
		r.Delete("/playlists/{id}/clips/{clipId}", s.handleRemoveClip)
		r.Post("/playlists/{id}/clips/{clipId}/move", s.handleMoveClip)

		r.Get("/playlists/{id}/presence", s.handleGetPresence)
		r.Put("/playlists/{id}/presence", s.handleUpdatePresence)
		r.Delete("/playlists/{id}/presence", s.handleLeavePresence)

		r.Post("/playlists/{id}/invites", s.handleInvite)
		r.Delete("/playlists/{id}/collaborators/{userId}", s.handleRemoveCollaborator)
		r.Post("/playlists/{id}/leave", s.handleLeavePlaylist)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "collab-service",
	})
}
