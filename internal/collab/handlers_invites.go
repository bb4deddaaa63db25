package collab

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/invite"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/oplog"
)

func writeInviteError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, invite.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, invite.ErrUnknownCode), errors.Is(err, oplog.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown code or playlist")
	case errors.Is(err, invite.ErrCodeConsumed):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, invite.ErrCodeExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, invite.ErrOwnerCannotLeave):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, invite.ErrInvalidRole), errors.Is(err, invite.ErrInvalidEmail):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// handleInvite emails an invitation code. Owner only.
func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	playlistID := chi.URLParam(r, "id")
	if playlistID == "" {
		writeError(w, http.StatusBadRequest, "missing playlist id")
		return
	}

	var body struct {
		Email string     `json:"email"`
		Role  model.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	inv, err := s.invites.Invite(ctx, playlistID, userID, body.Email, body.Role)
	if err != nil {
		writeInviteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, inv)
}

// handleJoin redeems an invitation or share code for the caller.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}

	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	playlistID, c, err := s.invites.Accept(ctx, body.Code, userID)
	if err != nil {
		writeInviteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"playlistId":   playlistID,
		"collaborator": c,
	})
}

// handleRemoveCollaborator revokes a collaborator's access. Owner only.
func (s *Server) handleRemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	playlistID := chi.URLParam(r, "id")
	target := chi.URLParam(r, "userId")
	if playlistID == "" || target == "" {
		writeError(w, http.StatusBadRequest, "missing playlist or user id")
		return
	}

	removed, err := s.invites.Revoke(ctx, playlistID, userID, target)
	if err != nil {
		writeInviteError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not a collaborator")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLeavePlaylist(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	playlistID := chi.URLParam(r, "id")
	if playlistID == "" {
		writeError(w, http.StatusBadRequest, "missing playlist id")
		return
	}

	if err := s.invites.Leave(ctx, playlistID, userID); err != nil {
		writeInviteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
