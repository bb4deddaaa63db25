package collab

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Lancej1011/Power-Hour-at-5-sub003/internal/model"
)

func (s *Server) handleAddClip(w http.ResponseWriter, r *http.Request) {
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
		Clip model.Clip `json:"clip"`
		Deps []string   `json:"deps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Clip.ID == "" {
		body.Clip.ID = uuid.NewString()
	}
	if body.Clip.DurationSec == 0 {
		// Power-hour default: one minute per clip.
		body.Clip.DurationSec = 60
	}

	op, pl, err := s.svc.AddClip(ctx, playlistID, userID, body.Clip, body.Deps)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"operation": op,
		"playlist":  pl,
	})
}

func (s *Server) handleUpdateClip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	playlistID := chi.URLParam(r, "id")
	clipID := chi.URLParam(r, "clipId")
	if playlistID == "" || clipID == "" {
		writeError(w, http.StatusBadRequest, "missing playlist or clip id")
		return
	}

	var body struct {
		Title        *string  `json:"title"`
		Artist       *string  `json:"artist"`
		StartSec     *float64 `json:"startSec"`
		DurationSec  *float64 `json:"durationSec"`
		ThumbnailURL *string  `json:"thumbnailUrl"`
		Deps         []string `json:"deps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	patch := model.UpdateClipPayload{
		ClipID:       clipID,
		Title:        body.Title,
		Artist:       body.Artist,
		StartSec:     body.StartSec,
		DurationSec:  body.DurationSec,
		ThumbnailURL: body.ThumbnailURL,
	}
	op, pl, err := s.svc.UpdateClip(ctx, playlistID, userID, patch, body.Deps)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation": op,
		"playlist":  pl,
	})
}

func (s *Server) handleRemoveClip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	playlistID := chi.URLParam(r, "id")
	clipID := chi.URLParam(r, "clipId")
	if playlistID == "" || clipID == "" {
		writeError(w, http.StatusBadRequest, "missing playlist or clip id")
		return
	}

	// DELETE carries no body; dependencies ride the query string.
	deps := r.URL.Query()["dep"]

	op, pl, err := s.svc.RemoveClip(ctx, playlistID, userID, clipID, deps)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation": op,
		"playlist":  pl,
	})
}

func (s *Server) handleMoveClip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing user context")
		return
	}
	playlistID := chi.URLParam(r, "id")
	clipID := chi.URLParam(r, "clipId")
	if playlistID == "" || clipID == "" {
		writeError(w, http.StatusBadRequest, "missing playlist or clip id")
		return
	}

	var body struct {
		ToIndex *int     `json:"toIndex"`
		Deps    []string `json:"deps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ToIndex == nil || *body.ToIndex < 0 {
		writeError(w, http.StatusBadRequest, "toIndex must be a non-negative integer")
		return
	}

	op, pl, err := s.svc.ReorderClips(ctx, playlistID, userID, clipID, *body.ToIndex, body.Deps)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"operation": op,
		"playlist":  pl,
	})
}
