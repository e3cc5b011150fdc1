package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ai-talks/internal/domain"
	"ai-talks/internal/usecase"
)

type manifestResponse struct {
	ConversationID string             `json:"conversationId"`
	HasAudio       bool               `json:"hasAudio"`
	Clips          []domain.AudioClip `json:"clips"`
}

type speakRequest struct {
	Voice string `json:"voice"`
	Text  string `json:"text"`
}

func (h *Handler) audioManifest(w http.ResponseWriter, r *http.Request) {
	m, err := h.audio.Manifest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{ConversationID: m.ConversationID, HasAudio: m.HasAudio, Clips: m.Clips})
}

func (h *Handler) audioClip(w http.ResponseWriter, r *http.Request) {
	a, err := h.audio.Clip(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "clip"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ct := a.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}

func (h *Handler) speak(w http.ResponseWriter, r *http.Request) {
	turnIndex, err := strconv.Atoi(chi.URLParam(r, "clip"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_turn_index"})
		return
	}
	var req speakRequest
	if err := decodeJSON(w, r, &req); err != nil {
		invalidBody(w)
		return
	}
	clip, err := h.audio.Speak(r.Context(), usecase.SpeakInput{
		ConversationID: chi.URLParam(r, "id"),
		TurnIndex:      turnIndex,
		Voice:          req.Voice,
		Text:           req.Text,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, clip)
}
