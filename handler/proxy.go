package handler

import (
	"errors"
	"io"
	"net/http"

	"ai-talks/internal/logger"
	"ai-talks/internal/proxy"
	"ai-talks/internal/usecase"
)

const (
	maxProxyBody  = 20 << 20
	maxUploadBody = 25 << 20
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

// forward relays the request to the route's upstream and the upstream answer
// back, status included.
func (h *Handler) forward(route string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := http.MaxBytesReader(w, r.Body, maxProxyBody)
		res, err := h.proxy.Forward(r.Context(), route, body, r.Header.Get("Content-Type"))
		if err != nil {
			if errors.Is(err, proxy.ErrUnknownRoute) {
				writeJSON(w, http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "unknown_route"})
				return
			}
			logger.FromContext(r.Context()).Error("proxy forward failed", "route", route, "error", err)
			if errors.Is(err, proxy.ErrResponseTooLarge) {
				writeJSON(w, http.StatusBadGateway, errorResponse{Error: string(usecase.ErrorUpstream), Reason: "response_too_large"})
				return
			}
			writeJSON(w, http.StatusBadGateway, errorResponse{Error: string(usecase.ErrorUpstream), Reason: "proxy_unreachable"})
			return
		}
		if !res.OK() {
			logger.FromContext(r.Context()).Warn("upstream error relayed", "route", route, "status", res.StatusCode)
		}
		if res.ContentType != "" {
			w.Header().Set("Content-Type", res.ContentType)
		}
		w.WriteHeader(res.StatusCode)
		_, _ = w.Write(res.Body)
	}
}

// transcribe always answers 200 with a text field, empty when nothing could
// be recognised.
func (h *Handler) transcribe(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	if err := r.ParseMultipartForm(maxUploadBody); err != nil {
		log.Warn("stt upload unreadable", "error", err)
		writeJSON(w, http.StatusOK, transcriptionResponse{})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		log.Warn("stt upload missing file", "error", err)
		writeJSON(w, http.StatusOK, transcriptionResponse{})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeJSON(w, http.StatusOK, transcriptionResponse{})
		return
	}
	name := header.Filename
	if name == "" {
		name = "speech.webm"
	}
	writeJSON(w, http.StatusOK, transcriptionResponse{Text: h.transcriber.Transcribe(r.Context(), data, name)})
}
