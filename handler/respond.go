package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"ai-talks/internal/logger"
	"ai-talks/internal/usecase"
)

const maxJSONBody = 4 << 20

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ue *usecase.Error
	if !errors.As(err, &ue) {
		logger.FromContext(r.Context()).Error("unexpected error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: "internal_error"})
		return
	}
	status := statusFor(ue.Code)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "code", ue.Code, "reason", ue.Reason, "error", ue.Err)
	}
	writeJSON(w, status, errorResponse{Error: string(ue.Code), Reason: ue.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorNotFound:
		return http.StatusNotFound
	case usecase.ErrorExpired:
		return http.StatusGone
	case usecase.ErrorForbidden:
		return http.StatusForbidden
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func invalidBody(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: "invalid_body"})
}
