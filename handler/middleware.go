package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"ai-talks/internal/logger"
)

// correlate echoes or assigns X-Correlation-Id and puts a request scoped
// logger into the context.
func (h *Handler) correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(correlationHeader)
		if id == "" {
			id = middleware.GetReqID(r.Context())
		}
		w.Header().Set(correlationHeader, id)
		ctx := logger.WithContext(r.Context(), h.log.With("correlation_id", id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.FromContext(r.Context()).Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		)
	})
}
