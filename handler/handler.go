// Package handler exposes the conversation services over HTTP and websockets.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"ai-talks/internal/domain"
	"ai-talks/internal/engine"
	"ai-talks/internal/playback"
	"ai-talks/internal/proxy"
	"ai-talks/internal/security"
	"ai-talks/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

type Sharer interface {
	Share(ctx context.Context, in usecase.ShareInput) (usecase.ShareOutput, error)
	Shared(ctx context.Context, conversationID string) (domain.Transcript, error)
}

type AudioLibrary interface {
	Manifest(ctx context.Context, conversationID string) (usecase.AudioManifest, error)
	Clip(ctx context.Context, conversationID, file string) (domain.Audio, error)
	Speak(ctx context.Context, in usecase.SpeakInput) (domain.AudioClip, error)
}

type Forwarder interface {
	Forward(ctx context.Context, route string, body io.Reader, contentType string) (*proxy.Response, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) string
}

type Nonces interface {
	Issue() security.Nonce
	Middleware(next http.Handler) http.Handler
}

// LiveSession is one engine bound to one websocket.
type LiveSession interface {
	Start(ctx context.Context, in engine.StartInput) (string, error)
	End(reason string)
	Wait()
	Transcript() domain.Transcript
}

// SessionFactory builds a LiveSession that reports to obs.
type SessionFactory func(obs engine.Observer) (LiveSession, error)

type Deps struct {
	Shares      Sharer
	Audio       AudioLibrary
	Clips       playback.ManifestLoader
	Proxy       Forwarder
	Transcriber Transcriber
	Nonces      Nonces
	NewSession  SessionFactory
	Logger      *slog.Logger

	AllowedOrigins   []string
	PlaybackFailSafe time.Duration
}

type Handler struct {
	shares      Sharer
	audio       AudioLibrary
	clips       playback.ManifestLoader
	proxy       Forwarder
	transcriber Transcriber
	nonces      Nonces
	newSession  SessionFactory
	log         *slog.Logger
	origins     []string
	failSafe    time.Duration
	upgrader    websocket.Upgrader
}

func NewHandler(d Deps) (*Handler, error) {
	switch {
	case d.Shares == nil:
		return nil, errors.New("handler: share service must not be nil")
	case d.Audio == nil:
		return nil, errors.New("handler: audio service must not be nil")
	case d.Clips == nil:
		return nil, errors.New("handler: manifest loader must not be nil")
	case d.Proxy == nil:
		return nil, errors.New("handler: proxy must not be nil")
	case d.Transcriber == nil:
		return nil, errors.New("handler: transcriber must not be nil")
	case d.Nonces == nil:
		return nil, errors.New("handler: nonce store must not be nil")
	case d.NewSession == nil:
		return nil, errors.New("handler: session factory must not be nil")
	}
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &Handler{
		shares:      d.Shares,
		audio:       d.Audio,
		clips:       d.Clips,
		proxy:       d.Proxy,
		transcriber: d.Transcriber,
		nonces:      d.Nonces,
		newSession:  d.NewSession,
		log:         log,
		origins:     origins,
		failSafe:    d.PlaybackFailSafe,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h, nil
}

// Routes builds the router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.correlate)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", security.HeaderName, correlationHeader},
		ExposedHeaders:   []string{correlationHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	guard := h.nonces.Middleware

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/share/{id}", h.sharePage)

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/nonce", h.issueNonce)
		api.Route("/conversations", func(c chi.Router) {
			c.With(guard).Post("/share", h.share)
			c.With(guard).Get("/live", h.live)
			c.Get("/{id}/audio", h.audioManifest)
			c.Get("/{id}/audio/{clip}", h.audioClip)
			c.With(guard).Post("/{id}/audio/{clip}", h.speak)
			c.Get("/{id}/replay", h.replay)
		})
		api.Route("/proxy", func(p chi.Router) {
			p.Use(guard)
			p.Post("/chat", h.forward(proxy.RouteChat))
			p.Post("/tts", h.forward(proxy.RouteTTS))
			p.Post("/stt", h.transcribe)
		})
	})
	return r
}

func (h *Handler) issueNonce(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, h.nonces.Issue())
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
