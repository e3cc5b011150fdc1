package groq

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"ai-talks/internal/keys"
)

const defaultSTTModel = "whisper-large-v3"

// Transcriber implements the best-effort speech transcription capability.
type Transcriber struct {
	keys       KeySource
	baseURL    string
	model      string
	httpClient *http.Client
	log        *slog.Logger
}

type TranscriberOption func(*Transcriber)

func WithTranscriberBaseURL(baseURL string) TranscriberOption {
	return func(t *Transcriber) {
		if b := strings.TrimSpace(baseURL); b != "" {
			t.baseURL = b
		}
	}
}

func WithTranscriberModel(model string) TranscriberOption {
	return func(t *Transcriber) {
		if m := strings.TrimSpace(model); m != "" {
			t.model = m
		}
	}
}

func WithTranscriberHTTPClient(httpClient *http.Client) TranscriberOption {
	return func(t *Transcriber) {
		if httpClient != nil {
			t.httpClient = httpClient
		}
	}
}

func WithTranscriberLogger(l *slog.Logger) TranscriberOption {
	return func(t *Transcriber) {
		if l != nil {
			t.log = l
		}
	}
}

func NewTranscriber(ks KeySource, opts ...TranscriberOption) (*Transcriber, error) {
	if ks == nil {
		return nil, errors.New("groq: key source must not be nil")
	}
	t := &Transcriber{
		keys:       ks,
		baseURL:    defaultBaseURL,
		model:      defaultSTTModel,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Transcribe returns the text spoken in audio. Any failure yields "".
// filename only hints the container format to the API.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, filename string) string {
	if len(audio) == 0 {
		return ""
	}
	if strings.TrimSpace(filename) == "" {
		filename = "audio.webm"
	}
	apiKey, err := t.keys.Key(ctx, keys.Groq)
	if err != nil {
		t.log.WarnContext(ctx, "transcription skipped", "err", err)
		return ""
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimRight(t.baseURL, "/")
	cfg.HTTPClient = t.httpClient
	resp, err := openai.NewClientWithConfig(cfg).CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filename,
		Reader:   bytes.NewReader(audio),
	})
	if err != nil {
		t.log.WarnContext(ctx, "transcription failed", "err", err)
		return ""
	}
	return strings.TrimSpace(resp.Text)
}
