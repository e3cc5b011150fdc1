// Package groq provides speech synthesis and transcription against Groq's
// OpenAI-compatible audio endpoints.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ai-talks/internal/domain"
	"ai-talks/internal/keys"
)

const (
	defaultBaseURL   = "https://api.groq.com/openai/v1"
	defaultTTSModel  = "playai-tts"
	defaultTTSFormat = "wav"
	maxAudioBytes    = 20 << 20
)

type KeySource interface {
	Key(ctx context.Context, provider string) (string, error)
}

// speechRequest is the request shape for the audio/speech endpoint.
type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("groq: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Speaker implements the speech synthesis capability.
type Speaker struct {
	keys       KeySource
	baseURL    string
	model      string
	format     string
	maxAudio   int64
	httpClient *http.Client
}

type Option func(*Speaker)

func WithBaseURL(baseURL string) Option {
	return func(s *Speaker) {
		if b := strings.TrimSpace(baseURL); b != "" {
			s.baseURL = b
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(s *Speaker) {
		if httpClient != nil {
			s.httpClient = httpClient
		}
	}
}

func WithModel(model string) Option {
	return func(s *Speaker) {
		if m := strings.TrimSpace(model); m != "" {
			s.model = m
		}
	}
}

// WithFormat sets the response_format requested from the API (wav, mp3...).
func WithFormat(format string) Option {
	return func(s *Speaker) {
		if f := strings.TrimSpace(format); f != "" {
			s.format = f
		}
	}
}

// WithMaxAudioBytes caps the synthesized clip size accepted from the API.
func WithMaxAudioBytes(n int64) Option {
	return func(s *Speaker) {
		if n > 0 {
			s.maxAudio = n
		}
	}
}

func NewSpeaker(ks KeySource, opts ...Option) (*Speaker, error) {
	if ks == nil {
		return nil, errors.New("groq: key source must not be nil")
	}
	s := &Speaker{
		keys:       ks,
		baseURL:    defaultBaseURL,
		model:      defaultTTSModel,
		format:     defaultTTSFormat,
		maxAudio:   maxAudioBytes,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Speaker) speechURL() string {
	return strings.TrimRight(s.baseURL, "/") + "/audio/speech"
}

// Synthesize renders text with voice. Empty voice or text is rejected
// without calling out.
func (s *Speaker) Synthesize(ctx context.Context, voice, text string) (domain.Audio, error) {
	voice, text = strings.TrimSpace(voice), strings.TrimSpace(text)
	if voice == "" {
		return domain.Audio{}, synthesisError(0, "voice must not be empty", nil)
	}
	if text == "" {
		return domain.Audio{}, synthesisError(0, "text must not be empty", nil)
	}
	apiKey, err := s.keys.Key(ctx, keys.Groq)
	if err != nil {
		return domain.Audio{}, synthesisError(0, "api key unavailable", err)
	}

	body, err := json.Marshal(speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: s.format,
	})
	if err != nil {
		return domain.Audio{}, fmt.Errorf("groq: marshal speech request: %w", err)
	}

	url := s.speechURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.Audio{}, fmt.Errorf("groq: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	data, contentType, err := s.doRequest(req, url)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return domain.Audio{}, synthesisError(statusErr.StatusCode, statusErr.Body, err)
		}
		return domain.Audio{}, synthesisError(0, err.Error(), err)
	}
	if len(data) == 0 {
		return domain.Audio{}, synthesisError(0, "empty audio in response", nil)
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = formatContentType(s.format)
	}
	return domain.Audio{Data: data, ContentType: contentType}, nil
}

func (s *Speaker) doRequest(req *http.Request, url string) ([]byte, string, error) {
	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, "", &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, s.maxAudio+1))
	if err != nil {
		return nil, "", fmt.Errorf("read response body: %w", err)
	}
	if int64(len(buf)) > s.maxAudio {
		return nil, "", fmt.Errorf("response body over %d bytes", s.maxAudio)
	}
	return buf, res.Header.Get("Content-Type"), nil
}

func formatContentType(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "audio/mpeg"
	case "ogg", "opus":
		return "audio/ogg"
	case "flac":
		return "audio/flac"
	case "aac":
		return "audio/aac"
	default:
		return "audio/wav"
	}
}

func synthesisError(status int, msg string, err error) *domain.CapabilityError {
	return &domain.CapabilityError{
		Capability: domain.CapabilitySynthesis,
		StatusCode: status,
		Message:    msg,
		Err:        err,
	}
}
