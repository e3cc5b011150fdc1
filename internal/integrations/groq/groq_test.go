package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"ai-talks/internal/domain"
)

type staticKeys map[string]string

func (k staticKeys) Key(_ context.Context, provider string) (string, error) {
	v, ok := k[provider]
	if !ok {
		return "", errors.New("no key")
	}
	return v, nil
}

var testKeys = staticKeys{"groq": "gsk-test"}

func TestSynthesize_HappyPath(t *testing.T) {
	var got speechRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/speech", r.URL.Path)
		require.Equal(t, "Bearer gsk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3-bytes"))
	}))
	defer srv.Close()

	s, err := NewSpeaker(testKeys, WithBaseURL(srv.URL), WithModel("tts-x"), WithFormat("mp3"))
	require.NoError(t, err)

	audio, err := s.Synthesize(context.Background(), "Fritz-PlayAI", "  Hello there  ")
	require.NoError(t, err)
	require.Equal(t, []byte("ID3-bytes"), audio.Data)
	require.Equal(t, "audio/mpeg", audio.ContentType)
	require.Equal(t, speechRequest{Model: "tts-x", Input: "Hello there", Voice: "Fritz-PlayAI", ResponseFormat: "mp3"}, got)
}

func TestSynthesize_FallsBackToFormatContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	s, err := NewSpeaker(testKeys, WithBaseURL(srv.URL))
	require.NoError(t, err)
	audio, err := s.Synthesize(context.Background(), "v", "t")
	require.NoError(t, err)
	require.Equal(t, "audio/wav", audio.ContentType)
}

func TestSynthesize_RejectsEmptyInputWithoutCalling(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
	defer srv.Close()

	s, err := NewSpeaker(testKeys, WithBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = s.Synthesize(context.Background(), " ", "text")
	require.ErrorContains(t, err, "voice")
	_, err = s.Synthesize(context.Background(), "voice", "")
	require.ErrorContains(t, err, "text")
	require.Zero(t, calls)
}

func TestSynthesize_UpstreamStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"voice not found"}}`))
	}))
	defer srv.Close()

	s, err := NewSpeaker(testKeys, WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "nope", "hello")

	ce, ok := domain.AsCapabilityError(err)
	require.True(t, ok)
	require.Equal(t, domain.CapabilitySynthesis, ce.Capability)
	require.Equal(t, http.StatusBadRequest, ce.HTTPStatusCode())
	require.Contains(t, ce.Message, "voice not found")

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
}

func TestSynthesize_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewSpeaker(testKeys, WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "v", "t")
	require.ErrorContains(t, err, "empty audio")
}

func TestSynthesize_RejectsOversizeAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(bytes.Repeat([]byte("a"), 9))
	}))
	defer srv.Close()

	s, err := NewSpeaker(testKeys, WithBaseURL(srv.URL), WithMaxAudioBytes(8))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "v", "t")
	require.ErrorContains(t, err, "over 8 bytes")

	s, err = NewSpeaker(testKeys, WithBaseURL(srv.URL), WithMaxAudioBytes(9))
	require.NoError(t, err)
	audio, err := s.Synthesize(context.Background(), "v", "t")
	require.NoError(t, err)
	require.Len(t, audio.Data, 9)
}

func TestNewConstructors_ValidateDependency(t *testing.T) {
	_, err := NewSpeaker(nil)
	require.Error(t, err)
	_, err = NewTranscriber(nil)
	require.Error(t, err)
}

func TestTranscribe_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-test", r.FormValue("model"))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		require.Equal(t, []byte("opus"), data)
		require.Equal(t, "clip.webm", hdr.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello agents "}`))
	}))
	defer srv.Close()

	tr, err := NewTranscriber(testKeys, WithTranscriberBaseURL(srv.URL), WithTranscriberModel("whisper-test"))
	require.NoError(t, err)
	require.Equal(t, "hello agents", tr.Transcribe(context.Background(), []byte("opus"), "clip.webm"))
}

func TestTranscribe_FailuresYieldEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom"}}`))
	}))
	defer srv.Close()

	var logs bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logs, nil))

	tr, err := NewTranscriber(testKeys, WithTranscriberBaseURL(srv.URL), WithTranscriberLogger(log))
	require.NoError(t, err)
	require.Empty(t, tr.Transcribe(context.Background(), []byte("x"), ""))
	require.Contains(t, logs.String(), "transcription failed")

	require.Empty(t, tr.Transcribe(context.Background(), nil, "a.webm"))

	noKey, err := NewTranscriber(staticKeys{}, WithTranscriberBaseURL(srv.URL), WithTranscriberLogger(log))
	require.NoError(t, err)
	require.Empty(t, noKey.Transcribe(context.Background(), []byte("x"), "a.webm"))
}
