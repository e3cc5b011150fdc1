package openrouter

import (
	"context"
	"encoding/json"
	"errors"
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

type capturedRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Name    string `json:"name"`
	} `json:"messages"`
}

func sampleRequest() domain.CompletionRequest {
	return domain.CompletionRequest{
		Model: "meta/llama",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleSystem, Content: "You are Ada."},
			{Role: domain.RoleUser, Content: "Hi", Name: "Bob"},
		},
		MaxTokens:   120,
		Temperature: 0.5,
	}
}

func TestNewClient_ValidatesDependency(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}

func TestComplete_HappyPath(t *testing.T) {
	var got capturedRequest
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hello back"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(staticKeys{"openrouter": "sk-test"}, WithBaseURL(srv.URL+"/"), WithAttribution("https://talks.example", "AI Talks"))
	require.NoError(t, err)

	text, err := c.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	require.Equal(t, "Hello back", text)

	require.Equal(t, "Bearer sk-test", headers.Get("Authorization"))
	require.Equal(t, "https://talks.example", headers.Get("HTTP-Referer"))
	require.Equal(t, "AI Talks", headers.Get("X-Title"))
	require.Equal(t, "meta/llama", got.Model)
	require.Equal(t, 120, got.MaxTokens)
	require.InDelta(t, 0.5, got.Temperature, 1e-6)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "Bob", got.Messages[1].Name)
}

func TestComplete_UpstreamStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "api error", status: http.StatusTooManyRequests, body: `{"error":{"message":"rate limited","type":"rate_limit"}}`},
		{name: "non-json error", status: http.StatusBadGateway, body: `<html>bad gateway</html>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c, err := NewClient(staticKeys{"openrouter": "k"}, WithBaseURL(srv.URL))
			require.NoError(t, err)

			_, err = c.Complete(context.Background(), sampleRequest())
			ce, ok := domain.AsCapabilityError(err)
			require.True(t, ok, "got %T", err)
			require.Equal(t, domain.CapabilityGeneration, ce.Capability)
			require.Equal(t, tc.status, ce.HTTPStatusCode())
		})
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(staticKeys{"openrouter": "k"}, WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), sampleRequest())
	require.ErrorContains(t, err, "no choices")
}

func TestComplete_ValidatesBeforeCalling(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))
	defer srv.Close()

	c, err := NewClient(staticKeys{"openrouter": "k"}, WithBaseURL(srv.URL))
	require.NoError(t, err)

	req := sampleRequest()
	req.Model = " "
	_, err = c.Complete(context.Background(), req)
	require.Error(t, err)

	_, err = c.Complete(context.Background(), domain.CompletionRequest{Model: "m"})
	require.Error(t, err)
	require.Zero(t, calls)
}

func TestComplete_MissingKey(t *testing.T) {
	c, err := NewClient(staticKeys{})
	require.NoError(t, err)
	_, err = c.Complete(context.Background(), sampleRequest())
	ce, ok := domain.AsCapabilityError(err)
	require.True(t, ok)
	require.Zero(t, ce.StatusCode)
	require.ErrorContains(t, err, "api key unavailable")
}
