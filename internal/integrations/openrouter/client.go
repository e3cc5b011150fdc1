// Package openrouter is the text generation capability, backed by the
// OpenAI-compatible OpenRouter chat completions API.
package openrouter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"ai-talks/internal/domain"
	"ai-talks/internal/keys"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

type KeySource interface {
	Key(ctx context.Context, provider string) (string, error)
}

// Client implements the generation capability.
type Client struct {
	keys       KeySource
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if b := strings.TrimSpace(baseURL); b != "" {
			c.baseURL = b
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers OpenRouter uses
// to attribute traffic to an app.
func WithAttribution(referer, title string) Option {
	return func(c *Client) {
		c.referer = strings.TrimSpace(referer)
		c.title = strings.TrimSpace(title)
	}
}

func NewClient(ks KeySource, opts ...Option) (*Client, error) {
	if ks == nil {
		return nil, errors.New("openrouter: key source must not be nil")
	}
	c := &Client{
		keys:       ks,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return strings.TrimRight(c.baseURL, "/")
}

// Complete sends one chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if strings.TrimSpace(req.Model) == "" {
		return "", capabilityError(0, "model must not be empty", nil)
	}
	if len(req.Messages) == 0 {
		return "", capabilityError(0, "messages must not be empty", nil)
	}
	apiKey, err := c.keys.Key(ctx, keys.OpenRouter)
	if err != nil {
		return "", capabilityError(0, "api key unavailable", err)
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}

	resp, err := c.client(apiKey).CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", capabilityError(0, "no choices in response", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) client(apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = c.BaseURL()
	hc := *c.httpClient
	hc.Transport = &attributionTransport{next: transportOrDefault(c.httpClient.Transport), referer: c.referer, title: c.title}
	cfg.HTTPClient = &hc
	return openai.NewClientWithConfig(cfg)
}

type attributionTransport struct {
	next    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if t.referer == "" && t.title == "" {
		return t.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	if t.referer != "" {
		r.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		r.Header.Set("X-Title", t.title)
	}
	return t.next.RoundTrip(r)
}

func transportOrDefault(rt http.RoundTripper) http.RoundTripper {
	if rt != nil {
		return rt
	}
	return http.DefaultTransport
}

func capabilityError(status int, msg string, err error) *domain.CapabilityError {
	return &domain.CapabilityError{
		Capability: domain.CapabilityGeneration,
		StatusCode: status,
		Message:    msg,
		Err:        err,
	}
}

// wrapError turns go-openai failures into a CapabilityError carrying the
// upstream status.
func wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return capabilityError(apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		msg := http.StatusText(reqErr.HTTPStatusCode)
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return capabilityError(reqErr.HTTPStatusCode, msg, err)
	}
	return capabilityError(0, err.Error(), err)
}
