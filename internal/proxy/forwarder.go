// Package proxy relays browser requests to the AI providers, adding the
// provider API key. Upstream status and body are passed through unchanged.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	RouteChat = "chat"
	RouteTTS  = "tts"

	defaultMaxBody = 20 << 20
)

var (
	// ErrUnknownRoute is returned by Forward for a route with no target.
	ErrUnknownRoute = errors.New("proxy: unknown route")
	// ErrResponseTooLarge is returned when the upstream answer exceeds the
	// configured body cap.
	ErrResponseTooLarge = errors.New("proxy: upstream response too large")
)

type KeySource interface {
	Key(ctx context.Context, provider string) (string, error)
}

// Target is the upstream endpoint a route is relayed to.
type Target struct {
	Provider string
	URL      string
	// Headers are set on every upstream request.
	Headers map[string]string
}

// Response is the upstream answer as received.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// OK reports whether the upstream answered 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

type Forwarder struct {
	keys       KeySource
	routes     map[string]Target
	httpClient *http.Client
	maxBody    int64
}

type Option func(*Forwarder)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(f *Forwarder) {
		if httpClient != nil {
			f.httpClient = httpClient
		}
	}
}

// WithMaxBody caps the upstream response size relayed back.
func WithMaxBody(n int64) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.maxBody = n
		}
	}
}

func New(ks KeySource, routes map[string]Target, opts ...Option) (*Forwarder, error) {
	if ks == nil {
		return nil, errors.New("proxy: key source must not be nil")
	}
	if len(routes) == 0 {
		return nil, errors.New("proxy: at least one route is required")
	}
	for name, t := range routes {
		if strings.TrimSpace(t.URL) == "" || strings.TrimSpace(t.Provider) == "" {
			return nil, fmt.Errorf("proxy: route %q needs a provider and url", name)
		}
	}
	f := &Forwarder{
		keys:       ks,
		routes:     routes,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxBody:    defaultMaxBody,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Forward posts body to the route's upstream. A non-2xx upstream answer is
// returned as a Response, not an error; errors mean no answer was received.
func (f *Forwarder) Forward(ctx context.Context, route string, body io.Reader, contentType string) (*Response, error) {
	target, ok := f.routes[route]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, route)
	}
	apiKey, err := f.keys.Key(ctx, target.Provider)
	if err != nil {
		return nil, fmt.Errorf("proxy: resolve %s key: %w", target.Provider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, body)
	if err != nil {
		return nil, fmt.Errorf("proxy: create request: %w", err)
	}
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	for k, v := range target.Headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	res, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy: %s request failed: %w", route, err)
	}
	defer func() { _ = res.Body.Close() }()

	buf, err := io.ReadAll(io.LimitReader(res.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("proxy: read %s response: %w", route, err)
	}
	if int64(len(buf)) > f.maxBody {
		return nil, fmt.Errorf("%w: %s over %d bytes", ErrResponseTooLarge, route, f.maxBody)
	}
	return &Response{
		StatusCode:  res.StatusCode,
		ContentType: res.Header.Get("Content-Type"),
		Body:        buf,
	}, nil
}
