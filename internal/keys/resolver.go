// Package keys resolves provider API keys: configured values first, then SSM
// Parameter Store.
package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Provider names used as key identifiers.
const (
	OpenRouter = "openrouter"
	Groq       = "groq"
)

// ErrNoKey is returned when a provider key is configured nowhere.
var ErrNoKey = errors.New("keys: api key not configured")

type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// BatchGetter is implemented by getters that fetch several names per call.
type BatchGetter interface {
	GetParameters(ctx context.Context, names ...string) (map[string]string, error)
}

// tokenPayload is the expected JSON shape stored in SSM for an API token.
type tokenPayload struct {
	Token string `json:"token"`
}

// Resolver hands out API keys by provider name. Keys read from SSM are cached
// for the lifetime of the process; failed lookups are retried on next use.
type Resolver struct {
	static      map[string]string
	getter      Getter
	paramPrefix string

	mu    sync.Mutex
	cache map[string]string
}

// NewResolver builds a Resolver. getter may be nil, in which case only the
// static keys are served.
func NewResolver(static map[string]string, getter Getter, paramPrefix string) (*Resolver, error) {
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if getter != nil && paramPrefix == "" {
		return nil, errors.New("keys: parameter prefix must not be empty")
	}
	r := &Resolver{
		static:      map[string]string{},
		getter:      getter,
		paramPrefix: paramPrefix,
		cache:       map[string]string{},
	}
	for k, v := range static {
		if v = strings.TrimSpace(v); v != "" {
			r.static[k] = v
		}
	}
	return r, nil
}

// ParameterName is the SSM name holding the key for provider.
func (r *Resolver) ParameterName(provider string) string {
	return r.paramPrefix + "/" + provider + "-token"
}

func (r *Resolver) Key(ctx context.Context, provider string) (string, error) {
	if v, ok := r.static[provider]; ok {
		return v, nil
	}
	if r.getter == nil {
		return "", fmt.Errorf("%w: %s", ErrNoKey, provider)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache[provider]; ok {
		return v, nil
	}
	v, err := fetchToken(ctx, r.getter, r.ParameterName(provider))
	if err != nil {
		return "", err
	}
	r.cache[provider] = v
	return v, nil
}

// Prefetch loads the keys of providers not configured statically. With a
// BatchGetter they arrive in one round trip. Keys that fail to load are
// left for Key to retry.
func (r *Resolver) Prefetch(ctx context.Context, providers ...string) error {
	if r.getter == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	names := map[string]string{}
	for _, p := range providers {
		if _, ok := r.static[p]; ok {
			continue
		}
		if _, ok := r.cache[p]; ok {
			continue
		}
		names[r.ParameterName(p)] = p
	}
	if len(names) == 0 {
		return nil
	}

	batch, ok := r.getter.(BatchGetter)
	if !ok {
		var errs []error
		for name, p := range names {
			v, err := fetchToken(ctx, r.getter, name)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			r.cache[p] = v
		}
		return errors.Join(errs...)
	}

	list := make([]string, 0, len(names))
	for name := range names {
		list = append(list, name)
	}
	values, fetchErr := batch.GetParameters(ctx, list...)
	var errs []error
	if fetchErr != nil {
		errs = append(errs, fmt.Errorf("keys: prefetch from paramstore: %w", fetchErr))
	}
	for name, raw := range values {
		p, ok := names[name]
		if !ok {
			continue
		}
		v, err := decodeToken(raw, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.cache[p] = v
	}
	return errors.Join(errs...)
}

func fetchToken(ctx context.Context, getter Getter, name string) (string, error) {
	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("keys: fetch token from paramstore: %w", err)
	}
	return decodeToken(raw, name)
}

func decodeToken(raw, name string) (string, error) {
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("keys: unmarshal paramstore token value as JSON: %w", err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("%w: empty token in %s", ErrNoKey, name)
	}
	return tp.Token, nil
}
