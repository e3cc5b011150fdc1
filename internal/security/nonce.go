// Package security implements the single-use token gate in front of every
// mutating endpoint.
package security

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	HeaderName = "X-CSRF-Token"
	// QueryParam carries the token on websocket upgrades, where browsers
	// cannot set headers.
	QueryParam = "nonce"

	defaultTTL = 10 * time.Minute
)

// ErrInvalidNonce is returned for unknown, expired or already used tokens.
var ErrInvalidNonce = errors.New("security: invalid or expired nonce")

// Nonce is an issued token.
type Nonce struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type NonceStore struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	tokens map[string]time.Time
}

type Option func(*NonceStore)

func WithClock(now func() time.Time) Option {
	return func(s *NonceStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewNonceStore(ttl time.Duration, opts ...Option) (*NonceStore, error) {
	if ttl < 0 {
		return nil, errors.New("security: nonce ttl must not be negative")
	}
	if ttl == 0 {
		ttl = defaultTTL
	}
	s := &NonceStore{ttl: ttl, now: time.Now, tokens: map[string]time.Time{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *NonceStore) Issue() Nonce {
	now := s.now()
	n := Nonce{Token: uuid.NewString(), ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, exp := range s.tokens {
		if !now.Before(exp) {
			delete(s.tokens, tok)
		}
	}
	s.tokens[n.Token] = n.ExpiresAt
	return n
}

// Consume validates token and spends it.
func (s *NonceStore) Consume(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidNonce
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return ErrInvalidNonce
	}
	delete(s.tokens, token)
	if !s.now().Before(exp) {
		return ErrInvalidNonce
	}
	return nil
}

// Middleware rejects requests that do not carry a fresh token with 403.
func (s *NonceStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(HeaderName)
		if token == "" {
			token = r.URL.Query().Get(QueryParam)
		}
		if err := s.Consume(token); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "FORBIDDEN", "reason": "invalid_nonce"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
