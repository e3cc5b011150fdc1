package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestStore(t *testing.T) (*NonceStore, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s, err := NewNonceStore(10*time.Minute, WithClock(c.now))
	require.NoError(t, err)
	return s, c
}

func TestNewNonceStore_Validation(t *testing.T) {
	_, err := NewNonceStore(-time.Second)
	require.Error(t, err)
	s, err := NewNonceStore(0)
	require.NoError(t, err)
	require.Equal(t, defaultTTL, s.ttl)
}

func TestConsume_SingleUse(t *testing.T) {
	s, c := newTestStore(t)
	n := s.Issue()
	require.NotEmpty(t, n.Token)
	require.Equal(t, c.t.Add(10*time.Minute), n.ExpiresAt)

	require.NoError(t, s.Consume(n.Token))
	require.ErrorIs(t, s.Consume(n.Token), ErrInvalidNonce)
}

func TestConsume_Expired(t *testing.T) {
	s, c := newTestStore(t)
	n := s.Issue()
	c.t = c.t.Add(10 * time.Minute)
	require.ErrorIs(t, s.Consume(n.Token), ErrInvalidNonce)
}

func TestConsume_Unknown(t *testing.T) {
	s, _ := newTestStore(t)
	require.ErrorIs(t, s.Consume(""), ErrInvalidNonce)
	require.ErrorIs(t, s.Consume("forged"), ErrInvalidNonce)
}

func TestIssue_PrunesExpired(t *testing.T) {
	s, c := newTestStore(t)
	s.Issue()
	s.Issue()
	c.t = c.t.Add(time.Hour)
	s.Issue()
	require.Len(t, s.tokens, 1)
}

func TestMiddleware(t *testing.T) {
	s, _ := newTestStore(t)
	calls := 0
	h := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.JSONEq(t, `{"error":"FORBIDDEN","reason":"invalid_nonce"}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	req.Header.Set(HeaderName, s.Issue().Token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?nonce="+s.Issue().Token, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, 2, calls)
}
