package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-talks/internal/domain"
	"ai-talks/internal/repository"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func requireCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, code, ue.Code)
	if reason != "" {
		require.Equal(t, reason, ue.Reason)
	}
}

type mockStore struct {
	docs    map[string]domain.Transcript
	clips   map[string][]domain.AudioClip
	audio   map[string]domain.Audio
	metas   []domain.ConversationMeta
	deleted []string

	saveErr   error
	loadErr   error
	markErr   error
	listErr   error
	clipErr   error
	deleteErr map[string]error
}

func newMockStore() *mockStore {
	return &mockStore{
		docs:      map[string]domain.Transcript{},
		clips:     map[string][]domain.AudioClip{},
		audio:     map[string]domain.Audio{},
		deleteErr: map[string]error{},
	}
}

func (m *mockStore) Save(_ context.Context, t domain.Transcript) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.docs[t.ConversationID] = t
	return nil
}

func (m *mockStore) Load(_ context.Context, id string) (domain.Transcript, error) {
	if m.loadErr != nil {
		return domain.Transcript{}, m.loadErr
	}
	t, ok := m.docs[id]
	if !ok {
		return domain.Transcript{}, repository.ErrNotFound
	}
	return t, nil
}

func (m *mockStore) MarkShared(_ context.Context, id string, sharedAt, expiresAt time.Time) error {
	if m.markErr != nil {
		return m.markErr
	}
	t, ok := m.docs[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Shared = true
	t.SharedAt = &sharedAt
	t.ExpiresAt = &expiresAt
	m.docs[id] = t
	return nil
}

func (m *mockStore) ListAudioManifest(_ context.Context, id string) ([]domain.AudioClip, error) {
	if m.clipErr != nil {
		return nil, m.clipErr
	}
	return m.clips[id], nil
}

func (m *mockStore) OpenClip(_ context.Context, id, file string) (domain.Audio, error) {
	if m.clipErr != nil {
		return domain.Audio{}, m.clipErr
	}
	a, ok := m.audio[id+"/"+file]
	if !ok {
		return domain.Audio{}, repository.ErrNotFound
	}
	return a, nil
}

func (m *mockStore) SaveClip(_ context.Context, id string, turnIndex int, audio domain.Audio) (domain.AudioClip, error) {
	if m.clipErr != nil {
		return domain.AudioClip{}, m.clipErr
	}
	clip := domain.AudioClip{TurnIndex: turnIndex, File: "message_0.wav", ContentType: audio.ContentType}
	m.clips[id] = append(m.clips[id], clip)
	return clip, nil
}

func (m *mockStore) List(_ context.Context) ([]domain.ConversationMeta, error) {
	return m.metas, m.listErr
}

func (m *mockStore) Delete(_ context.Context, id string) error {
	if err := m.deleteErr[id]; err != nil {
		return err
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type mockSynth struct {
	audio domain.Audio
	err   error
	calls int
	voice string
	text  string
}

func (m *mockSynth) Synthesize(_ context.Context, voice, text string) (domain.Audio, error) {
	m.calls++
	m.voice, m.text = voice, text
	return m.audio, m.err
}

func transcript(id string, turns int) domain.Transcript {
	t := domain.Transcript{ConversationID: id}
	for i := 0; i < turns; i++ {
		t.Turns = append(t.Turns, domain.Turn{Index: i, SpeakerID: domain.SpeakerAgentA, Text: "hi"})
	}
	return t
}

func TestUpstreamError_Classification(t *testing.T) {
	err := upstreamError("synthesis_error", &domain.CapabilityError{Capability: domain.CapabilitySynthesis, StatusCode: 429})
	requireCode(t, err, ErrorRateLimited, "synthesis_error")

	err = upstreamError("synthesis_error", &domain.CapabilityError{Capability: domain.CapabilitySynthesis, StatusCode: 500})
	requireCode(t, err, ErrorUpstream, "synthesis_error")

	err = upstreamError("synthesis_error", errors.New("dial tcp: refused"))
	requireCode(t, err, ErrorUpstream, "synthesis_error")
}

func TestError_Format(t *testing.T) {
	require.Equal(t, "usecase: NOT_FOUND (x)", newError(ErrorNotFound, "x", nil).Error())
	inner := errors.New("boom")
	err := newError(ErrorInternal, "storage_error", inner)
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "boom")
}
