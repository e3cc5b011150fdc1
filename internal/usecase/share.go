package usecase

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"ai-talks/internal/domain"
	"ai-talks/internal/repository"
)

const defaultShareTTL = 30 * 24 * time.Hour

type TranscriptStore interface {
	Save(ctx context.Context, t domain.Transcript) error
	Load(ctx context.Context, conversationID string) (domain.Transcript, error)
	MarkShared(ctx context.Context, conversationID string, sharedAt, expiresAt time.Time) error
}

type ManifestReader interface {
	ListAudioManifest(ctx context.Context, conversationID string) ([]domain.AudioClip, error)
}

// ShareService persists transcripts on share and serves them back while the
// share is live.
type ShareService struct {
	store   TranscriptStore
	clips   ManifestReader
	baseURL string
	ttl     time.Duration
}

type ShareInput struct {
	ConversationID string
	Transcript     domain.Transcript
}

type ShareOutput struct {
	URL       string
	ExpiresAt time.Time
}

func NewShareService(store TranscriptStore, clips ManifestReader, baseURL string, ttl time.Duration) (*ShareService, error) {
	if store == nil {
		return nil, errors.New("usecase: transcript store must not be nil")
	}
	if clips == nil {
		return nil, errors.New("usecase: manifest reader must not be nil")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("usecase: public base url must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultShareTTL
	}
	return &ShareService{store: store, clips: clips, baseURL: baseURL, ttl: ttl}, nil
}

// Share writes the whole transcript and marks it shared until now+ttl.
func (s *ShareService) Share(ctx context.Context, in ShareInput) (ShareOutput, error) {
	t := in.Transcript
	id := strings.TrimSpace(in.ConversationID)
	if id == "" {
		id = t.ConversationID
	}
	if !domain.ValidConversationID(id) {
		return ShareOutput{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	if t.ConversationID != "" && t.ConversationID != id {
		return ShareOutput{}, newError(ErrorInvalidInput, "conversation_id_mismatch", nil)
	}
	if len(t.Turns) == 0 {
		return ShareOutput{}, newError(ErrorInvalidInput, "empty_transcript", nil)
	}
	for i, turn := range t.Turns {
		if turn.Index != i {
			return ShareOutput{}, newError(ErrorInvalidInput, "non_contiguous_turns", nil)
		}
	}

	clips, err := s.clips.ListAudioManifest(ctx, id)
	if err != nil {
		return ShareOutput{}, newError(ErrorInternal, "storage_error", err)
	}

	sharedAt := now().UTC()
	expiresAt := sharedAt.Add(s.ttl)
	t.ConversationID = id
	t.HasAudio = len(clips) > 0
	t.UpdatedAt = sharedAt
	if t.CreatedAt.IsZero() {
		t.CreatedAt = sharedAt
	}
	if err := s.store.Save(ctx, t); err != nil {
		return ShareOutput{}, newError(ErrorInternal, "storage_error", err)
	}
	if err := s.store.MarkShared(ctx, id, sharedAt, expiresAt); err != nil {
		return ShareOutput{}, newError(ErrorInternal, "storage_error", err)
	}
	return ShareOutput{
		URL:       s.baseURL + "/share/" + url.PathEscape(id),
		ExpiresAt: expiresAt,
	}, nil
}

// Shared returns a transcript whose share is live.
func (s *ShareService) Shared(ctx context.Context, conversationID string) (domain.Transcript, error) {
	if !domain.ValidConversationID(conversationID) {
		return domain.Transcript{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	t, err := s.store.Load(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Transcript{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return domain.Transcript{}, newError(ErrorInternal, "storage_error", err)
	}
	if !t.Shared {
		return domain.Transcript{}, newError(ErrorForbidden, "not_shared", nil)
	}
	if t.Expired(now()) {
		return domain.Transcript{}, newError(ErrorExpired, "share_expired", nil)
	}
	return t, nil
}

var now = time.Now
