package usecase

import (
	"context"
	"errors"
	"strings"

	"ai-talks/internal/domain"
	"ai-talks/internal/repository"
)

type ClipStore interface {
	Load(ctx context.Context, conversationID string) (domain.Transcript, error)
	ListAudioManifest(ctx context.Context, conversationID string) ([]domain.AudioClip, error)
	OpenClip(ctx context.Context, conversationID, file string) (domain.Audio, error)
	SaveClip(ctx context.Context, conversationID string, turnIndex int, audio domain.Audio) (domain.AudioClip, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, voice, text string) (domain.Audio, error)
}

// AudioService lists, serves and records the speech clips of a conversation.
type AudioService struct {
	clips ClipStore
	synth Synthesizer
}

type AudioManifest struct {
	ConversationID string
	HasAudio       bool
	Clips          []domain.AudioClip
}

type SpeakInput struct {
	ConversationID string
	TurnIndex      int
	Voice          string
	Text           string
}

// NewAudioService builds the service. synth may be nil, in which case Speak
// always fails.
func NewAudioService(clips ClipStore, synth Synthesizer) (*AudioService, error) {
	if clips == nil {
		return nil, errors.New("usecase: clip store must not be nil")
	}
	return &AudioService{clips: clips, synth: synth}, nil
}

func (s *AudioService) Manifest(ctx context.Context, conversationID string) (AudioManifest, error) {
	if !domain.ValidConversationID(conversationID) {
		return AudioManifest{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	if err := s.checkShare(ctx, conversationID); err != nil {
		return AudioManifest{}, err
	}
	clips, err := s.clips.ListAudioManifest(ctx, conversationID)
	if err != nil {
		return AudioManifest{}, newError(ErrorInternal, "storage_error", err)
	}
	if clips == nil {
		clips = []domain.AudioClip{}
	}
	return AudioManifest{ConversationID: conversationID, HasAudio: len(clips) > 0, Clips: clips}, nil
}

// checkShare refuses audio of a conversation whose share has lapsed. A
// conversation with no stored transcript is still being recorded.
func (s *AudioService) checkShare(ctx context.Context, conversationID string) error {
	t, err := s.clips.Load(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return newError(ErrorInternal, "storage_error", err)
	}
	if t.Expired(now()) {
		return newError(ErrorExpired, "share_expired", nil)
	}
	return nil
}

func (s *AudioService) Clip(ctx context.Context, conversationID, file string) (domain.Audio, error) {
	if !domain.ValidConversationID(conversationID) {
		return domain.Audio{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	if strings.TrimSpace(file) == "" {
		return domain.Audio{}, newError(ErrorInvalidInput, "invalid_clip_name", nil)
	}
	if err := s.checkShare(ctx, conversationID); err != nil {
		return domain.Audio{}, err
	}
	audio, err := s.clips.OpenClip(ctx, conversationID, file)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Audio{}, newError(ErrorNotFound, "clip_not_found", err)
		}
		return domain.Audio{}, newError(ErrorInternal, "storage_error", err)
	}
	return audio, nil
}

// Speak renders text in voice and records the result as the clip of the turn.
func (s *AudioService) Speak(ctx context.Context, in SpeakInput) (domain.AudioClip, error) {
	if !domain.ValidConversationID(in.ConversationID) {
		return domain.AudioClip{}, newError(ErrorInvalidInput, "invalid_conversation_id", nil)
	}
	if in.TurnIndex < 0 {
		return domain.AudioClip{}, newError(ErrorInvalidInput, "invalid_turn_index", nil)
	}
	voice := strings.TrimSpace(in.Voice)
	if voice == "" {
		return domain.AudioClip{}, newError(ErrorInvalidInput, "voice_required", nil)
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return domain.AudioClip{}, newError(ErrorInvalidInput, "text_required", nil)
	}
	if s.synth == nil {
		return domain.AudioClip{}, newError(ErrorUpstream, "synthesis_unavailable", nil)
	}

	audio, err := s.synth.Synthesize(ctx, voice, text)
	if err != nil {
		return domain.AudioClip{}, upstreamError("synthesis_error", err)
	}
	clip, err := s.clips.SaveClip(ctx, in.ConversationID, in.TurnIndex, audio)
	if err != nil {
		return domain.AudioClip{}, newError(ErrorInternal, "storage_error", err)
	}
	return clip, nil
}
