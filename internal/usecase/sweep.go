package usecase

import (
	"context"
	"errors"
	"time"

	"ai-talks/internal/domain"
	"ai-talks/internal/logger"
)

const defaultRetention = 24 * time.Hour

type ConversationStore interface {
	List(ctx context.Context) ([]domain.ConversationMeta, error)
	Delete(ctx context.Context, conversationID string) error
}

// SweepService deletes expired shares and abandoned, never shared
// conversations.
type SweepService struct {
	store     ConversationStore
	retention time.Duration
}

type SweepResult struct {
	Removed int `json:"removed"`
	Kept    int `json:"kept"`
	Failed  int `json:"failed,omitempty"`
}

func NewSweepService(store ConversationStore, retention time.Duration) (*SweepService, error) {
	if store == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &SweepService{store: store, retention: retention}, nil
}

func (s *SweepService) Sweep(ctx context.Context) (SweepResult, error) {
	log := logger.FromContext(ctx)
	metas, err := s.store.List(ctx)
	if err != nil {
		return SweepResult{}, newError(ErrorInternal, "storage_error", err)
	}

	at := now()
	var res SweepResult
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !s.expired(m, at) {
			res.Kept++
			continue
		}
		if err := s.store.Delete(ctx, m.ConversationID); err != nil {
			log.Warn("sweep delete failed", "conversation_id", m.ConversationID, "error", err)
			res.Failed++
			continue
		}
		log.Debug("sweep removed conversation", "conversation_id", m.ConversationID, "shared", m.Shared)
		res.Removed++
	}
	log.Info("sweep finished", "removed", res.Removed, "kept", res.Kept, "failed", res.Failed)
	return res, nil
}

func (s *SweepService) expired(m domain.ConversationMeta, at time.Time) bool {
	if m.Shared {
		return m.ExpiresAt != nil && !at.Before(*m.ExpiresAt)
	}
	return at.Sub(m.UpdatedAt) > s.retention
}
