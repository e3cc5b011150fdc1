package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"ai-talks/internal/logger"
	"ai-talks/internal/usecase"
)

type Sweeper interface {
	Sweep(ctx context.Context) (usecase.SweepResult, error)
}

// SweepHandler runs the sweep from a scheduled EventBridge rule.
type SweepHandler struct {
	sweeper Sweeper
	log     *slog.Logger
}

func NewSweepHandler(s Sweeper, log *slog.Logger) (*SweepHandler, error) {
	if s == nil {
		return nil, errors.New("handler: sweeper must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &SweepHandler{sweeper: s, log: log}, nil
}

func (h *SweepHandler) Handle(ctx context.Context, ev events.CloudWatchEvent) (usecase.SweepResult, error) {
	log := h.log.With("event_id", ev.ID, "rule", firstResource(ev.Resources))
	res, err := h.sweeper.Sweep(logger.WithContext(ctx, log))
	if err != nil {
		log.Error("scheduled sweep failed", "error", err)
		return res, err
	}
	return res, nil
}

func firstResource(rs []string) string {
	if len(rs) == 0 {
		return ""
	}
	return rs[0]
}
