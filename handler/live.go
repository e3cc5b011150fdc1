package handler

import (
	"errors"
	"net/http"

	"ai-talks/internal/engine"
	"ai-talks/internal/logger"
	"ai-talks/internal/usecase"
)

// live runs one engine per connection. The client sends start, stop and
// transcript frames; every engine event is pushed back as it happens.
func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("live upgrade failed", "error", err)
		return
	}
	p := newPeer(conn, log)
	defer p.close()

	sess, err := h.newSession(engine.ObserverFunc(func(ev engine.Event) {
		p.send(eventMessage(ev))
	}))
	if err != nil {
		log.Error("create live session", "error", err)
		p.send(errorMessage(usecase.ErrorInternal, "session_unavailable"))
		return
	}
	defer sess.Wait()
	defer sess.End("")

	ctx := r.Context()
	p.read(func(msg clientMessage) {
		switch msg.Type {
		case "start":
			id, err := sess.Start(ctx, engine.StartInput{Settings: msg.Settings, Message: msg.Message})
			if err != nil {
				p.send(startError(err))
				return
			}
			log.Info("live conversation started", "conversation_id", id, "direction", msg.Settings.Direction)
			p.send(wsMessage{Type: "started", ConversationID: id})
		case "stop":
			sess.End(msg.Reason)
		case "transcript":
			t := sess.Transcript()
			p.send(wsMessage{Type: "transcript", ConversationID: t.ConversationID, Transcript: &t})
		default:
			p.send(errorMessage(usecase.ErrorInvalidInput, "unknown_message"))
		}
	})
}

func startError(err error) wsMessage {
	var ve *engine.ValidationError
	switch {
	case errors.As(err, &ve):
		return errorMessage(usecase.ErrorInvalidInput, "invalid_"+ve.Field)
	case errors.Is(err, engine.ErrSessionActive):
		return errorMessage(usecase.ErrorInvalidInput, "session_active")
	default:
		return errorMessage(usecase.ErrorInternal, "start_failed")
	}
}

func eventMessage(ev engine.Event) wsMessage {
	msg := wsMessage{
		Type:           string(ev.Type),
		ConversationID: ev.ConversationID,
		State:          ev.State.String(),
		Speaker:        ev.Speaker,
		Turn:           ev.Turn,
		Clip:           ev.Clip,
		Notice:         ev.Notice,
	}
	if ev.Type == engine.EventThinking {
		thinking := ev.Thinking
		msg.Thinking = &thinking
	}
	return msg
}
