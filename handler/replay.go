package handler

import (
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"ai-talks/internal/domain"
	"ai-talks/internal/logger"
	"ai-talks/internal/playback"
	"ai-talks/internal/usecase"
)

const noAudioNotice = "No audio available for this conversation."

// remotePlayer plays clips in the browser. Each play frame carries a sequence
// number that the client echoes in its ended or error frame.
type remotePlayer struct {
	peer *peer

	mu      sync.Mutex
	seq     int
	pending chan error
}

func (p *remotePlayer) Play(clip domain.AudioClip) <-chan error {
	done := make(chan error, 1)
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.pending = done
	p.mu.Unlock()

	p.peer.send(wsMessage{Type: "play", Seq: seq, Clip: &clip})
	return done
}

func (p *remotePlayer) Pause() {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	p.peer.send(wsMessage{Type: "pause"})
}

// settle resolves the clip with the given sequence number. Stale reports are
// ignored.
func (p *remotePlayer) settle(seq int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq != p.seq || p.pending == nil {
		return
	}
	p.pending <- err
	p.pending = nil
}

type remoteMarks struct {
	peer *peer
}

func (m remoteMarks) Highlight(turnIndex int) {
	m.peer.send(wsMessage{Type: "highlight", Index: &turnIndex})
}

func (m remoteMarks) ClearHighlight() {
	m.peer.send(wsMessage{Type: "clear"})
}

// replay drives a Synchronizer for a shared conversation against the
// connected browser.
func (h *Handler) replay(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := h.shares.Shared(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	log := logger.FromContext(r.Context()).With("conversation_id", id)
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("replay upgrade failed", "error", err)
		return
	}
	p := newPeer(conn, log)
	defer p.close()

	player := &remotePlayer{peer: p}
	indexes := make([]int, len(t.Turns))
	for i, turn := range t.Turns {
		indexes[i] = turn.Index
	}
	opts := []playback.Option{
		playback.WithLogger(log),
		playback.WithOnStop(func() { p.send(wsMessage{Type: "stopped"}) }),
	}
	if h.failSafe > 0 {
		opts = append(opts, playback.WithFailSafe(h.failSafe))
	}
	syncer, err := playback.New(id, indexes, h.clips, player, remoteMarks{peer: p}, opts...)
	if err != nil {
		log.Error("create synchronizer", "error", err)
		p.send(errorMessage(usecase.ErrorInternal, "replay_unavailable"))
		return
	}
	defer syncer.Stop()

	p.send(wsMessage{Type: "transcript", ConversationID: id, Transcript: &t})

	ctx := r.Context()
	p.read(func(msg clientMessage) {
		switch msg.Type {
		case "toggle":
			playing, err := syncer.TogglePlay(ctx)
			if errors.Is(err, playback.ErrNoAudio) {
				p.send(wsMessage{Type: "notice", Notice: &domain.Notice{Text: noAudioNotice, AfterIndex: len(t.Turns) - 1}})
				return
			}
			if err != nil {
				log.Error("load audio manifest", "error", err)
				p.send(errorMessage(usecase.ErrorInternal, "storage_error"))
				return
			}
			p.send(wsMessage{Type: "status", Playing: &playing})
		case "ended":
			player.settle(msg.Seq, nil)
		case "error":
			reason := msg.Error
			if reason == "" {
				reason = "unknown"
			}
			player.settle(msg.Seq, errors.New("client playback failed: "+reason))
		default:
			p.send(errorMessage(usecase.ErrorInvalidInput, "unknown_message"))
		}
	})
}
