package handler

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ai-talks/internal/domain"
	"ai-talks/internal/usecase"
)

const (
	wsSendQueue  = 64
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 64 << 10
)

// wsMessage is every frame the server sends. Type selects which fields are set.
type wsMessage struct {
	Type           string             `json:"type"`
	ConversationID string             `json:"conversationId,omitempty"`
	State          string             `json:"state,omitempty"`
	Speaker        domain.SpeakerID   `json:"speaker,omitempty"`
	Thinking       *bool              `json:"thinking,omitempty"`
	Playing        *bool              `json:"playing,omitempty"`
	Index          *int               `json:"index,omitempty"`
	Seq            int                `json:"seq,omitempty"`
	Turn           *domain.Turn       `json:"turn,omitempty"`
	Clip           *domain.AudioClip  `json:"clip,omitempty"`
	Notice         *domain.Notice     `json:"notice,omitempty"`
	Transcript     *domain.Transcript `json:"transcript,omitempty"`
	Error          string             `json:"error,omitempty"`
	Reason         string             `json:"reason,omitempty"`
}

type clientMessage struct {
	Type     string          `json:"type"`
	Settings domain.Settings `json:"settings"`
	Message  string          `json:"message"`
	Reason   string          `json:"reason"`
	Seq      int             `json:"seq"`
	Error    string          `json:"error"`
}

func errorMessage(code usecase.ErrorCode, reason string) wsMessage {
	return wsMessage{Type: "error", Error: string(code), Reason: reason}
}

// peer serialises writes to one websocket. send never blocks, so it is safe
// to call while holding other locks.
type peer struct {
	conn *websocket.Conn
	log  *slog.Logger
	out  chan wsMessage
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func newPeer(conn *websocket.Conn, log *slog.Logger) *peer {
	p := &peer{
		conn: conn,
		log:  log,
		out:  make(chan wsMessage, wsSendQueue),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

func (p *peer) send(msg wsMessage) {
	select {
	case <-p.quit:
		return
	case <-p.done:
		return
	default:
	}
	select {
	case p.out <- msg:
	default:
		p.log.Warn("websocket send queue full", "type", msg.Type)
	}
}

// close flushes queued frames, says goodbye and waits for the writer.
func (p *peer) close() {
	p.once.Do(func() { close(p.quit) })
	<-p.done
}

func (p *peer) writeLoop() {
	defer close(p.done)
	defer p.conn.Close()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-p.out:
			if !p.write(msg) {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.quit:
			for {
				select {
				case msg := <-p.out:
					if !p.write(msg) {
						return
					}
				default:
					_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
					_ = p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (p *peer) write(msg wsMessage) bool {
	_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := p.conn.WriteJSON(msg); err != nil {
		p.log.Debug("websocket write failed", "type", msg.Type, "error", err)
		return false
	}
	return true
}

// read dispatches client frames to fn until the connection drops.
func (p *peer) read(fn func(clientMessage)) {
	p.conn.SetReadLimit(wsMaxMessage)
	_ = p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				p.log.Debug("websocket closed", "error", err)
			}
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			p.send(errorMessage(usecase.ErrorInvalidInput, "invalid_message"))
			continue
		}
		fn(msg)
	}
}
