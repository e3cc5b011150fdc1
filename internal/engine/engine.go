package engine

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ai-talks/internal/domain"
)

const (
	defaultHistoryWindow = 10
	defaultMaxTokens     = 300
	defaultTemperature   = 0.7
	defaultEndMarker     = "#END#"
	defaultEndReason     = "Conversation ended."
)

// Generator is the text generation capability.
type Generator interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
}

// Synthesizer is the speech synthesis capability.
type Synthesizer interface {
	Synthesize(ctx context.Context, voice, text string) (domain.Audio, error)
}

// ClipRecorder stores a synthesized clip and returns its manifest entry.
type ClipRecorder interface {
	SaveClip(ctx context.Context, conversationID string, turnIndex int, audio domain.Audio) (domain.AudioClip, error)
}

// Config holds pacing and generation parameters.
type Config struct {
	ThinkingMin   time.Duration
	ThinkingMax   time.Duration
	SpeechPause   time.Duration
	TurnPause     time.Duration
	HistoryWindow int
	MaxTokens     int
	Temperature   float32
	EndMarker     string
	// MaxTurns bounds agent replies per session. Zero means unlimited.
	MaxTurns int
}

type Option func(*Engine)

func WithSynthesizer(s Synthesizer) Option {
	return func(e *Engine) { e.synth = s }
}

func WithClipRecorder(r ClipRecorder) Option {
	return func(e *Engine) { e.clips = r }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithRand replaces the random source used for the thinking delay. fn must
// return a value in [0, n).
func WithRand(fn func(n int64) int64) Option {
	return func(e *Engine) {
		if fn != nil {
			e.randN = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// StartInput is the request to open a new conversation.
type StartInput struct {
	Settings domain.Settings
	Message  string
}

// Engine drives one conversation at a time between two agents, or between
// the human and one agent. It owns the session state exclusively.
type Engine struct {
	gen      Generator
	synth    Synthesizer
	clips    ClipRecorder
	observer Observer
	log      *slog.Logger
	cfg      Config
	randN    func(n int64) int64
	now      func() time.Time

	mu        sync.Mutex
	current   *session
	state     State
	active    bool
	speaker   domain.SpeakerID
	history   []domain.Turn
	notices   []domain.Notice
	clipList  []domain.AudioClip
	createdAt time.Time
}

type session struct {
	id       string
	settings domain.Settings
	token    *cancelToken
	done     chan struct{}
	replies  int
}

func New(gen Generator, cfg Config, opts ...Option) (*Engine, error) {
	if gen == nil {
		return nil, errors.New("engine: generator must not be nil")
	}
	if cfg.ThinkingMax < cfg.ThinkingMin {
		return nil, errors.New("engine: thinking max must not be below thinking min")
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = defaultTemperature
	}
	if strings.TrimSpace(cfg.EndMarker) == "" {
		cfg.EndMarker = defaultEndMarker
	}
	e := &Engine{
		gen:   gen,
		log:   slog.Default(),
		cfg:   cfg,
		randN: rand.Int63n,
		now:   time.Now,
		state: StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start validates the input, resets the session and runs the conversation in
// the background. It returns the new conversation id.
func (e *Engine) Start(ctx context.Context, in StartInput) (string, error) {
	msg := strings.TrimSpace(in.Message)
	if msg == "" {
		return "", &ValidationError{Field: "message", Reason: "must not be empty"}
	}
	dir, err := domain.ParseDirection(string(in.Settings.Direction))
	if err != nil {
		return "", &ValidationError{Field: "direction", Reason: err.Error()}
	}
	speaker, receiver := dir.Participants()
	for _, id := range []domain.SpeakerID{domain.SpeakerAgentA, domain.SpeakerAgentB} {
		if id != speaker && id != receiver {
			continue
		}
		if strings.TrimSpace(in.Settings.Agent(id).Model) == "" {
			return "", &ValidationError{Field: string(id) + ".model", Reason: "must not be empty"}
		}
	}

	sess := &session{
		id:       newConversationID(),
		settings: in.Settings,
		token:    newCancelToken(),
		done:     make(chan struct{}),
	}

	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return "", ErrSessionActive
	}
	now := e.now()
	e.current = sess
	e.active = true
	e.state = StateStarting
	e.speaker = speaker
	e.history = nil
	e.notices = nil
	e.clipList = nil
	e.createdAt = now
	first := e.appendLocked(speaker, msg, "", now)
	e.mu.Unlock()

	e.log.InfoContext(ctx, "conversation started",
		"conversation_id", sess.id,
		"direction", string(dir),
	)
	e.emit(Event{Type: EventState, ConversationID: sess.id, State: StateStarting, Speaker: speaker})
	e.emit(Event{Type: EventTurn, ConversationID: sess.id, Speaker: speaker, Turn: &first})

	go e.run(context.WithoutCancel(ctx), sess, receiver, msg)
	return sess.id, nil
}

// End stops the current conversation. It is safe to call at any time; see
// finish for the exact notice rules.
func (e *Engine) End(reason string) {
	e.mu.Lock()
	sess := e.current
	e.mu.Unlock()
	if sess == nil {
		return
	}
	e.finish(sess, reason)
}

// Wait blocks until the current session's turn loop has returned.
func (e *Engine) Wait() {
	e.mu.Lock()
	sess := e.current
	e.mu.Unlock()
	if sess == nil {
		return
	}
	<-sess.done
}

// Snapshot returns a copy of the session state.
func (e *Engine) Snapshot() ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := ConversationState{
		Active:         e.active,
		State:          e.state,
		CurrentSpeaker: e.speaker,
		History:        append([]domain.Turn(nil), e.history...),
		Notices:        append([]domain.Notice(nil), e.notices...),
		Clips:          append([]domain.AudioClip(nil), e.clipList...),
	}
	if e.current != nil {
		st.ConversationID = e.current.id
		st.Direction = e.current.settings.Direction
	}
	return st
}

// Transcript returns the session as a storable transcript.
func (e *Engine) Transcript() domain.Transcript {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := domain.Transcript{
		Turns:     append([]domain.Turn(nil), e.history...),
		Notices:   append([]domain.Notice(nil), e.notices...),
		HasAudio:  len(e.clipList) > 0,
		CreatedAt: e.createdAt,
		UpdatedAt: e.now(),
	}
	if e.current != nil {
		t.ConversationID = e.current.id
		t.Settings = e.current.settings
	}
	return t
}

// ThinkingDelay draws one thinking delay from the configured bounds.
func (e *Engine) ThinkingDelay() time.Duration {
	span := int64(e.cfg.ThinkingMax - e.cfg.ThinkingMin)
	if span <= 0 {
		return e.cfg.ThinkingMin
	}
	return e.cfg.ThinkingMin + time.Duration(e.randN(span+1))
}

func (e *Engine) run(ctx context.Context, sess *session, speaker domain.SpeakerID, input string) {
	defer close(sess.done)
	isFirst := true
	for {
		next, ok := e.processTurn(ctx, sess, speaker, input, isFirst)
		if !ok {
			return
		}
		speaker, input, isFirst = speaker.Other(), next, false
	}
}

// finish is the single shutdown routine. A running session is always marked
// ended; a notice is added when a reason is given or the history is not
// empty. On an already ended session the notice is only added when both a
// reason is given and the history is not empty.
func (e *Engine) finish(sess *session, reason string) {
	e.mu.Lock()
	if sess != e.current {
		e.mu.Unlock()
		return
	}
	wasActive := e.active
	e.active = false
	sess.token.cancel()

	var announce bool
	if wasActive {
		announce = reason != "" || len(e.history) > 0
	} else {
		announce = reason != "" && len(e.history) > 0
	}
	var notice *domain.Notice
	if announce {
		text := reason
		if text == "" {
			text = defaultEndReason
		}
		n := e.noticeLocked(text)
		notice = &n
	}
	if wasActive {
		e.state = StateEnded
		e.speaker = ""
	}
	e.mu.Unlock()

	if notice != nil {
		e.emit(Event{Type: EventNotice, ConversationID: sess.id, Notice: notice})
	}
	if wasActive {
		e.log.Info("conversation ended", "conversation_id", sess.id, "reason", reason)
		e.emit(Event{Type: EventThinking, ConversationID: sess.id, Thinking: false})
		e.emit(Event{Type: EventState, ConversationID: sess.id, State: StateEnded})
		e.emit(Event{Type: EventEnded, ConversationID: sess.id, State: StateEnded})
	}
}

func (e *Engine) appendLocked(speaker domain.SpeakerID, text, model string, ts time.Time) domain.Turn {
	t := domain.Turn{
		Index:     len(e.history),
		SpeakerID: speaker,
		Text:      text,
		ModelID:   model,
		Timestamp: ts,
	}
	e.history = append(e.history, t)
	return t
}

func (e *Engine) noticeLocked(text string) domain.Notice {
	n := domain.Notice{
		Text:       text,
		AfterIndex: len(e.history) - 1,
		Timestamp:  e.now(),
	}
	e.notices = append(e.notices, n)
	return n
}

// setState moves a still-current, active session to st.
func (e *Engine) setState(sess *session, st State, speaker domain.SpeakerID) bool {
	e.mu.Lock()
	if sess != e.current || !e.active {
		e.mu.Unlock()
		return false
	}
	e.state = st
	e.speaker = speaker
	e.mu.Unlock()
	e.emit(Event{Type: EventState, ConversationID: sess.id, State: st, Speaker: speaker})
	return true
}

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		e.observer.Notify(ev)
	}
}

var newConversationID = func() string {
	return "conv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
