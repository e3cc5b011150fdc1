package engine

import (
	"ai-talks/internal/domain"
)

// State is the engine's position in the turn-taking state machine.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateThinking
	StateResponding
	StateSpeaking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateThinking:
		return "thinking"
	case StateResponding:
		return "responding"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// ConversationState is a point-in-time copy of the engine's session state.
type ConversationState struct {
	ConversationID string
	Active         bool
	State          State
	Direction      domain.Direction
	CurrentSpeaker domain.SpeakerID
	History        []domain.Turn
	Notices        []domain.Notice
	Clips          []domain.AudioClip
}

// EventType names what an Event reports.
type EventType string

const (
	EventState    EventType = "state"
	EventThinking EventType = "thinking"
	EventTurn     EventType = "turn"
	EventSpeech   EventType = "speech"
	EventNotice   EventType = "notice"
	// EventEnded tells consumers to stop any audio still playing.
	EventEnded EventType = "ended"
)

// Event is emitted to the engine's observer on every visible transition.
type Event struct {
	Type           EventType
	ConversationID string
	State          State
	Speaker        domain.SpeakerID
	// Thinking is the indicator state for EventThinking.
	Thinking bool
	Turn     *domain.Turn
	Clip     *domain.AudioClip
	Notice   *domain.Notice
}

// Observer receives engine events. Notify must not call back into the engine.
type Observer interface {
	Notify(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Notify(ev Event) { f(ev) }
