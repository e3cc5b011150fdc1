package domain

import (
	"fmt"
	"regexp"
	"time"
)

// SpeakerID identifies a participant in a conversation.
type SpeakerID string

const (
	SpeakerHuman  SpeakerID = "human"
	SpeakerAgentA SpeakerID = "agent_a"
	SpeakerAgentB SpeakerID = "agent_b"
	SpeakerSystem SpeakerID = "system"
)

// IsAgent reports whether s is one of the two agent slots.
func (s SpeakerID) IsAgent() bool {
	return s == SpeakerAgentA || s == SpeakerAgentB
}

// Other returns the counterpart agent slot. It returns "" for non-agents.
func (s SpeakerID) Other() SpeakerID {
	switch s {
	case SpeakerAgentA:
		return SpeakerAgentB
	case SpeakerAgentB:
		return SpeakerAgentA
	default:
		return ""
	}
}

// Direction fixes who opens a conversation and who answers.
type Direction string

const (
	DirectionHumanToA Direction = "human-to-a"
	DirectionHumanToB Direction = "human-to-b"
	DirectionAToB     Direction = "a-to-b"
	DirectionBToA     Direction = "b-to-a"
)

// ParseDirection validates a wire value.
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	switch d {
	case DirectionHumanToA, DirectionHumanToB, DirectionAToB, DirectionBToA:
		return d, nil
	default:
		return "", fmt.Errorf("domain: unknown direction %q", s)
	}
}

// HumanInitiated reports whether the human opens the conversation.
func (d Direction) HumanInitiated() bool {
	return d == DirectionHumanToA || d == DirectionHumanToB
}

// Participants returns the author of the opening line and its first receiver.
func (d Direction) Participants() (speaker, receiver SpeakerID) {
	switch d {
	case DirectionHumanToA:
		return SpeakerHuman, SpeakerAgentA
	case DirectionHumanToB:
		return SpeakerHuman, SpeakerAgentB
	case DirectionAToB:
		return SpeakerAgentA, SpeakerAgentB
	case DirectionBToA:
		return SpeakerAgentB, SpeakerAgentA
	default:
		return "", ""
	}
}

// TerminalAgent is the agent whose reply ends a human-initiated conversation.
// It returns "" for agent-initiated directions.
func (d Direction) TerminalAgent() SpeakerID {
	switch d {
	case DirectionHumanToA:
		return SpeakerAgentA
	case DirectionHumanToB:
		return SpeakerAgentB
	default:
		return ""
	}
}

// AgentConfig is the persona and voice setup for one agent slot.
type AgentConfig struct {
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Voice       string  `json:"voice,omitempty"`
	TTSEnabled  bool    `json:"ttsEnabled"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

// Settings is the snapshot of a conversation's configuration at start.
type Settings struct {
	Direction Direction   `json:"direction"`
	AgentA    AgentConfig `json:"agentA"`
	AgentB    AgentConfig `json:"agentB"`
}

// Agent returns the config for an agent slot.
func (s Settings) Agent(id SpeakerID) AgentConfig {
	if id == SpeakerAgentB {
		return s.AgentB
	}
	return s.AgentA
}

// DisplayName returns the name shown for a speaker.
func (s Settings) DisplayName(id SpeakerID) string {
	switch id {
	case SpeakerAgentA, SpeakerAgentB:
		if n := s.Agent(id).Name; n != "" {
			return n
		}
		if id == SpeakerAgentA {
			return "Agent A"
		}
		return "Agent B"
	case SpeakerHuman:
		return "Human"
	default:
		return "System"
	}
}

// Turn is one message attributed to a participant. Turns are append-only.
type Turn struct {
	Index     int       `json:"index"`
	SpeakerID SpeakerID `json:"speakerId"`
	Text      string    `json:"text"`
	ModelID   string    `json:"modelId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notice is a system-level transcript entry. AfterIndex is the index of the
// last Turn present when the notice was raised, -1 before any Turn.
type Notice struct {
	Text       string    `json:"text"`
	AfterIndex int       `json:"afterIndex"`
	Timestamp  time.Time `json:"timestamp"`
}

// Transcript is the persisted record of one conversation.
type Transcript struct {
	ConversationID string     `json:"conversationId"`
	Settings       Settings   `json:"settings"`
	Turns          []Turn     `json:"turns"`
	Notices        []Notice   `json:"notices,omitempty"`
	Shared         bool       `json:"shared"`
	SharedAt       *time.Time `json:"sharedAt,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	HasAudio       bool       `json:"hasAudio"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Expired reports whether a shared transcript is past its expiry.
func (t Transcript) Expired(now time.Time) bool {
	return t.Shared && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// ConversationMeta is the listing view of a stored conversation, used by the sweep.
type ConversationMeta struct {
	ConversationID string
	Shared         bool
	ExpiresAt      *time.Time
	UpdatedAt      time.Time
	HasTranscript  bool
}

// AudioClip is one rendered speech clip tied to a Turn.
type AudioClip struct {
	TurnIndex   int    `json:"turnIndex"`
	URI         string `json:"uri"`
	File        string `json:"file"`
	ContentType string `json:"contentType,omitempty"`
}

var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,128}$`)

// ValidConversationID reports whether id is safe to use as a storage key.
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}
