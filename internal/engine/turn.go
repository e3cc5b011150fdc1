package engine

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"ai-talks/internal/domain"
)

// processTurn produces one reply from speaker to input. It returns the reply
// and true when the conversation should continue with the other agent.
func (e *Engine) processTurn(ctx context.Context, sess *session, speaker domain.SpeakerID, input string, isFirst bool) (string, bool) {
	if !sess.token.active() {
		return "", false
	}
	settings := sess.settings
	agent := settings.Agent(speaker)
	name := settings.DisplayName(speaker)

	if !e.setState(sess, StateThinking, speaker) {
		return "", false
	}
	e.emit(Event{Type: EventThinking, ConversationID: sess.id, Speaker: speaker, Thinking: true})
	if !sess.token.sleep(e.ThinkingDelay()) {
		e.emit(Event{Type: EventThinking, ConversationID: sess.id, Speaker: speaker, Thinking: false})
		return "", false
	}

	if !e.setState(sess, StateResponding, speaker) {
		return "", false
	}
	req := e.buildRequest(sess, speaker, input)
	text, err := e.gen.Complete(ctx, req)
	e.emit(Event{Type: EventThinking, ConversationID: sess.id, Speaker: speaker, Thinking: false})
	if !sess.token.active() {
		e.log.DebugContext(ctx, "discarding reply for stopped conversation",
			"conversation_id", sess.id, "speaker", string(speaker))
		return "", false
	}
	if err != nil {
		e.log.ErrorContext(ctx, "generation failed",
			"conversation_id", sess.id, "speaker", string(speaker), "err", err)
		e.finish(sess, fmt.Sprintf("Error: %s could not respond (%v).", name, err))
		return "", false
	}
	if strings.Contains(text, e.cfg.EndMarker) {
		e.finish(sess, fmt.Sprintf("%s ended the conversation.", name))
		return "", false
	}
	reply := strings.TrimSpace(text)
	if reply == "" || !utf8.ValidString(reply) {
		e.finish(sess, fmt.Sprintf("Error: %s returned an empty or invalid response.", name))
		return "", false
	}

	turn, ok := e.appendTurn(sess, speaker, reply, agent.Model)
	if !ok {
		return "", false
	}
	e.emit(Event{Type: EventTurn, ConversationID: sess.id, Speaker: speaker, Turn: &turn})

	if !e.setState(sess, StateSpeaking, speaker) {
		return "", false
	}
	e.speak(ctx, sess, agent, turn)
	if !sess.token.active() {
		return "", false
	}
	if !sess.token.sleep(e.cfg.TurnPause) {
		return "", false
	}

	if settings.Direction.HumanInitiated() && speaker == settings.Direction.TerminalAgent() {
		e.finish(sess, "")
		return "", false
	}
	sess.replies++
	if e.cfg.MaxTurns > 0 && sess.replies >= e.cfg.MaxTurns {
		e.finish(sess, fmt.Sprintf("Turn limit of %d reached.", e.cfg.MaxTurns))
		return "", false
	}
	if isFirst {
		e.log.DebugContext(ctx, "opening reply received, handing over",
			"conversation_id", sess.id, "next", string(speaker.Other()))
	}
	return reply, true
}

func (e *Engine) appendTurn(sess *session, speaker domain.SpeakerID, text, model string) (domain.Turn, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess != e.current || !e.active {
		return domain.Turn{}, false
	}
	return e.appendLocked(speaker, text, model, e.now()), true
}

// speak synthesizes the turn when speech is enabled for the agent. Failures
// are logged and the conversation carries on.
func (e *Engine) speak(ctx context.Context, sess *session, agent domain.AgentConfig, turn domain.Turn) {
	if e.synth == nil || !agent.TTSEnabled || strings.TrimSpace(agent.Voice) == "" {
		return
	}
	audio, err := e.synth.Synthesize(ctx, agent.Voice, turn.Text)
	if err != nil {
		e.log.WarnContext(ctx, "speech synthesis failed",
			"conversation_id", sess.id, "turn", turn.Index, "err", err)
	} else if e.clips != nil && sess.token.active() {
		clip, err := e.clips.SaveClip(ctx, sess.id, turn.Index, audio)
		if err != nil {
			e.log.WarnContext(ctx, "saving speech clip failed",
				"conversation_id", sess.id, "turn", turn.Index, "err", err)
		} else {
			e.mu.Lock()
			if sess == e.current {
				e.clipList = append(e.clipList, clip)
			}
			e.mu.Unlock()
			e.emit(Event{Type: EventSpeech, ConversationID: sess.id, Speaker: turn.SpeakerID, Clip: &clip})
		}
	}
	sess.token.sleep(e.cfg.SpeechPause)
}

func (e *Engine) buildRequest(sess *session, speaker domain.SpeakerID, input string) domain.CompletionRequest {
	settings := sess.settings
	agent := settings.Agent(speaker)

	e.mu.Lock()
	prior := append([]domain.Turn(nil), e.history...)
	e.mu.Unlock()

	counterpart := speaker.Other()
	if n := len(prior); n > 0 {
		if last := prior[n-1]; last.SpeakerID != speaker {
			counterpart = last.SpeakerID
		}
		// The last turn is the input itself.
		prior = prior[:n-1]
	}
	if len(prior) > e.cfg.HistoryWindow {
		prior = prior[len(prior)-e.cfg.HistoryWindow:]
	}

	messages := make([]domain.ChatMessage, 0, len(prior)+2)
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleSystem,
		Content: systemPrompt(agent.Prompt, settings.DisplayName(speaker), settings.DisplayName(counterpart), e.cfg.EndMarker),
	})
	for _, t := range prior {
		role := domain.RoleUser
		if t.SpeakerID == speaker {
			role = domain.RoleAssistant
		}
		messages = append(messages, domain.ChatMessage{
			Role:    role,
			Content: t.Text,
			Name:    nameToken(settings.DisplayName(t.SpeakerID)),
		})
	}
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: input,
		Name:    nameToken(settings.DisplayName(counterpart)),
	})

	maxTokens := agent.MaxTokens
	if maxTokens <= 0 {
		maxTokens = e.cfg.MaxTokens
	}
	temperature := agent.Temperature
	if temperature <= 0 {
		temperature = e.cfg.Temperature
	}
	return domain.CompletionRequest{
		Model:       agent.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

func systemPrompt(persona, self, other, marker string) string {
	return strings.TrimSpace(strings.Join([]string{
		strings.TrimSpace(persona),
		"",
		fmt.Sprintf("You are %s, talking with %s.", self, other),
		"Reply with your next message only. Do not prefix it with your name.",
		fmt.Sprintf("When the conversation has reached its natural end, reply with %s.", marker),
	}, "\n"))
}

// nameToken reduces a display name to the characters chat APIs accept.
func nameToken(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
		if b.Len() >= 64 {
			break
		}
	}
	return b.String()
}
