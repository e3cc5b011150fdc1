package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ai-talks/internal/domain"
	"ai-talks/internal/engine"
	"ai-talks/internal/usecase"
)

func writeEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	data := "STORAGE_DIR=" + filepath.Join(dir, "data") + "\nOPENROUTER_API_KEY=sk-or\nGROQ_API_KEY=gsk\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	t.Cleanup(func() {
		for _, k := range []string{"STORAGE_DIR", "OPENROUTER_API_KEY", "GROQ_API_KEY"} {
			os.Unsetenv(k)
		}
	})
	return path
}

func TestSweepCommand_PrintsCounts(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"sweep", "--env-file", writeEnv(t), "--log-level", "error"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	var res usecase.SweepResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Equal(t, usecase.SweepResult{}, res)
}

func TestTalkCommand_RejectsBadDirection(t *testing.T) {
	root := NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"talk", "hello", "--direction", "sideways", "--env-file", writeEnv(t)})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "unknown direction")
}

func TestTalkOptions_Settings(t *testing.T) {
	opts := &talkOptions{direction: "human-to-b", tts: true, agentB: domain.AgentConfig{Name: "Bob", Model: "m"}}
	s, err := opts.settings()
	require.NoError(t, err)
	require.Equal(t, domain.DirectionHumanToB, s.Direction)
	require.True(t, s.AgentB.TTSEnabled)
	require.True(t, s.AgentA.TTSEnabled)
}

func TestEventPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &eventPrinter{out: &out, settings: domain.Settings{AgentA: domain.AgentConfig{Name: "Ada"}}}

	turn := domain.Turn{SpeakerID: domain.SpeakerAgentA, Text: "Topic?"}
	p.Notify(engine.Event{Type: engine.EventThinking, Speaker: domain.SpeakerAgentB, Thinking: true})
	p.Notify(engine.Event{Type: engine.EventThinking, Speaker: domain.SpeakerAgentB, Thinking: false})
	p.Notify(engine.Event{Type: engine.EventTurn, Turn: &turn})
	p.Notify(engine.Event{Type: engine.EventNotice, Notice: &domain.Notice{Text: "Conversation ended."}})
	p.Notify(engine.Event{Type: engine.EventState, State: engine.StateEnded})

	require.Equal(t, "  (Agent B is thinking)\nAda: Topic?\n-- Conversation ended.\n", out.String())
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) Sweep(context.Context) (usecase.SweepResult, error) {
	s.calls.Add(1)
	return usecase.SweepResult{}, s.err
}

func TestRunSweeps_TicksUntilCancelled(t *testing.T) {
	s := &countingSweeper{err: errors.New("transient")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runSweeps(ctx, s, 5*time.Millisecond, discardLogger())
		close(done)
	}()
	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runSweeps did not return after cancel")
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
