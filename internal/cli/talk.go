package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"ai-talks/internal/app"
	"ai-talks/internal/domain"
	"ai-talks/internal/engine"
)

type talkOptions struct {
	direction string
	message   string
	tts       bool
	agentA    domain.AgentConfig
	agentB    domain.AgentConfig
}

func newTalkCmd(st *state) *cobra.Command {
	opts := &talkOptions{}
	cmd := &cobra.Command{
		Use:   "talk <opening message>",
		Short: "Run one conversation in the terminal",
		Long: `Run one conversation in the terminal and print it as it happens.

Examples:
  aitalks talk "What makes a good joke?" --a-model openai/gpt-4o-mini --b-model anthropic/claude-3-haiku
  aitalks talk "Hi, who are you?" --direction human-to-a --a-model openai/gpt-4o-mini

Press Ctrl-C to stop.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.message = strings.Join(args, " ")
			return runTalk(cmd.Context(), st, opts, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.direction, "direction", string(domain.DirectionAToB), "who opens and who answers: a-to-b, b-to-a, human-to-a, human-to-b")
	f.BoolVar(&opts.tts, "tts", false, "synthesize and store speech for agent turns")
	f.StringVar(&opts.agentA.Name, "a-name", "Agent A", "display name of agent A")
	f.StringVar(&opts.agentA.Model, "a-model", "", "OpenRouter model of agent A")
	f.StringVar(&opts.agentA.Prompt, "a-prompt", "", "persona prompt of agent A")
	f.StringVar(&opts.agentA.Voice, "a-voice", "Fritz-PlayAI", "voice of agent A")
	f.StringVar(&opts.agentB.Name, "b-name", "Agent B", "display name of agent B")
	f.StringVar(&opts.agentB.Model, "b-model", "", "OpenRouter model of agent B")
	f.StringVar(&opts.agentB.Prompt, "b-prompt", "", "persona prompt of agent B")
	f.StringVar(&opts.agentB.Voice, "b-voice", "Celeste-PlayAI", "voice of agent B")
	return cmd
}

func (o *talkOptions) settings() (domain.Settings, error) {
	dir, err := domain.ParseDirection(o.direction)
	if err != nil {
		return domain.Settings{}, err
	}
	a, b := o.agentA, o.agentB
	a.TTSEnabled, b.TTSEnabled = o.tts, o.tts
	return domain.Settings{Direction: dir, AgentA: a, AgentB: b}, nil
}

func runTalk(ctx context.Context, st *state, opts *talkOptions, out io.Writer) error {
	settings, err := opts.settings()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, st.cfg, st.log)
	if err != nil {
		return err
	}
	printer := &eventPrinter{out: out, settings: settings}
	e, err := a.NewEngine(engine.WithObserver(printer))
	if err != nil {
		return err
	}
	id, err := e.Start(ctx, engine.StartInput{Settings: settings, Message: opts.message})
	if err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.End("Stopped from the terminal.")
		<-done
	}
	fmt.Fprintf(out, "\nconversation %s: %d turns\n", id, len(e.Transcript().Turns))
	return nil
}

// eventPrinter renders engine events as plain text lines.
type eventPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	settings domain.Settings
}

func (p *eventPrinter) Notify(ev engine.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case engine.EventTurn:
		if ev.Turn != nil {
			fmt.Fprintf(p.out, "%s: %s\n", p.settings.DisplayName(ev.Turn.SpeakerID), ev.Turn.Text)
		}
	case engine.EventThinking:
		if ev.Thinking {
			fmt.Fprintf(p.out, "  (%s is thinking)\n", p.settings.DisplayName(ev.Speaker))
		}
	case engine.EventSpeech:
		if ev.Clip != nil {
			fmt.Fprintf(p.out, "  [audio %s]\n", ev.Clip.URI)
		}
	case engine.EventNotice:
		if ev.Notice != nil {
			fmt.Fprintf(p.out, "-- %s\n", ev.Notice.Text)
		}
	}
}
