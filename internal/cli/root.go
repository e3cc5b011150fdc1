// Package cli provides the aitalks command-line interface.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ai-talks/internal/config"
	"ai-talks/internal/logger"
)

// Version is set at build time.
var Version = "0.1.0"

// state is shared by all subcommands once the root pre-run has loaded it.
type state struct {
	envFiles []string
	logLevel string

	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error
}

// NewRootCommand builds the aitalks command tree.
func NewRootCommand() *cobra.Command {
	st := &state{}
	root := &cobra.Command{
		Use:   "aitalks",
		Short: "Let two LLM agents talk to each other",
		Long: `aitalks runs conversations between two configurable LLM agents, or between
you and one agent, with optional speech. Conversations can be shared behind an
expiring link and replayed with synchronized audio.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			return st.load()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if st.closeLog == nil {
				return nil
			}
			return st.closeLog()
		},
	}
	root.PersistentFlags().StringSliceVar(&st.envFiles, "env-file", nil, "dotenv files to load (default .env)")
	root.PersistentFlags().StringVar(&st.logLevel, "log-level", "", "override LOG_LEVEL")

	root.AddCommand(newServeCmd(st))
	root.AddCommand(newSweepCmd(st))
	root.AddCommand(newTalkCmd(st))
	return root
}

func (st *state) load() error {
	cfg, err := config.Load(st.envFiles...)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if st.logLevel != "" {
		level = st.logLevel
	}
	log, closeLog, err := logger.New(logger.Config{
		Level:      logger.ParseLevel(level),
		JSONFormat: cfg.Log.JSON,
		File:       cfg.Log.File,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)
	st.cfg, st.log, st.closeLog = cfg, log, closeLog
	return nil
}
