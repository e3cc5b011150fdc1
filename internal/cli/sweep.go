package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"ai-talks/internal/app"
	"ai-talks/internal/logger"
)

func newSweepCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired shares and stale conversations once",
		Long: `Remove expired shares and stale conversations once.

Shared conversations are removed when their link expires. Unshared ones, and
audio without a transcript, are removed after SWEEP_RETENTION.

Prints {"removed": n, "kept": m}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := app.New(ctx, st.cfg, st.log)
			if err != nil {
				return err
			}
			res, err := a.Sweeper.Sweep(logger.WithContext(ctx, st.log))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(res)
		},
	}
}
