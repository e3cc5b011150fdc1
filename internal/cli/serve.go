package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ai-talks/internal/app"
	"ai-talks/internal/logger"
	"ai-talks/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Long: `Run the HTTP and websocket server.

The sweep runs in-process every SWEEP_INTERVAL unless the interval is 0.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), st)
		},
	}
}

func runServe(ctx context.Context, st *state) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, st.cfg, st.log)
	if err != nil {
		return err
	}
	h, err := a.Handler()
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              st.cfg.HTTP.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if interval := st.cfg.Sweep.Interval; interval > 0 {
		go runSweeps(ctx, a.Sweeper, interval, st.log)
	}

	errCh := make(chan error, 1)
	go func() {
		st.log.Info("server listening", "addr", srv.Addr, "storage", st.cfg.Storage.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	st.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

type sweeper interface {
	Sweep(ctx context.Context) (usecase.SweepResult, error)
}

func runSweeps(ctx context.Context, s sweeper, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx = logger.WithContext(ctx, log.With("job", "sweep"))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				log.Error("sweep failed", "error", err)
			}
		}
	}
}
