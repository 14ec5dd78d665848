package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"filingctl/internal/config"
	"filingctl/internal/dispatch"
	"filingctl/internal/engine"
)

func NewWorkerStartCmd(app *App) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start workers in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			if count < 1 {
				count = cfg.Worker.Count
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := app.Runtime(ctx)
			if err != nil {
				return err
			}

			ctl := engine.NewControl(cfg.DataDir)
			if err := ctl.ClearStop(); err != nil {
				return fmt.Errorf("clear stop file: %w", err)
			}
			if err := ctl.WritePID(os.Getpid()); err != nil {
				return fmt.Errorf("write pid file: %w", err)
			}
			defer ctl.RemovePID()

			fmt.Fprintf(cmd.OutOrStdout(), "Started %d workers (PID: %d). Use `filingctl worker stop` to stop.\n", count, os.Getpid())
			return runWorkers(ctx, app.Logger(), cfg, rt, count, dispatch.WithStopCheck(ctl.StopRequested))
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "number of workers (default worker.count from config)")
	return cmd
}

// runWorkers recovers orphaned jobs and runs the pool until ctx ends or the
// stop check fires.
func runWorkers(ctx context.Context, logger *slog.Logger, cfg *config.Config, rt *Runtime, count int, opts ...dispatch.PoolOption) error {
	if cfg.Runner.Command == "" {
		return errors.New("runner.command is not configured; workers have nothing to execute")
	}

	n, err := rt.Orch.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.Info("recovered orphaned jobs", slog.Int("count", n))
	}

	logger.Info("retry policy",
		slog.Int("max_attempts", rt.Policy.MaxAttempts),
		slog.Duration("base_delay", rt.Policy.BaseDelay),
		slog.Duration("exec_timeout", rt.Orch.ExecTimeout()),
	)
	return rt.NewPool(cfg, count, logger, opts...).Run(ctx)
}
