package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"filingctl/internal/api"
)

func NewServeCmd(app *App) *cobra.Command {
	var (
		listen  string
		workers int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway, and workers unless --workers=0",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.Config()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = cfg.Listen
			}
			if workers < 0 {
				workers = cfg.Worker.Count
			}
			logger := app.Logger()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := app.Runtime(ctx)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              listen,
				Handler:           api.NewServer(rt.Orch, rt.Artifacts, logger, rt.Health...).Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				logger.Info("gateway listening", slog.String("addr", listen))
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if workers > 0 {
				g.Go(func() error {
					return runWorkers(gctx, logger, cfg, rt, workers)
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default listen from config)")
	cmd.Flags().IntVar(&workers, "workers", -1, "in-process workers, 0 for gateway only (default worker.count from config)")
	return cmd
}
