package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"workflow_digest/internal/infra/httpapi"
	"workflow_digest/internal/infra/scheduler"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the cron scheduler and the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApplication(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.IsProduction() {
				gin.SetMode(gin.ReleaseMode)
			}

			sched := scheduler.NewDigestScheduler(a.digests, a.log, a.cfg.CronSpecClassify, a.cfg.CronSpecDispatch, a.cfg.JobTimeout)
			if err := sched.Start(); err != nil {
				return err
			}
			defer sched.Stop()

			srv := &http.Server{
				Addr:              a.cfg.HTTPAddr,
				Handler:           httpapi.NewRouter(a.admin, a.log),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				a.log.WithField("addr", srv.Addr).Info("Admin HTTP server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("admin HTTP server failed: %w", err)
				}
			case <-ctx.Done():
			}

			a.log.Info("Shutting down application...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.WithError(err).Warn("Admin HTTP server did not shut down cleanly")
			}
			a.log.Info("Application shut down gracefully")
			return nil
		},
	}
}
