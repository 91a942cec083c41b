package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		sugar.Info("starting service-user-management")

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.db.Close()

		// graceful shutdown
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if autoMigrate {
			if err := a.migrate(ctx); err != nil {
				return err
			}
			sugar.Info("schema ensured")
		}

		srv := &http.Server{
			Addr:              cfg.Server.Address,
			Handler:           a.handler(cfg),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// run server in background
		errCh := make(chan error, 1)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()
		sugar.Infow("service is running; press Ctrl+C to stop", "addr", cfg.Server.Address, "base_path", cfg.Server.BasePath)

		select {
		case err := <-errCh:
			if err != nil {
				sugar.Errorw("http server failed", "err", err)
				return err
			}
		case <-ctx.Done():
		}

		sugar.Info("shutting down")

		// give a short grace period for cleanup
		doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := a.db.PingContext(doneCtx); err != nil {
			sugar.Warnf("db ping on shutdown failed: %v", err)
		}
		if err := srv.Shutdown(doneCtx); err != nil {
			sugar.Warnf("http server shutdown failed: %v", err)
		}

		sugar.Info("goodbye")
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "create missing tables before serving")
}
