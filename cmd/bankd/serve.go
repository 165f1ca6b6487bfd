package main

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

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/adapter/in/httpapi"
)

func newServeCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, st)
		},
	}
}

func serve(ctx context.Context, st *state) error {
	cfg, log := st.cfg, st.log

	app, err := newApplication(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.shutdown(cfg.Server.ShutdownTimeout)

	if cfg.Schema.MigrateOnStart {
		if err := app.core.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: httpapi.NewRouter(app.core, httpapi.RouterOptions{
			Logger:             log,
			LegacyWithdrawNoop: cfg.Server.LegacyWithdrawNoop,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful Shutdown
	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("http server stopped")
	return nil
}
