package commands

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/csvsync/internal/web"
	"github.com/spf13/cobra"
)

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API that triggers runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			svc, closeStore, err := a.service(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			importers, exporters := a.registry.Len()
			slog.Info("definitions registered", "importers", importers, "exporters", exporters)

			server := web.NewServer(svc, a.cfg)
			errCh := make(chan error, 1)
			go func() { errCh <- server.Start(a.cfg.Server.Addr()) }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			slog.Info("shutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
			defer cancel()

			if status := svc.Limiter().Status(); status.Active > 0 {
				slog.Info("waiting for runs to complete", "active", status.Active)
			}
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("shutdown did not complete in time", "error", err)
				return err
			}
			slog.Info("server stopped")
			return nil
		},
	}
}
