package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/trafficsign/internal/handlers"
	"github.com/lehigh-university-libraries/trafficsign/internal/metrics"
	"github.com/lehigh-university-libraries/trafficsign/internal/signcmd"
)

func newServeCmd(g *signcmd.Globals) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the training and prediction HTTP API",
		Long: `Starts an HTTP server on the specified port.

Endpoints:
  POST /train         start a training run in the background (one at a time)
  GET  /status        training log of the current or last run
  GET  /runs[/{id}]   runs started through this server
  GET  /predictions   sample predictions of the last run
  POST /predict       classify an uploaded image (multipart field "file")
  GET  /metrics       Prometheus metrics`,
		Example: `  # Start server on default port 8888
  trafficsign serve

  # Start server on custom port
  trafficsign serve --port 3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.Config()
			if err != nil {
				return err
			}
			handler := handlers.New(cfg, metrics.New())

			addr := ":" + port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Trafficsign API available", "addr", addr, "url", "http://localhost"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				err := server.Shutdown(shutdownCtx)
				if err != nil {
					slog.Error("Server shutdown failed", "err", err)
				}
				handler.Wait()
				slog.Info("Server stopped")
				return err
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")

	return cmd
}
