package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwbudde/msearch/internal/server"
	"github.com/cwbudde/msearch/internal/store"
	"github.com/spf13/cobra"
)

var (
	serveAddr    string
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP job server",
	Long: `Serves the job API under /api/v1. Jobs run in the background, stream
progress over SSE and checkpoint into --data-dir. On SIGINT or SIGTERM the
server stops accepting requests and cancels running jobs after saving their
final checkpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var fs *store.FSStore
		if serveDataDir != "" {
			var err error
			fs, err = store.NewFSStore(serveDataDir)
			if err != nil {
				return fmt.Errorf("failed to create checkpoint store: %w", err)
			}
		}

		srv := server.NewServer(serveAddr, fs)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Directory for traces and checkpoints (empty = disabled)")
	rootCmd.AddCommand(serveCmd)
}
