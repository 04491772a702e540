package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/api"
)

// newServeCmd creates the 'serve' subcommand: the read-only operator API over
// the checkpointed run state.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the operator API for an ongoing or finished run",
		Long: `Exposes the run over HTTP: health probes, Prometheus metrics,
frontier status, per-section state, and the coverage report. The server reads
the checkpoint on startup; it does not fetch anything itself.`,
		RunE: runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	store := newFrontierStore()
	if _, err := store.Load(); err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewServer(store, nil, cfg.Output.Path, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("operator api listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("operator api stopped")
	return nil
}
