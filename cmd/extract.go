package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/extract"
	"github.com/regsdata/calregs-harvester/internal/recovery"
)

// newExtractCmd creates the 'extract' subcommand: multi-pass extraction of
// every discovered section.
func newExtractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract",
		Short: "Extract every discovered section into the dataset",
		Long: `Processes the sections found by discover: fetches each document,
parses it into a structured record, and appends the record to the dataset.
Transient failures are retried across bounded recovery passes; sections that
never succeed are recorded as failed so the run always converges.`,
		RunE: runExtract,
	}
}

func runExtract(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	store := newFrontierStore()
	resumed, err := store.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if !resumed {
		return errors.New("no checkpoint found; run discover first")
	}

	gateway, release, err := buildGateway()
	if err != nil {
		return err
	}
	defer release()

	out, err := buildOutput(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Warn("close output failed", zap.Error(cerr))
		}
	}()

	hub, _ := buildProgress()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close(closeCtx)
	}()

	coord := recovery.NewCoordinator(
		recovery.Config{
			Workers:         cfg.Extraction.Workers,
			MaxAttempts:     cfg.Extraction.MaxAttempts,
			MaxPasses:       cfg.Extraction.MaxPasses,
			CheckpointEvery: cfg.Extraction.CheckpointEvery,
		},
		store,
		gateway,
		extract.New(),
		out,
		buildLimiter(),
		hub,
		logger,
	)

	summary, err := coord.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("extraction: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("extraction interrupted, state checkpointed",
			zap.Int("remaining", summary.Remaining))
		return nil
	}
	logger.Info("extraction complete",
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("external_redirects", summary.ExternalRedirects),
		zap.Int("failed", summary.Failed),
		zap.Int("remaining", summary.Remaining))
	return nil
}
