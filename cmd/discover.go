package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/classify"
	"github.com/regsdata/calregs-harvester/internal/traverse"
)

// newDiscoverCmd creates the 'discover' subcommand: the breadth-first walk of
// the catalog's navigation tree.
func newDiscoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Walk the catalog and discover section documents",
		Long: `Traverses the catalog's navigation pages breadth-first from the
configured start URL, recording every section document it finds. The
traversal checkpoints its frontier periodically and on interrupt, so a
stopped run picks up where it left off.`,
		RunE: runDiscover,
	}
}

func runDiscover(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	gateway, release, err := buildGateway()
	if err != nil {
		return err
	}
	defer release()

	hub, _ := buildProgress()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close(closeCtx)
	}()

	engine := traverse.NewEngine(
		traverse.Config{
			StartURL:        cfg.Catalog.StartURL,
			CheckpointEvery: cfg.Discovery.CheckpointEvery,
			MaxVisits:       cfg.Discovery.MaxVisits,
			MaxSections:     cfg.Discovery.MaxSections,
		},
		newFrontierStore(),
		gateway,
		classify.New(classify.DefaultConfig()),
		buildLimiter(),
		buildRetryPolicy(),
		hub,
		logger,
	)

	summary, err := engine.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("discovery: %w", err)
	}
	if errors.Is(err, context.Canceled) {
		logger.Info("discovery interrupted, state checkpointed",
			zap.Int("sections_discovered", summary.SectionsDiscovered))
		return nil
	}
	logger.Info("discovery complete",
		zap.Int("navigation_visited", summary.NavigationVisited),
		zap.Int("sections_discovered", summary.SectionsDiscovered))
	return nil
}
