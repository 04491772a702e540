// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/config"
	"github.com/regsdata/calregs-harvester/internal/fetch"
	"github.com/regsdata/calregs-harvester/internal/frontier"
	"github.com/regsdata/calregs-harvester/internal/logging"
	"github.com/regsdata/calregs-harvester/internal/output"
	"github.com/regsdata/calregs-harvester/internal/output/postgres"
	"github.com/regsdata/calregs-harvester/internal/progress"
	"github.com/regsdata/calregs-harvester/internal/progress/sinks"
	"github.com/regsdata/calregs-harvester/internal/ratelimit"
	"github.com/regsdata/calregs-harvester/internal/retry"
)

var (
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
)

// newRootCmd creates and configures the root command. Config and logger are
// built in PersistentPreRunE so every subcommand sees the same wiring.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests the California Code of Regulations catalog.",
		Long: `harvester walks the CCR catalog breadth-first to discover every
section document, extracts each one into a structured record, and reports
how much of the catalog the resulting dataset covers. Runs checkpoint their
state and resume where they left off.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newExtractCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		if logger != nil {
			logger.Error("command failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// signalContext cancels on SIGINT/SIGTERM so runs checkpoint and exit
// cleanly.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newFrontierStore() *frontier.Store {
	return frontier.New(cfg.State.CheckpointPath, logger)
}

// buildGateway picks the browser-rendered gateway when headless is enabled,
// otherwise the plain HTTP one. The returned func releases gateway resources.
func buildGateway() (fetch.Gateway, func(), error) {
	if cfg.Fetch.Headless.Enabled {
		gw, err := fetch.NewHeadless(fetch.HeadlessConfig{
			UserAgent:         cfg.Catalog.UserAgent,
			NavigationTimeout: time.Duration(cfg.Fetch.Headless.NavTimeoutSec) * time.Second,
			MaxParallel:       cfg.Fetch.Headless.MaxParallel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init headless gateway: %w", err)
		}
		return gw, gw.Close, nil
	}
	gw := fetch.NewColly(fetch.CollyConfig{
		UserAgent: cfg.Catalog.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	return gw, func() {}, nil
}

func buildLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		RPS:   cfg.Fetch.RequestsPerSec,
		Burst: cfg.Fetch.Burst,
	})
}

func buildRetryPolicy() *retry.Policy {
	return retry.NewPolicy(cfg.Fetch.MaxRetries, cfg.BackoffInitial(), cfg.BackoffMax())
}

// buildProgress wires the hub with its standard sinks. The ring feeds the
// operator API; callers must Close the hub before exit.
func buildProgress() (*progress.Hub, *sinks.Ring) {
	ring := sinks.NewRing(1024)
	hub := progress.NewHub(progress.Config{Logger: logger},
		sinks.NewLog(logger),
		sinks.NewPrometheus(),
		ring,
	)
	return hub, ring
}

// buildOutput opens the JSONL dataset, optionally teed into Postgres.
func buildOutput(ctx context.Context) (output.Store, error) {
	jsonl, err := output.OpenJSONL(cfg.Output.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}
	if !cfg.Output.Postgres.Enabled {
		return jsonl, nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.Output.Postgres.DSN,
		Table:    cfg.Output.Postgres.Table,
		MaxConns: int32(cfg.Output.Postgres.MaxConns),
	})
	if err != nil {
		_ = jsonl.Close()
		return nil, fmt.Errorf("open postgres output: %w", err)
	}
	return output.NewTee(jsonl, pg), nil
}
