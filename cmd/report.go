package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/regsdata/calregs-harvester/internal/output"
	"github.com/regsdata/calregs-harvester/internal/report"
)

// newReportCmd creates the 'report' subcommand: the coverage report over the
// checkpoint and the written dataset.
func newReportCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Report dataset coverage for the current run",
		Long: `Builds a coverage report from the checkpointed traversal state and
the dataset file: totals, per-title breakdown, failures, and known gaps such
as unreachable navigation branches.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runReport(asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the report as JSON")
	return cmd
}

func runReport(asJSON bool) error {
	store := newFrontierStore()
	resumed, err := store.Load()
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if !resumed {
		return errors.New("no checkpoint found; nothing to report on")
	}

	records, err := output.ReadAll(cfg.Output.Path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read dataset: %w", err)
	}

	rep, err := report.Build(store, records)
	if err != nil {
		return fmt.Errorf("build report: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	return rep.WriteText(os.Stdout)
}
