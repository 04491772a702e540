package sinks

import (
	"context"

	"github.com/regsdata/calregs-harvester/internal/metrics"
	"github.com/regsdata/calregs-harvester/internal/progress"
)

// Prometheus translates progress events into the metrics package collectors.
type Prometheus struct{}

// NewPrometheus builds the metrics sink.
func NewPrometheus() *Prometheus { return &Prometheus{} }

// Consume updates counters for each event.
func (s *Prometheus) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StagePageVisited:
			metrics.PagesFetched.WithLabelValues("navigation").Inc()
		case progress.StageSectionFound:
			metrics.SectionsDiscovered.Inc()
		case progress.StageOutOfScope:
			metrics.OutOfScope.Inc()
		case progress.StageBranchLost:
			metrics.UnreachableBranches.Inc()
		case progress.StageOutcome:
			metrics.Outcomes.WithLabelValues(evt.Outcome).Inc()
		case progress.StageCheckpointSaved:
			metrics.Checkpoints.Inc()
		}
	}
	return nil
}

// Close is a no-op.
func (s *Prometheus) Close(context.Context) error { return nil }
