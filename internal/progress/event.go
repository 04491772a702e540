// Package progress defines the milestone events emitted by the discovery and
// extraction phases, and a hub that fans them out to sinks without ever
// blocking the pipeline.
package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StagePageVisited     Stage = "PAGE_VISITED"
	StageSectionFound    Stage = "SECTION_FOUND"
	StageOutOfScope      Stage = "OUT_OF_SCOPE"
	StageBranchLost      Stage = "BRANCH_UNREACHABLE"
	StagePassStart       Stage = "PASS_START"
	StagePassDone        Stage = "PASS_DONE"
	StageOutcome         Stage = "OUTCOME_RECORDED"
	StageCheckpointSaved Stage = "CHECKPOINT_SAVED"
)

// Event captures a single milestone of harvest progress.
type Event struct {
	// RunID identifies the harvest run the event belongs to.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// URL optionally scopes the event to a page.
	URL string
	// Outcome carries the terminal kind for OUTCOME_RECORDED events.
	Outcome string
	// Pass is the recovery pass number for pass events.
	Pass int
	// Dur captures latency where meaningful.
	Dur time.Duration
	// Note attaches low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StagePassStart, StagePassDone, StageCheckpointSaved:
	case StagePageVisited, StageSectionFound, StageOutOfScope, StageBranchLost:
		if e.URL == "" {
			return fmt.Errorf("%s requires a url", e.Stage)
		}
	case StageOutcome:
		if e.URL == "" || e.Outcome == "" {
			return errors.New("outcome event requires url and outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
