// Package traverse walks the catalog's navigation tree breadth-first,
// discovering section documents and recording scope boundaries as it goes.
package traverse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/classify"
	"github.com/regsdata/calregs-harvester/internal/fetch"
	"github.com/regsdata/calregs-harvester/internal/frontier"
	"github.com/regsdata/calregs-harvester/internal/metrics"
	"github.com/regsdata/calregs-harvester/internal/progress"
	"github.com/regsdata/calregs-harvester/internal/ratelimit"
	"github.com/regsdata/calregs-harvester/internal/retry"
)

// State tracks where the engine is in its lifecycle.
type State string

// Engine lifecycle states.
const (
	StateIdle          State = "idle"
	StateFresh         State = "fresh"
	StateResuming      State = "resuming"
	StateRunning       State = "running"
	StateCheckpointing State = "checkpointing"
	StateDrained       State = "drained"
	StateClosed        State = "closed"
)

// Config tunes a discovery run.
type Config struct {
	// StartURL roots the traversal when no checkpoint exists.
	StartURL string
	// CheckpointEvery persists the frontier after this many processed pages.
	// Zero disables periodic checkpoints; one is written on drain regardless.
	CheckpointEvery int
	// MaxVisits caps the number of navigation pages fetched. Zero is
	// unlimited; useful for smoke runs against the live catalog.
	MaxVisits int
	// MaxSections stops discovery once this many sections are known.
	MaxSections int
}

// Summary reports what a completed (or interrupted) discovery run covered.
type Summary struct {
	RunID               string
	Resumed             bool
	NavigationVisited   int
	SectionsDiscovered  int
	OutOfScope          int
	UnreachableBranches int
	Elapsed             time.Duration
}

// Engine drives the breadth-first traversal. Discovery is deliberately a
// single flow: one fetch in flight at a time keeps the expansion order
// deterministic and the load on the catalog gentle.
type Engine struct {
	cfg        Config
	store      *frontier.Store
	gateway    fetch.Gateway
	classifier *classify.Classifier
	limiter    *ratelimit.Limiter
	policy     *retry.Policy
	emitter    progress.Emitter
	logger     *zap.Logger

	state State
}

// NewEngine wires the discovery dependencies together.
func NewEngine(cfg Config, store *frontier.Store, gw fetch.Gateway, cl *classify.Classifier, lim *ratelimit.Limiter, pol *retry.Policy, emitter progress.Emitter, logger *zap.Logger) *Engine {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Engine{
		cfg:        cfg,
		store:      store,
		gateway:    gw,
		classifier: cl,
		limiter:    lim,
		policy:     pol,
		emitter:    emitter,
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return e.state }

// Run executes the traversal until the frontier drains, a cap is hit, or ctx
// is cancelled. Cancellation checkpoints the frontier before returning so the
// next run resumes instead of restarting.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	if err := e.prepare(); err != nil {
		return Summary{}, err
	}
	resumed := e.state == StateResuming
	e.state = StateRunning
	e.emit(progress.Event{Stage: progress.StageRunStart})
	e.logger.Info("discovery started",
		zap.String("run_id", e.store.RunID()),
		zap.Bool("resumed", resumed),
		zap.Int("queued", e.store.QueueLen()))

	processed := 0
	var runErr error

loop:
	for {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if e.capped() {
			e.logger.Info("discovery cap reached, stopping early",
				zap.Int("max_visits", e.cfg.MaxVisits),
				zap.Int("max_sections", e.cfg.MaxSections))
			break
		}
		url, ok := e.store.Pop()
		if !ok {
			break
		}
		if e.store.IsVisited(url) {
			continue
		}
		switch e.classifier.Classify(url) {
		case classify.KindOutOfScope:
			if e.store.RecordOutOfScope(url) {
				e.emit(progress.Event{Stage: progress.StageOutOfScope, URL: url})
			}
			continue
		case classify.KindSection:
			// Sections never enter the queue, but a seed URL pointing at a
			// document is still honored.
			e.store.MarkVisited(url)
			if e.store.AddSection(url) {
				e.emit(progress.Event{Stage: progress.StageSectionFound, URL: url})
			}
			continue
		}

		e.store.MarkVisited(url)
		res, err := e.fetchWithRetry(ctx, url)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The abandoned fetch never expanded this page. Put it back
				// so the checkpoint resumes it instead of losing its subtree.
				e.store.Restore(url)
				runErr = err
				break loop
			}
			e.store.RecordUnreachable(url)
			e.emit(progress.Event{Stage: progress.StageBranchLost, URL: url, Note: err.Error()})
			continue
		}
		e.emit(progress.Event{Stage: progress.StagePageVisited, URL: url, Dur: res.Duration})
		e.expand(url, res.Body)

		processed++
		if e.cfg.CheckpointEvery > 0 && processed%e.cfg.CheckpointEvery == 0 {
			e.checkpoint()
		}
	}

	if err := e.checkpointFinal(); err != nil && runErr == nil {
		runErr = err
	}
	e.state = StateDrained
	summary := e.summary(resumed, time.Since(started))
	e.emit(progress.Event{Stage: progress.StageRunDone, Dur: summary.Elapsed})
	e.logger.Info("discovery finished",
		zap.Int("navigation_visited", summary.NavigationVisited),
		zap.Int("sections_discovered", summary.SectionsDiscovered),
		zap.Int("out_of_scope", summary.OutOfScope),
		zap.Int("unreachable_branches", summary.UnreachableBranches),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Error(runErr))
	e.state = StateClosed
	return summary, runErr
}

// prepare loads any checkpoint and seeds the frontier on a fresh start. A
// corrupt checkpoint is logged and discarded rather than aborting the run.
func (e *Engine) prepare() error {
	resumed, err := e.store.Load()
	switch {
	case errors.Is(err, frontier.ErrCorruptCheckpoint):
		e.logger.Warn("checkpoint unreadable, starting fresh", zap.Error(err))
	case err != nil:
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if resumed {
		e.state = StateResuming
		return nil
	}
	start, err := classify.NormalizeURL(e.cfg.StartURL)
	if err != nil {
		return fmt.Errorf("start url: %w", err)
	}
	e.store.Seed(start)
	e.state = StateFresh
	return nil
}

func (e *Engine) capped() bool {
	c := e.store.Counters()
	if e.cfg.MaxVisits > 0 && c.NavigationVisited >= e.cfg.MaxVisits {
		return true
	}
	if e.cfg.MaxSections > 0 && c.SectionsDiscovered >= e.cfg.MaxSections {
		return true
	}
	return false
}

// fetchWithRetry fetches url, retrying transient failures under the backoff
// policy. The rate limiter gates every attempt, retries included.
func (e *Engine) fetchWithRetry(ctx context.Context, url string) (fetch.Result, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return fetch.Result{}, err
		}
		res, err := e.gateway.Fetch(ctx, url)
		if err == nil {
			return res, nil
		}
		lastErr = err
		var fe *fetch.Error
		if errors.As(err, &fe) {
			metrics.FetchErrors.WithLabelValues(string(fe.Kind)).Inc()
		}
		if !fetch.IsTransient(err) || !e.policy.ShouldRetry(err, attempt+1) {
			return fetch.Result{}, lastErr
		}
		metrics.FetchRetries.Inc()
		e.logger.Debug("navigation fetch retry",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", e.policy.MaxAttempts()),
			zap.Error(err))
		if err := e.policy.Sleep(ctx, attempt); err != nil {
			return fetch.Result{}, err
		}
	}
}

// expand classifies every link on a fetched navigation page and routes it:
// navigation URLs join the frontier, sections are registered for extraction,
// and external-authority markers are recorded as out of scope. Links leaving
// the catalog host entirely (social widgets, help pages) are ignored.
func (e *Engine) expand(pageURL string, body []byte) {
	links, err := ExtractLinks(body, pageURL)
	if err != nil {
		e.logger.Warn("navigation page unparseable", zap.String("url", pageURL), zap.Error(err))
		return
	}
	for _, link := range links {
		switch e.classifier.Classify(link) {
		case classify.KindNavigation:
			if !e.store.IsVisited(link) {
				e.store.Enqueue(link)
			}
		case classify.KindSection:
			if e.store.AddSection(link) {
				e.emit(progress.Event{Stage: progress.StageSectionFound, URL: link})
			}
		case classify.KindOutOfScope:
			if !e.classifier.IsExternalAuthority(link) {
				continue
			}
			if e.store.RecordOutOfScope(link) {
				e.emit(progress.Event{Stage: progress.StageOutOfScope, URL: link})
			}
		}
	}
}

func (e *Engine) checkpoint() {
	e.state = StateCheckpointing
	defer func() { e.state = StateRunning }()
	if err := e.store.Checkpoint(); err != nil {
		e.logger.Error("checkpoint failed", zap.Error(err))
		return
	}
	e.emit(progress.Event{Stage: progress.StageCheckpointSaved})
}

func (e *Engine) checkpointFinal() error {
	if err := e.store.Checkpoint(); err != nil {
		e.logger.Error("final checkpoint failed", zap.Error(err))
		return err
	}
	e.emit(progress.Event{Stage: progress.StageCheckpointSaved})
	return nil
}

func (e *Engine) summary(resumed bool, elapsed time.Duration) Summary {
	c := e.store.Counters()
	return Summary{
		RunID:               e.store.RunID(),
		Resumed:             resumed,
		NavigationVisited:   c.NavigationVisited,
		SectionsDiscovered:  c.SectionsDiscovered,
		OutOfScope:          c.OutOfScope,
		UnreachableBranches: c.UnreachableBranches,
		Elapsed:             elapsed,
	}
}

func (e *Engine) emit(evt progress.Event) {
	evt.RunID = e.store.RunID()
	evt.TS = time.Now().UTC()
	e.emitter.Emit(evt)
}
