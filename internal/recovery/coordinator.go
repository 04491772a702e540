// Package recovery runs the extraction phase: bounded multi-pass processing
// of discovered sections until every one of them carries a terminal outcome.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/regsdata/calregs-harvester/internal/extract"
	"github.com/regsdata/calregs-harvester/internal/fetch"
	"github.com/regsdata/calregs-harvester/internal/frontier"
	"github.com/regsdata/calregs-harvester/internal/metrics"
	"github.com/regsdata/calregs-harvester/internal/output"
	"github.com/regsdata/calregs-harvester/internal/progress"
	"github.com/regsdata/calregs-harvester/internal/ratelimit"
)

// Config tunes the extraction coordinator.
type Config struct {
	// Workers is the number of concurrent fetch+parse workers.
	Workers int
	// MaxAttempts bounds how many times a section may fail transiently
	// before it is recorded as terminally failed.
	MaxAttempts int
	// MaxPasses bounds the recovery sweeps over still-pending sections.
	MaxPasses int
	// CheckpointEvery persists the frontier after this many merged
	// outcomes. Zero checkpoints only at pass boundaries.
	CheckpointEvery int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = 3
	}
	return c
}

// Summary reports what the extraction phase resolved.
type Summary struct {
	Passes            int
	Succeeded         int
	ExternalRedirects int
	Failed            int
	Remaining         int
	Elapsed           time.Duration
}

// Coordinator claims pending sections from the frontier, fans them out to
// workers, and serializes all outcome merging through a single loop so the
// store and the output file see one writer.
type Coordinator struct {
	cfg       Config
	store     *frontier.Store
	gateway   fetch.Gateway
	extractor *extract.Extractor
	out       output.Store
	limiter   *ratelimit.Limiter
	emitter   progress.Emitter
	logger    *zap.Logger

	merged int
}

// NewCoordinator wires the extraction dependencies together.
func NewCoordinator(cfg Config, store *frontier.Store, gw fetch.Gateway, ex *extract.Extractor, out output.Store, lim *ratelimit.Limiter, emitter progress.Emitter, logger *zap.Logger) *Coordinator {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Coordinator{
		cfg:       cfg.withDefaults(),
		store:     store,
		gateway:   gw,
		extractor: ex,
		out:       out,
		limiter:   lim,
		emitter:   emitter,
		logger:    logger,
	}
}

// passResult carries one worker's verdict to the merge loop.
type passResult struct {
	url      string
	fetchErr error
	outcome  extract.Outcome
	dur      time.Duration
}

// Run executes recovery passes until no claimable section remains or the
// pass bound is hit, then converts exhausted sections into terminal Failed
// records. On a set where every section is already terminal it performs zero
// fetches and zero writes.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	started := time.Now()
	var runErr error

	passes := 0
	for pass := 1; pass <= c.cfg.MaxPasses; pass++ {
		claimed := c.store.ClaimPending(c.cfg.MaxAttempts)
		if len(claimed) == 0 {
			break
		}
		passes = pass
		c.emit(progress.Event{Stage: progress.StagePassStart, Pass: pass, Note: fmt.Sprintf("%d sections", len(claimed))})
		c.logger.Info("extraction pass started",
			zap.Int("pass", pass),
			zap.Int("claimed", len(claimed)))

		err := c.runPass(ctx, claimed)
		c.store.ReleaseClaims()
		if err := c.store.Checkpoint(); err != nil {
			c.logger.Error("pass checkpoint failed", zap.Error(err))
		} else {
			c.emit(progress.Event{Stage: progress.StageCheckpointSaved})
		}
		c.emit(progress.Event{Stage: progress.StagePassDone, Pass: pass})
		if err != nil {
			runErr = err
			break
		}
	}

	if runErr == nil {
		c.failExhausted(ctx)
		if err := c.store.Checkpoint(); err != nil {
			c.logger.Error("final checkpoint failed", zap.Error(err))
			runErr = err
		} else {
			c.emit(progress.Event{Stage: progress.StageCheckpointSaved})
		}
	}

	summary := c.summarize(passes, time.Since(started))
	c.logger.Info("extraction finished",
		zap.Int("passes", summary.Passes),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("external_redirects", summary.ExternalRedirects),
		zap.Int("failed", summary.Failed),
		zap.Int("remaining", summary.Remaining),
		zap.Duration("elapsed", summary.Elapsed),
		zap.Error(runErr))
	return summary, runErr
}

// runPass processes one claimed batch with a worker pool. The merge loop in
// the current goroutine is the only writer of store transitions and output
// records during the pass.
func (c *Coordinator) runPass(ctx context.Context, urls []string) error {
	jobs := make(chan string)
	results := make(chan passResult)

	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, jobs, results)
		}()
	}
	go func() {
		defer close(jobs)
		for _, url := range urls {
			select {
			case jobs <- url:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	for res := range results {
		c.merge(ctx, res)
	}
	return ctx.Err()
}

func (c *Coordinator) worker(ctx context.Context, jobs <-chan string, results chan<- passResult) {
	for url := range jobs {
		metrics.ActiveWorkers.Inc()
		res := c.process(ctx, url)
		metrics.ActiveWorkers.Dec()
		select {
		case results <- res:
		case <-ctx.Done():
			return
		}
	}
}

// process fetches and parses one section. Parsing happens here so it
// parallelizes; only the verdict goes back to the merge loop.
func (c *Coordinator) process(ctx context.Context, url string) passResult {
	if err := c.limiter.Wait(ctx); err != nil {
		return passResult{url: url, fetchErr: err}
	}
	res, err := c.gateway.Fetch(ctx, url)
	if err != nil {
		var fe *fetch.Error
		if errors.As(err, &fe) {
			metrics.FetchErrors.WithLabelValues(string(fe.Kind)).Inc()
		}
		return passResult{url: url, fetchErr: err}
	}
	metrics.PagesFetched.WithLabelValues("section").Inc()
	return passResult{url: url, outcome: c.extractor.Extract(res.Body, url), dur: res.Duration}
}

// merge applies one worker verdict. Transient failures burn an attempt;
// permanent ones transition the section immediately.
func (c *Coordinator) merge(ctx context.Context, res passResult) {
	if err := res.fetchErr; err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			// Claim releases at the pass boundary; the section stays pending.
		case fetch.IsNotFound(err):
			c.terminal(ctx, res.url, frontier.StatusFailed, "document not found (404)", nil)
		case fetch.IsTransient(err):
			c.attempt(ctx, res.url, err.Error())
		default:
			c.terminal(ctx, res.url, frontier.StatusFailed, err.Error(), nil)
		}
		return
	}

	switch res.outcome.Kind {
	case extract.OutcomeSuccess:
		c.terminal(ctx, res.url, frontier.StatusSuccess, "", res.outcome.Record)
	case extract.OutcomeExternalRedirect:
		c.terminal(ctx, res.url, frontier.StatusExternalRedirect, "", res.outcome.Record)
	default:
		// A parse failure on a server-rendered page is usually an interstitial
		// or throttling response, so it is retried like a transient fetch.
		c.attempt(ctx, res.url, res.outcome.Reason)
	}
}

func (c *Coordinator) attempt(ctx context.Context, url, reason string) {
	attempts := c.store.RecordAttempt(url, reason)
	if attempts == 0 {
		return
	}
	c.logger.Debug("section attempt failed",
		zap.String("url", url),
		zap.Int("attempts", attempts),
		zap.String("reason", reason))
	if attempts >= c.cfg.MaxAttempts {
		c.terminal(ctx, url, frontier.StatusFailed, reason, nil)
	}
}

// terminal transitions a section and writes its outcome record. The store's
// first-transition-wins rule plus the output store's key dedupe give the
// at-most-once write guarantee.
func (c *Coordinator) terminal(ctx context.Context, url string, status frontier.Status, reason string, rec *extract.Record) {
	if !c.store.RecordTerminal(url, status, reason) {
		return
	}
	sec, _ := c.store.Section(url)

	out := output.Record{
		Kind:          kindFor(status),
		URL:           url,
		FailureReason: reason,
		Attempts:      sec.Attempts,
		RunID:         c.store.RunID(),
		RecordedAt:    time.Now().UTC(),
	}
	if rec != nil {
		out.GUID = rec.GUID
		out.Section = rec
	}
	written, err := c.out.Append(ctx, out)
	if err != nil {
		c.logger.Error("outcome write failed", zap.String("url", url), zap.Error(err))
	} else if !written {
		c.logger.Debug("outcome already recorded", zap.String("url", url), zap.String("key", out.Key()))
	}

	c.emit(progress.Event{Stage: progress.StageOutcome, URL: url, Outcome: string(out.Kind)})

	c.merged++
	if c.cfg.CheckpointEvery > 0 && c.merged%c.cfg.CheckpointEvery == 0 {
		if err := c.store.Checkpoint(); err != nil {
			c.logger.Error("periodic checkpoint failed", zap.Error(err))
		} else {
			c.emit(progress.Event{Stage: progress.StageCheckpointSaved})
		}
	}
}

// failExhausted sweeps sections that burned every attempt without a terminal
// outcome and records them as failed. This also covers attempt counts
// restored from an older checkpoint.
func (c *Coordinator) failExhausted(ctx context.Context) {
	for _, sec := range c.store.Exhausted(c.cfg.MaxAttempts) {
		reason := sec.LastError
		if reason == "" {
			reason = "retry attempts exhausted"
		}
		c.terminal(ctx, sec.URL, frontier.StatusFailed, reason, nil)
	}
}

func (c *Coordinator) summarize(passes int, elapsed time.Duration) Summary {
	s := Summary{Passes: passes, Elapsed: elapsed}
	for _, sec := range c.store.Sections() {
		switch sec.Status {
		case frontier.StatusSuccess:
			s.Succeeded++
		case frontier.StatusExternalRedirect:
			s.ExternalRedirects++
		case frontier.StatusFailed:
			s.Failed++
		default:
			s.Remaining++
		}
	}
	return s
}

func kindFor(status frontier.Status) output.Kind {
	switch status {
	case frontier.StatusSuccess:
		return output.KindSuccess
	case frontier.StatusExternalRedirect:
		return output.KindExternalRedirect
	default:
		return output.KindFailed
	}
}

func (c *Coordinator) emit(evt progress.Event) {
	evt.RunID = c.store.RunID()
	evt.TS = time.Now().UTC()
	c.emitter.Emit(evt)
}
