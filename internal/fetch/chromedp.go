package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// HeadlessConfig controls the browser-backed gateway.
type HeadlessConfig struct {
	UserAgent         string
	NavigationTimeout time.Duration
	MaxParallel       int
}

// HeadlessGateway renders pages in headless Chrome before returning markup.
// The catalog serves section text through client-side scripts, so the plain
// HTTP gateway sees empty shells on some pages; this one sees what a reader
// sees.
type HeadlessGateway struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadless starts a shared browser allocator.
func NewHeadless(cfg HeadlessConfig) (*HeadlessGateway, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessGateway{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close tears down the browser allocator.
func (g *HeadlessGateway) Close() {
	g.allocCancel()
}

// Fetch navigates to url and returns the rendered DOM.
func (g *HeadlessGateway) Fetch(ctx context.Context, url string) (Result, error) {
	if err := g.acquire(ctx); err != nil {
		return Result{}, &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	defer g.release()

	taskCtx, taskCancel := chromedp.NewContext(g.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, g.cfg.NavigationTimeout)
	defer cancel()

	// Abandon the navigation if the caller gives up first.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	start := time.Now()
	var html string
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || taskCtx.Err() != nil {
			return Result{}, &Error{Kind: KindTimeout, URL: url, Err: err}
		}
		return Result{}, &Error{Kind: KindConnectionFailed, URL: url, Err: err}
	}

	return Result{
		URL:        url,
		StatusCode: 200,
		Body:       []byte(html),
		Duration:   time.Since(start),
	}, nil
}

func (g *HeadlessGateway) acquire(ctx context.Context) error {
	if g.limiter == nil {
		return nil
	}
	select {
	case g.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *HeadlessGateway) release() {
	if g.limiter != nil {
		<-g.limiter
	}
}
