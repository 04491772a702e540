package fetch

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// CollyConfig controls the plain-HTTP gateway.
type CollyConfig struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyGateway implements Gateway with a Colly collector. Each Fetch clones
// the base collector so per-request hooks never leak between calls.
type CollyGateway struct {
	cfg           CollyConfig
	baseCollector *colly.Collector
}

// NewColly builds an HTTP gateway.
func NewColly(cfg CollyConfig) *CollyGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	// The harvester asks for the same page more than once during recovery.
	c.AllowURLRevisit = true
	return &CollyGateway{cfg: cfg, baseCollector: c}
}

// Fetch executes a single GET and maps failures into the gateway taxonomy.
func (g *CollyGateway) Fetch(ctx context.Context, url string) (Result, error) {
	collector := g.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if g.cfg.UserAgent != "" {
		collector.UserAgent = g.cfg.UserAgent
	}
	collector.SetRequestTimeout(g.cfg.Timeout)
	collector.IgnoreRobotsTxt = false

	var (
		result   Result
		respCode int
		fetchErr error
	)
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		result = Result{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			respCode = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return Result{}, &Error{Kind: KindTimeout, URL: url, Err: ctx.Err()}
	case visitErr := <-done:
		if fetchErr == nil && visitErr != nil {
			fetchErr = visitErr
		}
	}
	if fetchErr != nil {
		return Result{}, classifyTransportError(url, respCode, fetchErr)
	}
	if result.StatusCode != http.StatusOK {
		return Result{}, &Error{Kind: KindHTTPStatus, URL: url, StatusCode: result.StatusCode}
	}
	return result, nil
}

func classifyTransportError(url string, statusCode int, err error) *Error {
	if statusCode != 0 {
		return &Error{Kind: KindHTTPStatus, URL: url, StatusCode: statusCode, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	return &Error{Kind: KindConnectionFailed, URL: url, Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
