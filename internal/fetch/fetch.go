// Package fetch defines the gateway contract for retrieving catalog pages and
// the typed failure taxonomy the rest of the pipeline routes on.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Result is the raw markup returned by a gateway.
type Result struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// ErrorKind discriminates gateway failures.
type ErrorKind string

// Gateway failure kinds. Timeout and ConnectionFailed are transient;
// HTTPStatus carries the response code so callers can separate not-found from
// server-side trouble.
const (
	KindTimeout          ErrorKind = "timeout"
	KindConnectionFailed ErrorKind = "connection_failed"
	KindHTTPStatus       ErrorKind = "http_status"
)

// Error is a typed fetch failure.
type Error struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: http status %d", e.URL, e.StatusCode)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Gateway retrieves one page. Implementations are responsible only for
// transport; retry, pacing, and classification live with the callers.
type Gateway interface {
	Fetch(ctx context.Context, url string) (Result, error)
}

// IsTransient reports whether err is worth another attempt: timeouts,
// connection failures, and throttling or server-side HTTP statuses.
func IsTransient(err error) bool {
	var fe *Error
	if !errors.As(err, &fe) {
		return false
	}
	switch fe.Kind {
	case KindTimeout, KindConnectionFailed:
		return true
	case KindHTTPStatus:
		return fe.StatusCode == http.StatusTooManyRequests || fe.StatusCode >= 500
	}
	return false
}

// IsNotFound reports a permanent not-found rejection.
func IsNotFound(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == KindHTTPStatus && fe.StatusCode == http.StatusNotFound
}
