package http

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError indicates the upstream refused the request because of its
// request rate (429 or 503) or, for 403, a likely anti-bot block.
type RateLimitError struct {
	StatusCode     int
	RetryAfter     time.Duration
	IsBotDetection bool
}

func (e *RateLimitError) Error() string {
	if e.IsBotDetection {
		return fmt.Sprintf("blocked by upstream (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (status %d): retry after %v", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited (status %d)", e.StatusCode)
}

// HTTPError is a non-2xx response that is not a rate limit.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *HTTPError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("http error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("http error: %s: status %d", e.URL, e.StatusCode)
}

var (
	// ErrCircuitOpen is returned while a host's circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrUnsupportedProxy is returned for proxy URLs with an unknown scheme.
	ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

	// ErrMalformedJSON is returned by GetJSON when a 2xx body does not decode.
	ErrMalformedJSON = errors.New("malformed json response")
)
