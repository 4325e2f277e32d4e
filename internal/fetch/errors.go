package fetch

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorKind classifies a fetch failure for retry decisions.
type ErrorKind string

const (
	// KindTransient covers connection resets, timeouts and DNS failures.
	KindTransient ErrorKind = "transient"
	// KindRateLimited is a 429; RetryAfter carries the server's hint.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnauthorized is a 401; the fetcher refreshes the token once.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindClient is any other 4xx; never retried.
	KindClient ErrorKind = "client"
	// KindServer is a 5xx; retried like a transient failure.
	KindServer ErrorKind = "server"
)

// Error is a classified fetch failure.
type Error struct {
	Kind       ErrorKind
	Status     int
	URL        string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Kind, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is worth another attempt.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindRateLimited, KindServer:
		return true
	}
	return false
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status >= 500:
		return KindServer
	default:
		return KindClient
	}
}

// parseRetryAfter handles both delta-seconds and HTTP-date forms. Zero means
// the header was absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
