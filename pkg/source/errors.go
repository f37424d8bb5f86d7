package source

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSourceUnavailable marks a failure that ends the whole source task,
	// such as an unreachable catalog root.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrUnknownSource is returned for names not present in the registry.
	ErrUnknownSource = errors.New("unknown source")
)

// FetchError is a page-level failure after retries were exhausted. It is
// not fatal to the source.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ParseError is returned by Adapter.Parse for a malformed item.
type ParseError struct {
	Source string
	Ref    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parsing %s item %s: %s", e.Source, e.Ref, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// StatusError is an HTTP response outside the 2xx/3xx range.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Code, http.StatusText(e.Code))
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// unavailable wraps err so that errors.Is(err, ErrSourceUnavailable) holds.
func unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}
