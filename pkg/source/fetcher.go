package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/config"
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 16 * units.MiB

// DefaultUserAgents are rotated across requests when a source sets none.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

// Fetcher retrieves documents with retry and politeness applied.
type Fetcher interface {
	// Get returns the response body of url. Failures after the last attempt
	// are returned as *FetchError.
	Get(ctx context.Context, url string) ([]byte, error)
}

// Compile-time interface check.
var _ Fetcher = (*httpFetcher)(nil)

type httpFetcher struct {
	log     logrus.FieldLogger
	client  *http.Client
	policy  config.FetchPolicy
	limiter *rate.Limiter
	agents  []string
	next    atomic.Uint64
}

// NewFetcher creates a Fetcher. A nil client uses http.DefaultClient.
func NewFetcher(
	log logrus.FieldLogger,
	policy config.FetchPolicy,
	client *http.Client,
) Fetcher {
	if client == nil {
		client = http.DefaultClient
	}

	agents := policy.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}

	return &httpFetcher{
		log:     log.WithField("component", "fetcher"),
		client:  client,
		policy:  policy,
		limiter: rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), policy.Burst),
		agents:  agents,
	}
}

// Get implements Fetcher.
func (f *httpFetcher) Get(ctx context.Context, url string) ([]byte, error) {
	var (
		body     []byte
		attempts int
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.policy.InitialBackoff
	b.MaxInterval = f.policy.MaxBackoff
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(
		backoff.WithMaxRetries(b, uint64(f.policy.MaxAttempts-1)),
		ctx,
	)

	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attempts++

		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		data, err := f.do(ctx, url)
		if err != nil {
			if !f.retryable(ctx, err) {
				return backoff.Permanent(err)
			}

			return err
		}

		body = data

		return nil
	}

	notify := func(err error, delay time.Duration) {
		f.log.WithError(err).WithFields(logrus.Fields{
			"url":     url,
			"attempt": attempts,
			"delay":   delay,
		}).Debug("Request failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, &FetchError{URL: url, Attempts: attempts, Err: err}
	}

	return body, nil
}

func (f *httpFetcher) do(ctx context.Context, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, f.policy.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("building request: %w", err))
	}

	req.Header.Set("User-Agent", f.userAgent())
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-ZA,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*units.KiB))

		return nil, &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	return data, nil
}

// retryable treats transport errors and per-attempt timeouts as transient.
// Cancellation of the caller's context never is.
func (f *httpFetcher) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}

	return true
}

func (f *httpFetcher) userAgent() string {
	n := f.next.Add(1) - 1

	return f.agents[n%uint64(len(f.agents))]
}
