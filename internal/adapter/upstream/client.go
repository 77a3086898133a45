// Package upstream holds the HTTP plumbing shared by the geocoding and
// forecast adapters: bounded timeouts, error classification, and retry with
// exponential backoff.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// ErrMalformed marks a response body that could not be decoded.
var ErrMalformed = errors.New("malformed response")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// Retryable reports whether err is transient: network timeouts and
// connection failures, HTTP 429, and HTTP 5xx. Cancellation, other HTTP
// errors, and malformed payloads are not retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrMalformed) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}

// RetryPolicy bounds the retry loop. MaxRetries counts retries after the
// first attempt.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         float64 // each wait is randomized by up to this fraction either way
}

// DefaultRetryPolicy retries up to 3 times, backing off from 10s to at most
// 30s, each wait randomized by up to 10%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: 10 * time.Second, MaxBackoff: 30 * time.Second, Jitter: 0.1}
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialBackoff,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.MaxBackoff,
	}
}

// NewHTTPClient builds a client whose connect and response phases are each
// bounded by their own timeout.
func NewHTTPClient(connectTimeout, responseTimeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: responseTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   connectTimeout + responseTimeout,
	}
}

// Requester issues JSON GET requests against one upstream API.
type Requester struct {
	API            string // metric label, e.g. "geocode"
	HTTPClient     *http.Client
	UserAgent      string
	AcceptLanguage string
	Retry          RetryPolicy
	Logger         *slog.Logger
	Metrics        *observability.Metrics
}

// GetJSON fetches url and decodes the body into dst, retrying transient
// failures according to the retry policy.
func (r *Requester) GetJSON(ctx context.Context, url string, dst any) error {
	start := time.Now()
	defer func() {
		r.Metrics.UpstreamDuration.WithLabelValues(r.API).Observe(time.Since(start).Seconds())
	}()

	operation := func() (struct{}, error) {
		err := r.attempt(ctx, url, dst)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case !Retryable(err):
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.Retry.backOff()),
		backoff.WithMaxTries(uint(r.Retry.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.Metrics.UpstreamRequests.WithLabelValues(r.API, "retry").Inc()
			r.Logger.Warn("upstream request failed, retrying",
				"api", r.API,
				"backoff", next,
				"error", err,
			)
		}),
	)
	if err != nil {
		r.Metrics.UpstreamRequests.WithLabelValues(r.API, "error").Inc()
		return fmt.Errorf("%s request: %w", r.API, err)
	}
	r.Metrics.UpstreamRequests.WithLabelValues(r.API, "success").Inc()
	return nil
}

func (r *Requester) attempt(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}
	if r.AcceptLanguage != "" {
		req.Header.Set("Accept-Language", r.AcceptLanguage)
	}

	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
