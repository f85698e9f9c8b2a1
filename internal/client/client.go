// Package client implements the upstream API client for the four endpoint
// families: home/categories, category listing pages, product detail and
// review pages. All requests are GETs returning JSON.
//
// The client distinguishes two failure layers. Connection-level failures are
// retried immediately (3 attempts, linear 50ms backoff); retryable HTTP
// statuses (429, 500, 502, 503, 504) are retried with exponential backoff up
// to the configured budget. Everything that survives both layers without a
// usable payload collapses into a soft failure: a (nil, nil, nil) return that
// callers must treat as "no data", never as an error.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/masahif/kaitadoru/internal/config"
	"github.com/masahif/kaitadoru/internal/metrics"
	"github.com/masahif/kaitadoru/internal/retry"
)

// Metadata captures response details for provenance alongside each payload.
type Metadata struct {
	HTTPStatus int
	ElapsedMS  int64
	URL        string
}

// Client issues requests against the upstream catalog API.
type Client struct {
	httpClient *http.Client
	endpoints  config.Endpoints
	userAgent  string
	pageSize   int
	pacer      *Pacer
	metrics    *metrics.Metrics

	transportRetry retry.Policy
	statusRetry    retry.Policy

	requestCount atomic.Int64
}

// statusError marks a retryable HTTP status.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.code)
}

// fatalError carries a context error out of the retry loops untouched.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

var (
	errConnExhausted = errors.New("connection retries exhausted")
	errBadStatus     = errors.New("non-retryable status")
	errBadPayload    = errors.New("payload is not valid JSON")
)

// New creates a client from the harvester configuration.
func New(cfg *config.Config, m *metrics.Metrics) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	c := &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.RequestTimeout,
		},
		endpoints: cfg.Endpoints,
		userAgent: cfg.UserAgent,
		pageSize:  cfg.ReviewPageSize,
		pacer:     NewPacer(cfg.RequestDelay),
		metrics:   m,
	}

	c.transportRetry = retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Linear(50 * time.Millisecond),
		OnRetry:     m.IncRetry,
	}
	c.statusRetry = retry.Policy{
		MaxAttempts: cfg.MaxRetries + 1,
		Backoff:     retry.Exponential(500 * time.Millisecond),
		Retryable: func(err error) bool {
			var se *statusError
			return errors.As(err, &se)
		},
		OnRetry: m.IncRetry,
	}

	return c
}

// Home fetches the home/category payload.
func (c *Client) Home(ctx context.Context) (json.RawMessage, *Metadata, error) {
	return c.get(ctx, "home", c.endpoints.Home)
}

// ListingPage fetches one page of a category's product listing.
func (c *Client) ListingPage(ctx context.Context, categoryID int64, page int) (json.RawMessage, *Metadata, error) {
	return c.get(ctx, "listing", fmt.Sprintf(c.endpoints.Listing, categoryID, page))
}

// ProductDetail fetches the full detail payload for one product.
func (c *Client) ProductDetail(ctx context.Context, productID int64) (json.RawMessage, *Metadata, error) {
	return c.get(ctx, "product", fmt.Sprintf(c.endpoints.Product, productID))
}

// ReviewPage fetches one page of a product's reviews.
func (c *Client) ReviewPage(ctx context.Context, productID int64, page int) (json.RawMessage, *Metadata, error) {
	return c.get(ctx, "review", fmt.Sprintf(c.endpoints.Review, productID, page, c.pageSize))
}

// RequestCount returns the number of successful requests issued so far.
func (c *Client) RequestCount() int64 {
	return c.requestCount.Load()
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// get runs the two retry layers and applies the soft-failure contract.
func (c *Client) get(ctx context.Context, endpoint, url string) (json.RawMessage, *Metadata, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, nil, err
	}

	var payload json.RawMessage
	var meta *Metadata

	err := c.statusRetry.Do(ctx, func() error {
		status, body, elapsed, err := c.attempt(ctx, url)
		if err != nil {
			if ctx.Err() != nil {
				return &fatalError{ctx.Err()}
			}
			return fmt.Errorf("%w: %w", errConnExhausted, err)
		}

		c.metrics.ObserveDuration(elapsed)

		if isRetryableStatus(status) {
			return &statusError{code: status}
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("%w: %d", errBadStatus, status)
		}
		if !json.Valid(body) {
			return errBadPayload
		}

		payload = body
		meta = &Metadata{
			HTTPStatus: status,
			ElapsedMS:  elapsed.Milliseconds(),
			URL:        url,
		}
		return nil
	})

	if err != nil {
		var fatal *fatalError
		if errors.As(err, &fatal) {
			return nil, nil, fatal.err
		}
		// Network-down, bad status and malformed payloads are all the same
		// outcome to callers: no data this time.
		c.metrics.IncSoftFailure(endpoint)
		return nil, nil, nil
	}

	c.requestCount.Add(1)
	c.metrics.IncRequest(endpoint)
	return payload, meta, nil
}

// attempt performs one transport-retried request and reads the full body.
func (c *Client) attempt(ctx context.Context, url string) (status int, body []byte, elapsed time.Duration, err error) {
	start := time.Now()
	err = c.transportRetry.Do(ctx, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Accept-Language", "vi-VN,vi;q=0.9,en;q=0.8")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		defer func() { _ = resp.Body.Close() }()

		b, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return readErr
		}

		status = resp.StatusCode
		body = b
		return nil
	})
	elapsed = time.Since(start)
	return status, body, elapsed, err
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
