// Package delivery performs batch submission to the remote collector
// with a per-attempt timeout and bounded exponential-backoff retry.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

// Version is sent as the X-Client-Version header on every request.
const Version = "1.0.0"

// DefaultTimeout bounds a single attempt, not the whole retry sequence.
const DefaultTimeout = 30 * time.Second

// Client submits batches to the collector. It holds no state between
// calls beyond its configuration.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      RetryPolicy
	timeout    time.Duration
	log        *slog.Logger

	newRequestID func() string
	sleep        func(ctx context.Context, d time.Duration) error
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a delivery client for the given collector.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpClient:   &http.Client{},
		retry:        DefaultRetryPolicy(),
		timeout:      DefaultTimeout,
		log:          slog.Default(),
		newRequestID: uuid.NewString,
		sleep:        sleep,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SendBatch submits one batch and returns the collector's verdict.
func (c *Client) SendBatch(ctx context.Context, b *Batch) (*BatchResult, error) {
	body, err := c.Do(ctx, http.MethodPost, fmt.Sprintf("/api/%s/events/batch", c.apiKey), b)
	if err != nil {
		return nil, err
	}
	var env Envelope[BatchResult]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	if !env.Success || env.Data == nil {
		msg := "collector rejected batch"
		if env.Error != nil {
			msg = env.Error.Message
		}
		return nil, fmt.Errorf("batch %s: %s", b.ID, msg)
	}
	return env.Data, nil
}

// GetAnalytics fetches externally computed aggregates for the window.
// Either bound may be nil for an open interval.
func (c *Client) GetAnalytics(ctx context.Context, start, end *time.Time) (*AnalyticsReport, error) {
	q := url.Values{}
	if start != nil {
		q.Set("start", start.UTC().Format(time.RFC3339))
	}
	if end != nil {
		q.Set("end", end.UTC().Format(time.RFC3339))
	}
	path := fmt.Sprintf("/api/%s/analytics", c.apiKey)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	body, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var env Envelope[AnalyticsReport]
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode analytics response: %w", err)
	}
	if !env.Success || env.Data == nil {
		msg := "analytics request rejected"
		if env.Error != nil {
			msg = env.Error.Message
		}
		return nil, fmt.Errorf("analytics: %s", msg)
	}
	return env.Data, nil
}

// Do performs a request under the retry policy and returns the raw
// response body of the first successful attempt. Transport failures and
// non-2xx statuses retry alike.
//
// TODO: split retryable (5xx, transport) from non-retryable (4xx) once
// collectors advertise the distinction; today a bad API key burns the
// full retry budget.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for k := 0; ; k++ {
		data, err := c.attempt(ctx, method, path, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if k >= c.retry.MaxRetries {
			break
		}
		delay := c.retry.Delay(k)
		c.log.Debug("request failed, retrying",
			"method", method, "path", path, "attempt", k+1, "delay", delay, "error", err)
		if serr := c.sleep(ctx, delay); serr != nil {
			lastErr = serr
			break
		}
	}

	if httpErr, ok := lastErr.(*HTTPError); ok {
		return nil, httpErr
	}
	return nil, &NetworkError{Attempts: c.retry.MaxRetries + 1, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(actx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	requestID := c.newRequestID()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("X-Client-Version", Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{
			Status:    resp.StatusCode,
			Body:      string(data),
			RequestID: requestID,
		}
	}
	return data, nil
}
