// Package bridge talks to the business bridge: the HTTP JSON service that
// owns customers, operators, appointments, the waitlist, dynamic settings
// and the remote copy of voice sessions.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/pkg/logging"
)

const (
	defaultBaseURL    = "http://127.0.0.1:3001"
	defaultTimeout    = 10 * time.Second
	defaultRetryDelay = 200 * time.Millisecond
	maxBodyLog        = 300
)

var bridgeTracer = otel.Tracer("sara.internal.bridge")

var (
	// ErrPermanent is matched by every failure a retry cannot fix.
	ErrPermanent = errors.New("bridge: permanent failure")
	// ErrNotFound is returned when the bridge answers 404.
	ErrNotFound = errors.New("bridge: not found")
)

// StatusError is a non-2xx answer, or a 2xx answer that broke the contract.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge: status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether a retry could succeed.
func (e *StatusError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case !e.Transient():
		return ErrPermanent
	}
	return nil
}

// RejectedError is a well-formed refusal ("success": false).
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string   { return "bridge: rejected: " + e.Message }
func (e *RejectedError) Transient() bool { return false }
func (e *RejectedError) Unwrap() error   { return ErrPermanent }

// IsTransient reports whether err is a network failure or a 5xx/429 that is
// worth retrying.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	return !errors.Is(err, ErrPermanent)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) { c.retryDelay = d }
}

// WithMetrics records every call outcome.
func WithMetrics(m *metrics.VoiceMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is the bridge HTTP client. Transient failures are retried once.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryDelay time.Duration
	logger     *logging.Logger
	metrics    *metrics.VoiceMetrics
}

// NewClient builds a Client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		retryDelay: defaultRetryDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	return c
}

// doJSON performs one call with a single retry on transient failures.
// endpoint is a short metric label.
func (c *Client) doJSON(ctx context.Context, endpoint, method, path string, body, out any) error {
	ctx, span := bridgeTracer.Start(ctx, "bridge."+endpoint)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", method), attribute.String("bridge.path", path))

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("bridge: marshal request: %w", err)
		}
	}

	attempts := 0
	op := func() error {
		attempts++
		err := c.once(ctx, method, path, payload, out)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), 1), ctx)
	err := backoff.Retry(op, policy)

	c.metrics.ObserveBridge(endpoint, err)
	span.SetAttributes(attribute.Int("bridge.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bridge call failed")
		c.logger.Warn("bridge call failed", "endpoint", endpoint, "attempts", attempts, "transient", IsTransient(err), "error", err)
	}
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("bridge: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("bridge: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(respBody))}
	}
	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &StatusError{StatusCode: resp.StatusCode, Body: "decode response: " + err.Error()}
	}
	return nil
}

func truncate(s string) string {
	if len(s) > maxBodyLog {
		return s[:maxBodyLog]
	}
	return s
}
