// Package speech holds the clients for the speech-to-text and
// text-to-speech sidecars. Both speak HTTP JSON.
package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fluxion/voice-agent/pkg/logging"
)

var speechTracer = otel.Tracer("sara.internal.speech")

// ErrDisabled is returned when the sidecar URL is not configured.
var ErrDisabled = errors.New("speech: not configured")

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (string, error)
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Option configures a sidecar client.
type Option func(*client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *client) { c.httpClient = h }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *client) { c.logger = l }
}

type client struct {
	url        string
	httpClient *http.Client
	logger     *logging.Logger
}

func newClient(url string, opts []Option) client {
	c := client{url: strings.TrimRight(url, "/"), httpClient: &http.Client{Timeout: 10 * time.Second}}
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = logging.Default()
	}
	return c
}

func (c client) post(ctx context.Context, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("speech: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("speech: http request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("speech: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("speech: status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("speech: decode response: %w", err)
	}
	return nil
}

// STTClient calls the speech-to-text sidecar.
type STTClient struct {
	client
}

// NewSTTClient returns a client for url. An empty url yields a client
// whose calls fail with ErrDisabled.
func NewSTTClient(url string, opts ...Option) *STTClient {
	return &STTClient{client: newClient(url, opts)}
}

// Transcribe sends the audio base64 encoded and returns the Italian text.
func (c *STTClient) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if c == nil || c.url == "" {
		return "", ErrDisabled
	}
	ctx, span := speechTracer.Start(ctx, "speech.transcribe")
	defer span.End()
	span.SetAttributes(attribute.Int("audio.bytes", len(audio)))

	var out struct {
		Text string `json:"text"`
	}
	err := c.post(ctx, map[string]string{
		"audio_base64": base64.StdEncoding.EncodeToString(audio),
		"language":     "it",
	}, &out)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("transcription failed", "error", err)
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

// TTSClient calls the text-to-speech sidecar.
type TTSClient struct {
	client
}

// NewTTSClient returns a client for url. An empty url yields a client
// whose calls fail with ErrDisabled.
func NewTTSClient(url string, opts ...Option) *TTSClient {
	return &TTSClient{client: newClient(url, opts)}
}

// Synthesize returns the rendered audio for text.
func (c *TTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c == nil || c.url == "" {
		return nil, ErrDisabled
	}
	ctx, span := speechTracer.Start(ctx, "speech.synthesize")
	defer span.End()
	span.SetAttributes(attribute.Int("text.length", len(text)))

	var out struct {
		Audio string `json:"audio_base64"`
	}
	if err := c.post(ctx, map[string]string{"text": text, "language": "it"}, &out); err != nil {
		span.RecordError(err)
		c.logger.Warn("synthesis failed", "error", err)
		return nil, err
	}
	audio, err := base64.StdEncoding.DecodeString(out.Audio)
	if err != nil {
		return nil, fmt.Errorf("speech: decode audio: %w", err)
	}
	return audio, nil
}
