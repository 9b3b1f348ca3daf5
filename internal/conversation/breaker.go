package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// Breaker thresholds: five consecutive failures open the circuit for 30 s,
// then a single trial call is admitted.
const (
	BreakerFailures    = 5
	BreakerOpenTimeout = 30 * time.Second
	breakerHalfOpenMax = 1
)

// ErrBreakerOpen is returned while the LLM circuit rejects calls.
var ErrBreakerOpen = errors.New("conversation: llm circuit open")

// BreakerLLMClient guards an LLMClient with a circuit breaker.
type BreakerLLMClient struct {
	next LLMClient
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerLLMClient wraps next. name labels the breaker_state gauge.
func NewBreakerLLMClient(name string, next LLMClient, logger *logging.Logger, m *metrics.VoiceMetrics) *BreakerLLMClient {
	if logger == nil {
		logger = logging.Default()
	}
	m.SetBreakerState(name, metrics.BreakerClosed)
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: breakerHalfOpenMax,
		Timeout:     BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= BreakerFailures
		},
		// A caller hanging up is not a provider failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("llm breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			m.SetBreakerState(name, breakerGauge(to))
		},
	}
	return &BreakerLLMClient{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return LLMResponse{}, ErrBreakerOpen
	}
	if err != nil {
		return LLMResponse{}, err
	}
	return out.(LLMResponse), nil
}

// State exposes the breaker state for the status endpoint.
func (b *BreakerLLMClient) State() string { return b.cb.State().String() }

func breakerGauge(s gobreaker.State) int {
	switch s {
	case gobreaker.StateOpen:
		return metrics.BreakerOpen
	case gobreaker.StateHalfOpen:
		return metrics.BreakerHalfOpen
	}
	return metrics.BreakerClosed
}
