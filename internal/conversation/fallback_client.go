package conversation

import (
	"context"

	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// FallbackLLMClient wraps a primary LLM client with a fallback provider.
// If the primary fails, it retries once with the fallback.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
	metrics  *metrics.VoiceMetrics
}

// NewFallbackLLMClient creates a fallback-enabled LLM client. If fallback
// is nil, the client only uses the primary provider.
func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger, m *metrics.VoiceMetrics) *FallbackLLMClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		metrics:  m,
	}
}

// Complete sends the request to the primary, then to the fallback when the
// primary fails and the turn deadline has not passed.
func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	c.metrics.ObserveLLM(providerOf(resp, "primary"), err)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil || ctx.Err() != nil {
		return LLMResponse{}, err
	}

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	c.metrics.ObserveLLM(providerOf(fallbackResp, "fallback"), fallbackErr)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return LLMResponse{}, fallbackErr
	}

	c.logger.Info("fallback LLM succeeded after primary failure", "provider", fallbackResp.Provider)
	return fallbackResp, nil
}

func providerOf(resp LLMResponse, def string) string {
	if resp.Provider != "" {
		return resp.Provider
	}
	return def
}
