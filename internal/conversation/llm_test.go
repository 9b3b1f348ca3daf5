package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxion/voice-agent/internal/domain"
	"github.com/fluxion/voice-agent/internal/observability/metrics"
	"github.com/fluxion/voice-agent/pkg/logging"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	out   *bedrockruntime.ConverseOutput
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, in *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestBedrockComplete(t *testing.T) {
	api := &fakeConverse{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: " Siamo aperti fino alle 19. "}},
		}},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(40), OutputTokens: aws.Int32(8), TotalTokens: aws.Int32(48)},
	}}
	client := NewBedrockLLMClient(api, "anthropic.claude-haiku")

	resp, err := client.Complete(context.Background(), LLMRequest{
		System: []string{"Sei Sara.", ""},
		Messages: []ChatMessage{
			{Role: ChatRoleUser, Content: "buongiorno"},
			{Role: ChatRoleAssistant, Content: "Buongiorno, come posso aiutarla?"},
			{Role: ChatRoleUser, Content: "fino a che ora siete aperti?"},
		},
		MaxTokens:   200,
		Temperature: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Siamo aperti fino alle 19.", resp.Text)
	assert.Equal(t, "bedrock", resp.Provider)
	assert.Equal(t, int32(48), resp.Usage.TotalTokens)

	require.NotNil(t, api.input)
	assert.Equal(t, "anthropic.claude-haiku", aws.ToString(api.input.ModelId))
	assert.Len(t, api.input.System, 1)
	assert.Len(t, api.input.Messages, 3)
	assert.Equal(t, int32(200), aws.ToInt32(api.input.InferenceConfig.MaxTokens))
}

func TestBedrockRejectsEmptyConversation(t *testing.T) {
	client := NewBedrockLLMClient(&fakeConverse{}, "model")
	_, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "  "}}})
	assert.Error(t, err)
}

func TestBedrockWrapsProviderError(t *testing.T) {
	client := NewBedrockLLMClient(&fakeConverse{err: errors.New("throttled")}, "model")
	_, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "ciao"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

type scriptedLLM struct {
	calls int
	errs  []error
	resp  LLMResponse
}

func (s *scriptedLLM) Complete(context.Context, LLMRequest) (LLMResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return LLMResponse{}, s.errs[i]
	}
	return s.resp, nil
}

func TestFallbackClientUsesSecondaryOnFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewVoiceMetrics(reg)
	primary := &scriptedLLM{errs: []error{errors.New("quota exceeded")}}
	secondary := &scriptedLLM{resp: LLMResponse{Text: "Certo.", Provider: "bedrock"}}
	client := NewFallbackLLMClient(primary, secondary, logging.Discard(), m)

	resp, err := client.Complete(context.Background(), LLMRequest{Messages: []ChatMessage{{Role: ChatRoleUser, Content: "ciao"}}})
	require.NoError(t, err)
	assert.Equal(t, "Certo.", resp.Text)
	assert.Equal(t, 1, primary.calls)
	assert.Equal(t, 1, secondary.calls)

	expected := `
# HELP sara_llm_requests_total LLM calls by provider and result
# TYPE sara_llm_requests_total counter
sara_llm_requests_total{provider="bedrock",result="ok"} 1
sara_llm_requests_total{provider="primary",result="error"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sara_llm_requests_total"))
}

func TestFallbackClientSkipsSecondaryAfterDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	primary := &scriptedLLM{errs: []error{context.Canceled}}
	secondary := &scriptedLLM{}
	client := NewFallbackLLMClient(primary, secondary, logging.Discard(), nil)

	_, err := client.Complete(ctx, LLMRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, secondary.calls)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewVoiceMetrics(reg)
	boom := errors.New("500")
	next := &scriptedLLM{errs: []error{boom, boom, boom, boom, boom}}
	client := NewBreakerLLMClient("gemini", next, logging.Discard(), m)

	for i := 0; i < BreakerFailures; i++ {
		_, err := client.Complete(context.Background(), LLMRequest{})
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, "open", client.State())

	_, err := client.Complete(context.Background(), LLMRequest{})
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Equal(t, BreakerFailures, next.calls, "an open breaker does not reach the provider")

	expected := `
# HELP sara_breaker_state Circuit breaker state (0 closed, 1 half-open, 2 open)
# TYPE sara_breaker_state gauge
sara_breaker_state{name="gemini"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "sara_breaker_state"))
}

func TestBreakerIgnoresCancelledCalls(t *testing.T) {
	next := &scriptedLLM{errs: []error{
		context.Canceled, context.Canceled, context.Canceled,
		context.Canceled, context.Canceled, context.Canceled,
	}}
	client := NewBreakerLLMClient("gemini", next, logging.Discard(), nil)
	for i := 0; i < 6; i++ {
		_, _ = client.Complete(context.Background(), LLMRequest{})
	}
	assert.Equal(t, "closed", client.State())
}

func TestBuildMessagesWindowsHistory(t *testing.T) {
	s := &domain.Session{}
	for i := 0; i < 10; i++ {
		s.Turns = append(s.Turns, domain.Turn{UserInput: "domanda", Response: "risposta"})
	}
	msgs := buildMessages(s, "ultima")
	require.Len(t, msgs, HistoryWindow*2+1)
	assert.Equal(t, ChatRoleUser, msgs[0].Role)
	assert.Equal(t, ChatRoleAssistant, msgs[1].Role)
	assert.Equal(t, ChatMessage{Role: ChatRoleUser, Content: "ultima"}, msgs[len(msgs)-1])
}

func TestFallbackKey(t *testing.T) {
	assert.Equal(t, HintBooking, fallbackKey(domain.IntentUnknown, true))
	assert.Equal(t, HintBooking, fallbackKey(domain.IntentReschedule, false))
	assert.Equal(t, HintInfo, fallbackKey(domain.IntentPrice, false))
	assert.Equal(t, HintGeneric, fallbackKey(domain.IntentUnknown, false))
}
