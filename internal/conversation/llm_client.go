package conversation

import "context"

const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one entry of the windowed turn history sent to the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest is a chat completion request. A negative Temperature leaves
// the provider default. JSON asks for a JSON object reply.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
	JSON        bool
}

type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
	Provider   string
}

// LLMClient is the text-in, text-out collaborator behind layer L4.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
