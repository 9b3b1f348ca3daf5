package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	defaultGeminiModel     = "gemini-2.5-flash"
	defaultEmbeddingModel  = "text-embedding-004"
	providerGemini         = "gemini"
	geminiJSONResponseMIME = "application/json"
)

// GeminiLLMClient implements LLMClient using Google's Gemini API.
type GeminiLLMClient struct {
	client  *genai.Client
	modelID string
}

// NewGeminiLLMClient creates a new Gemini LLM client.
func NewGeminiLLMClient(ctx context.Context, apiKey, modelID string) (*GeminiLLMClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("conversation: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}

	return &GeminiLLMClient{
		client:  client,
		modelID: modelID,
	}, nil
}

// Complete sends the history to Gemini and returns the reply to its last
// message.
func (c *GeminiLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if len(req.Messages) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini requires at least one message")
	}

	modelID := c.modelID
	if strings.TrimSpace(req.Model) != "" {
		modelID = req.Model
	}
	model := c.client.GenerativeModel(modelID)

	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}
	if req.JSON {
		model.ResponseMIMEType = geminiJSONResponseMIME
	}

	if systemText := strings.TrimSpace(strings.Join(req.System, "\n\n")); systemText != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
	}

	cs := model.StartChat()
	cs.History = geminiHistory(req.Messages[:len(req.Messages)-1])

	lastMsg := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(lastMsg.Content))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned empty content")
	}

	var responseText strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	result := LLMResponse{
		Text:       strings.TrimSpace(responseText.String()),
		StopReason: candidate.FinishReason.String(),
		Provider:   providerGemini,
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// geminiHistory maps chat roles onto Gemini's user/model roles. System
// messages travel in the system instruction instead.
func geminiHistory(msgs []ChatMessage) []*genai.Content {
	var history []*genai.Content
	for _, msg := range msgs {
		content := strings.TrimSpace(msg.Content)
		if content == "" || msg.Role == ChatRoleSystem {
			continue
		}
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(content)},
		})
	}
	return history
}

// Close releases resources held by the Gemini client.
func (c *GeminiLLMClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// GeminiEmbedder turns FAQ questions and caller queries into vectors for
// the semantic FAQ pass.
type GeminiEmbedder struct {
	client  *genai.Client
	modelID string
}

// NewGeminiEmbedder shares the client of an existing GeminiLLMClient.
func NewGeminiEmbedder(llm *GeminiLLMClient, modelID string) *GeminiEmbedder {
	if strings.TrimSpace(modelID) == "" {
		modelID = defaultEmbeddingModel
	}
	return &GeminiEmbedder{client: llm.client, modelID: modelID}
}

// Embed returns one vector per text, in order.
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := e.client.EmbeddingModel(e.modelID)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("conversation: gemini embeddings failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("conversation: gemini returned %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(res.Embeddings))
	for i, emb := range res.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("conversation: gemini embedding %d is empty", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
