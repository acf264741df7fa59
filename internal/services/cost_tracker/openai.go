package cost_tracker

import (
	"context"

	"github.com/openai/openai-go/v3"

	"coursecast/internal/domain/usage"
)

// TrackOpenAIChatCompletion meters a chat completion returned by the OpenAI SDK
func (s *Service) TrackOpenAIChatCompletion(ctx context.Context, call Call, resp *openai.ChatCompletion) *usage.Event {
	if resp == nil {
		return nil
	}
	return s.trackChat(ctx, call, usage.ProviderOpenAI, resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
}

// TrackOpenAIEmbedding meters an embedding response returned by the OpenAI SDK
func (s *Service) TrackOpenAIEmbedding(ctx context.Context, call Call, resp *openai.CreateEmbeddingResponse) *usage.Event {
	if resp == nil {
		return nil
	}
	return s.TrackEmbeddingUsage(ctx, call, resp.Model, resp.Usage.PromptTokens)
}
