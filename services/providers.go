package services

import (
	"context"
	"fmt"
	"log/slog"

	"newton/config"
	"newton/knowledge"
)

// NewProviders builds the generator and embedder for the configured provider.
func NewProviders(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Generator, knowledge.Embedder, error) {
	switch cfg.Provider {
	case "gemini":
		gen, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
		if err != nil {
			return nil, nil, err
		}
		emb, err := NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return gen, emb, nil
	case "openai", "":
		gen, err := NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
		if err != nil {
			return nil, nil, err
		}
		return gen, NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel), nil
	}
	return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}
