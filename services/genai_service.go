package services

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/temporal"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiGenerator calls the Gemini API through google.golang.org/genai.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	logger      *slog.Logger
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, maxTokens int, temperature float32, logger *slog.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, temporal.NewNonRetryableApplicationError("API key not configured", "APIKeyError", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiGenerator{client: client, model: model, maxTokens: int32(maxTokens), temperature: temperature, logger: logger}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(g.temperature),
	}
	if g.maxTokens > 0 {
		cfg.MaxOutputTokens = g.maxTokens
	}
	g.logger.Debug("Calling Gemini", "model", g.model, "system_len", len(systemPrompt), "user_len", len(userPrompt))

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(userPrompt), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
