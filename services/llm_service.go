package services

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.temporal.io/sdk/temporal"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// Role selects the system prompt a generator call runs under.
type Role int

const (
	RoleDirector Role = iota
	RoleArchitect
	RolePhysicist
	RoleCoder
	RoleHealer
)

var roleNames = [...]string{"director", "architect", "physicist", "coder", "healer"}

func (r Role) String() string {
	if r < 0 || int(r) >= len(roleNames) {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// SystemPrompt returns the embedded prompt for r.
func (r Role) SystemPrompt() string {
	b, err := promptFS.ReadFile("prompts/" + r.String() + ".txt")
	if err != nil {
		// every declared role ships a prompt file
		panic(fmt.Sprintf("missing prompt for %s: %v", r, err))
	}
	return string(b)
}

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response content from model")

// Generator is the text-generation capability every role runs on.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

// OpenAIGenerator calls the chat completion API.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	logger      *slog.Logger
}

func NewOpenAIGenerator(apiKey, model string, maxTokens int, temperature float32, logger *slog.Logger) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, temporal.NewNonRetryableApplicationError("API key not configured", "APIKeyError", nil)
	}
	if model == "" {
		model = openai.GPT4o
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIGenerator{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}, nil
}

func (g *OpenAIGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userPrompt},
	}
	g.logger.Debug("Calling OpenAI", "model", g.model, "system_len", len(systemPrompt), "user_len", len(userPrompt))

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("OpenAI call cancelled: %w", err)
		}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403) {
			return "", temporal.NewNonRetryableApplicationError("OpenAI rejected the API key", "APIKeyError", err)
		}
		return "", fmt.Errorf("OpenAI API request failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// StripCodeFences removes a surrounding Markdown fence, with or without a
// language tag.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		first := strings.TrimSpace(s[:nl])
		if first == "" || !strings.ContainsAny(first, " ()=:") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
