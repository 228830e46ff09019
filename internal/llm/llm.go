package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// PerplexityBaseURL is the OpenAI-compatible Perplexity endpoint.
const PerplexityBaseURL = "https://api.perplexity.ai"

// Request is a single chat completion request.
type Request struct {
	System string
	User   string
	// JSON asks the provider to guarantee a syntactically valid JSON object.
	JSON        bool
	MaxTokens   int
	Temperature float32
}

// Provider is the interface for chat-completion LLMs.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	IsConfigured() bool
}

// ErrNotConfigured is returned when a provider has no API key.
var ErrNotConfigured = errors.New("API key not configured")

// ChatProvider talks to any OpenAI-compatible chat completions API.
type ChatProvider struct {
	Name   string
	Model  string
	apiKey string
	client *openai.Client
	logger *slog.Logger
}

// NewChatProvider creates a provider for an OpenAI-compatible endpoint.
// An empty baseURL means the official OpenAI API.
func NewChatProvider(name, model, apiKeyEnv, baseURL string, timeout time.Duration, logger *slog.Logger) *ChatProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	key := os.Getenv(apiKeyEnv)
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &ChatProvider{
		Name:   name,
		Model:  model,
		apiKey: key,
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With(slog.String("provider", name)),
	}
}

// NewOpenAIProvider creates a provider for the OpenAI API.
func NewOpenAIProvider(model, apiKeyEnv, baseURL string, timeout time.Duration, logger *slog.Logger) *ChatProvider {
	return NewChatProvider("openai", model, apiKeyEnv, baseURL, timeout, logger)
}

// NewPerplexityProvider creates a provider for Perplexity's web-search models.
func NewPerplexityProvider(model, apiKeyEnv, baseURL string, timeout time.Duration, logger *slog.Logger) *ChatProvider {
	if baseURL == "" {
		baseURL = PerplexityBaseURL
	}
	return NewChatProvider("perplexity", model, apiKeyEnv, baseURL, timeout, logger)
}

// IsConfigured checks if the API key is set.
func (p *ChatProvider) IsConfigured() bool {
	return p.apiKey != ""
}

// Complete sends one chat completion and returns the first choice's content.
func (p *ChatProvider) Complete(ctx context.Context, req Request) (string, error) {
	if !p.IsConfigured() {
		return "", fmt.Errorf("%s: %w", p.Name, ErrNotConfigured)
	}

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.User})

	creq := openai.ChatCompletionRequest{
		Model:       p.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("%s API error: %w", p.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in %s response", p.Name)
	}

	p.logger.Debug("chat completion",
		slog.String("model", p.Model),
		slog.Int("total_tokens", resp.Usage.TotalTokens),
		slog.Duration("took", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}
