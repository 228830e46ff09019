package llm

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber turns speech in an audio or video file into text.
type Transcriber struct {
	Model  string
	apiKey string
	client *openai.Client
}

// NewTranscriber creates a Whisper transcriber. An empty baseURL means the
// official OpenAI API.
func NewTranscriber(model, apiKeyEnv, baseURL string, timeout time.Duration) *Transcriber {
	if model == "" {
		model = openai.Whisper1
	}
	if timeout == 0 {
		timeout = 300 * time.Second
	}
	key := os.Getenv(apiKeyEnv)
	cfg := openai.DefaultConfig(key)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Transcriber{Model: model, apiKey: key, client: openai.NewClientWithConfig(cfg)}
}

// IsConfigured checks if the API key is set.
func (t *Transcriber) IsConfigured() bool {
	return t.apiKey != ""
}

// Transcribe uploads the file at path and returns the plain-text transcript.
func (t *Transcriber) Transcribe(ctx context.Context, path string) (string, error) {
	if !t.IsConfigured() {
		return "", fmt.Errorf("whisper: %w", ErrNotConfigured)
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.Model,
		FilePath: path,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("whisper API error: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
