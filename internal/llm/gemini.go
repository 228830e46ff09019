package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"google.golang.org/genai"
)

var (
	// ErrFileFailed is returned when the provider rejects an uploaded file.
	ErrFileFailed = errors.New("uploaded file failed processing")
	// ErrFileNotReady is returned when an upload is still processing at the
	// ready deadline.
	ErrFileNotReady = errors.New("uploaded file not ready before deadline")
	// ErrEmptyCandidate is returned when generateContent yields no text.
	ErrEmptyCandidate = errors.New("no text in response candidates")
)

// GeminiFile is an uploaded file resource.
type GeminiFile struct {
	Name     string
	URI      string
	MimeType string
	State    string
}

func fromGenai(f *genai.File) *GeminiFile {
	return &GeminiFile{Name: f.Name, URI: f.URI, MimeType: f.MIMEType, State: string(f.State)}
}

// GeminiClient uploads media to the Gemini files API and asks the model about it.
type GeminiClient struct {
	Model        string
	PollInterval time.Duration
	ReadyTimeout time.Duration
	client       *genai.Client
	initErr      error
	logger       *slog.Logger
}

// NewGeminiClient creates a Gemini client. An empty baseURL means the public
// API. The SDK client is only built when the key is set.
func NewGeminiClient(model, apiKeyEnv, baseURL string, timeout time.Duration, logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	g := &GeminiClient{
		Model:        model,
		PollInterval: 2 * time.Second,
		ReadyTimeout: 60 * time.Second,
		logger:       logger,
	}

	key := os.Getenv(apiKeyEnv)
	if key == "" {
		return g
	}
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = strings.TrimRight(baseURL, "/") + "/"
	}
	g.client, g.initErr = genai.NewClient(context.Background(), cfg)
	return g
}

// IsConfigured checks if the API key is set.
func (g *GeminiClient) IsConfigured() bool {
	return g.client != nil || g.initErr != nil
}

func (g *GeminiClient) sdk() (*genai.Client, error) {
	if g.initErr != nil {
		return nil, fmt.Errorf("gemini client: %w", g.initErr)
	}
	if g.client == nil {
		return nil, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}
	return g.client, nil
}

// Upload sends the file at path through the resumable upload protocol.
// A failed start call is not retried.
func (g *GeminiClient) Upload(ctx context.Context, path, mimeType string) (*GeminiFile, error) {
	c, err := g.sdk()
	if err != nil {
		return nil, err
	}
	f, err := c.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: filepath.Base(path),
	})
	if err != nil {
		return nil, fmt.Errorf("uploading file: %w", err)
	}
	if f.URI == "" {
		return nil, errors.New("uploading file: response carried no file uri")
	}
	g.logger.Debug("gemini upload complete",
		slog.String("name", f.Name),
		slog.String("state", string(f.State)))
	return fromGenai(f), nil
}

// WaitActive polls the file resource until it is ACTIVE. A FAILED state
// yields ErrFileFailed and running past ReadyTimeout yields ErrFileNotReady.
func (g *GeminiClient) WaitActive(ctx context.Context, file *GeminiFile) (*GeminiFile, error) {
	if file.State == string(genai.FileStateActive) {
		return file, nil
	}
	c, err := g.sdk()
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(g.ReadyTimeout)
	current := file
	for {
		switch genai.FileState(current.State) {
		case genai.FileStateActive:
			return current, nil
		case genai.FileStateFailed:
			return nil, fmt.Errorf("%w: %s", ErrFileFailed, current.Name)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s still %s", ErrFileNotReady, current.Name, current.State)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.PollInterval):
		}

		f, err := c.Files.Get(ctx, current.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("polling file: %w", err)
		}
		current = fromGenai(f)
	}
}

// Delete removes an uploaded file. Errors are only logged since the
// provider expires files on its own.
func (g *GeminiClient) Delete(ctx context.Context, name string) {
	c, err := g.sdk()
	if err != nil {
		return
	}
	if _, err := c.Files.Delete(ctx, name, nil); err != nil {
		g.logger.Debug("gemini delete failed", slog.String("name", name), slog.Any("error", err))
	}
}

// Generate asks the model about an uploaded file and returns the first
// candidate's text.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, file *GeminiFile) (string, error) {
	c, err := g.sdk()
	if err != nil {
		return "", err
	}
	mimeType := file.MimeType
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromURI(file.URI, mimeType),
	}, genai.RoleUser)}
	resp, err := c.Models.GenerateContent(ctx, g.Model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: 1024,
		Temperature:     genai.Ptr[float32](0.5),
		TopP:            genai.Ptr[float32](0.8),
	})
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyCandidate
	}
	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", ErrEmptyCandidate
	}
	return text, nil
}
