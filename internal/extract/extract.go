// Package extract holds the three strategies that turn a social post into a
// raw answer naming the podcast behind it.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/llm"
)

// DefaultSearchTimeout bounds one web-search LLM call.
const DefaultSearchTimeout = 60 * time.Second

// maxTranscriptChars keeps very long transcripts inside the prompt window.
const maxTranscriptChars = 12000

// Backend is one extraction strategy.
type Backend interface {
	Method() domain.Method
	Extract(ctx context.Context, post domain.SocialPost) domain.Outcome
}

// VideoFetcher downloads a post's video to a scratch file owned by the caller.
type VideoFetcher interface {
	Fetch(ctx context.Context, url string, maxSizeMB int) (string, error)
}

// Transcriber converts a media file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// MediaModel uploads media and answers a prompt about it.
type MediaModel interface {
	Upload(ctx context.Context, path, mimeType string) (*llm.GeminiFile, error)
	WaitActive(ctx context.Context, file *llm.GeminiFile) (*llm.GeminiFile, error)
	Generate(ctx context.Context, prompt string, file *llm.GeminiFile) (string, error)
	Delete(ctx context.Context, name string)
}

// searcher asks a web-search LLM to identify a podcast from some text.
type searcher struct {
	provider llm.Provider
	timeout  time.Duration
}

func (s searcher) lookup(ctx context.Context, template, input string) domain.Outcome {
	timeout := s.timeout
	if timeout == 0 {
		timeout = DefaultSearchTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := s.provider.Complete(ctx, llm.Request{
		System: searchSystemPrompt,
		User:   fmt.Sprintf(template, input),
	})
	if err != nil {
		return domain.Failed(upstreamFailure(ctx, err))
	}
	if strings.TrimSpace(text) == "" {
		return domain.Failed(domain.Failf(domain.UpstreamError, "empty response from search model"))
	}
	return domain.Succeeded(text)
}

// upstreamFailure maps a request error to UpstreamTimeout or UpstreamError.
func upstreamFailure(ctx context.Context, err error) *domain.Failure {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.Failf(domain.UpstreamTimeout, "%v", err)
	}
	return domain.Failf(domain.UpstreamError, "%v", err)
}

// CaptionBackend looks the podcast up from the post caption alone.
type CaptionBackend struct {
	search searcher
	logger *slog.Logger
}

// NewCaptionBackend creates a caption backend. A zero timeout means 60s.
func NewCaptionBackend(provider llm.Provider, timeout time.Duration, logger *slog.Logger) *CaptionBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptionBackend{search: searcher{provider: provider, timeout: timeout}, logger: logger}
}

func (b *CaptionBackend) Method() domain.Method { return domain.MethodCaption }

// Extract sends the caption to the search model and returns its answer verbatim.
func (b *CaptionBackend) Extract(ctx context.Context, post domain.SocialPost) domain.Outcome {
	caption := strings.TrimSpace(post.Caption)
	if caption == "" {
		return domain.Failed(domain.Failf(domain.MissingInput, "post %s has no caption", post.ID))
	}
	b.logger.Debug("caption lookup", slog.String("post_id", post.ID))
	return b.search.lookup(ctx, captionPrompt, caption)
}

// TranscriptionBackend transcribes the post video and looks the podcast up
// from the transcript.
type TranscriptionBackend struct {
	fetcher     VideoFetcher
	transcriber Transcriber
	search      searcher
	maxSizeMB   int
	logger      *slog.Logger
}

// NewTranscriptionBackend creates a transcription backend.
func NewTranscriptionBackend(fetcher VideoFetcher, transcriber Transcriber, provider llm.Provider, maxSizeMB int, timeout time.Duration, logger *slog.Logger) *TranscriptionBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptionBackend{
		fetcher:     fetcher,
		transcriber: transcriber,
		search:      searcher{provider: provider, timeout: timeout},
		maxSizeMB:   maxSizeMB,
		logger:      logger,
	}
}

func (b *TranscriptionBackend) Method() domain.Method { return domain.MethodTranscription }

// Extract downloads, transcribes and looks up the post. The downloaded file
// is removed on every path.
func (b *TranscriptionBackend) Extract(ctx context.Context, post domain.SocialPost) domain.Outcome {
	path, failure := download(ctx, b.fetcher, post, b.maxSizeMB)
	if failure != nil {
		return domain.Failed(failure)
	}
	defer removeScratch(b.logger, path)

	transcript, err := b.transcriber.Transcribe(ctx, path)
	if err != nil {
		return domain.Failed(upstreamFailure(ctx, fmt.Errorf("transcription: %w", err)))
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return domain.Failed(domain.Failf(domain.UpstreamError, "transcription returned no speech"))
	}
	b.logger.Debug("transcribed video",
		slog.String("post_id", post.ID),
		slog.Int("chars", len(transcript)))

	return b.search.lookup(ctx, transcriptPrompt, domain.Truncate(transcript, maxTranscriptChars))
}
