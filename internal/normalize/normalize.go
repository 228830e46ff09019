// Package normalize coerces free-form backend answers into a PodcastReference.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/llm"
)

const systemPrompt = `You are a JSON formatting assistant. Extract the YouTube video information from the provided response and return it as a JSON object with these fields:
- title: The title of the YouTube video
- channel: The name of the YouTube channel
- channelLink: The link to the YouTube channel
- url: The direct URL to the YouTube video

Look for this information in the entire response, including any thinking process or analysis. Use an empty string for anything you cannot find. Return only the JSON object.`

const userPrompt = "Here's the complete response. Please extract the video information and return it as JSON:\n%s"

// Normalizer runs a JSON-constrained LLM pass over backend output.
type Normalizer struct {
	provider  llm.Provider
	maxTokens int
	logger    *slog.Logger
}

// New creates a normalizer.
func New(provider llm.Provider, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{provider: provider, maxTokens: 512, logger: logger}
}

// Normalize extracts the four reference fields from raw. It never fails:
// errors come back as an empty reference with Error set.
func (n *Normalizer) Normalize(ctx context.Context, raw string) domain.PodcastReference {
	if n.provider == nil {
		return domain.FailedReference(fmt.Errorf("no JSON model configured"))
	}
	if strings.TrimSpace(raw) == "" {
		return domain.FailedReference(domain.Failf(domain.MissingInput, "nothing to normalize"))
	}

	text, err := n.provider.Complete(ctx, llm.Request{
		System:    systemPrompt,
		User:      fmt.Sprintf(userPrompt, raw),
		JSON:      true,
		MaxTokens: n.maxTokens,
	})
	if err != nil {
		n.logger.Error("normalization request failed", slog.Any("error", err))
		return domain.FailedReference(domain.Failf(domain.UpstreamError, "%v", err))
	}

	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		n.logger.Warn("normalizer returned non-JSON", slog.String("response", domain.Truncate(text, 200)))
		return domain.FailedReference(domain.Failf(domain.ParseFailure, "normalizer output is not a JSON object"))
	}

	return domain.PodcastReference{
		Title:       strings.TrimSpace(llm.String(parsed, "title", "")),
		Channel:     strings.TrimSpace(llm.String(parsed, "channel", "")),
		ChannelLink: strings.TrimSpace(llm.FirstString(parsed, "channelLink", "channel_link", "channel link")),
		URL:         strings.TrimSpace(llm.String(parsed, "url", "")),
	}
}
