package extract

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/llm"
)

const videoMimeType = "video/mp4"

// download fetches the post video, mapping every failure to DownloadFailed.
func download(ctx context.Context, fetcher VideoFetcher, post domain.SocialPost, maxSizeMB int) (string, *domain.Failure) {
	if !post.HasVideo() {
		return "", domain.Failf(domain.MissingInput, "post %s has no video", post.ID)
	}
	path, err := fetcher.Fetch(ctx, post.VideoURL, maxSizeMB)
	if err != nil {
		return "", domain.Failf(domain.DownloadFailed, "%v", err)
	}
	return path, nil
}

func removeScratch(logger *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to remove scratch file", slog.String("path", path), slog.Any("error", err))
	}
}

// MultimodalBackend uploads the post video to a multimodal model and asks it
// for the four reference fields directly.
type MultimodalBackend struct {
	fetcher   VideoFetcher
	model     MediaModel
	maxSizeMB int
	logger    *slog.Logger
}

// NewMultimodalBackend creates a multimodal backend.
func NewMultimodalBackend(fetcher VideoFetcher, model MediaModel, maxSizeMB int, logger *slog.Logger) *MultimodalBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultimodalBackend{fetcher: fetcher, model: model, maxSizeMB: maxSizeMB, logger: logger}
}

func (b *MultimodalBackend) Method() domain.Method { return domain.MethodMultimodal }

// Extract uploads the video, waits for it to become ready and returns the
// model's answer re-encoded with all four fields present.
func (b *MultimodalBackend) Extract(ctx context.Context, post domain.SocialPost) domain.Outcome {
	path, failure := download(ctx, b.fetcher, post, b.maxSizeMB)
	if failure != nil {
		return domain.Failed(failure)
	}
	defer removeScratch(b.logger, path)

	file, err := b.model.Upload(ctx, path, videoMimeType)
	if err != nil {
		return domain.Failed(domain.Failf(domain.UpstreamError, "upload: %v", err))
	}
	defer func() {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		b.model.Delete(cleanup, file.Name)
	}()

	ready, err := b.model.WaitActive(ctx, file)
	if err != nil {
		if errors.Is(err, llm.ErrFileNotReady) {
			return domain.Failed(domain.Failf(domain.UpstreamTimeout, "%v", err))
		}
		return domain.Failed(upstreamFailure(ctx, err))
	}

	text, err := b.model.Generate(ctx, videoPrompt, ready)
	if err != nil {
		return domain.Failed(upstreamFailure(ctx, err))
	}

	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		return domain.Failed(domain.Failf(domain.UpstreamError, "unusable model answer: %s", domain.Truncate(text, 200)))
	}
	fields := map[string]string{
		"title":       strings.TrimSpace(llm.String(parsed, "title", "")),
		"channel":     strings.TrimSpace(llm.String(parsed, "channel", "")),
		"channelLink": strings.TrimSpace(llm.FirstString(parsed, "channelLink", "channel_link", "channel link")),
		"url":         strings.TrimSpace(llm.String(parsed, "url", "")),
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return domain.Failed(domain.Failf(domain.ParseFailure, "%v", err))
	}
	b.logger.Debug("multimodal answer", slog.String("post_id", post.ID))
	return domain.Succeeded(string(out))
}
