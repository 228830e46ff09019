package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// ErrTooLarge is returned when a video exceeds the configured size cap.
var ErrTooLarge = errors.New("video exceeds size limit")

const bytesPerMB = 1024 * 1024

// VideoFetcher downloads remote videos into scratch files.
type VideoFetcher struct {
	client  *http.Client
	tempDir string
	logger  *slog.Logger
}

// NewVideoFetcher creates a fetcher writing into tempDir (os.TempDir when empty).
func NewVideoFetcher(timeout time.Duration, tempDir string, logger *slog.Logger) *VideoFetcher {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VideoFetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		tempDir: tempDir,
		logger:  logger,
	}
}

// Fetch downloads videoURL to a fresh temporary file and returns its path.
// The caller owns the file. A declared length over maxSizeMB aborts before
// anything is written; an undeclared length is capped while streaming and the
// partial file is removed. There are no retries.
func (f *VideoFetcher) Fetch(ctx context.Context, videoURL string, maxSizeMB int) (string, error) {
	limit := int64(maxSizeMB) * bytesPerMB

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", "podfinder/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	if limit > 0 && resp.ContentLength > limit {
		f.logger.Warn("video too large",
			slog.String("url", videoURL),
			slog.Int64("content_length", resp.ContentLength),
			slog.Int("max_mb", maxSizeMB))
		return "", fmt.Errorf("%w: %.1f MB > %d MB", ErrTooLarge, float64(resp.ContentLength)/bytesPerMB, maxSizeMB)
	}

	file, err := os.CreateTemp(f.tempDir, "podfinder-*.mp4")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	path := file.Name()

	var body io.Reader = resp.Body
	if limit > 0 {
		// One extra byte so an oversized stream is detectable.
		body = io.LimitReader(resp.Body, limit+1)
	}

	n, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		os.Remove(path)
		return "", fmt.Errorf("downloading video: %w", copyErr)
	case closeErr != nil:
		os.Remove(path)
		return "", fmt.Errorf("writing video: %w", closeErr)
	case limit > 0 && n > limit:
		os.Remove(path)
		return "", fmt.Errorf("%w: stream passed %d MB", ErrTooLarge, maxSizeMB)
	}

	f.logger.Debug("video downloaded", slog.String("path", path), slog.Int64("bytes", n))
	return path, nil
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.code, http.StatusText(e.code))
}
