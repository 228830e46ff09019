package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/poemsforaphrodite/podcast/internal/domain"
)

const (
	// DefaultBaseURL is the Apify REST API root.
	DefaultBaseURL = "https://api.apify.com/v2"
	// YouTubeActor scrapes YouTube search results.
	YouTubeActor = "h7sDV53CddomktSi5"
	// InstagramActor scrapes an Instagram profile's posts.
	InstagramActor = "shu8hvrXbJbY3Eb9W"
)

// ErrNotConfigured is returned when no Apify token is available.
var ErrNotConfigured = errors.New("apify token not configured")

// Options tunes the Apify client.
type Options struct {
	BaseURL        string
	YouTubeActor   string
	InstagramActor string
	Timeout        time.Duration
}

// Client runs Apify actors synchronously and returns their dataset items.
type Client struct {
	token  string
	opts   Options
	client *http.Client
	logger *slog.Logger
}

// NewClient creates an Apify client reading its token from tokenEnv.
func NewClient(tokenEnv string, opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.YouTubeActor == "" {
		opts.YouTubeActor = YouTubeActor
	}
	if opts.InstagramActor == "" {
		opts.InstagramActor = InstagramActor
	}
	if opts.Timeout == 0 {
		opts.Timeout = 300 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		token:  os.Getenv(tokenEnv),
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}
}

// IsConfigured returns whether the API token is available.
func (c *Client) IsConfigured() bool {
	return c.token != ""
}

// SearchVideos searches YouTube for query and returns at most maxResults
// videos, each with a non-empty URL.
func (c *Client) SearchVideos(ctx context.Context, query string, maxResults int) ([]domain.SearchResult, error) {
	input := map[string]any{
		"searchQueries": []string{query},
		"maxResults":    maxResults,
		"videoType":     "video",
		"sortingOrder":  "relevance",
		"dateFilter":    "month",
	}
	var items []rawVideo
	if err := c.runActor(ctx, c.opts.YouTubeActor, input, &items); err != nil {
		return nil, fmt.Errorf("searching videos for %q: %w", query, err)
	}

	results := make([]domain.SearchResult, 0, len(items))
	for _, it := range items {
		if r, ok := it.toResult(); ok {
			results = append(results, r)
		}
	}
	if maxResults > 0 && len(results) > maxResults {
		results = results[:maxResults]
	}

	c.logger.Info("fetched videos",
		slog.String("query", query),
		slog.Int("count", len(results)))
	return results, nil
}

// SearchPosts returns up to maxResults recent posts from an Instagram account.
func (c *Client) SearchPosts(ctx context.Context, username string, maxResults int) ([]domain.SocialPost, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	input := map[string]any{
		"directUrls":   []string{"https://www.instagram.com/" + username},
		"resultsType":  "stories",
		"resultsLimit": maxResults,
	}
	var items []rawPost
	if err := c.runActor(ctx, c.opts.InstagramActor, input, &items); err != nil {
		return nil, fmt.Errorf("fetching posts for %s: %w", username, err)
	}

	posts := make([]domain.SocialPost, 0, len(items))
	for _, it := range items {
		if p, ok := it.toPost(username); ok {
			posts = append(posts, p)
		}
	}
	if maxResults > 0 && len(posts) > maxResults {
		posts = posts[:maxResults]
	}

	c.logger.Info("fetched posts",
		slog.String("username", username),
		slog.Int("count", len(posts)))
	return posts, nil
}

func (c *Client) runActor(ctx context.Context, actor string, input any, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshaling input: %w", err)
	}

	endpoint := fmt.Sprintf("%s/acts/%s/run-sync-get-dataset-items?%s",
		c.opts.BaseURL, url.PathEscape(actor), url.Values{"token": {c.token}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("apify error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("apify returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding dataset items: %w", err)
	}

	c.logger.Debug("actor run finished", slog.String("actor", actor), slog.Duration("took", time.Since(start)))
	return nil
}
