package domain

import (
	"strings"
	"time"
)

// SocialPost is one Instagram post returned by the scrape provider.
// Posts are built once from the provider's raw item and never modified.
type SocialPost struct {
	ID           string `json:"id"`
	Username     string `json:"username,omitempty"`
	Caption      string `json:"caption,omitempty"`
	LikeCount    int64  `json:"likesCount"`
	CommentCount int64  `json:"commentsCount"`
	// Timestamp is kept as the provider sent it; it may be malformed.
	Timestamp string `json:"timestamp,omitempty"`
	// VideoURL is empty for image posts, which limits analysis to the caption.
	VideoURL string `json:"videoUrl,omitempty"`
	URL      string `json:"url,omitempty"`
}

// HasVideo reports whether the post carries a downloadable video.
func (p SocialPost) HasVideo() bool {
	return strings.TrimSpace(p.VideoURL) != ""
}

// PostedAt parses Timestamp. The boolean is false when the value is missing
// or cannot be parsed.
func (p SocialPost) PostedAt() (time.Time, bool) {
	ts := strings.TrimSpace(p.Timestamp)
	if ts == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, ts); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DisplayDate formats the timestamp for tables, falling back to "Invalid date".
func (p SocialPost) DisplayDate() string {
	t, ok := p.PostedAt()
	if !ok {
		return "Invalid date"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// CaptionPreview returns at most n characters of the caption followed by an
// ellipsis when truncated.
func (p SocialPost) CaptionPreview(n int) string {
	return Truncate(p.Caption, n)
}

// Truncate cuts s to n runes and appends "..." when anything was dropped.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
