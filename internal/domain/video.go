package domain

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// WatchURLPrefix is the template used when a search item arrives without a URL.
const WatchURLPrefix = "https://www.youtube.com/watch?v="

// SearchResult is one YouTube video found by the scrape provider.
type SearchResult struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ChannelName string `json:"channelName"`
	// ViewCount is nil when the provider sent no usable number.
	ViewCount     *int64 `json:"viewCount,omitempty"`
	Duration      string `json:"duration,omitempty"`
	PublishedDate string `json:"date,omitempty"`
	URL           string `json:"url"`
}

// WatchURL builds the canonical watch URL for a video id.
func WatchURL(id string) string {
	return WatchURLPrefix + id
}

// Views renders the view count for display, "unknown" when missing.
func (r SearchResult) Views() string {
	if r.ViewCount == nil {
		return "unknown"
	}
	return strconv.FormatInt(*r.ViewCount, 10)
}

// ParseViewCount coerces the provider's viewCount field, which shows up as a
// number, a numeric string, a string with separators ("1,234"), or junk.
func ParseViewCount(raw json.RawMessage) *int64 {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(strings.NewReplacer(",", "", "_", "", " ", "").Replace(str))
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n >= 0 {
		return &n
	}
	// Values past int64 range, NaN and infinities are as unknown as junk.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f < math.MaxInt64 {
		n := int64(f)
		return &n
	}
	return nil
}

// SortByViews orders results by view count descending. Unknown counts go
// last and ties keep their original order.
func SortByViews(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i].ViewCount, results[j].ViewCount
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}
