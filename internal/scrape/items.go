package scrape

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/poemsforaphrodite/podcast/internal/domain"
)

// flexString accepts JSON strings and numbers. Dataset items come from
// scrapers with loose typing, and one odd field must not sink the batch.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if b[0] == '{' || b[0] == '[' {
		*f = ""
		return nil
	}
	*f = flexString(string(b))
	return nil
}

type rawVideo struct {
	ID          flexString      `json:"id"`
	Title       flexString      `json:"title"`
	ChannelName flexString      `json:"channelName"`
	ViewCount   json.RawMessage `json:"viewCount"`
	Duration    flexString      `json:"duration"`
	Date        flexString      `json:"date"`
	URL         flexString      `json:"url"`
}

func (v rawVideo) toResult() (domain.SearchResult, bool) {
	id := strings.TrimSpace(string(v.ID))
	link := strings.TrimSpace(string(v.URL))
	if id == "" && link == "" {
		return domain.SearchResult{}, false
	}
	if link == "" {
		link = domain.WatchURL(id)
	}
	if id == "" {
		id = link
	}
	return domain.SearchResult{
		ID:            id,
		Title:         strings.TrimSpace(string(v.Title)),
		ChannelName:   strings.TrimSpace(string(v.ChannelName)),
		ViewCount:     domain.ParseViewCount(v.ViewCount),
		Duration:      string(v.Duration),
		PublishedDate: string(v.Date),
		URL:           link,
	}, true
}

type rawPost struct {
	ID            flexString      `json:"id"`
	ShortCode     flexString      `json:"shortCode"`
	OwnerUsername flexString      `json:"ownerUsername"`
	Caption       flexString      `json:"caption"`
	LikesCount    json.RawMessage `json:"likesCount"`
	CommentsCount json.RawMessage `json:"commentsCount"`
	Timestamp     flexString      `json:"timestamp"`
	VideoURL      flexString      `json:"videoUrl"`
	URL           flexString      `json:"url"`
}

func (p rawPost) toPost(username string) (domain.SocialPost, bool) {
	id := strings.TrimSpace(string(p.ID))
	if id == "" {
		id = strings.TrimSpace(string(p.ShortCode))
	}
	if id == "" {
		return domain.SocialPost{}, false
	}
	if owner := strings.TrimSpace(string(p.OwnerUsername)); owner != "" {
		username = owner
	}
	return domain.SocialPost{
		ID:           id,
		Username:     username,
		Caption:      string(p.Caption),
		LikeCount:    count(p.LikesCount),
		CommentCount: count(p.CommentsCount),
		Timestamp:    string(p.Timestamp),
		VideoURL:     strings.TrimSpace(string(p.VideoURL)),
		URL:          string(p.URL),
	}, true
}

// count coerces engagement numbers. Instagram reports hidden likes as -1.
func count(raw json.RawMessage) int64 {
	if n := domain.ParseViewCount(raw); n != nil {
		return *n
	}
	return 0
}
