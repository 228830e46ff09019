package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/llm"
)

const searchJudgePrompt = `You are a podcast search expert. Your task is to evaluate search results and determine if they are satisfactory.
You MUST respond with a JSON object containing exactly these fields:
{
    "satisfied": boolean,
    "reason": string explaining your decision,
    "suggested_queries": list of alternative search queries if not satisfied (empty list if satisfied)
}

Consider these criteria:
1. Relevance to the search intent
2. Variety of content and perspectives
3. Credibility of the channels
4. Video quality and engagement metrics

Be specific in your reasoning and suggest targeted alternative queries if needed.`

const searchEvalPrompt = `Evaluate these YouTube podcast search results for the query: "%s"

Search Results:
%s

Analyze the results and provide your evaluation in the required JSON format.
Remember to be specific about why the results are or aren't satisfactory.`

const postJudgePrompt = `You are an Instagram post analysis expert. Your task is to evaluate posts and determine if they are satisfactory for podcast discovery.
You MUST respond with a JSON object containing exactly these fields:
{
    "satisfied": boolean,
    "reason": string explaining your decision,
    "selected_posts": list of post IDs (the "id" values) that seem most relevant to podcast discovery
}

Consider these criteria:
1. Relevance to podcast content
2. Recency of posts
3. Engagement metrics (likes, comments)
4. Presence of video content
5. Quality of captions

If the posts don't contain enough podcast-related content, return satisfied=false to fetch more posts from this account.`

const postEvalPrompt = `Evaluate these Instagram posts for the username: "%s"

Posts:
%s

Analyze the posts and provide your evaluation in the required JSON format.
Remember to be specific about why the posts are or aren't satisfactory for podcast discovery.`

// captionDigestChars is how much of each caption the post judge sees.
const captionDigestChars = 200

// fallback is the verdict used whenever judging fails.
func fallback(reason string) Verdict {
	return Verdict{Satisfied: true, Reason: reason, Fallback: true}
}

type judgeCore struct {
	// subject names the batch in fallback reasons ("results" or "posts").
	subject     string
	provider    llm.Provider
	temperature float32
	logger      *slog.Logger
}

// ask sends one judge request and returns the parsed object, or a fallback
// verdict when the call or the required keys fail.
func (j judgeCore) ask(ctx context.Context, system, user string, required ...string) (map[string]any, *Verdict) {
	if j.provider == nil {
		v := fallback("Could not properly evaluate " + j.subject + ": no judge model configured")
		return nil, &v
	}
	text, err := j.provider.Complete(ctx, llm.Request{
		System:      system,
		User:        user,
		JSON:        true,
		MaxTokens:   800,
		Temperature: j.temperature,
	})
	if err != nil {
		j.logger.Error("judge request failed", slog.Any("error", err))
		v := fallback("Error in evaluation: " + err.Error())
		return nil, &v
	}
	parsed := llm.ParseJSONResponse(text)
	if parsed == nil {
		j.logger.Error("judge returned invalid JSON")
		v := fallback("Could not properly evaluate " + j.subject)
		return nil, &v
	}
	for _, k := range required {
		if _, ok := parsed[k]; !ok {
			j.logger.Error("judge response missing field", slog.String("field", k))
			v := fallback("Could not properly evaluate " + j.subject)
			return nil, &v
		}
	}
	return parsed, nil
}

func (j judgeCore) satisfied(parsed map[string]any) (bool, *Verdict) {
	ok, valid := llm.Bool(parsed, "satisfied")
	if !valid {
		v := fallback("Could not properly evaluate " + j.subject)
		return false, &v
	}
	return ok, nil
}

// SearchJudge judges YouTube search results and proposes alternative queries.
type SearchJudge struct{ judgeCore }

// NewSearchJudge creates a search judge.
func NewSearchJudge(provider llm.Provider, temperature float32, logger *slog.Logger) *SearchJudge {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchJudge{judgeCore{subject: "results", provider: provider, temperature: temperature, logger: logger}}
}

type searchDigest struct {
	Title   string `json:"title"`
	Channel string `json:"channel"`
	Views   string `json:"views"`
	Date    string `json:"date"`
}

// Judge rates results for query.
func (j *SearchJudge) Judge(ctx context.Context, query string, results []domain.SearchResult) Verdict {
	digest := make([]searchDigest, 0, len(results))
	for _, r := range results {
		digest = append(digest, searchDigest{Title: r.Title, Channel: r.ChannelName, Views: r.Views(), Date: r.PublishedDate})
	}
	body, _ := json.MarshalIndent(digest, "", "  ")

	parsed, fb := j.ask(ctx, searchJudgePrompt, fmt.Sprintf(searchEvalPrompt, query, body),
		"satisfied", "reason", "suggested_queries")
	if fb != nil {
		return *fb
	}
	ok, fb := j.satisfied(parsed)
	if fb != nil {
		return *fb
	}

	v := Verdict{Satisfied: ok, Reason: llm.String(parsed, "reason", "")}
	if !ok {
		queries, _ := llm.Strings(parsed, "suggested_queries")
		for _, q := range queries {
			if q = strings.TrimSpace(q); q != "" {
				v.SuggestedQueries = append(v.SuggestedQueries, q)
			}
		}
		if len(v.SuggestedQueries) > MaxSuggestions {
			v.SuggestedQueries = v.SuggestedQueries[:MaxSuggestions]
		}
	}
	j.logger.Info("search judged",
		slog.String("query", query),
		slog.Bool("satisfied", v.Satisfied),
		slog.Int("suggestions", len(v.SuggestedQueries)))
	return v
}

// PostJudge judges Instagram posts and picks the ones worth analyzing.
type PostJudge struct{ judgeCore }

// NewPostJudge creates a post judge.
func NewPostJudge(provider llm.Provider, temperature float32, logger *slog.Logger) *PostJudge {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostJudge{judgeCore{subject: "posts", provider: provider, temperature: temperature, logger: logger}}
}

type postDigest struct {
	ID        string `json:"id"`
	Caption   string `json:"caption"`
	Likes     int64  `json:"likesCount"`
	Comments  int64  `json:"commentsCount"`
	HasVideo  bool   `json:"hasVideo"`
	Timestamp string `json:"timestamp"`
}

// Judge rates posts from username.
func (j *PostJudge) Judge(ctx context.Context, username string, posts []domain.SocialPost) Verdict {
	digest := make([]postDigest, 0, len(posts))
	for _, p := range posts {
		digest = append(digest, postDigest{
			ID:        p.ID,
			Caption:   domain.Truncate(p.Caption, captionDigestChars),
			Likes:     p.LikeCount,
			Comments:  p.CommentCount,
			HasVideo:  p.HasVideo(),
			Timestamp: p.Timestamp,
		})
	}
	body, _ := json.MarshalIndent(digest, "", "  ")

	parsed, fb := j.ask(ctx, postJudgePrompt, fmt.Sprintf(postEvalPrompt, username, body),
		"satisfied", "reason", "selected_posts")
	if fb != nil {
		return *fb
	}
	ok, fb := j.satisfied(parsed)
	if fb != nil {
		return *fb
	}

	raw, _ := llm.Strings(parsed, "selected_posts")
	v := Verdict{
		Satisfied:   ok,
		Reason:      llm.String(parsed, "reason", ""),
		SelectedIDs: j.resolveSelection(raw, posts),
	}
	j.logger.Info("posts judged",
		slog.String("username", username),
		slog.Bool("satisfied", v.Satisfied),
		slog.Int("selected", len(v.SelectedIDs)))
	return v
}

// resolveSelection maps judge entries to post ids. Entries are ids; an entry
// that matches no id but is a valid zero-based position is accepted as a
// legacy index.
func (j *PostJudge) resolveSelection(entries []string, posts []domain.SocialPost) []string {
	known := make(map[string]bool, len(posts))
	for _, p := range posts {
		known[p.ID] = true
	}
	seen := make(map[string]bool)
	var ids []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		id := e
		if !known[id] {
			idx, err := strconv.Atoi(e)
			if err != nil || idx < 0 || idx >= len(posts) {
				j.logger.Warn("judge selected unknown post", slog.String("entry", e))
				continue
			}
			id = posts[idx].ID
			j.logger.Warn("judge selected post by index", slog.Int("index", idx), slog.String("post_id", id))
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}
