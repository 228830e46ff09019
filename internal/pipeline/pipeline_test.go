package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/poemsforaphrodite/podcast/internal/analysis"
	"github.com/poemsforaphrodite/podcast/internal/database"
	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/evaluate"
)

type fakeScraper struct {
	mu      sync.Mutex
	videos  map[string][]domain.SearchResult
	posts   map[string][]domain.SocialPost
	errs    map[string]error
	queries []string
	sizes   []int
}

func (f *fakeScraper) SearchVideos(_ context.Context, q string, n int) ([]domain.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.errs[q]; err != nil {
		return nil, err
	}
	return f.videos[q], nil
}

func (f *fakeScraper) SearchPosts(_ context.Context, u string, n int) ([]domain.SocialPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, u)
	f.sizes = append(f.sizes, n)
	if err := f.errs[u]; err != nil {
		return nil, err
	}
	posts := f.posts[u]
	if n < len(posts) {
		posts = posts[:n]
	}
	return posts, nil
}

type scriptedJudge[T any] struct {
	verdicts []evaluate.Verdict
	calls    int
}

func (j *scriptedJudge[T]) Judge(_ context.Context, _ string, _ []T) evaluate.Verdict {
	v := j.verdicts[min(j.calls, len(j.verdicts)-1)]
	j.calls++
	return v
}

type fakeAnalyzer struct {
	ids     []string
	method  domain.Method
	channel bool
	err     error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, posts []domain.SocialPost, ids []string, m domain.Method, progress analysis.ProgressFunc) ([]domain.AnalysisRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.ids, f.method = ids, m
	return records(posts, ids), nil
}

func (f *fakeAnalyzer) AnalyzeChannel(_ context.Context, posts []domain.SocialPost, ids []string, progress analysis.ProgressFunc) []domain.AnalysisRecord {
	f.ids, f.channel = ids, true
	return records(posts, ids)
}

func records(posts []domain.SocialPost, ids []string) []domain.AnalysisRecord {
	var out []domain.AnalysisRecord
	for _, id := range ids {
		for _, p := range posts {
			if p.ID != id {
				continue
			}
			ref := domain.PodcastReference{Title: "Show " + id}
			if id == "bad" {
				ref = domain.FailedReference(domain.Failf(domain.UpstreamError, "boom"))
			}
			out = append(out, domain.AnalysisRecord{
				Post:       p,
				References: []domain.BackendReference{{Method: domain.MethodCaption, Reference: ref}},
			})
		}
	}
	return out
}

type fakeHistory struct {
	started  []string
	finished []database.RunSummary
	startErr error
}

func (h *fakeHistory) StartRun(workflow, input, method string) (string, error) {
	if h.startErr != nil {
		return "", h.startErr
	}
	h.started = append(h.started, workflow+":"+input)
	return fmt.Sprintf("run-%d", len(h.started)), nil
}

func (h *fakeHistory) FinishRun(_ string, s database.RunSummary) error {
	h.finished = append(h.finished, s)
	return nil
}

func views(n int64) *int64 { return &n }

func posts(ids ...string) []domain.SocialPost {
	out := make([]domain.SocialPost, len(ids))
	for i, id := range ids {
		out[i] = domain.SocialPost{ID: id, Caption: "caption " + id}
	}
	return out
}

func TestParseUsernames(t *testing.T) {
	got := ParseUsernames(" @alice, bob ,, Alice ,carol")
	want := []string{"alice", "bob", "carol"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if ParseUsernames(" , ") != nil {
		t.Error("expected nil for blank list")
	}
}

func TestNaturalSearchSortsByViews(t *testing.T) {
	scraper := &fakeScraper{videos: map[string][]domain.SearchResult{
		"ai podcasts": {
			{ID: "a", ViewCount: views(10)},
			{ID: "b"},
			{ID: "c", ViewCount: views(500)},
		},
	}}
	history := &fakeHistory{}
	svc := New(Deps{Scraper: scraper, History: history})

	out, err := svc.NaturalSearch(context.Background(), "  ai podcasts ", 3, false)
	if err != nil {
		t.Fatalf("NaturalSearch: %v", err)
	}
	order := []string{out.Results[0].ID, out.Results[1].ID, out.Results[2].ID}
	if order[0] != "c" || order[1] != "a" || order[2] != "b" {
		t.Errorf("order = %v, want [c a b]", order)
	}
	if out.Status != evaluate.Accepted || out.Verdict != nil {
		t.Errorf("status = %s, verdict = %v", out.Status, out.Verdict)
	}
	if len(history.finished) != 1 || history.finished[0].Status != database.StatusOK || history.finished[0].ItemCount != 3 {
		t.Errorf("history = %+v", history.finished)
	}
}

func TestNaturalSearchEmptyQuery(t *testing.T) {
	svc := New(Deps{Scraper: &fakeScraper{}})
	if _, err := svc.NaturalSearch(context.Background(), "  ", 5, false); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestNaturalSearchAgenticRefines(t *testing.T) {
	scraper := &fakeScraper{videos: map[string][]domain.SearchResult{
		"q":  {{ID: "a"}},
		"q1": {{ID: "b", ViewCount: views(1)}, {ID: "a"}},
		"q2": {{ID: "c", ViewCount: views(9)}},
	}}
	judge := &scriptedJudge[domain.SearchResult]{verdicts: []evaluate.Verdict{
		{Satisfied: false, Reason: "too few", SuggestedQueries: []string{"q1", "q2"}},
	}}
	history := &fakeHistory{}
	svc := New(Deps{Scraper: scraper, SearchJudge: judge, History: history})

	out, err := svc.NaturalSearch(context.Background(), "q", 5, true)
	if err != nil {
		t.Fatalf("NaturalSearch: %v", err)
	}
	if out.Status != evaluate.Refined {
		t.Errorf("status = %s, want refined", out.Status)
	}
	if judge.calls != 1 {
		t.Errorf("judge calls = %d, want 1", judge.calls)
	}
	if len(out.Results) != 3 || out.Results[0].ID != "c" {
		t.Errorf("results = %+v", out.Results)
	}
	if out.Verdict == nil || out.Verdict.Reason != "too few" {
		t.Errorf("verdict = %+v", out.Verdict)
	}
	if history.finished[0].JudgeRounds != 1 {
		t.Errorf("judge rounds = %d", history.finished[0].JudgeRounds)
	}
}

func TestNaturalSearchFailureRecorded(t *testing.T) {
	scraper := &fakeScraper{errs: map[string]error{"q": errors.New("apify down")}}
	history := &fakeHistory{}
	svc := New(Deps{Scraper: scraper, History: history})

	if _, err := svc.NaturalSearch(context.Background(), "q", 5, false); err == nil {
		t.Fatal("expected error")
	}
	if len(history.finished) != 1 || history.finished[0].Status != database.StatusFailed {
		t.Errorf("history = %+v", history.finished)
	}
}

func TestLoadPostsDefaultChannel(t *testing.T) {
	scraper := &fakeScraper{posts: map[string][]domain.SocialPost{"lexfridman": posts("1", "2")}}
	svc := New(Deps{Scraper: scraper, DefaultChannel: "lexfridman"})

	out, err := svc.LoadPosts(context.Background(), nil, 10, false)
	if err != nil {
		t.Fatalf("LoadPosts: %v", err)
	}
	if len(out.Usernames) != 1 || out.Usernames[0] != "lexfridman" {
		t.Errorf("usernames = %v", out.Usernames)
	}
	if len(out.Posts) != 2 {
		t.Errorf("posts = %d, want 2", len(out.Posts))
	}
}

func TestLoadPostsPartialFailure(t *testing.T) {
	scraper := &fakeScraper{
		posts: map[string][]domain.SocialPost{"a": posts("1", "2"), "c": posts("2", "3")},
		errs:  map[string]error{"b": errors.New("private account")},
	}
	history := &fakeHistory{}
	svc := New(Deps{Scraper: scraper, History: history})

	out, err := svc.LoadPosts(context.Background(), []string{"a", "b", "c"}, 10, false)
	if err != nil {
		t.Fatalf("LoadPosts: %v", err)
	}
	if len(out.Posts) != 3 {
		t.Errorf("posts = %d, want 3 after dedupe", len(out.Posts))
	}
	if out.Steps[1].Err == nil {
		t.Error("expected step error for b")
	}
	if history.finished[0].Status != database.StatusPartial || history.finished[0].ErrorCount != 1 {
		t.Errorf("history = %+v", history.finished[0])
	}
}

func TestLoadPostsAllFail(t *testing.T) {
	scraper := &fakeScraper{errs: map[string]error{"a": errors.New("nope")}}
	svc := New(Deps{Scraper: scraper})
	if _, err := svc.LoadPosts(context.Background(), []string{"a"}, 10, false); err == nil {
		t.Error("expected error when every account fails")
	}
}

func TestLoadPostsNoUsernames(t *testing.T) {
	svc := New(Deps{Scraper: &fakeScraper{}})
	if _, err := svc.LoadPosts(context.Background(), nil, 10, false); err == nil {
		t.Error("expected error without usernames or default channel")
	}
}

func TestLoadPostsAgenticSelection(t *testing.T) {
	scraper := &fakeScraper{posts: map[string][]domain.SocialPost{"a": posts("1", "2", "3", "4")}}
	judge := &scriptedJudge[domain.SocialPost]{verdicts: []evaluate.Verdict{
		{Satisfied: false, Reason: "need more"},
		{Satisfied: true, SelectedIDs: []string{"4", "2"}},
	}}
	svc := New(Deps{Scraper: scraper, PostJudge: judge})

	out, err := svc.LoadPosts(context.Background(), []string{"a"}, 2, true)
	if err != nil {
		t.Fatalf("LoadPosts: %v", err)
	}
	if judge.calls != 2 {
		t.Errorf("judge calls = %d, want 2", judge.calls)
	}
	if len(scraper.sizes) != 2 || scraper.sizes[1] != 4 {
		t.Errorf("fetch sizes = %v, want [2 4]", scraper.sizes)
	}
	if len(out.Selected) != 2 || out.Selected[0] != "2" || out.Selected[1] != "4" {
		t.Errorf("selected = %v, want [2 4]", out.Selected)
	}
	if len(out.Verdicts) != 1 || out.Verdicts[0].Rounds != 2 {
		t.Errorf("verdicts = %+v", out.Verdicts)
	}
}

func TestAnalyze(t *testing.T) {
	analyzer := &fakeAnalyzer{}
	history := &fakeHistory{}
	svc := New(Deps{Scraper: &fakeScraper{}, Analyzer: analyzer, History: history})

	out, err := svc.Analyze(context.Background(), posts("1", "bad"), []string{"1", "bad"}, domain.MethodCaption, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(out.Records) != 2 || out.Errors != 1 {
		t.Errorf("records = %d, errors = %d", len(out.Records), out.Errors)
	}
	if analyzer.method != domain.MethodCaption {
		t.Errorf("method = %s", analyzer.method)
	}
	if history.finished[0].Status != database.StatusPartial {
		t.Errorf("status = %s, want partial", history.finished[0].Status)
	}
}

func TestAnalyzeRequiresSelection(t *testing.T) {
	svc := New(Deps{Scraper: &fakeScraper{}, Analyzer: &fakeAnalyzer{}})
	if _, err := svc.Analyze(context.Background(), posts("1"), nil, domain.MethodCaption, nil); err == nil {
		t.Error("expected error for empty selection")
	}
}

func TestAnalyzePropagatesError(t *testing.T) {
	svc := New(Deps{Scraper: &fakeScraper{}, Analyzer: &fakeAnalyzer{err: errors.New("unknown method")}})
	if _, err := svc.Analyze(context.Background(), posts("1"), []string{"1"}, "Bogus", nil); err == nil {
		t.Error("expected error")
	}
}

func TestAnalyzeChannel(t *testing.T) {
	scraper := &fakeScraper{posts: map[string][]domain.SocialPost{"pod": posts("1", "2", "3")}}
	judge := &scriptedJudge[domain.SocialPost]{verdicts: []evaluate.Verdict{
		{Satisfied: true, SelectedIDs: []string{"3", "1"}},
	}}
	analyzer := &fakeAnalyzer{}
	svc := New(Deps{Scraper: scraper, PostJudge: judge, Analyzer: analyzer})

	out, err := svc.AnalyzeChannel(context.Background(), "@pod", 5, nil)
	if err != nil {
		t.Fatalf("AnalyzeChannel: %v", err)
	}
	if !analyzer.channel {
		t.Error("expected channel analysis")
	}
	if len(analyzer.ids) != 2 || analyzer.ids[0] != "1" || analyzer.ids[1] != "3" {
		t.Errorf("analyzed ids = %v, want [1 3]", analyzer.ids)
	}
	if out.Status != evaluate.Accepted || len(out.Records) != 2 {
		t.Errorf("status = %s, records = %d", out.Status, len(out.Records))
	}
}

func TestAnalyzeChannelNothingSelected(t *testing.T) {
	scraper := &fakeScraper{posts: map[string][]domain.SocialPost{"pod": posts("1")}}
	judge := &scriptedJudge[domain.SocialPost]{verdicts: []evaluate.Verdict{{Satisfied: true}}}
	analyzer := &fakeAnalyzer{}
	svc := New(Deps{Scraper: scraper, PostJudge: judge, Analyzer: analyzer})

	out, err := svc.AnalyzeChannel(context.Background(), "pod", 5, nil)
	if err != nil {
		t.Fatalf("AnalyzeChannel: %v", err)
	}
	if analyzer.channel || len(out.Records) != 0 {
		t.Error("analyzer should not run without a selection")
	}
}

func TestHistoryFailureDoesNotBreakWorkflow(t *testing.T) {
	scraper := &fakeScraper{videos: map[string][]domain.SearchResult{"q": {{ID: "a"}}}}
	history := &fakeHistory{startErr: errors.New("disk full")}
	svc := New(Deps{Scraper: scraper, History: history})

	if _, err := svc.NaturalSearch(context.Background(), "q", 5, false); err != nil {
		t.Fatalf("NaturalSearch: %v", err)
	}
	if len(history.finished) != 0 {
		t.Error("finish should be skipped after a failed start")
	}
}
