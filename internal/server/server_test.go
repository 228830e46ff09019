package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/poemsforaphrodite/podcast/internal/analysis"
	"github.com/poemsforaphrodite/podcast/internal/config"
	"github.com/poemsforaphrodite/podcast/internal/database"
	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/evaluate"
	"github.com/poemsforaphrodite/podcast/internal/pipeline"
	"github.com/poemsforaphrodite/podcast/internal/session"
)

type fakeWorkflows struct {
	searchErr   error
	lastN       int
	lastAgentic bool
	usernames   []string
	analyzedIDs []string
	method      domain.Method
	channel     string
	channelN    int
	channelErr  error
}

func (f *fakeWorkflows) NaturalSearch(_ context.Context, q string, n int, agentic bool) (*pipeline.SearchOutput, error) {
	f.lastN, f.lastAgentic = n, agentic
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	views := int64(1200)
	out := &pipeline.SearchOutput{
		Query:   q,
		Results: []domain.SearchResult{{ID: "v1", Title: "Deep Dive Podcast", ChannelName: "Deep Dive", ViewCount: &views, URL: domain.WatchURL("v1")}},
	}
	if agentic {
		out.Verdict = &evaluate.Verdict{Satisfied: true, Reason: "Results are **relevant**"}
	}
	return out, nil
}

func (f *fakeWorkflows) LoadPosts(_ context.Context, usernames []string, n int, agentic bool) (*pipeline.PostsOutput, error) {
	f.usernames = usernames
	out := &pipeline.PostsOutput{
		Usernames: usernames,
		Posts: []domain.SocialPost{
			{ID: "p1", Caption: "Talking with Lex about robots", VideoURL: "https://cdn/p1.mp4"},
			{ID: "p2", Caption: "Behind the scenes"},
		},
	}
	if agentic {
		out.Selected = []string{"p1"}
		out.Verdicts = []pipeline.UserVerdict{{Username: usernames[0], Verdict: evaluate.Verdict{Satisfied: true, Reason: "p1 mentions a guest"}}}
	}
	return out, nil
}

func (f *fakeWorkflows) Analyze(_ context.Context, posts []domain.SocialPost, ids []string, m domain.Method, _ analysis.ProgressFunc) (*pipeline.AnalysisOutput, error) {
	f.analyzedIDs, f.method = ids, m
	var records []domain.AnalysisRecord
	for _, p := range posts {
		if p.ID != ids[0] {
			continue
		}
		records = append(records, domain.AnalysisRecord{Post: p, References: []domain.BackendReference{{
			Method:    m,
			Reference: domain.PodcastReference{Title: "Lex Fridman Podcast #400", Channel: "Lex Fridman", URL: "https://youtube.com/watch?v=x"},
		}}})
	}
	return &pipeline.AnalysisOutput{Method: m, Records: records}, nil
}

func (f *fakeWorkflows) AnalyzeChannel(_ context.Context, username string, n int, _ analysis.ProgressFunc) (*pipeline.ChannelOutput, error) {
	f.channel, f.channelN = username, n
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	post := domain.SocialPost{ID: "p7", Caption: "Clip from the Huberman episode"}
	return &pipeline.ChannelOutput{
		Username: username,
		Posts:    []domain.SocialPost{post, {ID: "p8", Caption: "Gym vlog"}},
		Verdict:  &evaluate.Verdict{Satisfied: true, Reason: "p7 names a podcast"},
		Records: []domain.AnalysisRecord{{Post: post, References: []domain.BackendReference{
			{Method: domain.MethodCaption, Reference: domain.PodcastReference{Title: "Huberman Lab", Channel: "Andrew Huberman", URL: "https://youtube.com/watch?v=h"}},
			{Method: domain.MethodMultimodal, Reference: domain.PodcastReference{Error: "video unavailable"}},
		}}},
	}, nil
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB, wf Workflows) *Server {
	t.Helper()
	srv, err := New(db, wf, config.Default(), nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

// client replays the session cookie across requests.
type client struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
}

func (c *client) do(method, path string, form url.Values) *httptest.ResponseRecorder {
	c.t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == session.CookieName {
			c.cookie = ck
		}
	}
	return rec
}

func TestSearchPage(t *testing.T) {
	srv := newTestServer(t, nil, &fakeWorkflows{})
	c := &client{t: t, h: srv.Handler()}

	rec := c.do(http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Natural Search") {
		t.Error("expected 'Natural Search' in response body")
	}
	if c.cookie == nil {
		t.Error("expected a session cookie")
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t, nil, &fakeWorkflows{})
	c := &client{t: t, h: srv.Handler()}
	if rec := c.do(http.MethodGet, "/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestSearchFlow(t *testing.T) {
	wf := &fakeWorkflows{}
	srv := newTestServer(t, nil, wf)
	c := &client{t: t, h: srv.Handler()}
	c.do(http.MethodGet, "/", nil)

	rec := c.do(http.MethodPost, "/search", url.Values{"query": {"robotics podcasts"}, "max_results": {"999"}, "agentic": {"1"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if wf.lastN != config.Default().Search.MaxResultsLimit {
		t.Errorf("max results = %d, want clamped to limit", wf.lastN)
	}
	if !wf.lastAgentic {
		t.Error("expected agentic search")
	}

	body := c.do(http.MethodGet, "/", nil).Body.String()
	for _, want := range []string{"Deep Dive Podcast", "1200", "<strong>relevant</strong>", "robotics podcasts"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	srv := newTestServer(t, nil, &fakeWorkflows{})
	c := &client{t: t, h: srv.Handler()}
	rec := c.do(http.MethodPost, "/search", url.Values{"query": {"  "}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Enter a search query") {
		t.Errorf("expected inline validation message, got %d", rec.Code)
	}
}

func TestSearchFailureShowsError(t *testing.T) {
	srv := newTestServer(t, nil, &fakeWorkflows{searchErr: errors.New("apify token missing")})
	c := &client{t: t, h: srv.Handler()}
	rec := c.do(http.MethodPost, "/search", url.Values{"query": {"x"}})
	if !strings.Contains(rec.Body.String(), "apify token missing") {
		t.Error("expected error message in page")
	}
}

func TestChannelLoadAndAnalyze(t *testing.T) {
	wf := &fakeWorkflows{}
	srv := newTestServer(t, nil, wf)
	c := &client{t: t, h: srv.Handler()}

	rec := c.do(http.MethodPost, "/channel/load", url.Values{"usernames": {"@lexfridman, hubermanlab"}, "agentic": {"1"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if len(wf.usernames) != 2 || wf.usernames[0] != "lexfridman" {
		t.Errorf("usernames = %v", wf.usernames)
	}

	body := c.do(http.MethodGet, "/channel", nil).Body.String()
	if !strings.Contains(body, "1 of 2 selected") {
		t.Error("expected judge preselection to be shown")
	}
	if !strings.Contains(body, "p1 mentions a guest") {
		t.Error("expected judge verdict in page")
	}

	rec = c.do(http.MethodPost, "/channel/analyze", url.Values{"post": {"p1"}, "method": {"transcription"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if wf.method != domain.MethodTranscription || len(wf.analyzedIDs) != 1 || wf.analyzedIDs[0] != "p1" {
		t.Errorf("analyzed %v with %s", wf.analyzedIDs, wf.method)
	}

	body = c.do(http.MethodGet, "/channel", nil).Body.String()
	if !strings.Contains(body, "Lex Fridman Podcast #400") {
		t.Error("expected analysis result in page")
	}

	c.do(http.MethodPost, "/channel/clear", nil)
	body = c.do(http.MethodGet, "/channel", nil).Body.String()
	if strings.Contains(body, "Lex Fridman Podcast #400") || strings.Contains(body, "Behind the scenes") {
		t.Error("expected clear to drop posts and results")
	}
}

func TestChannelLoadFallsBackToDropdown(t *testing.T) {
	wf := &fakeWorkflows{}
	srv := newTestServer(t, nil, wf)
	c := &client{t: t, h: srv.Handler()}

	c.do(http.MethodPost, "/channel/load", url.Values{"channel": {"theplanetaryguy"}, "usernames": {""}})
	if len(wf.usernames) != 1 || wf.usernames[0] != "theplanetaryguy" {
		t.Errorf("usernames = %v", wf.usernames)
	}
}

func TestAnalyzeWithoutSelection(t *testing.T) {
	wf := &fakeWorkflows{}
	srv := newTestServer(t, nil, wf)
	c := &client{t: t, h: srv.Handler()}
	c.do(http.MethodPost, "/channel/load", url.Values{"usernames": {"a"}})

	rec := c.do(http.MethodPost, "/channel/analyze", url.Values{"method": {"Caption"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Select at least one post") {
		t.Errorf("expected inline selection error, got %d", rec.Code)
	}
	if wf.analyzedIDs != nil {
		t.Error("analyze should not run without a selection")
	}
}

func TestChannelAutoAnalyze(t *testing.T) {
	wf := &fakeWorkflows{}
	srv := newTestServer(t, nil, wf)
	c := &client{t: t, h: srv.Handler()}

	rec := c.do(http.MethodPost, "/channel/auto", url.Values{"usernames": {"@hubermanlab, other"}, "max_results": {"5"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d", rec.Code)
	}
	if wf.channel != "hubermanlab" || wf.channelN != 5 {
		t.Errorf("AnalyzeChannel(%q, %d)", wf.channel, wf.channelN)
	}

	body := c.do(http.MethodGet, "/channel", nil).Body.String()
	for _, want := range []string{"1 of 2 selected", "p7 names a podcast", "Huberman Lab", "video unavailable", "all methods", "Multimodal"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in page", want)
		}
	}
}

func TestChannelAutoAnalyzeFailure(t *testing.T) {
	srv := newTestServer(t, nil, &fakeWorkflows{channelErr: errors.New("no default channel")})
	c := &client{t: t, h: srv.Handler()}

	rec := c.do(http.MethodPost, "/channel/auto", url.Values{"channel": {""}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Channel analysis failed: no default channel") {
		t.Errorf("expected inline failure, got %d", rec.Code)
	}
}

func TestHistoryRoute(t *testing.T) {
	db := openTestDB(t)
	id, err := db.StartRun(database.WorkflowSearch, "robotics podcasts", "")
	if err != nil {
		t.Fatal(err)
	}
	if err := db.FinishRun(id, database.RunSummary{Status: database.StatusOK, ItemCount: 7, JudgeRounds: 1}); err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(t, db, &fakeWorkflows{})
	c := &client{t: t, h: srv.Handler()}
	rec := c.do(http.MethodGet, "/history", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "robotics podcasts") {
		t.Error("expected run input in history page")
	}
}

func TestHistoryDisabledWithoutDB(t *testing.T) {
	srv := newTestServer(t, nil, &fakeWorkflows{})
	c := &client{t: t, h: srv.Handler()}
	rec := c.do(http.MethodGet, "/history", nil)
	if !strings.Contains(rec.Body.String(), "Run history is disabled") {
		t.Error("expected disabled notice")
	}
}

func TestStaticCSS(t *testing.T) {
	srv := newTestServer(t, nil, &fakeWorkflows{})
	c := &client{t: t, h: srv.Handler()}
	if rec := c.do(http.MethodGet, "/static/style.css", nil); rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRenderMarkdown(t *testing.T) {
	got := string(renderMarkdown("**bold**"))
	if !strings.Contains(got, "<strong>bold</strong>") {
		t.Errorf("renderMarkdown = %q", got)
	}
}
