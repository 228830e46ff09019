package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poemsforaphrodite/podcast/internal/analysis"
	"github.com/poemsforaphrodite/podcast/internal/database"
	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/evaluate"
)

// StepResult holds the result of a single workflow step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Scraper finds videos and posts.
type Scraper interface {
	SearchVideos(ctx context.Context, query string, maxResults int) ([]domain.SearchResult, error)
	SearchPosts(ctx context.Context, username string, maxResults int) ([]domain.SocialPost, error)
}

// Analyzer runs extraction backends over selected posts.
type Analyzer interface {
	Analyze(ctx context.Context, posts []domain.SocialPost, selectedIDs []string, method domain.Method, progress analysis.ProgressFunc) ([]domain.AnalysisRecord, error)
	AnalyzeChannel(ctx context.Context, posts []domain.SocialPost, selectedIDs []string, progress analysis.ProgressFunc) []domain.AnalysisRecord
}

// History records workflow runs. *database.DB satisfies it.
type History interface {
	StartRun(workflow, input, method string) (string, error)
	FinishRun(id string, s database.RunSummary) error
}

// Deps are the collaborators a Service needs.
type Deps struct {
	Scraper        Scraper
	SearchJudge    evaluate.Judge[domain.SearchResult]
	PostJudge      evaluate.Judge[domain.SocialPost]
	Analyzer       Analyzer
	History        History
	DefaultChannel string
	Logger         *slog.Logger
}

// Service runs the user-facing workflows.
type Service struct {
	deps     Deps
	searches *evaluate.Loop[domain.SearchResult]
	channels *evaluate.Loop[domain.SocialPost]
	logger   *slog.Logger
}

// New creates a service from its collaborators.
func New(deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		deps: deps,
		searches: &evaluate.Loop[domain.SearchResult]{
			Fetch:  deps.Scraper.SearchVideos,
			Judge:  deps.SearchJudge,
			ID:     func(r domain.SearchResult) string { return r.ID },
			Logger: logger,
		},
		channels: &evaluate.Loop[domain.SocialPost]{
			Fetch:  deps.Scraper.SearchPosts,
			Judge:  deps.PostJudge,
			ID:     func(p domain.SocialPost) string { return p.ID },
			Logger: logger,
		},
		logger: logger,
	}
}

// SearchOutput is the result of a natural search.
type SearchOutput struct {
	Query   string
	Results []domain.SearchResult
	Agentic bool
	Status  evaluate.Status
	Verdict *evaluate.Verdict
	Queries []string
	Steps   []StepResult
}

// NaturalSearch searches videos for query and returns them sorted by views.
// Agentic mode lets the judge refine the query once.
func (s *Service) NaturalSearch(ctx context.Context, query string, maxResults int, agentic bool) (*SearchOutput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	out := &SearchOutput{Query: query, Agentic: agentic}
	run := s.startRun(database.WorkflowSearch, query, "")

	if !agentic {
		results, err := s.deps.Scraper.SearchVideos(ctx, query, maxResults)
		if err != nil {
			run.fail(err)
			return nil, err
		}
		out.Results = results
		out.Status = evaluate.Accepted
		if len(results) == 0 {
			out.Status = evaluate.NoResults
		}
		out.Steps = append(out.Steps, StepResult{Name: "Search", Summary: fmt.Sprintf("Found %d videos", len(results))})
	} else {
		res, err := s.searches.RefineQueries(ctx, query, maxResults)
		if err != nil {
			run.fail(err)
			return nil, err
		}
		out.Results = res.Items
		out.Status = res.Status
		out.Queries = res.Queries
		if res.Rounds > 0 {
			v := res.Verdict
			out.Verdict = &v
		}
		out.Steps = append(out.Steps,
			StepResult{Name: "Search", Summary: fmt.Sprintf("Judged %d round(s), status %s", res.Rounds, res.Status)},
		)
		if len(res.Queries) > 0 {
			out.Steps = append(out.Steps, StepResult{Name: "Refine", Summary: "Tried: " + strings.Join(res.Queries, "; ")})
		}
		run.rounds = res.Rounds
	}

	domain.SortByViews(out.Results)
	run.finish(len(out.Results), 0, string(out.Status))
	return out, nil
}

// UserVerdict is the judge outcome for one account.
type UserVerdict struct {
	Username string
	Status   evaluate.Status
	Verdict  evaluate.Verdict
	Rounds   int
}

// PostsOutput is the result of loading posts for one or more accounts.
type PostsOutput struct {
	Usernames []string
	Posts     []domain.SocialPost
	// Selected is the judge's pick in agentic mode.
	Selected []string
	Verdicts []UserVerdict
	Steps    []StepResult
}

// ParseUsernames splits a comma-separated list, dropping blanks, a leading
// "@" and duplicates.
func ParseUsernames(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(s, ",") {
		u := strings.TrimPrefix(strings.TrimSpace(part), "@")
		if u == "" || seen[strings.ToLower(u)] {
			continue
		}
		seen[strings.ToLower(u)] = true
		out = append(out, u)
	}
	return out
}

// LoadPosts fetches posts for every username in order. An empty list falls
// back to the default channel. A failing account is reported as a step error;
// the call fails only when every account fails.
func (s *Service) LoadPosts(ctx context.Context, usernames []string, maxResults int, agentic bool) (*PostsOutput, error) {
	if len(usernames) == 0 && s.deps.DefaultChannel != "" {
		usernames = []string{s.deps.DefaultChannel}
	}
	if len(usernames) == 0 {
		return nil, errors.New("no usernames given and no default channel configured")
	}
	out := &PostsOutput{Usernames: usernames}
	run := s.startRun(database.WorkflowPosts, strings.Join(usernames, ","), "")

	var all []domain.SocialPost
	var selected []string
	failures := 0
	for _, u := range usernames {
		if !agentic {
			posts, err := s.deps.Scraper.SearchPosts(ctx, u, maxResults)
			if err != nil {
				failures++
				out.Steps = append(out.Steps, StepResult{Name: "Load @" + u, Err: err})
				continue
			}
			all = append(all, posts...)
			out.Steps = append(out.Steps, StepResult{Name: "Load @" + u, Summary: fmt.Sprintf("Fetched %d posts", len(posts))})
			continue
		}

		res, err := s.channels.Widen(ctx, u, maxResults)
		if err != nil {
			failures++
			out.Steps = append(out.Steps, StepResult{Name: "Load @" + u, Err: err})
			continue
		}
		all = append(all, res.Items...)
		for _, p := range res.Selected {
			selected = append(selected, p.ID)
		}
		out.Verdicts = append(out.Verdicts, UserVerdict{Username: u, Status: res.Status, Verdict: res.Verdict, Rounds: res.Rounds})
		run.rounds += res.Rounds
		out.Steps = append(out.Steps, StepResult{
			Name:    "Load @" + u,
			Summary: fmt.Sprintf("Fetched %d posts, judge selected %d (%s)", len(res.Items), len(res.Selected), res.Status),
		})
	}

	if failures == len(usernames) {
		err := fmt.Errorf("fetching posts failed for every account: %w", firstErr(out.Steps))
		run.fail(err)
		return nil, err
	}

	out.Posts = evaluate.Dedupe(all, func(p domain.SocialPost) string { return p.ID })
	out.Selected = selected
	run.finish(len(out.Posts), failures, "")
	return out, nil
}

// AnalysisOutput is the result of analyzing selected posts.
type AnalysisOutput struct {
	Method  domain.Method
	Records []domain.AnalysisRecord
	Errors  int
	Steps   []StepResult
}

// Analyze runs method over the selected posts.
func (s *Service) Analyze(ctx context.Context, posts []domain.SocialPost, selectedIDs []string, method domain.Method, progress analysis.ProgressFunc) (*AnalysisOutput, error) {
	if len(selectedIDs) == 0 {
		return nil, errors.New("no posts selected")
	}
	run := s.startRun(database.WorkflowAnalyze, strings.Join(selectedIDs, ","), string(method))

	records, err := s.deps.Analyzer.Analyze(ctx, posts, selectedIDs, method, progress)
	if err != nil {
		run.fail(err)
		return nil, err
	}
	out := &AnalysisOutput{Method: method, Records: records, Errors: countErrors(records)}
	out.Steps = append(out.Steps, StepResult{
		Name:    "Analyze",
		Summary: fmt.Sprintf("Analyzed %d posts with %s, %d with errors", len(records), method, out.Errors),
	})
	run.finish(len(records), out.Errors, "")
	return out, nil
}

// ChannelOutput is the result of an agentic channel analysis.
type ChannelOutput struct {
	Username string
	Posts    []domain.SocialPost
	Status   evaluate.Status
	Verdict  *evaluate.Verdict
	Records  []domain.AnalysisRecord
	Errors   int
	Steps    []StepResult
}

// AnalyzeChannel lets the judge pick posts from username, widening the fetch
// once if needed, then runs every applicable backend on the picks.
func (s *Service) AnalyzeChannel(ctx context.Context, username string, maxResults int, progress analysis.ProgressFunc) (*ChannelOutput, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		username = s.deps.DefaultChannel
	}
	if username == "" {
		return nil, errors.New("no username given and no default channel configured")
	}
	run := s.startRun(database.WorkflowChannel, username, "all")

	res, err := s.channels.Widen(ctx, username, maxResults)
	if err != nil {
		run.fail(err)
		return nil, err
	}
	out := &ChannelOutput{Username: username, Posts: res.Items, Status: res.Status}
	run.rounds = res.Rounds
	if res.Rounds > 0 {
		v := res.Verdict
		out.Verdict = &v
	}
	out.Steps = append(out.Steps, StepResult{
		Name:    "Evaluate",
		Summary: fmt.Sprintf("%d posts, %d selected after %d round(s)", len(res.Items), len(res.Selected), res.Rounds),
	})

	if len(res.Selected) > 0 {
		ids := make([]string, 0, len(res.Selected))
		for _, p := range res.Selected {
			ids = append(ids, p.ID)
		}
		out.Records = s.deps.Analyzer.AnalyzeChannel(ctx, res.Items, ids, progress)
		out.Errors = countErrors(out.Records)
		out.Steps = append(out.Steps, StepResult{
			Name:    "Analyze",
			Summary: fmt.Sprintf("Analyzed %d posts, %d with errors", len(out.Records), out.Errors),
		})
	}

	run.finish(len(out.Records), out.Errors, string(res.Status))
	return out, nil
}

func countErrors(records []domain.AnalysisRecord) int {
	n := 0
	for _, r := range records {
		if r.HasError() {
			n++
		}
	}
	return n
}

func firstErr(steps []StepResult) error {
	for _, s := range steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return errors.New("unknown error")
}

// runRecord tracks one history row. A nil history or a failed insert turns
// every method into a no-op so recording never breaks a workflow.
type runRecord struct {
	history History
	id      string
	rounds  int
	logger  *slog.Logger
}

func (s *Service) startRun(workflow, input, method string) *runRecord {
	r := &runRecord{history: s.deps.History, logger: s.logger}
	if r.history == nil {
		return r
	}
	id, err := r.history.StartRun(workflow, input, method)
	if err != nil {
		s.logger.Warn("recording run failed", slog.String("workflow", workflow), slog.Any("error", err))
		r.history = nil
		return r
	}
	r.id = id
	return r
}

func (r *runRecord) finish(items, errs int, detail string) {
	status := database.StatusOK
	if errs > 0 {
		status = database.StatusPartial
	}
	r.save(database.RunSummary{Status: status, ItemCount: items, ErrorCount: errs, JudgeRounds: r.rounds, Detail: detail})
}

func (r *runRecord) fail(err error) {
	r.save(database.RunSummary{Status: database.StatusFailed, ErrorCount: 1, JudgeRounds: r.rounds, Detail: err.Error()})
}

func (r *runRecord) save(s database.RunSummary) {
	if r.history == nil {
		return
	}
	if err := r.history.FinishRun(r.id, s); err != nil {
		r.logger.Warn("updating run failed", slog.String("run_id", r.id), slog.Any("error", err))
	}
}
