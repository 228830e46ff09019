package server

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/poemsforaphrodite/podcast/internal/analysis"
	"github.com/poemsforaphrodite/podcast/internal/config"
	"github.com/poemsforaphrodite/podcast/internal/database"
	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/evaluate"
	"github.com/poemsforaphrodite/podcast/internal/pipeline"
	"github.com/poemsforaphrodite/podcast/internal/session"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Workflows is the part of the pipeline the dashboard drives.
type Workflows interface {
	NaturalSearch(ctx context.Context, query string, maxResults int, agentic bool) (*pipeline.SearchOutput, error)
	LoadPosts(ctx context.Context, usernames []string, maxResults int, agentic bool) (*pipeline.PostsOutput, error)
	Analyze(ctx context.Context, posts []domain.SocialPost, selectedIDs []string, method domain.Method, progress analysis.ProgressFunc) (*pipeline.AnalysisOutput, error)
	AnalyzeChannel(ctx context.Context, username string, maxResults int, progress analysis.ProgressFunc) (*pipeline.ChannelOutput, error)
}

// Server is the HTTP dashboard.
type Server struct {
	db       *database.DB
	wf       Workflows
	cfg      *config.Config
	sessions *session.Store
	pages    map[string]*template.Template
	mux      *http.ServeMux
	logger   *slog.Logger
}

// New creates a new Server. db may be nil, which disables the history page.
func New(db *database.DB, wf Workflows, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"preview": func(p domain.SocialPost) string { return p.CaptionPreview(120) },
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone so their {{define "content"}} blocks don't collide.
	pageNames := []string{"search.html", "channel.html", "history.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		db:       db,
		wf:       wf,
		cfg:      cfg,
		sessions: session.NewStore(cfg.Server.MaxSessions, cfg.Server.SessionTTL, cfg.Server.SecureCookie),
		pages:    pages,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleSearchPage)
	s.mux.HandleFunc("POST /search", s.handleSearch)
	s.mux.HandleFunc("GET /channel", s.handleChannelPage)
	s.mux.HandleFunc("POST /channel/load", s.handleLoadPosts)
	s.mux.HandleFunc("POST /channel/analyze", s.handleAnalyze)
	s.mux.HandleFunc("POST /channel/auto", s.handleAnalyzeChannel)
	s.mux.HandleFunc("POST /channel/clear", s.handleClear)
	s.mux.HandleFunc("GET /history", s.handleHistory)
}

func (s *Server) handleSearchPage(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.FromRequest(w, r)
	st, _ := s.sessions.Get(id)
	s.renderSearch(w, st, "")
}

func (s *Server) renderSearch(w http.ResponseWriter, st session.State, errMsg string) {
	s.render(w, "search.html", map[string]any{
		"Tab":        "search",
		"State":      st,
		"Error":      errMsg,
		"MaxResults": s.cfg.Search.DefaultMaxResults,
		"Limit":      s.cfg.Search.MaxResultsLimit,
		"Agentic":    s.cfg.Search.Agentic,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.FromRequest(w, r)
	query := strings.TrimSpace(r.FormValue("query"))
	n := s.cfg.ClampResults(formInt(r, "max_results"))
	agentic := r.FormValue("agentic") != ""

	if query == "" {
		st, _ := s.sessions.Get(id)
		s.renderSearch(w, st, "Enter a search query.")
		return
	}

	out, err := s.wf.NaturalSearch(r.Context(), query, n, agentic)
	if err != nil {
		s.logger.Error("search failed", slog.String("query", query), slog.Any("error", err))
		st, _ := s.sessions.Get(id)
		st.Query = query
		s.renderSearch(w, st, "Search failed: "+err.Error())
		return
	}

	s.sessions.Update(id, func(st *session.State) {
		st.Query = query
		st.SearchResults = out.Results
		st.SearchVerdict = out.Verdict
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleChannelPage(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.FromRequest(w, r)
	st, _ := s.sessions.Get(id)
	s.renderChannel(w, st, "")
}

func (s *Server) renderChannel(w http.ResponseWriter, st session.State, errMsg string) {
	method := st.Method
	if method == "" {
		method = s.cfg.DefaultMethod()
	}
	s.render(w, "channel.html", map[string]any{
		"Tab":        "channel",
		"State":      st,
		"Error":      errMsg,
		"Channels":   s.cfg.Channels,
		"Methods":    domain.Methods,
		"Method":     method,
		"MaxResults": s.cfg.Search.DefaultMaxResults,
		"Limit":      s.cfg.Search.MaxResultsLimit,
		"Agentic":    s.cfg.Search.Agentic,
		"Selected":   len(st.SelectedIDs()),
		"Verdicts":   userVerdicts(st),
	})
}

type userVerdict struct {
	Username string
	Verdict  evaluate.Verdict
}

// userVerdicts lists the stored judge verdicts in username order.
func userVerdicts(st session.State) []userVerdict {
	var out []userVerdict
	for _, u := range st.Usernames {
		if v, ok := st.PostVerdicts[u]; ok {
			out = append(out, userVerdict{Username: u, Verdict: v})
		}
	}
	return out
}

func (s *Server) handleLoadPosts(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.FromRequest(w, r)
	usernames := pipeline.ParseUsernames(r.FormValue("usernames"))
	if len(usernames) == 0 {
		usernames = pipeline.ParseUsernames(r.FormValue("channel"))
	}
	n := s.cfg.ClampResults(formInt(r, "max_results"))
	agentic := r.FormValue("agentic") != ""

	out, err := s.wf.LoadPosts(r.Context(), usernames, n, agentic)
	if err != nil {
		s.logger.Error("loading posts failed", slog.Any("usernames", usernames), slog.Any("error", err))
		st, _ := s.sessions.Get(id)
		s.renderChannel(w, st, "Loading posts failed: "+err.Error())
		return
	}

	s.sessions.Update(id, func(st *session.State) {
		st.Usernames = out.Usernames
		st.Posts = out.Posts
		st.Records = nil
		st.Selected = make(map[string]bool, len(out.Selected))
		for _, pid := range out.Selected {
			st.Selected[pid] = true
		}
		st.PostVerdicts = nil
		if len(out.Verdicts) > 0 {
			st.PostVerdicts = make(map[string]evaluate.Verdict, len(out.Verdicts))
			for _, v := range out.Verdicts {
				st.PostVerdicts[v.Username] = v.Verdict
			}
		}
	})
	http.Redirect(w, r, "/channel", http.StatusSeeOther)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.FromRequest(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	method, err := domain.ParseMethod(r.FormValue("method"))
	if err != nil {
		method = s.cfg.DefaultMethod()
	}

	st, _ := s.sessions.Get(id)
	selected := make(map[string]bool)
	for _, pid := range r.Form["post"] {
		selected[pid] = true
	}
	st.Selected = selected
	st.Method = method
	ids := st.SelectedIDs()
	if len(ids) == 0 {
		s.sessions.Update(id, func(cur *session.State) { cur.Selected, cur.Method = selected, method })
		s.renderChannel(w, st, "Select at least one post to analyze.")
		return
	}

	start := time.Now()
	progress := func(done, total int) {
		s.logger.Info("analysis progress", slog.Int("done", done), slog.Int("total", total))
	}
	out, err := s.wf.Analyze(r.Context(), st.Posts, ids, method, progress)
	if err != nil {
		s.logger.Error("analysis failed", slog.String("method", string(method)), slog.Any("error", err))
		s.renderChannel(w, st, "Analysis failed: "+err.Error())
		return
	}
	s.logger.Info("analysis finished", slog.Int("posts", len(out.Records)), slog.Int("errors", out.Errors),
		slog.Duration("elapsed", time.Since(start)))

	s.sessions.Update(id, func(cur *session.State) {
		cur.Selected = selected
		cur.Method = method
		cur.Records = out.Records
	})
	http.Redirect(w, r, "/channel", http.StatusSeeOther)
}

// handleAnalyzeChannel runs the judge-driven flow for one channel with
// every backend and replaces the session's posts with its picks.
func (s *Server) handleAnalyzeChannel(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.FromRequest(w, r)
	username := r.FormValue("username")
	if strings.TrimSpace(username) == "" {
		if names := pipeline.ParseUsernames(r.FormValue("usernames")); len(names) > 0 {
			username = names[0]
		} else {
			username = r.FormValue("channel")
		}
	}
	n := s.cfg.ClampResults(formInt(r, "max_results"))

	start := time.Now()
	progress := func(done, total int) {
		s.logger.Info("channel analysis progress", slog.Int("done", done), slog.Int("total", total))
	}
	out, err := s.wf.AnalyzeChannel(r.Context(), username, n, progress)
	if err != nil {
		s.logger.Error("channel analysis failed", slog.String("username", username), slog.Any("error", err))
		st, _ := s.sessions.Get(id)
		s.renderChannel(w, st, "Channel analysis failed: "+err.Error())
		return
	}
	s.logger.Info("channel analysis finished", slog.String("username", out.Username),
		slog.Int("posts", len(out.Records)), slog.Int("errors", out.Errors),
		slog.Duration("elapsed", time.Since(start)))

	s.sessions.Update(id, func(st *session.State) {
		st.Usernames = []string{out.Username}
		st.Posts = out.Posts
		st.Method = ""
		st.Records = out.Records
		st.Selected = make(map[string]bool, len(out.Records))
		for _, rec := range out.Records {
			st.Selected[rec.Post.ID] = true
		}
		st.PostVerdicts = nil
		if out.Verdict != nil {
			st.PostVerdicts = map[string]evaluate.Verdict{out.Username: *out.Verdict}
		}
	})
	http.Redirect(w, r, "/channel", http.StatusSeeOther)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	id := s.sessions.FromRequest(w, r)
	s.sessions.Clear(id)
	http.Redirect(w, r, "/channel", http.StatusSeeOther)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{"Tab": "history"}
	if s.db == nil {
		s.render(w, "history.html", data)
		return
	}
	runs, err := s.db.GetRecentRuns(50)
	if err != nil {
		s.logger.Error("loading runs failed", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	stats, err := s.db.GetStats()
	if err != nil {
		s.logger.Error("loading stats failed", slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	data["Enabled"] = true
	data["Runs"] = runs
	data["Stats"] = stats
	s.render(w, "history.html", data)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("template not found", slog.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.logger.Error("rendering template failed", slog.String("template", name), slog.Any("error", err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

func formInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.FormValue(key)))
	if err != nil {
		return 0
	}
	return n
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the dashboard on the given port and shuts it down when ctx ends.
func Serve(ctx context.Context, srv *Server, port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- hs.ListenAndServe() }()
	srv.logger.Info("server listening", slog.String("url", "http://"+addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	}
}
