// Package analysis runs extraction backends and the normalizer over a batch
// of selected posts.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/extract"
)

// Normalizer coerces raw backend output into a reference. It must not fail.
type Normalizer interface {
	Normalize(ctx context.Context, raw string) domain.PodcastReference
}

// ProgressFunc receives "done of total" after every finished post.
type ProgressFunc func(done, total int)

// Options tunes batch execution.
type Options struct {
	// Concurrency is the number of posts analyzed at once; values below 2
	// mean strictly sequential.
	Concurrency int
	// RatePerSecond paces post starts across the batch; zero disables pacing.
	RatePerSecond float64
}

// Orchestrator analyzes posts with one or more backends.
type Orchestrator struct {
	backends   map[domain.Method]extract.Backend
	normalizer Normalizer
	opts       Options
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates an orchestrator over the given backends.
func New(backends []extract.Backend, normalizer Normalizer, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	m := make(map[domain.Method]extract.Backend, len(backends))
	for _, b := range backends {
		m[b.Method()] = b
	}
	o := &Orchestrator{backends: m, normalizer: normalizer, opts: opts, logger: logger}
	if opts.RatePerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return o
}

// Analyze runs method on every post whose id is in selectedIDs and returns
// one record per selected post in input order. Per-post failures become
// error references; only an unknown method is reported as an error.
func (o *Orchestrator) Analyze(ctx context.Context, posts []domain.SocialPost, selectedIDs []string, method domain.Method, progress ProgressFunc) ([]domain.AnalysisRecord, error) {
	if _, ok := o.backends[method]; !ok {
		return nil, fmt.Errorf("no backend configured for method %q", method)
	}
	plan := func(domain.SocialPost) []domain.Method { return []domain.Method{method} }
	return o.run(ctx, selectPosts(posts, selectedIDs), plan, progress), nil
}

// AnalyzeChannel runs Caption on every selected post and the video backends
// on selected posts that carry a video.
func (o *Orchestrator) AnalyzeChannel(ctx context.Context, posts []domain.SocialPost, selectedIDs []string, progress ProgressFunc) []domain.AnalysisRecord {
	plan := func(p domain.SocialPost) []domain.Method {
		var methods []domain.Method
		for _, m := range domain.Methods {
			if _, ok := o.backends[m]; !ok {
				continue
			}
			if m.RequiresVideo() && !p.HasVideo() {
				continue
			}
			methods = append(methods, m)
		}
		return methods
	}
	return o.run(ctx, selectPosts(posts, selectedIDs), plan, progress)
}

// selectPosts keeps posts named in ids, in post order, once per id.
func selectPosts(posts []domain.SocialPost, ids []string) []domain.SocialPost {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	seen := make(map[string]bool)
	var out []domain.SocialPost
	for _, p := range posts {
		if !want[p.ID] || seen[p.ID] {
			continue
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, posts []domain.SocialPost, plan func(domain.SocialPost) []domain.Method, progress ProgressFunc) []domain.AnalysisRecord {
	records := make([]domain.AnalysisRecord, len(posts))
	total := len(posts)
	var done atomic.Int32

	limit := o.opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for i, post := range posts {
		g.Go(func() error {
			records[i] = o.analyzePost(ctx, post, plan(post))
			n := int(done.Add(1))
			o.logger.Info("analyzed post",
				slog.String("post_id", post.ID),
				slog.Int("done", n),
				slog.Int("total", total))
			if progress != nil {
				progress(n, total)
			}
			return nil
		})
	}
	g.Wait()
	return records
}

// analyzePost never panics; a panic anywhere in the post's pipeline turns
// into an error reference for that post only.
func (o *Orchestrator) analyzePost(ctx context.Context, post domain.SocialPost, methods []domain.Method) (rec domain.AnalysisRecord) {
	rec.Post = post
	current := domain.MethodCaption
	if len(methods) > 0 {
		current = methods[0]
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("analysis panicked",
				slog.String("post_id", post.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			rec.References = append(rec.References, domain.BackendReference{
				Method:    current,
				Reference: domain.FailedReference(domain.Failf(domain.Internal, "%v", r)),
			})
		}
	}()

	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			rec.References = append(rec.References, domain.BackendReference{
				Method:    current,
				Reference: domain.FailedReference(domain.Failf(domain.UpstreamError, "%v", err)),
			})
			return rec
		}
	}

	for _, m := range methods {
		current = m
		rec.References = append(rec.References, domain.BackendReference{
			Method:    m,
			Reference: o.runBackend(ctx, post, m),
		})
	}
	return rec
}

func (o *Orchestrator) runBackend(ctx context.Context, post domain.SocialPost, m domain.Method) domain.PodcastReference {
	if m.RequiresVideo() && !post.HasVideo() {
		return domain.FailedReference(domain.Failf(domain.MissingInput, "no video available for post %s", post.ID))
	}
	backend, ok := o.backends[m]
	if !ok {
		return domain.FailedReference(fmt.Errorf("no backend configured for method %q", m))
	}

	outcome := backend.Extract(ctx, post)
	if !outcome.OK() {
		o.logger.Warn("extraction failed",
			slog.String("post_id", post.ID),
			slog.String("method", string(m)),
			slog.String("kind", string(outcome.Err.Kind)),
			slog.String("detail", outcome.Err.Detail))
		return domain.FailedReference(outcome.Err)
	}
	return o.normalizer.Normalize(ctx, outcome.Render())
}
