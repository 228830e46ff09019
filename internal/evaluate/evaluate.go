// Package evaluate implements the judge-and-refine loop used by agentic
// search and channel post discovery. A loop makes at most two judge calls.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
)

// MaxSuggestions caps how many alternative queries a refinement may run.
const MaxSuggestions = 3

// Verdict is the judge's opinion of a batch.
type Verdict struct {
	Satisfied        bool     `json:"satisfied"`
	Reason           string   `json:"reason"`
	SuggestedQueries []string `json:"suggested_queries,omitempty"`
	SelectedIDs      []string `json:"selected_ids,omitempty"`
	// Fallback is set when the verdict is the default produced after a
	// judge failure rather than a real judgment.
	Fallback bool `json:"fallback,omitempty"`
}

// Status is the terminal state of one loop invocation.
type Status string

const (
	// NoResults means the first fetch returned nothing; the judge was not called.
	NoResults Status = "no_results"
	// Accepted means the judge was satisfied with the batch it last saw.
	Accepted Status = "accepted"
	// Refined means the batch was replaced or extended after an unsatisfied verdict.
	Refined Status = "refined"
	// Exhausted means refinement was attempted but produced nothing new, so
	// the original batch is returned with its unsatisfied verdict.
	Exhausted Status = "exhausted"
)

// Judge rates a batch against the user's intent. Implementations never fail;
// on any internal error they return a satisfied fallback verdict.
type Judge[T any] interface {
	Judge(ctx context.Context, intent string, batch []T) Verdict
}

// FetchFunc fetches up to size items for intent (a query or a username).
type FetchFunc[T any] func(ctx context.Context, intent string, size int) ([]T, error)

// Result is what a loop invocation settled on.
type Result[T any] struct {
	Status Status
	Items  []T
	// Selected holds the items the judge picked, in batch order. For query
	// refinement it equals Items.
	Selected []T
	Verdict  Verdict
	// Rounds counts judge calls made.
	Rounds int
	// Queries lists the alternative queries that were run.
	Queries []string
}

// Loop ties a fetcher and a judge together for one item type.
type Loop[T any] struct {
	Fetch  FetchFunc[T]
	Judge  Judge[T]
	ID     func(T) string
	Logger *slog.Logger
}

func (l *Loop[T]) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// RefineQueries fetches size items for query and asks the judge about them.
// When unsatisfied it runs up to three suggested queries once each, merges
// their results first-seen-wins, truncates to size and stops without judging
// again. An empty refinement falls back to the first batch.
func (l *Loop[T]) RefineQueries(ctx context.Context, query string, size int) (Result[T], error) {
	initial, err := l.Fetch(ctx, query, size)
	if err != nil {
		return Result[T]{}, fmt.Errorf("initial fetch: %w", err)
	}
	if len(initial) == 0 {
		l.logger().Warn("no initial results", slog.String("query", query))
		return Result[T]{Status: NoResults}, nil
	}

	verdict := l.Judge.Judge(ctx, query, initial)
	res := Result[T]{Items: initial, Selected: initial, Verdict: verdict, Rounds: 1}
	if verdict.Satisfied {
		l.logger().Info("judge satisfied with initial results", slog.String("query", query))
		res.Status = Accepted
		return res, nil
	}

	queries := verdict.SuggestedQueries
	if len(queries) > MaxSuggestions {
		queries = queries[:MaxSuggestions]
	}
	res.Queries = queries
	res.Status = Exhausted
	if len(queries) == 0 {
		return res, nil
	}

	l.logger().Info("trying alternative queries", slog.Any("queries", queries))
	var gathered []T
	for _, q := range queries {
		batch, err := l.Fetch(ctx, q, size)
		if err != nil {
			l.logger().Error("alternative query failed", slog.String("query", q), slog.Any("error", err))
			continue
		}
		gathered = append(gathered, batch...)
	}

	merged := Dedupe(gathered, l.ID)
	if len(merged) == 0 {
		l.logger().Warn("no results from alternative queries", slog.String("query", query))
		return res, nil
	}
	if size > 0 && len(merged) > size {
		merged = merged[:size]
	}
	res.Status = Refined
	res.Items = merged
	res.Selected = merged
	return res, nil
}

// Widen fetches size items from source and asks the judge about them. When
// unsatisfied it re-fetches with twice the size, appends the unseen items
// and, if any were added, asks the judge once more and accepts that verdict.
// A failed re-fetch keeps the first batch and verdict.
func (l *Loop[T]) Widen(ctx context.Context, source string, size int) (Result[T], error) {
	initial, err := l.Fetch(ctx, source, size)
	if err != nil {
		return Result[T]{}, fmt.Errorf("initial fetch: %w", err)
	}
	initial = Dedupe(initial, l.ID)
	if len(initial) == 0 {
		l.logger().Warn("no items found", slog.String("source", source))
		return Result[T]{Status: NoResults}, nil
	}

	verdict := l.Judge.Judge(ctx, source, initial)
	res := Result[T]{Items: initial, Verdict: verdict, Rounds: 1, Status: Accepted}
	if !verdict.Satisfied {
		res.Status = Exhausted
		l.logger().Info("judge unsatisfied, fetching more", slog.String("source", source), slog.Int("size", size*2))

		more, err := l.Fetch(ctx, source, size*2)
		if err != nil {
			l.logger().Error("fetching additional items failed", slog.String("source", source), slog.Any("error", err))
		} else if merged := Merge(initial, more, l.ID); len(merged) > len(initial) {
			l.logger().Info("found additional items", slog.Int("added", len(merged)-len(initial)))
			res.Items = merged
			res.Verdict = l.Judge.Judge(ctx, source, merged)
			res.Rounds = 2
			res.Status = Refined
		}
	}
	res.Selected = Select(res.Items, res.Verdict.SelectedIDs, l.ID)
	return res, nil
}

// Dedupe drops items whose id was already seen, keeping first occurrences in order.
func Dedupe[T any](items []T, id func(T) string) []T {
	seen := make(map[string]bool, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := id(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// Merge appends the items of extra whose ids are not in base.
func Merge[T any](base, extra []T, id func(T) string) []T {
	combined := make([]T, 0, len(base)+len(extra))
	combined = append(combined, base...)
	combined = append(combined, extra...)
	return Dedupe(combined, id)
}

// Select returns the items whose ids appear in ids, in items order.
func Select[T any](items []T, ids []string, id func(T) string) []T {
	want := make(map[string]bool, len(ids))
	for _, k := range ids {
		want[k] = true
	}
	var out []T
	for _, it := range items {
		if want[id(it)] {
			out = append(out, it)
		}
	}
	return out
}
