package main

import (
	"fmt"
	"os"

	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/evaluate"
	"github.com/poemsforaphrodite/podcast/internal/pipeline"
)

func printSteps(steps []pipeline.StepResult) {
	for i, step := range steps {
		fmt.Printf("\nStep %d/%d: %s\n", i+1, len(steps), step.Name)
		if step.Err != nil {
			fmt.Printf("  Error: %v\n", step.Err)
		} else {
			fmt.Printf("  %s\n", step.Summary)
		}
	}
}

func printVerdict(v *evaluate.Verdict) {
	if v == nil {
		return
	}
	state := "satisfied"
	if !v.Satisfied {
		state = "not satisfied"
	}
	fmt.Printf("\nJudge (%s): %s\n", state, v.Reason)
	for _, q := range v.SuggestedQueries {
		fmt.Printf("  suggested: %s\n", q)
	}
}

func printSearchResults(results []domain.SearchResult) {
	if len(results) == 0 {
		fmt.Println("\nNo videos found.")
		return
	}
	fmt.Println()
	for i, r := range results {
		fmt.Printf("%2d. %s\n", i+1, r.Title)
		fmt.Printf("    %s | %s views | %s | %s\n", r.ChannelName, r.Views(), r.Duration, r.PublishedDate)
		fmt.Printf("    %s\n", r.URL)
	}
}

func printPosts(posts []domain.SocialPost, selected []string) {
	picked := make(map[string]bool, len(selected))
	for _, id := range selected {
		picked[id] = true
	}
	fmt.Println()
	for _, p := range posts {
		mark := " "
		if picked[p.ID] {
			mark = "*"
		}
		video := ""
		if p.HasVideo() {
			video = " [video]"
		}
		fmt.Printf("%s %s  %s  %d likes, %d comments%s\n", mark, p.ID, p.DisplayDate(), p.LikeCount, p.CommentCount, video)
		fmt.Printf("    %s\n", p.CaptionPreview(100))
	}
}

func printRecords(records []domain.AnalysisRecord) {
	for _, rec := range records {
		fmt.Printf("\n%s  %s\n", rec.Post.ID, rec.Post.CaptionPreview(80))
		for _, br := range rec.References {
			ref := br.Reference
			if ref.Error != "" {
				fmt.Printf("  %-13s error: %s\n", br.Method, ref.Error)
				continue
			}
			fmt.Printf("  %-13s %s (%s)\n", br.Method, orDash(ref.Title), orDash(ref.Channel))
		}
		for _, link := range rec.Links() {
			fmt.Printf("  link: %s\n", link)
		}
	}
}

func printProgress(done, total int) {
	fmt.Fprintf(os.Stderr, "\r%d of %d processed", done, total)
	if done == total {
		fmt.Fprintln(os.Stderr)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
