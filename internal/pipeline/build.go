package pipeline

import (
	"log/slog"

	"github.com/poemsforaphrodite/podcast/internal/analysis"
	"github.com/poemsforaphrodite/podcast/internal/config"
	"github.com/poemsforaphrodite/podcast/internal/database"
	"github.com/poemsforaphrodite/podcast/internal/evaluate"
	"github.com/poemsforaphrodite/podcast/internal/extract"
	"github.com/poemsforaphrodite/podcast/internal/fetch"
	"github.com/poemsforaphrodite/podcast/internal/llm"
	"github.com/poemsforaphrodite/podcast/internal/normalize"
	"github.com/poemsforaphrodite/podcast/internal/scrape"
)

// Build wires a Service against the real vendor clients described by cfg.
// db may be nil, in which case runs are not recorded.
func Build(cfg *config.Config, db *database.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	apis := cfg.APIs

	scraper := scrape.NewClient(apis.Apify.APIKeyEnv, scrape.Options{
		BaseURL:        apis.Apify.BaseURL,
		YouTubeActor:   apis.Apify.YouTubeActor,
		InstagramActor: apis.Apify.InstagramActor,
		Timeout:        apis.Apify.Timeout,
	}, logger)

	chat := llm.NewOpenAIProvider(apis.OpenAI.Model, apis.OpenAI.APIKeyEnv, apis.OpenAI.BaseURL, apis.OpenAI.Timeout, logger)
	search := llm.NewPerplexityProvider(apis.Perplexity.Model, apis.Perplexity.APIKeyEnv, apis.Perplexity.BaseURL, apis.Perplexity.Timeout, logger)
	whisper := llm.NewTranscriber(apis.OpenAI.WhisperModel, apis.OpenAI.APIKeyEnv, apis.OpenAI.BaseURL, apis.OpenAI.Timeout)

	gemini := llm.NewGeminiClient(apis.Gemini.Model, apis.Gemini.APIKeyEnv, apis.Gemini.BaseURL, apis.Gemini.Timeout, logger)
	if apis.Gemini.PollInterval > 0 {
		gemini.PollInterval = apis.Gemini.PollInterval
	}
	if apis.Gemini.ReadyTimeout > 0 {
		gemini.ReadyTimeout = apis.Gemini.ReadyTimeout
	}

	fetcher := fetch.NewVideoFetcher(cfg.Analysis.DownloadTimeout, cfg.Analysis.TempDir, logger)
	maxMB := cfg.Analysis.MaxVideoSizeMB

	for name, configured := range map[string]bool{
		"apify":      scraper.IsConfigured(),
		"openai":     chat.IsConfigured(),
		"perplexity": search.IsConfigured(),
		"gemini":     gemini.IsConfigured(),
	} {
		if !configured {
			logger.Debug("api key not set", slog.String("api", name))
		}
	}

	backends := []extract.Backend{
		extract.NewCaptionBackend(search, apis.Perplexity.Timeout, logger),
		extract.NewTranscriptionBackend(fetcher, whisper, search, maxMB, apis.Perplexity.Timeout, logger),
		extract.NewMultimodalBackend(fetcher, gemini, maxMB, logger),
	}
	orchestrator := analysis.New(backends, normalize.New(chat, logger), analysis.Options{
		Concurrency:   cfg.Analysis.Concurrency,
		RatePerSecond: cfg.Analysis.RatePerSecond,
	}, logger)

	deps := Deps{
		Scraper:        scraper,
		SearchJudge:    evaluate.NewSearchJudge(chat, cfg.Search.JudgeTemperature, logger),
		PostJudge:      evaluate.NewPostJudge(chat, cfg.Search.JudgeTemperature, logger),
		Analyzer:       orchestrator,
		DefaultChannel: cfg.DefaultChannel(),
		Logger:         logger,
	}
	// A typed nil *DB inside the interface would defeat the nil check in startRun.
	if db != nil {
		deps.History = db
	}
	return New(deps)
}
