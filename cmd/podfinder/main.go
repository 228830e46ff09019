package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poemsforaphrodite/podcast/internal/config"
	"github.com/poemsforaphrodite/podcast/internal/database"
	"github.com/poemsforaphrodite/podcast/internal/domain"
	"github.com/poemsforaphrodite/podcast/internal/logging"
	"github.com/poemsforaphrodite/podcast/internal/pipeline"
	"github.com/poemsforaphrodite/podcast/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "podfinder",
	Short:   "Find trending podcasts from YouTube and Instagram",
	Long:    "podfinder searches YouTube for podcast videos and works out which podcast an Instagram post is clipped from.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// init and version run before any config exists.
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.Setup(os.Stderr, "info", false, verbose)
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := config.LoadEnv(cfg.EnvFile); err != nil {
			return err
		}
		logger = logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Color, verbose)
		logger.Debug("config loaded", slog.String("path", path))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(postsCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(channelCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("podfinder", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/podfinder/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Put APIFY_API_TOKEN, OPENAI_API_KEY, PERPLEXITY_API_KEY and GEMINI_API_KEY in your environment or .env file.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run history",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		runs, err := db.GetRecentRuns(10)
		if err != nil {
			return fmt.Errorf("getting runs: %w", err)
		}

		fmt.Printf("Database: %s\n\n", db.Path())
		fmt.Println("Runs:")
		fmt.Printf("  Total: %d\n", stats.TotalRuns)
		fmt.Printf("  Failed: %d\n", stats.FailedRuns)
		fmt.Printf("  Items seen: %d\n", stats.ItemsSeen)
		fmt.Printf("  Item errors: %d\n", stats.Errors)
		if stats.LastStarted != "" {
			fmt.Printf("  Last run: %s\n", stats.LastStarted)
		}
		for _, w := range []string{database.WorkflowSearch, database.WorkflowPosts, database.WorkflowAnalyze, database.WorkflowChannel} {
			fmt.Printf("  %s: %d\n", w, stats.ByWorkflow[w])
		}

		if len(runs) > 0 {
			fmt.Println("\nRecent:")
			for _, r := range runs {
				fmt.Printf("  %s  %-8s %-8s %3d items  %q\n", r.StartedAt, r.Workflow, r.Status, r.ItemCount, r.Input)
			}
		}
		return nil
	},
}

// --- search command ---

var (
	maxResults int
	agentic    bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search YouTube for podcast videos, sorted by views",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB := buildService()
		defer closeDB()

		out, err := svc.NaturalSearch(cmd.Context(), strings.Join(args, " "), cfg.ClampResults(maxResults), agenticFlag(cmd))
		if err != nil {
			return err
		}
		printSteps(out.Steps)
		printVerdict(out.Verdict)
		printSearchResults(out.Results)
		return nil
	},
}

// --- posts command ---

var postsCmd = &cobra.Command{
	Use:   "posts [usernames]",
	Short: "List recent Instagram posts for comma-separated usernames",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB := buildService()
		defer closeDB()

		out, err := svc.LoadPosts(cmd.Context(), usernamesArg(args), cfg.ClampResults(maxResults), agenticFlag(cmd))
		if err != nil {
			return err
		}
		printSteps(out.Steps)
		for _, v := range out.Verdicts {
			fmt.Printf("\n@%s (%s, %d round(s)):\n", v.Username, v.Status, v.Rounds)
			printVerdict(&v.Verdict)
		}
		printPosts(out.Posts, out.Selected)
		return nil
	},
}

// --- analyze command ---

var (
	methodName string
	postIDs    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [usernames]",
	Short: "Identify the podcasts behind Instagram posts with one analysis method",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method := cfg.DefaultMethod()
		if methodName != "" {
			m, err := domain.ParseMethod(methodName)
			if err != nil {
				return err
			}
			method = m
		}

		svc, closeDB := buildService()
		defer closeDB()

		loaded, err := svc.LoadPosts(cmd.Context(), usernamesArg(args), cfg.ClampResults(maxResults), false)
		if err != nil {
			return err
		}
		printSteps(loaded.Steps)

		ids := splitIDs(postIDs)
		if len(ids) == 0 {
			for _, p := range loaded.Posts {
				ids = append(ids, p.ID)
			}
		}

		out, err := svc.Analyze(cmd.Context(), loaded.Posts, ids, method, printProgress)
		if err != nil {
			return err
		}
		printSteps(out.Steps)
		printRecords(out.Records)
		return nil
	},
}

// --- channel command ---

var channelCmd = &cobra.Command{
	Use:   "channel [username]",
	Short: "Let the judge pick posts from a channel and analyze them with every method",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, closeDB := buildService()
		defer closeDB()

		username := ""
		if len(args) > 0 {
			username = args[0]
		}
		out, err := svc.AnalyzeChannel(cmd.Context(), username, cfg.ClampResults(maxResults), printProgress)
		if err != nil {
			return err
		}
		printSteps(out.Steps)
		printVerdict(out.Verdict)
		printRecords(out.Records)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, postsCmd, analyzeCmd, channelCmd} {
		c.Flags().IntVarP(&maxResults, "max-results", "n", 0, "Number of results (default from config)")
	}
	searchCmd.Flags().BoolVar(&agentic, "agentic", false, "Let the judge refine the query")
	postsCmd.Flags().BoolVar(&agentic, "agentic", false, "Let the judge pick posts")
	analyzeCmd.Flags().StringVarP(&methodName, "method", "m", "", "Caption, Transcription or Multimodal (default from config)")
	analyzeCmd.Flags().StringVar(&postIDs, "ids", "", "Comma-separated post ids to analyze (default all)")
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		srv, err := server.New(db, pipeline.Build(cfg, db, logger), cfg, logger)
		if err != nil {
			return err
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(cmd.Context(), srv, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// buildService wires the pipeline. Run history is best effort: when the
// database cannot be opened the workflows still run.
func buildService() (*pipeline.Service, func()) {
	db, err := openDB()
	if err != nil {
		logger.Warn("run history disabled", slog.Any("error", err))
		return pipeline.Build(cfg, nil, logger), func() {}
	}
	return pipeline.Build(cfg, db, logger), func() { db.Close() }
}

func agenticFlag(cmd *cobra.Command) bool {
	if cmd.Flags().Changed("agentic") {
		return agentic
	}
	return cfg.Search.Agentic
}

func usernamesArg(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	return pipeline.ParseUsernames(args[0])
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return database.Open(cfg.DBPath())
}
