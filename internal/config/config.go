package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/poemsforaphrodite/podcast/internal/domain"
)

// DefaultConfigYAML is the commented config written by "podfinder init".
//
//go:embed default.yaml
var DefaultConfigYAML []byte

// Config is the parsed config file.
type Config struct {
	// EnvFile is a dotenv file loaded before API keys are read. A missing
	// file is not an error.
	EnvFile  string   `yaml:"env_file"`
	APIs     APIs     `yaml:"apis"`
	Search   Search   `yaml:"search"`
	// Channels are the Instagram usernames offered in the dashboard.
	Channels []string `yaml:"channels"`
	Analysis Analysis `yaml:"analysis"`
	Server   Server   `yaml:"server"`
	Output   Output   `yaml:"output"`
	Logging  Logging  `yaml:"logging"`
}

// APIs groups the upstream services.
type APIs struct {
	Apify      Apify      `yaml:"apify"`
	OpenAI     OpenAI     `yaml:"openai"`
	Perplexity Perplexity `yaml:"perplexity"`
	Gemini     Gemini     `yaml:"gemini"`
}

// Apify configures the actor runs behind video search and post scraping.
type Apify struct {
	APIKeyEnv      string        `yaml:"api_key_env"`
	BaseURL        string        `yaml:"base_url"`
	YouTubeActor   string        `yaml:"youtube_actor"`
	InstagramActor string        `yaml:"instagram_actor"`
	Timeout        time.Duration `yaml:"timeout"`
}

// OpenAI configures chat completions and Whisper transcription.
type OpenAI struct {
	APIKeyEnv    string        `yaml:"api_key_env"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	WhisperModel string        `yaml:"whisper_model"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Perplexity configures the web-grounded podcast lookup.
type Perplexity struct {
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Gemini configures multimodal video analysis. PollInterval and
// ReadyTimeout bound the wait for an upload to become ACTIVE.
type Gemini struct {
	APIKeyEnv    string        `yaml:"api_key_env"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Search holds result limits and judge settings.
type Search struct {
	DefaultMaxResults int     `yaml:"default_max_results"`
	MaxResultsLimit   int     `yaml:"max_results_limit"`
	Agentic           bool    `yaml:"agentic"`
	JudgeTemperature  float32 `yaml:"judge_temperature"`
}

// Analysis tunes the per-post backends.
type Analysis struct {
	DefaultMethod   string        `yaml:"default_method"`
	MaxVideoSizeMB  int           `yaml:"max_video_size_mb"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	Concurrency     int           `yaml:"concurrency"`
	RatePerSecond   float64       `yaml:"rate_per_second"`
	TempDir         string        `yaml:"temp_dir"`
}

// Server configures the dashboard.
type Server struct {
	Port         int           `yaml:"port"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	MaxSessions  int           `yaml:"max_sessions"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

// Output says where the run history database lives.
type Output struct {
	DataDir string `yaml:"data_dir"`
}

// Logging selects the log level and whether output is colored.
type Logging struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// ConfigDir returns the XDG config directory for podfinder.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "podfinder")
}

// DataDir returns the XDG data directory for podfinder.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "podfinder")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/podfinder/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'podfinder init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		EnvFile: ".env",
		APIs: APIs{
			Apify: Apify{
				APIKeyEnv:      "APIFY_API_TOKEN",
				BaseURL:        "https://api.apify.com/v2",
				YouTubeActor:   "h7sDV53CddomktSi5",
				InstagramActor: "shu8hvrXbJbY3Eb9W",
				Timeout:        300 * time.Second,
			},
			OpenAI: OpenAI{
				APIKeyEnv:    "OPENAI_API_KEY",
				Model:        "gpt-4o-mini",
				WhisperModel: "whisper-1",
				Timeout:      60 * time.Second,
			},
			Perplexity: Perplexity{
				APIKeyEnv: "PERPLEXITY_API_KEY",
				BaseURL:   "https://api.perplexity.ai",
				Model:     "sonar-pro",
				Timeout:   60 * time.Second,
			},
			Gemini: Gemini{
				APIKeyEnv:    "GEMINI_API_KEY",
				BaseURL:      "https://generativelanguage.googleapis.com",
				Model:        "gemini-1.5-flash",
				PollInterval: 2 * time.Second,
				ReadyTimeout: 60 * time.Second,
				Timeout:      120 * time.Second,
			},
		},
		Search: Search{
			DefaultMaxResults: 10,
			MaxResultsLimit:   50,
			JudgeTemperature:  0.7,
		},
		Analysis: Analysis{
			DefaultMethod:   "Caption",
			MaxVideoSizeMB:  50,
			DownloadTimeout: 120 * time.Second,
			Concurrency:     1,
		},
		Server: Server{
			Port:        8000,
			SessionTTL:  2 * time.Hour,
			MaxSessions: 256,
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := domain.ParseMethod(c.Analysis.DefaultMethod); err != nil {
		return fmt.Errorf("analysis.default_method: %w", err)
	}
	if c.Search.MaxResultsLimit < 1 {
		return fmt.Errorf("search.max_results_limit must be positive, got %d", c.Search.MaxResultsLimit)
	}
	if c.Search.DefaultMaxResults < 1 || c.Search.DefaultMaxResults > c.Search.MaxResultsLimit {
		return fmt.Errorf("search.default_max_results must be between 1 and %d, got %d",
			c.Search.MaxResultsLimit, c.Search.DefaultMaxResults)
	}
	if c.Analysis.MaxVideoSizeMB < 1 {
		return fmt.Errorf("analysis.max_video_size_mb must be positive, got %d", c.Analysis.MaxVideoSizeMB)
	}
	if c.Analysis.Concurrency < 1 {
		c.Analysis.Concurrency = 1
	}
	return nil
}

// ClampResults bounds a requested result count to [1, max_results_limit],
// substituting the default for zero or negative values.
func (c *Config) ClampResults(n int) int {
	if n <= 0 {
		return c.Search.DefaultMaxResults
	}
	if n > c.Search.MaxResultsLimit {
		return c.Search.MaxResultsLimit
	}
	return n
}

// DefaultMethod returns the configured default analysis method.
func (c *Config) DefaultMethod() domain.Method {
	m, _ := domain.ParseMethod(c.Analysis.DefaultMethod)
	return m
}

// DefaultChannel returns the first configured channel, if any.
func (c *Config) DefaultChannel() string {
	if len(c.Channels) == 0 {
		return ""
	}
	return c.Channels[0]
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the run history database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "podfinder.db")
}

// LoadEnv loads KEY=value pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := gotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
