package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

// ErrMissingCredential is returned by Validate when a required key or token
// is absent. Callers treat it as fatal before any network work starts.
var ErrMissingCredential = errors.New("missing credential")

// Config is the run configuration. Built once at startup and passed down;
// nothing below cmd reads the environment.
type Config struct {
	// HistoryPath is the JSON history document. Relative paths resolve
	// against the working directory so a CI checkout can commit it.
	HistoryPath string `json:"history_path"`

	// DataDir holds logs and the event trail.
	DataDir string `json:"data_dir"`

	LogLevel string `json:"log_level"`
	DryRun   bool   `json:"dry_run"`

	Selection SelectionConfig `json:"selection"`
	Extract   ExtractConfig   `json:"extract"`
	Judge     JudgeConfig     `json:"judge"`
	Models    ModelConfig     `json:"models"`
	LinkedIn  LinkedInConfig  `json:"linkedin"`
	Jitter    JitterConfig    `json:"jitter"`

	// Sources overrides the embedded feed list when non-empty.
	Sources []SourceConfig `json:"sources,omitempty"`
}

// SelectionConfig tunes the candidate search.
type SelectionConfig struct {
	HistoryCap     int     `json:"history_cap"`
	EntriesPerFeed int     `json:"entries_per_feed"`
	ConceptWeight  float64 `json:"concept_weight"` // probability of picking the concept group
	MaxAttempts    int     `json:"max_attempts"`
	Seed           int64   `json:"seed,omitempty"` // 0 = seed from clock
}

// ExtractConfig holds scraping limits and the client identity.
type ExtractConfig struct {
	NewsMinChars    int      `json:"news_min_chars"`
	ConceptMinChars int      `json:"concept_min_chars"`
	MaxChars        int      `json:"max_chars"`
	TimeoutSeconds  int      `json:"timeout_seconds"`
	RequestGapMs    int      `json:"request_gap_ms"` // minimum spacing between outbound page fetches
	UserAgent       string   `json:"user_agent"`
	FallbackImages  []string `json:"fallback_images,omitempty"`
}

// JudgeConfig controls the optional fitness check.
type JudgeConfig struct {
	Enabled      bool `json:"enabled"`
	Threshold    int  `json:"threshold"`
	DefaultScore int  `json:"default_score"`
}

// ModelConfig holds generation oracle settings
type ModelConfig struct {
	Preferred            string        `json:"preferred"` // "gemini", "openai" or "claude"
	RateLimitWaitSeconds int           `json:"rate_limit_wait_seconds"`
	Gemini               ModelSettings `json:"gemini"`
	OpenAI               ModelSettings `json:"openai"`
	Claude               ModelSettings `json:"claude"`
}

// ModelSettings for a single AI provider
type ModelSettings struct {
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"` // empty = discover or provider default
	Endpoint string `json:"endpoint,omitempty"`
}

// LinkedInConfig identifies the posting member.
type LinkedInConfig struct {
	PersonURN   string `json:"person_urn,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	APIBase     string `json:"api_base"`
}

// JitterConfig is the randomized wait before a scheduled run acts.
type JitterConfig struct {
	MinSeconds int `json:"min_seconds"`
	MaxSeconds int `json:"max_seconds"`
}

// SourceConfig is one feed entry in the config file.
type SourceConfig struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Group string `json:"group"` // "news" or "concept"
}

// DefaultUserAgent is a desktop browser string; many blogs refuse
// requests that do not look like one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// DefaultConfig returns the canonical thresholds.
func DefaultConfig() *Config {
	return &Config{
		HistoryPath: "history.json",
		DataDir:     DataDir(),
		LogLevel:    "info",
		Selection: SelectionConfig{
			HistoryCap:     200,
			EntriesPerFeed: 3,
			ConceptWeight:  0.5,
			MaxAttempts:    5,
		},
		Extract: ExtractConfig{
			NewsMinChars:    600,
			ConceptMinChars: 1000,
			MaxChars:        15000,
			TimeoutSeconds:  10,
			RequestGapMs:    500,
			UserAgent:       DefaultUserAgent,
		},
		Judge: JudgeConfig{
			Enabled:      true,
			Threshold:    7,
			DefaultScore: 5,
		},
		Models: ModelConfig{
			Preferred:            "gemini",
			RateLimitWaitSeconds: 60,
			OpenAI:               ModelSettings{Model: "gpt-4o-mini"},
			Claude:               ModelSettings{Model: "claude-haiku-4-5"},
		},
		LinkedIn: LinkedInConfig{
			APIBase: "https://api.linkedin.com",
		},
		Jitter: JitterConfig{
			MinSeconds: 60,
			MaxSeconds: 120,
		},
	}
}

// DefaultPath returns the config file location under XDG_CONFIG_HOME.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "linkpost", "config.json")
}

// DataDir returns the directory for logs and the event trail.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "linkpost")
}

// Load reads config from path (or DefaultPath), then applies .env and the
// environment on top. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// .env never overrides variables already set in the environment
	_ = godotenv.Load()

	cfg.AutoPopulateFromEnv()
	return cfg, nil
}

// Save writes config to path
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600) // Restrictive permissions for API keys
}

// AutoPopulateFromEnv fills in keys and overrides from environment variables
func (c *Config) AutoPopulateFromEnv() {
	if v := env("LINKEDIN_URN"); v != "" {
		c.LinkedIn.PersonURN = v
	}
	if v := env("LINKEDIN_TOKEN"); v != "" {
		c.LinkedIn.AccessToken = v
	}
	if v := env("GOOGLE_API_KEY"); v != "" {
		c.Models.Gemini.APIKey = v
	}
	if v := env("GEMINI_API_KEY"); v != "" {
		c.Models.Gemini.APIKey = v
	}
	if v := env("GEMINI_MODEL"); v != "" {
		c.Models.Gemini.Model = v
	}
	if v := env("OPENAI_API_KEY"); v != "" {
		c.Models.OpenAI.APIKey = v
	}
	if v := env("OPENAI_MODEL"); v != "" {
		c.Models.OpenAI.Model = v
	}
	if v := env("CLAUDE_API_KEY"); v != "" {
		c.Models.Claude.APIKey = v
	}
	if v := env("ANTHROPIC_API_KEY"); v != "" {
		c.Models.Claude.APIKey = v
	}
	if v := env("CLAUDE_MODEL"); v != "" {
		c.Models.Claude.Model = v
	}
	if v := env("LINKPOST_HISTORY"); v != "" {
		c.HistoryPath = v
	}
	if v := env("LINKPOST_DRY_RUN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DryRun = b
		}
	}
}

// env trims because CI secret stores often carry a trailing newline.
func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// GetEnabledModels returns providers that have API keys
func (c *Config) GetEnabledModels() []string {
	var models []string
	if c.Models.Gemini.APIKey != "" {
		models = append(models, "gemini")
	}
	if c.Models.OpenAI.APIKey != "" {
		models = append(models, "openai")
	}
	if c.Models.Claude.APIKey != "" {
		models = append(models, "claude")
	}
	return models
}

// Validate checks ranges and required credentials.
func (c *Config) Validate() error {
	s := c.Selection
	if s.HistoryCap <= 0 {
		return fmt.Errorf("selection.history_cap must be positive, got %d", s.HistoryCap)
	}
	if s.EntriesPerFeed <= 0 {
		return fmt.Errorf("selection.entries_per_feed must be positive, got %d", s.EntriesPerFeed)
	}
	if s.ConceptWeight < 0 || s.ConceptWeight > 1 {
		return fmt.Errorf("selection.concept_weight must be within [0,1], got %v", s.ConceptWeight)
	}
	if s.MaxAttempts <= 0 {
		return fmt.Errorf("selection.max_attempts must be positive, got %d", s.MaxAttempts)
	}

	e := c.Extract
	if e.NewsMinChars < 0 || e.ConceptMinChars < 0 {
		return fmt.Errorf("extract min chars must not be negative")
	}
	if e.MaxChars <= e.NewsMinChars || e.MaxChars <= e.ConceptMinChars {
		return fmt.Errorf("extract.max_chars (%d) must exceed both minimums", e.MaxChars)
	}
	if e.TimeoutSeconds <= 0 {
		return fmt.Errorf("extract.timeout_seconds must be positive, got %d", e.TimeoutSeconds)
	}

	if c.Judge.Threshold < 1 || c.Judge.Threshold > 10 {
		return fmt.Errorf("judge.threshold must be within [1,10], got %d", c.Judge.Threshold)
	}
	if c.Jitter.MinSeconds < 0 || c.Jitter.MaxSeconds < c.Jitter.MinSeconds {
		return fmt.Errorf("jitter range [%d,%d] is invalid", c.Jitter.MinSeconds, c.Jitter.MaxSeconds)
	}

	for i, src := range c.Sources {
		if src.URL == "" {
			return fmt.Errorf("source %d: url is required", i)
		}
		if src.Group != "news" && src.Group != "concept" {
			return fmt.Errorf("source %q: unknown group %q (valid: news, concept)", src.URL, src.Group)
		}
	}

	if len(c.GetEnabledModels()) == 0 {
		return fmt.Errorf("%w: set GEMINI_API_KEY, OPENAI_API_KEY or ANTHROPIC_API_KEY", ErrMissingCredential)
	}
	if c.DryRun {
		return nil
	}
	if c.LinkedIn.PersonURN == "" {
		return fmt.Errorf("%w: LINKEDIN_URN", ErrMissingCredential)
	}
	if c.LinkedIn.AccessToken == "" {
		return fmt.Errorf("%w: LINKEDIN_TOKEN", ErrMissingCredential)
	}
	return nil
}
