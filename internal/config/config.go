// Package config provides configuration types and loading for parley.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Config is the root configuration struct.
type Config struct {
	LogLevel     string             `json:"logLevel"`
	Slack        SlackConfig        `json:"slack"`
	OpenAI       ProviderConfig     `json:"openai"`
	Models       ModelsConfig       `json:"models"`
	Prompts      PromptsConfig      `json:"prompts"`
	Search       SearchConfig       `json:"search"`
	Store        StoreConfig        `json:"store"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Agent        AgentConfig        `json:"agent"`
	Feedback     FeedbackConfig     `json:"feedback"`
	Audit        AuditConfig        `json:"audit"`
	Debug        DebugConfig        `json:"debug"`
}

// ---------------------------------------------------------------------------
// Slack – chat platform
// ---------------------------------------------------------------------------

// SlackConfig configures the Slack socket-mode client.
type SlackConfig struct {
	BotToken string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken string `json:"appToken" envconfig:"APP_TOKEN"`
	APIBase  string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	// AllowedChannels restricts which channel ids the assistant listens to.
	// Empty means every channel the bot is a member of.
	AllowedChannels []string `json:"allowedChannels" envconfig:"ALLOWED_CHANNELS"`
	// BackfillLimit is how many recent messages per channel are replayed
	// into the store at startup. Zero disables backfill.
	BackfillLimit int `json:"backfillLimit" envconfig:"BACKFILL_LIMIT"`
}

// ---------------------------------------------------------------------------
// Providers – LLM API keys & endpoints
// ---------------------------------------------------------------------------

// ProviderConfig contains settings for an OpenAI-compatible endpoint.
type ProviderConfig struct {
	APIKey  string        `json:"apiKey" envconfig:"API_KEY"`
	APIBase string        `json:"apiBase,omitempty" envconfig:"API_BASE"`
	Timeout time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ModelProfile selects a model and its sampling settings.
type ModelProfile struct {
	Model       string  `json:"model" envconfig:"MODEL"`
	Temperature float64 `json:"temperature" envconfig:"TEMPERATURE"`
	MaxTokens   int     `json:"maxTokens" envconfig:"MAX_TOKENS"`
}

// ModelsConfig holds one profile per assistant task.
type ModelsConfig struct {
	Classifier ModelProfile `json:"classifier"`
	Reply      ModelProfile `json:"reply"`
	Vision     ModelProfile `json:"vision"`
}

// PromptsConfig points at an optional YAML prompt override file.
type PromptsConfig struct {
	Path        string `json:"path" envconfig:"PATH"`
	PersonaName string `json:"personaName" envconfig:"PERSONA_NAME"`
}

// ---------------------------------------------------------------------------
// Search – media and web lookups
// ---------------------------------------------------------------------------

// SearchConfig configures the YouTube, Giphy and Google search backends.
type SearchConfig struct {
	YouTubeAPIKey     string        `json:"youtubeApiKey" envconfig:"YOUTUBE_API_KEY"`
	GiphyAPIKey       string        `json:"giphyApiKey" envconfig:"GIPHY_API_KEY"`
	GoogleAPIKey      string        `json:"googleApiKey" envconfig:"GOOGLE_API_KEY"`
	GoogleEngineID    string        `json:"googleEngineId" envconfig:"GOOGLE_ENGINE_ID"`
	MaxResults        int           `json:"maxResults" envconfig:"MAX_RESULTS"`
	RequestsPerSecond float64       `json:"requestsPerSecond" envconfig:"REQUESTS_PER_SECOND"`
	Timeout           time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ---------------------------------------------------------------------------
// Core – store, orchestrator, supervisor
// ---------------------------------------------------------------------------

// StoreConfig bounds the in-memory conversation store.
type StoreConfig struct {
	Capacity             int    `json:"capacity" envconfig:"CAPACITY"`
	HistoryWindowMinutes int    `json:"historyWindowMinutes" envconfig:"HISTORY_WINDOW_MINUTES"`
	RetentionCron        string `json:"retentionCron" envconfig:"RETENTION_CRON"`
	MaxContentLength     int    `json:"maxContentLength" envconfig:"MAX_CONTENT_LENGTH"`
}

// HistoryWindow returns the retention window as a duration.
func (s StoreConfig) HistoryWindow() time.Duration {
	return time.Duration(s.HistoryWindowMinutes) * time.Minute
}

// OrchestratorConfig bounds retries and follow-ups of a reply cycle.
type OrchestratorConfig struct {
	MaxAttempts  int           `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	BackoffBase  float64       `json:"backoffBase" envconfig:"BACKOFF_BASE"`
	BackoffUnit  time.Duration `json:"backoffUnit" envconfig:"BACKOFF_UNIT"`
	MaxFollowups int           `json:"maxFollowups" envconfig:"MAX_FOLLOWUPS"`
	HistoryDepth int           `json:"historyDepth" envconfig:"HISTORY_DEPTH"`
}

// AgentConfig configures the inbound event supervisor.
type AgentConfig struct {
	MaxConcurrent int `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
}

// ---------------------------------------------------------------------------
// Ancillary – feedback capture, audit stream, debug surface
// ---------------------------------------------------------------------------

// FeedbackConfig configures reaction-driven training example capture.
type FeedbackConfig struct {
	Enabled       bool     `json:"enabled" envconfig:"ENABLED"`
	DBPath        string   `json:"dbPath" envconfig:"DB_PATH"`
	HistoryLength int      `json:"historyLength" envconfig:"HISTORY_LENGTH"`
	Emojis        []string `json:"emojis" envconfig:"EMOJIS"`
}

// AuditConfig configures the optional Kafka cycle-outcome stream.
type AuditConfig struct {
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// Enabled reports whether any broker is configured.
func (a AuditConfig) Enabled() bool {
	return len(a.Brokers) > 0 && strings.TrimSpace(a.Topic) != ""
}

// DebugConfig configures the read-only HTTP debug surface.
type DebugConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	Addr    string `json:"addr" envconfig:"ADDR"`
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		OpenAI: ProviderConfig{
			APIBase: "https://api.openai.com/v1",
			Timeout: 120 * time.Second,
		},
		Models: ModelsConfig{
			Classifier: ModelProfile{Model: "gpt-4o-mini", Temperature: 0.2, MaxTokens: 256},
			Reply:      ModelProfile{Model: "gpt-4o", Temperature: 0.8, MaxTokens: 1024},
			Vision:     ModelProfile{Model: "gpt-4o", Temperature: 0.5, MaxTokens: 512},
		},
		Prompts: PromptsConfig{
			PersonaName: "Parley",
		},
		Search: SearchConfig{
			MaxResults:        5,
			RequestsPerSecond: 2,
			Timeout:           15 * time.Second,
		},
		Store: StoreConfig{
			Capacity:             100,
			HistoryWindowMinutes: 360,
			RetentionCron:        "*/5 * * * *",
			MaxContentLength:     1000,
		},
		Orchestrator: OrchestratorConfig{
			MaxAttempts:  3,
			BackoffBase:  2,
			BackoffUnit:  time.Second,
			MaxFollowups: 3,
			HistoryDepth: 10,
		},
		Agent: AgentConfig{
			MaxConcurrent: 16,
		},
		Slack: SlackConfig{
			BackfillLimit: 30,
		},
		Feedback: FeedbackConfig{
			Enabled:       true,
			DBPath:        "~/.parley/feedback.db",
			HistoryLength: 10,
		},
		Audit: AuditConfig{
			Topic: "parley.cycles",
		},
		Debug: DebugConfig{
			Addr: "127.0.0.1:18790",
		},
	}
}

// Validate reports missing credentials and out-of-range settings.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Slack.BotToken) == "" {
		errs = append(errs, errors.New("slack.botToken is required"))
	}
	if strings.TrimSpace(c.Slack.AppToken) == "" {
		errs = append(errs, errors.New("slack.appToken is required"))
	}
	if strings.TrimSpace(c.OpenAI.APIKey) == "" {
		errs = append(errs, errors.New("openai.apiKey is required"))
	}
	if c.Store.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("store.capacity must be positive, got %d", c.Store.Capacity))
	}
	if c.Orchestrator.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.maxAttempts must be positive, got %d", c.Orchestrator.MaxAttempts))
	}
	if c.Orchestrator.MaxFollowups <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.maxFollowups must be positive, got %d", c.Orchestrator.MaxFollowups))
	}
	if c.Orchestrator.BackoffBase < 1 {
		errs = append(errs, fmt.Errorf("orchestrator.backoffBase must be at least 1, got %g", c.Orchestrator.BackoffBase))
	}
	if expr := strings.TrimSpace(c.Store.RetentionCron); expr != "" && !gronx.IsValid(expr) {
		errs = append(errs, fmt.Errorf("store.retentionCron is not a valid cron expression: %q", expr))
	}
	return errors.Join(errs...)
}
