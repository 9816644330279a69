package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Google    GoogleConfig    `yaml:"google"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Sync      SyncConfig      `yaml:"sync"`
	Feed      FeedConfig      `yaml:"feed"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the event store connection.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds the lock store. An empty URL falls back to Postgres
// advisory locks.
type RedisConfig struct {
	URL            string `yaml:"url"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the lock lease as a duration
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// GoogleConfig holds OAuth client credentials and API endpoints.
type GoogleConfig struct {
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	RedirectURL    string `yaml:"redirect_url"`
	GmailBaseURL   string `yaml:"gmail_base_url"`
	CalendarURL    string `yaml:"calendar_base_url"`
	WebhookBaseURL string `yaml:"webhook_base_url"`
}

// BedrockConfig holds the extraction model settings.
type BedrockConfig struct {
	Region         string `yaml:"region"`
	ExtractModel   string `yaml:"extract_model"`
	ClassifyModel  string `yaml:"classify_model"`
	PaidClassifier bool   `yaml:"paid_classifier"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c BedrockConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IngestionConfig tunes mailbox scans.
type IngestionConfig struct {
	LookbackDays   int      `yaml:"lookback_days"`
	MaxMessages    int      `yaml:"max_messages"`
	ExtractDelayMS int      `yaml:"extract_delay_ms"`
	MinConfidence  float64  `yaml:"min_confidence"`
	LearnThreshold float64  `yaml:"learn_threshold"`
	Query          string   `yaml:"query"`
	Keywords       []string `yaml:"keywords"`
	Domains        []string `yaml:"domains"`
}

// ExtractDelay returns the pause between extraction calls.
func (c IngestionConfig) ExtractDelay() time.Duration {
	return time.Duration(c.ExtractDelayMS) * time.Millisecond
}

// SyncConfig tunes the calendar synchronizer.
type SyncConfig struct {
	PullWindowDays        int `yaml:"pull_window_days"`
	CallTimeoutSeconds    int `yaml:"call_timeout_seconds"`
	WatchTTLHours         int `yaml:"watch_ttl_hours"`
	WatchRenewBeforeHours int `yaml:"watch_renew_before_hours"`
}

// CallTimeout returns the per-call provider timeout.
func (c SyncConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// FeedConfig holds the iCalendar export settings.
type FeedConfig struct {
	S3Bucket  string `yaml:"s3_bucket"`
	S3Prefix  string `yaml:"s3_prefix"`
	Region    string `yaml:"region"`
	PastDays  int    `yaml:"past_days"`
	AheadDays int    `yaml:"ahead_days"`
}

// ScheduleConfig holds the worker cron specs. An empty spec disables the job.
type ScheduleConfig struct {
	Scan        string `yaml:"scan"`
	Sync        string `yaml:"sync"`
	WatchRenew  string `yaml:"watch_renew"`
	FeedPublish string `yaml:"feed_publish"`
}

// LoggingConfig holds the structured logger settings.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on. It defaults to true.
func (c LoggingConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 120
	}
	if cfg.Bedrock.Region == "" {
		cfg.Bedrock.Region = "us-east-1"
	}
	if cfg.Bedrock.TimeoutSeconds == 0 {
		cfg.Bedrock.TimeoutSeconds = 60
	}
	if cfg.Ingestion.LookbackDays == 0 {
		cfg.Ingestion.LookbackDays = 14
	}
	if cfg.Ingestion.MaxMessages == 0 {
		cfg.Ingestion.MaxMessages = 100
	}
	if cfg.Ingestion.ExtractDelayMS == 0 {
		cfg.Ingestion.ExtractDelayMS = 500
	}
	if cfg.Ingestion.MinConfidence == 0 {
		cfg.Ingestion.MinConfidence = 0.5
	}
	if cfg.Sync.PullWindowDays == 0 {
		cfg.Sync.PullWindowDays = 90
	}
	if cfg.Sync.CallTimeoutSeconds == 0 {
		cfg.Sync.CallTimeoutSeconds = 15
	}
	if cfg.Sync.WatchTTLHours == 0 {
		cfg.Sync.WatchTTLHours = 7 * 24
	}
	if cfg.Sync.WatchRenewBeforeHours == 0 {
		cfg.Sync.WatchRenewBeforeHours = 24
	}
	if cfg.Feed.Region == "" {
		cfg.Feed.Region = cfg.Bedrock.Region
	}
	if cfg.Feed.S3Prefix == "" {
		cfg.Feed.S3Prefix = "feeds"
	}
	if cfg.Feed.PastDays == 0 {
		cfg.Feed.PastDays = 30
	}
	if cfg.Feed.AheadDays == 0 {
		cfg.Feed.AheadDays = 365
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("WEBHOOK_BASE_URL"); v != "" {
		cfg.Google.WebhookBaseURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Bedrock.Region = v
		cfg.Feed.Region = v
	}
	if v := os.Getenv("FEED_S3_BUCKET"); v != "" {
		cfg.Feed.S3Bucket = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_REDACT_PII"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.RedactPII = &b
		}
	}
	return cfg, nil
}
