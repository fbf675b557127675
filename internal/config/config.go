package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pauljones0/ticker-monitor/internal/validator"
)

type Config struct {
	Reddit    RedditConfig   `mapstructure:"reddit"`
	Storage   StorageConfig  `mapstructure:"storage"`
	AllowList AllowConfig    `mapstructure:"allowlist"`
	Tickers   TickerConfig   `mapstructure:"tickers"`
	Schedule  ScheduleConfig `mapstructure:"schedule"`
	Reports   []ReportConfig `mapstructure:"reports" validate:"dive"`
	Discord   DiscordConfig  `mapstructure:"discord"`
	Report    ReportOutput   `mapstructure:"report"`
	Gemini    GeminiConfig   `mapstructure:"gemini"`
	Log       LogConfig      `mapstructure:"log"`
}

type RedditConfig struct {
	Subreddit         string  `mapstructure:"subreddit" validate:"required"`
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	Username          string  `mapstructure:"username"`
	Password          string  `mapstructure:"password"`
	UserAgent         string  `mapstructure:"user_agent" validate:"required"`
	BaseURL           string  `mapstructure:"base_url" validate:"required,url"`
	OAuthBaseURL      string  `mapstructure:"oauth_base_url" validate:"required,url"`
	TokenURL          string  `mapstructure:"token_url" validate:"required,url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
}

// Authenticated reports whether OAuth credentials were supplied.
func (r RedditConfig) Authenticated() bool {
	return r.ClientID != "" && r.ClientSecret != ""
}

type StorageConfig struct {
	Driver    string `mapstructure:"driver" validate:"oneof=sqlite postgres firestore"`
	DSN       string `mapstructure:"dsn" validate:"required_unless=Driver firestore"`
	ProjectID string `mapstructure:"project_id" validate:"required_if=Driver firestore"`
}

type AllowConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

type TickerConfig struct {
	MinLength int `mapstructure:"min_length" validate:"gte=1"`
	MaxLength int `mapstructure:"max_length" validate:"gtefield=MinLength"`
}

type ScheduleConfig struct {
	HarvestInterval   time.Duration `mapstructure:"harvest_interval" validate:"gt=0"`
	CheckInterval     time.Duration `mapstructure:"check_interval" validate:"gt=0"`
	AnalyzeInterval   time.Duration `mapstructure:"analyze_interval" validate:"gt=0"`
	FailureCooldown   time.Duration `mapstructure:"failure_cooldown" validate:"gte=0"`
	MaxSleep          time.Duration `mapstructure:"max_sleep" validate:"gt=0"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown" validate:"gte=0"`
	StoreRetryDelay   time.Duration `mapstructure:"store_retry_delay" validate:"gte=0"`
	HarvestLimit      int           `mapstructure:"harvest_limit" validate:"gte=1,lte=100"`
	CheckLimit        int           `mapstructure:"check_limit" validate:"gte=1,lte=100"`
}

// ReportConfig describes one rolling-window report job. Cron takes precedence over Interval.
type ReportConfig struct {
	Name     string        `mapstructure:"name" validate:"required"`
	Window   time.Duration `mapstructure:"window" validate:"gt=0"`
	Interval time.Duration `mapstructure:"interval" validate:"required_without=Cron"`
	Cron     string        `mapstructure:"cron"`
}

type DiscordConfig struct {
	WebhookURL string `mapstructure:"webhook_url" validate:"omitempty,url"`
}

type ReportOutput struct {
	Dir string `mapstructure:"dir"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

var defaultReports = []map[string]any{
	{"name": "daily", "window": "24h", "cron": "0 0,12 * * *"},
	{"name": "weekly", "window": "168h", "interval": "24h"},
}

// Load reads .env, an optional config.yaml and the environment, in increasing precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		slog.Info("No config file found, using defaults and environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Reports) == 0 {
		slog.Warn("No report jobs configured")
	}

	if err := validator.New().ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("reddit.subreddit", "pennystocks")
	v.SetDefault("reddit.user_agent", "ticker-monitor/1.0")
	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.oauth_base_url", "https://oauth.reddit.com")
	v.SetDefault("reddit.token_url", "https://www.reddit.com/api/v1/access_token")
	v.SetDefault("reddit.requests_per_second", 1.0)
	// Credentials have no defaults, but AutomaticEnv only resolves keys viper knows about.
	v.SetDefault("reddit.client_id", "")
	v.SetDefault("reddit.client_secret", "")
	v.SetDefault("reddit.username", "")
	v.SetDefault("reddit.password", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "./data/threads.db")
	v.SetDefault("storage.project_id", "")

	v.SetDefault("allowlist.path", "./tickers.txt")
	v.SetDefault("tickers.min_length", 3)
	v.SetDefault("tickers.max_length", 4)

	v.SetDefault("schedule.harvest_interval", "10s")
	v.SetDefault("schedule.check_interval", "60s")
	v.SetDefault("schedule.analyze_interval", "30m")
	v.SetDefault("schedule.failure_cooldown", "0s")
	v.SetDefault("schedule.max_sleep", "10s")
	v.SetDefault("schedule.rate_limit_cooldown", "60s")
	v.SetDefault("schedule.store_retry_delay", "10s")
	v.SetDefault("schedule.harvest_limit", 100)
	v.SetDefault("schedule.check_limit", 100)

	v.SetDefault("reports", defaultReports)

	v.SetDefault("discord.webhook_url", "")
	v.SetDefault("report.dir", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}
