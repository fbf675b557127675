package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Reddit.Subreddit != "pennystocks" {
		t.Errorf("Expected pennystocks, got %s", cfg.Reddit.Subreddit)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Expected sqlite driver, got %s", cfg.Storage.Driver)
	}
	if cfg.Schedule.HarvestInterval != 10*time.Second {
		t.Errorf("Expected default 10s, got %s", cfg.Schedule.HarvestInterval)
	}
	if cfg.Schedule.AnalyzeInterval != 30*time.Minute {
		t.Errorf("Expected default 30m, got %s", cfg.Schedule.AnalyzeInterval)
	}
	if cfg.Schedule.MaxSleep != 10*time.Second {
		t.Errorf("Expected default max sleep 10s, got %s", cfg.Schedule.MaxSleep)
	}
	if cfg.Tickers.MinLength != 3 || cfg.Tickers.MaxLength != 4 {
		t.Errorf("Expected ticker length 3..4, got %d..%d", cfg.Tickers.MinLength, cfg.Tickers.MaxLength)
	}
	if cfg.Reddit.Authenticated() {
		t.Error("Expected anonymous access without credentials")
	}

	want := []ReportConfig{
		{Name: "daily", Window: 24 * time.Hour, Cron: "0 0,12 * * *"},
		{Name: "weekly", Window: 168 * time.Hour, Interval: 24 * time.Hour},
	}
	if diff := cmp.Diff(want, cfg.Reports); diff != "" {
		t.Errorf("default reports mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("REDDIT_SUBREDDIT", "smallstreetbets")
	t.Setenv("REDDIT_CLIENT_ID", "id")
	t.Setenv("REDDIT_CLIENT_SECRET", "secret")
	t.Setenv("SCHEDULE_HARVEST_INTERVAL", "30s")
	t.Setenv("DISCORD_WEBHOOK_URL", "https://discord.com/api/webhooks/1/token")
	t.Setenv("TICKERS_MAX_LENGTH", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.Reddit.Subreddit != "smallstreetbets" {
		t.Errorf("Expected smallstreetbets, got %s", cfg.Reddit.Subreddit)
	}
	if !cfg.Reddit.Authenticated() {
		t.Error("Expected credentials to enable OAuth")
	}
	if cfg.Schedule.HarvestInterval != 30*time.Second {
		t.Errorf("Expected 30s, got %s", cfg.Schedule.HarvestInterval)
	}
	if cfg.Discord.WebhookURL != "https://discord.com/api/webhooks/1/token" {
		t.Errorf("unexpected webhook %s", cfg.Discord.WebhookURL)
	}
	if cfg.Tickers.MaxLength != 5 {
		t.Errorf("Expected max length 5, got %d", cfg.Tickers.MaxLength)
	}
}

func TestLoad_InvalidInterval(t *testing.T) {
	t.Setenv("SCHEDULE_CHECK_INTERVAL", "not-a-duration")

	if _, err := Load(); err == nil {
		t.Error("Load() should return error for invalid SCHEDULE_CHECK_INTERVAL")
	}
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown driver", env: map[string]string{"STORAGE_DRIVER": "mysql"}},
		{name: "firestore without project", env: map[string]string{"STORAGE_DRIVER": "firestore"}},
		{name: "inverted ticker range", env: map[string]string{"TICKERS_MIN_LENGTH": "5"}},
		{name: "bad webhook", env: map[string]string{"DISCORD_WEBHOOK_URL": "not a url"}},
		{name: "bad log level", env: map[string]string{"LOG_LEVEL": "loud"}},
		{name: "harvest limit above page size", env: map[string]string{"SCHEDULE_HARVEST_LIMIT": "500"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() should reject the configuration")
			}
		})
	}
}

func TestLoad_FirestoreDriver(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "firestore")
	t.Setenv("STORAGE_PROJECT_ID", "test-project")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.Storage.ProjectID != "test-project" {
		t.Errorf("Expected test-project, got %s", cfg.Storage.ProjectID)
	}
}
