package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pauljones0/ticker-monitor/internal/ai"
	"github.com/pauljones0/ticker-monitor/internal/config"
	"github.com/pauljones0/ticker-monitor/internal/notifier"
	"github.com/pauljones0/ticker-monitor/internal/processor"
	"github.com/pauljones0/ticker-monitor/internal/scheduler"
	"github.com/pauljones0/ticker-monitor/internal/scraper"
	"github.com/pauljones0/ticker-monitor/internal/storage"
	"github.com/pauljones0/ticker-monitor/internal/tickers"
)

func main() {
	slog.Info("Starting removed-post ticker monitor...")
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Critical error loading configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg.Log))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("Monitor stopped with a critical error", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("Monitor stopped.")
}

func run(ctx context.Context, cfg *config.Config) error {
	allow, err := tickers.LoadAllowList(cfg.AllowList.Path)
	if err != nil {
		return err
	}

	emitter, err := buildEmitter(cfg)
	if err != nil {
		return err
	}

	var opts []processor.Option
	commentary, err := ai.NewClient(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
	if err != nil {
		slog.Warn("Report commentary disabled", "error", err)
	} else if commentary != nil {
		opts = append(opts, processor.WithAnnotator(commentary))
		slog.Info("Report commentary enabled", "model", cfg.Gemini.Model)
	}

	source := scraper.New(ctx, cfg.Reddit)
	p, err := processor.New(source, emitter, allow, cfg, opts...)
	if err != nil {
		return err
	}

	jobs, err := scheduler.LifecycleJobs(p, cfg)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		slog.Info("Job registered", "job", j.Name, "interval", j.Interval, "cron", j.Schedule != nil)
	}

	slog.Info("Monitoring subreddit",
		"subreddit", cfg.Reddit.Subreddit,
		"storage", cfg.Storage.Driver,
		"allowlist_symbols", allow.Len(),
		"ticker_length", []int{cfg.Tickers.MinLength, cfg.Tickers.MaxLength})

	return scheduler.New(storage.Opener(cfg.Storage), cfg.Schedule, jobs...).Run(ctx)
}

func buildEmitter(cfg *config.Config) (processor.ReportEmitter, error) {
	var sinks []notifier.Sink
	if cfg.Discord.WebhookURL != "" {
		d, err := notifier.NewDiscord(cfg.Discord.WebhookURL)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, d)
	}
	if cfg.Report.Dir != "" {
		f, err := notifier.NewFile(cfg.Report.Dir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, f)
	}
	if len(sinks) == 0 {
		slog.Info("No report sinks configured, reports go to the log")
		sinks = append(sinks, notifier.Log{Top: 20})
	}
	return notifier.NewMulti(sinks...), nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
