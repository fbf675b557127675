// Package notifier delivers finished reports.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

// Sink is one report destination.
type Sink interface {
	Name() string
	Emit(ctx context.Context, report models.Report) error
}

// Multi fans a report out to every sink in order. It fails only when every sink failed.
type Multi struct {
	sinks []Sink
}

func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Emit(ctx context.Context, report models.Report) error {
	if len(m.sinks) == 0 {
		return errors.New("no report sinks configured")
	}
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, report); err != nil {
			slog.Warn("Report sink failed", "sink", s.Name(), "report", report.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) == len(m.sinks) {
		return errors.Join(errs...)
	}
	return nil
}

// Log writes the ranking to the structured log.
type Log struct {
	// Top caps how many tickers are logged. Zero logs all.
	Top int
}

func (Log) Name() string { return "log" }

func (l Log) Emit(_ context.Context, report models.Report) error {
	ranked := report.Ranked
	if l.Top > 0 && len(ranked) > l.Top {
		ranked = ranked[:l.Top]
	}
	slog.Info("Ticker report", "report", report.Name, "window", report.Window, "tickers", len(report.Ranked))
	for i, s := range ranked {
		slog.Info("Ticker rank", "report", report.Name, "rank", i+1, "ticker", s.Ticker,
			"score", s.Score, "mentions", s.Mentions, "authors", s.Authors)
	}
	return nil
}
