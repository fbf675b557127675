package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/pauljones0/ticker-monitor/internal/config"
	"github.com/pauljones0/ticker-monitor/internal/models"
	"github.com/pauljones0/ticker-monitor/internal/scoring"
	"github.com/pauljones0/ticker-monitor/internal/tickers"
	"github.com/pauljones0/ticker-monitor/internal/validator"
)

// Processor runs the lifecycle jobs. It holds no store; the caller passes the
// connection it owns into every call.
type Processor struct {
	source    ContentSource
	emitter   ReportEmitter
	annotator Annotator
	validator *validator.Validator
	extractor *tickers.Extractor
	allow     *tickers.AllowList

	harvestLimit int
	checkLimit   int
	now          func() time.Time
}

// HarvestResult counts the posts seen and the threads newly recorded by one harvest.
type HarvestResult struct {
	Observed int
	Inserted int
}

// CheckResult counts the threads queried and the ones moved to REMOVED.
type CheckResult struct {
	Checked int
	Removed int
}

// AnalyzeResult summarizes one analysis pass.
type AnalyzeResult struct {
	Analyzed    int
	WithTickers int
	// Skipped is set when the allow-list is empty and nothing was attempted.
	Skipped bool
}

// Option customizes a Processor.
type Option func(*Processor)

// WithAnnotator attaches commentary generation to report runs.
func WithAnnotator(a Annotator) Option {
	return func(p *Processor) { p.annotator = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func New(source ContentSource, emitter ReportEmitter, allow *tickers.AllowList, cfg *config.Config, opts ...Option) (*Processor, error) {
	extractor, err := tickers.NewExtractor(cfg.Tickers.MinLength, cfg.Tickers.MaxLength)
	if err != nil {
		return nil, fmt.Errorf("build ticker extractor: %w", err)
	}

	p := &Processor{
		source:       source,
		emitter:      emitter,
		validator:    validator.New(),
		extractor:    extractor,
		allow:        allow,
		harvestLimit: cfg.Schedule.HarvestLimit,
		checkLimit:   cfg.Schedule.CheckLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Harvest records every newly seen post as an ACTIVE thread. Existing threads are never touched.
func (p *Processor) Harvest(ctx context.Context, store ThreadStore) (HarvestResult, error) {
	snapshots, err := p.source.ListNewest(ctx, p.harvestLimit)
	if err != nil {
		return HarvestResult{}, fmt.Errorf("list newest posts: %w", err)
	}

	res := HarvestResult{Observed: len(snapshots)}
	threads := make([]models.Thread, 0, len(snapshots))
	for _, s := range snapshots {
		if err := p.validator.ValidateStruct(s); err != nil {
			slog.Warn("Skipping invalid post", "id", s.ID, "error", err)
			continue
		}
		threads = append(threads, models.NewThread(s))
	}
	if len(threads) == 0 {
		slog.Info("Harvest finished", "observed", res.Observed, "inserted", 0)
		return res, nil
	}

	res.Inserted, err = store.InsertIfAbsent(ctx, threads...)
	if err != nil {
		return HarvestResult{Observed: res.Observed}, fmt.Errorf("insert harvested threads: %w", err)
	}
	slog.Info("Harvest finished", "observed", res.Observed, "inserted", res.Inserted)
	return res, nil
}

// CheckRemovals queries the newest ACTIVE threads and marks the ones the source
// no longer returns, or returns with a removal hint, as REMOVED.
func (p *Processor) CheckRemovals(ctx context.Context, store ThreadStore) (CheckResult, error) {
	active, err := store.ListActive(ctx, p.checkLimit)
	if err != nil {
		return CheckResult{}, fmt.Errorf("list active threads: %w", err)
	}
	if len(active) == 0 {
		slog.Info("No active threads to check")
		return CheckResult{}, nil
	}

	queried := make(map[string]struct{}, len(active))
	ids := make([]string, 0, len(active))
	for _, th := range active {
		queried[th.ID] = struct{}{}
		ids = append(ids, th.ID)
	}

	confirmed, err := p.source.CheckExistence(ctx, ids)
	if err != nil {
		return CheckResult{Checked: len(ids)}, fmt.Errorf("check existence of %d threads: %w", len(ids), err)
	}

	// category -> ids
	removals := make(map[string][]string)
	for _, s := range confirmed {
		if _, ok := queried[s.ID]; !ok {
			continue
		}
		delete(queried, s.ID)
		if hint := strings.TrimSpace(s.RemovalCategory); hint != "" {
			removals[hint] = append(removals[hint], s.ID)
		}
	}
	for _, id := range ids {
		if _, missing := queried[id]; missing {
			removals[models.GenericRemovalCategory] = append(removals[models.GenericRemovalCategory], id)
		}
	}

	categories := make([]string, 0, len(removals))
	for c := range removals {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	res := CheckResult{Checked: len(ids)}
	at := p.now().Truncate(time.Microsecond)
	for _, category := range categories {
		n, err := store.MarkRemoved(ctx, removals[category], category, at)
		if err != nil {
			return res, fmt.Errorf("mark %d threads removed (%s): %w", len(removals[category]), category, err)
		}
		res.Removed += n
		if n > 0 {
			slog.Info("Threads removed", "category", category, "count", n)
		}
	}
	slog.Info("Removal check finished", "checked", res.Checked, "removed", res.Removed)
	return res, nil
}

// Analyze extracts allow-listed tickers from every REMOVED thread and marks it ANALYZED.
// With an empty allow-list nothing is analyzed and threads stay REMOVED.
func (p *Processor) Analyze(ctx context.Context, store ThreadStore) (AnalyzeResult, error) {
	if p.allow.Empty() {
		slog.Warn("Ticker allow-list is empty, skipping analysis")
		return AnalyzeResult{Skipped: true}, nil
	}

	removed, err := store.ListRemoved(ctx)
	if err != nil {
		return AnalyzeResult{}, fmt.Errorf("list removed threads: %w", err)
	}

	var res AnalyzeResult
	for _, th := range removed {
		found := p.extractor.Validated(th.Title+" "+th.Body, p.allow)
		if err := store.MarkAnalyzed(ctx, th.ID, found); err != nil {
			if errors.Is(err, models.ErrThreadNotFound) || errors.Is(err, models.ErrInvalidTransition) {
				slog.Warn("Skipping thread that cannot be analyzed", "id", th.ID, "error", err)
				continue
			}
			return res, fmt.Errorf("mark thread %s analyzed: %w", th.ID, err)
		}
		res.Analyzed++
		if len(found) > 0 {
			res.WithTickers++
			slog.Debug("Tickers found", "id", th.ID, "tickers", found)
		}
	}
	slog.Info("Analysis finished", "analyzed", res.Analyzed, "with_tickers", res.WithTickers)
	return res, nil
}

// Report scores the trailing window and hands the result to the emitter.
func (p *Processor) Report(ctx context.Context, store ThreadStore, name string, window time.Duration) (models.Report, error) {
	now := p.now()
	stats, err := scoring.Stats(ctx, store, now.Add(-window))
	if err != nil {
		return models.Report{}, fmt.Errorf("score %s report: %w", name, err)
	}

	report := models.Report{
		Name:        name,
		Window:      window,
		GeneratedAt: now,
		Scores:      make(map[string]int, len(stats)),
		Ranked:      stats,
	}
	for _, s := range stats {
		report.Scores[s.Ticker] = s.Score
	}

	if p.annotator != nil && len(stats) > 0 {
		commentary, err := p.annotator.Annotate(ctx, report)
		if err != nil {
			slog.Warn("Report commentary failed, emitting without it", "report", name, "error", err)
		} else {
			report.Commentary = commentary
		}
	}

	if err := p.emitter.Emit(ctx, report); err != nil {
		return report, fmt.Errorf("emit %s report: %w: %w", name, models.ErrDeliveryFailed, err)
	}
	slog.Info("Report emitted", "report", name, "window", window, "tickers", len(stats))
	return report, nil
}
