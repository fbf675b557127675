// Package scoring aggregates analyzed threads into weighted ticker scores.
package scoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

// AnalyzedLister is the slice of the thread store the scorer reads from.
type AnalyzedLister interface {
	ListAnalyzedSince(ctx context.Context, since time.Time) ([]models.Thread, error)
}

type tally struct {
	mentions int
	authors  map[string]struct{}
}

// Score returns mentions × distinct authors for every ticker seen in threads
// removed at or after since. Tickers with no surviving mentions are absent.
func Score(ctx context.Context, store AnalyzedLister, since time.Time) (map[string]int, error) {
	stats, err := Stats(ctx, store, since)
	if err != nil {
		return nil, err
	}
	scores := make(map[string]int, len(stats))
	for _, s := range stats {
		scores[s.Ticker] = s.Score
	}
	return scores, nil
}

// Stats is Score with the per-ticker breakdown, ranked by score descending then ticker.
func Stats(ctx context.Context, store AnalyzedLister, since time.Time) ([]models.TickerStat, error) {
	threads, err := store.ListAnalyzedSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list analyzed threads since %s: %w", since.Format(time.RFC3339), err)
	}
	return Aggregate(threads, since), nil
}

// Aggregate scores an in-memory slice. Threads that are not analyzed, were removed
// before since, or carry no tickers are ignored. Stores keep microseconds, so the
// window start is compared at that precision.
func Aggregate(threads []models.Thread, since time.Time) []models.TickerStat {
	since = since.Truncate(time.Microsecond)
	tallies := make(map[string]*tally)
	for _, th := range threads {
		if th.Status != models.StatusAnalyzed || th.RemovedAt == nil || th.RemovedAt.Before(since) {
			continue
		}
		author := th.Author
		if author == "" {
			author = models.DeletedAuthor
		}
		seen := make(map[string]struct{}, len(th.Tickers))
		for _, ticker := range th.Tickers {
			if _, dup := seen[ticker]; dup {
				continue
			}
			seen[ticker] = struct{}{}

			t, ok := tallies[ticker]
			if !ok {
				t = &tally{authors: make(map[string]struct{})}
				tallies[ticker] = t
			}
			t.mentions++
			t.authors[author] = struct{}{}
		}
	}

	stats := make([]models.TickerStat, 0, len(tallies))
	for ticker, t := range tallies {
		stats = append(stats, models.TickerStat{
			Ticker:   ticker,
			Mentions: t.mentions,
			Authors:  len(t.authors),
			Score:    t.mentions * len(t.authors),
		})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Score != stats[j].Score {
			return stats[i].Score > stats[j].Score
		}
		return stats[i].Ticker < stats[j].Ticker
	})
	return stats
}
