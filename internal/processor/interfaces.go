package processor

import (
	"context"
	"time"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

// ThreadStore abstracts the persistence layer for thread lifecycle data.
type ThreadStore interface {
	InsertIfAbsent(ctx context.Context, threads ...models.Thread) (int, error)
	ListActive(ctx context.Context, limit int) ([]models.Thread, error)
	MarkRemoved(ctx context.Context, ids []string, category string, at time.Time) (int, error)
	ListRemoved(ctx context.Context) ([]models.Thread, error)
	MarkAnalyzed(ctx context.Context, id string, tickers []string) error
	ListAnalyzedSince(ctx context.Context, since time.Time) ([]models.Thread, error)
	Close() error
}

// ContentSource abstracts the upstream community API.
type ContentSource interface {
	ListNewest(ctx context.Context, limit int) ([]models.PostSnapshot, error)
	// CheckExistence returns snapshots for the ids that still resolve. Omitted ids were removed.
	CheckExistence(ctx context.Context, ids []string) ([]models.PostSnapshot, error)
}

// ReportEmitter abstracts the report rendering layer.
type ReportEmitter interface {
	Emit(ctx context.Context, report models.Report) error
}

// Annotator adds optional commentary to a report before it is emitted.
type Annotator interface {
	Annotate(ctx context.Context, report models.Report) (string, error)
}
