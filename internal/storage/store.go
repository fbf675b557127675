package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pauljones0/ticker-monitor/internal/config"
	"github.com/pauljones0/ticker-monitor/internal/models"
	"github.com/pauljones0/ticker-monitor/internal/processor"
)

// Store is a thread store that can also summarize itself.
type Store interface {
	processor.ThreadStore
	StatusCounts(ctx context.Context) (map[models.Status]int, error)
}

var (
	_ Store = (*SQLStore)(nil)
	_ Store = (*FirestoreStore)(nil)
)

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "postgres":
		s, err := OpenSQL(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "firestore":
		s, err := OpenFirestore(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Opener returns a function the scheduler calls whenever it needs a fresh connection.
func Opener(cfg config.StorageConfig) func(ctx context.Context) (processor.ThreadStore, error) {
	return func(ctx context.Context) (processor.ThreadStore, error) {
		store, err := Open(ctx, cfg)
		if err != nil {
			return nil, err
		}
		counts, err := store.StatusCounts(ctx)
		if err != nil {
			slog.Warn("Could not count threads", "driver", cfg.Driver, "error", err)
			return store, nil
		}
		slog.Info("Thread store opened", "driver", cfg.Driver,
			"active", counts[models.StatusActive],
			"removed", counts[models.StatusRemoved],
			"analyzed", counts[models.StatusAnalyzed])
		return store, nil
	}
}
