package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

const threadsTable = "threads"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS threads (
		post_id           TEXT PRIMARY KEY,
		title             TEXT NOT NULL,
		selftext          TEXT NOT NULL DEFAULT '',
		author_name       TEXT NOT NULL,
		created_utc       DOUBLE PRECISION NOT NULL,
		removed_utc       DOUBLE PRECISION,
		initial_score     INTEGER NOT NULL DEFAULT 0,
		initial_comments  INTEGER NOT NULL DEFAULT 0,
		flair             TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL DEFAULT 'ACTIVE',
		removal_category  TEXT,
		extracted_tickers TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_status_created ON threads (status, created_utc)`,
	`CREATE INDEX IF NOT EXISTS idx_threads_status_removed ON threads (status, removed_utc)`,
}

var threadColumns = []string{
	"post_id", "title", "selftext", "author_name", "created_utc", "removed_utc",
	"initial_score", "initial_comments", "flair", "status", "removal_category", "extracted_tickers",
}

// SQLStore keeps threads in SQLite or Postgres.
type SQLStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// OpenSQL connects to driver ("sqlite" or "postgres"), checks the connection and
// creates the schema if needed.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	var (
		driverName string
		sb         = sq.StatementBuilder
	)
	switch driver {
	case "sqlite":
		driverName = "sqlite3"
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000"
		}
		sb = sb.PlaceholderFormat(sq.Question)
	case "postgres":
		driverName = "pgx"
		sb = sb.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One writer at a time.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, classify(err))
	}

	s := &SQLStore{db: db, sb: sb}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func ensureSQLiteDir(dsn string) error {
	if dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}
	return nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", classify(err))
		}
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InsertIfAbsent inserts the threads whose ids are unknown, in one transaction,
// and returns how many were new.
func (s *SQLStore) InsertIfAbsent(ctx context.Context, threads ...models.Thread) (int, error) {
	if len(threads) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", classify(err))
	}
	defer tx.Rollback()

	inserted := 0
	for _, th := range threads {
		tickers, err := models.EncodeTickers(th.Tickers)
		if err != nil {
			return 0, err
		}
		res, err := s.sb.RunWith(tx).
			Insert(threadsTable).
			Columns(threadColumns...).
			Values(
				th.ID, th.Title, th.Body, th.Author, toEpoch(th.CreatedAt), nullableEpoch(th.RemovedAt),
				th.InitialScore, th.InitialComments, th.Flair, th.Status.String(), th.RemovalCategory, tickers,
			).
			Suffix("ON CONFLICT (post_id) DO NOTHING").
			ExecContext(ctx)
		if err != nil {
			return 0, fmt.Errorf("insert thread %s: %w", th.ID, classify(err))
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert thread %s: %w", th.ID, classify(err))
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", classify(err))
	}
	return inserted, nil
}

// ListActive returns up to limit ACTIVE threads, newest first.
func (s *SQLStore) ListActive(ctx context.Context, limit int) ([]models.Thread, error) {
	q := s.sb.Select(threadColumns...).
		From(threadsTable).
		Where(sq.Eq{"status": models.StatusActive.String()}).
		OrderBy("created_utc DESC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return s.query(ctx, q)
}

// MarkRemoved moves the ACTIVE threads among ids to REMOVED. Others are left alone.
func (s *SQLStore) MarkRemoved(ctx context.Context, ids []string, category string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.sb.RunWith(s.db).
		Update(threadsTable).
		Set("status", models.StatusRemoved.String()).
		Set("removal_category", category).
		Set("removed_utc", toEpoch(at)).
		Where(sq.Eq{"post_id": ids, "status": models.StatusActive.String()}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("mark removed: %w", classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark removed: %w", classify(err))
	}
	return int(n), nil
}

// ListRemoved returns every REMOVED thread, oldest removal first.
func (s *SQLStore) ListRemoved(ctx context.Context) ([]models.Thread, error) {
	q := s.sb.Select(threadColumns...).
		From(threadsTable).
		Where(sq.Eq{"status": models.StatusRemoved.String()}).
		OrderBy("removed_utc ASC")
	return s.query(ctx, q)
}

// MarkAnalyzed moves a REMOVED thread to ANALYZED with its tickers. It is a no-op
// for a thread that is already ANALYZED.
func (s *SQLStore) MarkAnalyzed(ctx context.Context, id string, tickers []string) error {
	encoded, err := models.EncodeTickers(tickers)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin analyze: %w", classify(err))
	}
	defer tx.Rollback()

	var raw string
	err = s.sb.RunWith(tx).
		Select("status").
		From(threadsTable).
		Where(sq.Eq{"post_id": id}).
		QueryRowContext(ctx).
		Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("thread %s: %w", id, models.ErrThreadNotFound)
	}
	if err != nil {
		return fmt.Errorf("load thread %s: %w", id, classify(err))
	}
	current, err := models.ParseStatus(raw)
	if err != nil {
		return fmt.Errorf("thread %s: %w", id, err)
	}

	switch current {
	case models.StatusAnalyzed:
		return nil
	case models.StatusActive:
		return fmt.Errorf("thread %s is %s: %w", id, current, models.ErrInvalidTransition)
	case models.StatusRemoved:
	}

	_, err = s.sb.RunWith(tx).
		Update(threadsTable).
		Set("status", models.StatusAnalyzed.String()).
		Set("extracted_tickers", encoded).
		Where(sq.Eq{"post_id": id, "status": models.StatusRemoved.String()}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("mark thread %s analyzed: %w", id, classify(err))
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analyze: %w", classify(err))
	}
	return nil
}

// ListAnalyzedSince returns ANALYZED threads with tickers removed at or after since.
func (s *SQLStore) ListAnalyzedSince(ctx context.Context, since time.Time) ([]models.Thread, error) {
	q := s.sb.Select(threadColumns...).
		From(threadsTable).
		Where(sq.Eq{"status": models.StatusAnalyzed.String()}).
		Where(sq.GtOrEq{"removed_utc": toEpoch(since)}).
		Where(sq.NotEq{"extracted_tickers": nil}).
		OrderBy("removed_utc ASC")
	return s.query(ctx, q)
}

// StatusCounts returns the number of threads per lifecycle state.
func (s *SQLStore) StatusCounts(ctx context.Context) (map[models.Status]int, error) {
	rows, err := s.sb.RunWith(s.db).
		Select("status", "COUNT(*)").
		From(threadsTable).
		GroupBy("status").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("count threads: %w", classify(err))
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var (
			raw string
			n   int
		)
		if err := rows.Scan(&raw, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", classify(err))
		}
		st, err := models.ParseStatus(raw)
		if err != nil {
			slog.Warn("Unknown thread status in store", "status", raw)
			continue
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count threads: %w", classify(err))
	}
	return counts, nil
}

func (s *SQLStore) query(ctx context.Context, q sq.SelectBuilder) ([]models.Thread, error) {
	rows, err := q.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query threads: %w", classify(err))
	}
	defer rows.Close()

	var threads []models.Thread
	for rows.Next() {
		th, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, th)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", classify(err))
	}
	return threads, nil
}

func scanThread(rows *sql.Rows) (models.Thread, error) {
	var (
		th       models.Thread
		created  float64
		removed  sql.NullFloat64
		status   string
		category sql.NullString
		tickers  sql.NullString
	)
	err := rows.Scan(
		&th.ID, &th.Title, &th.Body, &th.Author, &created, &removed,
		&th.InitialScore, &th.InitialComments, &th.Flair, &status, &category, &tickers,
	)
	if err != nil {
		return models.Thread{}, fmt.Errorf("scan thread: %w", classify(err))
	}

	th.CreatedAt = fromEpoch(created)
	if removed.Valid {
		t := fromEpoch(removed.Float64)
		th.RemovedAt = &t
	}
	if th.Status, err = models.ParseStatus(status); err != nil {
		return models.Thread{}, fmt.Errorf("thread %s: %w", th.ID, err)
	}
	if category.Valid {
		c := category.String
		th.RemovalCategory = &c
	}
	if tickers.Valid {
		decoded, err := models.DecodeTickers(&tickers.String)
		if err != nil {
			slog.Warn("Ignoring malformed tickers", "id", th.ID, "error", err)
		} else {
			th.Tickers = decoded
		}
	}
	return th, nil
}

func toEpoch(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func nullableEpoch(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toEpoch(*t)
}

func fromEpoch(secs float64) time.Time {
	return time.UnixMicro(int64(math.Round(secs * 1e6)))
}
