package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pauljones0/ticker-monitor/internal/models"
)

const firestoreCollection = "threads"

// threadDoc is the Firestore document shape. The document ID is the post ID.
type threadDoc struct {
	Title           string     `firestore:"title"`
	Body            string     `firestore:"selftext"`
	Author          string     `firestore:"authorName"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	RemovedAt       *time.Time `firestore:"removedAt"`
	InitialScore    int        `firestore:"initialScore"`
	InitialComments int        `firestore:"initialComments"`
	Flair           string     `firestore:"flair"`
	Status          string     `firestore:"status"`
	RemovalCategory *string    `firestore:"removalCategory"`
	Tickers         []string   `firestore:"tickers"`
}

func toDoc(th models.Thread) threadDoc {
	return threadDoc{
		Title:           th.Title,
		Body:            th.Body,
		Author:          th.Author,
		CreatedAt:       th.CreatedAt,
		RemovedAt:       th.RemovedAt,
		InitialScore:    th.InitialScore,
		InitialComments: th.InitialComments,
		Flair:           th.Flair,
		Status:          th.Status.String(),
		RemovalCategory: th.RemovalCategory,
		Tickers:         th.Tickers,
	}
}

func fromDoc(id string, d threadDoc) (models.Thread, error) {
	st, err := models.ParseStatus(d.Status)
	if err != nil {
		return models.Thread{}, fmt.Errorf("thread %s: %w", id, err)
	}
	th := models.Thread{
		ID:              id,
		Title:           d.Title,
		Body:            d.Body,
		Author:          d.Author,
		CreatedAt:       d.CreatedAt,
		RemovedAt:       d.RemovedAt,
		InitialScore:    d.InitialScore,
		InitialComments: d.InitialComments,
		Flair:           d.Flair,
		Status:          st,
		RemovalCategory: d.RemovalCategory,
	}
	if len(d.Tickers) > 0 {
		th.Tickers = d.Tickers
	}
	return th, nil
}

// FirestoreStore keeps threads in a Firestore collection.
type FirestoreStore struct {
	client *firestore.Client
}

func OpenFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore.NewClient: %w", classify(err))
	}
	return &FirestoreStore{client: client}, nil
}

func (c *FirestoreStore) Close() error {
	return c.client.Close()
}

func (c *FirestoreStore) threads() *firestore.CollectionRef {
	return c.client.Collection(firestoreCollection)
}

// InsertIfAbsent creates the documents that do not exist yet in one transaction.
func (c *FirestoreStore) InsertIfAbsent(ctx context.Context, threads ...models.Thread) (int, error) {
	if len(threads) == 0 {
		return 0, nil
	}

	var inserted int
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		inserted = 0
		refs := make([]*firestore.DocumentRef, 0, len(threads))
		pending := make(map[string]bool, len(threads))
		for _, th := range threads {
			if pending[th.ID] {
				continue
			}
			pending[th.ID] = true
			refs = append(refs, c.threads().Doc(th.ID))
		}

		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		exists := make(map[string]bool, len(snaps))
		for _, snap := range snaps {
			exists[snap.Ref.ID] = snap.Exists()
		}

		for _, th := range threads {
			if exists[th.ID] {
				continue
			}
			exists[th.ID] = true
			if err := tx.Create(c.threads().Doc(th.ID), toDoc(th)); err != nil {
				return err
			}
			inserted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("insert threads: %w", classify(err))
	}
	return inserted, nil
}

func (c *FirestoreStore) ListActive(ctx context.Context, limit int) ([]models.Thread, error) {
	q := c.threads().
		Where("status", "==", models.StatusActive.String()).
		OrderBy("createdAt", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return c.collect(q.Documents(ctx))
}

func (c *FirestoreStore) MarkRemoved(ctx context.Context, ids []string, category string, at time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var removed int
	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		removed = 0
		seen := make(map[string]bool, len(ids))
		refs := make([]*firestore.DocumentRef, 0, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			refs = append(refs, c.threads().Doc(id))
		}

		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			st, err := snap.DataAt("status")
			if err != nil || st != models.StatusActive.String() {
				continue
			}
			err = tx.Update(snap.Ref, []firestore.Update{
				{Path: "status", Value: models.StatusRemoved.String()},
				{Path: "removalCategory", Value: category},
				{Path: "removedAt", Value: at},
			})
			if err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("mark removed: %w", classify(err))
	}
	return removed, nil
}

func (c *FirestoreStore) ListRemoved(ctx context.Context) ([]models.Thread, error) {
	q := c.threads().
		Where("status", "==", models.StatusRemoved.String()).
		OrderBy("removedAt", firestore.Asc)
	return c.collect(q.Documents(ctx))
}

func (c *FirestoreStore) MarkAnalyzed(ctx context.Context, id string, tickers []string) error {
	if len(tickers) == 0 {
		tickers = nil
	}

	err := c.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref := c.threads().Doc(id)
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("thread %s: %w", id, models.ErrThreadNotFound)
		}
		if err != nil {
			return err
		}

		raw, err := snap.DataAt("status")
		if err != nil {
			return err
		}
		s, _ := raw.(string)
		current, err := models.ParseStatus(s)
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
		return tx.Update(ref, []firestore.Update{
			{Path: "status", Value: models.StatusAnalyzed.String()},
			{Path: "tickers", Value: tickers},
		})
	})
	if errors.Is(err, models.ErrThreadNotFound) || errors.Is(err, models.ErrInvalidTransition) {
		return err
	}
	if err != nil {
		return fmt.Errorf("mark thread %s analyzed: %w", id, classify(err))
	}
	return nil
}

// ListAnalyzedSince filters null ticker sets client-side to avoid a second inequality field.
func (c *FirestoreStore) ListAnalyzedSince(ctx context.Context, since time.Time) ([]models.Thread, error) {
	q := c.threads().
		Where("status", "==", models.StatusAnalyzed.String()).
		Where("removedAt", ">=", since).
		OrderBy("removedAt", firestore.Asc)
	all, err := c.collect(q.Documents(ctx))
	if err != nil {
		return nil, err
	}
	threads := all[:0]
	for _, th := range all {
		if th.Tickers != nil {
			threads = append(threads, th)
		}
	}
	return threads, nil
}

// StatusCounts runs one count aggregation per lifecycle state.
func (c *FirestoreStore) StatusCounts(ctx context.Context) (map[models.Status]int, error) {
	counts := make(map[models.Status]int)
	for _, st := range []models.Status{models.StatusActive, models.StatusRemoved, models.StatusAnalyzed} {
		q := c.threads().Where("status", "==", st.String())
		res, err := q.NewAggregationQuery().
			WithCount("all").
			Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s threads: %w", st, classify(err))
		}
		n, err := countValue(res["all"])
		if err != nil {
			return nil, fmt.Errorf("count %s threads: %w", st, err)
		}
		counts[st] = int(n)
	}
	return counts, nil
}

// countValue unwraps an aggregation result, which the client returns either as
// int64 or as a raw protobuf value depending on version.
func countValue(v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case *firestorepb.Value:
		return val.GetIntegerValue(), nil
	case nil:
		return 0, errors.New("count aggregation result missing")
	default:
		return 0, fmt.Errorf("count aggregation result has unexpected type %T", v)
	}
}

func (c *FirestoreStore) collect(iter *firestore.DocumentIterator) ([]models.Thread, error) {
	defer iter.Stop()

	var threads []models.Thread
	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate threads: %w", classify(err))
		}

		var d threadDoc
		if err := doc.DataTo(&d); err != nil {
			slog.Warn("Skipping unreadable thread document", "id", doc.Ref.ID, "error", err)
			continue
		}
		th, err := fromDoc(doc.Ref.ID, d)
		if err != nil {
			slog.Warn("Skipping thread document", "id", doc.Ref.ID, "error", err)
			continue
		}
		threads = append(threads, th)
	}
	return threads, nil
}
