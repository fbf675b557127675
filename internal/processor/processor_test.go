package processor

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/pauljones0/ticker-monitor/internal/config"
	"github.com/pauljones0/ticker-monitor/internal/models"
	"github.com/pauljones0/ticker-monitor/internal/tickers"
)

// --- Mock implementations ---

// mockStore enforces the same lifecycle rules as the real stores and records
// every status each thread passes through.
type mockStore struct {
	threads     map[string]*models.Thread
	history     map[string][]models.Status
	insertCalls int
	err         error
}

func newMockStore() *mockStore {
	return &mockStore{
		threads: make(map[string]*models.Thread),
		history: make(map[string][]models.Status),
	}
}

func (m *mockStore) InsertIfAbsent(_ context.Context, threads ...models.Thread) (int, error) {
	m.insertCalls++
	if m.err != nil {
		return 0, m.err
	}
	inserted := 0
	for _, th := range threads {
		if _, ok := m.threads[th.ID]; ok {
			continue
		}
		stored := th
		m.threads[th.ID] = &stored
		m.history[th.ID] = append(m.history[th.ID], th.Status)
		inserted++
	}
	return inserted, nil
}

func (m *mockStore) byStatus(s models.Status) []models.Thread {
	var out []models.Thread
	for _, th := range m.threads {
		if th.Status == s {
			out = append(out, *th)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *mockStore) ListActive(_ context.Context, limit int) ([]models.Thread, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := m.byStatus(models.StatusActive)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) MarkRemoved(_ context.Context, ids []string, category string, at time.Time) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, id := range ids {
		th, ok := m.threads[id]
		if !ok || th.Status != models.StatusActive {
			continue
		}
		c, ts := category, at
		th.Status = models.StatusRemoved
		th.RemovalCategory = &c
		th.RemovedAt = &ts
		m.history[id] = append(m.history[id], th.Status)
		n++
	}
	return n, nil
}

func (m *mockStore) ListRemoved(_ context.Context) ([]models.Thread, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byStatus(models.StatusRemoved), nil
}

func (m *mockStore) MarkAnalyzed(_ context.Context, id string, found []string) error {
	if m.err != nil {
		return m.err
	}
	th, ok := m.threads[id]
	if !ok {
		return models.ErrThreadNotFound
	}
	switch th.Status {
	case models.StatusAnalyzed:
		return nil
	case models.StatusActive:
		return models.ErrInvalidTransition
	}
	th.Status = models.StatusAnalyzed
	th.Tickers = found
	m.history[id] = append(m.history[id], th.Status)
	return nil
}

func (m *mockStore) ListAnalyzedSince(_ context.Context, since time.Time) ([]models.Thread, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []models.Thread
	for _, th := range m.byStatus(models.StatusAnalyzed) {
		if th.Tickers != nil && !th.RemovedAt.Before(since) {
			out = append(out, th)
		}
	}
	return out, nil
}

func (m *mockStore) Close() error { return nil }

type mockSource struct {
	newest   []models.PostSnapshot
	existing map[string]models.PostSnapshot
	err      error
	queried  []string
}

func (m *mockSource) ListNewest(_ context.Context, limit int) ([]models.PostSnapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.newest) > limit {
		return m.newest[:limit], nil
	}
	return m.newest, nil
}

func (m *mockSource) CheckExistence(_ context.Context, ids []string) ([]models.PostSnapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.queried = ids
	var out []models.PostSnapshot
	for _, id := range ids {
		if s, ok := m.existing[id]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

type mockEmitter struct {
	reports []models.Report
	err     error
}

func (m *mockEmitter) Emit(_ context.Context, r models.Report) error {
	if m.err != nil {
		return m.err
	}
	m.reports = append(m.reports, r)
	return nil
}

type mockAnnotator struct {
	text string
	err  error
}

func (m *mockAnnotator) Annotate(_ context.Context, _ models.Report) (string, error) {
	return m.text, m.err
}

var testNow = time.Unix(1_700_000_000, 0)

func testConfig() *config.Config {
	return &config.Config{
		Tickers:  config.TickerConfig{MinLength: 3, MaxLength: 4},
		Schedule: config.ScheduleConfig{HarvestLimit: 100, CheckLimit: 100},
	}
}

func newTestProcessor(t *testing.T, src ContentSource, em ReportEmitter, allow *tickers.AllowList, opts ...Option) *Processor {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	p, err := New(src, em, allow, testConfig(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func post(id, title, author string, age time.Duration) models.PostSnapshot {
	return models.PostSnapshot{ID: id, Title: title, Author: author, CreatedAt: testNow.Add(-age)}
}

// --- Tests ---

func TestHarvest_IsIdempotent(t *testing.T) {
	store := newMockStore()
	src := &mockSource{newest: []models.PostSnapshot{
		post("a", "BTQ to the moon", "alice", time.Minute),
		post("b", "Second", "", 2*time.Minute),
	}}
	p := newTestProcessor(t, src, &mockEmitter{}, tickers.NewAllowList("BTQ"))

	first, err := p.Harvest(context.Background(), store)
	if err != nil {
		t.Fatalf("Harvest() error = %v", err)
	}
	if diff := cmp.Diff(HarvestResult{Observed: 2, Inserted: 2}, first); diff != "" {
		t.Errorf("first harvest mismatch (-want +got):\n%s", diff)
	}

	second, err := p.Harvest(context.Background(), store)
	if err != nil {
		t.Fatalf("Harvest() error = %v", err)
	}
	if diff := cmp.Diff(HarvestResult{Observed: 2, Inserted: 0}, second); diff != "" {
		t.Errorf("second harvest mismatch (-want +got):\n%s", diff)
	}
	if len(store.threads) != 2 {
		t.Errorf("expected 2 threads, got %d", len(store.threads))
	}
	if got := store.threads["b"].Author; got != models.DeletedAuthor {
		t.Errorf("missing author stored as %q, want %q", got, models.DeletedAuthor)
	}
	if got := store.threads["a"].Status; got != models.StatusActive {
		t.Errorf("harvested status = %v, want ACTIVE", got)
	}
}

func TestHarvest_SkipsInvalidPosts(t *testing.T) {
	store := newMockStore()
	src := &mockSource{newest: []models.PostSnapshot{
		{ID: "", Title: "no id", CreatedAt: testNow},
		{ID: "x", Title: "", CreatedAt: testNow},
		{ID: "y", Title: "no timestamp"},
		post("ok", "Valid", "alice", 0),
	}}
	p := newTestProcessor(t, src, &mockEmitter{}, nil)

	res, err := p.Harvest(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if res.Observed != 4 || res.Inserted != 1 {
		t.Errorf("Harvest() = %+v, want 4 observed 1 inserted", res)
	}
}

func TestHarvest_SourceErrorWritesNothing(t *testing.T) {
	store := newMockStore()
	src := &mockSource{err: models.ErrSourceUnavailable}
	p := newTestProcessor(t, src, &mockEmitter{}, nil)

	_, err := p.Harvest(context.Background(), store)
	if !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("Harvest() error = %v, want ErrSourceUnavailable", err)
	}
	if store.insertCalls != 0 {
		t.Errorf("store written %d times after source failure", store.insertCalls)
	}
}

func TestCheckRemovals(t *testing.T) {
	store := newMockStore()
	store.InsertIfAbsent(context.Background(),
		models.NewThread(post("gone", "Gone", "alice", time.Minute)),
		models.NewThread(post("alive", "Alive", "bob", 2*time.Minute)),
		models.NewThread(post("modded", "Modded", "carol", 3*time.Minute)),
	)
	src := &mockSource{existing: map[string]models.PostSnapshot{
		"alive":  post("alive", "Alive", "bob", 2*time.Minute),
		"modded": {ID: "modded", Title: "Modded", CreatedAt: testNow, RemovalCategory: "moderator"},
		"extra":  post("extra", "Never queried", "dave", 0),
	}}
	p := newTestProcessor(t, src, &mockEmitter{}, nil)

	res, err := p.CheckRemovals(context.Background(), store)
	if err != nil {
		t.Fatalf("CheckRemovals() error = %v", err)
	}
	if diff := cmp.Diff(CheckResult{Checked: 3, Removed: 2}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	gone := store.threads["gone"]
	if gone.Status != models.StatusRemoved || *gone.RemovalCategory != models.GenericRemovalCategory {
		t.Errorf("gone = %v/%v, want REMOVED/%s", gone.Status, gone.RemovalCategory, models.GenericRemovalCategory)
	}
	if !gone.RemovedAt.Equal(testNow) {
		t.Errorf("removed at %v, want %v", gone.RemovedAt, testNow)
	}
	if modded := store.threads["modded"]; *modded.RemovalCategory != "moderator" {
		t.Errorf("modded category = %q, want moderator", *modded.RemovalCategory)
	}
	alive := store.threads["alive"]
	if alive.Status != models.StatusActive || alive.RemovedAt != nil || alive.RemovalCategory != nil {
		t.Errorf("alive thread changed: %+v", alive)
	}
	if _, ok := store.threads["extra"]; ok {
		t.Error("unqueried post must not be inserted")
	}

	// A second pass finds nothing new to remove.
	res, err = p.CheckRemovals(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if res.Checked != 1 || res.Removed != 0 {
		t.Errorf("second CheckRemovals() = %+v", res)
	}
}

func TestCheckRemovals_RemovalTimeAtStorePrecision(t *testing.T) {
	store := newMockStore()
	store.InsertIfAbsent(context.Background(), models.NewThread(post("a", "A", "x", 0)))
	now := time.Unix(1_700_000_000, 123_456_789)
	p, err := New(&mockSource{}, &mockEmitter{}, nil, testConfig(), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.CheckRemovals(context.Background(), store); err != nil {
		t.Fatal(err)
	}
	want := time.Unix(1_700_000_000, 123_456_000)
	if got := store.threads["a"].RemovedAt; got == nil || !got.Equal(want) {
		t.Errorf("RemovedAt = %v, want %v", got, want)
	}
}

func TestCheckRemovals_RespectsLimit(t *testing.T) {
	store := newMockStore()
	for i, id := range []string{"a", "b", "c"} {
		store.InsertIfAbsent(context.Background(), models.NewThread(post(id, id, "x", time.Duration(i)*time.Minute)))
	}
	src := &mockSource{}
	cfg := testConfig()
	cfg.Schedule.CheckLimit = 2
	p, err := New(src, &mockEmitter{}, nil, cfg, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := p.CheckRemovals(context.Background(), store); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"a", "b"}, src.queried); diff != "" {
		t.Errorf("queried ids mismatch (-want +got):\n%s", diff)
	}
	if store.threads["c"].Status != models.StatusActive {
		t.Error("thread outside the newest N must stay ACTIVE")
	}
}

func TestCheckRemovals_SourceError(t *testing.T) {
	store := newMockStore()
	store.InsertIfAbsent(context.Background(), models.NewThread(post("a", "A", "x", 0)))
	p := newTestProcessor(t, &mockSource{err: models.ErrSourceUnavailable}, &mockEmitter{}, nil)

	if _, err := p.CheckRemovals(context.Background(), store); !errors.Is(err, models.ErrSourceUnavailable) {
		t.Fatalf("CheckRemovals() error = %v, want ErrSourceUnavailable", err)
	}
	if store.threads["a"].Status != models.StatusActive {
		t.Error("source failure must not remove threads")
	}
}

func removedStore(t *testing.T, posts ...models.PostSnapshot) *mockStore {
	t.Helper()
	store := newMockStore()
	var ids []string
	for _, s := range posts {
		store.InsertIfAbsent(context.Background(), models.NewThread(s))
		ids = append(ids, s.ID)
	}
	store.MarkRemoved(context.Background(), ids, models.GenericRemovalCategory, testNow)
	return store
}

func TestAnalyze_AllowListed(t *testing.T) {
	tests := []struct {
		name  string
		allow *tickers.AllowList
		want  []string
	}{
		{name: "ticker allowed", allow: tickers.NewAllowList("BTQ"), want: []string{"BTQ"}},
		{name: "ticker not allowed", allow: tickers.NewAllowList("AAPL"), want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := removedStore(t, models.PostSnapshot{ID: "a", Title: "BTQ to the moon", Body: "", CreatedAt: testNow})
			p := newTestProcessor(t, &mockSource{}, &mockEmitter{}, tt.allow)

			res, err := p.Analyze(context.Background(), store)
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if res.Analyzed != 1 {
				t.Errorf("Analyzed = %d, want 1", res.Analyzed)
			}
			th := store.threads["a"]
			if th.Status != models.StatusAnalyzed {
				t.Errorf("status = %v, want ANALYZED", th.Status)
			}
			if diff := cmp.Diff(tt.want, th.Tickers); diff != "" {
				t.Errorf("tickers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnalyze_UsesBody(t *testing.T) {
	store := removedStore(t, models.PostSnapshot{ID: "a", Title: "Look", Body: "grabbing $xyz and XYZ again", CreatedAt: testNow})
	p := newTestProcessor(t, &mockSource{}, &mockEmitter{}, tickers.NewAllowList("XYZ"))

	res, err := p.Analyze(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if res.WithTickers != 1 {
		t.Errorf("WithTickers = %d, want 1", res.WithTickers)
	}
	if diff := cmp.Diff([]string{"XYZ"}, store.threads["a"].Tickers); diff != "" {
		t.Errorf("tickers mismatch (-want +got):\n%s", diff)
	}
}

func TestAnalyze_EmptyAllowListLeavesThreadsRemoved(t *testing.T) {
	store := removedStore(t,
		models.PostSnapshot{ID: "a", Title: "BTQ", CreatedAt: testNow},
		models.PostSnapshot{ID: "b", Title: "XYZ", CreatedAt: testNow},
	)
	p := newTestProcessor(t, &mockSource{}, &mockEmitter{}, tickers.NewAllowList())

	res, err := p.Analyze(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || res.Analyzed != 0 {
		t.Errorf("Analyze() = %+v, want skipped with no transitions", res)
	}
	for id, th := range store.threads {
		if th.Status != models.StatusRemoved || th.Tickers != nil {
			t.Errorf("thread %s changed: %v %v", id, th.Status, th.Tickers)
		}
	}
}

func TestLifecycle_StatusHistoryIsPrefix(t *testing.T) {
	store := newMockStore()
	src := &mockSource{
		newest: []models.PostSnapshot{
			post("a", "BTQ squeeze", "alice", time.Minute),
			post("b", "XYZ", "bob", 2*time.Minute),
			post("c", "Nothing", "carol", 3*time.Minute),
		},
		existing: map[string]models.PostSnapshot{"c": post("c", "Nothing", "carol", 3*time.Minute)},
	}
	p := newTestProcessor(t, src, &mockEmitter{}, tickers.NewAllowList("BTQ", "XYZ"))
	ctx := context.Background()

	// Run every job twice in priority order and then once more out of order.
	for i := 0; i < 2; i++ {
		if _, err := p.Harvest(ctx, store); err != nil {
			t.Fatal(err)
		}
		if _, err := p.CheckRemovals(ctx, store); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Analyze(ctx, store); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := p.Analyze(ctx, store); err != nil {
		t.Fatal(err)
	}
	if _, err := p.CheckRemovals(ctx, store); err != nil {
		t.Fatal(err)
	}

	full := []models.Status{models.StatusActive, models.StatusRemoved, models.StatusAnalyzed}
	for id, hist := range store.history {
		if len(hist) > len(full) {
			t.Errorf("thread %s history too long: %v", id, hist)
			continue
		}
		if diff := cmp.Diff(full[:len(hist)], hist); diff != "" {
			t.Errorf("thread %s history is not a lifecycle prefix (-want +got):\n%s", id, diff)
		}
	}
	if got := store.history["a"]; len(got) != 3 {
		t.Errorf("thread a history = %v, want full lifecycle", got)
	}
	if got := store.history["c"]; len(got) != 1 {
		t.Errorf("thread c history = %v, want only ACTIVE", got)
	}
}

func TestReport(t *testing.T) {
	store := newMockStore()
	recent := testNow.Add(-time.Hour)
	old := testNow.Add(-48 * time.Hour)
	for _, th := range []struct {
		id, author string
		removed    time.Time
	}{
		{"a", "alice", recent}, {"b", "alice", recent}, {"c", "bob", recent}, {"d", "dave", old},
	} {
		store.InsertIfAbsent(context.Background(), models.NewThread(post(th.id, "XYZ", th.author, 0)))
		store.MarkRemoved(context.Background(), []string{th.id}, models.GenericRemovalCategory, th.removed)
		store.MarkAnalyzed(context.Background(), th.id, []string{"XYZ"})
	}
	em := &mockEmitter{}
	p := newTestProcessor(t, &mockSource{}, em, nil, WithAnnotator(&mockAnnotator{text: "XYZ leads"}))

	report, err := p.Report(context.Background(), store, "daily", 24*time.Hour)
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if diff := cmp.Diff(map[string]int{"XYZ": 6}, report.Scores); diff != "" {
		t.Errorf("scores mismatch (-want +got):\n%s", diff)
	}
	if len(em.reports) != 1 || em.reports[0].Name != "daily" {
		t.Fatalf("emitter received %+v", em.reports)
	}
	if em.reports[0].Commentary != "XYZ leads" {
		t.Errorf("commentary = %q", em.reports[0].Commentary)
	}
	if !report.GeneratedAt.Equal(testNow) {
		t.Errorf("GeneratedAt = %v, want %v", report.GeneratedAt, testNow)
	}
}

func TestReport_AnnotatorFailureStillEmits(t *testing.T) {
	store := newMockStore()
	store.InsertIfAbsent(context.Background(), models.NewThread(post("a", "XYZ", "alice", 0)))
	store.MarkRemoved(context.Background(), []string{"a"}, models.GenericRemovalCategory, testNow)
	store.MarkAnalyzed(context.Background(), "a", []string{"XYZ"})
	em := &mockEmitter{}
	p := newTestProcessor(t, &mockSource{}, em, nil, WithAnnotator(&mockAnnotator{err: errors.New("quota")}))

	if _, err := p.Report(context.Background(), store, "daily", time.Hour); err != nil {
		t.Fatalf("Report() error = %v", err)
	}
	if len(em.reports) != 1 || em.reports[0].Commentary != "" {
		t.Errorf("expected one report without commentary, got %+v", em.reports)
	}
}

func TestReport_EmitterFailureIsDeliveryError(t *testing.T) {
	p := newTestProcessor(t, &mockSource{}, &mockEmitter{err: errors.New("webhook down")}, nil)

	_, err := p.Report(context.Background(), newMockStore(), "weekly", 168*time.Hour)
	if !errors.Is(err, models.ErrDeliveryFailed) {
		t.Errorf("Report() error = %v, want ErrDeliveryFailed", err)
	}
}

func TestReport_StoreError(t *testing.T) {
	store := newMockStore()
	store.err = models.ErrStoreUnavailable
	em := &mockEmitter{}
	p := newTestProcessor(t, &mockSource{}, em, nil)

	_, err := p.Report(context.Background(), store, "daily", time.Hour)
	if !errors.Is(err, models.ErrStoreUnavailable) {
		t.Errorf("Report() error = %v, want ErrStoreUnavailable", err)
	}
	if len(em.reports) != 0 {
		t.Error("nothing should be emitted when scoring fails")
	}
}
