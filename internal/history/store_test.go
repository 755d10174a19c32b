package history

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/gzhole/aidetect/internal/detector"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleReport(tier string, p float64) detector.Report {
	return detector.Report{
		Result:   detector.NewResult(p, "sample"),
		Tier:     tier,
		Skipped:  []detector.Skip{{Tier: detector.TierModel, Reason: "model not ready", Error: "model load failed"}},
		Duration: 3 * time.Millisecond,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := NewRecord("essay.txt", "Written by alice@example.com for review.", sampleReport(detector.TierHeuristic, 0.3))
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("record round trip mismatch (-want +got):\n%s", diff)
	}
	if strings.Contains(got.Snippet, "alice@example.com") {
		t.Errorf("snippet not redacted: %q", got.Snippet)
	}

	byPrefix, err := s.Get(ctx, rec.ID[:8])
	if err != nil || byPrefix.ID != rec.ID {
		t.Errorf("prefix lookup = %v, %v", byPrefix.ID, err)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"", "nope", "%", "_"} {
		if _, err := s.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestStore_GetAmbiguousPrefix(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"abc-1", "abc-2"} {
		rec := NewRecord("x", "text", sampleReport(detector.TierModel, 0.9))
		rec.ID = id
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	if _, err := s.Get(ctx, "abc"); !errors.Is(err, ErrAmbiguous) {
		t.Errorf("expected ErrAmbiguous, got %v", err)
	}
	if rec, err := s.Get(ctx, "abc-2"); err != nil || rec.ID != "abc-2" {
		t.Errorf("exact id lookup = %q, %v", rec.ID, err)
	}
}

func TestStore_RecentNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, src := range []string{"a", "b", "c"} {
		rec := NewRecord(src, "text "+src, sampleReport(detector.TierPrompt, 0.5))
		rec.CreatedAt = base.Add(time.Duration(i) * 100 * time.Millisecond)
		if err := s.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var sources []string
	for _, r := range recent {
		sources = append(sources, r.Source)
	}
	if diff := cmp.Diff([]string{"c", "b"}, sources); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}

	all, _ := s.Recent(ctx, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 records, got %d", len(all))
	}
}

func TestStore_StatsAndClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, r := range []struct {
		tier string
		p    float64
	}{{detector.TierModel, 0.9}, {detector.TierModel, 0.7}, {detector.TierHeuristic, 0.2}} {
		if err := s.Save(ctx, NewRecord("src", "text", sampleReport(r.tier, r.p))); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Count != 3 || st.ByTier[detector.TierModel] != 2 || st.ByTier[detector.TierHeuristic] != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.MeanProbability < 0.599 || st.MeanProbability > 0.601 {
		t.Errorf("mean = %v, want 0.6", st.MeanProbability)
	}

	n, err := s.Clear(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Clear = %d, %v", n, err)
	}
	if st, _ := s.Stats(ctx); st.Count != 0 {
		t.Errorf("expected empty store after clear, got %+v", st)
	}
}

func TestStore_ConcurrentSaves(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Save(ctx, NewRecord("batch", "text", sampleReport(detector.TierHeuristic, 0.1)))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent save: %v", err)
		}
	}
	if all, _ := s.Recent(ctx, 0); len(all) != 20 {
		t.Errorf("expected 20 records, got %d", len(all))
	}
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := NewRecord("persist", "text", sampleReport(detector.TierModel, 0.8))
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	if _, err := s2.Get(context.Background(), rec.ID); err != nil {
		t.Errorf("record lost after reopen: %v", err)
	}
}
