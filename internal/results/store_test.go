package results

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
)

// #region helpers
func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	sq, err := Open(filepath.Join(dir, "results.db"), nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	bg, err := Open(filepath.Join(dir, "badger"), nil)
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() {
		sq.Close()
		bg.Close()
	})
	return map[string]Store{"sqlite": sq, "badger": bg}
}

func entry(subject int, session, pipe string, score float64) Entry {
	return Entry{Key: NewKey("WithinSession", "Imagery", "Fake", subject, session, pipe), Score: score, FitTime: 0.1, ScoreTime: 0.01, NSamples: 40, NChannels: 3}
}

// #endregion helpers

func TestOpenPicksBackend(t *testing.T) {
	for name, s := range backends(t) {
		switch s.(type) {
		case *SQLiteStore:
			if name != "sqlite" {
				t.Fatalf("%s opened as sqlite", name)
			}
		case *BadgerStore:
			if name != "badger" {
				t.Fatalf("%s opened as badger", name)
			}
		}
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		e := entry(1, "session_0", "nm", 0.75)
		added, err := s.Append(ctx, e)
		if err != nil || !added {
			t.Fatalf("%s: first append: %v, %v", name, added, err)
		}
		e.Score = 0.1
		added, err = s.Append(ctx, e)
		if err != nil || added {
			t.Fatalf("%s: second append should be a no-op: %v, %v", name, added, err)
		}
		all, err := s.All(ctx)
		if err != nil {
			t.Fatalf("%s: All: %v", name, err)
		}
		if len(all) != 1 || all[0].Score != 0.75 {
			t.Fatalf("%s: expected the original entry only, got %+v", name, all)
		}
	}
}

func TestExistsDistinguishesLearningCurveKeys(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		e := entry(1, "session_0", "nm", 0.5)
		e.Key.DataSize, e.Key.Permutation = 0.2, 1
		if _, err := s.Append(ctx, e); err != nil {
			t.Fatalf("%s: Append: %v", name, err)
		}
		ok, _ := s.Exists(ctx, e.Key)
		if !ok {
			t.Fatalf("%s: expected key to exist", name)
		}
		other := e.Key
		other.Permutation = 0
		if ok, _ := s.Exists(ctx, other); ok {
			t.Fatalf("%s: other permutation should not exist", name)
		}
		if ok, _ := s.Exists(ctx, NewKey("WithinSession", "Imagery", "Fake", 1, "session_0", "nm")); ok {
			t.Fatalf("%s: plain key should not exist", name)
		}
	}
}

func TestEntryColumnsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		e := entry(2, "session_1", "nm", 0.9)
		co2 := 1.5e-6
		e.Emissions = &co2
		e.Extra = map[string]any{"run_count": 2.0}
		e.RunID = "run-1"
		if _, err := s.Append(ctx, e); err != nil {
			t.Fatalf("%s: Append: %v", name, err)
		}
		all, _ := s.All(ctx)
		got := all[0]
		if got.Key != e.Key || got.NSamples != 40 || got.NChannels != 3 || got.RunID != "run-1" {
			t.Fatalf("%s: unexpected entry %+v", name, got)
		}
		if got.Emissions == nil || *got.Emissions != co2 {
			t.Fatalf("%s: emissions lost", name)
		}
		if got.Extra["run_count"] != 2.0 {
			t.Fatalf("%s: extra lost: %v", name, got.Extra)
		}
		if got.CreatedAt.IsZero() {
			t.Fatalf("%s: created_at not set", name)
		}
	}
}

func TestDeleteByPipeline(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		for _, e := range []Entry{entry(1, "s0", "a", 1), entry(2, "s0", "a", 1), entry(1, "s0", "b", 1)} {
			if _, err := s.Append(ctx, e); err != nil {
				t.Fatalf("%s: Append: %v", name, err)
			}
		}
		n, err := s.Delete(ctx, Scope{Evaluation: "WithinSession", Paradigm: "Imagery", Dataset: "Fake", Pipeline: "a"})
		if err != nil || n != 2 {
			t.Fatalf("%s: Delete = %d, %v", name, n, err)
		}
		all, _ := s.All(ctx)
		if len(all) != 1 || all[0].Key.Pipeline != "b" {
			t.Fatalf("%s: expected only pipeline b left, got %+v", name, all)
		}
	}
}

func TestKeysScopedByEvaluation(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		within := entry(1, "s0", "a", 0.7)
		cross := within
		cross.Key.Evaluation = "CrossSession"
		filter := within
		filter.Key.Paradigm = "FilterBankImagery"
		for _, e := range []Entry{within, cross, filter} {
			added, err := s.Append(ctx, e)
			if err != nil || !added {
				t.Fatalf("%s: append %s: %v, %v", name, e.Key, added, err)
			}
		}
		n, err := s.Delete(ctx, cross.Key.Scope())
		if err != nil || n != 1 {
			t.Fatalf("%s: Delete = %d, %v", name, n, err)
		}
		if ok, _ := s.Exists(ctx, within.Key); !ok {
			t.Fatalf("%s: within-session entry deleted with cross-session scope", name)
		}
		if ok, _ := s.Exists(ctx, cross.Key); ok {
			t.Fatalf("%s: cross-session entry survived Delete", name)
		}
		all, _ := s.All(ctx)
		if len(all) != 2 {
			t.Fatalf("%s: expected 2 entries left, got %d", name, len(all))
		}
	}
}

func TestAppendRejectsNonFinite(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		nan := entry(1, "s0", "a", math.NaN())
		if _, err := s.Append(ctx, nan); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("%s: expected ErrInvalidEntry for NaN score, got %v", name, err)
		}
		inf := entry(1, "s0", "b", 0.5)
		co2 := math.Inf(1)
		inf.Emissions = &co2
		if _, err := s.Append(ctx, inf); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("%s: expected ErrInvalidEntry for infinite emissions, got %v", name, err)
		}
		extra := entry(1, "s0", "c", 0.5)
		extra.Extra = map[string]any{"bad": math.NaN()}
		if _, err := s.Append(ctx, extra); !errors.Is(err, ErrInvalidEntry) {
			t.Fatalf("%s: expected ErrInvalidEntry for unencodable extra, got %v", name, err)
		}
		if all, _ := s.All(ctx); len(all) != 0 {
			t.Fatalf("%s: invalid entries were stored: %+v", name, all)
		}
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.Append(ctx, entry(1, "s0", "a", 0.6)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if ok, _ := s.Exists(ctx, entry(1, "s0", "a", 0).Key); !ok {
		t.Fatal("entry lost across reopen")
	}
}
