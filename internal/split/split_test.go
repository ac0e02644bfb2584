package split

import (
	"errors"
	"slices"
	"testing"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

// #region helpers
// grid builds metadata with n rows per (subject, session), alternating labels.
func grid(subjects, sessions, n int) (dataset.Metadata, []string) {
	var meta dataset.Metadata
	var labels []string
	for s := 1; s <= subjects; s++ {
		for ss := range sessions {
			for i := range n {
				meta = append(meta, dataset.Row{Subject: s, Session: "session_" + string(rune('0'+ss)), Run: "run_0"})
				labels = append(labels, []string{"left", "right"}[i%2])
			}
		}
	}
	return meta, labels
}

func collect(p Policy, meta dataset.Metadata, labels []string) []Fold {
	var out []Fold
	for f := range p.Folds(meta, labels) {
		out = append(out, f)
	}
	return out
}

func disjoint(a, b []int) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return false
		}
	}
	return true
}

// #endregion helpers

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"WithinSession": WithinSession,
		"cross_session": CrossSession,
		"cross_subject": CrossSubject,
		"crosssubject":  CrossSubject,
	} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Fatalf("ParseKind(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseKind("leave_one_out"); !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestIsValid(t *testing.T) {
	one := dataset.NewFake(dataset.FakeConfig{Subjects: 1})
	two := dataset.NewFake(dataset.FakeConfig{Subjects: 2})
	single := dataset.NewFake(dataset.FakeConfig{Subjects: 2, Sessions: 1})

	if err := (Policy{Kind: CrossSubject}).IsValid(one); !errors.Is(err, errkind.ErrDatasetIncompatible) {
		t.Fatalf("expected incompatible, got %v", err)
	}
	if err := (Policy{Kind: CrossSubject}).IsValid(two); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Policy{Kind: CrossSession}).IsValid(single); !errors.Is(err, errkind.ErrDatasetIncompatible) {
		t.Fatalf("expected incompatible, got %v", err)
	}
	if err := (Policy{Kind: CrossSession}).IsValid(two); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Policy{Kind: WithinSession}).IsValid(single); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWithinSessionFolds(t *testing.T) {
	meta, labels := grid(2, 2, 20)
	folds := collect(Policy{Kind: WithinSession, NFolds: 5, Seed: 1}, meta, labels)
	if len(folds) != 4 {
		t.Fatalf("expected 4 folds, got %d", len(folds))
	}
	for _, f := range folds {
		if f.Err != nil {
			t.Fatalf("fold error: %v", f.Err)
		}
		if len(f.CV) != 5 {
			t.Fatalf("expected 5 inner folds, got %d", len(f.CV))
		}
		for _, tt := range f.CV {
			if !disjoint(tt.Train, tt.Test) {
				t.Fatal("inner train and test overlap")
			}
			for _, i := range append(tt.Train, tt.Test...) {
				if meta[i].Subject != f.Subject || meta[i].Session != f.Session {
					t.Fatalf("row %d leaks outside %d/%s", i, f.Subject, f.Session)
				}
			}
		}
	}
}

func TestWithinSessionHoldout(t *testing.T) {
	meta, labels := grid(1, 1, 20)
	folds := collect(Policy{Kind: WithinSession, Holdout: 0.2, Seed: 3}, meta, labels)
	if len(folds) != 1 {
		t.Fatalf("expected 1 fold, got %d", len(folds))
	}
	f := folds[0]
	if len(f.Groups[0].Test) != 4 || len(f.Train) != 16 {
		t.Fatalf("expected 16/4 split, got %d/%d", len(f.Train), len(f.Groups[0].Test))
	}
	if !disjoint(f.Train, f.Groups[0].Test) {
		t.Fatal("train and test overlap")
	}
}

func TestCrossSessionFolds(t *testing.T) {
	meta, labels := grid(2, 2, 6)
	folds := collect(Policy{Kind: CrossSession}, meta, labels)
	if len(folds) != 4 {
		t.Fatalf("expected 4 folds, got %d", len(folds))
	}
	for _, f := range folds {
		test := f.Groups[0].Test
		if !disjoint(f.Train, test) || len(f.Train) != 6 || len(test) != 6 {
			t.Fatalf("bad fold %+v", f)
		}
		for _, i := range f.Train {
			if meta[i].Session == f.Session || meta[i].Subject != f.Subject {
				t.Fatalf("train row %d from wrong group", i)
			}
		}
	}
}

func TestCrossSubjectFolds(t *testing.T) {
	meta, labels := grid(3, 2, 4)
	folds := collect(Policy{Kind: CrossSubject}, meta, labels)
	if len(folds) != 3 {
		t.Fatalf("expected 3 folds, got %d", len(folds))
	}
	for _, f := range folds {
		if f.Session != "" {
			t.Fatalf("expected no session on cross-subject fold, got %q", f.Session)
		}
		if len(f.Groups) != 2 {
			t.Fatalf("expected one group per session, got %d", len(f.Groups))
		}
		for _, i := range f.Train {
			if meta[i].Subject == f.Subject {
				t.Fatalf("held-out subject %d in training rows", f.Subject)
			}
		}
		for _, g := range f.Groups {
			if !disjoint(f.Train, g.Test) {
				t.Fatal("train and test overlap")
			}
		}
	}
}

func TestStratifiedKFoldDeterministic(t *testing.T) {
	meta, labels := grid(1, 1, 10)
	idx := meta.Where(func(dataset.Row) bool { return true })
	a, err := StratifiedKFold(labels, idx, 5, 9)
	if err != nil {
		t.Fatalf("StratifiedKFold: %v", err)
	}
	b, _ := StratifiedKFold(labels, idx, 5, 9)
	for i := range a {
		if !slices.Equal(a[i].Test, b[i].Test) {
			t.Fatal("expected identical folds for identical seed")
		}
		if len(a[i].Test) != 2 {
			t.Fatalf("expected 2 test rows per fold, got %d", len(a[i].Test))
		}
	}
	if _, err := StratifiedKFold(labels, idx[:3], 5, 9); !errors.Is(err, errkind.ErrInsufficientSamples) {
		t.Fatalf("expected insufficient samples, got %v", err)
	}
}

func TestFoldsStopEarly(t *testing.T) {
	meta, labels := grid(3, 2, 4)
	n := 0
	for range (Policy{Kind: CrossSession}).Folds(meta, labels) {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("expected to stop after 2, got %d", n)
	}
}
