package split

import (
	"fmt"
	"iter"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/danielpatrickdp/eegbench/internal/dataset"
	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

// #region kind
// Kind selects how folds are carved out of the metadata.
type Kind string

const (
	WithinSession Kind = "WithinSession"
	CrossSession  Kind = "CrossSession"
	CrossSubject  Kind = "CrossSubject"
)

// ParseKind accepts "WithinSession" or "within_session" spellings.
func ParseKind(s string) (Kind, error) {
	norm := strings.ToLower(strings.ReplaceAll(s, "_", ""))
	for _, k := range []Kind{WithinSession, CrossSession, CrossSubject} {
		if strings.ToLower(string(k)) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown evaluation kind %q", errkind.ErrConfiguration, s)
}

// #endregion kind

// #region fold
// Group holds the test rows scored together under one session label.
type Group struct {
	Session string
	Test    []int
}

// Fold is one unit of splitting: the rows a pipeline is trained on and the
// groups it is scored on. Train and every test group are disjoint.
type Fold struct {
	Subject int
	Session string // empty for cross-subject folds
	Train   []int
	Groups  []Group
	CV      []TrainTest // set for within-session cross-validation
	Err     error       // fold could not be built; reported as a unit failure
}

// Sessions lists the session labels this fold emits results for.
func (f Fold) Sessions() []string {
	out := make([]string, len(f.Groups))
	for i, g := range f.Groups {
		out[i] = g.Session
	}
	return out
}

// #endregion fold

// #region policy
// Policy is the split strategy for one evaluation kind.
type Policy struct {
	Kind    Kind
	NFolds  int     // within-session cross-validation folds
	Holdout float64 // >0 replaces within-session CV by a stratified holdout of this test fraction
	Seed    uint64
}

// IsValid rejects datasets the kind cannot evaluate. It runs before any fold is built.
func (p Policy) IsValid(ds dataset.Dataset) error {
	subjects := ds.Subjects()
	switch p.Kind {
	case WithinSession:
		if len(subjects) == 0 {
			return fmt.Errorf("%w: %s has no subjects", errkind.ErrDatasetIncompatible, ds.Code())
		}
		for _, s := range subjects {
			if len(ds.Sessions(s)) < 1 {
				return fmt.Errorf("%w: %s subject %d has no session", errkind.ErrDatasetIncompatible, ds.Code(), s)
			}
		}
	case CrossSession:
		for _, s := range subjects {
			if n := len(ds.Sessions(s)); n < 2 {
				return fmt.Errorf("%w: %s subject %d has %d session(s), cross-session needs 2",
					errkind.ErrDatasetIncompatible, ds.Code(), s, n)
			}
		}
		if len(subjects) == 0 {
			return fmt.Errorf("%w: %s has no subjects", errkind.ErrDatasetIncompatible, ds.Code())
		}
	case CrossSubject:
		if len(subjects) < 2 {
			return fmt.Errorf("%w: %s has %d subject(s), cross-subject needs 2",
				errkind.ErrDatasetIncompatible, ds.Code(), len(subjects))
		}
	default:
		return fmt.Errorf("%w: unknown evaluation kind %q", errkind.ErrConfiguration, p.Kind)
	}
	return nil
}

// Folds yields folds in subject, then session order.
func (p Policy) Folds(meta dataset.Metadata, labels []string) iter.Seq[Fold] {
	return func(yield func(Fold) bool) {
		switch p.Kind {
		case WithinSession:
			p.withinSession(meta, labels, yield)
		case CrossSession:
			p.crossSession(meta, yield)
		case CrossSubject:
			p.crossSubject(meta, yield)
		}
	}
}

func (p Policy) withinSession(meta dataset.Metadata, labels []string, yield func(Fold) bool) {
	for _, subject := range meta.Subjects() {
		for _, session := range meta.Sessions(subject) {
			rows := meta.Where(func(r dataset.Row) bool { return r.Subject == subject && r.Session == session })
			fold := Fold{Subject: subject, Session: session}
			if p.Holdout > 0 {
				tt, err := ShuffleHoldout(labels, rows, p.Holdout, p.Seed)
				fold.Train, fold.Err = tt.Train, err
				fold.Groups = []Group{{Session: session, Test: tt.Test}}
			} else {
				fold.Train = rows
				fold.CV, fold.Err = StratifiedKFold(labels, rows, p.NFolds, p.Seed)
				fold.Groups = []Group{{Session: session, Test: rows}}
			}
			if !yield(fold) {
				return
			}
		}
	}
}

func (p Policy) crossSession(meta dataset.Metadata, yield func(Fold) bool) {
	for _, subject := range meta.Subjects() {
		sessions := meta.Sessions(subject)
		for _, held := range sessions {
			fold := Fold{Subject: subject, Session: held}
			if len(sessions) < 2 {
				fold.Err = fmt.Errorf("%w: subject %d has a single session after epoching", errkind.ErrInsufficientSamples, subject)
			}
			fold.Train = meta.Where(func(r dataset.Row) bool { return r.Subject == subject && r.Session != held })
			fold.Groups = []Group{{
				Session: held,
				Test:    meta.Where(func(r dataset.Row) bool { return r.Subject == subject && r.Session == held }),
			}}
			if !yield(fold) {
				return
			}
		}
	}
}

func (p Policy) crossSubject(meta dataset.Metadata, yield func(Fold) bool) {
	for _, subject := range meta.Subjects() {
		fold := Fold{Subject: subject}
		fold.Train = meta.Where(func(r dataset.Row) bool { return r.Subject != subject })
		if len(fold.Train) == 0 {
			fold.Err = fmt.Errorf("%w: no training subjects besides %d", errkind.ErrInsufficientSamples, subject)
		}
		for _, session := range meta.Sessions(subject) {
			fold.Groups = append(fold.Groups, Group{
				Session: session,
				Test:    meta.Where(func(r dataset.Row) bool { return r.Subject == subject && r.Session == session }),
			})
		}
		if !yield(fold) {
			return
		}
	}
}

// #endregion policy

// #region cv
// TrainTest is one train/test partition of row indices.
type TrainTest struct {
	Train []int
	Test  []int
}

// byClass groups idx by label, classes sorted, each group shuffled with rng.
func byClass(labels []string, idx []int, rng *rand.Rand) [][]int {
	groups := make(map[string][]int)
	for _, i := range idx {
		groups[labels[i]] = append(groups[labels[i]], i)
	}
	classes := make([]string, 0, len(groups))
	for c := range groups {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	out := make([][]int, len(classes))
	for k, c := range classes {
		g := groups[c]
		rng.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		out[k] = g
	}
	return out
}

// StratifiedKFold partitions idx into k folds keeping class proportions.
// Shuffling is seeded so the same inputs always give the same folds.
func StratifiedKFold(labels []string, idx []int, k int, seed uint64) ([]TrainTest, error) {
	if k < 2 {
		return nil, fmt.Errorf("%w: need at least 2 folds, got %d", errkind.ErrConfiguration, k)
	}
	if len(idx) < k {
		return nil, fmt.Errorf("%w: %d rows cannot make %d folds", errkind.ErrInsufficientSamples, len(idx), k)
	}
	rng := rand.New(rand.NewPCG(seed, 0x5eed))
	assign := make(map[int]int, len(idx))
	n := 0
	for _, group := range byClass(labels, idx, rng) {
		for _, i := range group {
			assign[i] = n % k
			n++
		}
	}
	folds := make([]TrainTest, k)
	for _, i := range idx {
		f := assign[i]
		for j := range folds {
			if j == f {
				folds[j].Test = append(folds[j].Test, i)
			} else {
				folds[j].Train = append(folds[j].Train, i)
			}
		}
	}
	for j := range folds {
		slices.Sort(folds[j].Train)
		slices.Sort(folds[j].Test)
	}
	return folds, nil
}

// ShuffleHoldout draws a stratified test set of roughly testSize of each class.
func ShuffleHoldout(labels []string, idx []int, testSize float64, seed uint64) (TrainTest, error) {
	if testSize <= 0 || testSize >= 1 {
		return TrainTest{}, fmt.Errorf("%w: test size %.3f outside (0,1)", errkind.ErrConfiguration, testSize)
	}
	rng := rand.New(rand.NewPCG(seed, 0x401d))
	var tt TrainTest
	for _, group := range byClass(labels, idx, rng) {
		nTest := int(math.Round(testSize * float64(len(group))))
		if nTest == 0 && len(group) > 1 {
			nTest = 1
		}
		if nTest >= len(group) {
			nTest = len(group) - 1
		}
		tt.Test = append(tt.Test, group[:nTest]...)
		tt.Train = append(tt.Train, group[nTest:]...)
	}
	if len(tt.Test) == 0 || len(tt.Train) == 0 {
		return TrainTest{}, fmt.Errorf("%w: %d rows cannot be split", errkind.ErrInsufficientSamples, len(idx))
	}
	slices.Sort(tt.Train)
	slices.Sort(tt.Test)
	return tt, nil
}

// #endregion cv
