package datasize

import (
	"errors"
	"slices"
	"testing"

	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

func balanced(perClass int) ([]string, []int) {
	var labels []string
	var idx []int
	for i := range 2 * perClass {
		labels = append(labels, []string{"left", "right"}[i%2])
		idx = append(idx, i)
	}
	return labels, idx
}

func TestNewRejects(t *testing.T) {
	cases := map[string]Spec{
		"unknown policy": {Policy: "does_not_exist", Value: []float64{0.2, 0.5}, NPerms: []int{1, 1}},
		"decreasing":     {Policy: PerClass, Value: []float64{5, 4}, NPerms: []int{2, 1}},
		"equal":          {Policy: PerClass, Value: []float64{5, 5}, NPerms: []int{2, 3}},
		"equal ratio":    {Policy: Ratio, Value: []float64{0.5, 0.5}, NPerms: []int{1, 1}},
		"perms length":   {Policy: PerClass, Value: []float64{3, 4}, NPerms: []int{2, 3, 1}},
		"ratio range":    {Policy: Ratio, Value: []float64{0.2, 1.5}, NPerms: []int{1, 1}},
		"zero perms":     {Policy: Ratio, Value: []float64{0.2}, NPerms: []int{0}},
		"fractional":     {Policy: PerClass, Value: []float64{2.5}, NPerms: []int{1}},
		"empty":          {Policy: Ratio},
	}
	for name, spec := range cases {
		if _, err := New(spec); !errors.Is(err, errkind.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", name, err)
		}
	}
	if _, err := New(Spec{Policy: PerClass, Value: []float64{3, 4}, NPerms: []int{2, 3}}); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}

func TestRatioSteps(t *testing.T) {
	p, err := New(Spec{Policy: Ratio, Value: []float64{0.2, 0.5}, NPerms: []int{2, 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	labels, idx := balanced(8)
	steps := p.Steps(labels, idx)
	if steps[0].Total != 3 || steps[1].Total != 8 {
		t.Fatalf("expected totals 3 and 8, got %d and %d", steps[0].Total, steps[1].Total)
	}
	for _, st := range steps {
		if st.Err != nil {
			t.Fatalf("step %d: %v", st.Index, st.Err)
		}
	}
}

func TestPerClassOversizeIsRecoverable(t *testing.T) {
	p, err := New(Spec{Policy: PerClass, Value: []float64{5, 100000}, NPerms: []int{1, 1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	labels, idx := balanced(10)
	steps := p.Steps(labels, idx)
	if steps[0].Err != nil || steps[0].Total != 10 {
		t.Fatalf("first step should be usable, got %+v", steps[0])
	}
	if !errors.Is(steps[1].Err, errkind.ErrInsufficientSamples) {
		t.Fatalf("expected insufficient samples, got %v", steps[1].Err)
	}
	if _, err := Sample(labels, idx, steps[1], 0, 1); !errors.Is(err, errkind.ErrInsufficientSamples) {
		t.Fatalf("Sample should refuse the oversized step, got %v", err)
	}
}

func TestDerivedSizesMustIncrease(t *testing.T) {
	p, _ := New(Spec{Policy: Ratio, Value: []float64{0.5, 0.6}, NPerms: []int{1, 1}})
	labels, idx := balanced(2) // 4 rows: floor(2.0)=2, floor(2.4)=2
	steps := p.Steps(labels, idx)
	if steps[0].Err != nil {
		t.Fatalf("first step: %v", steps[0].Err)
	}
	if !errors.Is(steps[1].Err, errkind.ErrConfiguration) {
		t.Fatalf("expected non-increasing derived size to fail, got %v", steps[1].Err)
	}
	if err := p.Check(labels, idx); !errors.Is(err, errkind.ErrConfiguration) {
		t.Fatalf("expected Check to report it, got %v", err)
	}
	if err := p.Check(balanced(10)); err != nil {
		t.Fatalf("larger fold should pass, got %v", err)
	}
}

func TestSamplePerClass(t *testing.T) {
	p, _ := New(Spec{Policy: PerClass, Value: []float64{3}, NPerms: []int{4}})
	labels, idx := balanced(10)
	st := p.Steps(labels, idx)[0]
	got, err := Sample(labels, idx, st, 1, 42)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	n := map[string]int{}
	for _, i := range got {
		n[labels[i]]++
	}
	if n["left"] != 3 || n["right"] != 3 {
		t.Fatalf("expected 3 per class, got %v", n)
	}
}

func TestSampleSeeded(t *testing.T) {
	p, _ := New(Spec{Policy: Ratio, Value: []float64{0.5}, NPerms: []int{3}})
	labels, idx := balanced(20)
	st := p.Steps(labels, idx)[0]
	a, _ := Sample(labels, idx, st, 0, 7)
	b, _ := Sample(labels, idx, st, 0, 7)
	c, _ := Sample(labels, idx, st, 1, 7)
	if !slices.Equal(a, b) {
		t.Fatal("same seed and permutation must draw the same rows")
	}
	if slices.Equal(a, c) {
		t.Fatal("different permutations should draw different rows")
	}
	if len(a) != 20 {
		t.Fatalf("expected 20 rows, got %d", len(a))
	}
	if _, err := Sample(labels, idx, st, 3, 7); err == nil {
		t.Fatal("expected out-of-range permutation error")
	}
}
