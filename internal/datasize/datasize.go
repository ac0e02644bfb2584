// Package datasize computes learning-curve training sizes and draws the
// seeded sub-samples evaluated at each size.
package datasize

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/danielpatrickdp/eegbench/internal/errkind"
)

// #region spec
// Kind names how Value is interpreted.
type Kind string

const (
	Ratio    Kind = "ratio"
	PerClass Kind = "per_class"
)

// Spec is the user-facing learning-curve configuration.
type Spec struct {
	Policy Kind      `yaml:"policy" validate:"required"`
	Value  []float64 `yaml:"value" validate:"required,min=1"`
	NPerms []int     `yaml:"n_perms" validate:"required"`
}

// Policy is a validated Spec.
type Policy struct {
	spec Spec
}

// New validates spec. Every failure wraps errkind.ErrConfiguration.
func New(spec Spec) (*Policy, error) {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: data size: %s", errkind.ErrConfiguration, fmt.Sprintf(format, args...))
	}
	switch spec.Policy {
	case Ratio, PerClass:
	default:
		return nil, bad("unknown policy %q (want ratio or per_class)", spec.Policy)
	}
	if len(spec.Value) == 0 {
		return nil, bad("no sizes given")
	}
	if len(spec.NPerms) != len(spec.Value) {
		return nil, bad("n_perms has %d entries for %d sizes", len(spec.NPerms), len(spec.Value))
	}
	for i, v := range spec.Value {
		switch spec.Policy {
		case Ratio:
			if v <= 0 || v > 1 {
				return nil, bad("ratio %g outside (0,1]", v)
			}
		case PerClass:
			if v < 1 || v != math.Trunc(v) {
				return nil, bad("per-class count %g is not a positive integer", v)
			}
		}
		if i > 0 && v <= spec.Value[i-1] {
			return nil, bad("sizes must be strictly increasing, got %g after %g", v, spec.Value[i-1])
		}
		if spec.NPerms[i] < 1 {
			return nil, bad("n_perms[%d] = %d, need at least 1", i, spec.NPerms[i])
		}
	}
	return &Policy{spec: Spec{
		Policy: spec.Policy,
		Value:  slices.Clone(spec.Value),
		NPerms: slices.Clone(spec.NPerms),
	}}, nil
}

// Spec returns a copy of the validated configuration.
func (p *Policy) Spec() Spec {
	return Spec{Policy: p.spec.Policy, Value: slices.Clone(p.spec.Value), NPerms: slices.Clone(p.spec.NPerms)}
}

// #endregion spec

// #region steps
// Step is one concrete training size for a given fold.
type Step struct {
	Index    int
	Value    float64        // the configured ratio or per-class count
	Total    int            // rows drawn
	PerClass map[string]int // set for per_class steps
	NPerms   int
	Err      error // the fold cannot supply this size; its units fail, others proceed
}

// Steps derives concrete sizes from the labels of a training fold.
func (p *Policy) Steps(labels []string, idx []int) []Step {
	counts := classCounts(labels, idx)
	steps := make([]Step, len(p.spec.Value))
	prev := 0
	for i, v := range p.spec.Value {
		st := Step{Index: i, Value: v, NPerms: p.spec.NPerms[i]}
		switch p.spec.Policy {
		case Ratio:
			st.Total = int(math.Floor(v * float64(len(idx))))
			if st.Total < 1 {
				st.Err = fmt.Errorf("%w: ratio %g of %d rows selects nothing", errkind.ErrInsufficientSamples, v, len(idx))
			}
		case PerClass:
			k := int(v)
			st.PerClass = make(map[string]int, len(counts))
			for _, c := range slices.Sorted(maps.Keys(counts)) {
				if counts[c] < k {
					st.Err = fmt.Errorf("%w: %d samples of class %q requested, %d available",
						errkind.ErrInsufficientSamples, k, c, counts[c])
					break
				}
				st.PerClass[c] = k
			}
			st.Total = k * len(counts)
		}
		if st.Err == nil && st.Total <= prev {
			st.Err = fmt.Errorf("%w: size %g gives %d rows, not above the previous %d",
				errkind.ErrConfiguration, v, st.Total, prev)
		}
		if st.Err == nil {
			prev = st.Total
		}
		steps[i] = st
	}
	return steps
}

// Check reports the first step of a fold whose derived size does not grow.
// Classes too small for a step are left to the units that need them.
func (p *Policy) Check(labels []string, idx []int) error {
	for _, st := range p.Steps(labels, idx) {
		if errors.Is(st.Err, errkind.ErrConfiguration) {
			return st.Err
		}
	}
	return nil
}

func classCounts(labels []string, idx []int) map[string]int {
	counts := make(map[string]int)
	for _, i := range idx {
		counts[labels[i]]++
	}
	return counts
}

// #endregion steps

// #region sample
// Sample draws the rows of idx used for permutation perm of step. The draw
// is a pure function of (seed, step, perm) and the fold's rows.
func Sample(labels []string, idx []int, step Step, perm int, seed uint64) ([]int, error) {
	if step.Err != nil {
		return nil, step.Err
	}
	if perm < 0 || perm >= step.NPerms {
		return nil, fmt.Errorf("permutation %d outside [0,%d)", perm, step.NPerms)
	}
	rng := rand.New(rand.NewPCG(seed, uint64(step.Index)<<32|uint64(perm)))

	byClass := make(map[string][]int)
	for _, i := range idx {
		byClass[labels[i]] = append(byClass[labels[i]], i)
	}
	classes := slices.Sorted(maps.Keys(byClass))
	for _, c := range classes {
		g := byClass[c]
		rng.Shuffle(len(g), func(a, b int) { g[a], g[b] = g[b], g[a] })
	}

	var out, rest []int
	if step.PerClass != nil {
		for _, c := range classes {
			k := step.PerClass[c]
			if k > len(byClass[c]) {
				return nil, fmt.Errorf("%w: %d samples of class %q requested, %d available",
					errkind.ErrInsufficientSamples, k, c, len(byClass[c]))
			}
			out = append(out, byClass[c][:k]...)
		}
	} else {
		if step.Total > len(idx) {
			return nil, fmt.Errorf("%w: %d samples requested, %d available",
				errkind.ErrInsufficientSamples, step.Total, len(idx))
		}
		// stratified floor per class, remainder from the leftovers
		frac := float64(step.Total) / float64(len(idx))
		for _, c := range classes {
			k := int(math.Floor(frac * float64(len(byClass[c]))))
			out = append(out, byClass[c][:k]...)
			rest = append(rest, byClass[c][k:]...)
		}
		rng.Shuffle(len(rest), func(a, b int) { rest[a], rest[b] = rest[b], rest[a] })
		out = append(out, rest[:step.Total-len(out)]...)
	}
	slices.Sort(out)
	return out, nil
}

// #endregion sample
