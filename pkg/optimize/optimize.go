// Package optimize searches for beam weights that minimize a clinical
// objective over precomputed per-beam dose distributions.
package optimize

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"radplan/pkg/grid"
	"radplan/pkg/objective"
)

// ErrNoBeamDose indicates a problem without per-beam dose distributions.
var ErrNoBeamDose = errors.New("optimize: no per-beam dose distributions")

// Weights is one relative weight per beam. A valid weight vector is
// nonnegative and sums to one.
type Weights []float64

// Uniform returns equal weights over n beams.
func Uniform(n int) Weights {
	w := make(Weights, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

func (w Weights) Clone() Weights {
	c := make(Weights, len(w))
	copy(c, w)
	return c
}

// Normalize clamps negative weights to zero and rescales to unit sum in
// place. An all-zero vector falls back to uniform weights.
func (w Weights) Normalize() {
	for i, v := range w {
		if v < 0 {
			w[i] = 0
		}
	}
	sum := floats.Sum(w)
	if sum == 0 {
		for i := range w {
			w[i] = 1 / float64(len(w))
		}
		return
	}
	floats.Scale(1/sum, w)
}

// Problem couples per-beam dose distributions with the goals used to score
// a candidate weighting. BeamDose grids must be unnormalized and congruent.
type Problem struct {
	BeamDose  []*grid.Grid
	Specs     []objective.Spec
	Evaluator *objective.Evaluator
}

func (p *Problem) validate() error {
	if len(p.BeamDose) == 0 {
		return ErrNoBeamDose
	}
	first := p.BeamDose[0]
	for i, g := range p.BeamDose[1:] {
		if !first.SameShape(g) {
			return fmt.Errorf("optimize: beam dose %d has mismatched dimensions", i+1)
		}
	}
	if p.Evaluator == nil {
		return errors.New("optimize: nil evaluator")
	}
	return nil
}

// Combine returns the weighted sum of the per-beam doses.
func (p *Problem) Combine(w Weights) *grid.Grid {
	first := p.BeamDose[0]
	total := grid.NewGrid(first.Width, first.Height, first.Depth, first.Spacing)
	for i, g := range p.BeamDose {
		if w[i] == 0 {
			continue
		}
		total.AccumulateScaled(g, w[i])
	}
	return total
}

// Score evaluates the objective at w. The candidate is normalized on a copy
// first, so callers may probe arbitrary vectors.
func (p *Problem) Score(w Weights) float64 {
	c := w.Clone()
	c.Normalize()
	return p.Evaluator.Evaluate(p.Combine(c), p.Specs).Score
}

// Result is the outcome of an optimization run. Converged false means the
// iteration budget ran out; the best weights found are still returned.
type Result struct {
	Weights    Weights
	Score      float64
	Iterations int
	Converged  bool
	History    []float64
}

// Optimizer searches for the weight vector minimizing a problem's score.
type Optimizer interface {
	Optimize(p *Problem) (*Result, error)
}
