package optimize

import "math"

// GradientDescent minimizes the objective by finite-difference gradient
// steps on the weight simplex.
type GradientDescent struct {
	LearningRate  float64
	MaxIterations int
	Tolerance     float64 // stop when the score change falls below this
	Step          float64 // finite difference step
}

func NewGradientDescent() *GradientDescent {
	return &GradientDescent{
		LearningRate:  0.01,
		MaxIterations: 100,
		Tolerance:     1e-4,
		Step:          1e-6,
	}
}

func (g *GradientDescent) Optimize(p *Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	w := Uniform(len(p.BeamDose))
	score := p.Score(w)

	res := &Result{History: []float64{score}}
	grad := make([]float64, len(w))

	for it := 0; it < g.MaxIterations; it++ {
		for i := range w {
			probe := w.Clone()
			probe[i] += g.Step
			grad[i] = (p.Score(probe) - score) / g.Step
		}

		for i := range w {
			w[i] -= g.LearningRate * grad[i]
		}
		w.Normalize()

		next := p.Score(w)
		res.History = append(res.History, next)
		res.Iterations = it + 1

		if math.Abs(score-next) < g.Tolerance {
			score = next
			res.Converged = true
			break
		}
		score = next
	}

	res.Weights = w
	res.Score = score
	return res, nil
}
