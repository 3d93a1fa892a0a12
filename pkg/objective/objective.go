// Package objective scores dose distributions against clinical goals:
// dose limits, dose-volume constraints, and plan quality indices.
package objective

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"

	"radplan/pkg/grid"
)

// Kind identifies the penalty applied to a structure.
type Kind int

const (
	// MaxDose penalizes the hottest voxel exceeding the target.
	MaxDose Kind = iota
	// MinDose penalizes the coldest voxel falling below the target.
	MinDose
	// MaxDVH penalizes dose above the target at a volume fraction.
	MaxDVH
	// MinDVH penalizes dose below the target at a volume fraction.
	MinDVH
	// MeanDose penalizes any deviation of the mean from the target.
	MeanDose
	// Conformity penalizes poor Paddick conformity of the prescription
	// isodose to the structure.
	Conformity
	// Homogeneity penalizes a D2/D98 ratio away from one.
	Homogeneity
	// Uniformity penalizes the coefficient of variation inside the
	// structure.
	Uniformity
)

func (k Kind) String() string {
	switch k {
	case MaxDose:
		return "max_dose"
	case MinDose:
		return "min_dose"
	case MaxDVH:
		return "max_dvh"
	case MinDVH:
		return "min_dvh"
	case MeanDose:
		return "mean_dose"
	case Conformity:
		return "conformity"
	case Homogeneity:
		return "homogeneity"
	case Uniformity:
		return "uniformity"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Spec is one clinical goal. TargetDose is in Gy; VolumePercent is only
// used by the DVH kinds.
type Spec struct {
	Structure     string
	Kind          Kind
	TargetDose    float64
	VolumePercent float64
	Weight        float64
}

// Term is the evaluated contribution of one goal.
type Term struct {
	Spec     Spec
	Penalty  float64
	Weighted float64
}

// Evaluation is the result of scoring a dose distribution: the weighted
// total plus per-goal terms. Goals that could not be evaluated are listed
// in Skipped with a reason and contribute nothing.
type Evaluation struct {
	Score   float64
	Terms   []Term
	Skipped []string
}

// Evaluator scores dose grids against a fixed structure set and
// prescription.
type Evaluator struct {
	masks      map[string]*grid.Mask
	prescribed float64
}

func NewEvaluator(masks map[string]*grid.Mask, prescribedDose float64) *Evaluator {
	return &Evaluator{masks: masks, prescribed: prescribedDose}
}

// Evaluate scores the dose against the goals. Structure doses are extracted
// and sorted once per structure and shared across goals.
func (e *Evaluator) Evaluate(dose *grid.Grid, specs []Spec) Evaluation {
	var ev Evaluation
	sorted := make(map[string][]float64)

	for _, s := range specs {
		mask, ok := e.masks[s.Structure]
		if !ok || mask == nil {
			ev.Skipped = append(ev.Skipped, fmt.Sprintf("%s %s: unknown structure", s.Structure, s.Kind))
			continue
		}

		vals, ok := sorted[s.Structure]
		if !ok {
			vals = dose.ValuesIn(mask)
			sort.Float64s(vals)
			sorted[s.Structure] = vals
		}
		if len(vals) == 0 {
			ev.Skipped = append(ev.Skipped, fmt.Sprintf("%s %s: empty structure", s.Structure, s.Kind))
			continue
		}

		penalty, err := e.penalty(dose, mask, vals, s)
		if err != nil {
			ev.Skipped = append(ev.Skipped, fmt.Sprintf("%s %s: %v", s.Structure, s.Kind, err))
			continue
		}
		term := Term{Spec: s, Penalty: penalty, Weighted: penalty * s.Weight}
		ev.Terms = append(ev.Terms, term)
		ev.Score += term.Weighted
	}
	return ev
}

func (e *Evaluator) penalty(dose *grid.Grid, mask *grid.Mask, vals []float64, s Spec) (float64, error) {
	n := len(vals)
	switch s.Kind {
	case MaxDose:
		max := vals[n-1]
		if max > s.TargetDose {
			return sq(max - s.TargetDose), nil
		}
		return 0, nil

	case MinDose:
		min := vals[0]
		if min < s.TargetDose {
			return sq(s.TargetDose - min), nil
		}
		return 0, nil

	case MaxDVH:
		// Dose received by at least VolumePercent of the structure.
		d := vals[clampIndex(int((1-s.VolumePercent/100)*float64(n)), n)]
		if d > s.TargetDose {
			return sq(d - s.TargetDose), nil
		}
		return 0, nil

	case MinDVH:
		d := vals[clampIndex(int(s.VolumePercent/100*float64(n)), n)]
		if d < s.TargetDose {
			return sq(s.TargetDose - d), nil
		}
		return 0, nil

	case MeanDose:
		return sq(stat.Mean(vals, nil) - s.TargetDose), nil

	case Conformity:
		return e.conformity(dose, mask, s), nil

	case Homogeneity:
		d98 := vals[clampIndex(int(0.02*float64(n)), n)]
		d2 := vals[clampIndex(int(0.98*float64(n)), n)]
		if d98 <= 0 {
			return 0, fmt.Errorf("no dose at D98")
		}
		hi := d2 / d98
		return sq(hi - 1), nil

	case Uniformity:
		mean := stat.Mean(vals, nil)
		if mean <= 0 {
			return 0, fmt.Errorf("no dose in structure")
		}
		if n < 2 {
			return 0, nil
		}
		cv := stat.StdDev(vals, nil) / mean
		return sq(cv), nil

	default:
		return 0, fmt.Errorf("unknown goal kind %d", int(s.Kind))
	}
}

// conformity computes the Paddick index of the prescription isodose against
// the structure and penalizes the shortfall from perfect conformity.
func (e *Evaluator) conformity(dose *grid.Grid, mask *grid.Mask, s Spec) float64 {
	threshold := s.TargetDose
	if threshold <= 0 {
		threshold = e.prescribed
	}
	if threshold <= 0 {
		return 1
	}

	tv := float64(mask.Count())
	var piv, tvpiv float64
	for z := 0; z < dose.Depth; z++ {
		for y := 0; y < dose.Height; y++ {
			for x := 0; x < dose.Width; x++ {
				if dose.At(x, y, z) < threshold {
					continue
				}
				piv++
				if mask.Contains(x, y, z) {
					tvpiv++
				}
			}
		}
	}
	if piv == 0 || tv == 0 {
		return 1
	}

	ci := tvpiv * tvpiv / (tv * piv)
	if ci >= 1 {
		return 0
	}
	return 1 - ci
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

func sq(x float64) float64 { return x * x }
