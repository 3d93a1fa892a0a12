// Package dose computes 3D dose distributions for treatment plans. Three
// algorithms are available behind a common interface: convolution
// superposition, pencil beam, and the analytical anisotropic algorithm.
package dose

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"radplan/pkg/beam"
	"radplan/pkg/density"
	"radplan/pkg/grid"
)

// ErrNoBeams indicates a plan without any beams.
var ErrNoBeams = errors.New("dose: plan has no beams")

// ErrUnknownAlgorithm indicates an unrecognized algorithm name.
var ErrUnknownAlgorithm = errors.New("dose: unknown algorithm")

// NormMode selects how the computed dose is scaled to the prescription.
type NormMode int

const (
	// NormByMax scales the maximum dose in the reference structure to the
	// prescribed dose.
	NormByMax NormMode = iota
	// NormByMean scales the mean dose in the reference structure.
	NormByMean
	// NormNone leaves the computed dose unscaled.
	NormNone
)

func (m NormMode) String() string {
	switch m {
	case NormByMax:
		return "max"
	case NormByMean:
		return "mean"
	case NormNone:
		return "none"
	default:
		return fmt.Sprintf("NormMode(%d)", int(m))
	}
}

// Algorithm computes the dose distribution for a plan on a CT volume.
type Algorithm interface {
	// CalculateDose returns the total dose grid for the plan along with a
	// report of normalization and any degraded-mode conditions.
	CalculateDose(ct *grid.CTGrid, masks map[string]*grid.Mask, plan *beam.Plan) (*grid.Grid, *Report, error)
	Name() string
}

// Report carries bookkeeping from a dose calculation.
type Report struct {
	Algorithm            string
	NormalizationScale   float64
	NormalizationSkipped bool
	Conditions           []string
}

func (r *Report) addCondition(format string, args ...interface{}) {
	r.Conditions = append(r.Conditions, fmt.Sprintf(format, args...))
}

// Params holds the geometric and physical settings shared by all
// algorithms.
type Params struct {
	FieldWidth     float64 // mm
	FieldHeight    float64 // mm
	SourceDistance float64 // source to isocenter distance, mm

	PencilsX int
	PencilsY int

	ScatterRadius    float64 // mm
	ScatterBeta      float64 // 1/mm
	DepthAttenuation float64 // 1/mm, photon depth falloff

	HeterogeneityCorrection bool
	Workers                 int

	Table              *density.Table
	ReferenceStructure string
	Normalization      NormMode
}

// DefaultParams returns the standard clinical geometry: a 100x100 mm field,
// 1000 mm source distance, and a 20x20 pencil lattice.
func DefaultParams() Params {
	return Params{
		FieldWidth:              100,
		FieldHeight:             100,
		SourceDistance:          1000,
		PencilsX:                20,
		PencilsY:                20,
		ScatterRadius:           50,
		ScatterBeta:             0.0067,
		DepthAttenuation:        0.005,
		HeterogeneityCorrection: true,
		Workers:                 runtime.NumCPU(),
		Table:                   density.Default(),
		ReferenceStructure:      "PTV",
		Normalization:           NormByMax,
	}
}

func (p *Params) setDefaults() {
	d := DefaultParams()
	if p.FieldWidth <= 0 {
		p.FieldWidth = d.FieldWidth
	}
	if p.FieldHeight <= 0 {
		p.FieldHeight = d.FieldHeight
	}
	if p.SourceDistance <= 0 {
		p.SourceDistance = d.SourceDistance
	}
	if p.PencilsX <= 0 {
		p.PencilsX = d.PencilsX
	}
	if p.PencilsY <= 0 {
		p.PencilsY = d.PencilsY
	}
	if p.ScatterRadius <= 0 {
		p.ScatterRadius = d.ScatterRadius
	}
	if p.ScatterBeta <= 0 {
		p.ScatterBeta = d.ScatterBeta
	}
	if p.DepthAttenuation <= 0 {
		p.DepthAttenuation = d.DepthAttenuation
	}
	if p.Workers <= 0 {
		p.Workers = d.Workers
	}
	if p.Table == nil {
		p.Table = d.Table
	}
	if p.ReferenceStructure == "" {
		p.ReferenceStructure = d.ReferenceStructure
	}
}

// New returns the named algorithm configured with p. Recognized names are
// "convolution", "pencil", and "aaa".
func New(name string, p Params) (Algorithm, error) {
	p.setDefaults()
	switch name {
	case "convolution", "cs":
		return &Convolution{params: p}, nil
	case "pencil", "pencilbeam":
		return &PencilBeam{params: p}, nil
	case "aaa":
		return &AAA{params: p}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

func validate(ct *grid.CTGrid, plan *beam.Plan) error {
	if ct == nil || len(ct.Data) == 0 {
		return fmt.Errorf("dose: empty CT volume")
	}
	if plan == nil || len(plan.Beams) == 0 {
		return ErrNoBeams
	}
	return nil
}

// forEachSlab splits the z range across workers and blocks until all slabs
// are processed. Slabs never overlap, so workers write disjoint voxels.
func forEachSlab(depth, workers int, fn func(z0, z1 int)) {
	if workers < 1 {
		workers = 1
	}
	if workers > depth {
		workers = depth
	}
	chunk := (depth + workers - 1) / workers

	var wg sync.WaitGroup
	for z0 := 0; z0 < depth; z0 += chunk {
		z1 := z0 + chunk
		if z1 > depth {
			z1 = depth
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			fn(z0, z1)
		}(z0, z1)
	}
	wg.Wait()
}

// applyWedge multiplies the beam dose by the wedge transmission at every
// voxel. A nil wedge is a no-op.
func applyWedge(g *grid.Grid, b *beam.Beam, workers int) {
	if b.Wedge == nil {
		return
	}
	sp := g.Spacing
	forEachSlab(g.Depth, workers, func(z0, z1 int) {
		for z := z0; z < z1; z++ {
			for y := 0; y < g.Height; y++ {
				for x := 0; x < g.Width; x++ {
					idx := g.Index(x, y, z)
					if g.Data[idx] == 0 {
						continue
					}
					pos := beam.Vec3{X: float64(x) * sp.X, Y: float64(y) * sp.Y, Z: float64(z) * sp.Z}
					g.Data[idx] *= beam.WedgeFactor(b.Wedge, pos, b.Isocenter)
				}
			}
		}
	})
}

// finish normalizes the accumulated dose per the configured mode and fills
// in the report.
func finish(total *grid.Grid, masks map[string]*grid.Mask, plan *beam.Plan, p *Params, rep *Report) {
	rep.NormalizationScale = 1.0
	if p.Normalization == NormNone {
		return
	}

	mask, name, ok := referenceMask(masks, p.ReferenceStructure)
	if !ok {
		rep.NormalizationSkipped = true
		rep.addCondition("normalization skipped: no reference structure available")
		return
	}

	scale, ok := Normalize(total, mask, plan.PrescribedDose, p.Normalization)
	if !ok {
		rep.NormalizationSkipped = true
		rep.addCondition("normalization skipped: structure %q has no dose", name)
		return
	}
	rep.NormalizationScale = scale
}
