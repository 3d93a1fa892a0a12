package dose

import (
	"math"

	"radplan/pkg/beam"
	"radplan/pkg/grid"
)

// AAA is the analytical anisotropic algorithm: an exponential primary
// component with optional heterogeneity correction, plus a scatter component
// gathered from the primary dose of nearby voxels.
type AAA struct {
	params Params
}

func (a *AAA) Name() string { return "aaa" }

func (a *AAA) CalculateDose(ct *grid.CTGrid, masks map[string]*grid.Mask, plan *beam.Plan) (*grid.Grid, *Report, error) {
	if err := validate(ct, plan); err != nil {
		return nil, nil, err
	}
	rep := &Report{Algorithm: a.Name()}

	dens := a.params.Table.ConvertGrid(ct)
	total := grid.NewGrid(ct.Width, ct.Height, ct.Depth, ct.Spacing)

	for _, b := range plan.Beams {
		primary := a.primaryDose(dens, b)
		scatter := a.scatterDose(primary)
		primary.AccumulateScaled(scatter, 1.0)

		applyWedge(primary, b, a.params.Workers)
		total.AccumulateScaled(primary, 1.0)
	}

	finish(total, masks, plan, &a.params, rep)
	return total, rep, nil
}

func (a *AAA) primaryDose(dens *grid.Grid, b *beam.Beam) *grid.Grid {
	out := grid.NewGrid(dens.Width, dens.Height, dens.Depth, dens.Spacing)
	sp := dens.Spacing
	mu := attenuationCoefficient(b.Energy)

	n := b.ControlPointCount()
	for cp := 0; cp < n; cp++ {
		gantry, leaves, weight := b.ControlPoint(cp)
		if weight <= 0 {
			continue
		}
		ap := beam.NewAperture(b, gantry, leaves, a.params.FieldWidth, a.params.FieldHeight)

		forEachSlab(dens.Depth, a.params.Workers, func(z0, z1 int) {
			for z := z0; z < z1; z++ {
				for y := 0; y < dens.Height; y++ {
					for x := 0; x < dens.Width; x++ {
						pos := beam.Vec3{X: float64(x) * sp.X, Y: float64(y) * sp.Y, Z: float64(z) * sp.Z}
						if !ap.Contains(pos) {
							continue
						}

						depth := math.Abs(pos.Sub(b.Isocenter).Dot(ap.Dir))
						pdd := 100 * math.Exp(-mu*depth)
						if a.params.HeterogeneityCorrection {
							pdd *= dens.At(x, y, z)
						}
						out.Data[out.Index(x, y, z)] += pdd * weight
					}
				}
			}
		})
	}
	return out
}

// scatterDose gathers the contribution of surrounding primary dose with an
// exponential distance falloff. The gather formulation keeps each output
// voxel independent, so slabs can run in parallel.
func (a *AAA) scatterDose(primary *grid.Grid) *grid.Grid {
	out := grid.NewGrid(primary.Width, primary.Height, primary.Depth, primary.Spacing)
	sp := primary.Spacing

	rx := int(a.params.ScatterRadius / sp.X)
	ry := int(a.params.ScatterRadius / sp.Y)
	rz := int(a.params.ScatterRadius / sp.Z)
	radius2 := a.params.ScatterRadius * a.params.ScatterRadius
	beta := a.params.ScatterBeta

	forEachSlab(primary.Depth, a.params.Workers, func(z0, z1 int) {
		for z := z0; z < z1; z++ {
			for y := 0; y < primary.Height; y++ {
				for x := 0; x < primary.Width; x++ {
					sum := 0.0
					for dz := -rz; dz <= rz; dz++ {
						vz := z + dz
						if vz < 0 || vz >= primary.Depth {
							continue
						}
						for dy := -ry; dy <= ry; dy++ {
							vy := y + dy
							if vy < 0 || vy >= primary.Height {
								continue
							}
							for dx := -rx; dx <= rx; dx++ {
								vx := x + dx
								if vx < 0 || vx >= primary.Width {
									continue
								}
								if dx == 0 && dy == 0 && dz == 0 {
									continue
								}
								p := primary.At(vx, vy, vz)
								if p == 0 {
									continue
								}
								wx := float64(dx) * sp.X
								wy := float64(dy) * sp.Y
								wz := float64(dz) * sp.Z
								d2 := wx*wx + wy*wy + wz*wz
								if d2 > radius2 {
									continue
								}
								sum += p * math.Exp(-beta*math.Sqrt(d2))
							}
						}
					}
					out.Data[out.Index(x, y, z)] = sum
				}
			}
		}
	})
	return out
}

// attenuationCoefficient approximates the effective linear attenuation for
// megavoltage photon beams, in 1/mm.
func attenuationCoefficient(energy float64) float64 {
	switch {
	case energy <= 6:
		return 0.0061
	case energy <= 10:
		return 0.005
	default:
		return 0.003
	}
}
