package dose

import (
	"math"

	"radplan/pkg/beam"
	"radplan/pkg/grid"
)

// PencilBeam decomposes each field into a lattice of narrow pencils. Every
// pencil carries a lateral Gaussian profile and a modality-specific depth
// dose evaluated at the voxel's radiological depth.
type PencilBeam struct {
	params Params
}

func (p *PencilBeam) Name() string { return "pencil" }

func (p *PencilBeam) CalculateDose(ct *grid.CTGrid, masks map[string]*grid.Mask, plan *beam.Plan) (*grid.Grid, *Report, error) {
	if err := validate(ct, plan); err != nil {
		return nil, nil, err
	}
	rep := &Report{Algorithm: p.Name()}

	dens := p.params.Table.ConvertGrid(ct)
	total := grid.NewGrid(ct.Width, ct.Height, ct.Depth, ct.Spacing)

	for _, b := range plan.Beams {
		if b.Arc != nil {
			rep.addCondition("beam %s: arc sampled at the static gantry angle", b.ID)
		}
		beamDose := p.beamDose(dens, b)
		applyWedge(beamDose, b, p.params.Workers)
		total.AccumulateScaled(beamDose, 1.0)
	}

	finish(total, masks, plan, &p.params, rep)
	return total, rep, nil
}

// pencil is one lattice element: its center in patient coordinates and the
// relative weight of the control point it belongs to.
type pencil struct {
	center beam.Vec3
	weight float64
}

func (p *PencilBeam) beamDose(dens *grid.Grid, b *beam.Beam) *grid.Grid {
	out := grid.NewGrid(dens.Width, dens.Height, dens.Depth, dens.Spacing)
	sp := dens.Spacing

	// Every control point shares the static gantry angle, so the beam basis
	// and the radiological depth grid are computed once while each segment
	// contributes its own weighted pencils.
	_, leaves, _ := b.ControlPoint(0)
	ap := beam.NewAperture(b, b.GantryAngle, leaves, p.params.FieldWidth, p.params.FieldHeight)

	var pencils []pencil
	n := b.ControlPointCount()
	for cp := 0; cp < n; cp++ {
		_, cpLeaves, weight := b.ControlPoint(cp)
		if weight <= 0 {
			continue
		}
		cpAp := beam.NewAperture(b, b.GantryAngle, cpLeaves, p.params.FieldWidth, p.params.FieldHeight)
		pencils = append(pencils, p.lattice(b, &cpAp, weight)...)
	}
	if len(pencils) == 0 {
		return out
	}

	depths := depthGrid(dens, ap.Dir, p.params.SourceDistance, p.params.Workers)

	sigma := lateralSigma(b.Type, b.Energy)
	cutoff2 := (4 * sigma) * (4 * sigma)

	forEachSlab(dens.Depth, p.params.Workers, func(z0, z1 int) {
		for z := z0; z < z1; z++ {
			for y := 0; y < dens.Height; y++ {
				for x := 0; x < dens.Width; x++ {
					pos := beam.Vec3{X: float64(x) * sp.X, Y: float64(y) * sp.Y, Z: float64(z) * sp.Z}

					d := pos.Sub(b.Isocenter)
					projBeam := d.Dot(ap.Dir)
					if projBeam < 0 {
						continue
					}

					pdd := depthDose(b.Type, b.Energy, depths.At(x, y, z), p.params.DepthAttenuation)
					if pdd == 0 {
						continue
					}

					sd := p.params.SourceDistance
					invSq := (sd / (sd + projBeam)) * (sd / (sd + projBeam))

					lateral := 0.0
					for _, pc := range pencils {
						rel := pos.Sub(pc.center)
						px := rel.Dot(ap.PerpX)
						py := rel.Dot(ap.PerpY)
						r2 := px*px + py*py
						if r2 > cutoff2 {
							continue
						}
						lateral += pc.weight * math.Exp(-r2/(2*sigma*sigma))
					}
					if lateral == 0 {
						continue
					}

					out.Data[out.Index(x, y, z)] += lateral * pdd * invSq
				}
			}
		}
	})
	return out
}

// lattice places pencil centers on a regular grid over the field, dropping
// pencils blocked by the collimator.
func (p *PencilBeam) lattice(b *beam.Beam, ap *beam.Aperture, weight float64) []pencil {
	pw := p.params.FieldWidth / float64(p.params.PencilsX)
	ph := p.params.FieldHeight / float64(p.params.PencilsY)

	pencils := make([]pencil, 0, p.params.PencilsX*p.params.PencilsY)
	for iy := 0; iy < p.params.PencilsY; iy++ {
		offY := (float64(iy)+0.5)*ph - p.params.FieldHeight/2
		for ix := 0; ix < p.params.PencilsX; ix++ {
			offX := (float64(ix)+0.5)*pw - p.params.FieldWidth/2

			center := b.Isocenter.
				Add(ap.PerpX.Scale(offX)).
				Add(ap.PerpY.Scale(offY))
			if !ap.Contains(center) {
				continue
			}
			pencils = append(pencils, pencil{center: center, weight: weight})
		}
	}
	return pencils
}

// lateralSigma is the pencil spread in millimeters.
func lateralSigma(t beam.Type, energy float64) float64 {
	switch t {
	case beam.Electron:
		return 5 + 0.3*energy
	case beam.Proton:
		return 2 + 0.2*energy
	default:
		return 3 + 0.5*energy
	}
}

// depthDose evaluates the central-axis depth dose at a radiological depth
// in millimeters.
func depthDose(t beam.Type, energy, rd, attenuation float64) float64 {
	switch t {
	case beam.Electron:
		// Practical range, with dose vanishing past it.
		rp := 0.9 * (0.5 * energy * 10)
		if rd >= rp || rp <= 0 {
			return 0
		}
		return (1 - rd/rp) * math.Exp(-4*(rd-rp)*(rd-rp)/(rp*rp))
	case beam.Proton:
		rng := 0.3 * energy * 10
		if rd > rng || rng <= 0 {
			return 0
		}
		return 0.8 + 5*math.Exp(-20*(rd-rng)*(rd-rng)/(rng*rng))
	default:
		return math.Exp(-attenuation * rd)
	}
}
