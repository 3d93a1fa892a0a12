// Package phantom builds synthetic CT volumes, structures, and plans for
// demos and scenario tests.
package phantom

import (
	"radplan/pkg/beam"
	"radplan/pkg/grid"
)

// WaterCT returns a uniform water volume (0 HU everywhere).
func WaterCT(w, h, d int, sp grid.Spacing) *grid.CTGrid {
	return grid.NewCTGrid(w, h, d, sp)
}

// SlabCT returns a water volume with an axial slab of the given HU between
// zFrom and zTo (inclusive). Useful for heterogeneity scenarios.
func SlabCT(w, h, d int, sp grid.Spacing, hu int32, zFrom, zTo int) *grid.CTGrid {
	ct := grid.NewCTGrid(w, h, d, sp)
	for z := zFrom; z <= zTo && z < d; z++ {
		if z < 0 {
			continue
		}
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				ct.Set(x, y, z, hu)
			}
		}
	}
	return ct
}

// SphereMask returns a structure mask covering all voxels within radius
// millimeters of center (patient coordinates).
func SphereMask(w, h, d int, sp grid.Spacing, center beam.Vec3, radius float64) *grid.Mask {
	m := grid.NewMask(w, h, d)
	r2 := radius * radius
	for z := 0; z < d; z++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dx := float64(x)*sp.X - center.X
				dy := float64(y)*sp.Y - center.Y
				dz := float64(z)*sp.Z - center.Z
				if dx*dx+dy*dy+dz*dz <= r2 {
					m.Set(x, y, z, true)
				}
			}
		}
	}
	return m
}

// Center returns the patient-coordinate midpoint of a volume.
func Center(w, h, d int, sp grid.Spacing) beam.Vec3 {
	return beam.Vec3{
		X: float64(w-1) / 2 * sp.X,
		Y: float64(h-1) / 2 * sp.Y,
		Z: float64(d-1) / 2 * sp.Z,
	}
}

// SingleBeamPlan returns a plan with one static photon beam aimed at iso.
func SingleBeamPlan(gantryDeg float64, iso beam.Vec3, prescribed float64) *beam.Plan {
	return &beam.Plan{
		ID:             "phantom",
		Technique:      "3DCRT",
		PrescribedDose: prescribed,
		Fractions:      1,
		Beams: []*beam.Beam{
			{
				ID:          "b1",
				Type:        beam.Photon,
				Energy:      6,
				GantryAngle: gantryDeg,
				Isocenter:   iso,
				SSD:         900,
			},
		},
	}
}

// OpposedPairPlan returns a plan with two parallel-opposed photon beams.
func OpposedPairPlan(iso beam.Vec3, prescribed float64) *beam.Plan {
	p := SingleBeamPlan(0, iso, prescribed)
	p.Beams = append(p.Beams, &beam.Beam{
		ID:          "b2",
		Type:        beam.Photon,
		Energy:      6,
		GantryAngle: 180,
		Isocenter:   iso,
		SSD:         900,
	})
	return p
}
