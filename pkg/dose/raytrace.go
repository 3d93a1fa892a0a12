package dose

import (
	"math"

	"radplan/pkg/beam"
	"radplan/pkg/grid"
)

// radiologicalDepth integrates electron density from the beam entry point
// to the target voxel. The ray starts a source distance upstream of the
// voxel, is clipped to the volume bounding box, and marched at half the
// smallest voxel spacing.
func radiologicalDepth(dens *grid.Grid, tx, ty, tz int, dir beam.Vec3, sourceDist float64) float64 {
	sp := dens.Spacing
	target := beam.Vec3{
		X: float64(tx) * sp.X,
		Y: float64(ty) * sp.Y,
		Z: float64(tz) * sp.Z,
	}
	start := target.Sub(dir.Scale(sourceDist))

	// Clip the start point to the volume so the march skips empty space.
	maxX := float64(dens.Width) * sp.X
	maxY := float64(dens.Height) * sp.Y
	maxZ := float64(dens.Depth) * sp.Z

	tEnter := 0.0
	advance := func(p, d, lo, hi float64) {
		var t float64
		switch {
		case d > 1e-12 && p < lo:
			t = (lo - p) / d
		case d < -1e-12 && p > hi:
			t = (hi - p) / d
		default:
			return
		}
		if t > tEnter {
			tEnter = t
		}
	}
	advance(start.X, dir.X, 0, maxX)
	advance(start.Y, dir.Y, 0, maxY)
	advance(start.Z, dir.Z, 0, maxZ)
	if tEnter > sourceDist {
		return 0
	}

	pos := start.Add(dir.Scale(tEnter))
	step := sp.Min() / 2

	depth := 0.0
	remaining := sourceDist - tEnter
	for traveled := 0.0; traveled < remaining; traveled += step {
		ix := int(math.Floor(pos.X / sp.X))
		iy := int(math.Floor(pos.Y / sp.Y))
		iz := int(math.Floor(pos.Z / sp.Z))
		if ix == tx && iy == ty && iz == tz {
			break
		}
		if dens.Contains(ix, iy, iz) {
			depth += dens.At(ix, iy, iz) * step
		}
		pos = pos.Add(dir.Scale(step))
	}
	return depth
}

// depthGrid computes the radiological depth of every voxel for one beam
// direction, slab-parallel over z.
func depthGrid(dens *grid.Grid, dir beam.Vec3, sourceDist float64, workers int) *grid.Grid {
	out := grid.NewGrid(dens.Width, dens.Height, dens.Depth, dens.Spacing)
	forEachSlab(dens.Depth, workers, func(z0, z1 int) {
		for z := z0; z < z1; z++ {
			for y := 0; y < dens.Height; y++ {
				for x := 0; x < dens.Width; x++ {
					out.Data[out.Index(x, y, z)] = radiologicalDepth(dens, x, y, z, dir, sourceDist)
				}
			}
		}
	})
	return out
}
