// Package grid provides dense 3D voxel grids for CT data, electron density,
// dose distributions and anatomical structure masks. Grids store their data
// as a flat array in z-major (depth, height, width) order together with the
// physical voxel size in millimetres.
package grid

// Spacing is the physical size of a voxel in millimetres per axis.
type Spacing struct {
	X, Y, Z float64
}

// Min returns the smallest of the three axis sizes.
func (s Spacing) Min() float64 {
	m := s.X
	if s.Y < m {
		m = s.Y
	}
	if s.Z < m {
		m = s.Z
	}
	return m
}

// Grid is a dense 3D array of float64 samples, used for electron density and
// dose distributions. A density grid is immutable once built; a dose grid is
// accumulated in place by the computation that owns it.
type Grid struct {
	// Data holds the samples in z-major order: index = z*W*H + y*W + x.
	Data []float64

	// Width, Height and Depth are the grid dimensions in voxels.
	Width, Height, Depth int

	// Spacing is the physical voxel size in mm.
	Spacing Spacing
}

// NewGrid allocates a zero-valued grid with the given dimensions and spacing.
func NewGrid(width, height, depth int, spacing Spacing) *Grid {
	return &Grid{
		Data:    make([]float64, width*height*depth),
		Width:   width,
		Height:  height,
		Depth:   depth,
		Spacing: spacing,
	}
}

// Index converts voxel coordinates to a flat data index.
func (g *Grid) Index(x, y, z int) int {
	return z*g.Width*g.Height + y*g.Width + x
}

// At returns the sample at the given voxel coordinates.
func (g *Grid) At(x, y, z int) float64 {
	return g.Data[g.Index(x, y, z)]
}

// Set stores a sample at the given voxel coordinates.
func (g *Grid) Set(x, y, z int, v float64) {
	g.Data[g.Index(x, y, z)] = v
}

// Add accumulates a sample into the given voxel.
func (g *Grid) Add(x, y, z int, v float64) {
	g.Data[g.Index(x, y, z)] += v
}

// Contains reports whether the voxel coordinates lie inside the grid.
func (g *Grid) Contains(x, y, z int) bool {
	return x >= 0 && x < g.Width && y >= 0 && y < g.Height && z >= 0 && z < g.Depth
}

// SameShape reports whether both grids have congruent outer dimensions.
func (g *Grid) SameShape(o *Grid) bool {
	return g.Width == o.Width && g.Height == o.Height && g.Depth == o.Depth
}

// Clone returns an independent copy of the grid.
func (g *Grid) Clone() *Grid {
	c := NewGrid(g.Width, g.Height, g.Depth, g.Spacing)
	copy(c.Data, g.Data)
	return c
}

// Scale multiplies every voxel by s.
func (g *Grid) Scale(s float64) {
	for i := range g.Data {
		g.Data[i] *= s
	}
}

// AccumulateScaled adds w times every voxel of o into g. Both grids must be
// congruent; the caller guarantees this for per-beam dose grids derived from
// the same CT grid.
func (g *Grid) AccumulateScaled(o *Grid, w float64) {
	for i := range g.Data {
		g.Data[i] += w * o.Data[i]
	}
}

// CTGrid is a dense 3D array of Hounsfield Unit samples.
type CTGrid struct {
	Data                 []int32
	Width, Height, Depth int
	Spacing              Spacing
}

// NewCTGrid allocates a zero-valued CT grid.
func NewCTGrid(width, height, depth int, spacing Spacing) *CTGrid {
	return &CTGrid{
		Data:    make([]int32, width*height*depth),
		Width:   width,
		Height:  height,
		Depth:   depth,
		Spacing: spacing,
	}
}

// Index converts voxel coordinates to a flat data index.
func (g *CTGrid) Index(x, y, z int) int {
	return z*g.Width*g.Height + y*g.Width + x
}

// At returns the HU sample at the given voxel coordinates.
func (g *CTGrid) At(x, y, z int) int32 {
	return g.Data[g.Index(x, y, z)]
}

// Set stores an HU sample at the given voxel coordinates.
func (g *CTGrid) Set(x, y, z int, v int32) {
	g.Data[g.Index(x, y, z)] = v
}

// Mask marks the voxels belonging to one named anatomical structure. A voxel
// belongs to the structure iff its value is positive. Masks are aligned to
// the CT grid and are never mutated by the dose or optimization subsystems.
type Mask struct {
	Data                 []uint8
	Width, Height, Depth int
}

// NewMask allocates an empty mask with the given dimensions.
func NewMask(width, height, depth int) *Mask {
	return &Mask{
		Data:   make([]uint8, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Contains reports whether the voxel belongs to the structure. Coordinates
// beyond the mask's dimensions are treated as absent rather than as an
// out-of-bounds fault, so a mask smaller than the dose grid degrades to
// "structure not present there".
func (m *Mask) Contains(x, y, z int) bool {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height || z < 0 || z >= m.Depth {
		return false
	}
	return m.Data[z*m.Width*m.Height+y*m.Width+x] > 0
}

// Set marks or clears a voxel.
func (m *Mask) Set(x, y, z int, in bool) {
	i := z*m.Width*m.Height + y*m.Width + x
	if in {
		m.Data[i] = 1
	} else {
		m.Data[i] = 0
	}
}

// Count returns the number of voxels belonging to the structure.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

// ValuesIn extracts the dose samples at every voxel of g that belongs to the
// mask. Voxels of g outside the mask's dimensions are skipped.
func (g *Grid) ValuesIn(m *Mask) []float64 {
	var out []float64
	for z := 0; z < g.Depth; z++ {
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				if m.Contains(x, y, z) {
					out = append(out, g.At(x, y, z))
				}
			}
		}
	}
	return out
}

// MaxIn returns the maximum sample inside the mask. ok is false when the mask
// covers no voxel of the grid.
func (g *Grid) MaxIn(m *Mask) (max float64, ok bool) {
	for z := 0; z < g.Depth; z++ {
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				if !m.Contains(x, y, z) {
					continue
				}
				v := g.At(x, y, z)
				if !ok || v > max {
					max = v
					ok = true
				}
			}
		}
	}
	return max, ok
}

// MeanIn returns the mean sample inside the mask. ok is false when the mask
// covers no voxel of the grid.
func (g *Grid) MeanIn(m *Mask) (mean float64, ok bool) {
	sum := 0.0
	n := 0
	for z := 0; z < g.Depth; z++ {
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				if m.Contains(x, y, z) {
					sum += g.At(x, y, z)
					n++
				}
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
