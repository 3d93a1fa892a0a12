package grid

import (
	"math"
	"testing"
)

// TestIndexRoundTrip verifies the z-major flat index layout.
func TestIndexRoundTrip(t *testing.T) {
	g := NewGrid(4, 3, 2, Spacing{1, 1, 1})

	seen := make(map[int]bool)
	for z := 0; z < g.Depth; z++ {
		for y := 0; y < g.Height; y++ {
			for x := 0; x < g.Width; x++ {
				idx := g.Index(x, y, z)
				if idx < 0 || idx >= len(g.Data) {
					t.Fatalf("index out of range at (%d,%d,%d): %d", x, y, z, idx)
				}
				if seen[idx] {
					t.Fatalf("duplicate index at (%d,%d,%d): %d", x, y, z, idx)
				}
				seen[idx] = true
			}
		}
	}

	g.Set(3, 2, 1, 7.5)
	if got := g.At(3, 2, 1); got != 7.5 {
		t.Errorf("expected 7.5 at (3,2,1), got %f", got)
	}
	g.Add(3, 2, 1, 0.5)
	if got := g.At(3, 2, 1); got != 8.0 {
		t.Errorf("expected 8.0 after Add, got %f", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := NewGrid(2, 2, 2, Spacing{1, 2, 3})
	g.Set(0, 0, 0, 1.0)

	c := g.Clone()
	c.Set(0, 0, 0, 9.0)

	if g.At(0, 0, 0) != 1.0 {
		t.Error("mutating the clone changed the original")
	}
	if c.Spacing != g.Spacing {
		t.Error("clone lost the spacing")
	}
}

// TestMaskAbsentBeyondBounds verifies that a mask smaller than the dose grid
// treats out-of-range voxels as absent instead of faulting.
func TestMaskAbsentBeyondBounds(t *testing.T) {
	m := NewMask(2, 2, 2)
	m.Set(1, 1, 1, true)

	if !m.Contains(1, 1, 1) {
		t.Error("expected voxel (1,1,1) inside structure")
	}
	if m.Contains(3, 1, 1) || m.Contains(1, 3, 1) || m.Contains(1, 1, 3) {
		t.Error("voxels beyond mask dimensions must be absent")
	}
	if m.Contains(-1, 0, 0) {
		t.Error("negative coordinates must be absent")
	}
}

// TestValuesInShortMask verifies that extraction over a mask smaller than the
// grid only picks up in-mask voxels.
func TestValuesInShortMask(t *testing.T) {
	g := NewGrid(4, 4, 4, Spacing{1, 1, 1})
	for i := range g.Data {
		g.Data[i] = float64(i)
	}

	m := NewMask(2, 2, 2)
	m.Set(0, 0, 0, true)
	m.Set(1, 1, 1, true)

	vals := g.ValuesIn(m)
	if len(vals) != 2 {
		t.Fatalf("expected 2 values, got %d", len(vals))
	}
	if vals[0] != g.At(0, 0, 0) || vals[1] != g.At(1, 1, 1) {
		t.Errorf("unexpected extracted values: %v", vals)
	}
}

// TestMaskedStatistics verifies MaxIn/MeanIn including the empty-mask case.
func TestMaskedStatistics(t *testing.T) {
	g := NewGrid(3, 3, 3, Spacing{1, 1, 1})
	g.Set(0, 0, 0, 2.0)
	g.Set(1, 0, 0, 4.0)

	m := NewMask(3, 3, 3)
	m.Set(0, 0, 0, true)
	m.Set(1, 0, 0, true)

	max, ok := g.MaxIn(m)
	if !ok || max != 4.0 {
		t.Errorf("expected max 4.0, got %f (ok=%v)", max, ok)
	}

	mean, ok := g.MeanIn(m)
	if !ok || math.Abs(mean-3.0) > 1e-12 {
		t.Errorf("expected mean 3.0, got %f (ok=%v)", mean, ok)
	}

	empty := NewMask(3, 3, 3)
	if _, ok := g.MaxIn(empty); ok {
		t.Error("MaxIn over empty mask must report ok=false")
	}
	if _, ok := g.MeanIn(empty); ok {
		t.Error("MeanIn over empty mask must report ok=false")
	}
}

// TestAccumulateScaled verifies weighted summation of congruent grids.
func TestAccumulateScaled(t *testing.T) {
	a := NewGrid(2, 2, 2, Spacing{1, 1, 1})
	b := NewGrid(2, 2, 2, Spacing{1, 1, 1})
	for i := range b.Data {
		b.Data[i] = 2.0
	}

	a.AccumulateScaled(b, 0.5)
	for i, v := range a.Data {
		if v != 1.0 {
			t.Fatalf("expected 1.0 at %d, got %f", i, v)
		}
	}

	if !a.SameShape(b) {
		t.Error("expected congruent shapes")
	}
	if a.SameShape(NewGrid(2, 2, 3, Spacing{1, 1, 1})) {
		t.Error("expected shape mismatch to be detected")
	}
}

// TestSpacingMin verifies the smallest-axis lookup used for ray-march steps.
func TestSpacingMin(t *testing.T) {
	s := Spacing{X: 2.0, Y: 1.0, Z: 3.0}
	if s.Min() != 1.0 {
		t.Errorf("expected 1.0, got %f", s.Min())
	}
}
