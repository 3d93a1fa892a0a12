package dose

import (
	"errors"
	"math"
	"testing"

	"radplan/internal/phantom"
	"radplan/pkg/beam"
	"radplan/pkg/grid"
)

const (
	phantomDim     = 16
	phantomSpacing = 5.0 // mm
)

func testPhantom() (*grid.CTGrid, map[string]*grid.Mask, beam.Vec3) {
	sp := grid.Spacing{X: phantomSpacing, Y: phantomSpacing, Z: phantomSpacing}
	ct := phantom.WaterCT(phantomDim, phantomDim, phantomDim, sp)
	center := phantom.Center(phantomDim, phantomDim, phantomDim, sp)
	masks := map[string]*grid.Mask{
		"PTV": phantom.SphereMask(phantomDim, phantomDim, phantomDim, sp, center, 15),
	}
	return ct, masks, center
}

func TestNewAlgorithms(t *testing.T) {
	for name, want := range map[string]string{
		"convolution": "convolution",
		"cs":          "convolution",
		"pencil":      "pencil",
		"pencilbeam":  "pencil",
		"aaa":         "aaa",
	} {
		alg, err := New(name, DefaultParams())
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if alg.Name() != want {
			t.Errorf("New(%q).Name() = %q, want %q", name, alg.Name(), want)
		}
	}

	if _, err := New("montecarlo", DefaultParams()); !errors.Is(err, ErrUnknownAlgorithm) {
		t.Errorf("expected ErrUnknownAlgorithm, got %v", err)
	}
}

func TestCalculateDoseNoBeams(t *testing.T) {
	ct, masks, _ := testPhantom()
	empty := &beam.Plan{PrescribedDose: 2}

	for _, name := range []string{"convolution", "pencil", "aaa"} {
		alg, err := New(name, DefaultParams())
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if _, _, err := alg.CalculateDose(ct, masks, empty); !errors.Is(err, ErrNoBeams) {
			t.Errorf("%s: expected ErrNoBeams, got %v", name, err)
		}
	}
}

// TestWaterPhantomPrescription runs every algorithm on a water phantom with
// a single anterior beam and checks that the maximum dose in the target
// lands exactly on the 2 Gy prescription.
func TestWaterPhantomPrescription(t *testing.T) {
	for _, name := range []string{"convolution", "pencil", "aaa"} {
		t.Run(name, func(t *testing.T) {
			ct, masks, center := testPhantom()
			plan := phantom.SingleBeamPlan(0, center, 2.0)

			alg, err := New(name, DefaultParams())
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			dose, rep, err := alg.CalculateDose(ct, masks, plan)
			if err != nil {
				t.Fatalf("CalculateDose: %v", err)
			}

			if rep.NormalizationSkipped {
				t.Fatalf("normalization skipped: %v", rep.Conditions)
			}
			if rep.NormalizationScale <= 0 {
				t.Errorf("scale = %f, want > 0", rep.NormalizationScale)
			}

			max, ok := dose.MaxIn(masks["PTV"])
			if !ok {
				t.Fatal("no dose in target")
			}
			if math.Abs(max-2.0) > 1e-9 {
				t.Errorf("max target dose = %f, want 2.0", max)
			}
			if name == "convolution" {
				// In uniform water the hottest voxels sit at the
				// isocenter plane, so the isocenter voxel itself
				// receives the prescription.
				if got := dose.At(8, 8, 8); math.Abs(got-2.0) > 1e-9 {
					t.Errorf("isocenter dose = %f, want 2.0", got)
				}
			}
			for i, v := range dose.Data {
				if v < 0 || math.IsNaN(v) {
					t.Fatalf("invalid dose %f at %d", v, i)
				}
			}
		})
	}
}

// TestConvolutionDepthFalloff checks that dose decreases monotonically with
// distance downstream of the isocenter in uniform water.
func TestConvolutionDepthFalloff(t *testing.T) {
	ct, masks, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)

	alg, _ := New("convolution", DefaultParams())
	dose, _, err := alg.CalculateDose(ct, masks, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}

	// Beam along +Y: voxels upstream of the isocenter plane get nothing.
	if got := dose.At(8, 0, 8); got != 0 {
		t.Errorf("dose upstream of isocenter = %f, want 0", got)
	}

	prev := math.Inf(1)
	for y := 8; y < phantomDim; y++ {
		cur := dose.At(8, y, 8)
		if cur > prev {
			t.Fatalf("dose increased with depth at y=%d: %f -> %f", y, prev, cur)
		}
		if cur <= 0 {
			t.Fatalf("no dose on the central axis at y=%d", y)
		}
		prev = cur
	}
}

func TestNormalizationSkippedWithoutStructures(t *testing.T) {
	ct, _, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)

	alg, _ := New("convolution", DefaultParams())
	dose, rep, err := alg.CalculateDose(ct, map[string]*grid.Mask{}, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}

	if !rep.NormalizationSkipped {
		t.Error("expected normalization to be skipped")
	}
	if len(rep.Conditions) == 0 {
		t.Error("expected a reported condition")
	}
	if rep.NormalizationScale != 1.0 {
		t.Errorf("scale = %f, want 1", rep.NormalizationScale)
	}
	if dose == nil {
		t.Fatal("expected the unnormalized dose to be returned")
	}
}

// TestReferenceStructureFallback checks that normalization falls back to the
// first nonempty structure when the configured reference is absent.
func TestReferenceStructureFallback(t *testing.T) {
	ct, masks, center := testPhantom()
	fallback := map[string]*grid.Mask{
		"empty": grid.NewMask(phantomDim, phantomDim, phantomDim),
		"cord":  masks["PTV"],
	}
	plan := phantom.SingleBeamPlan(0, center, 2.0)

	alg, _ := New("convolution", DefaultParams())
	dose, rep, err := alg.CalculateDose(ct, fallback, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}
	if rep.NormalizationSkipped {
		t.Fatalf("normalization skipped: %v", rep.Conditions)
	}
	if max, _ := dose.MaxIn(fallback["cord"]); math.Abs(max-2.0) > 1e-9 {
		t.Errorf("max fallback dose = %f, want 2.0", max)
	}
}

func TestNormByMean(t *testing.T) {
	ct, masks, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)

	p := DefaultParams()
	p.Normalization = NormByMean
	alg, _ := New("convolution", p)

	dose, rep, err := alg.CalculateDose(ct, masks, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}
	if rep.NormalizationSkipped {
		t.Fatalf("normalization skipped: %v", rep.Conditions)
	}
	if mean, _ := dose.MeanIn(masks["PTV"]); math.Abs(mean-2.0) > 1e-9 {
		t.Errorf("mean target dose = %f, want 2.0", mean)
	}
}

func TestNormNoneLeavesDoseUnscaled(t *testing.T) {
	ct, masks, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)

	p := DefaultParams()
	p.Normalization = NormNone
	alg, _ := New("convolution", p)

	dose, rep, err := alg.CalculateDose(ct, masks, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}
	if rep.NormalizationScale != 1.0 || rep.NormalizationSkipped {
		t.Errorf("unexpected report: %+v", rep)
	}
	if max, _ := dose.MaxIn(masks["PTV"]); max == 2.0 {
		t.Error("raw dose coincides with the prescription; scaling suspected")
	}
}

func TestNormalize(t *testing.T) {
	g := grid.NewGrid(2, 2, 2, grid.Spacing{X: 1, Y: 1, Z: 1})
	g.Set(0, 0, 0, 5.0)
	g.Set(1, 0, 0, 1.0)

	m := grid.NewMask(2, 2, 2)
	m.Set(0, 0, 0, true)
	m.Set(1, 0, 0, true)

	scale, ok := Normalize(g, m, 10.0, NormByMax)
	if !ok || math.Abs(scale-2.0) > 1e-12 {
		t.Fatalf("scale = %f (ok=%v), want 2", scale, ok)
	}
	if g.At(0, 0, 0) != 10.0 || g.At(1, 0, 0) != 2.0 {
		t.Error("grid not scaled in place")
	}

	zero := grid.NewGrid(2, 2, 2, grid.Spacing{X: 1, Y: 1, Z: 1})
	if _, ok := Normalize(zero, m, 10.0, NormByMax); ok {
		t.Error("expected normalization of a zero grid to fail")
	}
	if _, ok := Normalize(g, m, 0, NormByMax); ok {
		t.Error("expected zero prescription to fail")
	}
}

// TestPencilArcCondition checks that the pencil algorithm reports when it
// degrades an arc beam to a static field.
func TestPencilArcCondition(t *testing.T) {
	ct, masks, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)
	plan.Beams[0].Arc = &beam.Arc{StartAngle: 0, StopAngle: 40, Direction: 1}

	alg, _ := New("pencil", DefaultParams())
	_, rep, err := alg.CalculateDose(ct, masks, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}
	if len(rep.Conditions) == 0 {
		t.Error("expected an arc degradation condition")
	}
}

// TestAAAHeterogeneity checks that with the correction enabled an air slab
// receives less primary dose than the same slab of water.
func TestAAAHeterogeneity(t *testing.T) {
	sp := grid.Spacing{X: phantomSpacing, Y: phantomSpacing, Z: phantomSpacing}
	center := phantom.Center(phantomDim, phantomDim, phantomDim, sp)

	water := phantom.WaterCT(phantomDim, phantomDim, phantomDim, sp)
	airSlab := phantom.SlabCT(phantomDim, phantomDim, phantomDim, sp, -1000, 6, 9)

	p := DefaultParams()
	p.Normalization = NormNone
	alg, _ := New("aaa", p)

	plan := phantom.SingleBeamPlan(0, center, 2.0)
	doseWater, _, err := alg.CalculateDose(water, nil, plan)
	if err != nil {
		t.Fatalf("CalculateDose water: %v", err)
	}
	doseAir, _, err := alg.CalculateDose(airSlab, nil, plan)
	if err != nil {
		t.Fatalf("CalculateDose air slab: %v", err)
	}

	// Voxel inside the slab, downstream of the isocenter plane.
	if doseAir.At(8, 10, 8) >= doseWater.At(8, 10, 8) {
		t.Error("air slab should receive less dose than water")
	}
}

// TestArcCoversBothSides checks that a 360 degree arc deposits dose on both
// sides of the isocenter, unlike a static beam.
func TestArcCoversBothSides(t *testing.T) {
	ct, masks, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)
	plan.Technique = "VMAT"
	plan.Beams[0].Arc = &beam.Arc{StartAngle: 0, StopAngle: 360, Direction: 1}

	alg, _ := New("convolution", DefaultParams())
	dose, _, err := alg.CalculateDose(ct, masks, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}

	if dose.At(8, 2, 8) <= 0 || dose.At(8, 13, 8) <= 0 {
		t.Error("arc should irradiate both sides of the isocenter")
	}
}

// TestWedgeTiltsProfile checks that a wedged beam delivers less dose under
// the thick end than on the opposite side of the axis.
func TestWedgeTiltsProfile(t *testing.T) {
	ct, masks, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)
	plan.Beams[0].Wedge = &beam.Wedge{Kind: "physical", Angle: 45, Orientation: 0}

	p := DefaultParams()
	p.Normalization = NormNone
	alg, _ := New("convolution", p)

	dose, _, err := alg.CalculateDose(ct, masks, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}

	// The thick end lies toward +X of the isocenter.
	thick := dose.At(12, 10, 8)
	thin := dose.At(3, 10, 8)
	if thick >= thin {
		t.Errorf("wedged profile not tilted: thick %f, thin %f", thick, thin)
	}
}

// TestStaticSegmentedField checks that a static beam with several MLC
// segments irradiates every segment, not just the first one.
func TestStaticSegmentedField(t *testing.T) {
	ct, masks, center := testPhantom()

	// Two complementary half-field segments: the first opens the -X half
	// of the field, the second the +X half.
	b := &beam.Beam{
		ID:        "seg",
		Type:      beam.Photon,
		Energy:    6,
		Isocenter: center,
		SSD:       900,
		MLC: [][]beam.LeafPair{
			{{Left: -50, Right: 0}},
			{{Left: 0, Right: 50}},
		},
	}
	plan := &beam.Plan{
		ID:             "seg",
		Technique:      "IMRT",
		PrescribedDose: 2.0,
		Fractions:      1,
		Beams:          []*beam.Beam{b},
	}

	p := DefaultParams()
	p.Normalization = NormNone

	for _, name := range []string{"convolution", "pencil", "aaa"} {
		t.Run(name, func(t *testing.T) {
			alg, _ := New(name, p)
			dose, _, err := alg.CalculateDose(ct, masks, plan)
			if err != nil {
				t.Fatalf("CalculateDose: %v", err)
			}
			if got := dose.At(3, 8, 8); got <= 0 {
				t.Errorf("no dose under the first segment: %f", got)
			}
			if got := dose.At(12, 8, 8); got <= 0 {
				t.Errorf("no dose under the second segment: %f", got)
			}
		})
	}

	// With only the first segment the +X half stays shielded.
	b.MLC = b.MLC[:1]
	alg, _ := New("convolution", p)
	dose, _, err := alg.CalculateDose(ct, masks, plan)
	if err != nil {
		t.Fatalf("CalculateDose: %v", err)
	}
	if got := dose.At(12, 8, 8); got != 0 {
		t.Errorf("dose outside the only segment = %f, want 0", got)
	}
}

// TestConvolutionSeesFullKernelExtent checks that density changes anywhere
// within the kernel radius perturb the dose, not just in the innermost shell.
func TestConvolutionSeesFullKernelExtent(t *testing.T) {
	sp := grid.Spacing{X: phantomSpacing, Y: phantomSpacing, Z: phantomSpacing}
	center := phantom.Center(phantomDim, phantomDim, phantomDim, sp)
	plan := phantom.SingleBeamPlan(0, center, 2.0)

	p := DefaultParams()
	p.Normalization = NormNone
	alg, _ := New("convolution", p)

	water := phantom.WaterCT(phantomDim, phantomDim, phantomDim, sp)
	doseWater, _, err := alg.CalculateDose(water, nil, plan)
	if err != nil {
		t.Fatalf("CalculateDose water: %v", err)
	}

	// An air voxel four voxels off the axis sits inside the 11^3 kernel
	// reach of the axis voxel.
	pocket := phantom.WaterCT(phantomDim, phantomDim, phantomDim, sp)
	pocket.Set(12, 8, 8, -1000)
	dosePocket, _, err := alg.CalculateDose(pocket, nil, plan)
	if err != nil {
		t.Fatalf("CalculateDose air pocket: %v", err)
	}

	if dosePocket.At(8, 8, 8) >= doseWater.At(8, 8, 8) {
		t.Errorf("axis dose unchanged by nearby air pocket: %f vs %f",
			dosePocket.At(8, 8, 8), doseWater.At(8, 8, 8))
	}
}

// TestRadiologicalDepthStartsAtEntry traces an oblique ray whose clipped
// entry point rounds to just below the y = 0 face and checks that the dense
// surface plane is integrated only once the ray is inside the volume.
func TestRadiologicalDepthStartsAtEntry(t *testing.T) {
	sp := grid.Spacing{X: phantomSpacing, Y: phantomSpacing, Z: phantomSpacing}
	dens := grid.NewGrid(phantomDim, phantomDim, phantomDim, sp)
	for i := range dens.Data {
		dens.Data[i] = 1.0
	}
	for z := 0; z < phantomDim; z++ {
		for x := 0; x < phantomDim; x++ {
			dens.Set(x, 0, z, 100.0)
		}
	}

	dy := 45.0 / 101.0
	dir := beam.Vec3{X: math.Sqrt(1 - dy*dy), Y: dy}

	// Four samples in the surface plane and nine in water at half-voxel
	// steps. A ray sampled before its entry point would pick up an extra
	// surface sample.
	depth := radiologicalDepth(dens, 8, 3, 8, dir, 100)
	want := 4*100*2.5 + 9*2.5
	if math.Abs(depth-want) > 1e-9 {
		t.Errorf("radiological depth = %f, want %f", depth, want)
	}
}

func BenchmarkConvolutionPhantom(b *testing.B) {
	ct, masks, center := testPhantom()
	plan := phantom.SingleBeamPlan(0, center, 2.0)
	alg, _ := New("convolution", DefaultParams())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := alg.CalculateDose(ct, masks, plan); err != nil {
			b.Fatal(err)
		}
	}
}
