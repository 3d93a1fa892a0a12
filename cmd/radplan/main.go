package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"time"

	"radplan/internal/phantom"
	"radplan/pkg/beam"
	"radplan/pkg/config"
	"radplan/pkg/dose"
	"radplan/pkg/grid"
	"radplan/pkg/objective"
	"radplan/pkg/optimize"
	"radplan/pkg/visualization"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "radplan.yaml", "Configuration file (YAML)")
	algorithm := flag.String("algorithm", "", "Dose algorithm: convolution, pencil, or aaa (overrides config)")
	method := flag.String("optimizer", "", "Weight optimizer: gradient or genetic (overrides config)")
	prescribed := flag.Float64("dose", 2.0, "Prescribed dose in Gy")
	beams := flag.Int("beams", 4, "Number of equally spaced beams")
	dim := flag.Int("dim", 32, "Phantom edge length in voxels")
	spacing := flag.Float64("spacing", 2.5, "Voxel spacing in mm")
	exportSlices := flag.Bool("export-slices", false, "Export dose slices along all axes")
	slicesDir := flag.String("slices-dir", "dose_slices", "Directory to save exported dose slices")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *algorithm != "" {
		cfg.Dose.Algorithm = *algorithm
	}
	if *method != "" {
		cfg.Optimize.Method = *method
	}

	fmt.Println("================================")
	fmt.Println("RADPLAN: DOSE CALCULATION AND BEAM WEIGHT OPTIMIZATION")
	fmt.Println("================================")

	// Build the demonstration phantom: a water cube with a central target
	// and a nearby organ at risk.
	sp := grid.Spacing{X: *spacing, Y: *spacing, Z: *spacing}
	ct := phantom.WaterCT(*dim, *dim, *dim, sp)
	center := phantom.Center(*dim, *dim, *dim, sp)
	oarCenter := center
	oarCenter.X += float64(*dim) * sp.X / 4

	masks := map[string]*grid.Mask{
		"PTV": phantom.SphereMask(*dim, *dim, *dim, sp, center, 20),
		"OAR": phantom.SphereMask(*dim, *dim, *dim, sp, oarCenter, 12),
	}

	plan := &beam.Plan{
		ID:             "demo",
		Technique:      "3DCRT",
		PrescribedDose: *prescribed,
		Fractions:      1,
	}
	for i := 0; i < *beams; i++ {
		plan.Beams = append(plan.Beams, &beam.Beam{
			ID:          fmt.Sprintf("b%d", i+1),
			Type:        beam.Photon,
			Energy:      6,
			GantryAngle: 360 * float64(i) / float64(*beams),
			Isocenter:   center,
			SSD:         900,
		})
	}

	params := doseParams(cfg)
	fmt.Printf("\nAlgorithm: %s, %d beams, %dx%dx%d phantom at %.1f mm\n",
		cfg.Dose.Algorithm, len(plan.Beams), *dim, *dim, *dim, *spacing)

	// Compute one unnormalized dose distribution per beam so the
	// optimizer can reweight them without recomputing.
	perBeamParams := params
	perBeamParams.Normalization = dose.NormNone
	alg, err := dose.New(cfg.Dose.Algorithm, perBeamParams)
	if err != nil {
		log.Fatalf("Failed to create dose algorithm: %v", err)
	}

	fmt.Println("Computing per-beam dose distributions...")
	startTime := time.Now()

	beamDose := make([]*grid.Grid, len(plan.Beams))
	for i, b := range plan.Beams {
		single := &beam.Plan{
			ID:             plan.ID,
			Technique:      plan.Technique,
			PrescribedDose: plan.PrescribedDose,
			Fractions:      plan.Fractions,
			Beams:          []*beam.Beam{b},
		}
		d, rep, err := alg.CalculateDose(ct, masks, single)
		if err != nil {
			log.Fatalf("Dose calculation failed for beam %s: %v", b.ID, err)
		}
		for _, c := range rep.Conditions {
			log.Printf("Warning: beam %s: %s", b.ID, c)
		}
		beamDose[i] = d
	}
	doseTime := time.Since(startTime)
	fmt.Printf("Dose calculation completed in %.2f seconds\n", doseTime.Seconds())

	// Optimize beam weights against the clinical goals.
	specs := []objective.Spec{
		{Structure: "PTV", Kind: objective.MinDose, TargetDose: 0.95 * *prescribed, Weight: 100},
		{Structure: "PTV", Kind: objective.MaxDose, TargetDose: 1.07 * *prescribed, Weight: 50},
		{Structure: "PTV", Kind: objective.Uniformity, Weight: 10},
		{Structure: "OAR", Kind: objective.MeanDose, TargetDose: 0.3 * *prescribed, Weight: 20},
	}
	problem := &optimize.Problem{
		BeamDose:  beamDose,
		Specs:     specs,
		Evaluator: objective.NewEvaluator(masks, *prescribed),
	}

	opt, err := buildOptimizer(cfg)
	if err != nil {
		log.Fatalf("Failed to create optimizer: %v", err)
	}

	fmt.Printf("\nOptimizing beam weights (%s)...\n", cfg.Optimize.Method)
	startTime = time.Now()
	result, err := opt.Optimize(problem)
	if err != nil {
		log.Fatalf("Optimization failed: %v", err)
	}
	optTime := time.Since(startTime)

	fmt.Printf("Optimization completed in %.2f seconds\n", optTime.Seconds())
	fmt.Printf("Iterations: %d, converged: %v\n", result.Iterations, result.Converged)
	fmt.Printf("Final objective score: %.6f\n", result.Score)
	for i, w := range result.Weights {
		fmt.Printf("- %s: weight %.4f\n", plan.Beams[i].ID, w)
	}
	if n := len(result.History); n > 1 {
		fmt.Printf("Score improved from %.6f to %.6f\n", result.History[0], result.History[n-1])
	}

	// Combine with the optimized weights and scale to the prescription.
	total := problem.Combine(result.Weights)
	norm := dose.NormByMax
	if cfg.Dose.Normalization == "mean" {
		norm = dose.NormByMean
	}
	if scale, ok := dose.Normalize(total, masks["PTV"], plan.PrescribedDose, norm); ok {
		fmt.Printf("\nNormalized to %.2f Gy (scale %.4f)\n", plan.PrescribedDose, scale)
	} else {
		log.Printf("Warning: normalization skipped, reporting raw dose")
	}

	printPlanSummary(total, masks, plan)

	// Export dose slices if requested
	if *exportSlices {
		fmt.Println("\nExporting dose slices along all axes...")
		viewer := visualization.NewViewer(total)
		for _, axis := range []string{"x", "y", "z"} {
			axisDir := filepath.Join(*slicesDir, axis)
			fmt.Printf("Saving %s-axis slices to: %s\n", axis, axisDir)
			if err := viewer.SaveSliceSequence(axis, axisDir); err != nil {
				log.Printf("Warning: failed to save %s-axis slices: %v", axis, err)
			}
		}
		fmt.Println("Slice export completed!")
	}
}

func doseParams(cfg *config.Config) dose.Params {
	p := dose.DefaultParams()
	p.FieldWidth = cfg.Dose.FieldWidth
	p.FieldHeight = cfg.Dose.FieldHeight
	p.SourceDistance = cfg.Dose.SourceDistance
	p.PencilsX = cfg.Dose.PencilsX
	p.PencilsY = cfg.Dose.PencilsY
	p.HeterogeneityCorrection = cfg.Dose.HeterogeneityCorrection
	p.Workers = cfg.Dose.NumCores
	p.ReferenceStructure = cfg.Dose.ReferenceStructure
	switch cfg.Dose.Normalization {
	case "mean":
		p.Normalization = dose.NormByMean
	case "none":
		p.Normalization = dose.NormNone
	default:
		p.Normalization = dose.NormByMax
	}
	return p
}

func buildOptimizer(cfg *config.Config) (optimize.Optimizer, error) {
	switch cfg.Optimize.Method {
	case "gradient", "":
		gd := optimize.NewGradientDescent()
		gd.LearningRate = cfg.Optimize.LearningRate
		gd.MaxIterations = cfg.Optimize.MaxIterations
		gd.Tolerance = cfg.Optimize.Tolerance
		return gd, nil
	case "genetic":
		ga := optimize.NewGenetic(cfg.Optimize.Seed)
		ga.PopulationSize = cfg.Optimize.PopulationSize
		ga.MaxGenerations = cfg.Optimize.MaxGenerations
		ga.EliteFraction = cfg.Optimize.EliteFraction
		ga.TournamentSize = cfg.Optimize.TournamentSize
		ga.CrossoverRate = cfg.Optimize.CrossoverRate
		ga.MutationRate = cfg.Optimize.MutationRate
		ga.Tolerance = cfg.Optimize.Tolerance
		return ga, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", cfg.Optimize.Method)
	}
}

func printPlanSummary(total *grid.Grid, masks map[string]*grid.Mask, plan *beam.Plan) {
	fmt.Println("\nPlan summary:")
	fmt.Println("=============")
	fmt.Printf("Prescription: %.2f Gy in %d fraction(s), %.2f Gy per fraction\n",
		plan.PrescribedDose, plan.Fractions, plan.FractionDose())

	for _, name := range []string{"PTV", "OAR"} {
		mask := masks[name]
		max, ok := total.MaxIn(mask)
		if !ok {
			fmt.Printf("- %s: no dose\n", name)
			continue
		}
		mean, _ := total.MeanIn(mask)
		min := math.Inf(1)
		for _, v := range total.ValuesIn(mask) {
			if v < min {
				min = v
			}
		}
		fmt.Printf("- %s: min %.3f Gy, mean %.3f Gy, max %.3f Gy\n", name, min, mean, max)
	}
}
