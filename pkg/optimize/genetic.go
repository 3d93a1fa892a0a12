package optimize

import (
	"math/rand"
	"sort"
)

// Genetic minimizes the objective with an elitist genetic algorithm:
// tournament selection, single-point crossover, and per-gene uniform jitter
// mutation on the weight simplex.
type Genetic struct {
	PopulationSize int
	MaxGenerations int
	// MinGenerations guards the tolerance check so a lucky first
	// generation does not end the search immediately.
	MinGenerations int
	EliteFraction  float64
	TournamentSize int
	CrossoverRate  float64
	MutationRate   float64
	MutationScale  float64
	Tolerance      float64

	Rand *rand.Rand
}

// NewGenetic returns a genetic optimizer with standard settings and a
// seeded generator, so runs are reproducible.
func NewGenetic(seed int64) *Genetic {
	return &Genetic{
		PopulationSize: 50,
		MaxGenerations: 100,
		MinGenerations: 10,
		EliteFraction:  0.1,
		TournamentSize: 3,
		CrossoverRate:  0.8,
		MutationRate:   0.1,
		MutationScale:  0.2,
		Tolerance:      1e-4,
		Rand:           rand.New(rand.NewSource(seed)),
	}
}

type individual struct {
	weights Weights
	fitness float64
}

func (g *Genetic) Optimize(p *Problem) (*Result, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	n := len(p.BeamDose)

	pop := make([]individual, g.PopulationSize)
	for i := range pop {
		w := make(Weights, n)
		for j := range w {
			w[j] = g.Rand.Float64()
		}
		w.Normalize()
		pop[i] = individual{weights: w, fitness: p.Score(w)}
	}

	elites := int(float64(g.PopulationSize)*g.EliteFraction + 0.5)
	if elites < 1 {
		elites = 1
	}

	res := &Result{}
	best := individual{fitness: pop[0].fitness + 1}

	for gen := 0; gen < g.MaxGenerations; gen++ {
		sort.Slice(pop, func(i, j int) bool { return pop[i].fitness < pop[j].fitness })

		if pop[0].fitness < best.fitness {
			best = individual{weights: pop[0].weights.Clone(), fitness: pop[0].fitness}
		}
		res.History = append(res.History, best.fitness)
		res.Iterations = gen + 1

		if gen >= g.MinGenerations && best.fitness < g.Tolerance {
			res.Converged = true
			break
		}

		next := make([]individual, 0, g.PopulationSize)
		for i := 0; i < elites; i++ {
			next = append(next, individual{weights: pop[i].weights.Clone(), fitness: pop[i].fitness})
		}
		for len(next) < g.PopulationSize {
			child := g.offspring(pop, n)
			next = append(next, individual{weights: child, fitness: p.Score(child)})
		}
		pop = next
	}

	res.Weights = best.weights
	res.Score = best.fitness
	return res, nil
}

func (g *Genetic) offspring(pop []individual, n int) Weights {
	a := g.tournament(pop)
	child := a.weights.Clone()

	if g.Rand.Float64() < g.CrossoverRate && n > 1 {
		b := g.tournament(pop)
		cut := 1 + g.Rand.Intn(n-1)
		copy(child[cut:], b.weights[cut:])
	}

	for i := range child {
		if g.Rand.Float64() < g.MutationRate {
			child[i] += (g.Rand.Float64()*2 - 1) * g.MutationScale
			if child[i] < 0 {
				child[i] = 0
			} else if child[i] > 1 {
				child[i] = 1
			}
		}
	}
	child.Normalize()
	return child
}

// tournament returns the fittest of k randomly drawn individuals.
func (g *Genetic) tournament(pop []individual) individual {
	k := g.TournamentSize
	if k < 1 {
		k = 1
	}
	winner := pop[g.Rand.Intn(len(pop))]
	for i := 1; i < k; i++ {
		c := pop[g.Rand.Intn(len(pop))]
		if c.fitness < winner.fitness {
			winner = c
		}
	}
	return winner
}
