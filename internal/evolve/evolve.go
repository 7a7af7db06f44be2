// Package evolve provides population-based continuous minimization.
//
// The Minimizer interface is what the search layer depends on; DE is the
// bundled differential evolution implementation.
package evolve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrInvalidProblem is returned for malformed bounds or initial populations.
var ErrInvalidProblem = errors.New("invalid minimization problem")

// Bound is the closed interval a dimension is searched over.
type Bound struct {
	Lo float64
	Hi float64
}

// Clip returns v moved into the bound.
func (b Bound) Clip(v float64) float64 {
	return math.Min(b.Hi, math.Max(b.Lo, v))
}

// Contains reports whether v lies inside the bound.
func (b Bound) Contains(v float64) bool {
	return v >= b.Lo && v <= b.Hi
}

// Objective maps a parameter vector to a score. Errors count as failures
// and the vector is scored +Inf.
type Objective func(x []float64) (float64, error)

// Problem describes one minimization.
type Problem struct {
	Objective Objective
	Bounds    []Bound
	// Init optionally supplies the initial population. Rows are clipped into Bounds.
	Init [][]float64
}

// Validate checks the bounds and the shape of Init.
func (p Problem) Validate() error {
	if p.Objective == nil {
		return fmt.Errorf("%w: nil objective", ErrInvalidProblem)
	}
	if len(p.Bounds) == 0 {
		return fmt.Errorf("%w: no dimensions", ErrInvalidProblem)
	}
	for i, b := range p.Bounds {
		if math.IsNaN(b.Lo) || math.IsNaN(b.Hi) || b.Hi < b.Lo {
			return fmt.Errorf("%w: dimension %d bound [%g, %g]", ErrInvalidProblem, i, b.Lo, b.Hi)
		}
	}
	if len(p.Init) > 0 && len(p.Init) < 5 {
		return fmt.Errorf("%w: initial population needs at least 5 members, got %d", ErrInvalidProblem, len(p.Init))
	}
	for i, row := range p.Init {
		if len(row) != len(p.Bounds) {
			return fmt.Errorf("%w: initial member %d has %d dimensions, want %d", ErrInvalidProblem, i, len(row), len(p.Bounds))
		}
	}
	return nil
}

// StopReason explains why a minimization ended.
type StopReason string

const (
	StopConverged        StopReason = "converged"
	StopGenerationBudget StopReason = "generation budget"
	StopEvaluationBudget StopReason = "evaluation budget"
	StopTimeLimit        StopReason = "time limit"
	StopObserver         StopReason = "stopped by observer"
	StopCancelled        StopReason = "cancelled"
)

// Generation is the progress report passed to an Observer after each generation.
type Generation struct {
	Index       int
	BestX       []float64
	BestF       float64
	Convergence float64 // Population score spread relative to the tolerance; <= 1 means converged
	Evaluations int
	Failures    int
}

// Observer receives per-generation progress. Returning false stops the run
// before the next generation starts.
type Observer func(Generation) bool

// Solution is the best vector found.
type Solution struct {
	X           []float64
	F           float64
	Generations int
	Evaluations int
	Failures    int
	Converged   bool
	Polished    bool
	Reason      StopReason
}

// Minimizer is a continuous global optimizer.
type Minimizer interface {
	Minimize(ctx context.Context, p Problem, observe Observer) (Solution, error)
}

// PopulationSize returns the population used for dims dimensions with the
// given per-dimension multiplier.
func PopulationSize(multiplier, dims int) int {
	return max(5, multiplier*dims)
}

// PerturbedPopulation builds a population around seed. The first member is
// the seed itself; every other member multiplies each dimension by
// 1 + N(0, sigma).
func PerturbedPopulation(seed []float64, size int, sigma float64, rng *rand.Rand) [][]float64 {
	pop := make([][]float64, size)
	for i := range pop {
		member := make([]float64, len(seed))
		for j, v := range seed {
			if i == 0 {
				member[j] = v
				continue
			}
			member[j] = v * (1 + rng.NormFloat64()*sigma)
		}
		pop[i] = member
	}
	return pop
}

// LatinHypercube draws size members stratified along every dimension.
func LatinHypercube(bounds []Bound, size int, rng *rand.Rand) [][]float64 {
	pop := make([][]float64, size)
	for i := range pop {
		pop[i] = make([]float64, len(bounds))
	}
	for j, b := range bounds {
		perm := rng.Perm(size)
		for i := range pop {
			u := (float64(perm[i]) + rng.Float64()) / float64(size)
			pop[i][j] = b.Lo + u*(b.Hi-b.Lo)
		}
	}
	return pop
}
