package evolve

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/optimize"
)

const defaultPolishEvaluations = 2000

// DE is differential evolution with the best/1/bin strategy and deferred
// updating: a whole trial population is evaluated in parallel before any
// member is replaced.
type DE struct {
	// PopSize is the population multiplier; the population is PopSize*dims (at least 5).
	PopSize        int
	MaxGenerations int
	// Convergence: stddev(scores) <= Atol + Tol*|mean(scores)|.
	Tol  float64
	Atol float64
	// Mutation is dithered uniformly in [MutationMin, MutationMax) once per generation.
	MutationMin   float64
	MutationMax   float64
	Recombination float64
	Workers       int
	Seed          uint64
	// Polish refines the final best vector with Nelder-Mead.
	Polish            bool
	PolishEvaluations int
	// Safety nets checked between generations. Zero disables them.
	// The initial population is always evaluated in full, so a ceiling
	// below the population size is overshot by that first generation only.
	// Generations and the polish never cross it.
	MaxEvaluations int
	TimeLimit      time.Duration
}

// NewDE returns a DE with the usual defaults.
func NewDE(seed uint64) *DE {
	return &DE{
		PopSize:           15,
		MaxGenerations:    100,
		Tol:               1e-5,
		MutationMin:       0.5,
		MutationMax:       1.5,
		Recombination:     0.9,
		Seed:              seed,
		PolishEvaluations: defaultPolishEvaluations,
	}
}

// Minimize runs the evolution. Cancellation and budgets are only checked
// between generations; the best member found so far is always returned.
func (d *DE) Minimize(ctx context.Context, p Problem, observe Observer) (Solution, error) {
	if err := p.Validate(); err != nil {
		return Solution{}, err
	}
	if d.MaxGenerations < 0 {
		return Solution{}, fmt.Errorf("%w: negative generation budget %d", ErrInvalidProblem, d.MaxGenerations)
	}

	start := time.Now()
	rng := rand.New(rand.NewPCG(d.Seed, 0x9e3779b97f4a7c15))
	dims := len(p.Bounds)

	var pop [][]float64
	if len(p.Init) > 0 {
		pop = make([][]float64, len(p.Init))
		for i, row := range p.Init {
			pop[i] = make([]float64, dims)
			for j, v := range row {
				pop[i][j] = p.Bounds[j].Clip(v)
			}
		}
	} else {
		pop = LatinHypercube(p.Bounds, PopulationSize(d.PopSize, dims), rng)
	}
	size := len(pop)

	ev := &evaluator{objective: p.Objective, workers: d.workers()}
	scores := ev.evaluate(pop)

	best := argmin(scores)
	sol := Solution{Reason: StopGenerationBudget}

	for gen := 1; gen <= d.MaxGenerations; gen++ {
		if reason, stop := d.shouldStop(ctx, start, ev.evaluations, size); stop {
			sol.Reason = reason
			break
		}

		mutation := d.MutationMin + rng.Float64()*(d.MutationMax-d.MutationMin)
		trials := make([][]float64, size)
		for i := range pop {
			trials[i] = d.trial(pop, i, best, mutation, p.Bounds, rng)
		}

		trialScores := ev.evaluate(trials)
		for i := range pop {
			if trialScores[i] <= scores[i] {
				pop[i] = trials[i]
				scores[i] = trialScores[i]
			}
		}
		best = argmin(scores)
		sol.Generations = gen

		conv, converged := d.convergence(scores)
		if observe != nil {
			keepGoing := observe(Generation{
				Index:       gen,
				BestX:       append([]float64(nil), pop[best]...),
				BestF:       scores[best],
				Convergence: conv,
				Evaluations: ev.evaluations,
				Failures:    ev.failures,
			})
			if !keepGoing {
				sol.Reason = StopObserver
				break
			}
		}
		if converged {
			sol.Converged = true
			sol.Reason = StopConverged
			break
		}
	}

	sol.X = append([]float64(nil), pop[best]...)
	sol.F = scores[best]

	if budget := d.polishBudget(ev.evaluations); d.Polish && budget > 0 && sol.Generations > 0 && !math.IsInf(sol.F, 1) {
		if x, f, ok := d.polish(p, sol.X, sol.F, budget, ev); ok {
			sol.X, sol.F, sol.Polished = x, f, true
		}
	}

	sol.Evaluations = ev.evaluations
	sol.Failures = ev.failures
	return sol, nil
}

func (d *DE) workers() int {
	if d.Workers > 0 {
		return d.Workers
	}
	return runtime.GOMAXPROCS(0)
}

func (d *DE) shouldStop(ctx context.Context, start time.Time, evaluations, size int) (StopReason, bool) {
	if ctx.Err() != nil {
		return StopCancelled, true
	}
	if d.TimeLimit > 0 && time.Since(start) >= d.TimeLimit {
		return StopTimeLimit, true
	}
	if d.MaxEvaluations > 0 && evaluations+size > d.MaxEvaluations {
		return StopEvaluationBudget, true
	}
	return "", false
}

// trial builds the best/1/bin trial vector for member i.
func (d *DE) trial(pop [][]float64, i, best int, mutation float64, bounds []Bound, rng *rand.Rand) []float64 {
	r1, r2 := pickTwo(len(pop), i, rng)
	dims := len(bounds)
	out := make([]float64, dims)
	forced := rng.IntN(dims)
	for j := 0; j < dims; j++ {
		if j == forced || rng.Float64() < d.Recombination {
			out[j] = pop[best][j] + mutation*(pop[r1][j]-pop[r2][j])
		} else {
			out[j] = pop[i][j]
		}
		if !bounds[j].Contains(out[j]) {
			out[j] = bounds[j].Lo + rng.Float64()*(bounds[j].Hi-bounds[j].Lo)
		}
	}
	return out
}

// convergence returns the spread ratio and whether it is within tolerance.
// Populations containing failed (+Inf) members never converge.
func (d *DE) convergence(scores []float64) (float64, bool) {
	var mean float64
	for _, s := range scores {
		if math.IsInf(s, 0) || math.IsNaN(s) {
			return math.Inf(1), false
		}
		mean += s
	}
	mean /= float64(len(scores))

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	std := math.Sqrt(variance / float64(len(scores)))

	limit := d.Atol + d.Tol*math.Abs(mean)
	if limit == 0 {
		if std == 0 {
			return 0, true
		}
		return math.Inf(1), false
	}
	return std / limit, std <= limit
}

// polishBudget is the number of Nelder-Mead evaluations allowed after
// evaluations have been spent. One evaluation is held back to re-score the
// clipped polish result.
func (d *DE) polishBudget(evaluations int) int {
	budget := d.PolishEvaluations
	if budget <= 0 {
		budget = defaultPolishEvaluations
	}
	if d.MaxEvaluations > 0 {
		budget = min(budget, d.MaxEvaluations-evaluations-1)
	}
	return budget
}

// polish runs Nelder-Mead from x0, clipping every trial point into bounds.
func (d *DE) polish(p Problem, x0 []float64, f0 float64, budget int, ev *evaluator) ([]float64, float64, bool) {
	clip := func(x []float64) []float64 {
		out := make([]float64, len(x))
		for j, v := range x {
			out[j] = p.Bounds[j].Clip(v)
		}
		return out
	}

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			f, ok := ev.one(clip(x))
			if !ok {
				return math.Inf(1)
			}
			return f
		},
	}
	settings := &optimize.Settings{FuncEvaluations: budget}
	// Budget exhaustion is reported as an error alongside a usable result.
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})
	if result == nil || (err != nil && len(result.X) == 0) {
		return nil, 0, false
	}

	x := clip(result.X)
	f, ok := ev.one(x)
	if !ok || f >= f0 {
		return nil, 0, false
	}
	return x, f, true
}

// evaluator scores populations across a fixed-size goroutine pool. Counters
// are only touched from the calling goroutine, after the pool has joined.
type evaluator struct {
	objective   Objective
	workers     int
	evaluations int
	failures    int
}

func (e *evaluator) evaluate(pop [][]float64) []float64 {
	scores := make([]float64, len(pop))
	failed := make([]bool, len(pop))

	jobs := make(chan int, len(pop))
	for i := range pop {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < min(e.workers, len(pop)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				scores[i], failed[i] = safeCall(e.objective, pop[i])
			}
		}()
	}
	wg.Wait()

	e.evaluations += len(pop)
	for _, f := range failed {
		if f {
			e.failures++
		}
	}
	return scores
}

func (e *evaluator) one(x []float64) (float64, bool) {
	f, failed := safeCall(e.objective, x)
	e.evaluations++
	if failed {
		e.failures++
	}
	return f, !failed
}

// safeCall evaluates x, converting errors and panics into a failed +Inf score.
func safeCall(obj Objective, x []float64) (score float64, failed bool) {
	defer func() {
		if r := recover(); r != nil {
			score, failed = math.Inf(1), true
		}
	}()
	f, err := obj(x)
	if err != nil || math.IsNaN(f) {
		return math.Inf(1), true
	}
	return f, false
}

func argmin(scores []float64) int {
	best := 0
	for i, s := range scores {
		if s < scores[best] {
			best = i
		}
	}
	return best
}

// pickTwo returns two distinct indices in [0, n) that differ from exclude.
func pickTwo(n, exclude int, rng *rand.Rand) (int, int) {
	r1 := rng.IntN(n - 1)
	if r1 >= exclude {
		r1++
	}
	r2 := rng.IntN(n - 2)
	lo, hi := min(r1, exclude), max(r1, exclude)
	if r2 >= lo {
		r2++
	}
	if r2 >= hi {
		r2++
	}
	return r1, r2
}
