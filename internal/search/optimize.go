package search

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/lawnchairsociety/rpsbalance/internal/evolve"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
)

// Optimize minimizes the fitness score over continuous parameter vectors.
// With a seed triple the initial population is built by perturbing the seed;
// otherwise it is spread over the bounds. A zero generation budget with a
// seed returns the seed and its score without evolving anything.
func Optimize(ctx context.Context, req Request) (Result, error) {
	if req.Mode == "" {
		req.Mode = ModeOptimization
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.Mode != ModeOptimization {
		return Result{}, fmt.Errorf("%w: Optimize called with mode %q", ErrInvalidConfig, req.Mode)
	}

	start := time.Now()
	layout := req.Layout()
	cfg := req.Optimization
	bounds := layout.Bounds(req.bounds())

	objective := func(x []float64) (float64, error) {
		t, err := layout.Decode(x)
		if err != nil {
			return 0, err
		}
		ev := req.Evaluator
		if layout.HasSpeed {
			ev = ev.WithRand(vectorRand(req.Seed, x))
		}
		return ev.Evaluate(t.Offense, t.Balanced, t.Tank), nil
	}

	res := Result{Mode: ModeOptimization}

	if req.SeedTriple != nil && cfg.Generations == 0 {
		x := layout.Encode(*req.SeedTriple)
		score, err := objective(x)
		res.Evaluated = 1
		if err != nil {
			res.Failures = 1
		} else {
			res.Best, res.Discoveries = discovery(req, layout, x, score)
		}
		res.StopReason = evolve.StopGenerationBudget
		res.Elapsed = time.Since(start)
		logger.Info("Seed replayed without evolution", "score", score)
		return res, nil
	}

	problem := evolve.Problem{Objective: objective, Bounds: bounds}
	if req.SeedTriple != nil {
		rng := newPCG(req.Seed, 1)
		size := evolve.PopulationSize(cfg.PopSize, layout.Dims())
		problem.Init = evolve.PerturbedPopulation(layout.Encode(*req.SeedTriple), size, cfg.Sigma, rng)
	}

	minimizer := req.Minimizer
	if minimizer == nil {
		minimizer = &evolve.DE{
			PopSize:           cfg.PopSize,
			MaxGenerations:    cfg.Generations,
			Tol:               cfg.Tol,
			Atol:              cfg.Atol,
			MutationMin:       0.5,
			MutationMax:       1.5,
			Recombination:     0.9,
			Workers:           workerCount(req.Workers),
			Seed:              req.Seed,
			Polish:            cfg.Polish,
			PolishEvaluations: cfg.PolishEvaluations,
			MaxEvaluations:    req.MaxEvaluations,
			TimeLimit:         req.TimeLimit,
		}
	}

	logger.Info("Optimization started",
		"dims", layout.Dims(), "generations", cfg.Generations, "seeded", req.SeedTriple != nil, "seed", req.Seed)

	observe := func(g evolve.Generation) bool {
		logger.Debug("Generation complete",
			"generation", g.Index, "best", g.BestF, "convergence", g.Convergence, "evaluations", g.Evaluations)
		if req.Progress == nil {
			return true
		}
		return req.Progress(Progress{
			Mode:        ModeOptimization,
			Step:        g.Index,
			Evaluated:   g.Evaluations,
			Failures:    g.Failures,
			BestScore:   g.BestF,
			Convergence: g.Convergence,
		})
	}

	sol, err := minimizer.Minimize(ctx, problem, observe)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	res.Evaluated = sol.Evaluations
	res.Failures = sol.Failures
	res.Generations = sol.Generations
	res.StopReason = sol.Reason
	if !math.IsInf(sol.F, 1) {
		res.Best, res.Discoveries = discovery(req, layout, sol.X, sol.F)
	}
	res.Elapsed = time.Since(start)

	if res.Failures > 0 {
		logger.Warning("Optimization had failed evaluations", "failures", res.Failures)
	}
	logger.Info("Optimization finished",
		"best", sol.F, "generations", sol.Generations, "evaluations", sol.Evaluations,
		"reason", sol.Reason, "polished", sol.Polished, "elapsed", res.Elapsed)
	return res, nil
}

// discovery decodes x and, when the triple passes the discovery gate,
// also returns it as the single discovered triple.
func discovery(req Request, layout Layout, x []float64, score float64) (*Discovery, []Discovery) {
	t, err := layout.Decode(x)
	if err != nil {
		return nil, nil
	}
	ev := req.Evaluator
	if layout.HasSpeed {
		ev = ev.WithRand(vectorRand(req.Seed, x))
	}
	bd := ev.Breakdown(t.Offense, t.Balanced, t.Tank)
	d := &Discovery{Triple: t, Score: score, Rounds: bd.Report.Rounds}
	if accepted(t, bd) {
		return d, []Discovery{*d}
	}
	return d, nil
}
