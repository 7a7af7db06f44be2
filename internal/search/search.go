// Package search explores the stat space for triples that form a balanced
// dominance cycle, either by parallel sampling of integer candidates or by
// population-based continuous minimization of the fitness score.
package search

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/combat"
	"github.com/lawnchairsociety/rpsbalance/internal/evolve"
	"github.com/lawnchairsociety/rpsbalance/internal/fitness"
)

// StopExhausted ends a sampling run that evaluated every candidate.
const StopExhausted evolve.StopReason = "candidates exhausted"

// Discovery is a triple together with its fitness score and battle lengths.
type Discovery struct {
	Triple archetype.Triple
	Score  float64
	Rounds [3]int
}

// Result is the outcome of a search.
type Result struct {
	Mode Mode
	// Discoveries holds every triple that passed the ordering, cycle and
	// window checks, in evaluation order.
	Discoveries []Discovery
	// Best is the lowest scoring discovery when sampling, and the best
	// vector found when optimizing. Nil when there is none.
	Best        *Discovery
	Evaluated   int
	Failures    int
	Generations int
	StopReason  evolve.StopReason
	Elapsed     time.Duration
}

// Run validates the request and dispatches to the selected strategy.
func Run(ctx context.Context, req Request) (Result, error) {
	switch req.Mode {
	case ModeOptimization:
		return Optimize(ctx, req)
	default:
		return Sample(ctx, req)
	}
}

// accepted is the hard gate for reporting a triple as discovered.
func accepted(t archetype.Triple, bd fitness.Breakdown) bool {
	return archetype.OrderingHolds(t.Offense, t.Balanced, t.Tank) && bd.Report.Valid()
}

func workerCount(n int) int {
	if n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}

// safetyStop checks cancellation and the evaluation and time ceilings
// before a batch of n evaluations starts.
func safetyStop(ctx context.Context, req Request, start time.Time, evaluated, n int) (evolve.StopReason, bool) {
	if ctx.Err() != nil {
		return evolve.StopCancelled, true
	}
	if req.TimeLimit > 0 && time.Since(start) >= req.TimeLimit {
		return evolve.StopTimeLimit, true
	}
	if req.MaxEvaluations > 0 && evaluated+n > req.MaxEvaluations {
		return evolve.StopEvaluationBudget, true
	}
	return "", false
}

// outcome is one worker's result slot.
type outcome[T any] struct {
	value  T
	failed bool
}

// parallel evaluates fn for every index in [0, n) on a fixed pool of
// workers. Each call writes only its own slot and a panic marks the slot
// failed. The returned slice is complete when parallel returns.
func parallel[T any](workers, n int, fn func(i int) (T, error)) []outcome[T] {
	out := make([]outcome[T], n)
	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < min(workers, n); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = call(fn, i)
			}
		}()
	}
	wg.Wait()
	return out
}

func call[T any](fn func(i int) (T, error), i int) (o outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			o = outcome[T]{failed: true}
		}
	}()
	v, err := fn(i)
	if err != nil {
		return outcome[T]{failed: true}
	}
	return outcome[T]{value: v}
}

// vectorRand derives a tie-break source from the parameter values so that
// re-evaluating the same vector reproduces the same score.
func vectorRand(seed uint64, x []float64) combat.Rand {
	h := uint64(14695981039346656037)
	for _, v := range x {
		h ^= math.Float64bits(v)
		h *= 1099511628211
	}
	return newPCG(seed, h)
}
