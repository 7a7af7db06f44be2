package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/lawnchairsociety/rpsbalance/internal/evolve"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
)

const defaultBatchSize = 4096

func newPCG(seed, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, stream))
}

// Sample evaluates integer candidate triples in parallel batches and keeps
// those that satisfy the stat ordering and form a cycle inside the round
// window. Candidate i draws its stats and its speed tie-breaks from its own
// random stream, so results depend only on the seed.
func Sample(ctx context.Context, req Request) (Result, error) {
	if req.Mode == "" {
		req.Mode = ModeSampling
	}
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.Mode != ModeSampling {
		return Result{}, fmt.Errorf("%w: Sample called with mode %q", ErrInvalidConfig, req.Mode)
	}

	start := time.Now()
	layout := req.Layout()
	ranges := req.radices()
	cfg := req.Sampling
	workers := workerCount(req.Workers)
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	total := cfg.Candidates
	if cfg.Strategy == StrategyExhaustive {
		total, _ = spaceSize(ranges)
	}

	logger.Info("Sampling started",
		"strategy", cfg.Strategy, "candidates", total, "workers", workers, "seed", req.Seed)

	candidate := func(i int, rng *rand.Rand) []float64 {
		x := make([]float64, len(ranges))
		if cfg.Strategy == StrategyExhaustive {
			rem := i
			for d := len(ranges) - 1; d >= 0; d-- {
				n := ranges[d].Size()
				x[d] = float64(ranges[d].Min + rem%n)
				rem /= n
			}
			return x
		}
		for d, r := range ranges {
			x[d] = float64(r.Min + rng.IntN(r.Size()))
		}
		return x
	}

	res := Result{Mode: ModeSampling, StopReason: StopExhausted}
	batch := 0
	for offset := 0; offset < total; offset += batchSize {
		want := min(batchSize, total-offset)
		n := want
		if req.MaxEvaluations > 0 {
			n = min(n, req.MaxEvaluations-res.Evaluated)
		}
		if n <= 0 {
			res.StopReason = evolve.StopEvaluationBudget
			break
		}
		if reason, stop := safetyStop(ctx, req, start, res.Evaluated, n); stop {
			res.StopReason = reason
			break
		}
		batch++

		outcomes := parallel(workers, n, func(j int) (*Discovery, error) {
			i := offset + j
			rng := newPCG(req.Seed, uint64(i))
			t, err := layout.Decode(candidate(i, rng))
			if err != nil {
				return nil, err
			}
			ev := req.Evaluator.WithRand(rng)
			bd := ev.Breakdown(t.Offense, t.Balanced, t.Tank)
			if !accepted(t, bd) {
				return nil, nil
			}
			return &Discovery{Triple: t, Score: bd.Total(), Rounds: bd.Report.Rounds}, nil
		})

		res.Evaluated += n
		for _, o := range outcomes {
			if o.failed {
				res.Failures++
				continue
			}
			if o.value == nil {
				continue
			}
			res.Discoveries = append(res.Discoveries, *o.value)
			if res.Best == nil || o.value.Score < res.Best.Score {
				d := *o.value
				res.Best = &d
			}
		}

		logger.Debug("Sampling batch complete",
			"batch", batch, "evaluated", res.Evaluated, "discovered", len(res.Discoveries), "failures", res.Failures)

		if req.Progress != nil {
			p := Progress{
				Mode:       ModeSampling,
				Step:       batch,
				Evaluated:  res.Evaluated,
				Failures:   res.Failures,
				Discovered: len(res.Discoveries),
			}
			if res.Best != nil {
				p.BestScore = res.Best.Score
			}
			if !req.Progress(p) {
				if offset+n < total {
					res.StopReason = evolve.StopObserver
				}
				break
			}
		}

		// A batch cut short by the evaluation ceiling is the last one.
		if n < want {
			res.StopReason = evolve.StopEvaluationBudget
			break
		}
	}

	res.Elapsed = time.Since(start)
	if res.Failures > 0 {
		logger.Warning("Sampling had failed candidates", "failures", res.Failures)
	}
	logger.Info("Sampling finished",
		"evaluated", res.Evaluated, "discovered", len(res.Discoveries), "reason", res.StopReason, "elapsed", res.Elapsed)
	return res, nil
}
