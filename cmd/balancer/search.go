package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/config"
	"github.com/lawnchairsociety/rpsbalance/internal/database"
	"github.com/lawnchairsociety/rpsbalance/internal/export"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
	"github.com/lawnchairsociety/rpsbalance/internal/records"
	"github.com/lawnchairsociety/rpsbalance/internal/search"
)

// maxExportBattles caps how many triples get a battle log sheet.
const maxExportBattles = 25

func runSearch(mode string, args []string) error {
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	c := registerCommon(fs)
	seed := fs.Uint64("seed", 0, "Random seed (overrides search.seed)")
	workers := fs.Int("workers", 0, "Worker goroutines (0 uses every CPU)")
	maxEvals := fs.Int("max-evals", 0, "Stop after this many fitness evaluations")
	timeLimit := fs.Duration("time-limit", 0, "Stop after this much wall time")
	candidates := fs.Int("candidates", 0, "Sampling: number of candidates to draw")
	batch := fs.Int("batch", 0, "Sampling: candidates per batch")
	strategy := fs.String("strategy", "", "Sampling: random or exhaustive")
	generations := fs.Int("generations", -1, "Optimization: generation limit")
	popSize := fs.Int("popsize", 0, "Optimization: population multiplier")
	polish := fs.Bool("polish", false, "Optimization: refine the best vector with Nelder-Mead")
	seedFile := fs.String("seed-file", "", "Optimization: records file whose first triple seeds the population")
	out := fs.String("out", "", "Write discovered triples to this records file")
	xlsx := fs.String("xlsx", "", "Write discoveries and cycle battles to this workbook")
	archive := fs.Bool("archive", false, "Archive the run even when database.enabled is false")
	top := fs.Int("top", 10, "Number of discoveries to print")
	quiet := fs.Bool("quiet", false, "Do not print per-batch progress")
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	req, err := cfg.Request(mode)
	if err != nil {
		return err
	}

	if flagSet(fs, "seed") {
		req.Seed = *seed
	}
	if *workers > 0 {
		req.Workers = *workers
	}
	if *maxEvals > 0 {
		req.MaxEvaluations = *maxEvals
	}
	if *timeLimit > 0 {
		req.TimeLimit = *timeLimit
	}
	if *candidates > 0 {
		req.Sampling.Candidates = *candidates
	}
	if *batch > 0 {
		req.Sampling.BatchSize = *batch
	}
	if *strategy != "" {
		req.Sampling.Strategy = search.Strategy(*strategy)
	}
	if *generations >= 0 {
		req.Optimization.Generations = *generations
	}
	if *popSize > 0 {
		req.Optimization.PopSize = *popSize
	}
	if flagSet(fs, "polish") {
		req.Optimization.Polish = *polish
	}
	if *seedFile != "" {
		triples, err := records.ReadFile(*seedFile)
		if err != nil {
			return err
		}
		if len(triples) == 0 {
			return fmt.Errorf("%s contains no triples", *seedFile)
		}
		req.SeedTriple = &triples[0]
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if !*quiet {
		req.Progress = printProgress
	}

	var db *database.Database
	if cfg.Database.Enabled || *archive {
		db, err = database.OpenWithConfig(cfg.Database.Archive())
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runID int64
	if db != nil {
		run, err := db.CreateRun(req.Mode, req.Seed)
		if err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
		runID = run.ID
	}

	logger.Info("Search started", "mode", req.Mode, "seed", req.Seed, "workers", req.Workers, "run", runID)
	result, err := search.Run(ctx, req)
	if err != nil {
		return err
	}

	if db != nil {
		saved, err := db.SaveDiscoveries(runID, result.Discoveries)
		if err != nil {
			return fmt.Errorf("archive discoveries: %w", err)
		}
		if err := db.FinishRun(runID, result); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		logger.Info("Run archived", "run", runID, "new_triples", saved)
	}

	printResult(result, runID, *top)

	found := outputDiscoveries(result)
	if *out != "" {
		triples := make([]archetype.Triple, len(found))
		for i, d := range found {
			triples[i] = d.Triple
		}
		if err := records.WriteFile(*out, triples); err != nil {
			return err
		}
		fmt.Printf("Wrote %d triples to %s\n", len(triples), *out)
	}
	if *xlsx != "" {
		if err := writeWorkbook(*xlsx, cfg, found); err != nil {
			return err
		}
		fmt.Printf("Wrote workbook to %s\n", *xlsx)
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Warning("Search interrupted", "evaluated", result.Evaluated)
	}
	return nil
}

func printProgress(p search.Progress) bool {
	switch p.Mode {
	case search.ModeOptimization:
		fmt.Printf("gen %4d  evaluated %8d  best %10.4f  convergence %.3g\n",
			p.Step, p.Evaluated, p.BestScore, p.Convergence)
	default:
		fmt.Printf("batch %4d  evaluated %8d  discovered %6d  best %10.4f\n",
			p.Step, p.Evaluated, p.Discovered, p.BestScore)
	}
	return true
}

func printResult(r search.Result, runID int64, top int) {
	fmt.Println()
	fmt.Println("=== Search Result ===")
	fmt.Printf("Mode:        %s\n", r.Mode)
	fmt.Printf("Evaluated:   %d (%d failures)\n", r.Evaluated, r.Failures)
	if r.Mode == search.ModeOptimization {
		fmt.Printf("Generations: %d\n", r.Generations)
	}
	fmt.Printf("Discovered:  %d\n", len(r.Discoveries))
	fmt.Printf("Stopped:     %s after %s\n", r.StopReason, r.Elapsed.Round(time.Millisecond))
	if runID != 0 {
		fmt.Printf("Run:         %d\n", runID)
	}

	if r.Best != nil {
		fmt.Println()
		fmt.Printf("Best (score %.4f, rounds %v):\n", r.Best.Score, r.Best.Rounds)
		for _, b := range r.Best.Triple.Builds() {
			fmt.Printf("  %s\n", b)
		}
	}

	if top <= 0 || len(r.Discoveries) == 0 {
		return
	}
	shown := min(top, len(r.Discoveries))
	fmt.Println()
	fmt.Printf("First %d discoveries:\n", shown)
	for _, d := range r.Discoveries[:shown] {
		fmt.Printf("  %.4f  %v  %s / %s / %s\n", d.Score, d.Rounds, d.Triple.Offense, d.Triple.Balanced, d.Triple.Tank)
	}
}

// outputDiscoveries is what gets written to files. An optimization that
// accepted nothing still writes its best vector.
func outputDiscoveries(r search.Result) []search.Discovery {
	if len(r.Discoveries) == 0 && r.Best != nil {
		return []search.Discovery{*r.Best}
	}
	return r.Discoveries
}

func writeWorkbook(path string, cfg *config.Config, found []search.Discovery) error {
	ev, err := cfg.Evaluator()
	if err != nil {
		return err
	}
	var battles []export.Battle
	for i, d := range found[:min(len(found), maxExportBattles)] {
		battles = append(battles, export.CycleBattles(i+1, ev.Validator, d.Triple)...)
	}
	return export.WriteXLSX(path, found, battles)
}
