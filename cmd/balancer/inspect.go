package main

import (
	"flag"
	"fmt"
	"math/rand/v2"

	"github.com/lawnchairsociety/rpsbalance/internal/cycle"
	"github.com/lawnchairsociety/rpsbalance/internal/fitness"
	"github.com/lawnchairsociety/rpsbalance/internal/records"
)

const seedUsage = "Seed for speed tie-breaks (0 breaks ties toward the first combatant)"

// seededEvaluator returns ev with a seeded tie-break source, or ev itself for seed 0.
func seededEvaluator(ev *fitness.Evaluator, seed uint64) *fitness.Evaluator {
	if seed == 0 {
		return ev
	}
	return ev.WithRand(rand.New(rand.NewPCG(seed, 0)))
}

func runBattle(args []string) error {
	fs := flag.NewFlagSet("battle", flag.ExitOnError)
	c := registerCommon(fs)
	a := fs.String("a", "", "First combatant build")
	b := fs.String("b", "", "Second combatant build")
	policy := fs.String("policy", "", "Turn policy override: simultaneous or speed")
	limit := fs.Int("limit", 0, "Round limit override")
	seed := fs.Uint64("seed", 0, seedUsage)
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *policy != "" {
		cfg.Combat.Policy = *policy
	}
	if *limit > 0 {
		cfg.Combat.RoundLimit = *limit
	}
	resolver, err := cfg.Resolver()
	if err != nil {
		return err
	}
	if *seed != 0 {
		resolver = resolver.WithRand(rand.New(rand.NewPCG(*seed, 0)))
	}

	p1, err := records.ParseBuild(*a)
	if err != nil {
		return fmt.Errorf("-a: %w", err)
	}
	p2, err := records.ParseBuild(*b)
	if err != nil {
		return fmt.Errorf("-b: %w", err)
	}

	result, log := resolver.Resolve(p1, p2)

	fmt.Println("=== Battle ===")
	fmt.Println()
	fmt.Printf("A: %s\n", p1)
	fmt.Printf("B: %s\n", p2)
	fmt.Printf("Policy: %s, round limit %d\n", resolver.Policy, resolver.RoundLimit)
	fmt.Println()
	fmt.Printf("%-6s %10s %10s\n", "Round", "HP A", "HP B")
	for i, snap := range log {
		fmt.Printf("%-6d %10.2f %10.2f\n", i, snap.A, snap.B)
	}
	fmt.Println()
	fmt.Println(result)

	toA, toB := log.AverageDamage()
	fmt.Printf("Average damage per entry: A took %.2f, B took %.2f\n", toA, toB)
	return nil
}

func runCycle(args []string) error {
	fs := flag.NewFlagSet("cycle", flag.ExitOnError)
	c := registerCommon(fs)
	tf := registerTriple(fs)
	seed := fs.Uint64("seed", 0, seedUsage)
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	ev, err := cfg.Evaluator()
	if err != nil {
		return err
	}
	ev = seededEvaluator(ev, *seed)
	triples, err := tf.triples()
	if err != nil {
		return err
	}

	for i, t := range triples {
		rep := ev.Validator.Validate(t.Offense, t.Balanced, t.Tank)
		fmt.Printf("=== Triple %d ===\n", i+1)
		for _, b := range t.Builds() {
			fmt.Println(b)
		}
		for j, label := range cycle.MatchupNames {
			winner := rep.Winners[j]
			if winner == "" {
				winner = "draw"
			}
			fmt.Printf("  %-20s %-10s %3d rounds\n", label+":", winner, rep.Rounds[j])
		}
		fmt.Printf("  cycle holds: %v, in window [%d, %d]: %v\n\n",
			rep.Directed, ev.Validator.Window.Min, ev.Validator.Window.Max, rep.InWindow)
	}
	return nil
}

func runFitness(args []string) error {
	fs := flag.NewFlagSet("fitness", flag.ExitOnError)
	c := registerCommon(fs)
	tf := registerTriple(fs)
	seed := fs.Uint64("seed", 0, seedUsage)
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	ev, err := cfg.Evaluator()
	if err != nil {
		return err
	}
	ev = seededEvaluator(ev, *seed)
	triples, err := tf.triples()
	if err != nil {
		return err
	}

	fmt.Printf("%-7s %10s %10s %10s %10s %10s  %s\n", "Triple", "Range", "Cycle", "Rounds", "Ordering", "Total", "Rounds O>T/T>B/B>O")
	for i, t := range triples {
		bd := ev.Breakdown(t.Offense, t.Balanced, t.Tank)
		r := bd.Report.Rounds
		fmt.Printf("%-7d %10.3f %10.3f %10.3f %10.3f %10.3f  %d/%d/%d\n",
			i+1, bd.Range, bd.Cycle, bd.Rounds, bd.Ordering, bd.Total(), r[0], r[1], r[2])
	}
	return nil
}
