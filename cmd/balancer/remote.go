package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tidwall/gjson"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/client"
	"github.com/lawnchairsociety/rpsbalance/internal/records"
)

func runRemote(args []string) error {
	fs := flag.NewFlagSet("remote", flag.ExitOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "Search server WebSocket URL")
	origin := fs.String("origin", "", "Origin header to send")
	mode := fs.String("mode", "", "sampling or optimization (server default when empty)")
	seed := fs.Uint64("seed", 0, "Random seed")
	candidates := fs.Int("candidates", 0, "Sampling: number of candidates")
	generations := fs.Int("generations", -1, "Optimization: generation limit")
	timeLimit := fs.String("time-limit", "", `Wall time limit, e.g. "30s"`)
	seedFile := fs.String("seed-file", "", "Records file whose first triple seeds the population")
	fs.Parse(args)

	payload := map[string]any{"type": "search"}
	if *mode != "" {
		payload["mode"] = *mode
	}
	if flagSet(fs, "seed") {
		payload["seed"] = *seed
	}
	if *candidates > 0 {
		payload["candidates"] = *candidates
	}
	if *generations >= 0 {
		payload["generations"] = *generations
	}
	if *timeLimit != "" {
		payload["time_limit"] = *timeLimit
	}
	if *seedFile != "" {
		triples, err := records.ReadFile(*seedFile)
		if err != nil {
			return err
		}
		if len(triples) == 0 {
			return fmt.Errorf("%s contains no triples", *seedFile)
		}
		payload["seed_triple"] = client.TripleJSON(triples[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	header := http.Header{}
	if *origin != "" {
		header.Set("Origin", *origin)
	}
	c, err := client.Dial(ctx, *url, header)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.Search(ctx, payload, func(p gjson.Result) {
		fmt.Printf("step %4d  evaluated %8d  discovered %6d  best %s\n",
			p.Get("step").Int(), p.Get("evaluated").Int(), p.Get("discovered").Int(), scoreText(p.Get("best_score")))
	})
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("=== Remote Result ===")
	fmt.Printf("Mode:       %s\n", result.Get("mode").String())
	fmt.Printf("Evaluated:  %d (%d failures)\n", result.Get("evaluated").Int(), result.Get("failures").Int())
	fmt.Printf("Discovered: %d\n", result.Get("discovered").Int())
	fmt.Printf("Stopped:    %s\n", result.Get("stop_reason").String())
	if id := result.Get("run_id"); id.Exists() {
		fmt.Printf("Run:        %d\n", id.Int())
	}
	if best := result.Get("best"); best.Exists() {
		fmt.Printf("Best (score %s, rounds %s):\n", scoreText(best.Get("score")), best.Get("rounds").Raw)
		for _, b := range best.Get("builds").Array() {
			fmt.Printf("  %s\n", archetype.Build{
				Name:    b.Get("name").String(),
				Atk:     b.Get("atk").Float(),
				Defense: b.Get("defense").Float(),
				Revenge: b.Get("revenge").Float(),
				HP:      int(b.Get("hp").Int()),
				Spd:     b.Get("spd").Float(),
			})
		}
	}
	return nil
}

func scoreText(v gjson.Result) string {
	if !v.Exists() || v.Type == gjson.Null {
		return "inf"
	}
	return fmt.Sprintf("%.4f", v.Float())
}
