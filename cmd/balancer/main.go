// balancer searches for archetype stat triples that form a balanced
// rock-paper-scissors cycle.
//
// Usage:
//
//	balancer [command] [options]
//
// Commands:
//
//	battle    - Resolve one battle and print its health trajectory
//	cycle     - Check whether triples form a dominance cycle
//	fitness   - Print the fitness breakdown of triples
//	sample    - Sample integer triples in parallel
//	optimize  - Minimize the fitness score with differential evolution
//	serve     - Serve searches over WebSocket
//	runs      - List archived search runs
//	remote    - Run a search on a balancer server and follow its progress
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/config"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
	"github.com/lawnchairsociety/rpsbalance/internal/records"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "battle":
		err = runBattle(os.Args[2:])
	case "cycle":
		err = runCycle(os.Args[2:])
	case "fitness":
		err = runFitness(os.Args[2:])
	case "sample":
		err = runSearch("sampling", os.Args[2:])
	case "optimize":
		err = runSearch("optimization", os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "runs":
		err = runRuns(os.Args[2:])
	case "remote":
		err = runRemote(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Archetype Balance Search

Searches for Offense / Balanced / Tank stat triples where Offense beats Tank,
Tank beats Balanced and Balanced beats Offense, each within a round window.

Usage: balancer <command> [options]

Commands:
  battle    Resolve one battle and print its health trajectory
  cycle     Check whether triples form a dominance cycle
  fitness   Print the fitness breakdown of triples
  sample    Sample integer triples in parallel
  optimize  Minimize the fitness score with differential evolution
  serve     Serve searches over WebSocket
  runs      List archived search runs
  remote    Run a search on a balancer server and follow its progress

Examples:
  balancer battle -a "Offense(ATK: 6, DEF: 1, REV: 1, HP: 16)" -b "Tank(ATK: 1, DEF: 3, REV: 3, HP: 23)"
  balancer cycle -file data/triples.txt
  balancer sample -candidates 200000 -out data/found.txt
  balancer optimize -seed-file data/triples.txt -generations 200 -xlsx out/best.xlsx
  balancer serve -listen :8080
  balancer runs -limit 10 -best 5
  balancer remote -url ws://localhost:8080/ws -mode sampling -candidates 50000

Use "balancer <command> -h" for more information about a command.`)
}

// common holds the flags every command accepts.
type common struct {
	configPath  *string
	loggingPath *string
}

func registerCommon(fs *flag.FlagSet) common {
	return common{
		configPath:  fs.String("config", "data/balancer.yaml", "Path to balancer config YAML file"),
		loggingPath: fs.String("logging", "data/logging.yaml", "Path to logging config YAML file"),
	}
}

// load initializes logging and reads the balancer config.
func (c common) load() (*config.Config, error) {
	logConfig, err := logger.LoadConfig(*c.loggingPath)
	if err != nil {
		return nil, fmt.Errorf("logging config: %w", err)
	}
	if err := logger.Initialize(logConfig); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}

	cfg, err := config.LoadConfig(*c.configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// tripleFlags selects triples either from a records file or from three
// build strings.
type tripleFlags struct {
	file     *string
	offense  *string
	balanced *string
	tank     *string
}

func registerTriple(fs *flag.FlagSet) tripleFlags {
	return tripleFlags{
		file:     fs.String("file", "", "Records file with one or more triples"),
		offense:  fs.String("offense", "", `Offense build, e.g. "Offense(ATK: 6, DEF: 1, REV: 1, HP: 16)"`),
		balanced: fs.String("balanced", "", "Balanced build"),
		tank:     fs.String("tank", "", "Tank build"),
	}
}

func (f tripleFlags) triples() ([]archetype.Triple, error) {
	if *f.file != "" {
		triples, err := records.ReadFile(*f.file)
		if err != nil {
			return nil, err
		}
		if len(triples) == 0 {
			return nil, fmt.Errorf("%s contains no triples", *f.file)
		}
		return triples, nil
	}

	if *f.offense == "" || *f.balanced == "" || *f.tank == "" {
		return nil, errors.New("either -file or all of -offense, -balanced and -tank are required")
	}
	var t archetype.Triple
	for _, b := range []struct {
		src string
		dst *archetype.Build
	}{{*f.offense, &t.Offense}, {*f.balanced, &t.Balanced}, {*f.tank, &t.Tank}} {
		build, err := records.ParseBuild(b.src)
		if err != nil {
			return nil, err
		}
		*b.dst = build
	}
	return []archetype.Triple{t}, nil
}

// flagSet reports whether name was given on the command line.
func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
