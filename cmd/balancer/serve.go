package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/lawnchairsociety/rpsbalance/internal/archetype"
	"github.com/lawnchairsociety/rpsbalance/internal/database"
	"github.com/lawnchairsociety/rpsbalance/internal/logger"
	"github.com/lawnchairsociety/rpsbalance/internal/records"
	"github.com/lawnchairsociety/rpsbalance/internal/server"
)

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	c := registerCommon(fs)
	listen := fs.String("listen", "", "Listen address (overrides websocket.listen)")
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.WebSocket.Listen = *listen
	}

	var archive server.Archive
	if cfg.Database.Enabled {
		db, err := database.OpenWithConfig(cfg.Database.Archive())
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer db.Close()
		archive = db
		logger.Info("Archiving runs", "driver", db.Dialect().DriverName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(cfg, archive)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func runRuns(args []string) error {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	c := registerCommon(fs)
	limit := fs.Int("limit", 20, "Number of runs to list (0 lists all)")
	best := fs.Int("best", 0, "Also print the N best archived triples")
	fs.Parse(args)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	db, err := database.OpenWithConfig(cfg.Database.Archive())
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer db.Close()

	runs, err := db.ListRuns(*limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSEED\tSTARTED\tEVALUATED\tFAILURES\tBEST\tSTOP")
	for _, r := range runs {
		bestScore := "-"
		if r.BestScore != nil {
			bestScore = fmt.Sprintf("%.4f", *r.BestScore)
		}
		stopReason := r.StopReason
		if r.FinishedAt == nil {
			stopReason = "(running)"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Mode, r.Seed, r.StartedAt.Format("2006-01-02 15:04:05"),
			r.Evaluated, r.Failures, bestScore, stopReason)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if *best <= 0 {
		return nil
	}
	stored, err := db.BestTriples(*best)
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Printf("# %d best archived triples\n", len(stored))
	for i, s := range stored {
		if i > 0 {
			fmt.Println()
		}
		fmt.Printf("# run %d, score %.4f, rounds %v\n", s.RunID, s.Score, s.Rounds)
		if err := records.Write(os.Stdout, []archetype.Triple{s.Triple}); err != nil {
			return err
		}
	}
	return nil
}
