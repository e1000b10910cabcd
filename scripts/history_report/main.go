// Tool to inspect stored run history: print the medians of one metric for a
// URL across recent runs, or every metric of one run.
// Usage: go run main.go -db history.db -url https://example.com/ -metric timings.ttfb
//
//	go run main.go -db history.db -run <run id>
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/onkernel/pageperf/lib/history"
)

func main() {
	dbPath := flag.String("db", "history.db", "Path to the history database")
	pageURL := flag.String("url", "", "URL to report medians for")
	metric := flag.String("metric", "timings.ttfb", "Dotted metric path")
	limit := flag.Int("limit", 10, "Number of runs to report")
	runID := flag.String("run", "", "Print every metric of this run instead")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := history.Open(*dbPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open history: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch {
	case *runID != "":
		err = printRun(ctx, db, *runID)
	case *pageURL != "":
		err = printMedians(ctx, db, *pageURL, *metric, *limit)
	default:
		err = errors.New("one of -url or -run is required")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func printMedians(ctx context.Context, db *history.Store, pageURL, metric string, limit int) error {
	points, err := db.Medians(ctx, pageURL, metric, limit)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return fmt.Errorf("no history for %s %s", pageURL, metric)
	}
	fmt.Printf("%s %s\n", pageURL, metric)
	for _, p := range points {
		fmt.Printf("  %s  %s  %10.2f\n", p.StartedAt.Format(time.RFC3339), p.RunID, p.Median)
	}
	if len(points) > 1 {
		latest, previous := points[0].Median, points[1].Median
		if previous != 0 {
			fmt.Printf("  change vs previous run: %+.1f%%\n", (latest-previous)/previous*100)
		}
	}
	return nil
}

func printRun(ctx context.Context, db *history.Store, id string) error {
	run, err := db.Run(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("run %s started %s browser=%s connectivity=%s iterations=%d failed=%t\n",
		run.ID, run.StartedAt.Format(time.RFC3339), run.Browser, run.Connectivity, run.Iterations, run.Failed)
	sort.Slice(run.Metrics, func(i, j int) bool {
		if run.Metrics[i].URL != run.Metrics[j].URL {
			return run.Metrics[i].URL < run.Metrics[j].URL
		}
		return run.Metrics[i].Path < run.Metrics[j].Path
	})
	for _, m := range run.Metrics {
		fmt.Printf("  %s  %s  n=%d median=%.2f mean=%.2f stddev=%.2f\n", m.URL, m.Path, m.Count, m.Median, m.Mean, m.StdDev)
	}
	return nil
}
