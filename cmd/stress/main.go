// SPDX-License-Identifier: MIT

// Package main implements smartqueue-stress, a load generator that fires
// concurrent synthetic requests at an admission-controlled target and
// reports admit/queue/reject counts and latency percentiles.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
)

func main() {
	target := flag.String("target", "http://localhost:8080/work", "URL to load-test")
	concurrency := flag.Int("concurrency", 20, "number of concurrent workers")
	requests := flag.Int("requests", 2000, "total number of requests to send")
	ratePerSec := flag.Float64("rate", 200, "target requests per second, paced by a token bucket")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	historyDB := flag.String("history-db", "", "path to a Badger database recording this run's summary (disabled if empty)")
	compare := flag.Bool("compare", false, "print the previous run from -history-db alongside this run's summary")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := RunConfig{
		Target:      *target,
		Concurrency: *concurrency,
		Requests:    *requests,
		RatePerSec:  *ratePerSec,
		Timeout:     *timeout,
	}

	fmt.Printf("smartqueue-stress: target=%s concurrency=%d requests=%d rate=%.0f/s\n",
		cfg.Target, cfg.Concurrency, cfg.Requests, cfg.RatePerSec)

	var history *History
	var previous []RunSummary
	if *historyDB != "" {
		var err error
		history, err = OpenHistory(*historyDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "smartqueue-stress: failed to open history db: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = history.Close() }()

		if *compare {
			previous, err = history.Recent(1)
			if err != nil {
				fmt.Fprintf(os.Stderr, "smartqueue-stress: failed to read history: %v\n", err)
			}
		}
	}

	started := time.Now()
	summary := runLoad(ctx, cfg)
	summary.ID = uuid.NewString()
	summary.StartedAt = started
	summary.DurationSeconds = time.Since(started).Seconds()

	printSummary("this run", summary)
	if len(previous) > 0 {
		printSummary("previous run", previous[0])
	}

	if history != nil {
		if err := history.Save(summary); err != nil {
			fmt.Fprintf(os.Stderr, "smartqueue-stress: failed to save run to history: %v\n", err)
		}
	}

	if summary.Errors > 0 {
		os.Exit(1)
	}
}

func printSummary(label string, s RunSummary) {
	fmt.Printf("\n[%s] %s\n", label, s.StartedAt.Format(time.RFC3339))
	fmt.Printf("  requests=%d admitted=%d queued=%d rejected=%d timed_out=%d errors=%d\n",
		s.Requests, s.Admitted, s.Queued, s.Rejected, s.TimedOut, s.Errors)
	fmt.Printf("  latency p50=%.1fms p95=%.1fms p99=%.1fms  duration=%.1fs\n",
		s.P50Millis, s.P95Millis, s.P99Millis, s.DurationSeconds)
}
