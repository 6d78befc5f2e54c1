// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RunConfig parameterizes a single stress run.
type RunConfig struct {
	Target      string
	Concurrency int
	Requests    int
	RatePerSec  float64
	Timeout     time.Duration
}

type outcome struct {
	kind    string
	latency time.Duration
}

// client issues the synthetic load. A *http.Client is reused across workers;
// Transport pooling is what makes high concurrency affordable here.
var client = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 256,
	},
}

// runLoad fires cfg.Requests GET requests at cfg.Target across cfg.Concurrency
// workers, paced by a shared token bucket, and classifies each response by
// the admission controller's X-SmartQueue-Status header and status code.
func runLoad(ctx context.Context, cfg RunConfig) RunSummary {
	limiter := rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec)))

	jobs := make(chan struct{}, cfg.Requests)
	for i := 0; i < cfg.Requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	results := make(chan outcome, cfg.Requests)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				if err := limiter.Wait(ctx); err != nil {
					results <- outcome{kind: "error"}
					continue
				}
				results <- fire(ctx, cfg)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := RunSummary{
		Target:      cfg.Target,
		Concurrency: cfg.Concurrency,
		RatePerSec:  cfg.RatePerSec,
	}
	var latencies []float64

	for r := range results {
		summary.Requests++
		switch r.kind {
		case "admitted":
			summary.Admitted++
		case "queued":
			summary.Queued++
		case "rejected":
			summary.Rejected++
		case "timeout":
			summary.TimedOut++
		default:
			summary.Errors++
		}
		if r.latency > 0 {
			latencies = append(latencies, float64(r.latency.Milliseconds()))
		}
	}

	sort.Float64s(latencies)
	summary.P50Millis = percentile(latencies, 0.50)
	summary.P95Millis = percentile(latencies, 0.95)
	summary.P99Millis = percentile(latencies, 0.99)

	return summary
}

func fire(ctx context.Context, cfg RunConfig) outcome {
	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.Target, nil)
	if err != nil {
		return outcome{kind: "error"}
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return outcome{kind: "error", latency: latency}
	}
	defer func() { _ = resp.Body.Close() }()

	// X-SmartQueue-Status is set to "Queued" the moment a request enters
	// the wait queue and is left untouched whether it then completes or
	// times out, so its presence alongside a non-200 status is exactly
	// a wait-deadline rejection; its absence alongside a non-200 status
	// is a queue-full rejection (the admission controller never queued
	// the request at all).
	status := resp.Header.Get("X-SmartQueue-Status")
	switch {
	case status == "Queued" && resp.StatusCode == http.StatusOK:
		return outcome{kind: "queued", latency: latency}
	case status == "Queued":
		return outcome{kind: "timeout", latency: latency}
	case status == "" && resp.StatusCode == http.StatusOK:
		return outcome{kind: "admitted", latency: latency}
	case status == "":
		return outcome{kind: "rejected", latency: latency}
	default:
		return outcome{kind: "error", latency: latency}
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
