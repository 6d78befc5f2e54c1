// SPDX-License-Identifier: MIT

// Package admission implements the HTTP middleware admission controller:
// requests are dispatched directly while CPU/memory usage is under
// threshold, queued with a bounded wait when it isn't, and rejected once
// the wait queue is full or a queued request's deadline fires first.
package admission

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"

	"github.com/smartqueue/smartqueue/internal/config"
	"github.com/smartqueue/smartqueue/internal/dispatcher"
	"github.com/smartqueue/smartqueue/internal/log"
	"github.com/smartqueue/smartqueue/internal/metrics"
	"github.com/smartqueue/smartqueue/internal/probe"
	"github.com/smartqueue/smartqueue/internal/queue"
)

// foldCaser performs locale-proof case folding for exempt-path matching.
// cases.Fold (unlike strings.ToLower) normalizes the full Unicode case-fold
// equivalence classes, so matching doesn't depend on the host's locale.
var foldCaser = cases.Fold()

// Sentinel decision reasons, used as RecordReject labels.
const (
	reasonQueueFull = "queue_full"
	reasonTimeout   = "timeout"

	// HeaderStatus reports the admission decision back to the caller.
	// It is only ever "Queued" (set when a request enters the wait
	// queue, win or lose) — there is no "Rejected" value: a queue-full
	// rejection carries no X-SmartQueue-Status header at all, and a
	// wait-timeout rejection leaves the "Queued" header already written.
	HeaderStatus = "X-SmartQueue-Status"

	// timeoutStatus and timeoutBody are fixed: a wait-timeout rejection
	// always reports these, regardless of the operator-configured
	// rejectStatus/rejectBody (which apply only to queue-full rejections).
	timeoutStatus = http.StatusServiceUnavailable
	timeoutBody   = `{"error":"Request timed out while waiting in queue"}`
)

// resourceReader is the minimal probe surface the controller's admission
// decision depends on. probe.CPU and probe.Memory both satisfy it; tests
// substitute fakes to drive threshold crossings deterministically.
type resourceReader interface {
	CurrentPercent() int
}

// Recorder observes admission decisions after the fact. Record is called
// synchronously on the goroutine serving the request and returns nothing,
// so it cannot fail that request; internal/audit.Store is the only
// production implementation.
type Recorder interface {
	Record(ctx context.Context, path, outcome string, wait time.Duration)
}

// Controller admits, queues, or rejects inbound requests based on
// current CPU/memory utilisation, a bounded wait queue, and a global
// permit pool bounding concurrent handler execution.
//
// cfg and exempt are guarded by mu so an operator-triggered config
// reload (see UpdateConfig) can swap thresholds, wait deadline, and
// reject response without racing in-flight requests. The queue and
// permit pool capacities are fixed at construction: resizing a
// channel-backed queue or a semaphore.Weighted without dropping
// in-flight work needs its own design, so maxQueueSize and
// maxConcurrentRequests are restart-only.
type Controller struct {
	mu  sync.RWMutex
	cfg config.Resolved

	cpu resourceReader
	mem resourceReader

	// memProbe is set only by New, never by tests constructing a bare
	// Controller{} with fake resourceReaders; MemoryDetail degrades to
	// (zero, false) when it's nil.
	memProbe *probe.Memory

	pool *queue.PermitPool
	wq   *queue.WaitQueue
	disp *dispatcher.Dispatcher

	exempt []string

	recorder Recorder
}

// Option configures optional Controller behaviour at construction.
type Option func(*Controller)

// WithRecorder attaches a Recorder that observes every admission
// decision (direct, queued, failed, rejected). Recording happens after the
// decision is made, on the request's goroutine, so a slow Recorder delays
// the response.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// New constructs a Controller from cfg and starts its background
// probes and dispatcher. Callers must call Close at shutdown.
func New(ctx context.Context, cfg config.Resolved, opts ...Option) *Controller {
	cpuProbe := probe.NewCPU(cfg.EnableLogs)
	memProbe := probe.NewMemory(cfg.EnableLogs)

	c := &Controller{
		cfg:      cfg,
		cpu:      cpuProbe,
		mem:      memProbe,
		memProbe: memProbe,
		pool:     queue.NewPermitPool(int64(cfg.MaxConcurrentRequests)),
		wq:     queue.NewWaitQueue(cfg.MaxQueueSize),
		exempt: normalizeExempt(cfg.ExemptPaths),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.disp = dispatcher.New(c.pool, c.wq, cfg.EnableLogs)

	cpuProbe.Start(ctx)
	if cfg.UseMemoryMonitoring {
		memProbe.Start(ctx)
	}
	c.disp.Start(ctx)

	return c
}

// UpdateConfig swaps in a freshly loaded configuration. Only the fields
// that don't determine a fixed-size resource's capacity take effect
// immediately; maxQueueSize and maxConcurrentRequests in cfg are ignored
// here (the running pool/queue keep their original capacity) and a
// warning is logged if they differ from the live values, so an operator
// editing those two fields knows a restart is required.
func (c *Controller) UpdateConfig(cfg config.Resolved) {
	c.mu.Lock()
	prev := c.cfg
	cfg.MaxQueueSize = prev.MaxQueueSize
	cfg.MaxConcurrentRequests = prev.MaxConcurrentRequests
	c.cfg = cfg
	c.exempt = normalizeExempt(cfg.ExemptPaths)
	c.mu.Unlock()

	if prev.CPUThreshold != cfg.CPUThreshold || prev.MemoryThreshold != cfg.MemoryThreshold {
		log.WithComponent("admission").Info().
			Int("cpu_threshold", cfg.CPUThreshold).
			Int("memory_threshold", cfg.MemoryThreshold).
			Msg("admission thresholds reloaded")
	}
}

// snapshot returns a consistent copy of the live-reloadable config and
// exempt list for a single request's decision.
func (c *Controller) snapshot() (config.Resolved, []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.exempt
}

// Close stops accepting new queue entries and waits for the dispatcher
// loop to drain the wait queue and exit. Handlers the dispatcher has
// already launched are not waited for. Probes stop on their own when the
// context passed to New is cancelled.
func (c *Controller) Close() {
	c.wq.Close()
	c.disp.Wait()
}

// ResourceSnapshot returns the last-published CPU and memory percentages
// the controller's admission decisions are currently based on, for
// diagnostic endpoints.
func (c *Controller) ResourceSnapshot() (cpuPercent, memPercent int) {
	return c.cpu.CurrentPercent(), c.mem.CurrentPercent()
}

// MemoryDetail returns the last-published memory snapshot in whole MiB,
// for diagnostic endpoints that want more than a percentage. ok is false
// if the controller was built without a real memory probe (e.g. in tests).
func (c *Controller) MemoryDetail() (detail probe.MemoryDetail, ok bool) {
	if c.memProbe == nil {
		return probe.MemoryDetail{}, false
	}
	return c.memProbe.DetailMB(), true
}

// QueueDepth returns the current number of requests waiting on the
// admission queue.
func (c *Controller) QueueDepth() int {
	return c.wq.TryReserve()
}

// PermitCapacity returns the configured concurrent-execution permit
// capacity.
func (c *Controller) PermitCapacity() int64 {
	return c.pool.Max()
}

func normalizeExempt(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = foldCaser.String(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// isExempt reports whether path should bypass admission control
// entirely: no probe read, no permit, no queue slot consumed. Matching
// is a case-insensitive substring check against the configured exempt
// list — "cpu" must exempt "/cpu", "/admin/decisions?cpu=1", etc., not
// just paths starting with "cpu".
func (c *Controller) isExempt(path string, exempt []string) bool {
	folded := foldCaser.String(path)
	for _, p := range exempt {
		if strings.Contains(folded, p) {
			return true
		}
	}
	return false
}

// overThreshold reports whether current resource usage requires queueing.
func (c *Controller) overThreshold(cfg config.Resolved) bool {
	if c.cpu.CurrentPercent() >= cfg.CPUThreshold {
		return true
	}
	if cfg.UseMemoryMonitoring && c.mem.CurrentPercent() >= cfg.MemoryThreshold {
		return true
	}
	return false
}

// Middleware returns the admission control middleware. It wraps next so
// that exempt requests pass straight through, under-threshold requests
// run immediately under a permit, and over-threshold requests queue
// (subject to maxQueueSize and maxWaitSeconds) before running. Every
// request takes a single consistent snapshot of the live-reloadable
// config up front, so a concurrent UpdateConfig can't apply half its
// effect to one decision.
func (c *Controller) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg, exempt := c.snapshot()

			if c.isExempt(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}

			if !c.overThreshold(cfg) {
				c.runDirect(w, r, next, cfg)
				return
			}

			c.runQueued(w, r, next, cfg)
		})
	}
}

// runDirect executes next immediately under a permit. It never enters
// the wait queue: if the permit pool is saturated, Acquire blocks on ctx
// until a permit frees up, and a cancelled ctx rejects the request.
func (c *Controller) runDirect(w http.ResponseWriter, r *http.Request, next http.Handler, cfg config.Resolved) {
	ctx := r.Context()
	if err := c.pool.Acquire(ctx); err != nil {
		c.reject(w, r, reasonQueueFull, cfg, 0)
		return
	}
	defer c.pool.Release()

	metrics.RecordDirect()
	logDecision(ctx, "direct", r.URL.Path)
	if c.recorder != nil {
		c.recorder.Record(ctx, r.URL.Path, "direct", 0)
	}
	next.ServeHTTP(w, r)
}

// runQueued admits the request onto the wait queue, subject to
// maxQueueSize, and blocks the calling goroutine (the one serving this
// HTTP request) until the dispatcher runs it or the wait deadline fires.
func (c *Controller) runQueued(w http.ResponseWriter, r *http.Request, next http.Handler, cfg config.Resolved) {
	ctx := r.Context()

	if c.wq.TryReserve() >= cfg.MaxQueueSize {
		c.reject(w, r, reasonQueueFull, cfg, 0)
		return
	}

	var item *queue.WorkItem
	item = queue.NewWorkItem(func() {
		defer func() {
			if rec := recover(); rec != nil {
				item.Completion.Resolve(queue.StateFailed, fmt.Errorf("admission: recovered panic: %v", rec))
			}
		}()
		// Per the dispatcher's contract, Run executes even if the
		// completion already settled as StateTimedOut: the downstream
		// handler still consumes a permit and runs to completion, but
		// any response it writes lands on a ResponseWriter the timeout
		// path may have already written to. Resolve is then a no-op.
		next.ServeHTTP(w, r)
		item.Completion.Resolve(queue.StateDone, nil)
	})

	// The header is set before Enqueue: once enqueued, the dispatcher may
	// run next and write the response headers at any moment.
	w.Header().Set(HeaderStatus, "Queued")
	if err := c.wq.Enqueue(item); err != nil {
		w.Header().Del(HeaderStatus)
		c.reject(w, r, reasonQueueFull, cfg, 0)
		return
	}
	metrics.RecordQueued()
	logDecision(ctx, "queued", r.URL.Path)

	deadline := time.Duration(cfg.MaxWaitSeconds * float64(time.Second))
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-item.Completion.Done():
		wait := time.Since(item.EnqueuedAt)
		state, err := item.Completion.Result()
		if state == queue.StateFailed {
			if cfg.EnableLogs {
				log.WithComponent("admission").Warn().Err(err).Str("path", r.URL.Path).Msg("queued handler failed")
			}
			if c.recorder != nil {
				c.recorder.Record(ctx, r.URL.Path, "failed", wait)
			}
			// next.ServeHTTP panicked on the dispatcher's goroutine and
			// wrote nothing to w. Re-panic here, on the goroutine
			// actually serving this request, so an outer Recoverer sees
			// it and writes its standard error response — the same
			// path a panic takes on the direct (runDirect) route.
			panic(err)
		}
		if c.recorder != nil {
			c.recorder.Record(ctx, r.URL.Path, "queued", wait)
		}

	case <-timer.C:
		if item.Completion.Resolve(queue.StateTimedOut, nil) {
			wait := time.Since(item.EnqueuedAt)
			metrics.ObserveQueueWait(wait.Seconds())
			metrics.RecordReject(reasonTimeout)
			logDecision(ctx, "rejected:"+reasonTimeout, r.URL.Path)
			if c.recorder != nil {
				c.recorder.Record(ctx, r.URL.Path, "rejected:"+reasonTimeout, wait)
			}
			// Fixed status and body regardless of rejectStatus/rejectBody;
			// the Queued header set at enqueue time is left as-is.
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(timeoutStatus)
			_, _ = w.Write([]byte(timeoutBody))
		}
		// Resolve returning false means the dispatcher already settled
		// StateDone in the race window between the timer firing and
		// this goroutine observing it; the response is already written.

	case <-ctx.Done():
		item.Completion.Resolve(queue.StateTimedOut, ctx.Err())
	}
}

// reject rejects a request that never entered the wait queue (queue
// already full, or the permit pool's Acquire was cancelled). It carries
// no X-SmartQueue-Status header — only a queued-then-timed-out request
// sets that header, and always to "Queued", never "Rejected".
func (c *Controller) reject(w http.ResponseWriter, r *http.Request, reason string, cfg config.Resolved, wait time.Duration) {
	metrics.RecordReject(reason)
	logDecision(r.Context(), "rejected:"+reason, r.URL.Path)
	if c.recorder != nil {
		c.recorder.Record(r.Context(), r.URL.Path, "rejected:"+reason, wait)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(cfg.RejectStatus)
	_, _ = w.Write([]byte(cfg.RejectBody))
}

func logDecision(ctx context.Context, decision, path string) {
	log.DecisionLog(ctx, decision, map[string]any{
		log.FieldPath: path,
	})
}
