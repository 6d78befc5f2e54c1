// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/smartqueue/smartqueue/internal/api/middleware"
	"github.com/smartqueue/smartqueue/internal/config"
	"github.com/smartqueue/smartqueue/internal/dispatcher"
	"github.com/smartqueue/smartqueue/internal/queue"
)

// fixedReader is a resourceReader stub returning a constant percentage,
// letting tests drive threshold crossings without depending on the
// actual host's CPU/memory load.
type fixedReader int

func (f fixedReader) CurrentPercent() int { return int(f) }

// newTestController builds a Controller with fake probes, bypassing New
// so tests don't depend on real platform sampling.
func newTestController(ctx context.Context, cfg config.Resolved, cpuPct, memPct int) *Controller {
	c := &Controller{
		cfg:    cfg,
		cpu:    fixedReader(cpuPct),
		mem:    fixedReader(memPct),
		pool:   queue.NewPermitPool(int64(cfg.MaxConcurrentRequests)),
		wq:     queue.NewWaitQueue(cfg.MaxQueueSize),
		exempt: normalizeExempt(cfg.ExemptPaths),
	}
	c.disp = dispatcher.New(c.pool, c.wq, cfg.EnableLogs)
	c.disp.Start(ctx)
	return c
}

func slowHandler(delay time.Duration) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.WriteHeader(http.StatusOK)
	})
}

func TestController_UnderThreshold_RunsDirect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	c := newTestController(ctx, cfg, 10, 10)
	defer c.Close()

	h := c.Middleware()(slowHandler(0))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(HeaderStatus); got != "" {
		t.Fatalf("X-SmartQueue-Status = %q, want unset on direct path", got)
	}
}

func TestController_ExemptPath_BypassesEvenAtCPU99(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	c := newTestController(ctx, cfg, 99, 99)
	defer c.Close()

	h := c.Middleware()(slowHandler(0))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for exempt path", rec.Code)
	}
	if got := rec.Header().Get(HeaderStatus); got != "" {
		t.Fatalf("X-SmartQueue-Status = %q, want unset for exempt path", got)
	}
}

func TestController_OverThreshold_QueuesAndCompletes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	cfg.MaxWaitSeconds = 5
	c := newTestController(ctx, cfg, 95, 10)
	defer c.Close()

	h := c.Middleware()(slowHandler(10 * time.Millisecond))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get(HeaderStatus); got != "Queued" {
		t.Fatalf("X-SmartQueue-Status = %q, want Queued", got)
	}
}

func TestController_QueueFull_Rejects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	cfg.MaxQueueSize = 1
	cfg.MaxConcurrentRequests = 1
	cfg.MaxWaitSeconds = 0.2
	cfg.RejectStatus = 503
	c := newTestController(ctx, cfg, 95, 10)
	defer c.Close()

	// Tie up the single permit so the dispatcher cannot drain the queue,
	// letting us observe the queue filling up.
	holdRelease := make(chan struct{})
	if err := c.pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer func() {
		close(holdRelease)
		c.pool.Release()
	}()

	h := c.Middleware()(slowHandler(0))

	var wg sync.WaitGroup
	results := make([]int, 3)
	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/work", nil).WithContext(context.Background())
			h.ServeHTTP(rec, req)
			results[i] = rec.Code
		}()
		time.Sleep(20 * time.Millisecond) // let each request observe queue state before the next starts
	}
	wg.Wait()

	rejected := 0
	for _, code := range results {
		if code == cfg.RejectStatus {
			rejected++
		}
	}
	if rejected == 0 {
		t.Fatal("expected at least one rejection once the queue and permit pool are saturated")
	}
}

func TestController_QueueTimeout_Rejects(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	cfg.MaxConcurrentRequests = 1
	cfg.MaxWaitSeconds = 0.05
	// Deliberately distinct from the fixed timeout status, to prove the
	// timeout response doesn't pick up the operator-configured reject
	// status/body.
	cfg.RejectStatus = http.StatusTooManyRequests
	cfg.RejectBody = `{"error":"queue full"}`
	c := newTestController(ctx, cfg, 95, 10)

	// Saturate the one permit so the queued request cannot be dispatched
	// before its deadline.
	if err := c.pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	h := c.Middleware()(slowHandler(0))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d (fixed timeout status, independent of rejectStatus=%d)", rec.Code, http.StatusServiceUnavailable, cfg.RejectStatus)
	}
	if body := rec.Body.String(); !strings.Contains(body, "Request timed out while waiting in queue") {
		t.Fatalf("body = %q, want it to contain the documented timeout message", body)
	}
	if got := rec.Header().Get(HeaderStatus); got != "Queued" {
		t.Fatalf("X-SmartQueue-Status = %q, want Queued (set at enqueue, left untouched by the timeout)", got)
	}

	c.pool.Release()
	c.Close()
}

func TestController_MemoryMonitoringDisabled_IgnoresMemory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	cfg.UseMemoryMonitoring = false
	c := newTestController(ctx, cfg, 10, 99) // memory over threshold, but disabled
	defer c.Close()

	h := c.Middleware()(slowHandler(0))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (memory pressure should be ignored)", rec.Code)
	}
	if got := rec.Header().Get(HeaderStatus); got != "" {
		t.Fatalf("X-SmartQueue-Status = %q, want unset (direct path)", got)
	}
}

func TestController_HandlerPanic_SurfacesToOuterRecoverer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Defaults()
	cfg.MaxConcurrentRequests = 1
	cfg.MaxWaitSeconds = 2
	c := newTestController(ctx, cfg, 95, 10)
	defer c.Close()

	panicking := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	// next.ServeHTTP runs on the dispatcher's goroutine, which recovers the
	// panic and resolves the completion as failed; runQueued then re-panics
	// on the goroutine actually serving the request so that an outer
	// Recoverer, sitting above Middleware in the real server's chain, is
	// the one that turns it into a response.
	h := middleware.Recoverer(c.Middleware()(panicking))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/work", nil)
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d (outer Recoverer's response)", rec.Code, http.StatusInternalServerError)
	}
	if body := rec.Body.String(); !strings.Contains(body, "Internal server error") {
		t.Fatalf("body = %q, want outer Recoverer's JSON body", body)
	}

	// The permit must have been released despite the panic, so a second
	// request is still admitted (not wedged behind a leaked permit).
	if c.pool.Max() != 1 {
		t.Fatalf("Max() = %d, want 1", c.pool.Max())
	}

	h2 := c.Middleware()(slowHandler(0))
	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/work2", nil)
	h2.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("second request status = %d, want 200 (permit pool must not be wedged)", rec2.Code)
	}
}
