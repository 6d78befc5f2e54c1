// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartqueue/smartqueue/internal/admission"
	"github.com/smartqueue/smartqueue/internal/audit"
	"github.com/smartqueue/smartqueue/internal/config"
)

// server bundles the demo's handler dependencies.
type server struct {
	controller  *admission.Controller
	auditStore  *audit.Store
	holder      *config.Holder
	configPath  string
	defaultWait time.Duration
	openapiDoc  map[string]any
}

func (s *server) routes(r chi.Router) {
	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/swagger", s.handleSwagger)
	r.Get("/work", s.handleWork)
	r.Get("/cpu", s.handleCPU)
	r.Get("/memory", s.handleMemory)
	r.Get("/admin/decisions", s.handleDecisions)
	r.Get("/admin/config", s.handleGetConfig)
	r.Post("/admin/config", s.handlePutConfig)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *server) handleSwagger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(mustJSON(s.openapiDoc))
}

// handleWork is the synthetic slow handler the admission controller
// guards. Its sleep duration defaults to s.defaultWait and can be
// overridden per-request with ?wait= (seconds), bound the way an
// oapi-codegen-generated server binds an optional query parameter
// instead of hand-rolled strconv.ParseFloat.
func (s *server) handleWork(w http.ResponseWriter, r *http.Request) {
	wait := s.defaultWait

	var override *float64
	if err := runtime.BindQueryParameter("form", true, false, "wait", r.URL.Query(), &override); err == nil && override != nil {
		wait = time.Duration(*override * float64(time.Second))
	}

	time.Sleep(wait)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"handled"}`))
}

func (s *server) handleCPU(w http.ResponseWriter, r *http.Request) {
	cpuPct, _ := s.controller.ResourceSnapshot()
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(mustJSON(map[string]any{"cpu_percent": cpuPct}))
}

func (s *server) handleMemory(w http.ResponseWriter, r *http.Request) {
	_, memPct := s.controller.ResourceSnapshot()
	body := map[string]any{"memory_percent": memPct}

	if detail, ok := s.controller.MemoryDetail(); ok {
		body["total_mb"] = detail.TotalMB
		body["used_mb"] = detail.UsedMB
		body["available_mb"] = detail.AvailableMB
		body["heap_mb"] = detail.HeapMB
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(mustJSON(body))
}

func (s *server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	n := 50
	if raw := r.URL.Query().Get("n"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			n = parsed
		}
	}

	decisions, err := s.auditStore.Recent(r.Context(), n)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write(mustJSON(map[string]any{"error": err.Error()}))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(mustJSON(map[string]any{
		"decisions":    decisions,
		"queue_depth":  s.controller.QueueDepth(),
		"permit_limit": s.controller.PermitCapacity(),
	}))
}

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(mustJSON(s.holder.Get()))
}

// handlePutConfig replaces the live-reloadable configuration. maxQueueSize
// and maxConcurrentRequests in the request body are accepted but have no
// effect: the running permit pool and wait queue keep their
// construction-time capacity, matching Controller.UpdateConfig.
//
// When the demo was started with -config, the new configuration is
// persisted atomically to that file; the existing fsnotify watch then
// reloads and applies it exactly as an operator hand-editing the file
// would. Without -config, the change is applied to the in-memory
// controller directly and does not survive a restart.
func (s *server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var next config.Resolved
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(mustJSON(map[string]any{"error": err.Error()}))
		return
	}
	if err := config.Validate(next); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write(mustJSON(map[string]any{"error": err.Error()}))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if s.configPath != "" {
		if err := config.Save(s.configPath, next); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write(mustJSON(map[string]any{"error": err.Error()}))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write(mustJSON(map[string]any{"status": "saved, reloading via config watch"}))
		return
	}

	s.controller.UpdateConfig(next)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(mustJSON(map[string]any{"status": "applied in-memory"}))
}
