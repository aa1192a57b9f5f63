// Package health provides HTTP health and readiness check handlers.
//
// The package exposes three endpoints:
//
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//   - /health  — detailed status: engine lifecycle state, model identity,
//     and build metadata. Returns 503 until the engine is ready.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "engine").
	// It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// BuildInfo carries the version metadata stamped into the binary at link
// time. Zero values render as "unknown".
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// EngineStatus is a snapshot of the transcription engine lifecycle for the
// detailed /health response.
type EngineStatus struct {
	// Engine is the configured engine name ("whisper", "openai", ...).
	Engine string

	// Model identifies the model within the engine, if configured.
	Model string

	// State is the loader state: "unloaded", "loading", "ready", "failed".
	State string

	// Err is the terminal load error message, if State is "failed".
	Err string
}

// Ready reports whether the engine can serve transcriptions.
func (s EngineStatus) Ready() bool { return s.State == "ready" }

// result is the JSON response body for the probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// detail is the JSON response body for the /health endpoint.
type detail struct {
	Status     string `json:"status"`
	ModelReady bool   `json:"model_ready"`
	Engine     string `json:"engine,omitempty"`
	Model      string `json:"model,omitempty"`
	Error      string `json:"error,omitempty"`
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	BuildDate  string `json:"build_date"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list and build info are fixed at construction time, the engine
// status is sampled per request.
type Handler struct {
	build    BuildInfo
	engine   func() EngineStatus // nil means "no engine configured"
	checkers []Checker
}

// New creates a [Handler]. engine supplies the live engine snapshot for
// /health and may be nil. The checkers are evaluated sequentially on each
// /readyz request, in the order provided.
func New(build BuildInfo, engine func() EngineStatus, checkers ...Checker) *Handler {
	if build.Version == "" {
		build.Version = "unknown"
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.BuildDate == "" {
		build.BuildDate = "unknown"
	}
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{build: build, engine: engine, checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Health is the detailed status endpoint: engine lifecycle, model identity,
// and build metadata. It returns 503 while the engine is loading or after a
// failed load, so a load balancer can hold traffic until the model is up.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	d := detail{
		Status:    "ok",
		Version:   h.build.Version,
		Commit:    h.build.Commit,
		BuildDate: h.build.BuildDate,
	}

	status := http.StatusOK
	if h.engine != nil {
		es := h.engine()
		d.Engine = es.Engine
		d.Model = es.Model
		d.ModelReady = es.Ready()
		if !d.ModelReady {
			status = http.StatusServiceUnavailable
			d.Status = es.State
			d.Error = es.Err
		}
	}

	writeJSON(w, status, d)
}

// Register adds the /health, /healthz, and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
