// Package health serves the gateway's liveness and readiness probes.
//
// /healthz answers 200 for any process able to serve HTTP. /readyz runs the
// registered checks (workspace writability, provider availability and so on)
// and answers 503 when one fails, reporting per-check status, error and
// duration so an operator can see which dependency is dragging.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const (
	statusOK   = "ok"
	statusFail = "fail"

	serviceName = "llm-gateway"

	// defaultCheckTimeout bounds a single readiness check.
	defaultCheckTimeout = 5 * time.Second
)

// Checker probes one gateway dependency.
type Checker struct {
	// Name keys the check in the /readyz report ("workspace", "providers").
	Name string

	// Check returns nil while the dependency can serve traffic. It must
	// honour ctx, which carries the per-check deadline.
	Check func(ctx context.Context) error
}

// CheckResult is one entry in the /readyz report.
type CheckResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// report is the response body for both probes.
type report struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Checks  map[string]CheckResult `json:"checks,omitempty"`
}

// Handler answers the probe endpoints. Safe for concurrent use; the checker
// list is fixed at construction.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New builds a Handler over the given checkers, evaluated in order on every
// /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		timeout:  defaultCheckTimeout,
	}
}

// Healthz reports liveness: 200 whenever the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, http.StatusOK, report{Status: statusOK, Service: serviceName})
}

// Readyz reports readiness: 200 when every check passes, 503 otherwise. Each
// check runs under its own deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{
		Status:  statusOK,
		Service: serviceName,
		Checks:  make(map[string]CheckResult, len(h.checkers)),
	}
	code := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := time.Now()
		err := c.Check(ctx)
		cancel()

		cr := CheckResult{Status: statusOK, DurationMS: time.Since(start).Milliseconds()}
		if err != nil {
			cr.Status = statusFail
			cr.Error = err.Error()
			rep.Status = statusFail
			code = http.StatusServiceUnavailable
		}
		rep.Checks[c.Name] = cr
	}

	writeReport(w, code, rep)
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeReport(w http.ResponseWriter, code int, rep report) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
	}
}
