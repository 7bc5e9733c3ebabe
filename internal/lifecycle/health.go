package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/Proton-105/gemini-clone-bot/internal/health"
)

// ErrNotReady is reported until MarkReady is called or after MarkDraining.
var ErrNotReady = errors.New("service is not ready")

// HealthChecker exposes liveness and readiness probes.
type HealthChecker interface {
	Liveness(ctx context.Context) error
	Readiness(ctx context.Context) error
}

// Probes answers liveness from process state and readiness from dependency checks.
type Probes struct {
	checker *health.Checker
	ready   atomic.Bool
	log     *slog.Logger
}

var _ HealthChecker = (*Probes)(nil)

// NewProbes creates probes backed by checker. They report not ready until MarkReady.
func NewProbes(checker *health.Checker, log *slog.Logger) *Probes {
	if log == nil {
		log = slog.Default()
	}
	return &Probes{checker: checker, log: log}
}

// MarkReady flips readiness on once startup (migrations, clone restore) finished.
func (p *Probes) MarkReady() {
	p.ready.Store(true)
	p.log.Info("service ready")
}

// MarkDraining flips readiness off so load balancers stop routing during shutdown.
func (p *Probes) MarkDraining() {
	p.ready.Store(false)
}

// Liveness reports success while the process can serve HTTP.
func (p *Probes) Liveness(context.Context) error {
	return nil
}

// Readiness fails before MarkReady and whenever a dependency check fails.
func (p *Probes) Readiness(ctx context.Context) error {
	if !p.ready.Load() {
		return ErrNotReady
	}
	if p.checker == nil {
		return nil
	}
	report := p.checker.Check(ctx)
	if !report.Healthy {
		return fmt.Errorf("unhealthy: %s", strings.Join(report.Failed(), ", "))
	}
	return nil
}

// Register mounts /healthz and /readyz on mux.
func (p *Probes) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeProbe(w, p.Liveness(r.Context()), nil)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		var report *health.Report
		if p.ready.Load() && p.checker != nil {
			rep := p.checker.Check(r.Context())
			report = &rep
			if !rep.Healthy {
				writeProbe(w, fmt.Errorf("unhealthy: %s", strings.Join(rep.Failed(), ", ")), report)
				return
			}
		}
		writeProbe(w, p.readyState(), report)
	})
}

func (p *Probes) readyState() error {
	if !p.ready.Load() {
		return ErrNotReady
	}
	return nil
}

func writeProbe(w http.ResponseWriter, err error, report *health.Report) {
	body := map[string]any{"status": "ok"}
	status := http.StatusOK
	if err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "unavailable"
		body["error"] = err.Error()
	}
	if report != nil {
		body["components"] = report.Components
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
