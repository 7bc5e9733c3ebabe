package lifecycle

import "context"

// Phase orders shutdown hooks. Lower phases run first; hooks of one phase run concurrently.
type Phase int

const (
	// PhaseIntake stops accepting new work: HTTP, webhooks, primary polling.
	PhaseIntake Phase = iota
	// PhaseWorkers stops clone listeners and background jobs.
	PhaseWorkers
	// PhaseFlush flushes telemetry.
	PhaseFlush
	// PhaseStorage closes database and Redis connections.
	PhaseStorage
)

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
