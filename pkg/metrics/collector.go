package metrics

import (
	"context"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Proton-105/gemini-clone-bot/internal/state"
)

var (
	botCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of bot commands received labeled by command and status",
		},
		[]string{"command", "status"},
	)
	commandDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Duration of bot commands in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "state_transitions_total",
			Help: "Total number of state transitions",
		},
		[]string{"from", "to"},
	)
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_total",
			Help: "Total number of errors split by type and severity",
		},
		[]string{"type", "severity"},
	)
	activeUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_users",
			Help: "Current number of users with an unfinished dialog",
		},
	)
	clonesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clones_running",
			Help: "Number of clone bots currently polling",
		},
	)
	cloneStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clone_starts_total",
			Help: "Clone listener starts labeled by outcome",
		},
		[]string{"outcome"},
	)
	cloneRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clone_restarts_total",
			Help: "Clone listener restarts after a transient failure",
		},
	)
	cloneRevocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clone_revocations_total",
			Help: "Clone registrations revoked labeled by reason",
		},
		[]string{"reason"},
	)
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Generative model requests labeled by kind and status",
		},
		[]string{"kind", "status"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Generative model request latency",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"kind"},
	)
	pointsSpentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "points_spent_total",
			Help: "Points consumed labeled by source bucket",
		},
		[]string{"source"},
	)
	broadcastMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_messages_total",
			Help: "Broadcast deliveries labeled by status",
		},
		[]string{"status"},
	)
	updatesDedupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "updates_dedup_total",
			Help: "Update idempotency outcomes: handled, duplicate, in_progress, bypassed",
		},
		[]string{"outcome"},
	)
	usersByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "users_by_state",
			Help: "Number of users per state",
		},
		[]string{"state"},
	)
)

// RecordCommand increments command counters and records duration.
func RecordCommand(command, status string, duration time.Duration) {
	if command == "" {
		command = "unknown"
	}
	if status == "" {
		status = "unknown"
	}

	botCommandsTotal.WithLabelValues(command, status).Inc()
	commandDurationSeconds.WithLabelValues(command).Observe(duration.Seconds())
}

// RecordStateTransition tracks dialog transitions.
func RecordStateTransition(from, to state.State) {
	stateTransitionsTotal.WithLabelValues(stateLabel(from), stateLabel(to)).Inc()
}

func stateLabel(s state.State) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// RecordError increments error counters with metadata.
func RecordError(errType, severity string) {
	if errType == "" {
		errType = "unknown"
	}
	if severity == "" {
		severity = "unknown"
	}

	errorsTotal.WithLabelValues(errType, severity).Inc()
}

// SetClonesRunning updates the running clone gauge.
func SetClonesRunning(count int) {
	clonesRunning.Set(float64(count))
}

// RecordCloneStart counts a listener start attempt; outcome is "ok", "auth_failed", "retrying" or "error".
func RecordCloneStart(outcome string) {
	cloneStartsTotal.WithLabelValues(outcome).Inc()
}

// RecordCloneRestart counts a supervised restart.
func RecordCloneRestart() {
	cloneRestartsTotal.Inc()
}

// RecordCloneRevocation counts a revoked registration.
func RecordCloneRevocation(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	cloneRevocationsTotal.WithLabelValues(reason).Inc()
}

// RecordAIRequest tracks a generative model call.
func RecordAIRequest(kind, status string, duration time.Duration) {
	aiRequestsTotal.WithLabelValues(kind, status).Inc()
	aiRequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordPointSpent counts a consumed point by bucket.
func RecordPointSpent(source string) {
	pointsSpentTotal.WithLabelValues(source).Inc()
}

// RecordBroadcastMessage counts a broadcast delivery attempt.
func RecordBroadcastMessage(status string) {
	broadcastMessagesTotal.WithLabelValues(status).Inc()
}

// SetActiveUsers updates the gauge for current active users.
func SetActiveUsers(count int) {
	activeUsers.Set(float64(count))
}

// StateCollector periodically gathers FSM state counts and emits gauge metrics.
type StateCollector struct {
	fsm      state.StateMachine
	interval time.Duration
}

// NewStateCollector builds a metrics collector bound to the primary bot FSM.
func NewStateCollector(fsm state.StateMachine) *StateCollector {
	return &StateCollector{fsm: fsm, interval: 10 * time.Second}
}

// Run refreshes the dialog gauges every interval until ctx is done.
func (c *StateCollector) Run(ctx context.Context) {
	if c == nil || c.fsm == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		_ = c.collect(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *StateCollector) collect(ctx context.Context) error {
	counts, err := c.fsm.Census(ctx)
	if err != nil {
		return err
	}

	total := 0
	usersByState.Reset()
	for _, known := range state.Known {
		usersByState.WithLabelValues(string(known)).Set(float64(counts[known]))
	}
	for s, n := range counts {
		total += n
		if !slices.Contains(state.Known, s) {
			usersByState.WithLabelValues(stateLabel(s)).Add(float64(n))
		}
	}
	SetActiveUsers(total)
	return nil
}

// RecordUpdateDedup counts one idempotency decision for an update.
func RecordUpdateDedup(outcome string) {
	updatesDedupTotal.WithLabelValues(outcome).Inc()
}
