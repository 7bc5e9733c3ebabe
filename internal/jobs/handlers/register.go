package handlers

import (
	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
)

// Set holds every task handler served by the worker.
type Set struct {
	Broadcast     *BroadcastHandler
	PointsReset   *PointsResetHandler
	Cleanup       *CleanupHandler
	ExpirePending *ExpirePendingHandler
}

// Register wires the non-nil handlers of s into w.
func (s Set) Register(w jobs.Worker) {
	if s.Broadcast != nil {
		w.RegisterHandler(jobs.TaskTypeBroadcast, s.Broadcast)
	}
	if s.PointsReset != nil {
		w.RegisterHandler(jobs.TaskTypePointsReset, s.PointsReset)
	}
	if s.Cleanup != nil {
		w.RegisterHandler(jobs.TaskTypeCleanupData, s.Cleanup)
	}
	if s.ExpirePending != nil {
		w.RegisterHandler(jobs.TaskTypeExpirePending, s.ExpirePending)
	}
}
