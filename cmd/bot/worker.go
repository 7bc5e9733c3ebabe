package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
	jobhandlers "github.com/Proton-105/gemini-clone-bot/internal/jobs/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/lifecycle"
)

var withScheduler bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process background jobs without serving bots",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		if err := a.startJobs(withScheduler); err != nil {
			_ = a.stop()
			return err
		}

		<-ctx.Done()
		a.log.Info("worker shutting down")
		return a.stop()
	},
}

func init() {
	workerCmd.Flags().BoolVar(&withScheduler, "scheduler", true, "also enqueue periodic tasks")
}

// startJobs starts the asynq worker and, optionally, the periodic scheduler.
func (a *app) startJobs(scheduler bool) error {
	w := jobs.NewWorker(a.asynqOpt(), a.cfg.Jobs.Concurrency, a.log)
	jobhandlers.Set{
		Broadcast:     jobhandlers.NewBroadcastHandler(a.directory, a.botStats, a.users, a.messages, a.redis.Client, a.cfg.Jobs, a.log),
		PointsReset:   jobhandlers.NewPointsResetHandler(a.points, a.log),
		Cleanup:       jobhandlers.NewCleanupHandler(a.memory, a.log),
		ExpirePending: jobhandlers.NewExpirePendingHandler(a.registry, a.log),
	}.Register(w)

	if err := w.Start(); err != nil {
		return err
	}
	a.shutdown.Register(lifecycle.PhaseWorkers, "jobs_worker", func(context.Context) error {
		w.Shutdown()
		return nil
	})

	if !scheduler {
		return nil
	}

	s := jobs.NewScheduler(a.asynqOpt(), a.cfg.Jobs, a.cfg.Clone.PendingTTL, a.cfg.Points.Location(), a.log)
	if err := s.RegisterTasks(); err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return err
	}
	a.shutdown.Register(lifecycle.PhaseWorkers, "jobs_scheduler", func(context.Context) error {
		s.Shutdown()
		return nil
	})
	a.log.Info("background jobs started", slog.Bool("scheduler", scheduler))
	return nil
}
