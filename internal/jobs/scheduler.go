package jobs

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Proton-105/gemini-clone-bot/pkg/config"
)

type Scheduler interface {
	RegisterTasks() error
	Start() error
	Shutdown()
}

type scheduler struct {
	asynqScheduler *asynq.Scheduler
	cfg            config.JobsConfig
	pendingTTL     time.Duration
	log            *slog.Logger
}

// NewScheduler registers periodic tasks on the crons of cfg. pendingTTL is the
// age after which unfinished clone registrations expire.
func NewScheduler(redisOpt asynq.RedisConnOpt, cfg config.JobsConfig, pendingTTL time.Duration, loc *time.Location, log *slog.Logger) Scheduler {
	if log == nil {
		log = slog.Default()
	}

	return &scheduler{
		asynqScheduler: asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
			Location: loc,
			Logger:   newAsynqLogger(log),
		}),
		cfg:        cfg,
		pendingTTL: pendingTTL,
		log:        log.With(slog.String("component", "jobs_scheduler")),
	}
}

func (s *scheduler) RegisterTasks() error {
	if s.cfg.PointsResetCron != "" {
		if err := s.register(s.cfg.PointsResetCron, NewPointsResetTask()); err != nil {
			return err
		}
	}

	if s.cfg.CleanupCron == "" {
		return nil
	}

	cleanup, err := NewCleanupDataTask(s.cfg.ConversationRetention)
	if err != nil {
		return err
	}
	if err := s.register(s.cfg.CleanupCron, cleanup); err != nil {
		return err
	}

	if s.pendingTTL > 0 {
		expire, err := NewExpirePendingTask(s.pendingTTL)
		if err != nil {
			return err
		}
		if err := s.register(s.cfg.CleanupCron, expire); err != nil {
			return err
		}
	}
	return nil
}

func (s *scheduler) register(spec string, task *asynq.Task) error {
	id, err := s.asynqScheduler.Register(spec, task)
	if err != nil {
		return fmt.Errorf("register %s on %q: %w", task.Type(), spec, err)
	}
	s.log.Info("registered periodic task",
		slog.String("task_type", task.Type()),
		slog.String("cron", spec),
		slog.String("entry_id", id),
	)
	return nil
}

func (s *scheduler) Start() error {
	s.log.Info("starting")
	return s.asynqScheduler.Start()
}

func (s *scheduler) Shutdown() {
	s.log.Info("shutting down")
	s.asynqScheduler.Shutdown()
}
