package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Proton-105/gemini-clone-bot/internal/access"
	"github.com/Proton-105/gemini-clone-bot/internal/ai"
	"github.com/Proton-105/gemini-clone-bot/internal/bot"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/handlers"
	"github.com/Proton-105/gemini-clone-bot/internal/bot/keyboard"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	apperrors "github.com/Proton-105/gemini-clone-bot/internal/errors"
	"github.com/Proton-105/gemini-clone-bot/internal/health"
	"github.com/Proton-105/gemini-clone-bot/internal/idempotency"
	"github.com/Proton-105/gemini-clone-bot/internal/jobs"
	"github.com/Proton-105/gemini-clone-bot/internal/lifecycle"
	"github.com/Proton-105/gemini-clone-bot/internal/middleware"
	"github.com/Proton-105/gemini-clone-bot/internal/ratelimit"
	"github.com/Proton-105/gemini-clone-bot/internal/state"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
	"github.com/Proton-105/gemini-clone-bot/pkg/graceful"
	"github.com/Proton-105/gemini-clone-bot/pkg/logger"
	"github.com/Proton-105/gemini-clone-bot/pkg/metrics"
)

const (
	stateTTL             = 24 * time.Hour
	stateCleanupInterval = time.Hour
	idempotencyCleanup   = time.Hour
)

var (
	autoMigrate bool
	withWorker  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the primary bot, every active clone and the health server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		return a.serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply migrations before starting")
	serveCmd.Flags().BoolVar(&withWorker, "with-worker", true, "process background jobs in this process")
}

func (a *app) serve(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	if autoMigrate {
		if err := a.migrate(ctx); err != nil {
			a.close()
			return err
		}
	}

	gemini, err := ai.NewGeminiClient(ctx, cfg.Gemini, log)
	if err != nil {
		a.close()
		return err
	}

	rules := ratelimit.NewRules(cfg.RateLimit)
	memLimiter := ratelimit.NewMemoryLimiter()
	guard := ratelimit.NewGuard(
		ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(a.redis, log), memLimiter, log),
		rules,
		log,
	)
	config.Watch(a.viper, log, func(next *config.Config) {
		rules.Update(next.RateLimit)
	})

	policy := access.NewPolicy(cfg.Bot.OwnerID, a.users, log)
	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	engine := bot.NewEngine(bot.EngineDeps{
		Config:      *cfg,
		Log:         log,
		Redis:       a.redis.Client,
		Users:       a.users,
		Members:     a.botStats,
		Policy:      policy,
		Idempotency: idempotency.NewManager(idempotency.NewRedisStore(a.redis), log),
		RateLimit:   guard,
		Errors:      errHandler,
		Messages:    a.messages,
	})

	supervisor := clone.NewSupervisor(engine, a.registry, a.directory, log, clone.Options{
		InitialBackoff:     cfg.Clone.InitialBackoff,
		MaxBackoff:         cfg.Clone.MaxBackoff,
		MaxFailures:        cfg.Clone.MaxFailures,
		HealthyAfter:       cfg.Clone.HealthyAfter,
		StopTimeout:        cfg.Clone.StopTimeout,
		RestoreConcurrency: cfg.Clone.RestoreConcurrency,
	})
	clones := clone.NewService(a.registry, supervisor, log, cfg.Clone.PendingTTL)

	queue := jobs.NewManager(a.asynqOpt(), log)
	a.shutdown.Register(lifecycle.PhaseStorage, "jobs_client", func(context.Context) error { return queue.Close() })

	engine.Mount(handlers.New(handlers.Deps{
		Users:      a.users,
		Points:     a.points,
		Referral:   a.referral,
		Memory:     a.memory,
		AI:         gemini,
		Clones:     clones,
		Notifier:   a.directory,
		Stats:      a.botStats,
		Broadcasts: queue,
		Policy:     policy,
		Keyboard:   keyboard.NewBuilder(log),
		I18n:       a.messages,
		Log:        log,
	}))

	primary, err := engine.NewPrimary(ctx)
	if err != nil {
		_ = a.stop()
		return err
	}
	log.Info("primary bot authenticated",
		slog.Int64("bot_id", primary.Info().BotID),
		slog.String("username", primary.Bot().Me.Username),
		slog.String("mode", cfg.Bot.Mode),
	)

	checker := health.NewChecker(log, 0)
	checker.AddCheck("postgres", health.NewDBChecker(a.db))
	checker.AddCheck("redis", health.NewRedisChecker(a.redis))
	checker.AddCheck("telegram", health.NewTelegramChecker(primary.Bot()))
	checker.AddCheck("clones", supervisor)
	probes := lifecycle.NewProbes(checker, log)

	mux := http.NewServeMux()
	probes.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	httpServer := graceful.NewServer(log, &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           logger.Middleware(middleware.HTTPLogging(log)(mux)),
		ReadHeaderTimeout: 5 * time.Second,
	}, cfg.Server.ShutdownTimeout)

	if withWorker {
		if err := a.startJobs(true); err != nil {
			_ = a.stop()
			return err
		}
	}

	a.shutdown.Register(lifecycle.PhaseIntake, "readiness", func(context.Context) error {
		probes.MarkDraining()
		return nil
	})
	a.shutdown.Register(lifecycle.PhaseWorkers, "clones", clones.Shutdown)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.ListenAndServe(gctx) })
	g.Go(func() error {
		err := primary.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		started, err := clones.Restore(gctx)
		if err != nil {
			log.Error("clone restore incomplete", slog.Int("started", started), slog.Any("error", err))
		}
		probes.MarkReady()
		return nil
	})
	g.Go(func() error {
		state.NewCleaner(a.redis.Client, log, stateTTL, stateCleanupInterval).Run(gctx)
		return nil
	})
	g.Go(func() error {
		idempotency.NewCleaner(a.redis, log, idempotencyCleanup, middleware.UpdateTTL).Run(gctx)
		return nil
	})
	g.Go(func() error {
		ratelimit.NewCleaner(a.redis, memLimiter, log, cfg.RateLimit.CleanupInterval, rules.MaxWindow()).Run(gctx)
		return nil
	})
	g.Go(func() error {
		metrics.NewStateCollector(primary.FSM()).Run(gctx)
		return nil
	})

	runErr := g.Wait()
	if runErr != nil {
		log.Error("bot stopped", slog.Any("error", runErr))
	}

	return errors.Join(runErr, a.stop())
}
