package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/viper"

	"github.com/Proton-105/gemini-clone-bot/internal/bot"
	"github.com/Proton-105/gemini-clone-bot/internal/clone"
	"github.com/Proton-105/gemini-clone-bot/internal/database"
	"github.com/Proton-105/gemini-clone-bot/internal/i18n"
	"github.com/Proton-105/gemini-clone-bot/internal/lifecycle"
	"github.com/Proton-105/gemini-clone-bot/internal/memory"
	"github.com/Proton-105/gemini-clone-bot/internal/points"
	"github.com/Proton-105/gemini-clone-bot/internal/referral"
	"github.com/Proton-105/gemini-clone-bot/internal/repository"
	"github.com/Proton-105/gemini-clone-bot/internal/user"
	"github.com/Proton-105/gemini-clone-bot/internal/usercache"
	"github.com/Proton-105/gemini-clone-bot/pkg/config"
	"github.com/Proton-105/gemini-clone-bot/pkg/logger"
	appredis "github.com/Proton-105/gemini-clone-bot/pkg/redis"
)

const (
	userCacheTTL  = 5 * time.Minute
	ownerLockTTL  = time.Minute
	shutdownLimit = 45 * time.Second
)

// app holds the infrastructure and services shared by the serve and worker commands.
type app struct {
	cfg      *config.Config
	viper    *viper.Viper
	log      *slog.Logger
	db       *sql.DB
	redis    *appredis.Client
	messages *i18n.Manager
	shutdown *lifecycle.Shutdown

	userRepo  repository.UserRepository
	cloneRepo *repository.CloneRepository
	botStats  *repository.BotStatsRepository
	users     *user.Service
	points    *points.Service
	referral  *referral.Service
	memory    *memory.Service
	registry  *clone.Registry
	directory *bot.Directory
}

func newApp(ctx context.Context) (*app, error) {
	cfg, v, err := config.LoadFrom(configDir)
	if err != nil {
		return nil, err
	}

	log := logger.New(*cfg)
	slog.SetDefault(log)

	flushSentry, err := logger.InitSentry(cfg.Sentry, cfg.AppEnv)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, viper: v, log: log, shutdown: lifecycle.NewShutdown(log)}
	a.shutdown.Register(lifecycle.PhaseFlush, "sentry", func(context.Context) error {
		flushSentry()
		return nil
	})

	a.db, err = database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.shutdown.Register(lifecycle.PhaseStorage, "postgres", func(context.Context) error { return a.db.Close() })

	a.redis, err = appredis.New(ctx, cfg.Redis)
	if err != nil {
		_ = a.db.Close()
		return nil, err
	}
	a.shutdown.Register(lifecycle.PhaseStorage, "redis", func(context.Context) error { return a.redis.Close() })

	a.messages, err = i18n.Load(cfg.Bot.DefaultLanguage)
	if err != nil {
		a.close()
		return nil, err
	}
	for _, lang := range a.messages.Languages() {
		if missing := a.messages.Missing(lang); len(missing) > 0 {
			log.Warn("untranslated messages", slog.String("language", lang), slog.Int("count", len(missing)))
		}
	}

	a.userRepo = repository.NewUserRepository(a.db, log)
	a.cloneRepo = repository.NewCloneRepository(a.db, log)
	a.botStats = repository.NewBotStatsRepository(a.db, log)

	a.users = user.NewService(a.userRepo, usercache.NewCache(a.redis, userCacheTTL), cfg.Bot.DefaultLanguage, cfg.Points.Daily, log)
	a.points = points.NewService(a.userRepo, a.users, cfg.Points, log)
	a.referral = referral.NewService(a.userRepo, a.users, cfg.Points.Referral, log)
	a.memory = memory.NewService(repository.NewConversationRepository(a.db, log), cfg.Gemini.HistoryLimit, log)

	a.registry = clone.NewRegistry(a.cloneRepo, bot.NewTokenProber(cfg.Clone.ProbeTimeout), log,
		clone.WithLocker(repository.NewOwnerLock(a.redis, ownerLockTTL)),
	)
	a.directory = bot.NewDirectory(cfg.Bot.Token, a.registry, a.users, a.messages, log)

	return a, nil
}

// migrate applies pending migrations from the configured directory.
func (a *app) migrate(ctx context.Context) error {
	applied, err := database.NewMigrator(a.db, a.log).ApplyDir(ctx, a.cfg.Database.MigrationsDir)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	a.log.Info("migrations applied", slog.Int("count", len(applied)))
	return nil
}

func (a *app) asynqOpt() asynq.RedisClientOpt {
	// Options already parsed once when the shared client connected.
	opt, _ := a.cfg.Redis.AsynqOpt()
	return opt
}

// stop runs the shutdown hooks within shutdownLimit.
func (a *app) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownLimit)
	defer cancel()
	return a.shutdown.Execute(ctx)
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
