package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/config"
	"github.com/hackgods/clinic-capacity-engine/internal/conflict"
	"github.com/hackgods/clinic-capacity-engine/internal/db"
	"github.com/hackgods/clinic-capacity-engine/internal/logging"
	"github.com/hackgods/clinic-capacity-engine/internal/priority"
	redisclient "github.com/hackgods/clinic-capacity-engine/internal/redis"
	"github.com/hackgods/clinic-capacity-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "prod", "conflict-worker")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.LogLevel, cfg.Env, "conflict-worker")
	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Bool("auto_fix", cfg.ConflictAutoFix).
		Msg("conflict worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, cfg.PoolOptions())
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := capacity.NewPgRepository(pgPool)
	events := redisclient.NewPublisher(rdb)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)

	sweeper := worker.NewSweeper(
		conflict.NewService(repo, events, cfg.Location(), log),
		priority.NewQueueService(repo, events, log),
		locker,
		events,
		cfg.ConflictAutoFix,
		log,
	)

	sweeper.Run(rootCtx, cfg.WorkerInterval)
}
