package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-capacity-engine/internal/api"
	"github.com/hackgods/clinic-capacity-engine/internal/appointment"
	"github.com/hackgods/clinic-capacity-engine/internal/capacity"
	"github.com/hackgods/clinic-capacity-engine/internal/config"
	"github.com/hackgods/clinic-capacity-engine/internal/conflict"
	"github.com/hackgods/clinic-capacity-engine/internal/db"
	"github.com/hackgods/clinic-capacity-engine/internal/distribution"
	"github.com/hackgods/clinic-capacity-engine/internal/logging"
	"github.com/hackgods/clinic-capacity-engine/internal/matcher"
	"github.com/hackgods/clinic-capacity-engine/internal/priority"
	redisclient "github.com/hackgods/clinic-capacity-engine/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.New("info", "prod", "api-server")
		boot.Fatal().Err(err).Msg("config load error")
	}

	log := logging.New(cfg.LogLevel, cfg.Env, "api-server")
	log.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Str("timezone", cfg.TimeZone).Msg("api-server starting up")

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

	if cfg.AutoMigrate {
		n, err := db.Migrate(rootCtx, pgPool)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
		log.Info().Int("applied", n).Msg("migrations applied")
	}

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

	handler := newHandler(cfg, pgPool, rdb, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutting down api-server")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
	log.Info().Msg("api-server stopped")
}

func newHandler(cfg config.Config, pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) http.Handler {
	repo := capacity.NewPgRepository(pool)
	events := redisclient.NewPublisher(rdb)
	locker := redisclient.NewRedisLocker(rdb, cfg.LockTTL)
	holidays := redisclient.NewHolidayCache(rdb, repo, cfg.HolidayCacheTTL, log)

	queue := priority.NewQueueService(repo, events, log)

	return api.NewRouter(api.RouterConfig{
		Matcher:      matcher.NewService(repo, queue, cfg, log),
		Queue:        queue,
		Priorities:   priority.NewService(repo, events, log),
		Conflicts:    conflict.NewService(repo, events, cfg.Location(), log),
		Batches:      distribution.NewService(repo, holidays, locker, log),
		Appointments: appointment.NewService(repo, log),
		Health: api.NewHealthHandler(
			func(ctx context.Context) error { return pool.Ping(ctx) },
			func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			cfg.Env, version,
		),
		Log:                log,
		MinutesPerPosition: cfg.QueueMinutesPerPosition,
	})
}
