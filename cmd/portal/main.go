package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"patient-portal/internal/config"
	"patient-portal/internal/handler"
	"patient-portal/internal/repository"
	"patient-portal/internal/routes"
	"patient-portal/internal/service"
	"patient-portal/middleware/ratelimit/application"
	"patient-portal/middleware/ratelimit/domain"
	"patient-portal/middleware/ratelimit/infra"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("portal stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	var (
		users service.UserRepo = repository.NewMemoryUser()
		posts service.PostRepo = repository.NewMemoryPost()
	)
	if cfg.StorageType == config.StorageRedis {
		rdb, err := dialRedis(ctx, cfg.Redis)
		if err != nil {
			return errors.WithMessage(err, "document store")
		}
		defer func() { _ = rdb.Close() }()
		users = repository.NewUser(rdb, cfg.RedisPrefix)
		posts = repository.NewPost(rdb, cfg.RedisPrefix)
	}

	store := infra.NewWindowStore(
		infra.WithSweepEvery(cfg.Limits.SweepEvery),
		infra.WithExpiredWindows(cfg.Limits.ExpiredWindows),
		infra.WithCleanupEvery(cfg.Limits.CleanupEvery),
	)
	store.StartJanitor(ctx)

	ctrl, err := application.NewController(store, cfg.Policies()...)
	if err != nil {
		return errors.WithMessage(err, "admission controller")
	}

	var (
		stats    infra.MultiStats
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prom, err := infra.NewPrometheusStatsStore(reg)
		if err != nil {
			return errors.WithMessage(err, "register admission metrics")
		}
		stats = append(stats, prom)
		gatherer = reg
	}
	if cfg.Stats.Enabled {
		rdb, err := dialRedis(ctx, cfg.Stats.Redis)
		if err != nil {
			return errors.WithMessage(err, "stats store")
		}
		defer func() { _ = rdb.Close() }()
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.Stats.Prefix),
			infra.WithStatsTTL(cfg.Stats.TTL),
			infra.WithStatsBucket(cfg.Stats.Bucket),
			infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
		))
	}
	var statsStore domain.StatsStore
	if len(stats) > 0 {
		statsStore = stats
	}

	var inflight *application.InFlight
	if cfg.ConcurrencyMax > 0 {
		inflight = application.NewInFlight(infra.NewSlotPool(cfg.ConcurrencyMax), cfg.ConcurrencyTimeout)
	}

	accounts := service.NewAccount(users, service.NewTokens(cfg.JwtSecret, cfg.TokenTTL), service.NewPasswords(0))
	h, err := routes.New(routes.Options{
		Handlers: routes.Handlers{
			Auth:     handler.NewAuth(accounts),
			Post:     handler.NewPost(service.NewPostService(posts)),
			Page:     handler.NewPage(cfg.StaticDir, accounts, logger.Named("page")),
			Accounts: accounts,
		},
		Admission: routes.Admission{
			Controller:          ctrl,
			Stats:               statsStore,
			KeyHeader:           cfg.Limits.KeyHeader,
			TrustXForwardedFor:  cfg.Limits.TrustXFF,
			AddRateLimitHeaders: cfg.Limits.AddHeaders,
			InFlight:            inflight,
		},
		Bindings:     routes.DefaultBindings(cfg.Limits.PostsCreateTarget),
		MaxBodyBytes: cfg.MaxBodyBytes,
		Gatherer:     gatherer,
		Logger:       logger,
	})
	if err != nil {
		return errors.WithMessage(err, "routes")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("portal listening",
		zap.String("addr", srv.Addr),
		zap.String("storage", cfg.StorageType),
		zap.String("staticDir", cfg.StaticDir),
	)
	logger.Info("admission",
		zap.Duration("window", cfg.Limits.Window),
		zap.Int("maxRequests", cfg.Limits.MaxRequests),
		zap.Int("authMaxAttempts", cfg.Limits.AuthMaxAttempts),
		zap.String("postsCreateCategory", string(cfg.Limits.PostsCreateTarget)),
		zap.Bool("trustXFF", cfg.Limits.TrustXFF),
		zap.String("keyHeader", cfg.Limits.KeyHeader),
	)
	logger.Info("rate-stats",
		zap.Bool("redis", cfg.Stats.Enabled),
		zap.Bool("metrics", cfg.MetricsEnabled),
	)
	logger.Info("concurrency",
		zap.Int("max", cfg.ConcurrencyMax),
		zap.Duration("acquireTimeout", cfg.ConcurrencyTimeout),
	)

	err = srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.WithMessage(err, "listen and serve")
	}
	return nil
}

func dialRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	err := rdb.Ping(pingCtx).Err()
	if err != nil {
		_ = rdb.Close()
		return nil, errors.WithMessagef(err, "ping redis %s", cfg.Addr)
	}
	return rdb, nil
}
