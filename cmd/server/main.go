package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/config"
	"retailpos/backend/internal/httpapi"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/realtime"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/store/memory"
	pgstore "retailpos/backend/internal/store/postgres"
	"retailpos/backend/internal/worker"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	log := logger.With("main")

	if err := validateSecurityConfig(cfg); err != nil {
		log.WithError(err).Fatal("invalid security configuration")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if err := pg.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("schema migration failed")
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	var (
		cacheStore cache.Cache
		broker     realtime.Broker
	)
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("redis unavailable, using in-process cache and broker")
			_ = client.Close()
		} else {
			cacheStore = cache.NewRedisCache(client, "retailpos:")
			broker = realtime.NewRedisBroker(client)
			closers = append(closers, client.Close)
			log.Info("cache and broker: redis")
		}
	}
	if cacheStore == nil {
		local := cache.NewTTLMap()
		go local.RunPurger(runCtx, time.Minute)
		cacheStore = local
		broker = realtime.NewLocalBroker(0)
		log.Info("cache and broker: in-process")
	}

	svc := service.New(repo, cacheStore, broker, service.Options{
		MainRecordID:       cfg.MainRecordID,
		DefaultCustomerID:  cfg.DefaultCustomerID,
		VariantCacheTTL:    cfg.VariantCacheTTL(),
		CartTTL:            cfg.CartTTL(),
		CancelledRetention: cfg.CancelledRetention(),
		ShippedAutoDeliver: cfg.ShippedAutoDeliver(),
		CompanyName:        cfg.CompanyName,
		LogoURL:            cfg.LogoURL,
	})

	sweeper := worker.NewOrderSweeper(svc, broker, cfg.SweepInterval())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		sweeper.Run(runCtx)
	}()

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		LoginRate:     cfg.LoginRateLimit,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	server.RegisterOnShutdown(api.Close)

	go func() {
		log.WithField("addr", cfg.Address()).Info("retail POS backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	stopRun()
	<-sweeperDone

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.MainRecordID == "" {
		return fmt.Errorf("MAIN_RECORD_ID must not be empty")
	}
	return nil
}
